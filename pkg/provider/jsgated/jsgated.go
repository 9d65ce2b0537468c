// Package jsgated implements the JSGatedSite handler (§4.3): a site
// whose download flow is rendered entirely client-side by JavaScript
// the core cannot execute. It exists so the handler chain always has
// an honest terminal for these hosts instead of silently falling
// through to DirectHTTP and fetching an HTML shell.
package jsgated

import (
	"context"
	"net/url"
	"strings"

	"github.com/nexusforge/modcache/internal/errs"
	"github.com/nexusforge/modcache/pkg/contentid"
	"github.com/nexusforge/modcache/pkg/progress"
	"github.com/nexusforge/modcache/pkg/provider"
)

// GatedDomain is the hostname fragment identifying this provider.
const GatedDomain = "js-gated"

// Handler is the JSGatedSite provider mechanism. Every operation that
// would need to execute client-side script fails honestly rather than
// pretending success.
type Handler struct{}

// New builds a JSGatedSite handler.
func New() *Handler { return &Handler{} }

func (h *Handler) ProviderKey() string { return contentid.ProviderJSGated }

// CanHandle matches hostnames containing the JS-gated domain.
func (h *Handler) CanHandle(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(u.Hostname()), GatedDomain)
}

// ResolveFilenames always fails: the real filename is only known after
// client-side script runs.
func (h *Handler) ResolveFilenames(ctx context.Context, rawURL string) ([]string, error) {
	return nil, h.unsupported(rawURL)
}

// FetchMetadata always fails for the same reason.
func (h *Handler) FetchMetadata(ctx context.Context, rawURL string) (contentid.ProviderMetadata, error) {
	return nil, h.unsupported(rawURL)
}

// Download MUST return Failed with a human-readable explanation and
// never pretend success by fetching the gate page itself.
func (h *Handler) Download(ctx context.Context, rawURL, destDir string, prog *progress.DownloadProgress, targetFilenames []string) (provider.DownloadResult, error) {
	err := h.unsupported(rawURL)
	return provider.DownloadResult{Status: provider.StatusFailed, Err: err}, err
}

func (h *Handler) unsupported(rawURL string) *errs.Error {
	return errs.InputInvalid(
		"this site requires JavaScript to reveal its download link; download it manually in a browser",
		nil,
	).WithURL(rawURL).WithProvider(h.ProviderKey())
}
