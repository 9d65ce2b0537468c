// Package anoncloud implements the AnonymousCloud handler (§4.3): a
// keyed-URL cloud storage family (legacy fragment identifiers
// `#!id!key`/`#F!id!key`) gated behind a single in-flight session and
// an explicit login/logout lifecycle.
package anoncloud

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nexusforge/modcache/internal/errs"
	"github.com/nexusforge/modcache/pkg/contentid"
	"github.com/nexusforge/modcache/pkg/progress"
	"github.com/nexusforge/modcache/pkg/provider"
)

// CloudDomain is the hostname fragment identifying this provider.
const CloudDomain = "anon-cloud"

const loginTimeout = 15 * time.Second
const minDownloadTimeout = 300 * time.Second
const timeoutBytesPerSecond = 100 * 1024

var (
	legacyFileFragmentRe   = regexp.MustCompile(`^!([^!]+)!(.+)$`)
	legacyFolderFragmentRe = regexp.MustCompile(`^F!([^!]+)!(.+)$`)
)

// Handler is the AnonymousCloud provider mechanism, enforcing a single
// in-flight session across all callers via a binary semaphore.
type Handler struct {
	client *http.Client
	sem    *semaphore.Weighted
}

// New builds an AnonymousCloud handler.
func New(client *http.Client) *Handler {
	if client == nil {
		client = http.DefaultClient
	}
	return &Handler{client: client, sem: semaphore.NewWeighted(1)}
}

func (h *Handler) ProviderKey() string { return contentid.ProviderAnonCloud }

// CanHandle matches hostnames containing the cloud domain.
func (h *Handler) CanHandle(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(u.Hostname()), CloudDomain)
}

// NormalizeLegacyURL rewrites legacy fragment-identifier URLs
// (`#!id!key` -> `/file/id#key`, `#F!id!key` -> `/folder/id#key`) into
// their modern path form; URLs without a legacy fragment pass through
// unchanged.
func NormalizeLegacyURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Fragment == "" {
		return rawURL, nil
	}

	if m := legacyFolderFragmentRe.FindStringSubmatch(u.Fragment); m != nil {
		u.Path = "/folder/" + m[1]
		u.Fragment = m[2]
		return u.String(), nil
	}
	if m := legacyFileFragmentRe.FindStringSubmatch(u.Fragment); m != nil {
		u.Path = "/file/" + m[1]
		u.Fragment = m[2]
		return u.String(), nil
	}

	return rawURL, nil
}

// nodeIDAndKey extracts the node identifier and decryption key from a
// normalized /file/<id>#<key> or /folder/<id>#<key> URL.
func nodeIDAndKey(rawURL string) (id, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", err
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 {
		return "", "", errs.InputInvalid("could not parse node id from path", nil).WithURL(rawURL)
	}
	return parts[len(parts)-1], u.Fragment, nil
}

// login acquires the single-flight slot, bounded by the 15s login
// timeout.
func (h *Handler) login(ctx context.Context) (release func(), err error) {
	loginCtx, cancel := context.WithTimeout(ctx, loginTimeout)
	defer cancel()

	if err := h.sem.Acquire(loginCtx, 1); err != nil {
		return nil, errs.Transport("could not acquire session within login timeout", err).WithProvider(h.ProviderKey())
	}
	return func() { h.sem.Release(1) }, nil
}

func downloadTimeoutFor(size int64) time.Duration {
	scaled := time.Duration(size/timeoutBytesPerSecond) * time.Second
	if scaled < minDownloadTimeout {
		return minDownloadTimeout
	}
	return scaled
}

// headInfo is the subset of a node's HEAD response the §4.3 whitelist and
// the size-scaled download timeout both need.
type headInfo struct {
	Size  int64
	MTime int64
	Hash  string
	Name  string
}

// fetchHeadInfo issues a HEAD request against normalized and extracts
// Content-Length, Last-Modified, ETag, and the Content-Disposition
// filename. A failed HEAD is not fatal to the caller — it just leaves
// headInfo zeroed, matching AnonymousCloud nodes that don't expose these
// headers.
func (h *Handler) fetchHeadInfo(ctx context.Context, normalized string) headInfo {
	var info headInfo

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, normalized, nil)
	if err != nil {
		return info
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return info
	}
	defer resp.Body.Close()

	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, perr := strconv.ParseInt(cl, 10, 64); perr == nil {
			info.Size = n
		}
	} else if resp.ContentLength > 0 {
		info.Size = resp.ContentLength
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, perr := http.ParseTime(lm); perr == nil {
			info.MTime = t.Unix()
		}
	}
	info.Hash = strings.Trim(resp.Header.Get("ETag"), `"`)
	info.Name = filenameFromContentDisposition(resp.Header.Get("Content-Disposition"))

	return info
}

func filenameFromContentDisposition(header string) string {
	re := regexp.MustCompile(`filename="?([^";]+)"?`)
	if m := re.FindStringSubmatch(header); m != nil {
		return m[1]
	}
	return ""
}

// ResolveFilenames logs in, returns the node id parsed from the
// (legacy-normalized) URL as the filename without contacting the node,
// and logs out on every exit path.
func (h *Handler) ResolveFilenames(ctx context.Context, rawURL string) ([]string, error) {
	release, err := h.login(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	normalized, err := NormalizeLegacyURL(rawURL)
	if err != nil {
		return nil, errs.InputInvalid("could not normalize URL", err).WithURL(rawURL)
	}
	id, _, err := nodeIDAndKey(normalized)
	if err != nil {
		return nil, err
	}
	return []string{id}, nil
}

// FetchMetadata reports the §4.3 whitelist fields after logging in,
// logging out on every exit path.
func (h *Handler) FetchMetadata(ctx context.Context, rawURL string) (contentid.ProviderMetadata, error) {
	release, err := h.login(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	normalized, err := NormalizeLegacyURL(rawURL)
	if err != nil {
		return nil, errs.InputInvalid("could not normalize URL", err).WithURL(rawURL)
	}
	id, _, err := nodeIDAndKey(normalized)
	if err != nil {
		return nil, err
	}

	info := h.fetchHeadInfo(ctx, normalized)
	meta := contentid.AnonCloudMetadata{
		NodeID: id,
		Hash:   info.Hash,
		Size:   info.Size,
		MTime:  info.MTime,
		Name:   info.Name,
	}
	if err := contentid.ValidateStruct(meta); err != nil {
		return nil, errs.InputInvalid("metadata validation failed", err).WithURL(rawURL).WithProvider(h.ProviderKey())
	}

	out := contentid.FlattenAnonCloud(meta)
	out["provider"] = contentid.StringValue(h.ProviderKey())
	return out, nil
}

// Download enforces single in-flight session semantics, a
// size-scaled timeout, and guaranteed logout.
func (h *Handler) Download(ctx context.Context, rawURL, destDir string, prog *progress.DownloadProgress, targetFilenames []string) (provider.DownloadResult, error) {
	release, err := h.login(ctx)
	if err != nil {
		return provider.DownloadResult{Status: provider.StatusFailed}, err
	}
	defer release()

	normalized, err := NormalizeLegacyURL(rawURL)
	if err != nil {
		e := errs.InputInvalid("could not normalize URL", err).WithURL(rawURL)
		return provider.DownloadResult{Status: provider.StatusFailed, Err: e}, e
	}
	id, _, err := nodeIDAndKey(normalized)
	if err != nil {
		return provider.DownloadResult{Status: provider.StatusFailed}, err
	}

	info := h.fetchHeadInfo(ctx, normalized)

	dlCtx, cancel := context.WithTimeout(ctx, downloadTimeoutFor(info.Size))
	defer cancel()

	getReq, err := http.NewRequestWithContext(dlCtx, http.MethodGet, normalized, nil)
	if err != nil {
		e := errs.InputInvalid("invalid URL", err).WithURL(normalized)
		return provider.DownloadResult{Status: provider.StatusFailed, Err: e}, e
	}

	resp, err := h.client.Do(getReq)
	if err != nil {
		e := errs.Transport("download request failed", err).WithURL(normalized).WithProvider(h.ProviderKey())
		return provider.DownloadResult{Status: provider.StatusFailed, Err: e}, e
	}
	defer resp.Body.Close()

	destPath := filepath.Join(destDir, id)
	out, err := os.Create(destPath)
	if err != nil {
		e := errs.Unexpected("cannot create destination file", err)
		return provider.DownloadResult{Status: provider.StatusFailed, Err: e}, e
	}
	defer out.Close()

	written, err := io.Copy(out, resp.Body)
	if err != nil {
		os.Remove(destPath)
		e := errs.Transport("download stream failed", err).WithURL(normalized).WithProvider(h.ProviderKey())
		return provider.DownloadResult{Status: provider.StatusFailed, Err: e}, e
	}
	if prog != nil {
		prog.BytesDownloaded = uint64(written)
		prog.ProgressPercentage = 100
	}

	return provider.DownloadResult{Status: provider.StatusCompleted, FilePath: destPath, BytesDownloaded: written, TotalBytes: written}, nil
}
