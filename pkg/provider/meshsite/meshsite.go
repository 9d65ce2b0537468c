// Package meshsite implements the MeshProtectedSite handler (§4.3): a
// forum-style storage site that gates downloads behind a CSRF-tokened
// confirmation page, scraped via cookie-jar-carrying requests.
package meshsite

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/nexusforge/modcache/internal/errs"
	"github.com/nexusforge/modcache/pkg/contentid"
	"github.com/nexusforge/modcache/pkg/progress"
	"github.com/nexusforge/modcache/pkg/provider"
	"github.com/nexusforge/modcache/pkg/throttle"
)

// SiteDomain is the hostname fragment identifying this provider.
const SiteDomain = "mesh-protected"

// MaxBandwidthBps caps the download sink at 7 MB/s per §4.3.
const MaxBandwidthBps = 7 * 1024 * 1024

var (
	csrfKeyRe       = regexp.MustCompile(`csrfKey:\s*["']([^"']+)["']`)
	csrfLinkRe      = regexp.MustCompile(`csrfKey=([^&"'<>\s]+)`)
	downloadLinkRes = []*regexp.Regexp{
		regexp.MustCompile(`<a[^>]+class="[^"]*ipsButton_fullWidth[^"]*"[^>]+href="([^"]+)"`),
		regexp.MustCompile(`<a[^>]+data-action="download"[^>]+href="([^"]+)"`),
		regexp.MustCompile(`<a[^>]+href="([^"]+)"[^>]*>\s*Click here`),
	}
)

// Handler is the MeshProtectedSite provider mechanism.
type Handler struct {
	client *http.Client
}

// New builds a MeshProtectedSite handler with its own cookie jar.
func New() *Handler {
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return &Handler{client: &http.Client{Jar: jar, Timeout: 60 * time.Second}}
}

func (h *Handler) ProviderKey() string { return contentid.ProviderMeshSite }

// CanHandle matches hostnames containing the forum site's domain.
func (h *Handler) CanHandle(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(u.Hostname()), SiteDomain)
}

func (h *Handler) get(ctx context.Context, rawURL string) (*http.Response, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", errs.InputInvalid("invalid URL", err).WithURL(rawURL)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, "", errs.Transport("request failed", err).WithURL(rawURL).WithProvider(h.ProviderKey())
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return resp, "", errs.Transport("reading response failed", err).WithURL(rawURL).WithProvider(h.ProviderKey())
	}
	return resp, string(body), nil
}

// csrfKey extracts the confirmation token from a file page's HTML, via
// the inline-script regex first, then the fallback link-query regex.
func csrfKey(html string) (string, bool) {
	if m := csrfKeyRe.FindStringSubmatch(html); m != nil {
		return m[1], true
	}
	if m := csrfLinkRe.FindStringSubmatch(html); m != nil {
		return m[1], true
	}
	return "", false
}

// confirmedDownloadLink tries each of the three candidate extraction
// patterns in order against an HTML confirmation page.
func confirmedDownloadLink(html string) (string, bool) {
	for _, re := range downloadLinkRes {
		if m := re.FindStringSubmatch(html); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// downloadPageURL builds the `?do=download&csrfKey=...` URL for the
// given file page.
func downloadPageURL(rawURL, key string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("do", "download")
	q.Set("csrfKey", key)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ResolveFilenames loads the file page and returns its og:title meta
// value, falling back to the URL's path basename. It does not request the
// download itself, so no Content-Disposition header is consulted.
func (h *Handler) ResolveFilenames(ctx context.Context, rawURL string) ([]string, error) {
	_, html, err := h.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if name := filenameFromContentDispositionLikeHTML(html); name != "" {
		return []string{name}, nil
	}
	return []string{filepath.Base(rawURL)}, nil
}

func filenameFromContentDispositionLikeHTML(html string) string {
	re := regexp.MustCompile(`<meta[^>]+property="og:title"[^>]+content="([^"]+)"`)
	if m := re.FindStringSubmatch(html); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// FetchMetadata scrapes the page for the §4.3 whitelist fields.
func (h *Handler) FetchMetadata(ctx context.Context, rawURL string) (contentid.ProviderMetadata, error) {
	_, html, err := h.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	meta := contentid.MeshSiteMetadata{
		FilePageID: extractField(html, `data-fileid="(\d+)"`),
	}
	if meta.FilePageID == "" {
		meta.FilePageID = extractField(html, `/files/file/(\d+)`)
	}
	meta.ChangelogID = extractField(html, `data-changelogid="(\d+)"`)
	meta.FileID = extractField(html, `data-versionid="(\d+)"`)
	meta.Version = extractField(html, `data-version="([^"]+)"`)
	meta.Updated = extractField(html, `data-updated="(\d{4}-\d{2}-\d{2})"`)
	meta.Size = extractIntField(html, `data-filesize="(\d+)"`)

	if meta.FilePageID == "" {
		return nil, errs.ContentMismatch("could not locate file page identifier", nil).WithURL(rawURL).WithProvider(h.ProviderKey())
	}

	if err := contentid.ValidateStruct(meta); err != nil {
		return nil, errs.InputInvalid("metadata validation failed", err).WithURL(rawURL).WithProvider(h.ProviderKey())
	}

	out := contentid.FlattenMeshSite(meta)
	out["provider"] = contentid.StringValue(h.ProviderKey())
	return out, nil
}

func extractField(html, pattern string) string {
	re := regexp.MustCompile(pattern)
	if m := re.FindStringSubmatch(html); m != nil {
		return m[1]
	}
	return ""
}

// extractIntField is extractField for the numeric data-* attributes
// (currently just the file size), defaulting to 0 when absent or
// unparseable rather than failing FetchMetadata.
func extractIntField(html, pattern string) int64 {
	raw := extractField(html, pattern)
	if raw == "" {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Download performs the full confirm-then-fetch sequence: load the
// file page, extract the CSRF key, request the download-confirmation
// URL, and — if that response is itself HTML rather than the binary —
// extract one of the three confirmed-download candidates before
// streaming the real payload through a 7 MB/s throttle.
func (h *Handler) Download(ctx context.Context, rawURL, destDir string, prog *progress.DownloadProgress, targetFilenames []string) (provider.DownloadResult, error) {
	_, pageHTML, err := h.get(ctx, rawURL)
	if err != nil {
		return provider.DownloadResult{Status: provider.StatusFailed}, err
	}

	key, ok := csrfKey(pageHTML)
	if !ok {
		e := errs.ContentMismatch("could not locate CSRF token on file page", nil).WithURL(rawURL).WithProvider(h.ProviderKey())
		return provider.DownloadResult{Status: provider.StatusFailed, Err: e}, e
	}

	confirmURL, err := downloadPageURL(rawURL, key)
	if err != nil {
		e := errs.InputInvalid("could not build download URL", err).WithURL(rawURL)
		return provider.DownloadResult{Status: provider.StatusFailed, Err: e}, e
	}

	resp, fetchErr := h.fetch(ctx, confirmURL)
	if fetchErr != nil {
		return provider.DownloadResult{Status: provider.StatusFailed, Err: errAsErrs(fetchErr)}, fetchErr
	}

	if looksLikeHTML(resp) {
		html, rerr := readAndClose(resp)
		if rerr != nil {
			e := errs.Transport("reading confirmation page failed", rerr).WithURL(confirmURL).WithProvider(h.ProviderKey())
			return provider.DownloadResult{Status: provider.StatusFailed, Err: e}, e
		}
		link, ok := confirmedDownloadLink(html)
		if !ok {
			e := errs.ContentMismatch("HTML returned instead of binary and no confirmed link found", nil).WithURL(confirmURL).WithProvider(h.ProviderKey())
			return provider.DownloadResult{Status: provider.StatusFailed, Err: e}, e
		}
		if base, perr := url.Parse(confirmURL); perr == nil {
			if ref, perr := url.Parse(link); perr == nil {
				link = base.ResolveReference(ref).String()
			}
		}
		resp, fetchErr = h.fetch(ctx, link)
		if fetchErr != nil {
			return provider.DownloadResult{Status: provider.StatusFailed, Err: errAsErrs(fetchErr)}, fetchErr
		}
		if looksLikeHTML(resp) {
			_, _ = readAndClose(resp)
			e := errs.ContentMismatch("confirmed link still returned HTML", nil).WithURL(link).WithProvider(h.ProviderKey())
			return provider.DownloadResult{Status: provider.StatusFailed, Err: e}, e
		}
	}

	name := filenameFromResponse(resp, resp.Request.URL.Path)
	destPath := filepath.Join(destDir, name)

	out, err := os.Create(destPath)
	if err != nil {
		resp.Body.Close()
		e := errs.Unexpected("cannot create destination file", err)
		return provider.DownloadResult{Status: provider.StatusFailed, Err: e}, e
	}
	defer out.Close()

	// Throttle the live response body itself, not a post-hoc in-memory
	// copy — otherwise the network transfer runs unthrottled and only the
	// buffer-to-disk copy is capped.
	reader := throttle.NewReader(ctx, resp.Body, MaxBandwidthBps)
	defer reader.Close()

	written, err := io.Copy(out, reader)
	if err != nil {
		os.Remove(destPath)
		e := errs.Transport("throttled download stream failed", err).WithURL(confirmURL).WithProvider(h.ProviderKey())
		return provider.DownloadResult{Status: provider.StatusFailed, Err: e}, e
	}
	if prog != nil {
		prog.BytesDownloaded = uint64(written)
		prog.ProgressPercentage = 100
	}

	return provider.DownloadResult{Status: provider.StatusCompleted, FilePath: destPath, BytesDownloaded: written, TotalBytes: written}, nil
}

// fetch issues a GET and returns the live response without reading its
// body — callers that don't stream it themselves must close it.
func (h *Handler) fetch(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errs.InputInvalid("invalid URL", err).WithURL(rawURL)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, errs.Transport("request failed", err).WithURL(rawURL).WithProvider(h.ProviderKey())
	}
	return resp, nil
}

// readAndClose drains and closes an HTML response body.
func readAndClose(resp *http.Response) (string, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func looksLikeHTML(resp *http.Response) bool {
	ct := resp.Header.Get("Content-Type")
	return strings.Contains(strings.ToLower(ct), "text/html")
}

func filenameFromResponse(resp *http.Response, fallbackURL string) string {
	if name := filenameFromContentDisposition(resp.Header.Get("Content-Disposition")); name != "" {
		return name
	}
	return filepath.Base(fallbackURL)
}

func filenameFromContentDisposition(header string) string {
	re := regexp.MustCompile(`filename="?([^";]+)"?`)
	if m := re.FindStringSubmatch(header); m != nil {
		return m[1]
	}
	return ""
}

func errAsErrs(err error) *errs.Error {
	if e, ok := errs.As(err); ok {
		return e
	}
	return errs.Unexpected("unclassified error", err)
}
