// Package directhttp implements the DirectHTTP handler (§4.3): the
// catch-all mechanism for any absolute HTTP/HTTPS URL. It must always
// be registered last in the handler chain since every URL satisfies
// CanHandle.
package directhttp

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nexusforge/modcache/internal/errs"
	"github.com/nexusforge/modcache/pkg/contentid"
	"github.com/nexusforge/modcache/pkg/progress"
	"github.com/nexusforge/modcache/pkg/provider"
)

// Handler is the DirectHTTP provider mechanism.
type Handler struct {
	client  *http.Client
	timeout time.Duration
}

// New builds a DirectHTTP handler over client, defaulting to
// http.DefaultClient when client is nil.
func New(client *http.Client, timeout time.Duration) *Handler {
	if client == nil {
		client = http.DefaultClient
	}
	return &Handler{client: client, timeout: timeout}
}

// ProviderKey identifies this handler in ProviderMetadata and the
// rate-limited concurrency set.
func (h *Handler) ProviderKey() string { return contentid.ProviderDirectHTTP }

// CanHandle accepts any absolute http/https URL, matching its role as
// the catch-all.
func (h *Handler) CanHandle(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ResolveFilenames issues a HEAD request and reads Content-Disposition,
// falling back to the URL's path basename.
func (h *Handler) ResolveFilenames(ctx context.Context, rawURL string) ([]string, error) {
	name, err := h.resolveName(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return []string{name}, nil
}

func (h *Handler) resolveName(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return "", errs.InputInvalid("invalid URL", err).WithURL(rawURL)
	}

	resp, err := h.client.Do(req)
	if err == nil {
		defer resp.Body.Close()
		if name := filenameFromDisposition(resp.Header.Get("Content-Disposition")); name != "" {
			return name, nil
		}
	}

	return filenameFromURL(rawURL), nil
}

func filenameFromDisposition(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return params["filename"]
}

func filenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "download.bin"
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "download.bin"
	}
	return name
}

// FetchMetadata reads Content-Length, Last-Modified and ETag via HEAD
// and normalizes them into the §4.3 whitelist.
func (h *Handler) FetchMetadata(ctx context.Context, rawURL string) (contentid.ProviderMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil, errs.InputInvalid("invalid URL", err).WithURL(rawURL)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, errs.Transport("HEAD request failed", err).WithURL(rawURL).WithProvider(h.ProviderKey())
	}
	defer resp.Body.Close()

	meta := contentid.DirectHTTPMetadata{
		ContentLength: resp.ContentLength,
		LastModified:  resp.Header.Get("Last-Modified"),
		ETag:          strings.Trim(resp.Header.Get("ETag"), `"`),
		FileName:      filenameFromDisposition(resp.Header.Get("Content-Disposition")),
		URL:           rawURL,
	}
	if meta.ContentLength < 0 {
		meta.ContentLength = 0
	}
	if meta.FileName == "" {
		meta.FileName = filenameFromURL(rawURL)
	}

	if err := contentid.ValidateStruct(meta); err != nil {
		return nil, errs.InputInvalid("metadata validation failed", err).WithURL(rawURL).WithProvider(h.ProviderKey())
	}

	out := contentid.FlattenDirectHTTP(meta)
	out["provider"] = contentid.StringValue(h.ProviderKey())
	return out, nil
}

// Download streams the URL's body to destDir, reporting progress
// through prog if non-nil.
func (h *Handler) Download(ctx context.Context, rawURL, destDir string, prog *progress.DownloadProgress, targetFilenames []string) (provider.DownloadResult, error) {
	name, err := h.resolveName(ctx, rawURL)
	if err != nil {
		return provider.DownloadResult{Status: provider.StatusFailed}, err
	}
	if len(targetFilenames) > 0 && !containsGlobMatch(targetFilenames, name) {
		return provider.DownloadResult{Status: provider.StatusSkipped}, nil
	}

	destPath := filepath.Join(destDir, name)
	if st, err := os.Stat(destPath); err == nil {
		return provider.DownloadResult{Status: provider.StatusSkipped, FilePath: destPath, BytesDownloaded: st.Size(), TotalBytes: st.Size()}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return provider.DownloadResult{Status: provider.StatusFailed}, errs.InputInvalid("invalid URL", err).WithURL(rawURL)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		e := errs.Transport("download request failed", err).WithURL(rawURL).WithProvider(h.ProviderKey())
		return provider.DownloadResult{Status: provider.StatusFailed, Err: e}, e
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		e := errs.RateLimited("rate limited", retryAfter(resp.Header.Get("Retry-After")), nil).WithURL(rawURL).WithProvider(h.ProviderKey())
		return provider.DownloadResult{Status: provider.StatusFailed, Err: e}, e
	}
	if resp.StatusCode == http.StatusNotFound {
		e := errs.NotFound("file not found", nil).WithURL(rawURL).WithProvider(h.ProviderKey())
		return provider.DownloadResult{Status: provider.StatusFailed, Err: e}, e
	}
	if resp.StatusCode >= 400 {
		e := errs.Transport(fmt.Sprintf("unexpected status %d", resp.StatusCode), nil).WithURL(rawURL).WithProvider(h.ProviderKey())
		return provider.DownloadResult{Status: provider.StatusFailed, Err: e}, e
	}

	tmpPath := filepath.Join(destDir, uuid.NewString()+".part")
	out, err := os.Create(tmpPath)
	if err != nil {
		e := errs.Unexpected("cannot create temp file", err)
		return provider.DownloadResult{Status: provider.StatusFailed, Err: e}, e
	}

	total := resp.ContentLength
	var written int64
	buf := make([]byte, 32*1024)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				out.Close()
				os.Remove(tmpPath)
				e := errs.Unexpected("write failed", werr)
				return provider.DownloadResult{Status: provider.StatusFailed, Err: e}, e
			}
			written += int64(n)
			if prog != nil {
				prog.BytesDownloaded = uint64(written)
				if total > 0 {
					prog.ProgressPercentage = float64(written) / float64(total) * 100
				}
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			out.Close()
			os.Remove(tmpPath)
			e := errs.Transport("stream read failed", rerr).WithURL(rawURL).WithProvider(h.ProviderKey())
			return provider.DownloadResult{Status: provider.StatusFailed, Err: e}, e
		}
		select {
		case <-ctx.Done():
			out.Close()
			os.Remove(tmpPath)
			e := errs.Transport("download cancelled", ctx.Err()).WithURL(rawURL).WithProvider(h.ProviderKey())
			return provider.DownloadResult{Status: provider.StatusFailed, Err: e}, e
		default:
		}
	}
	out.Close()

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		e := errs.Unexpected("rename to destination failed", err)
		return provider.DownloadResult{Status: provider.StatusFailed, Err: e}, e
	}

	return provider.DownloadResult{Status: provider.StatusCompleted, FilePath: destPath, BytesDownloaded: written, TotalBytes: total}, nil
}

func retryAfter(header string) time.Duration {
	if header == "" {
		return 60 * time.Second
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 60 * time.Second
}

func containsGlobMatch(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, _ := path.Match(p, name); ok {
			return true
		}
	}
	return false
}
