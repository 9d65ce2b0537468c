// Package modindex implements the ModIndexAPI handler (§4.3): an
// API-key-authenticated JSON index that lists files for a mod page,
// with single-retry 429 handling and glob-based filename filtering.
package modindex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nexusforge/modcache/internal/errs"
	"github.com/nexusforge/modcache/pkg/contentid"
	"github.com/nexusforge/modcache/pkg/progress"
	"github.com/nexusforge/modcache/pkg/provider"
)

// IndexDomain is the hostname fragment identifying this provider.
const IndexDomain = "mod-index"

var allowedCategories = map[string]bool{"main": true, "update": true, "miscellaneous": true}

// indexFile is one entry of the index API's file listing.
type indexFile struct {
	FileID            string `json:"fileId"`
	FileName          string `json:"fileName"`
	Size              int64  `json:"size"`
	UploadedTimestamp int64  `json:"uploadedTimestamp"`
	MD5Hash           string `json:"md5Hash"`
	Category          string `json:"category"`
	DownloadURL       string `json:"downloadUrl"`
}

// Handler is the ModIndexAPI provider mechanism.
type Handler struct {
	client *http.Client
	apiKey string
}

// New builds a ModIndexAPI handler using apiKey when present.
func New(client *http.Client, apiKey string) *Handler {
	if client == nil {
		client = http.DefaultClient
	}
	return &Handler{client: client, apiKey: apiKey}
}

func (h *Handler) ProviderKey() string { return contentid.ProviderModIndex }

// CanHandle matches hostnames containing the index domain.
func (h *Handler) CanHandle(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(u.Hostname()), IndexDomain)
}

func (h *Handler) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, errs.Transport("request failed", err).WithURL(req.URL.String()).WithProvider(h.ProviderKey())
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		resp.Body.Close()
		wait := retryAfter(resp.Header.Get("Retry-After"))

		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, errs.Transport("cancelled while waiting on rate limit", ctx.Err()).WithProvider(h.ProviderKey())
		case <-timer.C:
		}

		retryReq := req.Clone(ctx)
		resp, err = h.client.Do(retryReq)
		if err != nil {
			return nil, errs.Transport("retry request failed", err).WithURL(req.URL.String()).WithProvider(h.ProviderKey())
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			return nil, errs.RateLimited("rate limited after retry", wait, nil).WithURL(req.URL.String()).WithProvider(h.ProviderKey())
		}
	}

	return resp, nil
}

func retryAfter(header string) time.Duration {
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 60 * time.Second
}

func (h *Handler) listFiles(ctx context.Context, rawURL string) ([]indexFile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errs.InputInvalid("invalid URL", err).WithURL(rawURL)
	}

	resp, err := h.doWithRetry(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, errs.Auth("authentication required", nil).WithURL(rawURL).WithProvider(h.ProviderKey())
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, errs.NotFound("index page not found", nil).WithURL(rawURL).WithProvider(h.ProviderKey())
	}
	if resp.StatusCode >= 400 {
		return nil, errs.Transport(fmt.Sprintf("unexpected status %d", resp.StatusCode), nil).WithURL(rawURL).WithProvider(h.ProviderKey())
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Transport("reading response failed", err).WithURL(rawURL).WithProvider(h.ProviderKey())
	}

	var files []indexFile
	if err := json.Unmarshal(body, &files); err != nil {
		return nil, errs.ContentMismatch("index response was not the expected JSON listing", err).WithURL(rawURL).WithProvider(h.ProviderKey())
	}

	filtered := files[:0]
	for _, f := range files {
		if allowedCategories[f.Category] {
			filtered = append(filtered, f)
		}
	}
	return filtered, nil
}

// ResolveFilenames lists the index's files and returns their names.
func (h *Handler) ResolveFilenames(ctx context.Context, rawURL string) ([]string, error) {
	files, err := h.listFiles(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.FileName)
	}
	return names, nil
}

// FetchMetadata reports the first allowed file's normalized fields.
func (h *Handler) FetchMetadata(ctx context.Context, rawURL string) (contentid.ProviderMetadata, error) {
	files, err := h.listFiles(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errs.NotFound("no files available at index", nil).WithURL(rawURL).WithProvider(h.ProviderKey())
	}

	f := files[0]
	meta := contentid.ModIndexMetadata{
		FileID:            f.FileID,
		FileName:          f.FileName,
		Size:              f.Size,
		UploadedTimestamp: f.UploadedTimestamp,
		MD5Hash:           f.MD5Hash,
	}
	if err := contentid.ValidateStruct(meta); err != nil {
		return nil, errs.InputInvalid("metadata validation failed", err).WithURL(rawURL).WithProvider(h.ProviderKey())
	}

	out := contentid.FlattenModIndex(meta)
	out["provider"] = contentid.StringValue(h.ProviderKey())
	return out, nil
}

// Download fetches files from the index, filtered by targetFilenames
// glob patterns when provided.
func (h *Handler) Download(ctx context.Context, rawURL, destDir string, prog *progress.DownloadProgress, targetFilenames []string) (provider.DownloadResult, error) {
	files, err := h.listFiles(ctx, rawURL)
	if err != nil {
		return provider.DownloadResult{Status: provider.StatusFailed}, err
	}

	var chosen *indexFile
	for i := range files {
		if len(targetFilenames) == 0 || matchesAny(targetFilenames, files[i].FileName) {
			chosen = &files[i]
			break
		}
	}
	if chosen == nil {
		return provider.DownloadResult{Status: provider.StatusSkipped}, nil
	}

	destPath := filepath.Join(destDir, chosen.FileName)
	if st, err := os.Stat(destPath); err == nil {
		return provider.DownloadResult{Status: provider.StatusSkipped, FilePath: destPath, BytesDownloaded: st.Size(), TotalBytes: st.Size()}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, chosen.DownloadURL, nil)
	if err != nil {
		return provider.DownloadResult{Status: provider.StatusFailed}, errs.InputInvalid("invalid download URL", err).WithURL(chosen.DownloadURL)
	}

	resp, err := h.doWithRetry(ctx, req)
	if err != nil {
		return provider.DownloadResult{Status: provider.StatusFailed, Err: errAsErrs(err)}, err
	}
	defer resp.Body.Close()

	out, err := os.Create(destPath)
	if err != nil {
		e := errs.Unexpected("cannot create destination file", err)
		return provider.DownloadResult{Status: provider.StatusFailed, Err: e}, e
	}
	defer out.Close()

	written, err := io.Copy(out, resp.Body)
	if err != nil {
		os.Remove(destPath)
		e := errs.Transport("download stream failed", err).WithURL(chosen.DownloadURL).WithProvider(h.ProviderKey())
		return provider.DownloadResult{Status: provider.StatusFailed, Err: e}, e
	}
	if prog != nil {
		prog.BytesDownloaded = uint64(written)
		prog.ProgressPercentage = 100
	}

	return provider.DownloadResult{Status: provider.StatusCompleted, FilePath: destPath, BytesDownloaded: written, TotalBytes: written}, nil
}

func matchesAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, _ := path.Match(p, name); ok {
			return true
		}
	}
	return false
}

func errAsErrs(err error) *errs.Error {
	if e, ok := errs.As(err); ok {
		return e
	}
	return errs.Unexpected("unclassified error", err)
}
