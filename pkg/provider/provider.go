// Package provider defines the common handler capability set (§4.3):
// every provider-specific fetch mechanism implements Handler, and a
// Factory assembles the fixed, ordered handler chain the orchestrator
// dispatches against by first-match.
package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/nexusforge/modcache/internal/errs"
	"github.com/nexusforge/modcache/pkg/contentid"
	"github.com/nexusforge/modcache/pkg/progress"
)

// Status mirrors the DownloadResult variants of §4.3/§4.4.
type Status string

const (
	StatusCompleted Status = "Completed"
	StatusSkipped   Status = "Skipped"
	StatusFailed    Status = "Failed"
)

// DownloadResult is the outcome of a single Handler.Download call.
type DownloadResult struct {
	Status          Status
	FilePath        string
	BytesDownloaded int64
	TotalBytes      int64
	Err             *errs.Error
}

// Handler is the polymorphic capability set every provider mechanism
// implements (§4.3).
type Handler interface {
	CanHandle(url string) bool
	ResolveFilenames(ctx context.Context, url string) ([]string, error)
	Download(ctx context.Context, url, destDir string, prog *progress.DownloadProgress, targetFilenames []string) (DownloadResult, error)
	FetchMetadata(ctx context.Context, url string) (contentid.ProviderMetadata, error)
	ProviderKey() string
}

// Options configures the shared transport the handlers are built from.
type Options struct {
	HTTPClient *http.Client
	APIKey     string
	Timeout    time.Duration
}
