// Package download implements the orchestrator (§4.4): dispatch over
// the provider handler chain by first-match, a per-rate-limited-key
// concurrency cap, and containment of every handler failure (or panic)
// into a DownloadResult instead of letting it escape the pool.
package download

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/nexusforge/modcache/internal/errs"
	"github.com/nexusforge/modcache/internal/logging"
	"github.com/nexusforge/modcache/pkg/progress"
	"github.com/nexusforge/modcache/pkg/provider"
	"github.com/nexusforge/modcache/pkg/stats"
)

// rateLimitedCapacity is the shared concurrency cap for provider keys
// in the rate-limited set (§4.4).
const rateLimitedCapacity = 5

// DefaultRateLimitedKeys is the §4.4 default rate-limited provider set
// (the mesh-protected site handler).
var DefaultRateLimitedKeys = map[string]bool{"meshsite": true}

// Result pairs a URL with its handler outcome.
type Result struct {
	URL    string
	Result provider.DownloadResult
	Err    error
}

// Manager dispatches downloads across the handler chain.
type Manager struct {
	handlers        []provider.Handler
	rateLimitedKeys map[string]bool
	sem             *semaphore.Weighted
	stats           *stats.Counters
}

// WithStats attaches Counters that every DownloadAll call tallies into.
// Optional; a Manager with no attached Counters just skips the tally.
func (m *Manager) WithStats(c *stats.Counters) *Manager {
	m.stats = c
	return m
}

// NewManager builds a Manager over handlers, sharing one
// capacity-5 semaphore across every provider key in rateLimitedKeys
// (defaulting to DefaultRateLimitedKeys when nil).
func NewManager(handlers []provider.Handler, rateLimitedKeys map[string]bool) *Manager {
	if rateLimitedKeys == nil {
		rateLimitedKeys = DefaultRateLimitedKeys
	}
	return &Manager{
		handlers:        handlers,
		rateLimitedKeys: rateLimitedKeys,
		sem:             semaphore.NewWeighted(rateLimitedCapacity),
	}
}

// dispatch returns the first handler whose CanHandle matches url.
func (m *Manager) dispatch(url string) provider.Handler {
	for _, h := range m.handlers {
		if h.CanHandle(url) {
			return h
		}
	}
	return nil
}

// DownloadAll runs one download per entry in urls concurrently,
// reporting through sink and returning one Result per URL in
// unspecified order.
func (m *Manager) DownloadAll(ctx context.Context, urls map[string]*progress.DownloadProgress, destDir string, sink *progress.Reporter) []Result {
	results := make([]Result, len(urls))
	var wg sync.WaitGroup
	var mu sync.Mutex
	i := 0

	for url, prog := range urls {
		idx := i
		i++
		wg.Add(1)
		go func(url string, prog *progress.DownloadProgress) {
			defer wg.Done()
			res := m.downloadOne(ctx, url, destDir, prog, sink)
			mu.Lock()
			results[idx] = res
			mu.Unlock()
		}(url, prog)
	}

	wg.Wait()
	return results
}

func (m *Manager) downloadOne(ctx context.Context, url, destDir string, prog *progress.DownloadProgress, sink *progress.Reporter) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = m.recoverToResult(url, r, sink)
		}
	}()

	handler := m.dispatch(url)
	if handler == nil {
		e := errs.InputInvalid("no handler matched this URL", nil).WithURL(url)
		m.updateProgress(sink, url, progress.StatusFailed, e.Error())
		m.tallyFailed()
		return Result{URL: url, Result: provider.DownloadResult{Status: provider.StatusFailed, Err: e}, Err: e}
	}

	if m.rateLimitedKeys[handler.ProviderKey()] {
		if err := m.sem.Acquire(ctx, 1); err != nil {
			e := errs.Transport("cancelled while waiting for a download slot", err).WithURL(url).WithProvider(handler.ProviderKey())
			return Result{URL: url, Result: provider.DownloadResult{Status: provider.StatusFailed, Err: e}, Err: e}
		}
		defer m.sem.Release(1)
	}

	m.updateProgress(sink, url, progress.StatusInProgress, "")

	dr, err := handler.Download(ctx, url, destDir, prog, nil)
	if err != nil {
		m.updateProgress(sink, url, progress.StatusFailed, err.Error())
		m.tallyFailed()
		return Result{URL: url, Result: dr, Err: err}
	}

	switch dr.Status {
	case provider.StatusSkipped:
		m.updateSkipped(sink, url, dr)
		m.tallySkipped()
	default:
		m.updateProgress(sink, url, progress.StatusCompleted, "")
		m.tallyCompleted(dr.BytesDownloaded)
	}

	return Result{URL: url, Result: dr}
}

func (m *Manager) tallyCompleted(bytes int64) {
	if m.stats != nil {
		m.stats.IncCompleted(bytes)
	}
}

func (m *Manager) tallySkipped() {
	if m.stats != nil {
		m.stats.IncSkipped()
	}
}

func (m *Manager) tallyFailed() {
	if m.stats != nil {
		m.stats.IncFailed()
	}
}

func (m *Manager) updateProgress(sink *progress.Reporter, url string, status progress.Status, message string) {
	if sink == nil {
		return
	}
	sink.Update(url, func(p *progress.DownloadProgress) {
		p.Status = status
		p.ErrorMessage = message
	})
}

func (m *Manager) updateSkipped(sink *progress.Reporter, url string, dr provider.DownloadResult) {
	if sink == nil {
		return
	}
	sink.Update(url, func(p *progress.DownloadProgress) {
		p.Status = progress.StatusSkipped
		p.ProgressPercentage = 100
		p.BytesDownloaded = uint64(dr.BytesDownloaded)
		p.TotalBytes = uint64(dr.TotalBytes)
		p.FilePath = dr.FilePath
	})
}

// recoverToResult converts a panicking handler into a Failed result,
// capturing the panic value's type name and message (§4.4) instead of
// letting it cross the orchestrator boundary.
func (m *Manager) recoverToResult(url string, r interface{}, sink *progress.Reporter) Result {
	msg := fmt.Sprintf("handler panicked: %T: %v", r, r)
	logging.Component("download").WithField("url", url).Error(msg)

	e := errs.Unexpected(msg, nil).WithURL(url)
	m.updateProgress(sink, url, progress.StatusFailed, msg)
	m.tallyFailed()
	return Result{URL: url, Result: provider.DownloadResult{Status: provider.StatusFailed, Err: e}, Err: e}
}
