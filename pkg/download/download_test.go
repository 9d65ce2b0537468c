package download

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nexusforge/modcache/pkg/contentid"
	"github.com/nexusforge/modcache/pkg/progress"
	"github.com/nexusforge/modcache/pkg/provider"
)

type stubHandler struct {
	key        string
	match      func(string) bool
	downloadFn func(ctx context.Context, url, destDir string) (provider.DownloadResult, error)
}

func (s *stubHandler) ProviderKey() string       { return s.key }
func (s *stubHandler) CanHandle(url string) bool { return s.match(url) }
func (s *stubHandler) ResolveFilenames(ctx context.Context, url string) ([]string, error) {
	return nil, nil
}
func (s *stubHandler) FetchMetadata(ctx context.Context, url string) (contentid.ProviderMetadata, error) {
	return nil, nil
}
func (s *stubHandler) Download(ctx context.Context, url, destDir string, prog *progress.DownloadProgress, targetFilenames []string) (provider.DownloadResult, error) {
	return s.downloadFn(ctx, url, destDir)
}

func TestDownloadAllDispatchesFirstMatch(t *testing.T) {
	h1 := &stubHandler{
		key:   "a",
		match: func(u string) bool { return u == "https://a.example/x" },
		downloadFn: func(ctx context.Context, url, destDir string) (provider.DownloadResult, error) {
			return provider.DownloadResult{Status: provider.StatusCompleted, FilePath: "a"}, nil
		},
	}
	h2 := &stubHandler{
		key:   "b",
		match: func(u string) bool { return true },
		downloadFn: func(ctx context.Context, url, destDir string) (provider.DownloadResult, error) {
			return provider.DownloadResult{Status: provider.StatusCompleted, FilePath: "b"}, nil
		},
	}

	mgr := NewManager([]provider.Handler{h1, h2}, nil)
	results := mgr.DownloadAll(context.Background(), map[string]*progress.DownloadProgress{
		"https://a.example/x": {URL: "https://a.example/x"},
	}, t.TempDir(), nil)

	if len(results) != 1 || results[0].Result.FilePath != "a" {
		t.Errorf("results = %+v, want dispatch to h1", results)
	}
}

func TestDownloadAllContainsHandlerPanic(t *testing.T) {
	h := &stubHandler{
		key:   "panics",
		match: func(u string) bool { return true },
		downloadFn: func(ctx context.Context, url, destDir string) (provider.DownloadResult, error) {
			panic("boom")
		},
	}

	mgr := NewManager([]provider.Handler{h}, nil)
	results := mgr.DownloadAll(context.Background(), map[string]*progress.DownloadProgress{
		"https://x.example/y": {URL: "https://x.example/y"},
	}, t.TempDir(), nil)

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Result.Status != provider.StatusFailed {
		t.Errorf("status = %v, want Failed", results[0].Result.Status)
	}
	if results[0].Err == nil {
		t.Error("expected panic to surface as an error, not crash the test")
	}
}

func TestDownloadAllCapsRateLimitedProviderKey(t *testing.T) {
	var concurrent int32
	var maxConcurrent int32

	h := &stubHandler{
		key:   "meshsite",
		match: func(u string) bool { return true },
		downloadFn: func(ctx context.Context, url, destDir string) (provider.DownloadResult, error) {
			c := atomic.AddInt32(&concurrent, 1)
			for {
				m := atomic.LoadInt32(&maxConcurrent)
				if c <= m || atomic.CompareAndSwapInt32(&maxConcurrent, m, c) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&concurrent, -1)
			return provider.DownloadResult{Status: provider.StatusCompleted}, nil
		},
	}

	mgr := NewManager([]provider.Handler{h}, map[string]bool{"meshsite": true})
	urls := map[string]*progress.DownloadProgress{}
	for i := 0; i < 10; i++ {
		urls[string(rune('a'+i))] = &progress.DownloadProgress{}
	}

	mgr.DownloadAll(context.Background(), urls, t.TempDir(), nil)

	if maxConcurrent > rateLimitedCapacity {
		t.Errorf("max concurrent = %d, want <= %d", maxConcurrent, rateLimitedCapacity)
	}
}

func TestDownloadAllMarksSkipped(t *testing.T) {
	h := &stubHandler{
		key:   "a",
		match: func(u string) bool { return true },
		downloadFn: func(ctx context.Context, url, destDir string) (provider.DownloadResult, error) {
			return provider.DownloadResult{Status: provider.StatusSkipped, FilePath: "already-there", BytesDownloaded: 5, TotalBytes: 5}, nil
		},
	}

	sink := progress.NewReporter()
	mgr := NewManager([]provider.Handler{h}, nil)
	mgr.DownloadAll(context.Background(), map[string]*progress.DownloadProgress{
		"https://x.example/y": {URL: "https://x.example/y"},
	}, t.TempDir(), sink)

	p, ok := sink.Get("https://x.example/y")
	if !ok {
		t.Fatal("expected progress to be tracked")
	}
	if p.Status != progress.StatusSkipped || p.ProgressPercentage != 100 {
		t.Errorf("progress = %+v", p)
	}
}
