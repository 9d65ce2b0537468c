package mesh

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nexusforge/modcache/internal/logging"
	"github.com/nexusforge/modcache/pkg/bencode"
	"github.com/nexusforge/modcache/pkg/cachepath"
	"github.com/nexusforge/modcache/pkg/contentid"
)

// DownloadSource labels which path produced the final result (E4).
type DownloadSource string

const (
	SourceTraditional DownloadSource = "Traditional"
	SourceOptimized   DownloadSource = "Optimized"
	SourceHybrid      DownloadSource = "Hybrid"
)

// Outcome is the minimal download result the adapter races and
// returns, deliberately decoupled from the provider handler set's
// richer result type so mesh never has to import it.
type Outcome struct {
	FilePath        string
	BytesDownloaded int64
	TotalBytes      int64
}

// TraditionalFunc performs the plain provider-handler download path.
// It must write its own file under a path distinct from any other
// racer (§4.7 step 3).
type TraditionalFunc func(ctx context.Context) (Outcome, error)

// ProgressFunc reports floor(progress*100) updates during the
// distributed race leg (§4.7).
type ProgressFunc func(percent int)

const pollInterval = 500 * time.Millisecond
const distributedHardTimeout = 2 * time.Hour
const loserDrainTimeout = 2 * time.Second

// Adapter drives the hybrid traditional/distributed download race
// (§4.7) over a MeshEngine capability.
type Adapter struct {
	mu          sync.Mutex
	engine      MeshEngine
	registry    *SessionRegistry
	paths       *cachepath.Paths
	initialized bool
	unavailable bool
}

// NewAdapter builds an Adapter over engine, rooted at paths for
// descriptor and temp-file lookups.
func NewAdapter(engine MeshEngine, paths *cachepath.Paths) *Adapter {
	return &Adapter{engine: engine, paths: paths}
}

// Initialize registers discovery and starts the sharing monitor. Safe
// to call more than once; only the first call has effect (§4.7 step 1).
func (a *Adapter) Initialize(ctx context.Context, listenPort int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.initialized {
		return
	}
	a.initialized = true

	if _, err := a.engine.RegisterDiscovery(ctx); err != nil {
		a.unavailable = true
		logging.Component("mesh").Warn("mesh engine unavailable, falling back to traditional downloads only")
		return
	}

	a.registry = NewSessionRegistry(a.engine, listenPort)
	a.registry.StartMonitor(ctx)
	go func() {
		time.Sleep(10 * time.Second)
		a.registry.CheckNAT(ctx)
	}()
}

func (a *Adapter) isUnavailable() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.unavailable
}

// Shutdown tears down the monitor, all sessions, and the engine
// (§4.7 "Graceful shutdown").
func (a *Adapter) Shutdown(ctx context.Context) {
	a.mu.Lock()
	registry := a.registry
	a.mu.Unlock()
	if registry != nil {
		registry.Shutdown(ctx)
	}
}

// URLHash computes the fallback content hash used when no ContentId
// is supplied: lower_hex(SHA1(normalize_url(url, strip_query=false)))
// (§4.7).
func URLHash(rawURL string) (string, error) {
	normalized, err := contentid.NormalizeURL(rawURL, false)
	if err != nil {
		return "", err
	}
	sum := sha1.Sum([]byte(normalized))
	return hex.EncodeToString(sum[:]), nil
}

type raceResult struct {
	source  DownloadSource
	outcome Outcome
	err     error
}

// TryOptimizedDownload implements the §4.7 hybrid race: traditional
// vs. distributed, winner-take-all, with the E4 Hybrid re-labeling
// rule when both legs report success.
func (a *Adapter) TryOptimizedDownload(ctx context.Context, rawURL, destDir, contentID string, traditional TraditionalFunc, onProgress ProgressFunc) (Outcome, DownloadSource, error) {
	if a.isUnavailable() {
		out, err := traditional(ctx)
		if err == nil {
			go a.backgroundReshare(context.Background(), hashOrEmpty(contentID, rawURL), out.FilePath)
		}
		return out, SourceTraditional, err
	}

	hash := contentID
	if hash == "" {
		h, err := URLHash(rawURL)
		if err != nil {
			return Outcome{}, "", err
		}
		hash = h
	}

	if !a.paths.HasDescriptor(hash) {
		out, err := traditional(ctx)
		if err == nil {
			go a.backgroundReshare(context.Background(), hash, out.FilePath)
		}
		return out, SourceTraditional, err
	}

	return a.race(ctx, rawURL, destDir, hash, traditional, onProgress)
}

func hashOrEmpty(contentID, rawURL string) string {
	if contentID != "" {
		return contentID
	}
	h, err := URLHash(rawURL)
	if err != nil {
		return ""
	}
	return h
}

// race launches both legs concurrently, cancels the loser on first
// success, re-labels Hybrid when both report success, and falls back
// to one additional traditional attempt when both legs fail (§4.7
// steps 3-4).
func (a *Adapter) race(ctx context.Context, rawURL, destDir, hash string, traditional TraditionalFunc, onProgress ProgressFunc) (Outcome, DownloadSource, error) {
	tradCtx, cancelTrad := context.WithCancel(ctx)
	distCtx, cancelDist := context.WithCancel(ctx)
	defer cancelTrad()
	defer cancelDist()

	tradCh := make(chan raceResult, 1)
	distCh := make(chan raceResult, 1)

	go func() {
		out, err := traditional(tradCtx)
		tradCh <- raceResult{source: SourceTraditional, outcome: out, err: err}
	}()
	go func() {
		out, err := a.distributedFetch(distCtx, rawURL, destDir, hash, onProgress)
		distCh <- raceResult{source: SourceOptimized, outcome: out, err: err}
	}()

	var first, second raceResult
	var secondCh <-chan raceResult

	select {
	case first = <-tradCh:
		secondCh = distCh
	case first = <-distCh:
		secondCh = tradCh
	}

	if first.err == nil {
		if first.source == SourceTraditional {
			cancelDist()
		} else {
			cancelTrad()
		}
		select {
		case second = <-secondCh:
		case <-time.After(loserDrainTimeout):
		}

		source := first.source
		if first.source == SourceOptimized && second.err == nil && second.outcome.FilePath != "" {
			source = SourceHybrid
		}
		go a.backgroundReshare(context.Background(), hash, first.outcome.FilePath)
		return first.outcome, source, nil
	}

	// The first leg failed: keep waiting for the other one, which is
	// still running uncancelled.
	select {
	case second = <-secondCh:
	case <-ctx.Done():
		second.err = ctx.Err()
	}
	if second.err == nil && second.outcome.FilePath != "" {
		go a.backgroundReshare(context.Background(), hash, second.outcome.FilePath)
		return second.outcome, second.source, nil
	}

	out, err := traditional(ctx)
	return out, SourceTraditional, err
}

// distributedFetch runs the §4.7 "Distributed fetch internals":
// create a session against a temp subdirectory, start it, poll every
// 500ms, and promote the result to destDir on completion.
func (a *Adapter) distributedFetch(ctx context.Context, rawURL, destDir, hash string, onProgress ProgressFunc) (Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, distributedHardTimeout)
	defer cancel()

	descPath := a.paths.DescriptorPath(hash)
	data, err := os.ReadFile(descPath)
	if err != nil {
		return Outcome{}, fmt.Errorf("mesh: read descriptor: %w", err)
	}
	descriptor, err := bencode.ParseDescriptor(data)
	if err != nil {
		return Outcome{}, fmt.Errorf("mesh: parse descriptor: %w", err)
	}

	workDir := tempSubdir(a.paths, destDir, hash)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return Outcome{}, fmt.Errorf("mesh: create work dir: %w", err)
	}

	session, err := a.engine.CreateSession(ctx, descriptor, workDir)
	if err != nil {
		return Outcome{}, fmt.Errorf("mesh: create session: %w", err)
	}

	a.mu.Lock()
	registry := a.registry
	a.mu.Unlock()
	if registry != nil {
		registry.Register(hash, session)
	}

	if err := session.StartAsync(ctx); err != nil {
		return Outcome{}, fmt.Errorf("mesh: start session: %w", err)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			session.StopAsync(context.Background())
			if registry != nil {
				registry.Unregister(hash)
			}
			cleanupPrefix(workDir, descriptor.Info.Name)
			return Outcome{}, ctx.Err()
		case <-ticker.C:
			if onProgress != nil {
				onProgress(int(session.Progress() * 100))
			}
			if session.State() == StateSharing || session.Complete() {
				return promoteDistributed(workDir, destDir, descriptor)
			}
		}
	}
}

func promoteDistributed(workDir, destDir string, descriptor *bencode.Descriptor) (Outcome, error) {
	src := filepath.Join(workDir, descriptor.Info.Name)
	dst := filepath.Join(destDir, descriptor.Info.Name)

	if err := os.Rename(src, dst); err != nil {
		if rerr := copyThenDelete(src, dst); rerr != nil {
			return Outcome{}, fmt.Errorf("mesh: promote distributed file: %w", rerr)
		}
	}

	stat, err := os.Stat(dst)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{FilePath: dst, BytesDownloaded: stat.Size(), TotalBytes: stat.Size()}, nil
}

// copyThenDelete is the cross-device rename fallback (§4.7).
func copyThenDelete(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	in.Close()
	return os.Remove(src)
}

// cleanupPrefix best-effort deletes files matching the expected
// filename prefix in dir, on cancellation (§4.7).
func cleanupPrefix(dir, prefix string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), prefix) {
			os.Remove(filepath.Join(dir, e.Name()))
		}
	}
}

// backgroundReshare ensures a descriptor exists for hash and starts a
// new sharing session rooted at the completed file's directory,
// registering it in active_sessions (§4.7).
func (a *Adapter) backgroundReshare(ctx context.Context, hash, filePath string) {
	if hash == "" || filePath == "" {
		return
	}
	a.mu.Lock()
	registry := a.registry
	a.mu.Unlock()
	if registry == nil {
		return
	}

	descriptor, err := LoadOrBuildDescriptor(a.paths, hash, filePath)
	if err != nil {
		logging.Component("mesh").WithField("hash", hash).Warn("background re-share: could not load or build descriptor")
		return
	}

	session, err := a.engine.CreateSession(ctx, descriptor, filepath.Dir(filePath))
	if err != nil {
		logging.Component("mesh").WithField("hash", hash).Warn("background re-share: engine unavailable")
		return
	}
	if err := session.StartAsync(ctx); err != nil {
		logging.Component("mesh").WithField("hash", hash).Warn("background re-share: session failed to start")
		return
	}
	registry.Register(hash, session)
}
