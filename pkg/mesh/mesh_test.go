package mesh

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nexusforge/modcache/pkg/bencode"
	"github.com/nexusforge/modcache/pkg/cachepath"
)

func writeTestFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNullEngineAlwaysUnavailable(t *testing.T) {
	var e MeshEngine = NullEngine{}
	if _, err := e.RegisterDiscovery(context.Background()); err != ErrEngineUnavailable {
		t.Errorf("expected ErrEngineUnavailable, got %v", err)
	}
	if _, err := e.CreateSession(context.Background(), nil, ""); err != ErrEngineUnavailable {
		t.Errorf("expected ErrEngineUnavailable, got %v", err)
	}
}

func TestLocalEngineSessionCompletesImmediately(t *testing.T) {
	e := NewLocalEngine(EngineSettings{ListenPort: 6881})
	session, err := e.CreateSession(context.Background(), nil, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := session.StartAsync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if session.State() != StateSharing || !session.Complete() {
		t.Errorf("expected immediate completion, state=%v complete=%v", session.State(), session.Complete())
	}
}

func TestLocalEngineRejectsAfterClose(t *testing.T) {
	e := NewLocalEngine(EngineSettings{})
	e.Close()
	if _, err := e.RegisterDiscovery(context.Background()); err != ErrEngineUnavailable {
		t.Errorf("expected ErrEngineUnavailable after close, got %v", err)
	}
}

func TestTryOptimizedDownloadFallsBackWhenEngineUnavailable(t *testing.T) {
	paths := cachepath.New(t.TempDir(), "testapp")
	adapter := NewAdapter(NullEngine{}, paths)
	adapter.Initialize(context.Background(), 6881)

	called := false
	traditional := func(ctx context.Context) (Outcome, error) {
		called = true
		return Outcome{FilePath: "/tmp/x", BytesDownloaded: 1, TotalBytes: 1}, nil
	}

	out, source, err := adapter.TryOptimizedDownload(context.Background(), "https://example.com/x.zip", t.TempDir(), "", traditional, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Error("expected traditional fallback to be invoked")
	}
	if source != SourceTraditional {
		t.Errorf("source = %v, want Traditional", source)
	}
	if out.FilePath != "/tmp/x" {
		t.Errorf("FilePath = %q", out.FilePath)
	}
}

func TestTryOptimizedDownloadRunsTraditionalWhenNoDescriptor(t *testing.T) {
	paths := cachepath.New(t.TempDir(), "testapp")
	adapter := NewAdapter(NewLocalEngine(EngineSettings{}), paths)
	adapter.Initialize(context.Background(), 6881)

	called := false
	traditional := func(ctx context.Context) (Outcome, error) {
		called = true
		return Outcome{FilePath: "/tmp/y"}, nil
	}

	_, source, err := adapter.TryOptimizedDownload(context.Background(), "https://example.com/y.zip", t.TempDir(), "somehash", traditional, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !called || source != SourceTraditional {
		t.Errorf("expected traditional path when no descriptor exists, got called=%v source=%v", called, source)
	}
}

func TestURLHashIsDeterministic(t *testing.T) {
	h1, err := URLHash("https://Example.com/Path/")
	if err != nil {
		t.Fatal(err)
	}
	h2, err := URLHash("https://example.com/Path/")
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Errorf("expected case-insensitive host normalization to yield same hash")
	}
}

func TestSessionRegistrySweepRemovesDeadSessions(t *testing.T) {
	engine := NewLocalEngine(EngineSettings{})
	registry := NewSessionRegistry(engine, 6881)

	s, _ := engine.CreateSession(context.Background(), nil, t.TempDir())
	s.StartAsync(context.Background())
	s.StopAsync(context.Background())
	registry.Register("deadhash", s)

	registry.sweep()

	if _, ok := registry.Get("deadhash"); ok {
		t.Error("expected stopped session to be pruned")
	}
}

func TestSessionRegistryCheckNATSetsSuccessfulWhenMappingActive(t *testing.T) {
	engine := NewLocalEngine(EngineSettings{ListenPort: 6881})
	registry := NewSessionRegistry(engine, 6881)

	registry.CheckNAT(context.Background())

	if !registry.NATSuccessful() {
		t.Error("expected NAT check to succeed against LocalEngine's synthetic mapping")
	}
}

func TestRaceLabelsHybridWhenBothLegsSucceedWithinDrainWindow(t *testing.T) {
	appDir := t.TempDir()
	paths := cachepath.New(appDir, "testapp")
	if err := paths.EnsureRoot(); err != nil {
		t.Fatal(err)
	}

	srcDir := t.TempDir()
	srcFile := writeTestFile(t, srcDir, "mod.zip", []byte("payload-bytes"))

	descriptor, err := bencode.BuildDescriptor(srcFile, bencode.BuildOptions{PieceLength: 8})
	if err != nil {
		t.Fatal(err)
	}
	encoded, err := descriptor.Encode()
	if err != nil {
		t.Fatal(err)
	}

	hash := "racehash"
	if err := os.WriteFile(paths.DescriptorPath(hash), encoded, 0o644); err != nil {
		t.Fatal(err)
	}

	// Seed the distributed leg's expected temp-workdir output file so
	// promoteDistributed's rename has something to promote once the
	// LocalEngine session reports Sharing/Complete immediately.
	destDir := t.TempDir()
	workDir := tempSubdir(paths, destDir, hash)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeTestFile(t, workDir, descriptor.Info.Name, []byte("payload-bytes"))

	adapter := NewAdapter(NewLocalEngine(EngineSettings{}), paths)
	adapter.Initialize(context.Background(), 6881)

	traditional := func(ctx context.Context) (Outcome, error) {
		// Slower than the distributed leg's first 500ms poll tick (the
		// LocalEngine session reports Sharing/Complete immediately), so
		// the distributed leg wins the race outright, but still well
		// within the loser-drain window so both legs report success.
		time.Sleep(700 * time.Millisecond)
		return Outcome{FilePath: filepath.Join(destDir, "trad-copy.zip"), BytesDownloaded: 13, TotalBytes: 13}, nil
	}

	out, source, err := adapter.TryOptimizedDownload(context.Background(), "https://example.com/mod.zip", destDir, hash, traditional, nil)
	if err != nil {
		t.Fatal(err)
	}
	if source != SourceHybrid {
		t.Errorf("source = %v, want Hybrid (both legs succeeded within drain window)", source)
	}
	if out.FilePath == "" {
		t.Error("expected a winning file path")
	}
}

func TestSessionRegistryShutdownStopsAllSessions(t *testing.T) {
	engine := NewLocalEngine(EngineSettings{})
	registry := NewSessionRegistry(engine, 6881)
	registry.StartMonitor(context.Background())

	s, _ := engine.CreateSession(context.Background(), nil, t.TempDir())
	s.StartAsync(context.Background())
	registry.Register("h", s)

	done := make(chan struct{})
	go func() {
		registry.Shutdown(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("shutdown did not complete")
	}

	if _, ok := registry.Get("h"); ok {
		t.Error("expected sessions map to be cleared after shutdown")
	}
}
