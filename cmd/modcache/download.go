package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/nexusforge/modcache/pkg/cachepath"
	"github.com/nexusforge/modcache/pkg/download"
	"github.com/nexusforge/modcache/pkg/mesh"
	"github.com/nexusforge/modcache/pkg/progress"
	"github.com/nexusforge/modcache/pkg/provider"
	"github.com/nexusforge/modcache/pkg/provider/factory"
	"github.com/nexusforge/modcache/pkg/stats"
)

var destDir string
var useMesh bool

var downloadCmd = &cobra.Command{
	Use:   "download <url>",
	Short: "Download a single mod file through the provider handler chain",
	Args:  cobra.ExactArgs(1),
	RunE:  runDownload,
}

func init() {
	downloadCmd.Flags().StringVar(&destDir, "dest", ".", "destination directory")
	downloadCmd.Flags().BoolVar(&useMesh, "mesh", false, "race against the mesh-distribution adapter when a descriptor is cached")
}

func runDownload(cmd *cobra.Command, args []string) error {
	url := args[0]

	opts := provider.Options{
		HTTPClient: &http.Client{Timeout: cfg.HTTPTimeout},
		APIKey:     cfg.ModIndexAPIKey,
		Timeout:    cfg.HTTPTimeout,
	}
	handlers := factory.New(opts)
	counters := stats.New()
	mgr := download.NewManager(handlers, nil).WithStats(counters)

	reporter := progress.NewReporter()
	prog := reporter.Update(url, func(p *progress.DownloadProgress) {
		p.StartTime = time.Now()
	})

	bar := progressbar.DefaultBytes(-1, "downloading")
	go watchProgress(reporter, bar)

	ctx := context.Background()

	if useMesh {
		paths := cachepath.New(cfg.AppDataDir, cfg.AppName)
		adapter := mesh.NewAdapter(mesh.NewLocalEngine(mesh.EngineSettings{}), paths)
		adapter.Initialize(ctx, 6881)
		defer adapter.Shutdown(ctx)

		traditional := func(ctx context.Context) (mesh.Outcome, error) {
			results := mgr.DownloadAll(ctx, map[string]*progress.DownloadProgress{url: prog}, destDir, reporter)
			r := results[0]
			if r.Err != nil {
				return mesh.Outcome{}, r.Err
			}
			return mesh.Outcome{
				FilePath:        r.Result.FilePath,
				BytesDownloaded: r.Result.BytesDownloaded,
				TotalBytes:      r.Result.TotalBytes,
			}, nil
		}

		out, source, err := adapter.TryOptimizedDownload(ctx, url, destDir, "", traditional, func(pct int) {
			reporter.Update(url, func(p *progress.DownloadProgress) { p.ProgressPercentage = float64(pct) })
		})
		if err != nil {
			return err
		}
		fmt.Printf("\ndownloaded %s via %s (%s)\n", out.FilePath, source, progress.HumanBytes(uint64(out.BytesDownloaded)))
		return nil
	}

	results := mgr.DownloadAll(ctx, map[string]*progress.DownloadProgress{url: prog}, destDir, reporter)
	r := results[0]
	if r.Err != nil {
		return r.Err
	}

	snap := counters.Snapshot()
	fmt.Printf("\ndownloaded %s (%s) — completed=%d skipped=%d failed=%d\n",
		r.Result.FilePath, progress.HumanBytes(uint64(r.Result.BytesDownloaded)),
		snap.Completed, snap.Skipped, snap.Failed)
	return nil
}

// watchProgress drains a Reporter's subscription channel onto a
// progressbar, following the teacher's progressbar.NewReader pattern but
// driven by modcache's own pub/sub progress model instead of an io.Reader.
func watchProgress(reporter *progress.Reporter, bar *progressbar.ProgressBar) {
	for p := range reporter.Subscribe() {
		if p.TotalBytes > 0 {
			bar.ChangeMax64(int64(p.TotalBytes))
		}
		_ = bar.Set64(int64(p.BytesDownloaded))
		if p.Status == progress.StatusCompleted || p.Status == progress.StatusFailed || p.Status == progress.StatusSkipped {
			return
		}
	}
}
