package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nexusforge/modcache/pkg/cachepath"
	"github.com/nexusforge/modcache/pkg/progress"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Report descriptor and cache-usage counters for the configured cache root",
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	paths := cachepath.New(cfg.AppDataDir, cfg.AppName)

	var descriptors int
	var totalBytes uint64

	err := filepath.Walk(paths.Root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		totalBytes += uint64(info.Size())
		if strings.HasSuffix(path, ".dat") {
			descriptors++
		}
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Printf("cache root:       %s\n", paths.Root)
	fmt.Printf("descriptors:      %d\n", descriptors)
	fmt.Printf("total bytes:      %s\n", progress.HumanBytes(totalBytes))
	return nil
}
