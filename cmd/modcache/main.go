// Command modcache is a thin operational CLI around the core library: a
// manual smoke-test harness for the download orchestrator, the integrity
// verifier, and the compliance blocklist. It is not the mod-installer's own
// end-user UI — that stays out of scope of the core.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nexusforge/modcache/internal/config"
	"github.com/nexusforge/modcache/internal/logging"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "modcache",
	Short: "Operational CLI for the modcache download and distribution cache",
	Long:  "A CLI built with Cobra for exercising modcache's download, verify, block, and stats operations",
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(blockCmd)
	rootCmd.AddCommand(statsCmd)
}

func initConfig() {
	var err error
	cfg, err = config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}
	logging.Init(cfg.LogLevel)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
