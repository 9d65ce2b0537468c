package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nexusforge/modcache/pkg/cachepath"
	"github.com/nexusforge/modcache/pkg/keylock"
)

var blockReason string

var blockCmd = &cobra.Command{
	Use:   "block <content-id>",
	Short: "Add a content ID to the compliance blocklist",
	Args:  cobra.ExactArgs(1),
	RunE:  runBlock,
}

var unblockCmd = &cobra.Command{
	Use:   "unblock <content-id>",
	Short: "Remove a content ID from the compliance blocklist",
	Args:  cobra.ExactArgs(1),
	RunE:  runUnblock,
}

var checkBlockCmd = &cobra.Command{
	Use:   "check <content-id>",
	Short: "Report whether a content ID is currently blocked",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckBlock,
}

func init() {
	blockCmd.Flags().StringVar(&blockReason, "reason", "compliance takedown", "audit-log reason recorded alongside the block")
	blockCmd.AddCommand(unblockCmd)
	blockCmd.AddCommand(checkBlockCmd)
}

func newBlocklist() (*keylock.Blocklist, error) {
	paths := cachepath.New(cfg.AppDataDir, cfg.AppName)
	return keylock.LoadBlocklist(paths.AuditLogPath())
}

func runBlock(cmd *cobra.Command, args []string) error {
	bl, err := newBlocklist()
	if err != nil {
		return err
	}
	if err := bl.Block(args[0], blockReason); err != nil {
		return err
	}
	fmt.Printf("blocked %s: %s\n", args[0], blockReason)
	return nil
}

func runUnblock(cmd *cobra.Command, args []string) error {
	bl, err := newBlocklist()
	if err != nil {
		return err
	}
	if err := bl.Unblock(args[0]); err != nil {
		return err
	}
	fmt.Printf("unblocked %s\n", args[0])
	return nil
}

func runCheckBlock(cmd *cobra.Command, args []string) error {
	bl, err := newBlocklist()
	if err != nil {
		return err
	}
	fmt.Printf("%s blocked=%v\n", args[0], bl.IsBlocked(args[0]))
	return nil
}
