package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nexusforge/modcache/pkg/integrity"
)

var (
	verifySHA256      string
	verifyPieceLength uint32
	verifyPieceHashes string
	verifySize        uint64
)

var verifyCmd = &cobra.Command{
	Use:   "verify <path>",
	Short: "Verify a cached file's integrity against recorded hashes",
	Args:  cobra.ExactArgs(1),
	RunE:  runVerify,
}

func init() {
	verifyCmd.Flags().StringVar(&verifySHA256, "sha256", "", "expected whole-file SHA-256 hex digest")
	verifyCmd.Flags().Uint32Var(&verifyPieceLength, "piece-length", 0, "piece length in bytes, 0 to skip piece verification")
	verifyCmd.Flags().StringVar(&verifyPieceHashes, "piece-hashes", "", "concatenated lowercase hex SHA-1 piece hashes")
	verifyCmd.Flags().Uint64Var(&verifySize, "size", 0, "expected file size in bytes, 0 to skip")
}

func runVerify(cmd *cobra.Command, args []string) error {
	path := args[0]
	meta := integrity.ResourceMetadata{
		ContentHashSHA256: verifySHA256,
		PieceLength:       verifyPieceLength,
		PieceHashes:       verifyPieceHashes,
		FileSize:          verifySize,
	}

	if err := integrity.VerifyFile(path, meta); err != nil {
		return err
	}
	fmt.Printf("%s: OK\n", path)
	return nil
}
