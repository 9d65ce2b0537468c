// Package integrity implements the integrity verifier (§4.6): whole-file
// SHA-256 plus per-piece SHA-1 verification against a ResourceMetadata
// record, run mandatorily before a temp file is promoted to its canonical
// cache path. Piece hashing fans out with an errgroup, bounded by
// GOMAXPROCS, mirroring the bounded concurrent fan-out/fan-in the teacher's
// ContentFetcher.FetchContent uses over ordered chunks.
package integrity

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/nexusforge/modcache/internal/errs"
	"github.com/nexusforge/modcache/pkg/contentid"
)

// ResourceMetadata is the record persisted alongside a cached file (§3).
type ResourceMetadata struct {
	ContentID         string
	FileSize          uint64
	PieceLength       uint32
	PieceHashes       string // concatenated lowercase hex, 40 chars per piece
	ContentHashSHA256 string // lowercase hex, 64 chars
	Trackers          []string
	CreatedAt         uint64 // UTC seconds since epoch
}

// PieceCount returns the number of pieces PieceHashes encodes.
func (m ResourceMetadata) PieceCount() int {
	return len(m.PieceHashes) / 40
}

// VerifyFile checks path against meta's recorded hashes (§4.6). Any
// mismatch returns an IntegrityFailure error; a nil return means the file
// may be promoted to its canonical path.
func VerifyFile(path string, meta ResourceMetadata) error {
	if meta.ContentHashSHA256 != "" {
		got, err := fileSHA256(path)
		if err != nil {
			return errs.Unexpected("failed to hash file for integrity check", err)
		}
		if !strings.EqualFold(got, meta.ContentHashSHA256) {
			return errs.IntegrityFailure(
				fmt.Sprintf("sha256 mismatch: got %s, want %s", got, meta.ContentHashSHA256), nil)
		}
	}

	if meta.PieceHashes != "" && meta.PieceLength > 0 {
		got, err := filePieceHashes(path, meta.PieceLength)
		if err != nil {
			return errs.Unexpected("failed to hash file pieces", err)
		}
		if !strings.EqualFold(got, meta.PieceHashes) {
			return errs.IntegrityFailure(
				fmt.Sprintf("piece hash mismatch: got %d pieces, want %d", len(got)/40, meta.PieceCount()), nil)
		}
	}

	if meta.FileSize > 0 {
		stat, err := os.Stat(path)
		if err != nil {
			return errs.Unexpected("failed to stat file for integrity check", err)
		}
		if uint64(stat.Size()) != meta.FileSize {
			return errs.IntegrityFailure(
				fmt.Sprintf("file size mismatch: got %d, want %d", stat.Size(), meta.FileSize), nil)
		}
	}

	return nil
}

// ComputeIntegrityData computes the hashes VerifyFile checks against, for
// use at ingest time when populating a ResourceMetadata (§4.6).
func ComputeIntegrityData(path string, pieceLength uint32) (sha256Hex string, gotPieceLength uint32, pieceHashesHex string, err error) {
	sha256Hex, err = fileSHA256(path)
	if err != nil {
		return "", 0, "", err
	}

	if pieceLength == 0 {
		stat, statErr := os.Stat(path)
		if statErr != nil {
			return "", 0, "", statErr
		}
		pieceLength = contentid.DeterminePieceSize(uint64(stat.Size()))
	}

	pieceHashesHex, err = filePieceHashes(path, pieceLength)
	if err != nil {
		return "", 0, "", err
	}

	return sha256Hex, pieceLength, pieceHashesHex, nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("integrity: open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("integrity: hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// filePieceHashes walks the file in pieceLength chunks, hashes each with
// SHA-1 concurrently (bounded by GOMAXPROCS), and reduces back into file
// order before concatenating the hex digests.
func filePieceHashes(path string, pieceLength uint32) (string, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("integrity: stat %s: %w", path, err)
	}
	size := stat.Size()
	if size == 0 {
		return "", nil
	}

	numPieces := int((size + int64(pieceLength) - 1) / int64(pieceLength))
	hashes := make([]string, numPieces)

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("integrity: open %s: %w", path, err)
	}
	defer f.Close()

	workers := runtime.GOMAXPROCS(0)
	if workers > numPieces {
		workers = numPieces
	}
	if workers < 1 {
		workers = 1
	}

	g := new(errgroup.Group)
	g.SetLimit(workers)

	for i := 0; i < numPieces; i++ {
		idx := i
		g.Go(func() error {
			offset := int64(idx) * int64(pieceLength)
			length := int64(pieceLength)
			if offset+length > size {
				length = size - offset
			}

			buf := make([]byte, length)
			if _, err := f.ReadAt(buf, offset); err != nil && err != io.EOF {
				return fmt.Errorf("integrity: read piece %d: %w", idx, err)
			}

			sum := sha1.Sum(buf)
			hashes[idx] = hex.EncodeToString(sum[:])
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return "", err
	}

	return strings.Join(hashes, ""), nil
}
