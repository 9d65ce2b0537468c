package mesh

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nexusforge/modcache/pkg/bencode"
	"github.com/nexusforge/modcache/pkg/cachepath"
)

// DefaultTrackers is the announce list used when building a descriptor
// during background re-share if the caller supplied none (§4.7).
var DefaultTrackers []string

// LoadOrBuildDescriptor returns the descriptor persisted at paths for
// hash, building and persisting a fresh one from filePath if absent
// (§4.7's "ensure a descriptor exists" step of background re-share).
func LoadOrBuildDescriptor(paths *cachepath.Paths, hash, filePath string) (*bencode.Descriptor, error) {
	descPath := paths.DescriptorPath(hash)

	if data, err := os.ReadFile(descPath); err == nil {
		return bencode.ParseDescriptor(data)
	}

	d, err := bencode.BuildDescriptor(filePath, bencode.BuildOptions{
		Trackers:         DefaultTrackers,
		IncludeWrapper:   true,
		CreationDateUnix: time.Now().Unix(),
		CreatedBy:        "modcache",
	})
	if err != nil {
		return nil, fmt.Errorf("mesh: build descriptor: %w", err)
	}

	encoded, err := d.Encode()
	if err != nil {
		return nil, fmt.Errorf("mesh: encode descriptor: %w", err)
	}

	if err := paths.EnsureRoot(); err != nil {
		return nil, fmt.Errorf("mesh: ensure cache root: %w", err)
	}
	if err := os.WriteFile(descPath, encoded, 0o644); err != nil {
		return nil, fmt.Errorf("mesh: persist descriptor: %w", err)
	}

	return d, nil
}

// tempSubdir names a temp working directory for hash under the
// destination directory's .partial path (§4.7: "temp subdirectory
// named from the canonical temp path").
func tempSubdir(paths *cachepath.Paths, destDir, hash string) string {
	return filepath.Dir(paths.PartialPath(destDir, hash))
}
