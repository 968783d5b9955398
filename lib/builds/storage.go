package builds

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/kilnhq/kiln/lib/paths"
)

// writeRecord writes a build record atomically using temp file + rename.
func writeRecord(p *paths.Paths, b *Build) error {
	if err := os.MkdirAll(p.BuildDir(b.ID), 0755); err != nil {
		return fmt.Errorf("create build directory: %w", err)
	}

	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal build record: %w", err)
	}

	finalPath := p.BuildMeta(b.ID)
	tempPath := finalPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write temp build record: %w", err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename build record: %w", err)
	}

	return nil
}

// readRecord reads a build record from disk.
func readRecord(p *paths.Paths, id string) (*Build, error) {
	data, err := os.ReadFile(p.BuildMeta(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read build record: %w", err)
	}

	var b Build
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("unmarshal build record: %w", err)
	}
	return &b, nil
}

// listRecords scans the builds directory. Entries with unreadable records
// are skipped rather than failing the whole listing.
func listRecords(p *paths.Paths) ([]*Build, error) {
	entries, err := os.ReadDir(p.BuildsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return []*Build{}, nil
		}
		return nil, fmt.Errorf("read builds directory: %w", err)
	}

	var builds []*Build
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		b, err := readRecord(p, entry.Name())
		if err != nil {
			continue
		}
		builds = append(builds, b)
	}

	return builds, nil
}
