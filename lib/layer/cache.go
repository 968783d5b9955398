package layer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/singleflight"
)

// Cache is an append-only, content-addressed store of snapshots.
//
// Reads are safe from any number of goroutines. Concurrent writes to the
// same fingerprint are idempotent: fingerprint purity guarantees the
// contents are identical, so whichever write lands first wins and the
// others are discarded. The singleflight group only collapses duplicate
// work; it is not needed for correctness.
type Cache struct {
	dir string

	mu      sync.RWMutex
	entries map[digest.Digest]Snapshot

	group singleflight.Group
}

// Open creates a cache rooted at dir, loading any snapshots left by
// previous runs. Entries with unreadable metadata are skipped.
func Open(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	c := &Cache{
		dir:     dir,
		entries: make(map[digest.Digest]Snapshot),
	}

	dirents, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read cache dir: %w", err)
	}
	for _, ent := range dirents {
		if !ent.IsDir() {
			continue
		}
		snap, err := readSnapshot(filepath.Join(dir, ent.Name(), "snapshot.json"))
		if err != nil {
			continue
		}
		c.entries[snap.Fingerprint] = snap
	}

	return c, nil
}

// Get returns the snapshot stored under fp, if any.
func (c *Cache) Get(fp digest.Digest) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.entries[fp]
	return snap, ok
}

// Len returns the number of cached snapshots.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Put stores snap under fp and returns the canonical stored snapshot.
//
// When snap.Root lives outside the cache directory it is treated as
// staging output owned by the caller and moved into the cache. If the
// fingerprint is already present the staged rootfs is discarded and the
// existing snapshot returned.
func (c *Cache) Put(fp digest.Digest, snap Snapshot) (Snapshot, error) {
	v, err, _ := c.group.Do(fp.String(), func() (any, error) {
		if existing, ok := c.Get(fp); ok {
			c.discardStaging(snap)
			return existing, nil
		}

		snap.Fingerprint = fp
		entryDir := filepath.Join(c.dir, fp.Encoded())
		if err := os.MkdirAll(entryDir, 0755); err != nil {
			return Snapshot{}, fmt.Errorf("create layer dir: %w", err)
		}

		if c.isStaging(snap.Root) {
			rootfs := filepath.Join(entryDir, "rootfs")
			if err := os.Rename(snap.Root, rootfs); err != nil {
				return Snapshot{}, fmt.Errorf("move rootfs into cache: %w", err)
			}
			snap.Root = rootfs
		}

		if err := writeSnapshot(filepath.Join(entryDir, "snapshot.json"), snap); err != nil {
			return Snapshot{}, err
		}

		c.mu.Lock()
		c.entries[fp] = snap
		c.mu.Unlock()
		return snap, nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return v.(Snapshot), nil
}

func (c *Cache) isStaging(root string) bool {
	return root != "" && !strings.HasPrefix(root, c.dir+string(filepath.Separator))
}

func (c *Cache) discardStaging(snap Snapshot) {
	if c.isStaging(snap.Root) {
		os.RemoveAll(snap.Root)
	}
}

// writeSnapshot persists snapshot metadata atomically via temp file and
// rename.
func writeSnapshot(path string, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

func readSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if snap.Fingerprint != "" {
		if err := snap.Fingerprint.Validate(); err != nil {
			return Snapshot{}, fmt.Errorf("invalid fingerprint: %w", err)
		}
	}
	return snap, nil
}
