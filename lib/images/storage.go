package images

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/kilnhq/kiln/lib/paths"
)

// writeDescriptor writes a descriptor atomically using temp file + rename.
func writeDescriptor(p *paths.Paths, desc *Descriptor) error {
	if err := os.MkdirAll(p.ImageDir(desc.ID), 0755); err != nil {
		return fmt.Errorf("create image directory: %w", err)
	}

	data, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal descriptor: %w", err)
	}

	finalPath := p.ImageMeta(desc.ID)
	tempPath := finalPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write temp descriptor: %w", err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename descriptor: %w", err)
	}

	return nil
}

// readDescriptor reads a descriptor from disk.
func readDescriptor(p *paths.Paths, id string) (*Descriptor, error) {
	data, err := os.ReadFile(p.ImageMeta(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read descriptor: %w", err)
	}

	var desc Descriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("unmarshal descriptor: %w", err)
	}
	return &desc, nil
}

// listDescriptors scans the images directory. Entries with unreadable
// descriptors are skipped rather than failing the whole listing.
func listDescriptors(p *paths.Paths) ([]*Descriptor, error) {
	entries, err := os.ReadDir(p.ImagesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return []*Descriptor{}, nil
		}
		return nil, fmt.Errorf("read images directory: %w", err)
	}

	var descs []*Descriptor
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		desc, err := readDescriptor(p, entry.Name())
		if err != nil {
			continue
		}
		descs = append(descs, desc)
	}

	return descs, nil
}

// descriptorExists reports whether an image with this ID is stored.
func descriptorExists(p *paths.Paths, id string) bool {
	_, err := readDescriptor(p, id)
	return err == nil
}

// deleteDescriptor removes the image directory.
func deleteDescriptor(p *paths.Paths, id string) error {
	dir := p.ImageDir(id)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("stat image directory: %w", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove image directory: %w", err)
	}
	return nil
}
