// Package images stores assembled image descriptors.
//
// A descriptor is written once by the build pipeline and is immutable
// afterwards; the manager only lists, reads, and deletes.
package images

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/kilnhq/kiln/lib/logger"
	"github.com/kilnhq/kiln/lib/paths"
)

// Manager handles image descriptor lifecycle operations.
type Manager interface {
	Register(ctx context.Context, desc *Descriptor) error
	ListImages(ctx context.Context) ([]*Descriptor, error)
	GetImage(ctx context.Context, id string) (*Descriptor, error)
	DeleteImage(ctx context.Context, id string) error
}

type manager struct {
	paths *paths.Paths
}

// NewManager creates a new image manager.
func NewManager(p *paths.Paths) Manager {
	return &manager{paths: p}
}

func (m *manager) Register(ctx context.Context, desc *Descriptor) error {
	if descriptorExists(m.paths, desc.ID) {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, desc.ID)
	}
	if err := writeDescriptor(m.paths, desc); err != nil {
		return err
	}

	logger.FromContext(ctx).InfoContext(ctx, "registered image",
		"id", desc.ID, "fingerprint", desc.Fingerprint)
	return nil
}

func (m *manager) ListImages(ctx context.Context) ([]*Descriptor, error) {
	descs, err := listDescriptors(m.paths)
	if err != nil {
		return nil, fmt.Errorf("list descriptors: %w", err)
	}
	sort.Slice(descs, func(i, j int) bool { return descs[i].ID < descs[j].ID })
	return descs, nil
}

func (m *manager) GetImage(ctx context.Context, id string) (*Descriptor, error) {
	return readDescriptor(m.paths, id)
}

func (m *manager) DeleteImage(ctx context.Context, id string) error {
	return deleteDescriptor(m.paths, id)
}

var idSanitizer = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// GenerateImageID derives a valid image ID from a build name, falling
// back to the fingerprint when no name was given.
// Example: "api-key-service" -> "img-api-key-service".
func GenerateImageID(name, fingerprintHex string) string {
	if name == "" {
		if len(fingerprintHex) > 12 {
			fingerprintHex = fingerprintHex[:12]
		}
		return "img-" + fingerprintHex
	}

	sanitized := idSanitizer.ReplaceAllString(name, "-")
	sanitized = strings.Trim(sanitized, "-")
	return "img-" + strings.ToLower(sanitized)
}
