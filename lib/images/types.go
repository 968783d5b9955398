package images

import (
	"time"

	"github.com/opencontainers/go-digest"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/kilnhq/kiln/lib/recipe"
)

// Descriptor is an immutable record describing a buildable, runnable
// artifact: the final snapshot's rootfs plus the runtime metadata
// collected across its ancestry.
type Descriptor struct {
	ID          string              `json:"id"`
	Fingerprint digest.Digest       `json:"fingerprint"`
	RootFS      string              `json:"rootfs"`
	Config      v1.ImageConfig      `json:"config"`
	Healthcheck *recipe.Healthcheck `json:"healthcheck,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
}
