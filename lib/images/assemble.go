package images

import (
	"fmt"
	"sort"
	"time"

	v1 "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/samber/lo"

	"github.com/kilnhq/kiln/lib/layer"
)

// Assemble produces an immutable image descriptor from the final stage's
// snapshot.
//
// Runtime metadata (entrypoint, env defaults, exposed ports, healthcheck)
// accumulates through the snapshot's ancestry chain during execution, so
// the final snapshot already carries everything declared by reachable
// stages. Assemble validates that metadata and freezes it into OCI image
// config shape.
func Assemble(id string, snap layer.Snapshot) (*Descriptor, error) {
	if len(snap.Meta.Entrypoint) == 0 {
		return nil, ErrNoEntrypoint
	}

	if hc := snap.Meta.Healthcheck; hc != nil {
		if hc.Interval <= 0 {
			return nil, fmt.Errorf("%w: interval %s is not positive", ErrInvalidHealthcheck, hc.Interval)
		}
		if hc.Timeout <= 0 {
			return nil, fmt.Errorf("%w: timeout %s is not positive", ErrInvalidHealthcheck, hc.Timeout)
		}
	}

	// Env defaults are sorted so the descriptor marshals identically for
	// identical inputs.
	env := lo.MapToSlice(snap.Meta.Env, func(k, v string) string {
		return k + "=" + v
	})
	sort.Strings(env)

	var ports map[string]struct{}
	if len(snap.Meta.ExposedPorts) > 0 {
		ports = make(map[string]struct{}, len(snap.Meta.ExposedPorts))
		for _, p := range snap.Meta.ExposedPorts {
			ports[fmt.Sprintf("%d/tcp", p)] = struct{}{}
		}
	}

	meta := snap.Meta.Clone()
	return &Descriptor{
		ID:          id,
		Fingerprint: snap.Fingerprint,
		RootFS:      snap.Root,
		Config: v1.ImageConfig{
			Env:          env,
			Entrypoint:   meta.Entrypoint,
			ExposedPorts: ports,
		},
		Healthcheck: meta.Healthcheck,
		CreatedAt:   time.Now().UTC(),
	}, nil
}
