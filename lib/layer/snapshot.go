// Package layer provides content-addressed storage of build snapshots.
//
// A snapshot is the filesystem and metadata state after applying a build
// instruction. Snapshots are keyed by fingerprint: a deterministic digest
// over the parent fingerprint, the instruction content, and any referenced
// input files. Identical inputs always produce identical fingerprints, so
// a cached snapshot can be reused in place of re-executing the step.
package layer

import (
	"maps"
	"slices"

	"github.com/opencontainers/go-digest"

	"github.com/kilnhq/kiln/lib/recipe"
)

// Snapshot is the immutable result of one build step.
//
// Root points at the snapshot's rootfs directory. Metadata-only steps
// (env, expose, healthcheck, entrypoint) share the parent's rootfs; steps
// that touch the filesystem get their own layer directory. Once stored in
// the cache a snapshot's rootfs is never modified.
type Snapshot struct {
	Fingerprint digest.Digest `json:"fingerprint"`
	Root        string        `json:"root,omitempty"`
	Meta        Metadata      `json:"meta"`
}

// Metadata is the runtime configuration accumulated across a snapshot's
// ancestry chain.
type Metadata struct {
	BaseRef      string              `json:"base_ref,omitempty"`
	Env          map[string]string   `json:"env,omitempty"`
	Entrypoint   []string            `json:"entrypoint,omitempty"`
	ExposedPorts []int               `json:"exposed_ports,omitempty"`
	Healthcheck  *recipe.Healthcheck `json:"healthcheck,omitempty"`
}

// Clone returns a deep copy so a child snapshot can extend the metadata
// without aliasing the parent's maps and slices.
func (m Metadata) Clone() Metadata {
	out := Metadata{
		BaseRef:      m.BaseRef,
		Entrypoint:   slices.Clone(m.Entrypoint),
		ExposedPorts: slices.Clone(m.ExposedPorts),
	}
	if m.Env != nil {
		out.Env = maps.Clone(m.Env)
	}
	if m.Healthcheck != nil {
		hc := *m.Healthcheck
		hc.Command = slices.Clone(m.Healthcheck.Command)
		out.Healthcheck = &hc
	}
	return out
}
