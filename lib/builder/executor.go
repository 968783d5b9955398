// Package builder executes planned stages against the layer cache.
//
// Each stage starts from its resolved base snapshot and applies its
// instructions in order. Every instruction is fingerprinted first; on a
// cache hit the stored snapshot is reused and the step is skipped, on a
// miss the instruction executes into a staging directory that is moved
// into the cache only after the step succeeds. A failed or cancelled step
// caches nothing.
package builder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"os/exec"
	"slices"
	"sort"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/distribution/reference"
	"github.com/opencontainers/go-digest"

	"github.com/kilnhq/kiln/lib/layer"
	"github.com/kilnhq/kiln/lib/logger"
	"github.com/kilnhq/kiln/lib/recipe"
)

// Default shell for run instructions.
const defaultShell = "/bin/sh"

// Options controls stage execution.
type Options struct {
	ContextDir string    // root for resolving copy sources
	StagingDir string    // scratch space for in-flight layers
	Shell      string    // shell for run instructions, defaults to /bin/sh
	Output     io.Writer // receives run instruction output, defaults to discard
}

// Builder executes stages against a layer cache.
type Builder struct {
	cache *layer.Cache
	opts  Options
}

// Result reports the outcome of a build.
type Result struct {
	Snapshot     layer.Snapshot  // final stage's snapshot
	Fingerprints []digest.Digest // per-instruction fingerprint chain, in execution order
	Executed     int             // steps executed (cache misses)
	CacheHits    int             // steps reused from the cache
}

// New creates a Builder. The cache is shared; concurrent builds may read
// and write it freely.
func New(cache *layer.Cache, opts Options) *Builder {
	if opts.Shell == "" {
		opts.Shell = defaultShell
	}
	if opts.ContextDir == "" {
		opts.ContextDir = "."
	}
	if opts.StagingDir == "" {
		opts.StagingDir = os.TempDir()
	}
	if opts.Output == nil {
		opts.Output = io.Discard
	}
	return &Builder{cache: cache, opts: opts}
}

// Build executes stages in the given (planner-determined) order and
// returns the final stage's snapshot.
func (b *Builder) Build(ctx context.Context, stages []recipe.Stage) (*Result, error) {
	log := logger.FromContext(ctx)

	res := &Result{}
	built := make(map[string]layer.Snapshot, len(stages))

	var snap layer.Snapshot
	for _, stage := range stages {
		log.InfoContext(ctx, "building stage", "stage", stage.Name, "from", stage.From)

		base, err := b.resolveBase(ctx, stage, built, res)
		if err != nil {
			return nil, fmt.Errorf("stage %q: %w", stage.Name, err)
		}
		snap = base

		for i, ins := range stage.Instructions {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			fp, err := instructionFingerprint(snap.Fingerprint, ins, b.opts.ContextDir)
			if err != nil {
				return nil, &InstructionError{Stage: stage.Name, Index: i, Err: err}
			}
			res.Fingerprints = append(res.Fingerprints, fp)

			if cached, ok := b.cache.Get(fp); ok {
				log.DebugContext(ctx, "cache hit", "stage", stage.Name, "instruction", i+1, "fingerprint", fp)
				snap = cached
				res.CacheHits++
				continue
			}

			next, err := b.apply(ctx, snap, ins, stage.Name, i)
			if err != nil {
				return nil, err
			}

			stored, err := b.cache.Put(fp, next)
			if err != nil {
				return nil, fmt.Errorf("stage %q: cache snapshot: %w", stage.Name, err)
			}
			snap = stored
			res.Executed++
		}

		built[stage.Name] = snap
	}

	res.Snapshot = snap
	return res, nil
}

// resolveBase returns the starting snapshot for a stage: a previously
// built stage's snapshot, or a materialized external base.
//
// Pulling external bases is an opaque step outside this core; the
// materialized base is an empty rootfs tagged with the normalized image
// reference, cached under the reference's fingerprint like any layer.
func (b *Builder) resolveBase(ctx context.Context, stage recipe.Stage, built map[string]layer.Snapshot, res *Result) (layer.Snapshot, error) {
	if snap, ok := built[stage.From]; ok {
		return snap, nil
	}

	named, err := reference.ParseNormalizedNamed(stage.From)
	if err != nil {
		return layer.Snapshot{}, fmt.Errorf("parse base reference %q: %w", stage.From, err)
	}
	ref := reference.TagNameOnly(named).String()

	fp := baseFingerprint(ref)
	if cached, ok := b.cache.Get(fp); ok {
		res.CacheHits++
		return cached, nil
	}

	staging, err := os.MkdirTemp(b.opts.StagingDir, "base-")
	if err != nil {
		return layer.Snapshot{}, fmt.Errorf("create base staging dir: %w", err)
	}

	stored, err := b.cache.Put(fp, layer.Snapshot{
		Root: staging,
		Meta: layer.Metadata{BaseRef: ref},
	})
	if err != nil {
		os.RemoveAll(staging)
		return layer.Snapshot{}, err
	}
	res.Executed++
	return stored, nil
}

// apply executes one instruction on top of the parent snapshot. Metadata
// instructions share the parent's rootfs; run and copy clone it into a
// staging directory first. The parent is never modified.
func (b *Builder) apply(ctx context.Context, parent layer.Snapshot, ins recipe.Instruction, stage string, index int) (layer.Snapshot, error) {
	meta := parent.Meta.Clone()

	switch ins.Kind() {
	case recipe.KindEnv:
		if meta.Env == nil {
			meta.Env = make(map[string]string)
		}
		meta.Env[ins.Env.Key] = ins.Env.Value

	case recipe.KindExpose:
		if !slices.Contains(meta.ExposedPorts, ins.Expose) {
			meta.ExposedPorts = append(meta.ExposedPorts, ins.Expose)
		}

	case recipe.KindHealthcheck:
		hc := *ins.Healthcheck
		hc.Command = slices.Clone(ins.Healthcheck.Command)
		meta.Healthcheck = &hc

	case recipe.KindEntrypoint:
		meta.Entrypoint = slices.Clone(ins.Entrypoint)

	case recipe.KindRun:
		return b.applyRun(ctx, parent, meta, ins.Run, stage, index)

	case recipe.KindCopy:
		return b.applyCopy(ctx, parent, meta, ins.Copy, stage, index)
	}

	return layer.Snapshot{Root: parent.Root, Meta: meta}, nil
}

func (b *Builder) applyRun(ctx context.Context, parent layer.Snapshot, meta layer.Metadata, command, stage string, index int) (layer.Snapshot, error) {
	staging, err := b.cloneRootfs(parent)
	if err != nil {
		return layer.Snapshot{}, &InstructionError{Stage: stage, Index: index, Err: err}
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, b.opts.Shell, "-c", command)
	cmd.Dir = staging
	cmd.Env = mergeEnv(os.Environ(), meta.Env)
	cmd.Stdout = b.opts.Output
	cmd.Stderr = io.MultiWriter(b.opts.Output, &stderr)

	if err := cmd.Run(); err != nil {
		os.RemoveAll(staging)
		if ctx.Err() != nil {
			return layer.Snapshot{}, ctx.Err()
		}

		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return layer.Snapshot{}, &InstructionError{
			Stage:    stage,
			Index:    index,
			ExitCode: exitCode,
			Err:      fmt.Errorf("run %q: %w: %s", command, err, strings.TrimSpace(stderr.String())),
		}
	}

	return layer.Snapshot{Root: staging, Meta: meta}, nil
}

func (b *Builder) applyCopy(ctx context.Context, parent layer.Snapshot, meta layer.Metadata, cp *recipe.CopyFiles, stage string, index int) (layer.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return layer.Snapshot{}, err
	}

	staging, err := b.cloneRootfs(parent)
	if err != nil {
		return layer.Snapshot{}, &InstructionError{Stage: stage, Index: index, Err: err}
	}

	src, err := resolveContextPath(b.opts.ContextDir, cp.Src)
	if err == nil {
		var dest string
		dest, err = securejoin.SecureJoin(staging, cp.Dest)
		if err == nil {
			err = copyTree(src, dest)
		}
	}
	if err != nil {
		os.RemoveAll(staging)
		return layer.Snapshot{}, &InstructionError{
			Stage: stage,
			Index: index,
			Err:   fmt.Errorf("copy %q to %q: %w", cp.Src, cp.Dest, err),
		}
	}

	return layer.Snapshot{Root: staging, Meta: meta}, nil
}

// cloneRootfs copies the parent's rootfs into a fresh staging directory.
// Cached layers are read-only; mutation always happens on a clone.
func (b *Builder) cloneRootfs(parent layer.Snapshot) (string, error) {
	staging, err := os.MkdirTemp(b.opts.StagingDir, "layer-")
	if err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	if parent.Root != "" {
		if err := copyDir(parent.Root, staging); err != nil {
			os.RemoveAll(staging)
			return "", fmt.Errorf("clone parent rootfs: %w", err)
		}
	}
	return staging, nil
}

// mergeEnv overlays the accumulated build env onto the host environment.
// Base order is preserved; new keys are appended sorted so the resulting
// env is stable across runs.
func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}

	remaining := maps.Clone(overrides)
	merged := make([]string, 0, len(base)+len(overrides))
	for _, entry := range base {
		k, _, ok := strings.Cut(entry, "=")
		if ok {
			if v, replaced := remaining[k]; replaced {
				merged = append(merged, k+"="+v)
				delete(remaining, k)
				continue
			}
		}
		merged = append(merged, entry)
	}

	extra := make([]string, 0, len(remaining))
	for k, v := range remaining {
		extra = append(extra, k+"="+v)
	}
	sort.Strings(extra)
	return append(merged, extra...)
}
