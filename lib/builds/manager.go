// Package builds runs the build pipeline: parse the recipe, plan the
// stage order, execute stages against the layer cache, assemble the image
// descriptor, and register it with the image store.
//
// Planning errors surface synchronously from CreateBuild, before any
// execution begins. Execution and assembly errors fail the build job; a
// failed build never registers an image.
package builds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/nrednav/cuid2"

	"github.com/kilnhq/kiln/lib/builder"
	"github.com/kilnhq/kiln/lib/images"
	"github.com/kilnhq/kiln/lib/layer"
	"github.com/kilnhq/kiln/lib/logger"
	"github.com/kilnhq/kiln/lib/paths"
	"github.com/kilnhq/kiln/lib/planner"
	"github.com/kilnhq/kiln/lib/recipe"
)

// Manager interface for the build system.
type Manager interface {
	// CreateBuild validates and plans the recipe, then starts or queues
	// the build job.
	CreateBuild(ctx context.Context, req CreateBuildRequest, recipeSrc []byte) (*Build, error)

	// GetBuild returns a build by ID.
	GetBuild(ctx context.Context, id string) (*Build, error)

	// ListBuilds returns all builds.
	ListBuilds(ctx context.Context) ([]*Build, error)

	// CancelBuild cancels a pending or running build.
	CancelBuild(ctx context.Context, id string) error

	// GetBuildLogs returns the captured output of a build.
	GetBuildLogs(ctx context.Context, id string) ([]byte, error)

	// RecoverInterruptedBuilds marks builds left non-terminal by a
	// previous run as failed.
	RecoverInterruptedBuilds()
}

// Config holds configuration for the build manager.
type Config struct {
	// MaxConcurrentBuilds is the maximum number of builds running at once.
	MaxConcurrentBuilds int

	// BuildTimeout bounds a single build job.
	BuildTimeout time.Duration

	// Shell runs the recipe's run instructions.
	Shell string

	// MaxLogSize caps a build's log file.
	MaxLogSize datasize.ByteSize
}

// DefaultConfig returns the default build manager configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentBuilds: 2,
		BuildTimeout:        10 * time.Minute,
		Shell:               "/bin/sh",
		MaxLogSize:          8 * datasize.MB,
	}
}

type record struct {
	build  Build
	plan   []recipe.Stage
	req    CreateBuildRequest
	cancel context.CancelFunc
}

type manager struct {
	cfg     Config
	paths   *paths.Paths
	cache   *layer.Cache
	images  images.Manager
	logger  *slog.Logger
	metrics *Metrics
	queue   *Queue

	mu     sync.Mutex
	builds map[string]*record
}

// NewManager creates a new build manager. Metrics may be nil.
func NewManager(p *paths.Paths, cfg Config, cache *layer.Cache, imageMgr images.Manager, log *slog.Logger, metrics *Metrics) Manager {
	if log == nil {
		log = slog.Default()
	}

	m := &manager{
		cfg:     cfg,
		paths:   p,
		cache:   cache,
		images:  imageMgr,
		logger:  log,
		metrics: metrics,
		queue:   NewQueue(cfg.MaxConcurrentBuilds),
		builds:  make(map[string]*record),
	}

	m.RecoverInterruptedBuilds()
	return m
}

func (m *manager) CreateBuild(ctx context.Context, req CreateBuildRequest, recipeSrc []byte) (*Build, error) {
	r, err := recipe.Parse(recipeSrc)
	if err != nil {
		return nil, err
	}

	// Planning failures are reported here, before any execution.
	plan, err := planner.Plan(r.Stages)
	if err != nil {
		return nil, err
	}

	if req.ContextDir == "" {
		req.ContextDir = "."
	}

	id := cuid2.Generate()
	rec := &record{
		build: Build{
			ID:        id,
			Name:      req.Name,
			Status:    StatusPending,
			Stages:    len(plan),
			CreatedAt: time.Now().UTC(),
		},
		plan: plan,
		req:  req,
	}

	if err := os.MkdirAll(m.paths.BuildDir(id), 0755); err != nil {
		return nil, fmt.Errorf("create build directory: %w", err)
	}

	m.mu.Lock()
	m.builds[id] = rec
	m.mu.Unlock()
	m.persist(rec)

	pos := m.queue.Enqueue(id, func() { m.runBuild(id) })
	if pos > 0 {
		m.mu.Lock()
		rec.build.QueuePosition = &pos
		m.mu.Unlock()
	}

	m.logger.InfoContext(ctx, "created build", "id", id, "stages", len(plan), "queue_position", pos)
	return m.snapshot(rec), nil
}

func (m *manager) GetBuild(ctx context.Context, id string) (*Build, error) {
	m.mu.Lock()
	rec, ok := m.builds[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.snapshot(rec), nil
}

func (m *manager) ListBuilds(ctx context.Context) ([]*Build, error) {
	m.mu.Lock()
	all := make([]*record, 0, len(m.builds))
	for _, rec := range m.builds {
		all = append(all, rec)
	}
	m.mu.Unlock()

	out := make([]*Build, 0, len(all))
	for _, rec := range all {
		out = append(out, m.snapshot(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *manager) CancelBuild(ctx context.Context, id string) error {
	m.mu.Lock()
	rec, ok := m.builds[id]
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	// Still queued: drop it before it ever runs.
	if m.queue.Remove(id) {
		m.mu.Lock()
		rec.build.Status = StatusCanceled
		now := time.Now().UTC()
		rec.build.FinishedAt = &now
		rec.build.QueuePosition = nil
		m.mu.Unlock()
		m.persist(rec)
		return nil
	}

	m.mu.Lock()
	cancel := rec.cancel
	terminal := rec.build.Status.Terminal()
	m.mu.Unlock()

	if terminal {
		return ErrNotCancelable
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

func (m *manager) GetBuildLogs(ctx context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	_, ok := m.builds[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}

	data, err := os.ReadFile(m.paths.BuildLog(id))
	if err != nil {
		if os.IsNotExist(err) {
			return []byte{}, nil
		}
		return nil, fmt.Errorf("read build log: %w", err)
	}
	return data, nil
}

// RecoverInterruptedBuilds loads persisted records and fails any that a
// previous daemon run left non-terminal. Jobs are not resumed: a half
// executed stage cached nothing, so a retry is a fresh build that reuses
// whatever layers completed.
func (m *manager) RecoverInterruptedBuilds() {
	recs, err := listRecords(m.paths)
	if err != nil {
		m.logger.Warn("recover builds", "error", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range recs {
		if !b.Status.Terminal() {
			b.Status = StatusFailed
			b.Error = "interrupted by daemon restart"
			now := time.Now().UTC()
			b.FinishedAt = &now
		}
		b.QueuePosition = nil
		rec := &record{build: *b}
		m.builds[b.ID] = rec
		if err := writeRecord(m.paths, &rec.build); err != nil {
			m.logger.Warn("persist build record", "id", b.ID, "error", err)
		}
	}
}

// runBuild executes one build job end to end. Called from the queue on a
// dedicated goroutine.
func (m *manager) runBuild(id string) {
	defer m.queue.MarkComplete(id)

	m.mu.Lock()
	rec, ok := m.builds[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	if rec.build.Status != StatusPending {
		// Canceled while queued.
		m.mu.Unlock()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.BuildTimeout)
	defer cancel()
	rec.cancel = cancel
	rec.build.Status = StatusRunning
	rec.build.QueuePosition = nil
	plan := rec.plan
	req := rec.req
	m.mu.Unlock()
	m.persist(rec)

	log := m.logger.With("build", id)
	ctx = logger.WithContext(ctx, log)

	start := time.Now()

	logFile, err := os.Create(m.paths.BuildLog(id))
	if err != nil {
		m.finish(ctx, rec, StatusFailed, "", fmt.Errorf("create build log: %w", err), nil, start)
		return
	}
	defer logFile.Close()

	b := builder.New(m.cache, builder.Options{
		ContextDir: req.ContextDir,
		StagingDir: m.paths.StagingDir(),
		Shell:      m.cfg.Shell,
		Output:     newCapWriter(logFile, int64(m.cfg.MaxLogSize.Bytes())),
	})

	res, err := b.Build(ctx, plan)
	if err != nil {
		status := StatusFailed
		if errors.Is(err, context.Canceled) {
			status = StatusCanceled
		}
		m.finish(ctx, rec, status, "", err, res, start)
		return
	}

	imageID := images.GenerateImageID(req.Name, res.Snapshot.Fingerprint.Encoded())
	desc, err := images.Assemble(imageID, res.Snapshot)
	if err != nil {
		m.finish(ctx, rec, StatusFailed, "", err, res, start)
		return
	}

	if err := m.images.Register(ctx, desc); err != nil && !errors.Is(err, images.ErrAlreadyExists) {
		m.finish(ctx, rec, StatusFailed, "", err, res, start)
		return
	}

	m.finish(ctx, rec, StatusSucceeded, imageID, nil, res, start)
}

// finish records the terminal status of a build job.
func (m *manager) finish(ctx context.Context, rec *record, status Status, imageID string, buildErr error, res *builder.Result, start time.Time) {
	now := time.Now().UTC()

	m.mu.Lock()
	rec.build.Status = status
	rec.build.ImageID = imageID
	rec.build.FinishedAt = &now
	if buildErr != nil {
		rec.build.Error = buildErr.Error()
	}
	if res != nil {
		rec.build.Executed = res.Executed
		rec.build.CacheHits = res.CacheHits
	}
	executed, hits := rec.build.Executed, rec.build.CacheHits
	m.mu.Unlock()
	m.persist(rec)

	log := logger.FromContext(ctx)
	if buildErr != nil {
		log.ErrorContext(ctx, "build finished", "status", status, "error", buildErr)
	} else {
		log.InfoContext(ctx, "build finished", "status", status, "image", imageID,
			"executed", executed, "cache_hits", hits)
	}

	if m.metrics != nil {
		m.metrics.RecordBuild(ctx, status, time.Since(start), executed, hits)
	}
}

// snapshot copies a record's Build with a live queue position.
func (m *manager) snapshot(rec *record) *Build {
	m.mu.Lock()
	out := rec.build
	m.mu.Unlock()

	if out.Status == StatusPending {
		out.QueuePosition = m.queue.Position(out.ID)
	}
	return &out
}

func (m *manager) persist(rec *record) {
	m.mu.Lock()
	b := rec.build
	m.mu.Unlock()
	if err := writeRecord(m.paths, &b); err != nil {
		m.logger.Warn("persist build record", "id", b.ID, "error", err)
	}
}
