// Package instances runs images as supervised processes.
//
// Each instance wraps one supervisor. The manager never restarts an
// instance whose process exited; the record stays around, terminal, until
// deleted.
package instances

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nrednav/cuid2"
	"github.com/samber/lo"

	"github.com/kilnhq/kiln/lib/images"
	"github.com/kilnhq/kiln/lib/logger"
	"github.com/kilnhq/kiln/lib/otel"
	"github.com/kilnhq/kiln/lib/paths"
	"github.com/kilnhq/kiln/lib/supervisor"
)

// How long DeleteInstance waits for a SIGTERM'd process before killing it.
const stopGracePeriod = 10 * time.Second

// Manager handles instance lifecycle operations.
type Manager interface {
	CreateInstance(ctx context.Context, req CreateInstanceRequest) (*Instance, error)
	ListInstances(ctx context.Context) ([]*Instance, error)
	GetInstance(ctx context.Context, id string) (*Instance, error)
	DeleteInstance(ctx context.Context, id string) error
	GetInstanceLogs(ctx context.Context, id string, tail int) ([]string, error)
}

type managed struct {
	meta Instance
	sup  *supervisor.Supervisor
	log  *os.File
}

type manager struct {
	paths   *paths.Paths
	images  images.Manager
	metrics *otel.SupervisorMetrics

	mu        sync.Mutex
	instances map[string]*managed
}

// NewManager creates a new instance manager. Metrics may be nil.
func NewManager(p *paths.Paths, imageMgr images.Manager, metrics *otel.SupervisorMetrics) Manager {
	return &manager{
		paths:     p,
		images:    imageMgr,
		metrics:   metrics,
		instances: make(map[string]*managed),
	}
}

func (m *manager) CreateInstance(ctx context.Context, req CreateInstanceRequest) (*Instance, error) {
	log := logger.FromContext(ctx)

	desc, err := m.images.GetImage(ctx, req.ImageID)
	if err != nil {
		return nil, fmt.Errorf("resolve image %q: %w", req.ImageID, err)
	}

	id := "inst-" + cuid2.Generate()
	if err := os.MkdirAll(m.paths.InstanceDir(id), 0755); err != nil {
		return nil, fmt.Errorf("create instance directory: %w", err)
	}

	logFile, err := os.Create(m.paths.InstanceLog(id))
	if err != nil {
		return nil, fmt.Errorf("create instance log: %w", err)
	}

	sup, err := supervisor.Start(ctx, supervisor.Config{
		Command:      desc.Config.Entrypoint,
		Env:          mergeInstanceEnv(desc.Config.Env, req.Env),
		Dir:          desc.RootFS,
		Healthcheck:  desc.Healthcheck,
		Stdout:       logFile,
		Stderr:       logFile,
		Logger:       log.With("instance", id),
		OnTransition: m.recordTransition(id),
	})
	if err != nil {
		logFile.Close()
		os.RemoveAll(m.paths.InstanceDir(id))
		return nil, fmt.Errorf("start instance: %w", err)
	}

	inst := &managed{
		meta: Instance{
			ID:        id,
			ImageID:   req.ImageID,
			Env:       req.Env,
			CreatedAt: time.Now().UTC(),
		},
		sup: sup,
		log: logFile,
	}

	m.mu.Lock()
	m.instances[id] = inst
	m.mu.Unlock()

	log.InfoContext(ctx, "created instance", "id", id, "image", req.ImageID)
	return m.snapshot(inst), nil
}

func (m *manager) ListInstances(ctx context.Context) ([]*Instance, error) {
	m.mu.Lock()
	all := lo.Values(m.instances)
	m.mu.Unlock()

	out := lo.Map(all, func(inst *managed, _ int) *Instance {
		return m.snapshot(inst)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *manager) GetInstance(ctx context.Context, id string) (*Instance, error) {
	m.mu.Lock()
	inst, ok := m.instances[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.snapshot(inst), nil
}

func (m *manager) DeleteInstance(ctx context.Context, id string) error {
	m.mu.Lock()
	inst, ok := m.instances[id]
	if ok {
		delete(m.instances, id)
	}
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	stopCtx, cancel := context.WithTimeout(ctx, stopGracePeriod)
	defer cancel()
	if err := inst.sup.Stop(stopCtx); err != nil {
		logger.FromContext(ctx).WarnContext(ctx, "stop instance", "id", id, "error", err)
	}

	inst.log.Close()
	if err := os.RemoveAll(m.paths.InstanceDir(id)); err != nil {
		return fmt.Errorf("remove instance directory: %w", err)
	}

	logger.FromContext(ctx).InfoContext(ctx, "deleted instance", "id", id)
	return nil
}

// GetInstanceLogs returns up to tail lines from the end of the instance's
// captured output.
func (m *manager) GetInstanceLogs(ctx context.Context, id string, tail int) ([]string, error) {
	m.mu.Lock()
	inst, ok := m.instances[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}

	data, err := os.ReadFile(m.paths.InstanceLog(inst.meta.ID))
	if err != nil {
		return nil, fmt.Errorf("read instance log: %w", err)
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return []string{}, nil
	}
	if tail > 0 && len(lines) > tail {
		lines = lines[len(lines)-tail:]
	}
	return lines, nil
}

// snapshot copies the instance record with the supervisor's current state.
func (m *manager) snapshot(inst *managed) *Instance {
	out := inst.meta
	out.State = inst.sup.State()
	if code, exited := inst.sup.ExitCode(); exited {
		out.ExitCode = &code
	}
	return &out
}

func (m *manager) recordTransition(id string) func(from, to supervisor.State) {
	if m.metrics == nil {
		return nil
	}
	return func(from, to supervisor.State) {
		m.metrics.RecordTransition(context.Background(), id, string(from), string(to))
	}
}

// mergeInstanceEnv overlays launch-time overrides onto the image's env
// defaults. Defaults keep their position; overridden keys are replaced in
// place and new keys appended sorted.
func mergeInstanceEnv(defaults []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return defaults
	}

	remaining := make(map[string]string, len(overrides))
	for k, v := range overrides {
		remaining[k] = v
	}

	merged := make([]string, 0, len(defaults)+len(overrides))
	for _, entry := range defaults {
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

	extra := lo.MapToSlice(remaining, func(k, v string) string { return k + "=" + v })
	sort.Strings(extra)
	return append(merged, extra...)
}
