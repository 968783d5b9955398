package builds

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kilnhq/kiln/lib/images"
	"github.com/kilnhq/kiln/lib/layer"
	"github.com/kilnhq/kiln/lib/paths"
	"github.com/kilnhq/kiln/lib/planner"
)

func testBuildManager(t *testing.T, cfg Config) (Manager, images.Manager) {
	t.Helper()
	p := paths.New(t.TempDir())
	require.NoError(t, p.EnsureDirs())

	cache, err := layer.Open(p.LayersDir())
	require.NoError(t, err)

	imageMgr := images.NewManager(p)
	return NewManager(p, cfg, cache, imageMgr, nil, nil), imageMgr
}

func waitStatus(t *testing.T, m Manager, id string, want Status) *Build {
	t.Helper()
	var build *Build
	require.Eventually(t, func() bool {
		var err error
		build, err = m.GetBuild(context.Background(), id)
		return err == nil && build.Status == want
	}, 10*time.Second, 20*time.Millisecond, "build %s did not reach %s", id, want)
	return build
}

const simpleRecipe = `
stages:
  - name: app
    from: alpine
    instructions:
      - run: echo building > build.txt
      - entrypoint: ["/bin/app"]
`

func TestBuildRunsToSuccess(t *testing.T) {
	m, imageMgr := testBuildManager(t, DefaultConfig())
	ctx := context.Background()

	build, err := m.CreateBuild(ctx, CreateBuildRequest{Name: "api"}, []byte(simpleRecipe))
	require.NoError(t, err)
	require.Equal(t, 1, build.Stages)

	done := waitStatus(t, m, build.ID, StatusSucceeded)
	require.Equal(t, "img-api", done.ImageID)
	require.NotZero(t, done.Executed)
	require.NotNil(t, done.FinishedAt)
	require.Empty(t, done.Error)

	img, err := imageMgr.GetImage(ctx, "img-api")
	require.NoError(t, err)
	require.Equal(t, []string{"/bin/app"}, img.Config.Entrypoint)

	logs, err := m.GetBuildLogs(ctx, build.ID)
	require.NoError(t, err)
	_ = logs
}

func TestCreateBuildRejectsBadRecipeBeforeExecution(t *testing.T) {
	m, _ := testBuildManager(t, DefaultConfig())
	ctx := context.Background()

	t.Run("unparseable", func(t *testing.T) {
		_, err := m.CreateBuild(ctx, CreateBuildRequest{}, []byte(":::"))
		require.Error(t, err)
	})

	t.Run("cyclic stages", func(t *testing.T) {
		src := `
stages:
  - name: a
    from: b
  - name: b
    from: a
`
		_, err := m.CreateBuild(ctx, CreateBuildRequest{}, []byte(src))
		require.ErrorIs(t, err, planner.ErrCyclicDependency)
	})

	// Nothing was recorded for the rejected builds.
	list, err := m.ListBuilds(ctx)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestBuildFailureRecordsError(t *testing.T) {
	m, imageMgr := testBuildManager(t, DefaultConfig())
	ctx := context.Background()

	src := `
stages:
  - name: app
    from: alpine
    instructions:
      - run: echo some output; exit 2
      - entrypoint: ["/bin/app"]
`
	build, err := m.CreateBuild(ctx, CreateBuildRequest{Name: "broken"}, []byte(src))
	require.NoError(t, err)

	done := waitStatus(t, m, build.ID, StatusFailed)
	require.Contains(t, done.Error, "exit")
	require.Empty(t, done.ImageID)

	// A failed build never registers an image.
	_, err = imageMgr.GetImage(ctx, "img-broken")
	require.ErrorIs(t, err, images.ErrNotFound)

	logs, err := m.GetBuildLogs(ctx, build.ID)
	require.NoError(t, err)
	require.Contains(t, string(logs), "some output")
}

func TestCacheReuseAcrossBuilds(t *testing.T) {
	m, _ := testBuildManager(t, DefaultConfig())
	ctx := context.Background()

	b1, err := m.CreateBuild(ctx, CreateBuildRequest{Name: "api"}, []byte(simpleRecipe))
	require.NoError(t, err)
	first := waitStatus(t, m, b1.ID, StatusSucceeded)
	require.NotZero(t, first.Executed)

	b2, err := m.CreateBuild(ctx, CreateBuildRequest{Name: "api-again"}, []byte(simpleRecipe))
	require.NoError(t, err)
	second := waitStatus(t, m, b2.ID, StatusSucceeded)

	require.Zero(t, second.Executed, "identical recipe is served entirely from cache")
	require.NotZero(t, second.CacheHits)
}

func TestCancelQueuedBuild(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentBuilds = 1
	m, _ := testBuildManager(t, cfg)
	ctx := context.Background()

	slow := `
stages:
  - name: app
    from: alpine
    instructions:
      - run: sleep 30
      - entrypoint: ["/bin/app"]
`
	running, err := m.CreateBuild(ctx, CreateBuildRequest{Name: "running"}, []byte(slow))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		b, err := m.GetBuild(ctx, running.ID)
		return err == nil && b.Status == StatusRunning
	}, 5*time.Second, 20*time.Millisecond)

	queued, err := m.CreateBuild(ctx, CreateBuildRequest{Name: "queued"}, []byte(simpleRecipe))
	require.NoError(t, err)
	require.NotNil(t, queued.QueuePosition)
	require.Equal(t, 1, *queued.QueuePosition)

	// Canceling a queued build never runs it.
	require.NoError(t, m.CancelBuild(ctx, queued.ID))
	b, err := m.GetBuild(ctx, queued.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCanceled, b.Status)
	require.Zero(t, b.Executed)

	// Canceling the running build interrupts it.
	require.NoError(t, m.CancelBuild(ctx, running.ID))
	waitStatus(t, m, running.ID, StatusCanceled)
}

func TestCancelFinishedBuild(t *testing.T) {
	m, _ := testBuildManager(t, DefaultConfig())
	ctx := context.Background()

	build, err := m.CreateBuild(ctx, CreateBuildRequest{Name: "api"}, []byte(simpleRecipe))
	require.NoError(t, err)
	waitStatus(t, m, build.ID, StatusSucceeded)

	require.ErrorIs(t, m.CancelBuild(ctx, build.ID), ErrNotCancelable)
}

func TestBuildNotFound(t *testing.T) {
	m, _ := testBuildManager(t, DefaultConfig())
	ctx := context.Background()

	_, err := m.GetBuild(ctx, "nope")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, m.CancelBuild(ctx, "nope"), ErrNotFound)
	_, err = m.GetBuildLogs(ctx, "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRecoverInterruptedBuilds(t *testing.T) {
	p := paths.New(t.TempDir())
	require.NoError(t, p.EnsureDirs())

	interrupted := &Build{ID: "abc123", Name: "api", Status: StatusRunning, CreatedAt: time.Now().UTC()}
	finished := &Build{ID: "def456", Name: "done", Status: StatusSucceeded, CreatedAt: time.Now().UTC()}
	require.NoError(t, writeRecord(p, interrupted))
	require.NoError(t, writeRecord(p, finished))

	cache, err := layer.Open(p.LayersDir())
	require.NoError(t, err)
	m := NewManager(p, DefaultConfig(), cache, images.NewManager(p), nil, nil)

	got, err := m.GetBuild(context.Background(), "abc123")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)
	require.True(t, strings.Contains(got.Error, "interrupted"))
	require.NotNil(t, got.FinishedAt)

	untouched, err := m.GetBuild(context.Background(), "def456")
	require.NoError(t, err)
	require.Equal(t, StatusSucceeded, untouched.Status)
	require.Empty(t, untouched.Error)
}
