package instances

import (
	"context"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/require"

	"github.com/kilnhq/kiln/lib/images"
	"github.com/kilnhq/kiln/lib/layer"
	"github.com/kilnhq/kiln/lib/paths"
	"github.com/kilnhq/kiln/lib/supervisor"
)

func testSetup(t *testing.T) (Manager, images.Manager) {
	t.Helper()
	p := paths.New(t.TempDir())
	require.NoError(t, p.EnsureDirs())
	imageMgr := images.NewManager(p)
	return NewManager(p, imageMgr, nil), imageMgr
}

func registerImage(t *testing.T, imageMgr images.Manager, id string, entrypoint []string, env map[string]string) {
	t.Helper()
	desc, err := images.Assemble(id, layer.Snapshot{
		Fingerprint: digest.FromString(id),
		Root:        t.TempDir(),
		Meta: layer.Metadata{
			Entrypoint: entrypoint,
			Env:        env,
		},
	})
	require.NoError(t, err)
	require.NoError(t, imageMgr.Register(context.Background(), desc))
}

func TestCreateAndGetInstance(t *testing.T) {
	m, imageMgr := testSetup(t)
	ctx := context.Background()

	registerImage(t, imageMgr, "img-api", []string{"/bin/sleep", "30"}, nil)

	inst, err := m.CreateInstance(ctx, CreateInstanceRequest{ImageID: "img-api"})
	require.NoError(t, err)
	defer m.DeleteInstance(ctx, inst.ID)

	require.NotEmpty(t, inst.ID)
	require.Equal(t, "img-api", inst.ImageID)
	require.Equal(t, supervisor.StateReady, inst.State)
	require.Nil(t, inst.ExitCode)

	got, err := m.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	require.Equal(t, inst.ID, got.ID)
}

func TestCreateInstanceUnknownImage(t *testing.T) {
	m, _ := testSetup(t)

	_, err := m.CreateInstance(context.Background(), CreateInstanceRequest{ImageID: "img-missing"})
	require.ErrorIs(t, err, images.ErrNotFound)
}

func TestInstanceExitCodeSurfaces(t *testing.T) {
	m, imageMgr := testSetup(t)
	ctx := context.Background()

	registerImage(t, imageMgr, "img-crash", []string{"/bin/sh", "-c", "exit 5"}, nil)

	inst, err := m.CreateInstance(ctx, CreateInstanceRequest{ImageID: "img-crash"})
	require.NoError(t, err)
	defer m.DeleteInstance(ctx, inst.ID)

	require.Eventually(t, func() bool {
		got, err := m.GetInstance(ctx, inst.ID)
		return err == nil && got.State == supervisor.StateTerminated
	}, 2*time.Second, 10*time.Millisecond)

	got, err := m.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ExitCode)
	require.Equal(t, 5, *got.ExitCode)
}

func TestDeleteInstance(t *testing.T) {
	m, imageMgr := testSetup(t)
	ctx := context.Background()

	registerImage(t, imageMgr, "img-api", []string{"/bin/sleep", "30"}, nil)

	inst, err := m.CreateInstance(ctx, CreateInstanceRequest{ImageID: "img-api"})
	require.NoError(t, err)

	require.NoError(t, m.DeleteInstance(ctx, inst.ID))

	_, err = m.GetInstance(ctx, inst.ID)
	require.ErrorIs(t, err, ErrNotFound)

	require.ErrorIs(t, m.DeleteInstance(ctx, inst.ID), ErrNotFound)
}

func TestListInstancesSorted(t *testing.T) {
	m, imageMgr := testSetup(t)
	ctx := context.Background()

	registerImage(t, imageMgr, "img-api", []string{"/bin/sleep", "30"}, nil)

	var ids []string
	for i := 0; i < 3; i++ {
		inst, err := m.CreateInstance(ctx, CreateInstanceRequest{ImageID: "img-api"})
		require.NoError(t, err)
		ids = append(ids, inst.ID)
		defer m.DeleteInstance(ctx, inst.ID)
	}

	list, err := m.ListInstances(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i := 1; i < len(list); i++ {
		require.Less(t, list[i-1].ID, list[i].ID)
	}
}

func TestGetInstanceLogs(t *testing.T) {
	m, imageMgr := testSetup(t)
	ctx := context.Background()

	registerImage(t, imageMgr, "img-chatty",
		[]string{"/bin/sh", "-c", "echo one; echo two; echo three; sleep 30"}, nil)

	inst, err := m.CreateInstance(ctx, CreateInstanceRequest{ImageID: "img-chatty"})
	require.NoError(t, err)
	defer m.DeleteInstance(ctx, inst.ID)

	require.Eventually(t, func() bool {
		lines, err := m.GetInstanceLogs(ctx, inst.ID, 0)
		return err == nil && len(lines) == 3
	}, 2*time.Second, 10*time.Millisecond)

	lines, err := m.GetInstanceLogs(ctx, inst.ID, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"two", "three"}, lines)
}

func TestInstanceEnvOverrides(t *testing.T) {
	m, imageMgr := testSetup(t)
	ctx := context.Background()

	registerImage(t, imageMgr, "img-env",
		[]string{"/bin/sh", "-c", `printf '%s %s' "$GREETING" "$EXTRA"; sleep 30`},
		map[string]string{"GREETING": "default"})

	inst, err := m.CreateInstance(ctx, CreateInstanceRequest{
		ImageID: "img-env",
		Env:     map[string]string{"GREETING": "override", "EXTRA": "added"},
	})
	require.NoError(t, err)
	defer m.DeleteInstance(ctx, inst.ID)

	require.Eventually(t, func() bool {
		lines, err := m.GetInstanceLogs(ctx, inst.ID, 0)
		return err == nil && len(lines) == 1 && lines[0] == "override added"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMergeInstanceEnv(t *testing.T) {
	defaults := []string{"PORT=8001", "MODE=prod"}

	tests := []struct {
		name      string
		overrides map[string]string
		expected  []string
	}{
		{"no overrides", nil, []string{"PORT=8001", "MODE=prod"}},
		{"replace in place", map[string]string{"PORT": "9000"}, []string{"PORT=9000", "MODE=prod"}},
		{"append sorted", map[string]string{"Z": "1", "A": "2"}, []string{"PORT=8001", "MODE=prod", "A=2", "Z=1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, mergeInstanceEnv(defaults, tt.overrides))
		})
	}
}
