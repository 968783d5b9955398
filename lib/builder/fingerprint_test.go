package builder

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/require"

	"github.com/kilnhq/kiln/lib/recipe"
)

func TestInstructionFingerprintStable(t *testing.T) {
	parent := digest.FromString("parent")

	tests := []struct {
		name string
		ins  recipe.Instruction
	}{
		{"env", recipe.Instruction{Env: &recipe.EnvVar{Key: "PORT", Value: "8001"}}},
		{"run", recipe.Instruction{Run: "apk add curl"}},
		{"expose", recipe.Instruction{Expose: 8001}},
		{"entrypoint", recipe.Instruction{Entrypoint: []string{"python", "server.py"}}},
		{"healthcheck", recipe.Instruction{Healthcheck: &recipe.Healthcheck{
			Command:  []string{"curl", "-f", "http://localhost:8001/"},
			Interval: recipe.Duration(10 * time.Second),
			Timeout:  recipe.Duration(2 * time.Second),
			Retries:  3,
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := instructionFingerprint(parent, tt.ins, "")
			require.NoError(t, err)
			b, err := instructionFingerprint(parent, tt.ins, "")
			require.NoError(t, err)
			require.Equal(t, a, b)
		})
	}
}

func TestInstructionFingerprintVariesByPayload(t *testing.T) {
	parent := digest.FromString("parent")

	a, err := instructionFingerprint(parent, recipe.Instruction{Run: "echo a"}, "")
	require.NoError(t, err)
	b, err := instructionFingerprint(parent, recipe.Instruction{Run: "echo b"}, "")
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	// Same payload, different parent.
	c, err := instructionFingerprint(digest.FromString("other"), recipe.Instruction{Run: "echo a"}, "")
	require.NoError(t, err)
	require.NotEqual(t, a, c)
}

func TestInstructionFingerprintVariesByKind(t *testing.T) {
	// An env key/value pair and an entrypoint with the same words must not
	// collide.
	parent := digest.FromString("parent")

	a, err := instructionFingerprint(parent, recipe.Instruction{Env: &recipe.EnvVar{Key: "x", Value: "y"}}, "")
	require.NoError(t, err)
	b, err := instructionFingerprint(parent, recipe.Instruction{Entrypoint: []string{"x", "y"}}, "")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestCopyFingerprintTracksFileContent(t *testing.T) {
	contextDir := t.TempDir()
	file := filepath.Join(contextDir, "app.conf")
	require.NoError(t, os.WriteFile(file, []byte("v=1"), 0644))

	parent := digest.FromString("parent")
	ins := recipe.Instruction{Copy: &recipe.CopyFiles{Src: "app.conf", Dest: "/etc/app.conf"}}

	before, err := instructionFingerprint(parent, ins, contextDir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(file, []byte("v=2"), 0644))
	after, err := instructionFingerprint(parent, ins, contextDir)
	require.NoError(t, err)

	require.NotEqual(t, before, after)
}

func TestCopyFingerprintTracksDirectoryLayout(t *testing.T) {
	contextDir := t.TempDir()
	srcDir := filepath.Join(contextDir, "src")
	require.NoError(t, os.MkdirAll(srcDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("data"), 0644))

	parent := digest.FromString("parent")
	ins := recipe.Instruction{Copy: &recipe.CopyFiles{Src: "src", Dest: "/app"}}

	before, err := instructionFingerprint(parent, ins, contextDir)
	require.NoError(t, err)

	// Renaming a file changes the encoding even though the bytes are the
	// same.
	require.NoError(t, os.Rename(filepath.Join(srcDir, "a.txt"), filepath.Join(srcDir, "b.txt")))
	after, err := instructionFingerprint(parent, ins, contextDir)
	require.NoError(t, err)
	require.NotEqual(t, before, after)
}

func TestCopyFingerprintRejectsEscapingSource(t *testing.T) {
	contextDir := t.TempDir()
	parent := digest.FromString("parent")

	_, err := instructionFingerprint(parent, recipe.Instruction{
		Copy: &recipe.CopyFiles{Src: "/etc/passwd", Dest: "/x"},
	}, contextDir)
	require.Error(t, err)
}

func TestBaseFingerprintVariesByRef(t *testing.T) {
	a := baseFingerprint("docker.io/library/alpine:3.20")
	b := baseFingerprint("docker.io/library/alpine:3.21")
	require.NotEqual(t, a, b)
	require.Equal(t, a, baseFingerprint("docker.io/library/alpine:3.20"))
}
