package planner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kilnhq/kiln/lib/recipe"
)

func stage(name, from string) recipe.Stage {
	return recipe.Stage{Name: name, From: from}
}

func names(stages []recipe.Stage) []string {
	out := make([]string, len(stages))
	for i, s := range stages {
		out[i] = s.Name
	}
	return out
}

func TestPlanOrdersDependenciesFirst(t *testing.T) {
	// Declared out of dependency order: app derives from deps, which is
	// declared after it.
	stages := []recipe.Stage{
		stage("app", "deps"),
		stage("deps", "alpine:3.20"),
	}

	ordered, err := Plan(stages)
	require.NoError(t, err)
	require.Equal(t, []string{"deps", "app"}, names(ordered))
}

func TestPlanPreservesDeclarationOrder(t *testing.T) {
	// Independent stages keep their declared order, so the same recipe
	// always plans identically.
	stages := []recipe.Stage{
		stage("c", "alpine"),
		stage("a", "alpine"),
		stage("b", "c"),
	}

	ordered, err := Plan(stages)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "a", "b"}, names(ordered))
}

func TestPlanDiamond(t *testing.T) {
	stages := []recipe.Stage{
		stage("final", "right"),
		stage("base", "alpine"),
		stage("left", "base"),
		stage("right", "base"),
	}

	ordered, err := Plan(stages)
	require.NoError(t, err)
	require.Equal(t, []string{"base", "left", "right", "final"}, names(ordered))
}

func TestPlanCycle(t *testing.T) {
	stages := []recipe.Stage{
		stage("a", "b"),
		stage("b", "a"),
	}

	_, err := Plan(stages)
	require.ErrorIs(t, err, ErrCyclicDependency)
}

func TestPlanSelfReference(t *testing.T) {
	stages := []recipe.Stage{stage("a", "a")}

	_, err := Plan(stages)
	require.ErrorIs(t, err, ErrCyclicDependency)
}

func TestPlanUnknownBase(t *testing.T) {
	// Not a declared stage, and uppercase repository names are not valid
	// image references either.
	stages := []recipe.Stage{stage("a", "NOT A REF")}

	_, err := Plan(stages)
	require.ErrorIs(t, err, ErrUnknownBase)
}

func TestPlanExternalBases(t *testing.T) {
	tests := []struct {
		name string
		from string
	}{
		{"shorthand", "alpine"},
		{"tagged", "alpine:3.20"},
		{"fully qualified", "docker.io/library/nginx:latest"},
		{"digest", "alpine@sha256:0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ordered, err := Plan([]recipe.Stage{stage("only", tt.from)})
			require.NoError(t, err)
			require.Len(t, ordered, 1)
		})
	}
}
