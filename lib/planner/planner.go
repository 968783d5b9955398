// Package planner resolves stage base references into an executable order.
//
// A stage's base may name another stage or an external image. The planner
// orders stages so every stage appears after its base, preserving
// declaration order among independent stages so repeated builds of the
// same recipe always plan identically.
package planner

import (
	"errors"
	"fmt"

	"github.com/distribution/reference"

	"github.com/kilnhq/kiln/lib/recipe"
)

var (
	ErrCyclicDependency = errors.New("cyclic stage dependency")
	ErrUnknownBase      = errors.New("unknown base reference")
)

// Plan returns the stages in execution order.
//
// Fails with ErrCyclicDependency when the base-reference graph contains a
// cycle, and with ErrUnknownBase when a base is neither a declared stage
// nor a parseable external image reference.
func Plan(stages []recipe.Stage) ([]recipe.Stage, error) {
	index := make(map[string]int, len(stages))
	for i, s := range stages {
		index[s.Name] = i
	}

	// base[i] is the index of the stage that stage i derives from, or -1
	// for an external base.
	base := make([]int, len(stages))
	for i, s := range stages {
		j, isStage := index[s.From]
		if isStage {
			if j == i {
				return nil, fmt.Errorf("%w: stage %q derives from itself", ErrCyclicDependency, s.Name)
			}
			base[i] = j
			continue
		}
		if _, err := reference.ParseNormalizedNamed(s.From); err != nil {
			return nil, fmt.Errorf("%w: stage %q: %q is not a declared stage or a valid image reference: %v",
				ErrUnknownBase, s.Name, s.From, err)
		}
		base[i] = -1
	}

	// Kahn's algorithm with a stable tie-break: each round scans the
	// remaining stages in declaration order and schedules the first whose
	// base is already placed.
	placed := make([]bool, len(stages))
	ordered := make([]recipe.Stage, 0, len(stages))
	for len(ordered) < len(stages) {
		progress := false
		for i, s := range stages {
			if placed[i] {
				continue
			}
			if base[i] >= 0 && !placed[base[i]] {
				continue
			}
			placed[i] = true
			ordered = append(ordered, s)
			progress = true
		}
		if !progress {
			return nil, fmt.Errorf("%w: %v", ErrCyclicDependency, cycleNames(stages, placed))
		}
	}

	return ordered, nil
}

// cycleNames lists the stages left unplaced when planning stalls.
func cycleNames(stages []recipe.Stage, placed []bool) []string {
	var names []string
	for i, s := range stages {
		if !placed[i] {
			names = append(names, s.Name)
		}
	}
	return names
}
