package recipe

import (
	"errors"
	"fmt"

	"github.com/ghodss/yaml"
)

// Default number of consecutive probe failures before an instance is
// marked unhealthy, when the recipe does not say.
const defaultHealthcheckRetries = 3

var (
	ErrEmptyRecipe    = errors.New("recipe declares no stages")
	ErrDuplicateStage = errors.New("duplicate stage name")
)

// Parse decodes a YAML recipe and validates its shape.
//
// Unnamed stages are assigned a positional name ("stage-1", "stage-2", ...)
// so later stages and build output can reference them uniformly. Whether a
// stage's base resolves to another stage or an external image is decided by
// the planner, not here.
func Parse(src []byte) (*Recipe, error) {
	var r Recipe
	if err := yaml.Unmarshal(src, &r); err != nil {
		return nil, fmt.Errorf("decode recipe: %w", err)
	}

	if len(r.Stages) == 0 {
		return nil, ErrEmptyRecipe
	}

	seen := make(map[string]bool, len(r.Stages))
	for i := range r.Stages {
		stage := &r.Stages[i]
		if stage.Name == "" {
			stage.Name = fmt.Sprintf("stage-%d", i+1)
		}
		if seen[stage.Name] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateStage, stage.Name)
		}
		seen[stage.Name] = true

		if stage.From == "" {
			return nil, fmt.Errorf("stage %q: missing base reference", stage.Name)
		}

		for j, ins := range stage.Instructions {
			if err := ins.Validate(); err != nil {
				return nil, fmt.Errorf("stage %q, instruction %d: %w", stage.Name, j+1, err)
			}
			if ins.Healthcheck != nil && ins.Healthcheck.Retries == 0 {
				stage.Instructions[j].Healthcheck.Retries = defaultHealthcheckRetries
			}
		}
	}

	return &r, nil
}
