// Package recipe defines the build recipe model: named stages, each with a
// base reference and an ordered list of instructions.
package recipe

import (
	"encoding/json"
	"fmt"
	"time"
)

// InstructionKind identifies which variant of an instruction is set.
type InstructionKind string

const (
	KindEnv         InstructionKind = "env"
	KindRun         InstructionKind = "run"
	KindCopy        InstructionKind = "copy"
	KindExpose      InstructionKind = "expose"
	KindHealthcheck InstructionKind = "healthcheck"
	KindEntrypoint  InstructionKind = "entrypoint"
)

// Recipe is an ordered list of stage declarations.
type Recipe struct {
	Stages []Stage `json:"stages"`
}

// Stage is one named phase of a build. From references either an external
// base image or another stage by name.
type Stage struct {
	Name         string        `json:"name,omitempty"`
	From         string        `json:"from"`
	Instructions []Instruction `json:"instructions"`
}

// Instruction is a tagged variant. Exactly one field may be set.
type Instruction struct {
	Env         *EnvVar      `json:"env,omitempty"`
	Run         string       `json:"run,omitempty"`
	Copy        *CopyFiles   `json:"copy,omitempty"`
	Expose      int          `json:"expose,omitempty"`
	Healthcheck *Healthcheck `json:"healthcheck,omitempty"`
	Entrypoint  []string     `json:"entrypoint,omitempty"`
}

// EnvVar sets a default environment variable on the image.
type EnvVar struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// CopyFiles copies a file or directory from the build context into the
// stage filesystem.
type CopyFiles struct {
	Src  string `json:"src"`
	Dest string `json:"dest"`
}

// Healthcheck declares the periodic liveness probe for the built image.
type Healthcheck struct {
	Command     []string `json:"command"`
	Interval    Duration `json:"interval"`
	Timeout     Duration `json:"timeout"`
	Retries     int      `json:"retries,omitempty"`
	StartPeriod Duration `json:"start_period,omitempty"`
}

// Kind returns which variant of the instruction is set. Call Validate
// first; Kind is unspecified for malformed instructions.
func (i Instruction) Kind() InstructionKind {
	switch {
	case i.Env != nil:
		return KindEnv
	case i.Run != "":
		return KindRun
	case i.Copy != nil:
		return KindCopy
	case i.Expose != 0:
		return KindExpose
	case i.Healthcheck != nil:
		return KindHealthcheck
	default:
		return KindEntrypoint
	}
}

// Validate checks that exactly one variant is set and its fields are
// well-formed.
func (i Instruction) Validate() error {
	set := 0
	if i.Env != nil {
		set++
		if i.Env.Key == "" {
			return fmt.Errorf("env instruction requires a key")
		}
	}
	if i.Run != "" {
		set++
	}
	if i.Copy != nil {
		set++
		if i.Copy.Src == "" || i.Copy.Dest == "" {
			return fmt.Errorf("copy instruction requires src and dest")
		}
	}
	if i.Expose != 0 {
		set++
		if i.Expose < 1 || i.Expose > 65535 {
			return fmt.Errorf("exposed port %d out of range", i.Expose)
		}
	}
	if i.Healthcheck != nil {
		set++
		if len(i.Healthcheck.Command) == 0 {
			return fmt.Errorf("healthcheck requires a command")
		}
	}
	if len(i.Entrypoint) != 0 {
		set++
	}

	switch set {
	case 0:
		return fmt.Errorf("empty instruction")
	case 1:
		return nil
	default:
		return fmt.Errorf("instruction sets %d variants, want exactly one", set)
	}
}

// Duration is a time.Duration that marshals as a string ("5s", "1m30s").
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}
