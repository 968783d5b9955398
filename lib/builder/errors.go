package builder

import (
	"errors"
	"fmt"
)

var ErrInstructionFailed = errors.New("instruction failed")

// InstructionError reports a failed build instruction with enough context
// to reproduce the step in isolation.
type InstructionError struct {
	Stage    string // stage name
	Index    int    // zero-based instruction index within the stage
	ExitCode int    // exit code for run instructions, 0 otherwise
	Err      error
}

func (e *InstructionError) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("stage %q, instruction %d: exit code %d: %v", e.Stage, e.Index+1, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("stage %q, instruction %d: %v", e.Stage, e.Index+1, e.Err)
}

func (e *InstructionError) Unwrap() error {
	return e.Err
}

func (e *InstructionError) Is(target error) bool {
	return target == ErrInstructionFailed
}
