package supervisor

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// commandProbe returns a Probe that runs the healthcheck command. Exit
// code 0 means healthy. The command is killed when the probe context
// expires, so a hung probe counts as a failure instead of accumulating.
func commandProbe(command []string) Probe {
	return func(ctx context.Context) error {
		cmd := exec.CommandContext(ctx, command[0], command[1:]...)
		out, err := cmd.CombinedOutput()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("probe timed out: %w", ctx.Err())
			}
			return fmt.Errorf("probe failed: %w: %s", err, firstLine(out))
		}
		return nil
	}
}

func firstLine(out []byte) string {
	s := strings.TrimSpace(string(out))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
