package device

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// runEject runs the configured eject command through the shell. An empty
// command does nothing.
func runEject(ctx context.Context, command string) error {
	if strings.TrimSpace(command) == "" {
		return nil
	}
	out, err := exec.CommandContext(ctx, "sh", "-c", command).CombinedOutput()
	if err != nil {
		return fmt.Errorf("eject command %q: %w: %s", command, err, strings.TrimSpace(string(out)))
	}
	return nil
}
