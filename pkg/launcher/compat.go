package launcher

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/jrepp/prism-modelpool/pkg/handoff"
)

// CompatibilityChecker verifies the environment before a launch does any work
type CompatibilityChecker interface {
	Check(ctx context.Context) error
}

// CompatibilityFunc adapts a function to CompatibilityChecker
type CompatibilityFunc func(ctx context.Context) error

// Check calls f
func (f CompatibilityFunc) Check(ctx context.Context) error {
	return f(ctx)
}

// ProtocolChecker runs "<exe> version --protocol" and compares the printed
// handoff protocol with the launcher's own.
type ProtocolChecker struct {
	// Executable is the worker binary; empty means the running binary
	Executable string

	// Args overrides the probe arguments
	Args []string

	// Env is appended to the inherited environment
	Env []string

	// Timeout bounds the probe (default 10s)
	Timeout time.Duration
}

// Check runs the probe
func (c *ProtocolChecker) Check(ctx context.Context) error {
	exe := c.Executable
	if exe == "" {
		self, err := os.Executable()
		if err != nil {
			return fmt.Errorf("locate worker executable: %w", err)
		}
		exe = self
	}

	args := c.Args
	if args == nil {
		args = []string{"version", "--protocol"}
	}

	timeout := c.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, exe, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("run %s %s: %w (stderr: %s)",
			exe, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}

	out := strings.TrimSpace(stdout.String())
	version, err := strconv.Atoi(out)
	if err != nil {
		return fmt.Errorf("worker reported unparseable protocol version %q", out)
	}
	if version != handoff.ProtocolVersion {
		return fmt.Errorf("worker speaks handoff protocol %d, launcher speaks %d: %w",
			version, handoff.ProtocolVersion, handoff.ErrProtocolMismatch)
	}
	return nil
}
