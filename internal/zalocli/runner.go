package zalocli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// Runner executes one-shot CLI commands. Implementations must honor context
// cancellation and never panic on nonzero exit codes.
type Runner interface {
	Run(ctx context.Context, args ...string) (Result, error)
}

// ExecRunner runs the real CLI binary via os/exec.
type ExecRunner struct {
	bin     string
	profile string
	timeout time.Duration
	logger  *slog.Logger
}

// NewExecRunner creates a runner for the given binary and profile. A
// non-positive timeout disables the per-command deadline.
func NewExecRunner(bin, profile string, timeout time.Duration, logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{
		bin:     bin,
		profile: profile,
		timeout: timeout,
		logger:  logger.With("component", "zalocli", "profile", profile),
	}
}

// Run executes the CLI with the given arguments plus the profile selector.
// A nonzero exit code is not an error at this layer; callers inspect the
// Result because the CLI signals success in-band for several commands.
func (r *ExecRunner) Run(ctx context.Context, args ...string) (Result, error) {
	if r.bin == "" {
		return Result{}, fmt.Errorf("zalo cli binary path is empty")
	}

	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	full := append([]string{}, args...)
	if r.profile != "" {
		full = append(full, "--profile", r.profile)
	}

	cmd := exec.CommandContext(runCtx, r.bin, full...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			r.logger.DebugContext(ctx, "CLI command exited nonzero",
				"args", args, "exit_code", res.ExitCode, "duration", time.Since(start))
			return res, nil
		}
		if runCtx.Err() != nil {
			return res, fmt.Errorf("cli command cancelled: %w", runCtx.Err())
		}
		return res, fmt.Errorf("failed to run cli command: %w", err)
	}

	r.logger.DebugContext(ctx, "CLI command finished", "args", args, "duration", time.Since(start))
	return res, nil
}
