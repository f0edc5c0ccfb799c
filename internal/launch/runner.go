package launch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"sync"
	"time"

	benchErrors "github.com/rasterbench/rasterbench/internal/errors"
)

// Runner executes a command to completion and returns its standard output.
// A non-nil error may come with valid partial output.
type Runner interface {
	Run(ctx context.Context, cmd Command) (string, error)
}

// ExecRunner runs commands as child processes. Standard error is discarded.
type ExecRunner struct {
	// Timeout bounds each invocation; zero means no limit
	Timeout time.Duration

	// Echo, when set, receives a copy of stdout as it is produced
	Echo io.Writer
}

// NewExecRunner creates a runner with the given per-invocation timeout.
func NewExecRunner(timeout time.Duration) *ExecRunner {
	return &ExecRunner{Timeout: timeout}
}

// Run starts cmd, waits for the whole process group to exit and returns the
// captured stdout.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (string, error) {
	line := cmd.String()
	log.Printf("launch: %s", line)

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	var stdout bytes.Buffer
	if r.Echo != nil {
		c.Stdout = io.MultiWriter(&stdout, r.Echo)
	} else {
		c.Stdout = &stdout
	}
	c.Stderr = nil
	// Give the launcher a chance to tear down its workers before it is killed.
	c.WaitDelay = 5 * time.Second

	start := time.Now()
	if err := c.Start(); err != nil {
		return "", benchErrors.NewLaunchError(benchErrors.CodeStartFailed, line, err)
	}

	err := c.Wait()
	out := stdout.String()
	if err == nil {
		log.Printf("launch: finished in %v", time.Since(start).Round(time.Millisecond))
		return out, nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return out, benchErrors.NewLaunchError(benchErrors.CodeLaunchTimeout, line,
			fmt.Errorf("timed out after %v", r.Timeout))
	}
	if ctx.Err() != nil {
		return out, benchErrors.NewLaunchError(benchErrors.CodeStartFailed, line, ctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out, benchErrors.NewLaunchError(benchErrors.CodeNonZeroExit, line,
			fmt.Errorf("exit status %d", exitErr.ExitCode()))
	}
	return out, benchErrors.NewLaunchError(benchErrors.CodeNonZeroExit, line, err)
}

// DryRunner records commands without executing them. Each call returns the
// next canned output, or an empty string once they run out.
type DryRunner struct {
	mu       sync.Mutex
	Commands []Command
	Outputs  []string
}

// Run records cmd and returns canned output.
func (d *DryRunner) Run(ctx context.Context, cmd Command) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	log.Printf("launch (dry run): %s", cmd)
	d.Commands = append(d.Commands, cmd)
	if len(d.Outputs) == 0 {
		return "", nil
	}
	out := d.Outputs[0]
	d.Outputs = d.Outputs[1:]
	return out, nil
}
