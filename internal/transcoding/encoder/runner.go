package encoder

import (
	"context"
	"fmt"
	"io"
	"os/exec"
)

// Process a started encoder process
type Process interface {
	// Stderr must be read to EOF before Wait
	Stderr() io.Reader
	Wait() error
}

// CommandRunner spawns external processes
type CommandRunner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
	Start(ctx context.Context, name string, args ...string) (Process, error)
}

// ExecRunner CommandRunner backed by os/exec
type ExecRunner struct{}

// Output run and return stdout
func (ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Start run name with stderr piped
func (ExecRunner) Start(ctx context.Context, name string, args ...string) (Process, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProcess{cmd: cmd, stderr: stderr}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stderr io.Reader
}

func (p *execProcess) Stderr() io.Reader { return p.stderr }

func (p *execProcess) Wait() error { return p.cmd.Wait() }
