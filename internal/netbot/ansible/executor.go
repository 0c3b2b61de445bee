package ansible

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// Job is one ansible-playbook invocation inside a prepared run directory.
type Job struct {
	// Dir holds the generated inventory and playbook.
	Dir string
	// Mounts lists host directories the playbook writes into besides Dir.
	Mounts []string
	Env    []string
}

func (j Job) args() []string {
	return []string{"-i", inventoryFile, playbookFile}
}

// Result is what the playbook run produced.
type Result struct {
	ExitCode int
	Output   []byte
}

// Executor runs ansible-playbook for a Job.
type Executor interface {
	Run(ctx context.Context, job Job) (Result, error)
}

// LocalExecutor runs the playbook binary on the host.
type LocalExecutor struct {
	// Binary defaults to "ansible-playbook" on PATH.
	Binary string
}

// Run executes the playbook and captures combined output. A non-zero exit
// is reported through Result, not as an error.
func (e LocalExecutor) Run(ctx context.Context, job Job) (Result, error) {
	bin := e.Binary
	if bin == "" {
		bin = "ansible-playbook"
	}
	cmd := exec.CommandContext(ctx, bin, job.args()...)
	cmd.Dir = job.Dir
	cmd.Env = append(os.Environ(), job.Env...)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return Result{Output: out.Bytes()}, nil
	case ctx.Err() != nil:
		return Result{Output: out.Bytes()}, ctx.Err()
	case errors.As(err, &exitErr):
		return Result{ExitCode: exitErr.ExitCode(), Output: out.Bytes()}, nil
	default:
		return Result{}, fmt.Errorf("run %s: %w", bin, err)
	}
}
