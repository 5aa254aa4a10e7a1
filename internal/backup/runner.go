// Copyright 2026 The Psico SAS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"time"
)

var (
	ErrToolUnavailable = errors.New("tool unavailable")
	ErrTimeout         = errors.New("tool timed out")
)

// ExitError reports a non-zero exit status.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// Command describes one external tool invocation.
type Command struct {
	Path    string
	Args    []string
	Env     []string
	Stdin   io.Reader
	Timeout time.Duration
}

// Result holds the captured output of a command.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner executes external tools.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
	LookPath(file string) (string, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	// WaitDelay bounds how long output pipes are drained after the process
	// is killed.
	WaitDelay time.Duration
}

// Run executes cmd, capturing stdout and stderr. The process is killed when
// cmd.Timeout elapses or ctx is done.
func (r ExecRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	c.Env = append(os.Environ(), cmd.Env...)
	c.Stdin = cmd.Stdin
	c.WaitDelay = r.WaitDelay
	if c.WaitDelay <= 0 {
		c.WaitDelay = 5 * time.Second
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	res := &Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if c.ProcessState != nil {
		res.ExitCode = c.ProcessState.ExitCode()
	}

	switch {
	case err == nil:
		return res, nil
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return res, fmt.Errorf("%w after %s", ErrTimeout, cmd.Timeout)
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
		return res, fmt.Errorf("%w: %s: %w", ErrToolUnavailable, cmd.Path, err)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return res, &ExitError{Code: exitErr.ExitCode()}
	}
	return res, err
}

// LookPath resolves file on PATH.
func (ExecRunner) LookPath(file string) (string, error) {
	p, err := exec.LookPath(file)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrToolUnavailable, file)
	}
	return p, nil
}

// ConnInfo addresses the database for the command-line tools. The password
// is passed through PGPASSWORD, never on the command line.
type ConnInfo struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
}

func (c ConnInfo) args() []string {
	return []string{
		"--host", c.Host,
		"--port", c.Port,
		"--username", c.User,
		"--dbname", c.Database,
		"--no-password",
	}
}

func (c ConnInfo) env() []string {
	return []string{"PGPASSWORD=" + c.Password, "PGCONNECT_TIMEOUT=10"}
}
