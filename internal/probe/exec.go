package probe

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"golang.org/x/crypto/ssh"
)

// Executor runs a shell command on one node.
type Executor interface {
	Run(ctx context.Context, cmd string) ([]byte, error)
}

// CommandError carries the stderr of a failed command.
type CommandError struct {
	Cmd    string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("running %q: %v", e.Cmd, e.Err)
	}
	return fmt.Sprintf("running %q: %v: %s", e.Cmd, e.Err, msg)
}

func (e *CommandError) Unwrap() error { return e.Err }

// LocalExecutor runs commands on this node through sh.
type LocalExecutor struct{}

func (LocalExecutor) Run(ctx context.Context, cmd string) ([]byte, error) {
	c := exec.CommandContext(ctx, "sh", "-c", cmd)
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	if err := c.Run(); err != nil {
		return stdout.Bytes(), &CommandError{Cmd: cmd, Stderr: stderr.String(), Err: err}
	}
	return stdout.Bytes(), nil
}

// Runner runs a program with arguments on this node.
type Runner interface {
	Command(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Command runs name directly, without a shell.
func (LocalExecutor) Command(ctx context.Context, name string, args ...string) ([]byte, error) {
	c := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	if err := c.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("running %s: %w", name, ctx.Err())
		}
		return stdout.Bytes(), &CommandError{Cmd: name + " " + strings.Join(args, " "), Stderr: stderr.String(), Err: err}
	}
	return stdout.Bytes(), nil
}

// SSHExecutor runs commands over one SSH connection. Each Run opens its own
// session, so one executor can serve several goroutines.
type SSHExecutor struct {
	client *ssh.Client
}

func (s *SSHExecutor) Run(ctx context.Context, cmd string) ([]byte, error) {
	session, err := s.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("creating SSH session: %w", err)
	}
	defer session.Close()

	stop := context.AfterFunc(ctx, func() { session.Close() })
	defer stop()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if err := session.Run(cmd); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("running %q: %w", cmd, ctx.Err())
		}
		return stdout.Bytes(), &CommandError{Cmd: cmd, Stderr: stderr.String(), Err: err}
	}
	return stdout.Bytes(), nil
}

// Close closes the underlying connection.
func (s *SSHExecutor) Close() error { return s.client.Close() }
