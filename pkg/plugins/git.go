package plugins

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/jingkaihe/skillkit/pkg/osutil"
	"github.com/pkg/errors"
)

// DefaultGitTimeout bounds each git invocation.
const DefaultGitTimeout = 60 * time.Second

// GitRunner runs a git subcommand in dir and returns its trimmed stdout.
type GitRunner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// GitError is returned when git exits unsuccessfully.
type GitError struct {
	Args     []string
	Stderr   string
	ExitCode int
	TimedOut bool
	Err      error
}

func (e *GitError) Error() string {
	cmd := "git " + strings.Join(e.Args, " ")
	if e.TimedOut {
		return cmd + ": timed out"
	}
	if e.Stderr != "" {
		return cmd + ": " + e.Stderr
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: exit status %d", cmd, e.ExitCode)
	}
	return cmd + ": " + e.Err.Error()
}

func (e *GitError) Unwrap() error {
	return e.Err
}

// ExecGitRunner runs the git binary. Each call is bounded by Timeout, and on
// timeout the whole process group is killed so no helper (ssh, credential
// helpers, remote-https) survives.
type ExecGitRunner struct {
	Binary  string
	Timeout time.Duration
}

// NewExecGitRunner returns a runner for the git binary on PATH.
func NewExecGitRunner(timeout time.Duration) *ExecGitRunner {
	if timeout <= 0 {
		timeout = DefaultGitTimeout
	}
	return &ExecGitRunner{Binary: "git", Timeout: timeout}
}

// Run implements GitRunner.
func (r *ExecGitRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultGitTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	binary := r.Binary
	if binary == "" {
		binary = "git"
	}

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "GIT_ASKPASS=")
	osutil.SetProcessGroup(cmd)
	osutil.SetProcessGroupKill(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		gitErr := &GitError{
			Args:     args,
			Stderr:   strings.TrimSpace(stderr.String()),
			ExitCode: -1,
			TimedOut: errors.Is(ctx.Err(), context.DeadlineExceeded),
			Err:      err,
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			gitErr.ExitCode = exitErr.ExitCode()
		}
		return "", gitErr
	}
	return strings.TrimSpace(stdout.String()), nil
}

var transientGitErrors = []string{
	"could not resolve host",
	"connection timed out",
	"connection reset",
	"connection refused",
	"early eof",
	"rpc failed",
	"the remote end hung up unexpectedly",
	"operation timed out",
	"temporary failure",
	"tls handshake timeout",
	"http 502",
	"http 503",
	"http 504",
}

// isTransientGitError reports whether a git failure looks like a network
// hiccup worth retrying. Timeouts are not retried.
func isTransientGitError(err error) bool {
	var gitErr *GitError
	if !errors.As(err, &gitErr) || gitErr.TimedOut {
		return false
	}
	stderr := strings.ToLower(gitErr.Stderr)
	for _, marker := range transientGitErrors {
		if strings.Contains(stderr, marker) {
			return true
		}
	}
	return false
}
