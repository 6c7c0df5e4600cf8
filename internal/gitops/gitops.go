// Package gitops creates backdated commits and pushes them by shelling out to
// git in a local working copy.
package gitops

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"streakline/internal/domain"
	"streakline/internal/errs"
)

// ErrGitFailed marks a git invocation that exited non-zero.
var ErrGitFailed = errors.New("git command failed")

// GitError carries the failing git invocation and its stderr.
type GitError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *GitError) Error() string {
	msg := fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *GitError) Unwrap() []error { return []error{ErrGitFailed, e.Err} }

// CommandExecutor runs prepared commands.
type CommandExecutor interface {
	// Output runs cmd and returns its stdout.
	Output(cmd *exec.Cmd) (string, error)
}

// ExecExecutor runs commands with os/exec.
type ExecExecutor struct{}

// Output implements CommandExecutor.
func (ExecExecutor) Output(cmd *exec.Cmd) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var args []string
		if len(cmd.Args) > 1 {
			args = cmd.Args[1:]
		}
		return "", &GitError{Args: args, Stderr: stderr.String(), Err: err}
	}
	return stdout.String(), nil
}

// DefaultCommitTimeout bounds one write, add and commit sequence.
const DefaultCommitTimeout = 2 * time.Minute

// waitDelay is how long git gets after SIGTERM before it is killed. It also
// caps how long hook children may hold the output pipes open.
const waitDelay = time.Second

// Committer creates commits and pushes through git.
type Committer struct {
	// GitPath is the git binary, "git" when empty.
	GitPath  string
	Executor CommandExecutor
	Logger   *zap.Logger
	// CommitTimeout bounds one commit request; DefaultCommitTimeout when zero.
	CommitTimeout time.Duration
}

// New returns a Committer using the git on PATH.
func New(logger *zap.Logger) *Committer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Committer{GitPath: "git", Executor: ExecExecutor{}, Logger: logger}
}

func (c *Committer) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop()
}

func (c *Committer) commitTimeout() time.Duration {
	if c.CommitTimeout > 0 {
		return c.CommitTimeout
	}
	return DefaultCommitTimeout
}

func (c *Committer) git(ctx context.Context, dir string, env []string, args ...string) (string, error) {
	bin := c.GitPath
	if bin == "" {
		bin = "git"
	}
	exe := c.Executor
	if exe == nil {
		exe = ExecExecutor{}
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir
	// SIGTERM lets git remove its lock files on the way out.
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = waitDelay
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	return exe.Output(cmd)
}

// gitDate renders t in the ISO 8601 form git accepts for author dates.
func gitDate(t time.Time) string {
	return t.Format("2006-01-02T15:04:05-0700")
}

// CreateCommit writes req.Content to req.TargetFile, stages it and commits it
// with author and committer dates set to req.When. It returns the new commit id.
//
// Cancellation of ctx is honoured before the request starts. Once started the
// request runs to completion or CommitTimeout, and a failed commit unstages
// the file so the next request does not absorb it.
func (c *Committer) CreateCommit(ctx context.Context, repoPath string, req domain.CommitRequest) (string, error) {
	id, err := c.createCommit(ctx, repoPath, req)
	if err != nil {
		return "", &errs.CommitCreationError{Date: req.Date.String(), Err: err}
	}
	c.logger().Debug("commit created",
		zap.String("date", req.Date.String()),
		zap.String("file", req.TargetFile),
		zap.String("commit", id))
	return id, nil
}

func (c *Committer) createCommit(ctx context.Context, repoPath string, req domain.CommitRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.commitTimeout())
	defer cancel()

	rel := filepath.FromSlash(req.TargetFile)
	if rel == "" || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("target file %q must be a relative path inside the repository", req.TargetFile)
	}
	full := filepath.Join(repoPath, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create directory for %s: %w", req.TargetFile, err)
	}
	if err := os.WriteFile(full, []byte(req.Content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", req.TargetFile, err)
	}
	if _, err := c.git(ctx, repoPath, nil, "add", "--", rel); err != nil {
		return "", err
	}
	date := gitDate(req.When)
	env := []string{"GIT_AUTHOR_DATE=" + date, "GIT_COMMITTER_DATE=" + date}
	if _, err := c.git(ctx, repoPath, env, "commit", "--quiet", "-m", req.Message); err != nil {
		c.unstage(repoPath, rel)
		return "", err
	}
	out, err := c.git(ctx, repoPath, nil, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// unstage drops rel from the index after a failed commit.
func (c *Committer) unstage(repoPath, rel string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := c.git(ctx, repoPath, nil, "reset", "--quiet", "--", rel); err != nil {
		c.logger().Warn("could not unstage after failed commit",
			zap.String("file", rel),
			zap.Error(err))
	}
}

// Push pushes the current branch to its upstream.
func (c *Committer) Push(ctx context.Context, repoPath string) error {
	if _, err := c.git(ctx, repoPath, nil, "push"); err != nil {
		return &errs.PushError{Repo: repoPath, Err: err}
	}
	c.logger().Info("pushed", zap.String("repo", repoPath))
	return nil
}

// IsRepository reports whether path is inside a git working tree.
func (c *Committer) IsRepository(ctx context.Context, path string) bool {
	out, err := c.git(ctx, path, nil, "rev-parse", "--is-inside-work-tree")
	return err == nil && strings.TrimSpace(out) == "true"
}
