package plugins

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/aymanbagabas/go-udiff"
	"github.com/pkg/errors"
	"github.com/rogpeppe/go-internal/lockedfile"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jingkaihe/skillkit/pkg/logger"
	"github.com/jingkaihe/skillkit/pkg/skills"
	"github.com/jingkaihe/skillkit/pkg/telemetry"
)

// Retry defaults for transient git network failures.
const (
	DefaultRetryAttempts uint = 3
	defaultRetryDelay         = time.Second
	maxRetryDelay             = 10 * time.Second
)

// Installer clones, updates and removes git-backed skill packages under a
// single plugins root.
type Installer struct {
	pluginsDir    string
	git           GitRunner
	retryAttempts uint
	retryDelay    time.Duration
}

// InstallerOption configures an Installer instance
type InstallerOption func(*Installer)

// WithPluginsDir sets the plugins root. Defaults to ~/.skillkit/plugins.
func WithPluginsDir(dir string) InstallerOption {
	return func(i *Installer) {
		i.pluginsDir = dir
	}
}

// WithGitRunner replaces the git binary runner.
func WithGitRunner(r GitRunner) InstallerOption {
	return func(i *Installer) {
		i.git = r
	}
}

// WithGitTimeout bounds each git invocation of the default runner.
func WithGitTimeout(timeout time.Duration) InstallerOption {
	return func(i *Installer) {
		i.git = NewExecGitRunner(timeout)
	}
}

// WithRetry configures retries of clone, fetch and pull on transient network
// errors. attempts counts the first try; values below 1 mean a single try.
func WithRetry(attempts uint, delay time.Duration) InstallerOption {
	return func(i *Installer) {
		if attempts < 1 {
			attempts = 1
		}
		i.retryAttempts = attempts
		i.retryDelay = delay
	}
}

// NewInstaller creates a new plugin installer
func NewInstaller(opts ...InstallerOption) (*Installer, error) {
	i := &Installer{
		retryAttempts: DefaultRetryAttempts,
		retryDelay:    defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(i)
	}

	if i.pluginsDir == "" {
		dir, err := skills.DefaultPluginsDir()
		if err != nil {
			return nil, err
		}
		i.pluginsDir = dir
	}
	if i.git == nil {
		i.git = NewExecGitRunner(DefaultGitTimeout)
	}

	return i, nil
}

// PluginsDir returns the plugins root.
func (i *Installer) PluginsDir() string {
	return i.pluginsDir
}

// Install clones rawURL into the plugins root and validates it as a skill
// package. ref may name a branch, a tag or a commit; name overrides the
// directory name derived from the URL for the duration of the install. The
// final directory is always named after the name declared in SKILL.md. On
// any failure after cloning starts, the clone is removed.
func (i *Installer) Install(ctx context.Context, rawURL, ref, name string) *InstallResult {
	var result *InstallResult
	_ = telemetry.WithSpan(ctx, "plugins.install", func(ctx context.Context) error {
		result = i.install(ctx, rawURL, ref, name)
		if !result.Success {
			return errors.New(result.Error)
		}
		telemetry.SetAttributes(ctx, attribute.String("plugin.name", result.SkillName))
		return nil
	}, attribute.String("plugin.url", rawURL), attribute.String("plugin.ref", ref))
	return result
}

func (i *Installer) install(ctx context.Context, rawURL, ref, name string) *InstallResult {
	log := logger.G(ctx).WithField("url", rawURL)

	if err := ValidateURL(rawURL); err != nil {
		return installFailure("%s", err)
	}
	if ref != "" {
		if err := ValidateRef(ref); err != nil {
			return installFailure("%s", err)
		}
	}
	working, err := workingName(rawURL, name)
	if err != nil {
		return installFailure("%s", err)
	}

	unlock, err := i.lock()
	if err != nil {
		return installFailure("%s", err)
	}
	defer unlock()

	target := filepath.Join(i.pluginsDir, working)
	if _, err := os.Lstat(target); err == nil {
		return installFailure("plugin directory %s already exists", target)
	} else if !os.IsNotExist(err) {
		return installFailure("failed to check %s: %s", target, err)
	}
	if err := os.MkdirAll(i.pluginsDir, 0o755); err != nil {
		return installFailure("failed to create plugins directory: %s", err)
	}

	current := target
	rollback := func(format string, args ...any) *InstallResult {
		result := installFailure(format, args...)
		log.WithField("path", current).WithField("reason", result.Error).Warn("install failed, removing clone")
		if err := os.RemoveAll(current); err != nil {
			log.WithError(err).WithField("path", current).Warn("failed to remove partial install")
		}
		return result
	}

	if err := i.clone(ctx, rawURL, ref, target); err != nil {
		return rollback("failed to clone %s: %s", rawURL, err)
	}

	raw, err := os.ReadFile(filepath.Join(current, skills.FileName))
	if err != nil {
		if os.IsNotExist(err) {
			return rollback("%s is not a valid skill package: no %s at the repository root", rawURL, skills.FileName)
		}
		return rollback("failed to read %s: %s", skills.FileName, err)
	}

	pkg, err := skills.Parse(string(raw), working, skills.ParseOptions{SkipNameValidation: true})
	if err != nil {
		return rollback("invalid %s: %s", skills.FileName, err)
	}

	declared := pkg.Manifest.Name
	if err := skills.ValidateName(declared); err != nil {
		return rollback("invalid skill name in %s: %s", skills.FileName, err)
	}

	if declared != working {
		canonical := filepath.Join(i.pluginsDir, declared)
		if _, err := os.Lstat(canonical); err == nil {
			return rollback("skill %q is already installed at %s", declared, canonical)
		} else if !os.IsNotExist(err) {
			return rollback("failed to check %s: %s", canonical, err)
		}
		if err := os.Rename(current, canonical); err != nil {
			return rollback("failed to rename %s to %s: %s", working, declared, err)
		}
		log.WithField("from", working).WithField("to", declared).Debug("renamed plugin to declared skill name")
		current = canonical
	}

	log.WithField("skill", declared).WithField("path", current).Info("installed skill plugin")
	return &InstallResult{
		Success:   true,
		SkillName: declared,
		Path:      current,
	}
}

func (i *Installer) clone(ctx context.Context, rawURL, ref, target string) error {
	commit := ref != "" && IsCommitRef(ref)

	args := []string{"clone", "--depth", "1", "--quiet"}
	if ref != "" && !commit {
		args = append(args, "--branch", ref)
	}
	args = append(args, "--", rawURL, target)

	err := i.withRetry(ctx, "clone", func() error {
		// A failed attempt may leave a partial clone behind.
		if err := os.RemoveAll(target); err != nil {
			return err
		}
		_, err := i.runGit(ctx, i.pluginsDir, args...)
		return err
	})
	if err != nil || !commit {
		return err
	}

	err = i.withRetry(ctx, "fetch", func() error {
		_, err := i.runGit(ctx, target, "fetch", "--depth", "1", "--quiet", "origin", ref)
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "failed to fetch commit %s", ref)
	}
	if _, err := i.runGit(ctx, target, "checkout", "--quiet", "FETCH_HEAD"); err != nil {
		return errors.Wrapf(err, "failed to check out commit %s", ref)
	}
	return nil
}

// Update fast-forwards an installed plugin to the tip of its branch. A
// plugin checked out at a tag or commit is left untouched and reported as
// successful without changes.
func (i *Installer) Update(ctx context.Context, name string) *UpdateResult {
	var result *UpdateResult
	_ = telemetry.WithSpan(ctx, "plugins.update", func(ctx context.Context) error {
		result = i.update(ctx, name)
		if !result.Success {
			return errors.New(result.Error)
		}
		telemetry.SetAttributes(ctx, attribute.Bool("plugin.updated", result.Updated))
		return nil
	}, attribute.String("plugin.name", name))
	return result
}

func (i *Installer) update(ctx context.Context, name string) *UpdateResult {
	log := logger.G(ctx).WithField("skill", name)

	if err := skills.ValidateName(name); err != nil {
		return updateFailure("invalid plugin name: %s", err)
	}

	unlock, err := i.lock()
	if err != nil {
		return updateFailure("%s", err)
	}
	defer unlock()

	dir := filepath.Join(i.pluginsDir, name)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return updateFailure("plugin %q is not installed", name)
	}
	if _, err := os.Stat(filepath.Join(dir, gitDir)); err != nil {
		return updateFailure("plugin %q is not a git repository", name)
	}

	detached, err := i.isDetached(ctx, dir)
	if err != nil {
		return updateFailure("failed to inspect plugin %q: %s", name, err)
	}
	if detached {
		log.Debug("plugin is pinned, skipping update")
		return &UpdateResult{
			Success: true,
			Message: "plugin is pinned to a specific ref, reinstall to update",
		}
	}

	manifestPath := filepath.Join(dir, skills.FileName)
	oldManifest, _ := os.ReadFile(manifestPath)

	before, err := i.runGit(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return updateFailure("failed to read current revision: %s", err)
	}

	err = i.withRetry(ctx, "pull", func() error {
		_, err := i.runGit(ctx, dir, "pull", "--ff-only", "--quiet")
		return err
	})
	if err != nil {
		log.WithError(err).Warn("failed to update plugin")
		return updateFailure("failed to pull %q: %s", name, err)
	}

	after, err := i.runGit(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return updateFailure("failed to read updated revision: %s", err)
	}

	if before == after {
		return &UpdateResult{Success: true, Message: "already up to date"}
	}
	log.WithField("from", before).WithField("to", after).Info("updated skill plugin")

	result := &UpdateResult{
		Success: true,
		Updated: true,
		Message: "updated " + shortRevision(before) + ".." + shortRevision(after),
	}
	if newManifest, err := os.ReadFile(manifestPath); err == nil && string(newManifest) != string(oldManifest) {
		result.ManifestDiff = udiff.Unified(
			shortRevision(before)+"/"+skills.FileName,
			shortRevision(after)+"/"+skills.FileName,
			string(oldManifest), string(newManifest),
		)
	}
	return result
}

// isDetached reports whether HEAD is not on a branch. git symbolic-ref
// exits with 1 for a detached HEAD and with other codes for real failures.
func (i *Installer) isDetached(ctx context.Context, dir string) (bool, error) {
	_, err := i.runGit(ctx, dir, "symbolic-ref", "-q", "HEAD")
	if err == nil {
		return false, nil
	}
	var gitErr *GitError
	if errors.As(err, &gitErr) && !gitErr.TimedOut && gitErr.ExitCode == 1 {
		return true, nil
	}
	return false, err
}

// Remove deletes an installed plugin. It returns false if nothing was
// installed under name.
func (i *Installer) Remove(ctx context.Context, name string) (bool, error) {
	removed := false
	err := telemetry.WithSpan(ctx, "plugins.remove", func(ctx context.Context) error {
		if err := skills.ValidateName(name); err != nil {
			return errors.Wrap(err, "invalid plugin name")
		}
		unlock, err := i.lock()
		if err != nil {
			return err
		}
		defer unlock()

		dir := filepath.Join(i.pluginsDir, name)
		if _, err := os.Lstat(dir); err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return errors.Wrapf(err, "failed to check %s", dir)
		}
		if err := os.RemoveAll(dir); err != nil {
			return errors.Wrapf(err, "failed to remove plugin %q", name)
		}
		logger.G(ctx).WithField("skill", name).Info("removed skill plugin")
		removed = true
		return nil
	}, attribute.String("plugin.name", name))
	return removed, err
}

// lock takes the cross-process lock serialising writes to the plugins root.
// The lock file sits next to the root so it never shows up as a plugin.
func (i *Installer) lock() (func(), error) {
	path := filepath.Clean(i.pluginsDir) + ".lock"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create plugins lock directory")
	}
	unlock, err := lockedfile.MutexAt(path).Lock()
	if err != nil {
		return nil, errors.Wrap(err, "failed to lock plugins directory")
	}
	return unlock, nil
}

// runGit runs one git step and marks it as an event on the current span.
func (i *Installer) runGit(ctx context.Context, dir string, args ...string) (string, error) {
	step := ""
	if len(args) > 0 {
		step = args[0]
	}
	telemetry.AddEvent(ctx, "git."+step, attribute.String("git.dir", dir))
	return i.git.Run(ctx, dir, args...)
}

func (i *Installer) withRetry(ctx context.Context, op string, fn func() error) error {
	return retry.Do(
		fn,
		retry.RetryIf(isTransientGitError),
		retry.Attempts(i.retryAttempts),
		retry.Delay(i.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.MaxDelay(maxRetryDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			telemetry.RecordError(ctx, err)
			logger.G(ctx).WithError(err).
				WithField("attempt", n+1).
				WithField("max_attempts", i.retryAttempts).
				Warnf("retrying git %s", op)
		}),
	)
}

func shortRevision(rev string) string {
	if len(rev) > 7 {
		return rev[:7]
	}
	return rev
}
