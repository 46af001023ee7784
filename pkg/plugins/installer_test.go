package plugins

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/jingkaihe/skillkit/pkg/skills"
)

// fakeRepo is a remote repository as seen by fakeGit.
type fakeRepo struct {
	files     map[string]string
	detached  bool
	revisions []string
	head      int
	// pulled replaces files in the checkout when a pull advances head.
	pulled map[string]string
}

// fakeGit emulates the git subcommands the installer uses. Clones are
// materialised from repos; update state is tracked by checkout directory name.
type fakeGit struct {
	mu          sync.Mutex
	repos       map[string]*fakeRepo
	checkouts   map[string]*fakeRepo
	calls       [][]string
	cloneErrors []error
}

func newFakeGit() *fakeGit {
	return &fakeGit{
		repos:     make(map[string]*fakeRepo),
		checkouts: make(map[string]*fakeRepo),
	}
}

func (f *fakeGit) Run(_ context.Context, dir string, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, append([]string(nil), args...))

	switch args[0] {
	case "clone":
		if len(f.cloneErrors) > 0 {
			err := f.cloneErrors[0]
			f.cloneErrors = f.cloneErrors[1:]
			return "", err
		}
		url, target := args[len(args)-2], args[len(args)-1]
		repo, ok := f.repos[url]
		if !ok {
			return "", &GitError{Args: args, Stderr: "fatal: repository '" + url + "' not found", ExitCode: 128}
		}
		if err := os.MkdirAll(filepath.Join(target, gitDir), 0o755); err != nil {
			return "", err
		}
		for name, content := range repo.files {
			path := filepath.Join(target, name)
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return "", err
			}
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return "", err
			}
		}
		return "", nil
	case "fetch", "checkout":
		return "", nil
	}

	repo, ok := f.checkouts[filepath.Base(dir)]
	if !ok {
		return "", &GitError{Args: args, Stderr: "fatal: not a git repository", ExitCode: 128}
	}
	switch args[0] {
	case "symbolic-ref":
		if repo.detached {
			return "", &GitError{Args: args, ExitCode: 1}
		}
		if args[1] == "--short" {
			return "main", nil
		}
		return "refs/heads/main", nil
	case "rev-parse":
		return repo.revisions[repo.head], nil
	case "pull":
		if repo.head < len(repo.revisions)-1 {
			repo.head++
			for name, content := range repo.pulled {
				if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
					return "", err
				}
			}
		}
		return "", nil
	}
	return "", &GitError{Args: args, Stderr: "unsupported", ExitCode: 129}
}

func (f *fakeGit) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		out = append(out, strings.Join(c, " "))
	}
	return out
}

func (f *fakeGit) called(sub string) bool {
	for _, c := range f.commands() {
		if strings.HasPrefix(c, sub) {
			return true
		}
	}
	return false
}

func skillFile(name, description string) string {
	return "---\nname: " + name + "\ndescription: " + description + "\n---\n\n# " + name + "\n"
}

func newTestInstaller(t *testing.T, git GitRunner) (*Installer, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "plugins")
	installer, err := NewInstaller(
		WithPluginsDir(dir),
		WithGitRunner(git),
		WithRetry(3, time.Millisecond),
	)
	require.NoError(t, err)
	return installer, dir
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestNewInstallerDefaults(t *testing.T) {
	installer, err := NewInstaller()
	require.NoError(t, err)
	assert.Contains(t, installer.PluginsDir(), filepath.Join(".skillkit", "plugins"))
	assert.IsType(t, &ExecGitRunner{}, installer.git)
	assert.Equal(t, DefaultRetryAttempts, installer.retryAttempts)
}

func TestInstall(t *testing.T) {
	git := newFakeGit()
	git.repos["https://github.com/acme/pdf-tools.git"] = &fakeRepo{
		files: map[string]string{
			skills.FileName:      skillFile("pdf-tools", "Extract text from PDF files"),
			"scripts/extract.sh": "pdftotext \"$1\" -\n",
		},
	}
	installer, dir := newTestInstaller(t, git)

	result := installer.Install(context.Background(), "https://github.com/acme/pdf-tools.git", "", "")

	require.True(t, result.Success, result.Error)
	assert.Equal(t, "pdf-tools", result.SkillName)
	assert.Equal(t, filepath.Join(dir, "pdf-tools"), result.Path)
	assert.FileExists(t, filepath.Join(result.Path, "scripts", "extract.sh"))
	assert.Equal(t, []string{"clone --depth 1 --quiet -- https://github.com/acme/pdf-tools.git " + filepath.Join(dir, "pdf-tools")}, git.commands())
}

func TestInstallRenamesToDeclaredName(t *testing.T) {
	git := newFakeGit()
	git.repos["https://github.com/acme/skill-pdf"] = &fakeRepo{
		files: map[string]string{skills.FileName: skillFile("pdf-tools", "Extract text from PDF files")},
	}
	installer, dir := newTestInstaller(t, git)

	result := installer.Install(context.Background(), "https://github.com/acme/skill-pdf", "", "")

	require.True(t, result.Success, result.Error)
	assert.Equal(t, "pdf-tools", result.SkillName)
	assert.Equal(t, filepath.Join(dir, "pdf-tools"), result.Path)
	assert.Equal(t, []string{"pdf-tools"}, dirEntries(t, dir))
}

func TestInstallRefs(t *testing.T) {
	tests := []struct {
		name     string
		ref      string
		expected []string
	}{
		{
			name: "branch or tag",
			ref:  "v1.0.0",
			expected: []string{
				"clone --depth 1 --quiet --branch v1.0.0 -- https://github.com/acme/pdf-tools PLUGIN",
			},
		},
		{
			name: "commit",
			ref:  "a1b2c3d4",
			expected: []string{
				"clone --depth 1 --quiet -- https://github.com/acme/pdf-tools PLUGIN",
				"fetch --depth 1 --quiet origin a1b2c3d4",
				"checkout --quiet FETCH_HEAD",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			git := newFakeGit()
			git.repos["https://github.com/acme/pdf-tools"] = &fakeRepo{
				files: map[string]string{skills.FileName: skillFile("pdf-tools", "PDF")},
			}
			installer, dir := newTestInstaller(t, git)

			result := installer.Install(context.Background(), "https://github.com/acme/pdf-tools", tt.ref, "")
			require.True(t, result.Success, result.Error)

			var expected []string
			for _, c := range tt.expected {
				expected = append(expected, strings.Replace(c, "PLUGIN", filepath.Join(dir, "pdf-tools"), 1))
			}
			assert.Equal(t, expected, git.commands())
		})
	}
}

func TestInstallRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		ref     string
		as      string
		message string
	}{
		{name: "insecure url", url: "http://github.com/acme/pdf-tools", message: "only https://"},
		{name: "ssh url", url: "git@github.com:acme/pdf-tools.git", message: "only https://"},
		{name: "option injection ref", url: "https://github.com/acme/pdf-tools", ref: "--upload-pack=evil", message: "invalid ref"},
		{name: "leading dash ref", url: "https://github.com/acme/pdf-tools", ref: "-b", message: "must not start with '-'"},
		{name: "bad name override", url: "https://github.com/acme/pdf-tools", as: "../escape", message: "cannot derive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			git := newFakeGit()
			parent := filepath.Join(t.TempDir(), "nested")
			dir := filepath.Join(parent, "plugins")
			installer, err := NewInstaller(WithPluginsDir(dir), WithGitRunner(git))
			require.NoError(t, err)

			result := installer.Install(context.Background(), tt.url, tt.ref, tt.as)

			assert.False(t, result.Success)
			assert.Contains(t, result.Error, tt.message)
			assert.Empty(t, git.commands())
			assert.NoDirExists(t, parent, "rejected input must not touch disk")
			assert.NoFileExists(t, dir+".lock")
		})
	}
}

func TestInstallExistingDirectory(t *testing.T) {
	git := newFakeGit()
	installer, dir := newTestInstaller(t, git)
	existing := filepath.Join(dir, "pdf-tools")
	require.NoError(t, os.MkdirAll(existing, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(existing, "keep.txt"), []byte("keep"), 0o644))

	result := installer.Install(context.Background(), "https://github.com/acme/pdf-tools", "", "")

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "already exists")
	assert.Empty(t, git.commands())
	assert.FileExists(t, filepath.Join(existing, "keep.txt"))
}

func TestInstallRollsBack(t *testing.T) {
	tests := []struct {
		name    string
		files   map[string]string
		message string
	}{
		{
			name:    "missing SKILL.md",
			files:   map[string]string{"README.md": "# not a skill\n"},
			message: "not a valid skill package",
		},
		{
			name:    "no header",
			files:   map[string]string{skills.FileName: "# just a body\n"},
			message: "must start with a header section",
		},
		{
			name: "unknown header keys",
			files: map[string]string{
				skills.FileName: "---\nname: pdf-tools\ndescription: PDF\nversion: 2\n---\n",
			},
			message: "unrecognized key(s) in header: version",
		},
		{
			name: "invalid declared name",
			files: map[string]string{
				skills.FileName: "---\nname: PDF--Tools\ndescription: PDF\n---\n",
			},
			message: "must be lowercase",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			git := newFakeGit()
			git.repos["https://github.com/acme/pdf-tools"] = &fakeRepo{files: tt.files}
			installer, dir := newTestInstaller(t, git)

			result := installer.Install(context.Background(), "https://github.com/acme/pdf-tools", "", "")

			assert.False(t, result.Success)
			assert.Contains(t, result.Error, tt.message)
			assert.Empty(t, dirEntries(t, dir), "partial install left on disk")
		})
	}
}

func TestInstallDeclaredNameCollision(t *testing.T) {
	git := newFakeGit()
	git.repos["https://github.com/acme/skill-pdf"] = &fakeRepo{
		files: map[string]string{skills.FileName: skillFile("pdf-tools", "PDF")},
	}
	installer, dir := newTestInstaller(t, git)
	existing := filepath.Join(dir, "pdf-tools")
	require.NoError(t, os.MkdirAll(existing, 0o755))

	result := installer.Install(context.Background(), "https://github.com/acme/skill-pdf", "", "")

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "already installed")
	assert.Equal(t, []string{"pdf-tools"}, dirEntries(t, dir))
	assert.NoDirExists(t, filepath.Join(dir, "skill-pdf"))
}

func TestInstallCloneFailure(t *testing.T) {
	git := newFakeGit()
	installer, dir := newTestInstaller(t, git)

	result := installer.Install(context.Background(), "https://github.com/acme/missing", "", "")

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "not found")
	assert.Empty(t, dirEntries(t, dir))
	assert.Len(t, git.commands(), 1, "permanent errors are not retried")
}

func TestInstallRetriesTransientCloneFailure(t *testing.T) {
	git := newFakeGit()
	git.repos["https://github.com/acme/pdf-tools"] = &fakeRepo{
		files: map[string]string{skills.FileName: skillFile("pdf-tools", "PDF")},
	}
	git.cloneErrors = []error{
		&GitError{Args: []string{"clone"}, Stderr: "fatal: unable to access: Could not resolve host: github.com", ExitCode: 128},
	}
	installer, _ := newTestInstaller(t, git)

	result := installer.Install(context.Background(), "https://github.com/acme/pdf-tools", "", "")

	require.True(t, result.Success, result.Error)
	assert.Len(t, git.commands(), 2)
}

func TestInstallTracesGitSteps(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = provider.Shutdown(context.Background())
	})

	git := newFakeGit()
	git.repos["https://github.com/acme/pdf-tools"] = &fakeRepo{
		files: map[string]string{skills.FileName: skillFile("pdf-tools", "PDF")},
	}
	git.cloneErrors = []error{
		&GitError{Args: []string{"clone"}, Stderr: "fatal: unable to access: Could not resolve host: github.com", ExitCode: 128},
	}
	installer, _ := newTestInstaller(t, git)

	result := installer.Install(context.Background(), "https://github.com/acme/pdf-tools", "", "")
	require.True(t, result.Success, result.Error)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "plugins.install", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)

	var events []string
	for _, e := range spans[0].Events() {
		events = append(events, e.Name)
	}
	assert.Equal(t, []string{"git.clone", "exception", "git.clone"}, events)
}

func installCheckout(t *testing.T, git *fakeGit, dir, name string, repo *fakeRepo) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Join(path, gitDir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, skills.FileName), []byte(skillFile(name, "test")), 0o644))
	git.checkouts[name] = repo
	return path
}

func TestUpdate(t *testing.T) {
	t.Run("fast-forward", func(t *testing.T) {
		git := newFakeGit()
		installer, dir := newTestInstaller(t, git)
		installCheckout(t, git, dir, "pdf-tools", &fakeRepo{revisions: []string{"1111111aaaa", "2222222bbbb"}})

		result := installer.Update(context.Background(), "pdf-tools")

		require.True(t, result.Success, result.Error)
		assert.True(t, result.Updated)
		assert.Equal(t, "updated 1111111..2222222", result.Message)
		assert.True(t, git.called("pull --ff-only"))
		assert.Empty(t, result.ManifestDiff)
	})

	t.Run("manifest diff", func(t *testing.T) {
		git := newFakeGit()
		installer, dir := newTestInstaller(t, git)
		installCheckout(t, git, dir, "pdf-tools", &fakeRepo{
			revisions: []string{"1111111aaaa", "2222222bbbb"},
			pulled:    map[string]string{skills.FileName: skillFile("pdf-tools", "Extract PDF tables")},
		})

		result := installer.Update(context.Background(), "pdf-tools")

		require.True(t, result.Success, result.Error)
		assert.True(t, result.Updated)
		assert.Contains(t, result.ManifestDiff, "--- 1111111/SKILL.md")
		assert.Contains(t, result.ManifestDiff, "+++ 2222222/SKILL.md")
		assert.Contains(t, result.ManifestDiff, "-description: test")
		assert.Contains(t, result.ManifestDiff, "+description: Extract PDF tables")
	})

	t.Run("already up to date", func(t *testing.T) {
		git := newFakeGit()
		installer, dir := newTestInstaller(t, git)
		installCheckout(t, git, dir, "pdf-tools", &fakeRepo{revisions: []string{"1111111aaaa"}})

		result := installer.Update(context.Background(), "pdf-tools")

		require.True(t, result.Success, result.Error)
		assert.False(t, result.Updated)
		assert.Equal(t, "already up to date", result.Message)
	})

	t.Run("detached checkout is left alone", func(t *testing.T) {
		git := newFakeGit()
		installer, dir := newTestInstaller(t, git)
		installCheckout(t, git, dir, "pdf-tools", &fakeRepo{detached: true, revisions: []string{"1111111aaaa", "2222222bbbb"}})

		result := installer.Update(context.Background(), "pdf-tools")

		assert.True(t, result.Success)
		assert.False(t, result.Updated)
		assert.Empty(t, result.Error)
		assert.Contains(t, result.Message, "pinned to a specific ref")
		assert.Equal(t, []string{"symbolic-ref -q HEAD"}, git.commands())
	})

	t.Run("not installed", func(t *testing.T) {
		git := newFakeGit()
		installer, _ := newTestInstaller(t, git)

		result := installer.Update(context.Background(), "pdf-tools")

		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "not installed")
	})

	t.Run("not a git checkout", func(t *testing.T) {
		git := newFakeGit()
		installer, dir := newTestInstaller(t, git)
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "pdf-tools"), 0o755))

		result := installer.Update(context.Background(), "pdf-tools")

		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "not a git repository")
	})

	t.Run("invalid name", func(t *testing.T) {
		git := newFakeGit()
		installer, _ := newTestInstaller(t, git)

		result := installer.Update(context.Background(), "../pdf-tools")

		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "invalid plugin name")
		assert.Empty(t, git.commands())
	})
}

func TestRemove(t *testing.T) {
	git := newFakeGit()
	installer, dir := newTestInstaller(t, git)
	path := installCheckout(t, git, dir, "pdf-tools", &fakeRepo{revisions: []string{"1111111"}})

	removed, err := installer.Remove(context.Background(), "pdf-tools")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.NoDirExists(t, path)

	removed, err = installer.Remove(context.Background(), "pdf-tools")
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = installer.Remove(context.Background(), "../etc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid plugin name")
}

func TestListInstalled(t *testing.T) {
	git := newFakeGit()
	installer, dir := newTestInstaller(t, git)

	names, err := installer.ListInstalled(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{}, names)

	installCheckout(t, git, dir, "zeta-skill", &fakeRepo{})
	installCheckout(t, git, dir, "alpha-skill", &fakeRepo{})

	// git metadata without SKILL.md
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "no-manifest", gitDir), 0o755))
	// SKILL.md without git metadata
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "no-git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "no-git", skills.FileName), []byte(skillFile("no-git", "x")), 0o644))
	// stray file
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	names, err = installer.ListInstalled(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha-skill", "zeta-skill"}, names)
}

func TestInspect(t *testing.T) {
	git := newFakeGit()
	installer, dir := newTestInstaller(t, git)
	installCheckout(t, git, dir, "pdf-tools", &fakeRepo{revisions: []string{"1111111aaaa"}})
	installCheckout(t, git, dir, "pinned", &fakeRepo{detached: true, revisions: []string{"2222222bbbb"}})

	plugin, err := installer.Inspect(context.Background(), "pdf-tools")
	require.NoError(t, err)
	assert.Equal(t, "1111111aaaa", plugin.Revision)
	assert.Equal(t, "main", plugin.Branch)
	assert.False(t, plugin.Detached)
	assert.False(t, plugin.Modified.IsZero())

	plugin, err = installer.Inspect(context.Background(), "pinned")
	require.NoError(t, err)
	assert.True(t, plugin.Detached)
	assert.Empty(t, plugin.Branch)

	_, err = installer.Inspect(context.Background(), "missing")
	assert.Error(t, err)
}

func TestConcurrentInstallsAreSerialised(t *testing.T) {
	git := newFakeGit()
	names := []string{"pdf-tools", "docx-tools", "xlsx-tools", "pptx-tools"}
	for _, name := range names {
		git.repos["https://github.com/acme/"+name] = &fakeRepo{
			files: map[string]string{skills.FileName: skillFile(name, name)},
		}
	}
	installer, dir := newTestInstaller(t, git)

	var wg sync.WaitGroup
	results := make([]*InstallResult, len(names))
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			results[i] = installer.Install(context.Background(), "https://github.com/acme/"+name, "", "")
		}(i, name)
	}
	wg.Wait()

	for _, result := range results {
		assert.True(t, result.Success, result.Error)
	}
	assert.ElementsMatch(t, names, dirEntries(t, dir))
	assert.FileExists(t, dir+".lock")
}
