package webui

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillkit/pkg/plugins"
	"github.com/jingkaihe/skillkit/pkg/skills"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// newTestSource lays out a user root with a usable pdf skill, a skill that
// is unavailable and a broken package, and returns a cache over it.
func newTestSource(t *testing.T) *skills.Cache {
	t.Helper()
	base := t.TempDir()
	user := filepath.Join(base, "user")

	writeFile(t, filepath.Join(user, "pdf", skills.FileName),
		"---\nname: pdf\ndescription: Extract <text> from PDFs\nallowed-tools: Bash Read\n---\n\n# PDF\n\nRun `scripts/extract.sh`.\n")
	writeFile(t, filepath.Join(user, "pdf", "scripts", "extract.sh"), "#!/bin/sh\necho extract\n")
	writeFile(t, filepath.Join(user, "pdf", "references", "api.md"), "# API\n")
	writeFile(t, filepath.Join(user, "xlsx", skills.FileName),
		"---\nname: xlsx\ndescription: Spreadsheets\nmetadata:\n  requires-commands: libreoffice\n---\nbody\n")
	writeFile(t, filepath.Join(user, "broken", skills.FileName), "no header\n")
	writeFile(t, filepath.Join(base, "secret.txt"), "secret")

	discovery, err := skills.NewDiscovery(
		skills.WithRoots(skills.Roots{User: user}),
		skills.WithIncludeUnavailable(true),
		skills.WithAvailabilityChecker(skills.AvailabilityFunc(func(p *skills.DiscoveredPackage) (bool, string) {
			if len(skills.RequiredCommands(p.Manifest)) > 0 {
				return false, "missing required commands: libreoffice"
			}
			return true, ""
		})),
	)
	require.NoError(t, err)
	return skills.NewCache(discovery)
}

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	server, err := NewServer(&ServerConfig{Host: "localhost", Port: 8080}, newTestSource(t), opts...)
	require.NoError(t, err)
	return server
}

func get(t *testing.T, server *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestServerConfigValidate(t *testing.T) {
	tests := []struct {
		name          string
		config        *ServerConfig
		expectedError string
	}{
		{name: "valid config", config: &ServerConfig{Host: "localhost", Port: 8080}},
		{name: "empty host", config: &ServerConfig{Port: 8080}, expectedError: "host cannot be empty"},
		{name: "port too low", config: &ServerConfig{Host: "localhost", Port: 0}, expectedError: "port must be between 1 and 65535"},
		{name: "port too high", config: &ServerConfig{Host: "localhost", Port: 65536}, expectedError: "port must be between 1 and 65535"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.expectedError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewServerRequiresSource(t *testing.T) {
	_, err := NewServer(&ServerConfig{Host: "localhost", Port: 8080}, nil)
	assert.Error(t, err)

	_, err = NewServer(&ServerConfig{Port: 8080}, newTestSource(t))
	assert.Error(t, err)
}

func TestListSkills(t *testing.T) {
	server := newTestServer(t)

	w := get(t, server, "/api/skills")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	response := decode[ListSkillsResponse](t, w)
	require.Len(t, response.Skills, 2)
	assert.Equal(t, 2, response.Total)

	assert.Equal(t, "pdf", response.Skills[0].Name)
	assert.Equal(t, skills.SourceUser, response.Skills[0].Source)
	assert.Equal(t, []string{"Bash", "Read"}, response.Skills[0].AllowedTools)
	assert.False(t, response.Skills[0].Unavailable)

	assert.Equal(t, "xlsx", response.Skills[1].Name)
	assert.True(t, response.Skills[1].Unavailable)
	assert.Equal(t, "missing required commands: libreoffice", response.Skills[1].UnavailableReason)

	require.Len(t, response.Errors, 1)
	assert.Equal(t, skills.ErrParse, response.Errors[0].Type)
}

func TestDigest(t *testing.T) {
	server := newTestServer(t)

	response := decode[DigestResponse](t, get(t, server, "/api/skills/digest"))
	assert.Equal(t, 1, response.Total, "unavailable packages stay out of the digest")
	assert.Equal(t, skills.DefaultTokenBudget, response.Budget)
	assert.Contains(t, response.Content, "<name>pdf</name>")
	assert.Contains(t, response.Content, "Extract &lt;text&gt; from PDFs")
	assert.False(t, response.Truncated)
}

func TestDigestBudget(t *testing.T) {
	server := newTestServer(t, WithTokenBudget(1))

	response := decode[DigestResponse](t, get(t, server, "/api/skills/digest"))
	assert.Equal(t, 1, response.Budget)
	assert.True(t, response.Truncated)
	assert.Empty(t, response.Content)
}

func TestGetSkill(t *testing.T) {
	server := newTestServer(t)

	w := get(t, server, "/api/skills/pdf")
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[SkillDetail](t, w)
	assert.Equal(t, "pdf", detail.Name)
	assert.Contains(t, detail.Instructions, "name: pdf")
	assert.Contains(t, detail.Instructions, "# PDF")
	assert.Equal(t, 1, detail.Resources["scripts"])
	assert.Equal(t, 1, detail.Resources["references"])

	unavailable := decode[SkillDetail](t, get(t, server, "/api/skills/xlsx"))
	assert.True(t, unavailable.Unavailable)
	assert.Empty(t, unavailable.Instructions)

	missing := get(t, server, "/api/skills/nope")
	assert.Equal(t, http.StatusNotFound, missing.Code)
	body := decode[map[string]any](t, missing)
	assert.Equal(t, "skill not found", body["error"])
	assert.Equal(t, false, body["success"])
}

func TestGetSkillPrefersServedPackage(t *testing.T) {
	base := t.TempDir()
	bundled := filepath.Join(base, "bundled")
	user := filepath.Join(base, "user")
	writeFile(t, filepath.Join(bundled, "pdf", skills.FileName), "---\nname: pdf\ndescription: Bundled PDF\n---\n\nbundled body\n")
	writeFile(t, filepath.Join(user, "pdf", skills.FileName), "---\nname: pdf\ndescription: User PDF\n---\n\nuser body\n")
	writeFile(t, filepath.Join(user, "pdf", "scripts", "run.sh"), "true\n")

	discovery, err := skills.NewDiscovery(
		skills.WithRoots(skills.Roots{Bundled: bundled, User: user}),
		skills.WithBundledOverrides([]string{"pdf"}, nil),
		skills.WithIncludeDisabled(true),
	)
	require.NoError(t, err)
	server, err := NewServer(&ServerConfig{Host: "localhost", Port: 8080}, skills.NewCache(discovery))
	require.NoError(t, err)

	w := get(t, server, "/api/skills/pdf")
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[SkillDetail](t, w)
	assert.Equal(t, skills.SourceUser, detail.Source)
	assert.Equal(t, "User PDF", detail.Description)
	assert.False(t, detail.Disabled)
	assert.Contains(t, detail.Instructions, "user body")
	assert.Equal(t, 1, detail.Resources["scripts"])
}

func TestRenderSkill(t *testing.T) {
	server := newTestServer(t)

	w := get(t, server, "/api/skills/pdf/html")
	require.Equal(t, http.StatusOK, w.Code)
	rendered := decode[RenderedSkill](t, w)
	assert.Equal(t, "pdf", rendered.Name)
	assert.Contains(t, rendered.HTML, "<h1>PDF</h1>")
	assert.Contains(t, rendered.HTML, "<code>scripts/extract.sh</code>")
	assert.NotContains(t, rendered.HTML, "description:")

	assert.Equal(t, http.StatusNotFound, get(t, server, "/api/skills/xlsx/html").Code)
}

func TestRenderInstructions(t *testing.T) {
	html, err := RenderInstructions("---\nname: x\ndescription: y\n---\n\n| a | b |\n|---|---|\n| 1 | 2 |\n\n<script>alert(1)</script>\n")
	require.NoError(t, err)
	assert.Contains(t, html, "<table>")
	assert.NotContains(t, html, "<script>")
	assert.NotContains(t, html, "name: x")
}

func TestResources(t *testing.T) {
	server := newTestServer(t)

	list := decode[ResourceListResponse](t, get(t, server, "/api/skills/pdf/resources/scripts"))
	assert.Equal(t, []string{"scripts/extract.sh"}, list.Files)

	empty := decode[ResourceListResponse](t, get(t, server, "/api/skills/pdf/resources/assets"))
	assert.NotNil(t, empty.Files)
	assert.Empty(t, empty.Files)

	w := get(t, server, "/api/skills/pdf/resource?path=scripts/extract.sh")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "#!/bin/sh\necho extract\n", w.Body.String())
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	for _, target := range []string{
		"/api/skills/pdf/resource?path=../../secret.txt",
		"/api/skills/pdf/resource?path=scripts/missing.sh",
		"/api/skills/nope/resource?path=scripts/extract.sh",
	} {
		assert.Equal(t, http.StatusNotFound, get(t, server, target).Code, target)
	}
	assert.Equal(t, http.StatusBadRequest, get(t, server, "/api/skills/pdf/resource").Code)
}

type fakePlugins struct {
	names []string
	err   error
}

func (f *fakePlugins) ListInstalled(context.Context) ([]string, error) {
	return f.names, f.err
}

func (f *fakePlugins) Inspect(_ context.Context, name string) (*plugins.InstalledPlugin, error) {
	return &plugins.InstalledPlugin{Name: name, Path: "/plugins/" + name, Revision: "abc1234", Branch: "main"}, nil
}

type fakeRecords []skills.InstallRecord

func (f fakeRecords) List(context.Context) ([]skills.InstallRecord, error) {
	return f, nil
}

func TestListPlugins(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		server := newTestServer(t)
		assert.Equal(t, http.StatusNotFound, get(t, server, "/api/plugins").Code)
	})

	t.Run("joins records", func(t *testing.T) {
		installedAt := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
		records := fakeRecords{{Name: "pdf-tools", URL: "https://github.com/acme/pdf-tools", Enabled: false, InstalledAt: installedAt}}
		server := newTestServer(t, WithPlugins(&fakePlugins{names: []string{"docx-tools", "pdf-tools"}}, records))

		response := decode[[]PluginSummary](t, get(t, server, "/api/plugins"))
		require.Len(t, response, 2)

		assert.Equal(t, "docx-tools", response[0].Name)
		assert.True(t, response[0].Enabled, "plugins without a record count as enabled")
		assert.Nil(t, response[0].InstalledAt)

		assert.Equal(t, "pdf-tools", response[1].Name)
		assert.False(t, response[1].Enabled)
		assert.Equal(t, "https://github.com/acme/pdf-tools", response[1].URL)
		require.NotNil(t, response[1].InstalledAt)
		assert.True(t, installedAt.Equal(*response[1].InstalledAt))
	})

	t.Run("list failure", func(t *testing.T) {
		server := newTestServer(t, WithPlugins(&fakePlugins{err: errors.New("boom")}, nil))
		assert.Equal(t, http.StatusInternalServerError, get(t, server, "/api/plugins").Code)
	})
}

func TestMiddleware(t *testing.T) {
	server := newTestServer(t)

	w := get(t, server, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/api/skills", nil)
	req.Header.Set(requestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get(requestIDHeader))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
