package webui

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/jingkaihe/skillkit/pkg/skills"
)

// SkillSummary is the listing view of a discovered package.
type SkillSummary struct {
	Name              string            `json:"name"`
	Description       string            `json:"description"`
	Source            skills.Source     `json:"source"`
	Path              string            `json:"path"`
	License           string            `json:"license,omitempty"`
	Compatibility     string            `json:"compatibility,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	AllowedTools      []string          `json:"allowedTools,omitempty"`
	Disabled          bool              `json:"disabled"`
	Unavailable       bool              `json:"unavailable"`
	UnavailableReason string            `json:"unavailableReason,omitempty"`
}

// ListSkillsResponse is returned by GET /api/skills.
type ListSkillsResponse struct {
	Skills []SkillSummary        `json:"skills"`
	Errors []skills.PackageError `json:"errors"`
	Total  int                   `json:"total"`
}

// SkillDetail is returned by GET /api/skills/{name}. Instructions and
// Resources are only filled for usable packages.
type SkillDetail struct {
	SkillSummary
	Instructions string         `json:"instructions,omitempty"`
	Resources    map[string]int `json:"resources,omitempty"`
}

// DigestResponse is returned by GET /api/skills/digest.
type DigestResponse struct {
	Content   string `json:"content"`
	Tokens    int    `json:"tokens"`
	Budget    int    `json:"budget"`
	Included  int    `json:"included"`
	Total     int    `json:"total"`
	Truncated bool   `json:"truncated"`
}

// ResourceListResponse is returned by GET /api/skills/{name}/resources/{category}.
type ResourceListResponse struct {
	Skill    string   `json:"skill"`
	Category string   `json:"category"`
	Files    []string `json:"files"`
}

// PluginSummary joins the git state of an installed plugin with its record.
type PluginSummary struct {
	Name        string     `json:"name"`
	Path        string     `json:"path"`
	Revision    string     `json:"revision,omitempty"`
	Branch      string     `json:"branch,omitempty"`
	Detached    bool       `json:"detached"`
	URL         string     `json:"url,omitempty"`
	Ref         string     `json:"ref,omitempty"`
	Enabled     bool       `json:"enabled"`
	InstalledAt *time.Time `json:"installedAt,omitempty"`
}

func summarize(p *skills.DiscoveredPackage) SkillSummary {
	return SkillSummary{
		Name:              p.Manifest.Name,
		Description:       p.Manifest.Description,
		Source:            p.Source,
		Path:              p.Path,
		License:           p.Manifest.License,
		Compatibility:     p.Manifest.Compatibility,
		Metadata:          p.Manifest.Metadata,
		AllowedTools:      p.Manifest.AllowedTools.Tools(),
		Disabled:          p.Disabled,
		Unavailable:       p.Unavailable,
		UnavailableReason: p.UnavailableReason,
	}
}

// handleListSkills handles GET /api/skills
func (s *Server) handleListSkills(w http.ResponseWriter, r *http.Request) {
	result := s.source.Get(r.Context())

	response := ListSkillsResponse{
		Skills: make([]SkillSummary, 0, len(result.Packages)),
		Errors: result.Errors,
		Total:  len(result.Packages),
	}
	if response.Errors == nil {
		response.Errors = []skills.PackageError{}
	}
	for _, p := range result.Packages {
		response.Skills = append(response.Skills, summarize(p))
	}

	s.writeJSONResponse(r.Context(), w, response)
}

// handleDigest handles GET /api/skills/digest
func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	provider, _ := s.provider(r.Context())
	digest := provider.Tier1()

	budget := s.budget
	if budget <= 0 {
		budget = skills.DefaultTokenBudget
	}
	s.writeJSONResponse(r.Context(), w, DigestResponse{
		Content:   digest.Content,
		Tokens:    digest.Tokens,
		Budget:    budget,
		Included:  digest.Included,
		Total:     digest.Total,
		Truncated: digest.Truncated,
	})
}

// handleGetSkill handles GET /api/skills/{name}
func (s *Server) handleGetSkill(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := mux.Vars(r)["name"]

	provider, result := s.provider(ctx)
	// The served package comes first so the summary and the instructions
	// describe the same package when a name appears in several sources.
	for _, pkg := range provider.Packages() {
		if pkg.Manifest.Name != name {
			continue
		}
		detail := SkillDetail{SkillSummary: summarize(pkg)}
		if instructions, ok := provider.Tier2(name); ok {
			detail.Instructions = instructions
			detail.Resources = provider.ResourceCounts(name)
		}
		s.writeJSONResponse(ctx, w, detail)
		return
	}

	// Disabled or unavailable: shown without instructions.
	pkg, ok := result.Find(name)
	if !ok {
		s.writeErrorResponse(ctx, w, http.StatusNotFound, "skill not found", nil)
		return
	}
	s.writeJSONResponse(ctx, w, SkillDetail{SkillSummary: summarize(pkg)})
}

// handleListResources handles GET /api/skills/{name}/resources/{category}
func (s *Server) handleListResources(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	provider, _ := s.provider(r.Context())

	s.writeJSONResponse(r.Context(), w, ResourceListResponse{
		Skill:    vars["name"],
		Category: vars["category"],
		Files:    provider.Tier3ResourceList(vars["name"], vars["category"]),
	})
}

// handleReadResource handles GET /api/skills/{name}/resource?path=...
// Unknown skills, missing files and rejected paths all answer 404.
func (s *Server) handleReadResource(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := mux.Vars(r)["name"]
	relPath := r.URL.Query().Get("path")
	if relPath == "" {
		s.writeErrorResponse(ctx, w, http.StatusBadRequest, "path query parameter is required", nil)
		return
	}

	provider, _ := s.provider(ctx)
	content, ok := provider.Tier3Resource(name, relPath)
	if !ok {
		s.writeErrorResponse(ctx, w, http.StatusNotFound, "resource not found", nil)
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(content))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	_, _ = w.Write(content)
}

// handleListPlugins handles GET /api/plugins
func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.plugins == nil {
		s.writeErrorResponse(ctx, w, http.StatusNotFound, "plugin management is not enabled", nil)
		return
	}

	names, err := s.plugins.ListInstalled(ctx)
	if err != nil {
		s.writeErrorResponse(ctx, w, http.StatusInternalServerError, "failed to list plugins", err)
		return
	}

	records := map[string]skills.InstallRecord{}
	if s.records != nil {
		list, err := s.records.List(ctx)
		if err != nil {
			s.writeErrorResponse(ctx, w, http.StatusInternalServerError, "failed to list install records", err)
			return
		}
		for _, rec := range list {
			records[rec.Name] = rec
		}
	}

	response := make([]PluginSummary, 0, len(names))
	for _, name := range names {
		plugin, err := s.plugins.Inspect(ctx, name)
		if err != nil {
			s.writeErrorResponse(ctx, w, http.StatusInternalServerError, "failed to inspect plugin", err)
			return
		}
		summary := PluginSummary{
			Name:     plugin.Name,
			Path:     plugin.Path,
			Revision: plugin.Revision,
			Branch:   plugin.Branch,
			Detached: plugin.Detached,
			Enabled:  true,
		}
		if rec, ok := records[name]; ok {
			installedAt := rec.InstalledAt
			summary.URL = rec.URL
			summary.Ref = rec.Ref
			summary.Enabled = rec.Enabled
			summary.InstalledAt = &installedAt
		}
		response = append(response, summary)
	}

	s.writeJSONResponse(ctx, w, response)
}
