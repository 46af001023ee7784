package webui

import (
	"bytes"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
)

// RenderedSkill is returned by GET /api/skills/{name}/html.
type RenderedSkill struct {
	Name string `json:"name"`
	HTML string `json:"html"`
}

// markdown consumes the SKILL.md header as front matter so only the body is
// rendered. Raw HTML in the body is dropped.
var markdown = goldmark.New(
	goldmark.WithExtensions(meta.Meta, extension.GFM),
)

// RenderInstructions converts SKILL.md text to HTML.
func RenderInstructions(source string) (string, error) {
	var buf bytes.Buffer
	pctx := parser.NewContext()
	if err := markdown.Convert([]byte(source), &buf, parser.WithContext(pctx)); err != nil {
		return "", errors.Wrap(err, "failed to render markdown")
	}
	return buf.String(), nil
}

// handleRenderSkill handles GET /api/skills/{name}/html
func (s *Server) handleRenderSkill(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := mux.Vars(r)["name"]

	provider, _ := s.provider(ctx)
	instructions, ok := provider.Tier2(name)
	if !ok {
		s.writeErrorResponse(ctx, w, http.StatusNotFound, "skill not found", nil)
		return
	}

	html, err := RenderInstructions(instructions)
	if err != nil {
		s.writeErrorResponse(ctx, w, http.StatusInternalServerError, "failed to render skill", err)
		return
	}
	s.writeJSONResponse(ctx, w, RenderedSkill{Name: name, HTML: html})
}
