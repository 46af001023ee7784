// Package mcpserver exposes discovered skills to MCP clients. Each
// disclosure tier is a tool: the digest, the instructions of one skill, the
// resource listing of one category and the content of one resource.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillkit/pkg/disclosure"
	"github.com/jingkaihe/skillkit/pkg/logger"
	"github.com/jingkaihe/skillkit/pkg/skills"
	"github.com/jingkaihe/skillkit/pkg/version"
)

// Tool names.
const (
	ToolDigest       = "skills_digest"
	ToolInstructions = "skill_instructions"
	ToolResources    = "skill_resources"
	ToolResource     = "skill_resource"
)

const serverName = "skillkit"

// SkillSource supplies the current discovery snapshot. *skills.Cache
// implements it.
type SkillSource interface {
	Get(ctx context.Context) *skills.DiscoveryResult
}

// Server serves skills over MCP.
type Server struct {
	source SkillSource
	budget int
	mcp    *server.MCPServer
}

// Option configures a Server.
type Option func(*Server)

// WithTokenBudget caps the digest. Zero or less selects the default.
func WithTokenBudget(tokens int) Option {
	return func(s *Server) {
		s.budget = tokens
	}
}

// New creates a Server and registers its tools.
func New(source SkillSource, opts ...Option) *Server {
	s := &Server{source: source}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = server.NewMCPServer(serverName, version.Get().Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	s.registerTools()
	return s
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// Serve speaks MCP over the given streams until ctx is cancelled or stdin
// is closed.
func (s *Server) Serve(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	if err := stdio.Listen(ctx, stdin, stdout); err != nil && !errors.Is(err, context.Canceled) {
		return errors.Wrap(err, "mcp server stopped")
	}
	return nil
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool(ToolDigest,
		mcp.WithDescription("List the available skills with their descriptions. Call this first to decide which skill applies to the task."),
	), s.handleDigest)

	s.mcp.AddTool(mcp.NewTool(ToolInstructions,
		mcp.WithDescription("Return the full SKILL.md instructions of one skill."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Skill name as listed by "+ToolDigest)),
	), s.handleInstructions)

	s.mcp.AddTool(mcp.NewTool(ToolResources,
		mcp.WithDescription("List the resource files of a skill in one category."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Skill name")),
		mcp.WithString("category", mcp.Required(),
			mcp.Description("Resource category"),
			mcp.Enum(disclosure.Categories...),
		),
	), s.handleResources)

	s.mcp.AddTool(mcp.NewTool(ToolResource,
		mcp.WithDescription("Read one resource file of a skill."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Skill name")),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path relative to the skill directory, for example scripts/extract.sh")),
	), s.handleResource)
}

type toolArgs struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Path     string `json:"path"`
}

func parseArgs(request mcp.CallToolRequest) (toolArgs, error) {
	var args toolArgs
	raw, err := json.Marshal(request.Params.Arguments)
	if err != nil {
		return args, errors.Wrap(err, "failed to read tool arguments")
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return args, errors.Wrap(err, "invalid tool arguments")
	}
	return args, nil
}

func (s *Server) provider(ctx context.Context) *disclosure.Provider {
	result := s.source.Get(ctx)
	return disclosure.NewProvider(
		skills.Enabled(result.Packages),
		disclosure.WithTokenBudget(s.budget),
		disclosure.WithDiagnostics(logger.Diagnostics(ctx)),
	)
}

func (s *Server) handleDigest(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	digest := s.provider(ctx).Tier1()
	if digest.Content == "" {
		return mcp.NewToolResultText("No skills are available."), nil
	}
	return mcp.NewToolResultText(digest.Content), nil
}

func (s *Server) handleInstructions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if args.Name == "" {
		return mcp.NewToolResultError("name is required"), nil
	}

	instructions, ok := s.provider(ctx).Tier2(args.Name)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("skill %q not found", args.Name)), nil
	}
	return mcp.NewToolResultText(instructions), nil
}

func (s *Server) handleResources(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if args.Name == "" || args.Category == "" {
		return mcp.NewToolResultError("name and category are required"), nil
	}

	files := s.provider(ctx).Tier3ResourceList(args.Name, args.Category)
	if len(files) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No %s resources found for skill %q.", args.Category, args.Name)), nil
	}
	return mcp.NewToolResultText(strings.Join(files, "\n")), nil
}

func (s *Server) handleResource(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if args.Name == "" || args.Path == "" {
		return mcp.NewToolResultError("name and path are required"), nil
	}

	content, ok := s.provider(ctx).Tier3Resource(args.Name, args.Path)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("resource %q not found in skill %q", args.Path, args.Name)), nil
	}
	if !utf8.Valid(content) {
		return mcp.NewToolResultError(fmt.Sprintf("resource %q is not a text file", args.Path)), nil
	}
	return mcp.NewToolResultText(string(content)), nil
}
