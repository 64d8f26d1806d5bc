// Package mcpserver exposes the engine as MCP tools over stdio.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/yamonco/ward/internal/engine"
	"github.com/yamonco/ward/internal/ledger"
	"github.com/yamonco/ward/internal/policy"
)

// Server wraps an MCP server with the ward tools.
type Server struct {
	engine    *engine.Engine
	mcpServer *server.MCPServer
	logger    *slog.Logger
}

// New registers ward_check, ward_info, ward_comment and ward_validate.
func New(e *engine.Engine, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{engine: e, logger: logger}

	s.mcpServer = server.NewMCPServer(
		"ward",
		version,
		server.WithToolCapabilities(false),
	)

	checkTool := mcp.NewTool("ward_check",
		mcp.WithDescription(`Check whether a command may run in a directory under the .ward policies that govern it.

Returns "ALLOW" or "DENY" followed by the explanation. A denial is a normal
result, not an error.`),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Directory or file the command acts on"),
		),
		mcp.WithString("command",
			mcp.Description("Command name, e.g. rm or /usr/bin/git"),
		),
		mcp.WithString("kind",
			mcp.Description("Operation kind: generic, mkdir or write"),
			mcp.Enum("generic", "mkdir", "write"),
		),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{
			Title:           "Check Ward Policy",
			ReadOnlyHint:    boolPtr(true),
			DestructiveHint: boolPtr(false),
			IdempotentHint:  boolPtr(true),
			OpenWorldHint:   boolPtr(false),
		}),
	)
	s.mcpServer.AddTool(checkTool, s.handleCheck)

	infoTool := mcp.NewTool("ward_info",
		mcp.WithDescription("Show the merged .ward policy for a path, its source files and their notes."),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Directory or file to inspect"),
		),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{
			Title:           "Ward Policy Info",
			ReadOnlyHint:    boolPtr(true),
			DestructiveHint: boolPtr(false),
			IdempotentHint:  boolPtr(true),
			OpenWorldHint:   boolPtr(false),
		}),
	)
	s.mcpServer.AddTool(infoTool, s.handleInfo)

	commentTool := mcp.NewTool("ward_comment",
		mcp.WithDescription(`Append a note to the nearest .ward file governing a path.

Only works where a policy sets @allow_comments: true, and only while the
file is under its @max_comments quota.`),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Directory the note is about"),
		),
		mcp.WithString("comment",
			mcp.Required(),
			mcp.Description("Single-line note text"),
		),
		mcp.WithString("author",
			mcp.Description("Optional author prefix"),
		),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{
			Title:           "Annotate Ward Policy",
			ReadOnlyHint:    boolPtr(false),
			DestructiveHint: boolPtr(false),
			IdempotentHint:  boolPtr(false),
			OpenWorldHint:   boolPtr(false),
		}),
	)
	s.mcpServer.AddTool(commentTool, s.handleComment)

	validateTool := mcp.NewTool("ward_validate",
		mcp.WithDescription("Report malformed directive values in a single .ward file."),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Policy file, or a directory containing one"),
		),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{
			Title:           "Validate Ward Policy",
			ReadOnlyHint:    boolPtr(true),
			DestructiveHint: boolPtr(false),
			IdempotentHint:  boolPtr(true),
			OpenWorldHint:   boolPtr(false),
		}),
	)
	s.mcpServer.AddTool(validateTool, s.handleValidate)

	return s
}

func boolPtr(b bool) *bool {
	return &b
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio blocks serving requests on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) handleCheck(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, ok := req.Params.Arguments["path"].(string)
	if !ok || path == "" {
		return mcp.NewToolResultError("path is required"), nil
	}
	command, _ := req.Params.Arguments["command"].(string)
	kindName, _ := req.Params.Arguments["kind"].(string)
	kind, err := policy.ParseKind(kindName)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	d, err := s.engine.Check(ctx, policy.Request{
		Command: command,
		Target:  path,
		Kind:    kind,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if d.Allowed() {
		return mcp.NewToolResultText("ALLOW"), nil
	}
	return mcp.NewToolResultText("DENY\n" + d.Reason), nil
}

func (s *Server) handleInfo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, ok := req.Params.Arguments["path"].(string)
	if !ok || path == "" {
		return mcp.NewToolResultError("path is required"), nil
	}

	res, err := s.engine.Resolve(path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(res.Describe()), nil
}

func (s *Server) handleComment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, ok := req.Params.Arguments["path"].(string)
	if !ok || path == "" {
		return mcp.NewToolResultError("path is required"), nil
	}
	comment, ok := req.Params.Arguments["comment"].(string)
	if !ok || strings.TrimSpace(comment) == "" {
		return mcp.NewToolResultError("comment is required"), nil
	}
	author, _ := req.Params.Arguments["author"].(string)

	err := s.engine.Comment(path, ledger.Attributed(author, comment))
	switch {
	case err == nil:
		return mcp.NewToolResultText("comment added"), nil
	case errors.Is(err, ledger.ErrLedgerBusy):
		return mcp.NewToolResultError("policy file is busy, retry: " + err.Error()), nil
	default:
		s.logger.Debug("comment rejected", "path", path, "error", err)
		return mcp.NewToolResultError(err.Error()), nil
	}
}

func (s *Server) handleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, ok := req.Params.Arguments["path"].(string)
	if !ok || path == "" {
		return mcp.NewToolResultError("path is required"), nil
	}

	issues, err := s.engine.Validate(path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(issues) == 0 {
		return mcp.NewToolResultText("OK"), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d issue(s)\n", len(issues))
	for _, issue := range issues {
		b.WriteString(issue.Error())
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}
