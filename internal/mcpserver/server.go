// Package mcpserver serves the tokenwindow-local MCP server over stdio. It
// exposes the single recache_message_array tool so editor hosts can validate
// a position list against the live window before the model commits to it
// in-band; the actual rebuild always happens on the next pipeline turn.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tokenwindow/twm/internal/command"
	"github.com/tokenwindow/twm/internal/manager"
	"github.com/tokenwindow/twm/internal/register"
)

// WindowReader is the slice of the manager the server needs.
type WindowReader interface {
	GetWindowState(conversationID string) manager.WindowState
}

// Server wraps the MCP stdio server.
type Server struct {
	mcp    *server.MCPServer
	logger *slog.Logger
}

// New builds the server against a window reader and placeholder template.
func New(windows WindowReader, tmpl register.PlaceholderTemplate, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := server.NewMCPServer(command.ServerName, version)

	tool := mcp.NewTool(command.ToolName,
		mcp.WithDescription(
			"Select the message positions to retain in the conversation window. "+
				"Positions are 1-based; ranges are closed (e.g. \"1-4,25,30\")."),
		mcp.WithString("messages",
			mcp.Required(),
			mcp.Description("Comma-separated positions and ranges, e.g. \"1-4,25,30\".")),
		mcp.WithString("conversation_id",
			mcp.Description("Conversation whose window the positions refer to.")),
	)

	s.AddTool(tool, func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		list, err := req.RequireString("messages")
		if err != nil {
			return mcp.NewToolResultError("the \"messages\" argument is required"), nil
		}
		conversationID := req.GetString("conversation_id", "")

		positions := command.ParsePositions(list)
		if len(positions) == 0 {
			return mcp.NewToolResultError(
				fmt.Sprintf("no valid positions in %q; expected e.g. \"1-4,25,30\"", list)), nil
		}

		inv := &command.Invocation{Messages: list, Positions: positions}
		regs := inWindow(windows.GetWindowState(conversationID).Registers)
		if verr := command.Validate(inv, regs, tmpl); verr != nil {
			return mcp.NewToolResultError(verr.Text), nil
		}

		logger.Info("mcpserver: recache selection validated",
			"conversation", conversationID, "positions", len(positions))
		return mcp.NewToolResultText(fmt.Sprintf(
			"Selection accepted: %d positions. The window is rebuilt on the next turn.",
			len(positions))), nil
	})

	return &Server{mcp: s, logger: logger}
}

// ServeStdio blocks serving the MCP protocol on stdin/stdout.
func (s *Server) ServeStdio() error {
	s.logger.Info("mcpserver: serving on stdio")
	return server.ServeStdio(s.mcp)
}

// inWindow filters a diagnostic register snapshot down to the visible
// window.
func inWindow(regs []register.Register) []register.Register {
	out := make([]register.Register, 0, len(regs))
	for _, r := range regs {
		if r.InWindow {
			out = append(out, r)
		}
	}
	return out
}
