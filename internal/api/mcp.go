package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/statusbot/internal/ledger"
	"github.com/kalambet/statusbot/internal/reminder"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Reminders Reminders
	Ledger    LedgerSnapshot
}

// NewMCPServer creates an MCP server with the statusbot admin tools and
// resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"statusbot",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("statusbot: trigger weekly status reminders and inspect who has reported."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("send_broadcast",
			mcp.WithDescription("Send the weekly update request to every employee for a reminder cycle."),
			mcp.WithString("cycle", mcp.Description("Cycle label, e.g. mon-update"), mcp.Required()),
		),
		mcpFire(deps.Reminders.Broadcast),
	)

	s.AddTool(
		mcp.NewTool("send_nudge",
			mcp.WithDescription("Remind employees whose last update is older than the grace window."),
			mcp.WithString("cycle", mcp.Description("Cycle label, e.g. tue-followup"), mcp.Required()),
		),
		mcpFire(deps.Reminders.Nudge),
	)

	s.AddTool(
		mcp.NewTool("list_overdue",
			mcp.WithDescription("List employees a nudge would reach right now."),
		),
		mcpListOverdue(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"ledger://updates",
			"Update Ledger",
			mcp.WithResourceDescription("Last status update time per employee"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceLedger(deps),
	)

	return s
}

func mcpFire(fire func(ctx context.Context, label string) (reminder.Report, error)) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		label, err := req.RequireString("cycle")
		if err != nil || label == "" {
			return mcpError("cycle is required"), nil
		}

		report, err := fire(ctx, label)
		if errors.Is(err, reminder.ErrUnknownCycle) {
			return mcpError(err.Error()), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("firing %s failed: %v", label, err)), nil
		}

		return mcpText(fmt.Sprintf("%s %s: sent %d of %d (failed %d)",
			report.Cycle, report.Action, report.Sent, report.Targeted, report.Failed)), nil
	}
}

func mcpListOverdue(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		overdue, err := deps.Reminders.Overdue()
		if err != nil {
			return mcpError(fmt.Sprintf("overdue evaluation failed: %v", err)), nil
		}
		if len(overdue) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(overdue)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceLedger(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		records, err := deps.Ledger.Snapshot()
		if err != nil {
			return nil, fmt.Errorf("failed to read ledger: %w", err)
		}
		if records == nil {
			records = []ledger.Record{}
		}

		b, err := json.Marshal(records)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal ledger: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
