package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/use-agent/enact/config"
	"github.com/use-agent/enact/models"
	"github.com/use-agent/enact/runner"
)

func main() {
	cfg := config.Load()
	initLogger(cfg.Log)

	s := server.NewMCPServer(
		"enact",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	runTool := mcp.NewTool("run_browser_actions",
		mcp.WithDescription("Execute an ordered sequence of browser actions (navigate, click, fill, type, screenshot, capture_snapshot, capture_requests, evaluate_js, ...) in a fresh headless browser session and return a JSON report keyed step_<index>_<action>. Each call launches its own browser and tears it down when the sequence finishes."),
		mcp.WithString("steps",
			mcp.Required(),
			mcp.Description(`JSON array of action steps, e.g. [{"action": "navigate", "params": {"url": "https://example.com"}}, {"action": "capture_snapshot", "params": {"format": "markdown"}}]`),
		),
	)

	r := runner.New(cfg, runner.DefaultFactory(cfg))
	s.AddTool(runTool, handleRunBrowserActions(r))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

// handleRunBrowserActions executes one complete action sequence per tool
// call: fresh session, full teardown, report returned as JSON text.
func handleRunBrowserActions(r *runner.Runner) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		stepsStr, err := request.RequireString("steps")
		if err != nil {
			return mcp.NewToolResultError("steps is required"), nil
		}

		steps, err := models.ParseSteps([]byte(stepsStr))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid steps: %v", err)), nil
		}

		report := r.Run(ctx, steps)

		out, err := json.Marshal(report)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to serialize report: %v", err)), nil
		}
		if report.Err != nil {
			// Session-level failure: return the partial report as the error
			// payload so completed steps are not lost.
			return mcp.NewToolResultError(string(out)), nil
		}
		return mcp.NewToolResultText(string(out)), nil
	}
}

// initLogger configures slog on stderr; stdout carries the MCP protocol.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}
