// Manual smoke run: drives the full runner through a representative action
// sequence against a live page and prints a per-step summary. Needs a
// working Chromium and outbound network, so it stays out of the test suite.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/use-agent/enact/config"
	"github.com/use-agent/enact/models"
	"github.com/use-agent/enact/runner"
)

// CLI flags
var (
	targetURL = flag.String("url", "https://example.com", "page to run the sequence against")
	output    = flag.String("output", "", "optional path for the raw JSON report")
	verbose   = flag.Bool("v", false, "debug logging during the run")
)

func main() {
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg := config.Load()

	steps := []models.ActionRequest{
		{Action: "navigate", Params: models.Params{"url": *targetURL}},
		{Action: "capture_requests", Params: models.Params{}},
		{Action: "scroll", Params: models.Params{"direction": "down", "amount": 800}},
		{Action: "wait", Params: models.Params{"timeout": 500}},
		{Action: "evaluate_js", Params: models.Params{"script": "document.title"}},
		{Action: "capture_snapshot", Params: models.Params{"format": "markdown", "max_length": 2000}},
		{Action: "screenshot", Params: models.Params{}},
		{Action: "capture_requests", Params: models.Params{"stop": true}},
	}

	fmt.Println("=== enact smoke run ===")
	fmt.Printf("URL:    %s\n", *targetURL)
	fmt.Printf("Steps:  %d\n", len(steps))
	fmt.Println()

	start := time.Now()
	r := runner.New(cfg, runner.DefaultFactory(cfg))
	report := r.Run(context.Background(), steps)
	elapsed := time.Since(start)

	failures := 0
	for _, s := range report.Steps {
		key := models.StepKey(s.Index, s.Kind)
		if s.Fields["status"] == models.StatusSuccess {
			fmt.Printf("  OK    %-28s %s\n", key, detail(s.Kind, s.Fields))
		} else {
			failures++
			fmt.Printf("  FAIL  %-28s %v\n", key, s.Fields["message"])
		}
	}

	fmt.Println()
	fmt.Printf("%d steps, %d failed, %s total\n", report.Len(), failures, elapsed.Round(time.Millisecond))

	if *output != "" {
		if err := writeJSON(*output, report); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing JSON output: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Report written to %s\n", *output)
	}

	if report.Err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: [%s] %s\n", report.Err.Code, report.Err.Message)
		os.Exit(1)
	}
	if failures > 0 {
		os.Exit(1)
	}
}

// detail picks the interesting success fields per action kind.
func detail(kind string, f models.Fields) string {
	switch kind {
	case "navigate":
		return fmt.Sprintf("title=%q", f["title"])
	case "scroll":
		return fmt.Sprintf("position=%v", f["scroll_position"])
	case "evaluate_js":
		return fmt.Sprintf("result=%v", f["result"])
	case "capture_snapshot":
		content, _ := f["html"].(string)
		return fmt.Sprintf("%d chars (truncated=%v)", len(content), f["truncated"])
	case "screenshot":
		return fmt.Sprintf("%vKB %v", f["size_kb"], f["format"])
	case "capture_requests":
		if count, ok := f["count"]; ok {
			return fmt.Sprintf("%v requests (truncated=%v)", count, f["truncated"])
		}
		return "capturing"
	default:
		return ""
	}
}

func writeJSON(path string, report *models.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
