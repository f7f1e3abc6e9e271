package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/use-agent/enact/config"
	"github.com/use-agent/enact/models"
	"github.com/use-agent/enact/runner"
)

const usage = `enact '{"steps": "[{\"action\": \"navigate\", \"params\": {\"url\": \"https://example.com\"}}]"}' OR '{"steps_file": "path/to/steps.json"}'`

func main() {
	os.Exit(run())
}

func run() int {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)

	// ── 3. Decode input ─────────────────────────────────────────────
	if len(os.Args) < 2 {
		emit(models.Fields{
			"error": "no input provided",
			"usage": usage,
		})
		return 1
	}

	steps, err := models.ParseInput([]byte(os.Args[1]))
	if err != nil {
		emit(inputErrorFields(err))
		return 1
	}

	slog.Info("enact starting",
		"steps", len(steps),
		"headless", cfg.Browser.Headless,
		"stealth", cfg.Browser.Stealth,
	)

	// ── 4. Execute the sequence ─────────────────────────────────────
	// SIGINT/SIGTERM cancel the context; in-flight steps fail fast and
	// session teardown still runs before the report is emitted.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := runner.New(cfg, runner.DefaultFactory(cfg))
	report := r.Run(ctx, steps)

	// ── 5. Emit the report ──────────────────────────────────────────
	emit(report)
	if report.Err != nil {
		return 1
	}
	return 0
}

// inputErrorFields maps an input decoding failure to the matching error JSON
// shape: malformed JSON, missing steps file, or a structural problem.
func inputErrorFields(err error) models.Fields {
	if errors.Is(err, fs.ErrNotExist) {
		return models.Fields{
			"error":      "steps file not found",
			"message":    err.Error(),
			"suggestion": "Check that the file path is correct",
		}
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return models.Fields{
			"error":      "invalid JSON input",
			"message":    err.Error(),
			"suggestion": "Ensure the input is valid JSON format. Check for proper escaping of quotes.",
		}
	}

	var ae *models.ActionError
	if errors.As(err, &ae) {
		return models.Fields{
			"error":      "execution failed",
			"error_type": ae.Code,
			"message":    models.TruncateMessage(ae.Message),
		}
	}

	return models.Fields{
		"error":      "execution failed",
		"error_type": models.ErrCodeInternal,
		"message":    models.TruncateMessage(err.Error()),
	}
}

// emit prints one JSON object to stdout. Stdout carries only these objects;
// everything else goes to the stderr logger.
func emit(v any) {
	out, err := json.Marshal(v)
	if err != nil {
		slog.Error("could not marshal output", "error", err)
		fmt.Println(`{"error": "execution failed", "error_type": "INTERNAL_ERROR", "message": "output serialization failed"}`)
		return
	}
	fmt.Println(string(out))
}

// initLogger configures slog based on the LogConfig. The handler writes to
// stderr because stdout is reserved for the report object.
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
