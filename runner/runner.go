// Package runner executes ordered browser action sequences: one session,
// one pass over the steps, one labeled result per step.
package runner

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-rod/rod"

	"github.com/use-agent/enact/config"
	"github.com/use-agent/enact/models"
	"github.com/use-agent/enact/session"
	"github.com/use-agent/enact/snapshot"
)

// Session is the executor's view of one live browser session.
// *session.Session satisfies it; tests substitute fakes to observe the
// lifecycle without a browser.
type Session interface {
	Page() *rod.Page
	Capture() *session.CaptureBuffer
	Close()
}

// Factory opens a session. Injected so tests can count teardowns and force
// construction failures.
type Factory func(ctx context.Context) (Session, error)

// DefaultFactory launches a real browser session per run.
func DefaultFactory(cfg *config.Config) Factory {
	return func(ctx context.Context) (Session, error) {
		return session.New(ctx, cfg)
	}
}

// HandlerFunc implements one action kind against the session.
type HandlerFunc func(ctx context.Context, sess Session, p models.Params) (models.Fields, error)

// Runner executes one action list per Run call. Safe to reuse across runs;
// each run gets its own session.
type Runner struct {
	cfg      *config.Config
	open     Factory
	proc     *snapshot.Processor
	handlers map[string]HandlerFunc
	kinds    []string // sorted registry keys, for the unknown-action message
}

// New builds a Runner with the full handler registry.
func New(cfg *config.Config, open Factory) *Runner {
	r := &Runner{
		cfg:  cfg,
		open: open,
		proc: snapshot.NewProcessor(),
	}
	r.register()
	return r
}

// Run executes the steps strictly in order against one fresh session and
// returns the report.
//
// Failure containment: a failing step is recorded and the sequence continues
// (unless that step set stop_on_error). Only session construction failure is
// fatal; it lands on the report's error field. Teardown is attempted exactly
// once on every exit path and never masks step results.
func (r *Runner) Run(ctx context.Context, steps []models.ActionRequest) *models.Report {
	report := &models.Report{}
	if len(steps) == 0 {
		return report
	}

	start := time.Now()

	sess, err := r.open(ctx)
	if err != nil {
		slog.Error("session construction failed", "error", err)
		report.Err = sessionErrorDetail(err)
		return report
	}
	defer sess.Close()

	failures := 0
	for i, step := range steps {
		fields := r.dispatch(ctx, sess, i, step)
		report.Add(i, step.Action, fields)

		if fields["status"] == models.StatusError {
			failures++
			if step.Params.Bool("stop_on_error", false) {
				slog.Warn("stopping sequence on step failure",
					"step", i, "action", step.Action,
				)
				break
			}
		}
	}

	slog.Info("sequence complete",
		"steps", report.Len(),
		"failures", failures,
		"duration", time.Since(start),
	)
	return report
}

func sessionErrorDetail(err error) *models.ErrorDetail {
	var ae *models.ActionError
	if errors.As(err, &ae) {
		return ae.ToDetail()
	}
	return &models.ErrorDetail{
		Code:    models.ErrCodeInternal,
		Message: models.TruncateMessage(err.Error()),
	}
}
