package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/use-agent/enact/models"
)

// register installs the full action registry. The capability set is closed:
// adding an action means adding it here.
func (r *Runner) register() {
	r.handlers = map[string]HandlerFunc{
		"navigate":          r.handleNavigate,
		"fill":              r.handleFill,
		"type":              r.handleType,
		"click":             r.handleClick,
		"hover":             r.handleHover,
		"scroll":            r.handleScroll,
		"wait":              r.handleWait,
		"wait_for_selector": r.handleWaitForSelector,
		"screenshot":        r.handleScreenshot,
		"capture_snapshot":  r.handleCaptureSnapshot,
		"capture_requests":  r.handleCaptureRequests,
		"evaluate_js":       r.handleEvaluateJS,
		"select":            r.handleSelect,
		"press":             r.handlePress,
		"focus":             r.handleFocus,
		"clear":             r.handleClear,
		"check":             r.handleCheck,
		"uncheck":           r.handleUncheck,
	}

	r.kinds = make([]string, 0, len(r.handlers))
	for kind := range r.handlers {
		r.kinds = append(r.kinds, kind)
	}
	sort.Strings(r.kinds)
}

// dispatch runs one step and converts every possible fault into result
// fields. No error and no panic escapes this boundary.
func (r *Runner) dispatch(ctx context.Context, sess Session, index int, step models.ActionRequest) models.Fields {
	start := time.Now()
	fields := r.dispatchInner(ctx, sess, step)
	slog.Debug("step executed",
		"step", index,
		"action", step.Action,
		"status", fields["status"],
		"duration", time.Since(start),
	)
	return fields
}

func (r *Runner) dispatchInner(ctx context.Context, sess Session, step models.ActionRequest) (fields models.Fields) {
	selector := step.Params.Str("selector", "")

	// Rod reports some protocol faults as panics; convert them like any
	// other handler failure.
	defer func() {
		if rec := recover(); rec != nil {
			fields = models.FailureFields(models.NewActionError(
				models.ErrCodeInternal,
				fmt.Sprintf("action panicked: %v", rec),
				nil,
			), selector)
		}
	}()

	handler, ok := r.handlers[step.Action]
	if !ok {
		return models.FailureFields(models.NewActionError(
			models.ErrCodeUnknownAction,
			fmt.Sprintf("unknown action: '%s' (supported: %s)",
				step.Action, strings.Join(r.kinds, ", ")),
			nil,
		), selector)
	}

	payload, err := handler(ctx, sess, step.Params)
	if err != nil {
		return models.FailureFields(categorize(err), selector)
	}
	return models.SuccessFields(payload)
}

// categorize maps a handler fault to a typed ActionError. Deadline expiry
// wins over any wrapping so a slow selector or navigation always reports as
// a timeout, whatever the handler labeled it.
func categorize(err error) *models.ActionError {
	var ae *models.ActionError

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		msg := "action timed out"
		if errors.As(err, &ae) {
			msg = ae.Message
		}
		return models.NewActionError(models.ErrCodeTimeout, msg, err)

	case errors.Is(err, context.Canceled):
		return models.NewActionError(models.ErrCodeInternal, "action canceled", err)

	case errors.As(err, &ae):
		return ae

	default:
		return models.NewActionError(models.ErrCodeInternal, "action failed", err)
	}
}
