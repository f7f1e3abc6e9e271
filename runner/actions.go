package runner

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
	"golang.org/x/time/rate"

	"github.com/use-agent/enact/models"
	"github.com/use-agent/enact/snapshot"
)

// domSettleWindow bounds the post-navigation DOM stability probe. Pages that
// mutate forever (tickers, carousels) must not eat the whole action deadline.
const domSettleWindow = 3 * time.Second

// pageFor returns the session page bound to this step's deadline. The
// timeout param (ms) overrides the configured default; every page call made
// through the returned handle fails once the deadline passes.
func (r *Runner) pageFor(ctx context.Context, sess Session, p models.Params) *rod.Page {
	d := p.Duration("timeout", r.cfg.Runner.DefaultTimeout)
	return sess.Page().Context(ctx).Timeout(d)
}

// elementWithin waits for the selector to attach, bounded by the page's
// deadline.
func elementWithin(page *rod.Page, selector string) (*rod.Element, error) {
	el, err := page.Element(selector)
	if err != nil {
		return nil, models.NewActionError(
			models.ErrCodeSelectorMissing,
			fmt.Sprintf("element not found for selector '%s'", selector),
			err,
		)
	}
	return el, nil
}

// requireStr fetches a mandatory string parameter.
func requireStr(p models.Params, key, action string) (string, error) {
	v := p.Str(key, "")
	if v == "" {
		return "", models.NewActionError(
			models.ErrCodeInvalidInput,
			fmt.Sprintf("'%s' parameter is required for %s action", key, action),
			nil,
		)
	}
	return v, nil
}

// handleNavigate loads a URL and waits for the requested load phase.
func (r *Runner) handleNavigate(ctx context.Context, sess Session, p models.Params) (models.Fields, error) {
	url, err := requireStr(p, "url", "navigate")
	if err != nil {
		return nil, err
	}

	waitUntil := p.Str("wait_until", "domcontentloaded")
	switch waitUntil {
	case "load", "domcontentloaded", "networkidle":
	default:
		return nil, models.NewActionError(
			models.ErrCodeInvalidInput,
			fmt.Sprintf("unknown wait_until: '%s' (supported: load, domcontentloaded, networkidle)", waitUntil),
			nil,
		)
	}

	page := r.pageFor(ctx, sess, p)

	// The idle waiter registers a CDP listener, so it must be armed before
	// Navigate or it misses the requests fired by the load itself.
	var settle func()
	if waitUntil == "networkidle" {
		settle = page.WaitRequestIdle(300*time.Millisecond, nil, nil, nil)
	}

	if err := page.Navigate(url); err != nil {
		return nil, models.NewActionError(
			models.ErrCodeNavigation,
			fmt.Sprintf("navigation to '%s' failed", url),
			err,
		)
	}

	switch waitUntil {
	case "load":
		if err := page.WaitLoad(); err != nil {
			return nil, models.NewActionError(
				models.ErrCodeNavigation,
				fmt.Sprintf("load of '%s' did not complete", url),
				err,
			)
		}
	case "networkidle":
		settle()
	case "domcontentloaded":
		if err := page.Timeout(domSettleWindow).WaitDOMStable(300*time.Millisecond, 0.1); err != nil {
			slog.Debug("DOM did not stabilize, proceeding with current state",
				"url", url, "error", err,
			)
		}
	}

	info, err := page.Info()
	if err != nil {
		return nil, models.NewActionError(
			models.ErrCodeNavigation, "page info unavailable after navigation", err,
		)
	}
	return models.Fields{"url": info.URL, "title": info.Title}, nil
}

// handleFill replaces an input's content in one shot.
func (r *Runner) handleFill(ctx context.Context, sess Session, p models.Params) (models.Fields, error) {
	selector, err := requireStr(p, "selector", "fill")
	if err != nil {
		return nil, err
	}
	value := p.Str("value", "")

	page := r.pageFor(ctx, sess, p)
	el, err := elementWithin(page, selector)
	if err != nil {
		return nil, err
	}

	// Select existing content first; Input then replaces the selection.
	if err := el.SelectAllText(); err != nil {
		slog.Warn("could not select existing text before fill", "selector", selector, "error", err)
	}
	if value == "" {
		// Inserting nothing leaves a selection in place, so clear instead.
		if err := el.Type(input.Backspace); err != nil {
			return nil, models.NewActionError(
				models.ErrCodeInternal,
				fmt.Sprintf("clearing '%s' failed", selector),
				err,
			)
		}
	} else if err := el.Input(value); err != nil {
		return nil, models.NewActionError(
			models.ErrCodeInternal,
			fmt.Sprintf("fill failed for '%s'", selector),
			err,
		)
	}
	return models.Fields{"selector": selector}, nil
}

// handleType types text one keystroke at a time, paced like a human typist.
// Slower than fill but triggers per-key listeners (autocomplete, validation).
func (r *Runner) handleType(ctx context.Context, sess Session, p models.Params) (models.Fields, error) {
	selector, err := requireStr(p, "selector", "type")
	if err != nil {
		return nil, err
	}
	text := p.Str("text", "")
	delay := p.Duration("delay", r.cfg.Runner.TypeDelay)

	page := r.pageFor(ctx, sess, p)
	el, err := elementWithin(page, selector)
	if err != nil {
		return nil, err
	}
	if err := el.Focus(); err != nil {
		return nil, models.NewActionError(
			models.ErrCodeInternal,
			fmt.Sprintf("cannot focus '%s' for typing", selector),
			err,
		)
	}

	pace := rate.NewLimiter(rate.Every(delay), 1)
	for _, c := range text {
		if err := pace.Wait(ctx); err != nil {
			return nil, err
		}
		if err := page.InsertText(string(c)); err != nil {
			return nil, models.NewActionError(
				models.ErrCodeInternal,
				fmt.Sprintf("typing into '%s' failed", selector),
				err,
			)
		}
	}
	return models.Fields{"selector": selector}, nil
}

var mouseButtons = map[string]proto.InputMouseButton{
	"left":   proto.InputMouseButtonLeft,
	"right":  proto.InputMouseButtonRight,
	"middle": proto.InputMouseButtonMiddle,
}

// handleClick clicks the element matching the selector.
func (r *Runner) handleClick(ctx context.Context, sess Session, p models.Params) (models.Fields, error) {
	selector, err := requireStr(p, "selector", "click")
	if err != nil {
		return nil, err
	}

	button, ok := mouseButtons[p.Str("button", "left")]
	if !ok {
		return nil, models.NewActionError(
			models.ErrCodeInvalidInput,
			fmt.Sprintf("unknown button: '%s' (supported: left, right, middle)", p.Str("button", "")),
			nil,
		)
	}
	count := p.Int("click_count", 1)
	if count < 1 {
		count = 1
	}

	page := r.pageFor(ctx, sess, p)
	el, err := elementWithin(page, selector)
	if err != nil {
		return nil, err
	}

	if err := el.ScrollIntoView(); err != nil {
		slog.Warn("could not scroll element into view before click", "selector", selector, "error", err)
	}
	if err := el.Click(button, count); err != nil {
		return nil, models.NewActionError(
			models.ErrCodeInternal,
			fmt.Sprintf("click failed for '%s'", selector),
			err,
		)
	}
	return models.Fields{"selector": selector}, nil
}

// handleHover moves the pointer over the element, firing its hover handlers.
func (r *Runner) handleHover(ctx context.Context, sess Session, p models.Params) (models.Fields, error) {
	selector, err := requireStr(p, "selector", "hover")
	if err != nil {
		return nil, err
	}

	page := r.pageFor(ctx, sess, p)
	el, err := elementWithin(page, selector)
	if err != nil {
		return nil, err
	}

	if err := el.ScrollIntoView(); err != nil {
		slog.Warn("could not scroll element into view before hover", "selector", selector, "error", err)
	}
	if err := el.Hover(); err != nil {
		return nil, models.NewActionError(
			models.ErrCodeInternal,
			fmt.Sprintf("hover failed for '%s'", selector),
			err,
		)
	}
	return models.Fields{"selector": selector}, nil
}

// handleScroll scrolls the window and reports the resulting position.
func (r *Runner) handleScroll(ctx context.Context, sess Session, p models.Params) (models.Fields, error) {
	direction := p.Str("direction", "down")
	amount := p.Int("amount", 500)

	var js string
	switch direction {
	case "down":
		js = fmt.Sprintf("window.scrollBy(0, %d)", amount)
	case "up":
		js = fmt.Sprintf("window.scrollBy(0, -%d)", amount)
	case "bottom":
		js = "window.scrollTo(0, document.body.scrollHeight)"
	case "top":
		js = "window.scrollTo(0, 0)"
	default:
		return nil, models.NewActionError(
			models.ErrCodeInvalidInput,
			fmt.Sprintf("unknown scroll direction: '%s' (supported: up, down, top, bottom)", direction),
			nil,
		)
	}

	page := r.pageFor(ctx, sess, p)
	if _, err := page.Eval(js); err != nil {
		return nil, models.NewActionError(models.ErrCodeInternal, "scroll failed", err)
	}

	res, err := page.Eval(`() => window.scrollY`)
	if err != nil {
		return nil, models.NewActionError(models.ErrCodeInternal, "could not read scroll position", err)
	}
	return models.Fields{
		"direction":       direction,
		"amount":          amount,
		"scroll_position": res.Value.Num(),
	}, nil
}

// handleWait pauses the sequence. The timeout param is the pause duration,
// not a deadline, so this handler deliberately skips pageFor.
func (r *Runner) handleWait(ctx context.Context, _ Session, p models.Params) (models.Fields, error) {
	d := p.Duration("timeout", r.cfg.Runner.WaitDefault)

	select {
	case <-time.After(d):
		return models.Fields{"waited_ms": d.Milliseconds()}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// handleWaitForSelector blocks until the element reaches the requested state.
func (r *Runner) handleWaitForSelector(ctx context.Context, sess Session, p models.Params) (models.Fields, error) {
	selector, err := requireStr(p, "selector", "wait_for_selector")
	if err != nil {
		return nil, err
	}

	state := p.Str("state", "visible")
	switch state {
	case "visible", "hidden", "attached":
	default:
		return nil, models.NewActionError(
			models.ErrCodeInvalidInput,
			fmt.Sprintf("unknown state: '%s' (supported: visible, hidden, attached)", state),
			nil,
		)
	}

	page := r.pageFor(ctx, sess, p)

	switch state {
	case "attached":
		if _, err := elementWithin(page, selector); err != nil {
			return nil, err
		}

	case "visible":
		el, err := elementWithin(page, selector)
		if err != nil {
			return nil, err
		}
		if err := el.WaitVisible(); err != nil {
			return nil, models.NewActionError(
				models.ErrCodeInternal,
				fmt.Sprintf("element '%s' did not become visible", selector),
				err,
			)
		}

	case "hidden":
		// An element that never attached is already hidden.
		has, _, err := page.Has(selector)
		if err != nil {
			return nil, models.NewActionError(
				models.ErrCodeInternal,
				fmt.Sprintf("selector probe failed for '%s'", selector),
				err,
			)
		}
		if has {
			el, err := elementWithin(page, selector)
			if err != nil {
				return nil, err
			}
			if err := el.WaitInvisible(); err != nil {
				return nil, models.NewActionError(
					models.ErrCodeInternal,
					fmt.Sprintf("element '%s' did not become hidden", selector),
					err,
				)
			}
		}
	}

	return models.Fields{"selector": selector, "found": true}, nil
}

// handleScreenshot captures the viewport (or full page) as JPEG and returns
// it base64-encoded.
func (r *Runner) handleScreenshot(ctx context.Context, sess Session, p models.Params) (models.Fields, error) {
	fullPage := p.Bool("full_page", false)

	page := r.pageFor(ctx, sess, p)
	bin, err := page.Screenshot(fullPage, &proto.PageCaptureScreenshot{
		Format:      proto.PageCaptureScreenshotFormatJpeg,
		Quality:     gson.Int(r.cfg.Runner.ScreenshotQuality),
		FromSurface: true,
	})
	if err != nil {
		return nil, models.NewActionError(models.ErrCodeInternal, "screenshot capture failed", err)
	}

	return models.Fields{
		"screenshot_base64": base64.StdEncoding.EncodeToString(bin),
		"format":            "jpeg",
		"size_kb":           math.Round(float64(len(bin))/1024*10) / 10,
	}, nil
}

// handleCaptureSnapshot returns the page HTML, optionally scoped, cleaned
// and rendered as text or markdown, clipped to max_length.
func (r *Runner) handleCaptureSnapshot(ctx context.Context, sess Session, p models.Params) (models.Fields, error) {
	page := r.pageFor(ctx, sess, p)

	rawHTML, err := page.HTML()
	if err != nil {
		return nil, models.NewActionError(models.ErrCodeInternal, "page content unavailable", err)
	}
	info, err := page.Info()
	if err != nil {
		return nil, models.NewActionError(models.ErrCodeInternal, "page info unavailable", err)
	}

	res, err := r.proc.Process(rawHTML, snapshot.Options{
		MaxLength: p.Int("max_length", r.cfg.Runner.MaxSnapshotChars),
		Clean:     p.Bool("clean", true),
		Format:    p.Str("format", "html"),
		Selector:  p.Str("selector", ""),
		SourceURL: info.URL,
	})
	if err != nil {
		return nil, err
	}

	return models.Fields{
		"html":            res.Content,
		"truncated":       res.Truncated,
		"original_length": res.OriginalLength,
		"title":           info.Title,
		"url":             info.URL,
	}, nil
}

// handleCaptureRequests starts or stops network request recording.
func (r *Runner) handleCaptureRequests(ctx context.Context, sess Session, p models.Params) (models.Fields, error) {
	if p.Bool("stop", false) {
		fields, aerr := sess.Capture().Stop()
		if aerr != nil {
			return nil, aerr
		}
		return fields, nil
	}
	return sess.Capture().Start(p.Str("filter", "")), nil
}

// handleEvaluateJS runs a script in the page and returns its serialized
// result. Rod accepts bare expressions as well as function definitions.
func (r *Runner) handleEvaluateJS(ctx context.Context, sess Session, p models.Params) (models.Fields, error) {
	script, err := requireStr(p, "script", "evaluate_js")
	if err != nil {
		return nil, err
	}

	page := r.pageFor(ctx, sess, p)
	res, err := page.Eval(script)
	if err != nil {
		return nil, models.NewActionError(models.ErrCodeScript, "script execution failed", err)
	}

	raw, err := json.Marshal(res.Value)
	if err != nil {
		return nil, models.NewActionError(models.ErrCodeScript, "script result is not JSON-serializable", err)
	}

	text, truncated := models.ClipRunes(string(raw), r.cfg.Runner.MaxJSResultChars)
	return models.Fields{"result": text, "truncated": truncated}, nil
}

// handleSelect picks a dropdown option, matching by visible text first and
// the value attribute second.
func (r *Runner) handleSelect(ctx context.Context, sess Session, p models.Params) (models.Fields, error) {
	selector, err := requireStr(p, "selector", "select")
	if err != nil {
		return nil, err
	}
	value, ok := p["value"].(string)
	if !ok {
		return nil, models.NewActionError(
			models.ErrCodeInvalidInput,
			"'value' parameter is required for select action",
			nil,
		)
	}

	page := r.pageFor(ctx, sess, p)
	el, err := elementWithin(page, selector)
	if err != nil {
		return nil, err
	}

	if err := el.Select([]string{value}, true, rod.SelectorTypeText); err != nil {
		if err := el.Select([]string{fmt.Sprintf(`[value="%s"]`, value)}, true, rod.SelectorTypeCSSSector); err != nil {
			return nil, models.NewActionError(
				models.ErrCodeInvalidInput,
				fmt.Sprintf("could not select option '%s' in '%s'", value, selector),
				err,
			)
		}
	}
	return models.Fields{"selector": selector, "value": value}, nil
}

// handlePress sends one key, optionally focusing a target element first.
func (r *Runner) handlePress(ctx context.Context, sess Session, p models.Params) (models.Fields, error) {
	key, err := requireStr(p, "key", "press")
	if err != nil {
		return nil, err
	}
	k, ok := lookupKey(key)
	if !ok {
		return nil, models.NewActionError(
			models.ErrCodeInvalidInput,
			fmt.Sprintf("unknown key: '%s' (use Enter, Tab, Escape, ArrowDown, or a single character)", key),
			nil,
		)
	}

	page := r.pageFor(ctx, sess, p)
	if selector := p.Str("selector", ""); selector != "" {
		el, err := elementWithin(page, selector)
		if err != nil {
			return nil, err
		}
		if err := el.Focus(); err != nil {
			return nil, models.NewActionError(
				models.ErrCodeInternal,
				fmt.Sprintf("cannot focus '%s' for press", selector),
				err,
			)
		}
	}

	if err := page.Keyboard.Press(k); err != nil {
		return nil, models.NewActionError(
			models.ErrCodeInternal,
			fmt.Sprintf("pressing '%s' failed", key),
			err,
		)
	}
	return models.Fields{"key": key}, nil
}

// handleFocus gives the element keyboard focus.
func (r *Runner) handleFocus(ctx context.Context, sess Session, p models.Params) (models.Fields, error) {
	selector, err := requireStr(p, "selector", "focus")
	if err != nil {
		return nil, err
	}

	page := r.pageFor(ctx, sess, p)
	el, err := elementWithin(page, selector)
	if err != nil {
		return nil, err
	}
	if err := el.Focus(); err != nil {
		return nil, models.NewActionError(
			models.ErrCodeInternal,
			fmt.Sprintf("focus failed for '%s'", selector),
			err,
		)
	}
	return models.Fields{"selector": selector}, nil
}

// handleClear empties an input field.
func (r *Runner) handleClear(ctx context.Context, sess Session, p models.Params) (models.Fields, error) {
	selector, err := requireStr(p, "selector", "clear")
	if err != nil {
		return nil, err
	}

	page := r.pageFor(ctx, sess, p)
	el, err := elementWithin(page, selector)
	if err != nil {
		return nil, err
	}

	if err := el.SelectAllText(); err != nil {
		return nil, models.NewActionError(
			models.ErrCodeInternal,
			fmt.Sprintf("cannot select content of '%s'", selector),
			err,
		)
	}
	if err := el.Type(input.Backspace); err != nil {
		return nil, models.NewActionError(
			models.ErrCodeInternal,
			fmt.Sprintf("clearing '%s' failed", selector),
			err,
		)
	}
	return models.Fields{"selector": selector}, nil
}

func (r *Runner) handleCheck(ctx context.Context, sess Session, p models.Params) (models.Fields, error) {
	return r.setChecked(ctx, sess, p, true)
}

func (r *Runner) handleUncheck(ctx context.Context, sess Session, p models.Params) (models.Fields, error) {
	return r.setChecked(ctx, sess, p, false)
}

// setChecked drives a checkbox to the wanted state, clicking only when the
// current state differs, then verifies the click took effect.
func (r *Runner) setChecked(ctx context.Context, sess Session, p models.Params, want bool) (models.Fields, error) {
	action := "check"
	if !want {
		action = "uncheck"
	}
	selector, err := requireStr(p, "selector", action)
	if err != nil {
		return nil, err
	}

	page := r.pageFor(ctx, sess, p)
	el, err := elementWithin(page, selector)
	if err != nil {
		return nil, err
	}

	cur, err := el.Property("checked")
	if err != nil {
		return nil, models.NewActionError(
			models.ErrCodeInternal,
			fmt.Sprintf("cannot read checked state of '%s'", selector),
			err,
		)
	}

	if cur.Bool() != want {
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return nil, models.NewActionError(
				models.ErrCodeInternal,
				fmt.Sprintf("%s failed for '%s'", action, selector),
				err,
			)
		}
		if after, err := el.Property("checked"); err == nil && after.Bool() != want {
			return nil, models.NewActionError(
				models.ErrCodeInternal,
				fmt.Sprintf("clicking '%s' did not change its checked state", selector),
				nil,
			)
		}
	}

	return models.Fields{"selector": selector, "checked": want}, nil
}
