package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/use-agent/enact/config"
	"github.com/use-agent/enact/models"
)

// Session owns one browser process and one open page for the duration of a
// single action-sequence run. It is not safe for concurrent use: ownership
// is exclusive to the runner that created it.
type Session struct {
	launcher  *launcher.Launcher
	browser   *rod.Browser
	page      *rod.Page
	capture   *CaptureBuffer
	closeOnce sync.Once
}

// New launches a browser, connects, opens one page, and wires the network
// capture buffer. The page is configured (viewport, user agent, stealth)
// before any navigation so every setting applies to the first load too.
func New(ctx context.Context, cfg *config.Config) (*Session, error) {
	l := launcher.New().
		Headless(cfg.Browser.Headless).
		NoSandbox(cfg.Browser.NoSandbox)

	if cfg.Browser.Bin != "" {
		l = l.Bin(cfg.Browser.Bin)
	}
	if cfg.Browser.Proxy != "" {
		l = l.Proxy(cfg.Browser.Proxy)
	}

	// ── Stealth flags ────────────────────────────────────────────────
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-ipc-flooding-protection"))
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-prompt-on-repost"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Context(ctx).Launch()
	if err != nil {
		return nil, models.NewActionError(
			models.ErrCodeBrowserCrash,
			"failed to launch browser",
			err,
		)
	}
	slog.Info("browser launched", "controlURL", controlURL)

	browser := rod.New().Context(ctx).ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, models.NewActionError(
			models.ErrCodeBrowserCrash,
			"failed to connect to browser",
			err,
		)
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = browser.Close()
		l.Kill()
		return nil, models.NewActionError(
			models.ErrCodeBrowserCrash,
			"failed to open page",
			err,
		)
	}

	// ── Page setup: viewport, user agent, stealth ────────────────────
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             cfg.Browser.ViewportWidth,
		Height:            cfg.Browser.ViewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		slog.Warn("viewport override failed, using browser default", "error", err)
	}

	if cfg.Browser.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent: cfg.Browser.UserAgent,
		}); err != nil {
			slog.Warn("user agent override failed", "error", err)
		}
	}

	if cfg.Browser.Stealth {
		if _, evalErr := page.EvalOnNewDocument(stealth.JS); evalErr != nil {
			slog.Warn("stealth injection failed, proceeding without stealth",
				"error", evalErr,
			)
		}
	}

	// ── Network capture: listeners live for the whole session ────────
	// Recording is gated by the buffer's state, so wiring once up front
	// never misses requests between a start step and its navigation.
	capture := NewCaptureBuffer(cfg.Runner.MaxRequests)
	capture.wire(page)

	return &Session{
		launcher: l,
		browser:  browser,
		page:     page,
		capture:  capture,
	}, nil
}

// Page returns the session's single page.
func (s *Session) Page() *rod.Page {
	return s.page
}

// Capture returns the session's network capture buffer.
func (s *Session) Capture() *CaptureBuffer {
	return s.capture
}

// Close tears the session down: page, browser, then the launcher's temp
// profile. Safe to call more than once; only the first call does work.
// Errors are logged and swallowed so teardown can never mask a run's result.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if err := s.page.Close(); err != nil {
			slog.Warn("session teardown: page close failed", "error", err)
		}
		if err := s.browser.Close(); err != nil {
			slog.Warn("session teardown: browser close failed", "error", err)
			s.launcher.Kill()
		}
		s.launcher.Cleanup()
		slog.Debug("session closed")
	})
}
