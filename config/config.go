package config

import (
	"os"
	"strconv"
	"time"
)

// defaultUserAgent matches a mainstream desktop Chrome so sites serve the
// same markup they would to a real visitor.
const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Config holds all application configuration.
type Config struct {
	Browser BrowserConfig
	Runner  RunnerConfig
	Log     LogConfig
}

// BrowserConfig controls the Rod browser session.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: true

	// Bin overrides the Chromium binary path. Empty means the launcher
	// resolves (and if necessary downloads) its own browser.
	Bin string

	// Proxy is an optional proxy URL for all page traffic.
	Proxy string

	// UserAgent overrides the browser's user agent string.
	UserAgent string

	// ViewportWidth and ViewportHeight size the page viewport.
	ViewportWidth  int // default: 1280
	ViewportHeight int // default: 720

	// Stealth enables anti-bot-detection evasions (navigator.webdriver
	// masking and friends) on the page before any navigation.
	Stealth bool // default: true
}

// RunnerConfig controls sequence execution limits. These are process-wide
// defaults; individual steps may override timeouts and lengths via params.
type RunnerConfig struct {
	// DefaultTimeout bounds each action that waits on the page.
	DefaultTimeout time.Duration // default: 30s

	// WaitDefault is the pause applied by a bare wait action.
	WaitDefault time.Duration // default: 2s

	// TypeDelay is the per-keystroke delay for the type action.
	TypeDelay time.Duration // default: 50ms

	// MaxRequests caps the network capture buffer.
	MaxRequests int // default: 50

	// MaxSnapshotChars caps capture_snapshot output.
	MaxSnapshotChars int // default: 5000

	// MaxJSResultChars caps the serialized evaluate_js result.
	MaxJSResultChars int // default: 2000

	// ScreenshotQuality is the JPEG quality (1-100) for screenshots.
	ScreenshotQuality int // default: 70
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	cfg := &Config{
		Browser: BrowserConfig{
			Headless:       envBoolOr("ENACT_HEADLESS", true),
			NoSandbox:      envBoolOr("ENACT_NO_SANDBOX", true),
			Bin:            os.Getenv("ENACT_BROWSER_BIN"),
			Proxy:          os.Getenv("ENACT_PROXY"),
			UserAgent:      envOr("ENACT_USER_AGENT", defaultUserAgent),
			ViewportWidth:  envIntOr("ENACT_VIEWPORT_WIDTH", 1280),
			ViewportHeight: envIntOr("ENACT_VIEWPORT_HEIGHT", 720),
			Stealth:        envBoolOr("ENACT_STEALTH", true),
		},
		Runner: RunnerConfig{
			DefaultTimeout:    envDurationOr("ENACT_DEFAULT_TIMEOUT", 30*time.Second),
			WaitDefault:       envDurationOr("ENACT_WAIT_DEFAULT", 2*time.Second),
			TypeDelay:         envDurationOr("ENACT_TYPE_DELAY", 50*time.Millisecond),
			MaxRequests:       envIntOr("ENACT_MAX_REQUESTS", 50),
			MaxSnapshotChars:  envIntOr("ENACT_MAX_SNAPSHOT_CHARS", 5000),
			MaxJSResultChars:  envIntOr("ENACT_MAX_JS_RESULT_CHARS", 2000),
			ScreenshotQuality: envIntOr("ENACT_SCREENSHOT_QUALITY", 70),
		},
		Log: LogConfig{
			Level:  envOr("ENACT_LOG_LEVEL", "info"),
			Format: envOr("ENACT_LOG_FORMAT", "json"),
		},
	}
	cfg.normalize()
	return cfg
}

// normalize clamps values that would otherwise break the browser protocol.
func (c *Config) normalize() {
	if c.Runner.ScreenshotQuality < 1 || c.Runner.ScreenshotQuality > 100 {
		c.Runner.ScreenshotQuality = 70
	}
	if c.Runner.MaxRequests < 1 {
		c.Runner.MaxRequests = 50
	}
	if c.Runner.MaxSnapshotChars < 1 {
		c.Runner.MaxSnapshotChars = 5000
	}
	if c.Runner.MaxJSResultChars < 1 {
		c.Runner.MaxJSResultChars = 2000
	}
	if c.Browser.ViewportWidth < 1 {
		c.Browser.ViewportWidth = 1280
	}
	if c.Browser.ViewportHeight < 1 {
		c.Browser.ViewportHeight = 720
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
