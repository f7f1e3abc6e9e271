package runner

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-rod/rod"

	"github.com/use-agent/enact/config"
	"github.com/use-agent/enact/models"
	"github.com/use-agent/enact/session"
)

// fakeSession satisfies Session without a browser. Handlers that reach for
// the page panic on it, which dispatch converts to a step failure, so only
// page-free paths run against it.
type fakeSession struct {
	capture *session.CaptureBuffer
	closed  int
}

func newFakeSession() *fakeSession {
	return &fakeSession{capture: session.NewCaptureBuffer(50)}
}

func (s *fakeSession) Page() *rod.Page                 { return nil }
func (s *fakeSession) Capture() *session.CaptureBuffer { return s.capture }
func (s *fakeSession) Close()                          { s.closed++ }

func fixedFactory(s *fakeSession) Factory {
	return func(ctx context.Context) (Session, error) { return s, nil }
}

func testConfig() *config.Config {
	return &config.Config{
		Runner: config.RunnerConfig{
			DefaultTimeout:    time.Second,
			WaitDefault:       5 * time.Millisecond,
			TypeDelay:         time.Millisecond,
			MaxRequests:       50,
			MaxSnapshotChars:  5000,
			MaxJSResultChars:  2000,
			ScreenshotQuality: 70,
		},
	}
}

func waitStep(ms int) models.ActionRequest {
	return models.ActionRequest{Action: "wait", Params: models.Params{"timeout": ms}}
}

func TestRun_ExecutesStepsInOrder(t *testing.T) {
	sess := newFakeSession()
	r := New(testConfig(), fixedFactory(sess))

	steps := []models.ActionRequest{waitStep(1), waitStep(1), waitStep(1)}
	report := r.Run(context.Background(), steps)

	if report.Err != nil {
		t.Fatalf("unexpected session error: %v", report.Err)
	}
	if report.Len() != 3 {
		t.Fatalf("recorded %d steps, want 3", report.Len())
	}
	for i, rec := range report.Steps {
		if rec.Index != i || rec.Kind != "wait" {
			t.Errorf("step %d recorded as index=%d kind=%s", i, rec.Index, rec.Kind)
		}
		if rec.Fields["status"] != models.StatusSuccess {
			t.Errorf("step %d fields = %v", i, rec.Fields)
		}
		if rec.Fields["waited_ms"] != int64(1) {
			t.Errorf("step %d waited_ms = %v", i, rec.Fields["waited_ms"])
		}
	}
	if sess.closed != 1 {
		t.Errorf("session closed %d times, want 1", sess.closed)
	}
}

func TestRun_ContinuesAfterStepFailure(t *testing.T) {
	sess := newFakeSession()
	r := New(testConfig(), fixedFactory(sess))

	steps := []models.ActionRequest{
		{Action: "frobnicate", Params: models.Params{}},
		waitStep(1),
	}
	report := r.Run(context.Background(), steps)

	if report.Len() != 2 {
		t.Fatalf("recorded %d steps, want 2", report.Len())
	}
	if report.Steps[0].Fields["status"] != models.StatusError {
		t.Errorf("step 0 fields = %v", report.Steps[0].Fields)
	}
	if report.Steps[1].Fields["status"] != models.StatusSuccess {
		t.Errorf("step 1 should have run after the failure: %v", report.Steps[1].Fields)
	}
}

func TestRun_UnknownActionNamesRegistry(t *testing.T) {
	r := New(testConfig(), fixedFactory(newFakeSession()))

	report := r.Run(context.Background(), []models.ActionRequest{
		{Action: "frobnicate", Params: models.Params{}},
	})

	fields := report.Steps[0].Fields
	if fields["error_type"] != models.ErrCodeUnknownAction {
		t.Errorf("error_type = %v", fields["error_type"])
	}
	msg, _ := fields["message"].(string)
	if !strings.Contains(msg, "unknown action: 'frobnicate'") {
		t.Errorf("message = %q", msg)
	}
	// The supported list is alphabetical.
	if !strings.Contains(msg, "check, clear, click") {
		t.Errorf("message should list supported actions in order: %q", msg)
	}
	if !strings.Contains(msg, "wait_for_selector") {
		t.Errorf("message should list every action: %q", msg)
	}
}

func TestRun_StopOnErrorHaltsSequence(t *testing.T) {
	sess := newFakeSession()
	r := New(testConfig(), fixedFactory(sess))

	steps := []models.ActionRequest{
		{Action: "frobnicate", Params: models.Params{"stop_on_error": true}},
		waitStep(1),
	}
	report := r.Run(context.Background(), steps)

	if report.Len() != 1 {
		t.Fatalf("recorded %d steps, want 1 (sequence should halt)", report.Len())
	}
	if sess.closed != 1 {
		t.Errorf("session closed %d times, want 1", sess.closed)
	}
}

func TestRun_FactoryFailureIsFatal(t *testing.T) {
	launchErr := models.NewActionError(
		models.ErrCodeBrowserCrash, "browser failed to launch", errors.New("exec: no chrome"),
	)
	r := New(testConfig(), func(ctx context.Context) (Session, error) {
		return nil, launchErr
	})

	report := r.Run(context.Background(), []models.ActionRequest{waitStep(1)})

	if report.Len() != 0 {
		t.Errorf("no steps should run without a session, got %d", report.Len())
	}
	if report.Err == nil {
		t.Fatal("report should carry the session error")
	}
	if report.Err.Code != models.ErrCodeBrowserCrash {
		t.Errorf("code = %s, want %s", report.Err.Code, models.ErrCodeBrowserCrash)
	}
	if report.Err.Message != "browser failed to launch" {
		t.Errorf("message = %q", report.Err.Message)
	}

	out, err := json.Marshal(report)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(out), `"error"`) {
		t.Errorf("marshaled report missing error entry: %s", out)
	}
}

func TestRun_PlainFactoryErrorBecomesInternal(t *testing.T) {
	r := New(testConfig(), func(ctx context.Context) (Session, error) {
		return nil, errors.New("socket refused")
	})

	report := r.Run(context.Background(), []models.ActionRequest{waitStep(1)})

	if report.Err == nil || report.Err.Code != models.ErrCodeInternal {
		t.Fatalf("report error = %+v", report.Err)
	}
	if report.Err.Message != "socket refused" {
		t.Errorf("message = %q", report.Err.Message)
	}
}

func TestRun_EmptyStepsSkipsSession(t *testing.T) {
	opened := 0
	r := New(testConfig(), func(ctx context.Context) (Session, error) {
		opened++
		return newFakeSession(), nil
	})

	report := r.Run(context.Background(), nil)

	if report.Len() != 0 || report.Err != nil {
		t.Errorf("empty run produced %d steps, err=%v", report.Len(), report.Err)
	}
	if opened != 0 {
		t.Errorf("factory called %d times for an empty run", opened)
	}
}

func TestRun_CaptureRequestsFlow(t *testing.T) {
	r := New(testConfig(), fixedFactory(newFakeSession()))

	steps := []models.ActionRequest{
		{Action: "capture_requests", Params: models.Params{}},
		{Action: "capture_requests", Params: models.Params{"stop": true}},
	}
	report := r.Run(context.Background(), steps)

	start := report.Steps[0].Fields
	if start["status"] != models.StatusSuccess || start["capturing"] != true {
		t.Errorf("start fields = %v", start)
	}

	stop := report.Steps[1].Fields
	if stop["status"] != models.StatusSuccess {
		t.Fatalf("stop fields = %v", stop)
	}
	if stop["count"] != 0 || stop["truncated"] != false {
		t.Errorf("stop fields = %v", stop)
	}
	if _, ok := stop["requests"].([]models.RequestRecord); !ok {
		t.Errorf("requests field has type %T", stop["requests"])
	}
}

func TestRun_CaptureStopWithoutStart(t *testing.T) {
	r := New(testConfig(), fixedFactory(newFakeSession()))

	report := r.Run(context.Background(), []models.ActionRequest{
		{Action: "capture_requests", Params: models.Params{"stop": true}},
	})

	fields := report.Steps[0].Fields
	if fields["status"] != models.StatusError {
		t.Fatalf("fields = %v", fields)
	}
	if fields["error_type"] != models.ErrCodeCaptureInactive {
		t.Errorf("error_type = %v", fields["error_type"])
	}
	msg, _ := fields["message"].(string)
	if !strings.Contains(msg, "capture not active") {
		t.Errorf("message = %q", msg)
	}
}

func TestRun_ReportMarshalKeysSteps(t *testing.T) {
	r := New(testConfig(), fixedFactory(newFakeSession()))

	report := r.Run(context.Background(), []models.ActionRequest{
		waitStep(1),
		{Action: "frobnicate", Params: models.Params{}},
	})

	out, err := json.Marshal(report)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	s := string(out)
	if !strings.Contains(s, `"step_0_wait"`) || !strings.Contains(s, `"step_1_frobnicate"`) {
		t.Errorf("marshaled report = %s", s)
	}
}
