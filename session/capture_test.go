package session

import (
	"strings"
	"testing"

	"github.com/go-rod/rod/lib/proto"

	"github.com/use-agent/enact/models"
)

func reqEvent(id, url, method string, rt proto.NetworkResourceType) *proto.NetworkRequestWillBeSent {
	return &proto.NetworkRequestWillBeSent{
		RequestID: proto.NetworkRequestID(id),
		Request:   &proto.NetworkRequest{URL: url, Method: method},
		Type:      rt,
	}
}

func respEvent(id string, status int) *proto.NetworkResponseReceived {
	return &proto.NetworkResponseReceived{
		RequestID: proto.NetworkRequestID(id),
		Response:  &proto.NetworkResponse{Status: status},
	}
}

func stoppedRequests(t *testing.T, fields models.Fields) []models.RequestRecord {
	t.Helper()
	records, ok := fields["requests"].([]models.RequestRecord)
	if !ok {
		t.Fatalf("requests field has type %T", fields["requests"])
	}
	return records
}

func TestCaptureBuffer_StopWhileIdle(t *testing.T) {
	b := NewCaptureBuffer(50)

	_, aerr := b.Stop()
	if aerr == nil {
		t.Fatal("stop without start should fail")
	}
	if aerr.Code != models.ErrCodeCaptureInactive {
		t.Errorf("code = %s, want %s", aerr.Code, models.ErrCodeCaptureInactive)
	}
	if !strings.Contains(aerr.Message, "capture not active") {
		t.Errorf("message = %q", aerr.Message)
	}
}

func TestCaptureBuffer_RecordsWhileActive(t *testing.T) {
	b := NewCaptureBuffer(50)

	fields := b.Start("")
	if fields["capturing"] != true {
		t.Errorf("start fields = %v", fields)
	}
	if !b.Recording() {
		t.Error("buffer should report recording after start")
	}

	b.onRequest(reqEvent("r1", "https://example.com/api/data", "GET", proto.NetworkResourceTypeXHR))
	b.onRequest(reqEvent("r2", "https://example.com/page", "POST", proto.NetworkResourceTypeDocument))
	b.onResponse(respEvent("r1", 200))

	fields, aerr := b.Stop()
	if aerr != nil {
		t.Fatalf("stop failed: %v", aerr)
	}
	if fields["count"] != 2 || fields["truncated"] != false {
		t.Errorf("stop fields = %v", fields)
	}

	records := stoppedRequests(t, fields)
	if records[0].URL != "https://example.com/api/data" || records[0].Method != "GET" {
		t.Errorf("first record = %+v", records[0])
	}
	if records[0].Status != 200 {
		t.Errorf("status not backfilled: %+v", records[0])
	}
	if records[0].ResourceType != "xhr" {
		t.Errorf("resource type = %q, want xhr", records[0].ResourceType)
	}
	if records[1].Status != 0 {
		t.Errorf("request without response should keep zero status: %+v", records[1])
	}
	if records[1].ResourceType != "document" {
		t.Errorf("resource type = %q, want document", records[1].ResourceType)
	}
}

func TestCaptureBuffer_IgnoresEventsWhenNotActive(t *testing.T) {
	b := NewCaptureBuffer(50)

	// Before any start.
	b.onRequest(reqEvent("r1", "https://example.com", "GET", proto.NetworkResourceTypeDocument))

	b.Start("")
	fields, _ := b.Stop()
	if fields["count"] != 0 {
		t.Errorf("pre-start event recorded: %v", fields)
	}

	// After stop.
	b.onRequest(reqEvent("r2", "https://example.com/late", "GET", proto.NetworkResourceTypeDocument))
	fields, _ = b.Stop()
	if fields["count"] != 0 {
		t.Errorf("post-stop event recorded: %v", fields)
	}
}

func TestCaptureBuffer_RepeatedStopReturnsSameSnapshot(t *testing.T) {
	b := NewCaptureBuffer(50)
	b.Start("")
	b.onRequest(reqEvent("r1", "https://example.com", "GET", proto.NetworkResourceTypeDocument))

	first, aerr := b.Stop()
	if aerr != nil {
		t.Fatalf("first stop failed: %v", aerr)
	}
	second, aerr := b.Stop()
	if aerr != nil {
		t.Fatalf("second stop failed: %v", aerr)
	}

	if first["count"] != second["count"] || first["truncated"] != second["truncated"] {
		t.Errorf("snapshots differ: %v vs %v", first, second)
	}
	if len(stoppedRequests(t, first)) != len(stoppedRequests(t, second)) {
		t.Error("snapshot request lists differ")
	}
}

func TestCaptureBuffer_StartResetsPriorCapture(t *testing.T) {
	b := NewCaptureBuffer(50)

	// Entries survive into a stop, then a new start discards them.
	b.Start("")
	b.onRequest(reqEvent("r1", "https://old.example.com", "GET", proto.NetworkResourceTypeDocument))
	b.Stop()

	b.Start("")
	b.onRequest(reqEvent("r2", "https://new.example.com", "GET", proto.NetworkResourceTypeDocument))
	fields, _ := b.Stop()

	records := stoppedRequests(t, fields)
	if len(records) != 1 || records[0].URL != "https://new.example.com" {
		t.Errorf("restart kept stale entries: %+v", records)
	}
}

func TestCaptureBuffer_SecondStartWhileCapturingResets(t *testing.T) {
	b := NewCaptureBuffer(50)

	b.Start("")
	b.onRequest(reqEvent("r1", "https://example.com/a", "GET", proto.NetworkResourceTypeDocument))

	b.Start("")
	if !b.Recording() {
		t.Error("buffer should still be recording after restart")
	}
	fields, _ := b.Stop()
	if fields["count"] != 0 {
		t.Errorf("restart while capturing should clear entries: %v", fields)
	}
}

func TestCaptureBuffer_CapPinsEntries(t *testing.T) {
	b := NewCaptureBuffer(3)
	b.Start("")

	for _, id := range []string{"r1", "r2", "r3", "r4", "r5"} {
		b.onRequest(reqEvent(id, "https://example.com/"+id, "GET", proto.NetworkResourceTypeFetch))
	}

	fields, _ := b.Stop()
	if fields["count"] != 3 {
		t.Errorf("count = %v, want 3", fields["count"])
	}
	if fields["truncated"] != true {
		t.Error("overflow should set truncated")
	}
}

func TestCaptureBuffer_FilterAppliesAtAppendTime(t *testing.T) {
	b := NewCaptureBuffer(50)
	b.Start("api")

	b.onRequest(reqEvent("r1", "https://example.com/api/users", "GET", proto.NetworkResourceTypeXHR))
	b.onRequest(reqEvent("r2", "https://example.com/styles.css", "GET", proto.NetworkResourceTypeStylesheet))

	// Response for the filtered-out request must not disturb anything.
	b.onResponse(respEvent("r2", 200))
	b.onResponse(respEvent("r1", 201))

	fields, _ := b.Stop()
	records := stoppedRequests(t, fields)
	if len(records) != 1 {
		t.Fatalf("filter kept %d records, want 1", len(records))
	}
	if !strings.Contains(records[0].URL, "api") || records[0].Status != 201 {
		t.Errorf("record = %+v", records[0])
	}
}

func TestCaptureBuffer_ClipsLongURLs(t *testing.T) {
	b := NewCaptureBuffer(50)
	b.Start("")

	long := "https://example.com/?q=" + strings.Repeat("x", 300)
	b.onRequest(reqEvent("r1", long, "GET", proto.NetworkResourceTypeDocument))

	fields, _ := b.Stop()
	records := stoppedRequests(t, fields)
	if len(records[0].URL) != maxRecordedURLLen {
		t.Errorf("stored URL length = %d, want %d", len(records[0].URL), maxRecordedURLLen)
	}
}

func TestCaptureBuffer_EventGuards(t *testing.T) {
	b := NewCaptureBuffer(50)
	b.Start("")

	// Malformed events must be dropped, not crash the listener goroutine.
	b.onRequest(&proto.NetworkRequestWillBeSent{RequestID: "r1"})
	b.onResponse(&proto.NetworkResponseReceived{RequestID: "r1"})
	b.onResponse(respEvent("never-seen", 404))

	fields, _ := b.Stop()
	if fields["count"] != 0 {
		t.Errorf("malformed events recorded: %v", fields)
	}
}

func TestCaptureBuffer_FirstResponseWins(t *testing.T) {
	b := NewCaptureBuffer(50)
	b.Start("")

	b.onRequest(reqEvent("r1", "https://example.com", "GET", proto.NetworkResourceTypeDocument))
	b.onResponse(respEvent("r1", 301))
	b.onResponse(respEvent("r1", 200))

	fields, _ := b.Stop()
	records := stoppedRequests(t, fields)
	if records[0].Status != 301 {
		t.Errorf("status = %d, want first response's 301", records[0].Status)
	}
}

func TestResourceType(t *testing.T) {
	tests := []struct {
		in   proto.NetworkResourceType
		want string
	}{
		{proto.NetworkResourceTypeDocument, "document"},
		{proto.NetworkResourceTypeXHR, "xhr"},
		{proto.NetworkResourceTypeImage, "image"},
		{"", "other"},
	}

	for _, tt := range tests {
		if got := resourceType(tt.in); got != tt.want {
			t.Errorf("resourceType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
