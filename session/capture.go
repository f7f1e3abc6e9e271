package session

import (
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/use-agent/enact/models"
)

// maxRecordedURLLen caps stored request URLs; data URIs and tracking pixels
// can carry kilobytes of querystring.
const maxRecordedURLLen = 200

type captureState int

const (
	captureIdle captureState = iota
	captureActive
	captureStopped
)

// CaptureBuffer records network request metadata while active.
//
// State machine: Idle → Capturing → Stopped. A start transitions Idle or
// Stopped to Capturing and clears prior entries; starting while already
// Capturing is an idempotent reset. Stop freezes the entries and returns a
// snapshot; repeated stops return the same snapshot. Stop without any prior
// start is a failure.
//
// The buffer is fed by CDP events from the session's page but is fully
// operable without one, which keeps the state machine testable in isolation.
type CaptureBuffer struct {
	mu        sync.Mutex
	state     captureState
	filter    string
	max       int
	truncated bool
	entries   []models.RequestRecord
	byID      map[proto.NetworkRequestID]int
}

// NewCaptureBuffer builds a buffer holding at most max requests. Callers
// that have a page attach it with wire; the state machine works without one.
func NewCaptureBuffer(max int) *CaptureBuffer {
	return &CaptureBuffer{
		max:  max,
		byID: make(map[proto.NetworkRequestID]int),
	}
}

// wire subscribes the buffer to the page's network events. The subscription
// lives as long as the page; recording is gated by the buffer state.
func (b *CaptureBuffer) wire(page *rod.Page) {
	wait := page.EachEvent(
		func(ev *proto.NetworkRequestWillBeSent) { b.onRequest(ev) },
		func(ev *proto.NetworkResponseReceived) { b.onResponse(ev) },
	)
	go wait()
}

// Start activates recording. Any previously recorded entries are discarded,
// including the entries of a capture that is still running, so a second start
// behaves as a fresh one. The filter, when non-empty, is a substring match
// applied to request URLs at append time.
func (b *CaptureBuffer) Start(filter string) models.Fields {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = captureActive
	b.filter = filter
	b.truncated = false
	b.entries = nil
	clear(b.byID)

	return models.Fields{"capturing": true}
}

// Stop deactivates recording and returns the final snapshot. Calling Stop
// again returns the identical snapshot. Stopping a buffer that was never
// started fails.
func (b *CaptureBuffer) Stop() (models.Fields, *models.ActionError) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == captureIdle {
		return nil, models.NewActionError(
			models.ErrCodeCaptureInactive,
			"capture not active: no capture_requests start preceded this stop",
			nil,
		)
	}

	b.state = captureStopped

	requests := make([]models.RequestRecord, len(b.entries))
	copy(requests, b.entries)

	return models.Fields{
		"requests":  requests,
		"count":     len(requests),
		"truncated": b.truncated,
	}, nil
}

// Recording returns whether the buffer is currently capturing.
func (b *CaptureBuffer) Recording() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == captureActive
}

func (b *CaptureBuffer) onRequest(ev *proto.NetworkRequestWillBeSent) {
	if ev.Request == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != captureActive {
		return
	}
	if b.filter != "" && !strings.Contains(ev.Request.URL, b.filter) {
		return
	}
	if len(b.entries) >= b.max {
		b.truncated = true
		return
	}

	b.byID[ev.RequestID] = len(b.entries)
	b.entries = append(b.entries, models.RequestRecord{
		URL:          clipURL(ev.Request.URL),
		Method:       ev.Request.Method,
		ResourceType: resourceType(ev.Type),
	})
}

// onResponse backfills the status code of the matching recorded request.
// Responses for dropped or filtered requests are ignored.
func (b *CaptureBuffer) onResponse(ev *proto.NetworkResponseReceived) {
	if ev.Response == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != captureActive {
		return
	}
	if i, ok := b.byID[ev.RequestID]; ok && b.entries[i].Status == 0 {
		b.entries[i].Status = ev.Response.Status
	}
}

func clipURL(u string) string {
	if len(u) > maxRecordedURLLen {
		return u[:maxRecordedURLLen]
	}
	return u
}

func resourceType(t proto.NetworkResourceType) string {
	if t == "" {
		return "other"
	}
	return strings.ToLower(string(t))
}
