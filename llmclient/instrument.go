package llmclient

import (
	"context"
	"time"

	"github.com/epicforge/promptopt/telemetry"
)

// InstrumentedTransport wraps a Transport with Telemetry Sink recording: an
// in-flight gauge bump for the call's duration and a recorded latency plus
// response preview on completion, grounded on the same wrap-the-collaborator
// pattern TeacherTransport uses. callKey identifies the collaborator this
// transport instance belongs to (e.g. "llm:generate", "llm:judge") since one
// Sink aggregates call keys from every wrapped transport in the process.
type InstrumentedTransport struct {
	inner   Transport
	sink    *telemetry.Sink
	callKey string
}

// NewInstrumentedTransport wraps inner so every call records against sink
// under callKey. A nil sink makes this a transparent passthrough, so callers
// can wrap unconditionally regardless of whether telemetry is enabled.
func NewInstrumentedTransport(inner Transport, sink *telemetry.Sink, callKey string) *InstrumentedTransport {
	return &InstrumentedTransport{inner: inner, sink: sink, callKey: callKey}
}

// CreateChatCompletion implements Transport.
func (t *InstrumentedTransport) CreateChatCompletion(ctx context.Context, req Request) (Response, error) {
	if t.sink == nil {
		return t.inner.CreateChatCompletion(ctx, req)
	}

	t.sink.IncInFlight(t.callKey)
	defer t.sink.DecInFlight(t.callKey)

	start := time.Now()
	resp, err := t.inner.CreateChatCompletion(ctx, req)
	durationMs := float64(time.Since(start).Milliseconds())
	if err != nil {
		t.sink.RecordCall(ctx, t.callKey, durationMs, "")
		return Response{}, err
	}
	t.sink.RecordCall(ctx, t.callKey, durationMs, resp.Content)
	return resp, nil
}

var _ Transport = (*InstrumentedTransport)(nil)
