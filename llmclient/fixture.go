package llmclient

import (
	"context"
	"fmt"
	"sync"
)

// FixtureTransport replays a fixed transcript of responses, keyed by call
// order or by an explicit keying function. It exists so the optimizer's
// scorer, pair miner, and selector can be tested deterministically against
// a stochastic collaborator's recorded output.
type FixtureTransport struct {
	mu       sync.Mutex
	KeyFunc  func(req Request) string
	Replies  map[string][]Response
	Errors   map[string]error
	sequence map[string]int
	Calls    []Request
}

// NewFixtureTransport builds an empty fixture. Populate Replies/Errors
// before use.
func NewFixtureTransport() *FixtureTransport {
	return &FixtureTransport{
		Replies:  make(map[string][]Response),
		Errors:   make(map[string]error),
		sequence: make(map[string]int),
	}
}

// CreateChatCompletion implements Transport by replaying the fixture.
func (f *FixtureTransport) CreateChatCompletion(ctx context.Context, req Request) (Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, req)
	key := "default"
	if f.KeyFunc != nil {
		key = f.KeyFunc(req)
	}
	if err, ok := f.Errors[key]; ok && err != nil {
		return Response{}, err
	}
	replies, ok := f.Replies[key]
	if !ok || len(replies) == 0 {
		return Response{}, fmt.Errorf("fixture transport: no reply registered for key %q", key)
	}
	idx := f.sequence[key]
	if idx >= len(replies) {
		idx = len(replies) - 1
	}
	f.sequence[key] = idx + 1
	return replies[idx], nil
}

var _ Transport = (*FixtureTransport)(nil)
