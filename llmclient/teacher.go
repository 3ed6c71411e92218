package llmclient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"sync"
)

// TeacherTransport wraps a Transport with an in-memory cache keyed by a
// hash of (model, temperature, messages, schema). It gives repeated calls for
// the same instruction/schema/user content at the same temperature a stable
// reference output instead of a fresh sample every time, grounded on
// examples/evaluation/promptiter/promptiter/agent/teacher/teacher.go's
// cached reference-output pattern. Temperature is part of the key because
// the Judge Panel wraps one TeacherTransport around judges that deliberately
// sample the same input at several different temperatures; omitting it would
// let the first judge to finish silently supply the cached answer to the
// others, collapsing the panel's sampling diversity.
type TeacherTransport struct {
	inner Transport
	mu    sync.Mutex
	cache map[string]Response
}

// NewTeacherTransport wraps inner with a teacher cache.
func NewTeacherTransport(inner Transport) *TeacherTransport {
	return &TeacherTransport{inner: inner, cache: make(map[string]Response)}
}

// CreateChatCompletion implements Transport. A cache hit returns the
// previously recorded response without calling inner; a miss calls inner
// and records the result before returning it.
func (t *TeacherTransport) CreateChatCompletion(ctx context.Context, req Request) (Response, error) {
	key := teacherCacheKey(req)

	t.mu.Lock()
	resp, ok := t.cache[key]
	t.mu.Unlock()
	if ok {
		return resp, nil
	}

	resp, err := t.inner.CreateChatCompletion(ctx, req)
	if err != nil {
		return Response{}, err
	}

	t.mu.Lock()
	t.cache[key] = resp
	t.mu.Unlock()
	return resp, nil
}

func teacherCacheKey(req Request) string {
	h := sha256.New()
	h.Write([]byte(req.Model))
	h.Write([]byte(req.SchemaName))
	h.Write([]byte(strconv.FormatFloat(req.Temperature, 'f', -1, 64)))
	for _, m := range req.Messages {
		h.Write([]byte(m.Role))
		h.Write([]byte(m.Content))
	}
	if len(req.JSONSchema) > 0 {
		if b, err := json.Marshal(req.JSONSchema); err == nil {
			h.Write(b)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

var _ Transport = (*TeacherTransport)(nil)
