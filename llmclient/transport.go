package llmclient

import "context"

// Role mirrors the OpenAI-compatible chat message roles.
type Role string

// Recognized roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat message.
type Message struct {
	Role    Role
	Content string
}

// Request is a single chat-completions request: model id, messages,
// temperature, max tokens, optional JSON response-format hint, and a seed
// where supported.
type Request struct {
	Model        string
	Messages     []Message
	Temperature  float64
	MaxTokens    int
	Seed         *int64
	JSONResponse bool
	SchemaName   string
	JSONSchema   map[string]any
}

// Response is the terminal aggregated text of a chat-completions call. The
// core only requires the terminal text even when the transport streams
// internally.
type Response struct {
	Content    string
	TokensUsed *int
}

// Transport is the external LLM boundary: a stateless request/response
// service with no assumed memory of prior calls. Generator, Judge, and
// PatchSynthesizer all depend on this interface rather than a concrete SDK
// client, so a fixture-backed transport can replay recorded transcripts in
// tests.
type Transport interface {
	CreateChatCompletion(ctx context.Context, req Request) (Response, error)
}
