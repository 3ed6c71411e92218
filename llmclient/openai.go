package llmclient

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/epicforge/promptopt/errs"
)

// OpenAITransport submits requests to an OpenAI-compatible chat-completions
// endpoint. Authentication is a bearer token loaded from configuration
// (LLM_BASE_URL / LLM_API_KEY); no assumption is made about rate-limit
// headers, rate limiting is observed as HTTP 429 and surfaced as a
// retryable transport error.
type OpenAITransport struct {
	client openai.Client
}

// NewOpenAITransport builds a transport bound to baseURL/apiKey. An empty
// baseURL uses the SDK's default (api.openai.com); deployments that speak
// the OpenAI-compatible protocol (DeepSeek, local vLLM, etc.) set baseURL.
func NewOpenAITransport(baseURL, apiKey string) *OpenAITransport {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAITransport{client: openai.NewClient(opts...)}
}

// CreateChatCompletion implements Transport.
func (t *OpenAITransport) CreateChatCompletion(ctx context.Context, req Request) (Response, error) {
	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(req.Model),
		Messages:    toOpenAIMessages(req.Messages),
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Seed != nil {
		params.Seed = openai.Int(*req.Seed)
	}
	if req.JSONResponse {
		if len(req.JSONSchema) > 0 {
			params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
					JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
						Name:   req.SchemaName,
						Schema: req.JSONSchema,
						Strict: openai.Bool(true),
					},
				},
			}
		} else {
			params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
			}
		}
	}
	completion, err := t.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Response{}, classifyOpenAIError(err)
	}
	if len(completion.Choices) == 0 {
		return Response{}, errs.New(errs.KindValidation, "openai.CreateChatCompletion", errors.New("response has no choices"))
	}
	var tokens *int
	if completion.Usage.TotalTokens > 0 {
		v := int(completion.Usage.TotalTokens)
		tokens = &v
	}
	return Response{Content: completion.Choices[0].Message.Content, TokensUsed: tokens}, nil
}

func toOpenAIMessages(in []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(in))
	for _, m := range in {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// classifyOpenAIError maps the SDK's error shapes onto the taxonomy:
// 401/403 auth, 408/429/5xx retryable transport, deadline-exceeded timeout,
// anything else a generic transport error.
func classifyOpenAIError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.New(errs.KindTimeout, "openai.CreateChatCompletion", err)
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return errs.Newf(errs.KindTransport, "openai.CreateChatCompletion", "auth failed (%d): %w", apiErr.StatusCode, err)
		case http.StatusRequestTimeout, http.StatusTooManyRequests:
			return errs.Newf(errs.KindTransport, "openai.CreateChatCompletion", "retryable (%d): %w", apiErr.StatusCode, err)
		default:
			if apiErr.StatusCode >= 500 {
				return errs.Newf(errs.KindTransport, "openai.CreateChatCompletion", "retryable (%d): %w", apiErr.StatusCode, err)
			}
			return errs.Newf(errs.KindTransport, "openai.CreateChatCompletion", "fatal (%d): %w", apiErr.StatusCode, err)
		}
	}
	return errs.New(errs.KindTransport, "openai.CreateChatCompletion", err)
}

// CallWithTimeout wraps a single Transport call with the per-call deadline,
// a bounded default (120s, configurable via LLM_TIMEOUT_MS).
func CallWithTimeout(ctx context.Context, timeout time.Duration, t Transport, req Request) (Response, error) {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	resp, err := t.CreateChatCompletion(cctx, req)
	if err != nil {
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return Response{}, errs.New(errs.KindTimeout, "llmclient.CallWithTimeout", cctx.Err())
		}
		return Response{}, err
	}
	return resp, nil
}

var _ Transport = (*OpenAITransport)(nil)
