package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"github.com/fintalk/fintalk/internal/config"
	"github.com/fintalk/fintalk/internal/models"
)

// Message roles of the two-message prompt bundle.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Message is one entry of a prompt bundle.
type Message struct {
	Role    string
	Content string
}

// Completer is the surface the orchestrator depends on, satisfied by
// Client and by the scripted fakes in tests.
type Completer interface {
	// Complete returns the full model answer for the bundle.
	Complete(ctx context.Context, msgs []Message) (string, error)
	// Stream invokes fn for every text fragment in order and returns
	// the concatenated answer.
	Stream(ctx context.Context, msgs []Message, fn func(text string) error) (string, error)
}

// Client talks to an OpenAI-compatible chat-completion gateway through
// langchaingo, with the engine's deadline and retry policy applied.
type Client struct {
	model llms.Model
	cfg   config.LLMConfig
	retry RetryConfig
}

// New builds the client. A construction failure here is fatal at
// startup.
func New(cfg config.LLMConfig) (*Client, error) {
	opts := []openai.Option{
		openai.WithModel(cfg.Model),
		openai.WithToken(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}
	return &Client{model: model, cfg: cfg, retry: DefaultRetryConfig()}, nil
}

func (c *Client) callOptions() []llms.CallOption {
	return []llms.CallOption{
		llms.WithTemperature(c.cfg.Temperature),
		llms.WithTopP(c.cfg.TopP),
		llms.WithMaxTokens(c.cfg.MaxTokens),
		llms.WithFrequencyPenalty(c.cfg.FrequencyPenalty),
		llms.WithPresencePenalty(c.cfg.PresencePenalty),
	}
}

func toContent(msgs []Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(msgs))
	for _, m := range msgs {
		role := schema.ChatMessageTypeHuman
		if m.Role == RoleSystem {
			role = schema.ChatMessageTypeSystem
		}
		out = append(out, llms.MessageContent{
			Role:  role,
			Parts: []llms.ContentPart{llms.TextPart(m.Content)},
		})
	}
	return out
}

// Complete runs a unary completion with the configured deadline,
// retrying transient upstream failures.
func (c *Client) Complete(ctx context.Context, msgs []Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	response, err := generateWithRetry(ctx, c.model, toContent(msgs), c.retry, c.callOptions()...)
	if err != nil {
		return "", classify(ctx, err)
	}
	if len(response.Choices) == 0 {
		return "", models.NewError(models.ErrUpstreamUnavailable, "empty completion from provider")
	}
	return response.Choices[0].Content, nil
}

// Stream runs a streaming completion. fn receives fragments in order;
// a partial stream that fails surfaces a single classified error after
// whatever output was already delivered. No retry once output started.
func (c *Client) Stream(ctx context.Context, msgs []Message, fn func(text string) error) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var full strings.Builder
	opts := append(c.callOptions(), llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
		text := string(chunk)
		if text == "" {
			return nil
		}
		full.WriteString(text)
		return fn(text)
	}))

	response, err := c.model.GenerateContent(ctx, toContent(msgs), opts...)
	if err != nil {
		return full.String(), classify(ctx, err)
	}
	// Some gateways deliver the final text only in the response; make
	// sure the caller saw everything.
	if full.Len() == 0 && len(response.Choices) > 0 && response.Choices[0].Content != "" {
		text := response.Choices[0].Content
		full.WriteString(text)
		if err := fn(text); err != nil {
			return full.String(), err
		}
	}
	return full.String(), nil
}

// Ping issues a minimal completion to verify the gateway is reachable.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	_, err := c.model.GenerateContent(ctx, toContent([]Message{{Role: RoleUser, Content: "ping"}}),
		llms.WithMaxTokens(1))
	if err != nil {
		return classify(ctx, err)
	}
	return nil
}

// classify maps an upstream failure onto the engine's stable error
// kinds: deadline hits become UPSTREAM_TIMEOUT, everything else from
// the provider is UPSTREAM_UNAVAILABLE.
func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return models.WrapError(models.ErrUpstreamTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return models.WrapError(models.ErrUpstreamUnavailable, err)
}
