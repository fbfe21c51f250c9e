package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"

	"github.com/ent0n29/presales/internal/memory"
	"github.com/ent0n29/presales/internal/reliability"
)

// Tool names a gateway may request instead of a plain reply.
const (
	EstimateLookup = "EstimateLookup"
	StoreLead      = "StoreLead"
)

var ErrGatewayUnavailable = errors.New("completion gateway unavailable")

// Request is the normalized input sent to a completion backend.
type Request struct {
	ClientID     string
	History      []memory.Turn
	Instructions string
}

// ToolCall is a structured request produced by the backend.
type ToolCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"arguments,omitempty"`
}

// String returns a trimmed string argument, or "" when absent.
func (c *ToolCall) String(key string) string {
	if c == nil || c.Args == nil {
		return ""
	}
	switch v := c.Args[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	default:
		return ""
	}
}

// Bool accepts JSON booleans and yes/true strings.
func (c *ToolCall) Bool(key string) bool {
	if c == nil || c.Args == nil {
		return false
	}
	switch v := c.Args[key].(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "y", "1":
			return true
		}
	}
	return false
}

// Reply carries either text, a tool call, or both.
type Reply struct {
	Text string
	Call *ToolCall
}

// Gateway produces the next bot reply for a conversation.
type Gateway interface {
	Complete(ctx context.Context, req Request) (Reply, error)
}

// Config controls gateway construction.
type Config struct {
	Mode        string
	HTTPURL     string
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int64
}

func NewGateway(cfg Config) (Gateway, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		return newAutoGateway(cfg), nil
	case "openai":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("openai api key is required for openai mode")
		}
		return NewOpenAIGateway(cfg), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("completion HTTP url is required for http mode")
		}
		return NewHTTPGateway(cfg.HTTPURL), nil
	case "mock":
		return NewMockGateway(), nil
	default:
		return nil, fmt.Errorf("unsupported completion mode %q", cfg.Mode)
	}
}

func newAutoGateway(cfg Config) Gateway {
	if strings.TrimSpace(cfg.APIKey) != "" {
		return NewOpenAIGateway(cfg)
	}
	if strings.TrimSpace(cfg.HTTPURL) != "" {
		return NewHTTPGateway(cfg.HTTPURL)
	}
	return NewMockGateway()
}

// CompleteWithRetry calls the gateway and retries once, immediately. Each
// attempt gets its own timeout when timeout > 0; cancellation of ctx itself is
// never retried, nor are client errors the backend will answer the same way.
func CompleteWithRetry(ctx context.Context, g Gateway, req Request, timeout time.Duration) (Reply, error) {
	if g == nil {
		return Reply{}, ErrGatewayUnavailable
	}
	reply, err := completeOnce(ctx, g, req, timeout)
	if err == nil {
		return reply, nil
	}
	if ctx.Err() != nil {
		return Reply{}, err
	}
	if !Classify(err).Retryable {
		return Reply{}, fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
	}

	reply, retryErr := completeOnce(ctx, g, req, timeout)
	if retryErr != nil {
		return Reply{}, fmt.Errorf("%w: %v; retry: %w", ErrGatewayUnavailable, err, retryErr)
	}
	return reply, nil
}

func completeOnce(ctx context.Context, g Gateway, req Request, timeout time.Duration) (Reply, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return g.Complete(ctx, req)
}

// Classify is reliability.Classify extended with OpenAI API errors.
func Classify(err error) reliability.Verdict {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && !errors.Is(err, context.Canceled) {
		return reliability.Verdict{
			Kind:      reliability.KindStatus,
			Status:    apiErr.StatusCode,
			Retryable: reliability.IsRetryableHTTPStatus(apiErr.StatusCode),
		}
	}
	return reliability.Classify(err)
}
