// ABOUTME: Live Runtime implementation backed by an OpenAI-compatible chat API
// ABOUTME: Maps HTTP status classes onto the transient/terminal error taxonomy

package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// LiveConfig configures the live backend connection.
type LiveConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int64
	Temperature float64
	Timeout     time.Duration
}

// LiveRuntime calls an OpenAI-compatible chat completions endpoint.
type LiveRuntime struct {
	client  openai.Client
	model   string
	max     int64
	temp    float64
	timeout time.Duration
	logger  *slog.Logger
}

// NewLiveRuntime creates a runtime against the configured backend.
func NewLiveRuntime(cfg LiveConfig, logger *slog.Logger) *LiveRuntime {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	return &LiveRuntime{
		client:  openai.NewClient(opts...),
		model:   cfg.Model,
		max:     maxTokens,
		temp:    cfg.Temperature,
		timeout: timeout,
		logger:  logger.With("component", "runtime"),
	}
}

// Generate sends the conversation to the backend and returns the reply text.
func (r *LiveRuntime) Generate(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	for _, turn := range req.History {
		if turn.Role == "assistant" {
			messages = append(messages, openai.AssistantMessage(turn.Text))
		} else {
			messages = append(messages, openai.UserMessage(turn.Text))
		}
	}
	messages = append(messages, openai.UserMessage(req.UserText))

	start := time.Now()
	resp, err := r.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       r.model,
		Messages:    messages,
		Temperature: openai.Float(r.temp),
		MaxTokens:   openai.Int(r.max),
	})
	if err != nil {
		return "", r.classifyError(err)
	}

	if len(resp.Choices) == 0 {
		r.logger.Warn("backend returned no choices", "model", r.model)
		return "", ErrRuntimeUnavailable
	}

	r.logger.Debug("reply generated",
		"model", r.model,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp.Choices[0].Message.Content, nil
}

// classifyError folds backend failures into the two-error taxonomy.
// 4xx means the request itself was refused; everything else is transient.
func (r *LiveRuntime) classifyError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: rate limited", ErrRuntimeUnavailable)
		case apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
			r.logger.Warn("backend rejected request", "status", apiErr.StatusCode)
			return fmt.Errorf("%w: status %d", ErrRuntimeRejected, apiErr.StatusCode)
		default:
			return fmt.Errorf("%w: status %d", ErrRuntimeUnavailable, apiErr.StatusCode)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}
	return fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
}

var _ Runtime = (*LiveRuntime)(nil)
