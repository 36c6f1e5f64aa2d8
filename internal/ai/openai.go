package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/codeagent/internal/config"
	"github.com/kiranshivaraju/codeagent/pkg/models"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

// OpenAICompatProvider implements models.Completer against any endpoint that
// speaks the OpenAI chat completions protocol (OpenAI, Groq, Ollama, vLLM).
type OpenAICompatProvider struct {
	name        string
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int
}

// NewOpenAICompatProvider builds a provider named name. The SDK's own retry
// loop is disabled; retries are owned by the pipeline's RetryPolicy.
func NewOpenAICompatProvider(name string, cfg config.OpenAICompatConfig, temperature float64, maxTokens int, extra ...option.RequestOption) *OpenAICompatProvider {
	apiKey := cfg.APIKey
	if apiKey == "" {
		// Local servers ignore the key but the SDK always sends the header.
		apiKey = "unused"
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	opts = append(opts, extra...)

	return &OpenAICompatProvider{
		name:        name,
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		temperature: temperature,
		maxTokens:   maxTokens,
	}
}

func (p *OpenAICompatProvider) Name() string { return p.name }

func (p *OpenAICompatProvider) Complete(ctx context.Context, role models.Role, input string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(SystemPrompt(role)),
			openai.UserMessage(input),
		},
		Temperature: openai.Float(p.temperature),
	}
	if p.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(p.maxTokens))
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classify(ctx, err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", ErrInvalidResponse)
	}

	choice := completion.Choices[0]
	if choice.FinishReason == "content_filter" {
		return "", fmt.Errorf("%w: output blocked by content filter", ErrRefused)
	}
	if refusal := strings.TrimSpace(choice.Message.Refusal); refusal != "" {
		return "", fmt.Errorf("%w: %s", ErrRefused, refusal)
	}
	content := strings.TrimSpace(choice.Message.Content)
	if content == "" {
		return "", fmt.Errorf("%w: empty content", ErrInvalidResponse)
	}
	return content, nil
}

// classify maps SDK and transport failures onto the package sentinels.
func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", ErrUpstreamRateLimited, err)
		case apiErr.StatusCode == http.StatusRequestTimeout || apiErr.StatusCode == http.StatusGatewayTimeout:
			return fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
		case apiErr.StatusCode >= 500:
			return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		default:
			return fmt.Errorf("%w: %v", ErrRefused, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}

var _ models.Completer = (*OpenAICompatProvider)(nil)
