package advisory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"

	"floodwatch/internal/logging"
)

// OpenAIOptions parameterise the OpenAI chat completions renderer.
type OpenAIOptions struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int64
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
}

// AzureOptions parameterise an Azure OpenAI deployment.
type AzureOptions struct {
	APIKey      string
	Endpoint    string
	Deployment  string
	APIVersion  string
	MaxTokens   int64
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
}

// OpenAIRenderer renders advisories through a chat completions API.
type OpenAIRenderer struct {
	client      openai.Client
	model       string
	maxTokens   int64
	temperature float64
	logger      zerolog.Logger
}

// NewOpenAI constructs a renderer against api.openai.com or a compatible BaseURL.
func NewOpenAI(opts OpenAIOptions, logger zerolog.Logger) *OpenAIRenderer {
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(withTrailingSlash(opts.BaseURL)))
	}
	reqOpts = append(reqOpts, commonOptions(opts.Timeout, opts.MaxRetries)...)

	model := opts.Model
	if model == "" {
		model = string(openai.ChatModelGPT4o)
	}
	return newChatRenderer(openai.NewClient(reqOpts...), model, opts.MaxTokens, opts.Temperature,
		logging.Component(logger, "advisory_openai"))
}

// NewAzure constructs a renderer against an Azure OpenAI deployment.
func NewAzure(opts AzureOptions, logger zerolog.Logger) *OpenAIRenderer {
	base := strings.TrimRight(opts.Endpoint, "/") + "/openai/deployments/" + opts.Deployment + "/"
	reqOpts := []option.RequestOption{
		option.WithBaseURL(base),
		option.WithHeader("api-key", opts.APIKey),
	}
	if opts.APIVersion != "" {
		reqOpts = append(reqOpts, option.WithQuery("api-version", opts.APIVersion))
	}
	reqOpts = append(reqOpts, commonOptions(opts.Timeout, opts.MaxRetries)...)

	return newChatRenderer(openai.NewClient(reqOpts...), opts.Deployment, opts.MaxTokens, opts.Temperature,
		logging.Component(logger, "advisory_azure"))
}

func newChatRenderer(client openai.Client, model string, maxTokens int64, temperature float64, logger zerolog.Logger) *OpenAIRenderer {
	if maxTokens <= 0 {
		maxTokens = 300
	}
	return &OpenAIRenderer{
		client:      client,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		logger:      logger,
	}
}

func commonOptions(timeout time.Duration, retries int) []option.RequestOption {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return []option.RequestOption{
		option.WithRequestTimeout(timeout),
		option.WithMaxRetries(retries),
	}
}

// Render sends the advisory prompt and returns the first choice.
func (r *OpenAIRenderer) Render(ctx context.Context, req Request) (string, error) {
	chat, err := r.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(BuildPrompt(req)),
		},
		Model:       openai.ChatModel(r.model),
		MaxTokens:   openai.Int(r.maxTokens),
		Temperature: openai.Float(r.temperature),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(chat.Choices) == 0 || chat.Choices[0].Message.Content == "" {
		return "", errors.New("chat completion returned no content")
	}

	r.logger.Debug().Str("model", r.model).Int64("total_tokens", chat.Usage.TotalTokens).Msg("chat completion received")
	return chat.Choices[0].Message.Content, nil
}

func withTrailingSlash(u string) string {
	if strings.HasSuffix(u, "/") {
		return u
	}
	return u + "/"
}

var _ Renderer = (*OpenAIRenderer)(nil)
