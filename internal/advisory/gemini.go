package advisory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"floodwatch/internal/logging"
)

// GeminiOptions parameterise the Gemini generateContent renderer.
type GeminiOptions struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int64
	Temperature float64
	Timeout     time.Duration
}

// GeminiRenderer renders advisories with the Gemini REST API.
type GeminiRenderer struct {
	opts    GeminiOptions
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewGemini constructs a Gemini renderer.
func NewGemini(opts GeminiOptions, logger zerolog.Logger) *GeminiRenderer {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}
	if opts.Model == "" {
		opts.Model = "gemini-1.5-flash"
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 300
	}

	return &GeminiRenderer{
		opts:    opts,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logging.Component(logger, "advisory_gemini"),
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  struct {
		MaxOutputTokens int64   `json:"maxOutputTokens"`
		Temperature     float64 `json:"temperature"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Render calls models/{model}:generateContent and joins the first candidate's parts.
func (g *GeminiRenderer) Render(ctx context.Context, req Request) (string, error) {
	payload := geminiRequest{
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: systemPrompt}}},
		Contents:          []geminiContent{{Role: "user", Parts: []geminiPart{{Text: BuildPrompt(req)}}}},
	}
	payload.GenerationConfig.MaxOutputTokens = g.opts.MaxTokens
	payload.GenerationConfig.Temperature = g.opts.Temperature

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal gemini payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		g.baseURL, url.PathEscape(g.opts.Model), url.QueryEscape(g.opts.APIKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create gemini request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		// url.Error embeds the key-bearing URL
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return "", fmt.Errorf("send gemini request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read gemini response: %w", err)
	}

	var result geminiResponse
	decodeErr := json.Unmarshal(raw, &result)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil && result.Error != nil {
			return "", fmt.Errorf("gemini status %d: %s", resp.StatusCode, result.Error.Message)
		}
		return "", fmt.Errorf("gemini status %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("decode gemini response: %w", decodeErr)
	}
	if len(result.Candidates) == 0 {
		return "", errors.New("gemini returned no candidates")
	}

	var text strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	if text.Len() == 0 {
		return "", errors.New("gemini returned empty content")
	}

	g.logger.Debug().Str("model", g.opts.Model).Msg("gemini content received")
	return text.String(), nil
}

var _ Renderer = (*GeminiRenderer)(nil)
