// Package advisory renders risk assessments into human-readable guidance.
package advisory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"floodwatch/internal/config"
	"floodwatch/internal/logging"
	"floodwatch/internal/metrics"
	"floodwatch/internal/risk"
)

// ErrGenerationUnavailable marks a failed rendering backend.
var ErrGenerationUnavailable = errors.New("advisory: generation unavailable")

// DefaultFallback is returned to users when rendering fails.
const DefaultFallback = "There's a system hiccups. Bot is not available this time. "

// Request is what a renderer needs to produce text.
type Request struct {
	Assessment risk.Assessment
	// Question is an optional end-user question to answer from the assessment.
	Question string
}

// Renderer turns an assessment into text.
type Renderer interface {
	Render(ctx context.Context, req Request) (string, error)
}

// NewRenderer builds the renderer selected by cfg.Backend.
func NewRenderer(cfg config.AdvisoryConfig, logger zerolog.Logger) (Renderer, error) {
	switch cfg.Backend {
	case config.BackendTemplate, "":
		return TemplateRenderer{}, nil
	case config.BackendOpenAI:
		return NewOpenAI(OpenAIOptions{
			APIKey:      cfg.OpenAI.APIKey,
			BaseURL:     cfg.OpenAI.BaseURL,
			Model:       cfg.OpenAI.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		}, logger), nil
	case config.BackendAzure:
		return NewAzure(AzureOptions{
			APIKey:      cfg.Azure.APIKey,
			Endpoint:    cfg.Azure.Endpoint,
			Deployment:  cfg.Azure.Deployment,
			APIVersion:  cfg.Azure.APIVersion,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		}, logger), nil
	case config.BackendGemini:
		return NewGemini(GeminiOptions{
			APIKey:      cfg.Gemini.APIKey,
			BaseURL:     cfg.Gemini.BaseURL,
			Model:       cfg.Gemini.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown advisory backend %q", cfg.Backend)
	}
}

// TemplateRenderer produces the fixed guidance text without any network call.
type TemplateRenderer struct{}

// Render returns the status and estimate sentences.
func (TemplateRenderer) Render(_ context.Context, req Request) (string, error) {
	return Guidance(req.Assessment), nil
}

// DispatcherOptions configure a Dispatcher.
type DispatcherOptions struct {
	Backend  string
	Fallback string
	Metrics  *metrics.Metrics
}

// Dispatcher wraps a Renderer so callers always get user-safe text.
type Dispatcher struct {
	renderer Renderer
	backend  string
	fallback string
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(renderer Renderer, opts DispatcherOptions, logger zerolog.Logger) *Dispatcher {
	if renderer == nil {
		renderer = TemplateRenderer{}
	}
	if opts.Fallback == "" {
		opts.Fallback = DefaultFallback
	}
	if opts.Backend == "" {
		opts.Backend = config.BackendTemplate
	}
	return &Dispatcher{
		renderer: renderer,
		backend:  opts.Backend,
		fallback: opts.Fallback,
		metrics:  opts.Metrics,
		logger:   logging.Component(logger, "advisory").With().Str("backend", opts.Backend).Logger(),
	}
}

// Fallback returns the static message used when rendering fails.
func (d *Dispatcher) Fallback() string {
	return d.fallback
}

// Advise renders req. On failure it returns the fallback text together with an
// error wrapping ErrGenerationUnavailable.
func (d *Dispatcher) Advise(ctx context.Context, req Request) (string, error) {
	text, err := d.renderer.Render(ctx, req)
	if err == nil && strings.TrimSpace(text) == "" {
		err = errors.New("empty response")
	}
	if err != nil {
		d.metrics.AdvisoryRender(d.backend, "error")
		d.logger.Error().Err(err).
			Str("tier", req.Assessment.Tier.String()).
			Msg("advisory rendering failed; using fallback")
		return d.fallback, fmt.Errorf("%w: %w", ErrGenerationUnavailable, err)
	}

	d.metrics.AdvisoryRender(d.backend, "success")
	d.logger.Debug().Str("tier", req.Assessment.Tier.String()).Int("chars", len(text)).Msg("advisory rendered")
	return strings.TrimSpace(text), nil
}
