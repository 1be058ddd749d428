package advisory

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"floodwatch/internal/metrics"
	"floodwatch/internal/risk"
	"floodwatch/internal/storage"
	"floodwatch/internal/trend"
)

var t0 = time.Date(2024, 11, 15, 8, 0, 0, 0, time.UTC)

func assess(levels ...float64) risk.Assessment {
	window := make([]storage.Reading, 0, len(levels))
	for i, lvl := range levels {
		window = append(window, storage.Reading{
			Timestamp:   t0.Add(time.Duration(i) * 5 * time.Minute),
			Level:       decimal.NewFromFloat(lvl),
			Temperature: decimal.NewFromInt(25),
			Location:    "Marikina",
		})
	}
	v := trend.NewAnalyzer(trend.Options{}).Analyze(window)
	a := risk.NewClassifier(risk.Options{}).Classify(window[len(window)-1], v)
	a.Window = window
	return a
}

func TestStatusLines(t *testing.T) {
	tests := []struct {
		name string
		a    risk.Assessment
		want string
	}{
		{"no data", risk.NoData(t0), "You are safe!"},
		{"safe", assess(30, 35), "low and not currently dangerous"},
		{"prepare rising", assess(60, 65), "Prepare for potential evacuation."},
		{"prepare falling", assess(70, 65), "The situation is stable; no immediate danger."},
		{"prepare flat", assess(65, 65), "The water level is stable, and there is no immediate danger."},
		{"evacuate rising", assess(82, 85), "Evacuate immediately due to high danger."},
		{"evacuate falling", assess(90, 85), "situation has improved"},
		{"evacuate flat", assess(85, 85, 85), "appears stable at this high level"},
		{"flooding", assess(98, 100), "It is flooding already."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, StatusLine(tt.a), tt.want)
		})
	}
}

func TestGuidanceIncludesEstimate(t *testing.T) {
	// 60 -> 65 over five minutes: one point per minute, fifteen minutes to 80.
	text := Guidance(assess(60, 65))

	assert.Contains(t, text, "Prepare for potential evacuation.")
	assert.Contains(t, text, "reach 80% in about 15 minutes")
	assert.Contains(t, text, "08:20 UTC")
}

func TestGuidanceImproving(t *testing.T) {
	text := Guidance(assess(90, 85))

	assert.Contains(t, text, "fall back below 80% in about 5 minutes")
	assert.Contains(t, text, "in 1 hour it is expected to be near 25.0%")
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt(Request{Assessment: assess(60, 65), Question: "Should I leave now?"})

	assert.Contains(t, prompt, "Current Water Level: 65%")
	assert.Contains(t, prompt, `"level":"60"`)
	assert.Contains(t, prompt, "Assessed Status: Prepare for potential evacuation.")
	assert.Contains(t, prompt, `"Should I leave now?"`)

	noData := BuildPrompt(Request{Assessment: risk.NoData(t0), Question: "Is it safe?"})
	assert.Contains(t, noData, "don't have recent water level information")
}

func TestHumanDuration(t *testing.T) {
	assert.Equal(t, "less than a minute", humanDuration(20*time.Second))
	assert.Equal(t, "1 minute", humanDuration(time.Minute))
	assert.Equal(t, "2 hours", humanDuration(2*time.Hour))
	assert.Equal(t, "1 hour 5 minutes", humanDuration(65*time.Minute))
}

type failingRenderer struct{}

func (failingRenderer) Render(context.Context, Request) (string, error) {
	return "", errors.New("upstream 503")
}

func TestDispatcherFallback(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	d := NewDispatcher(failingRenderer{}, DispatcherOptions{Backend: "gemini", Metrics: m}, zerolog.Nop())

	text, err := d.Advise(context.Background(), Request{Assessment: assess(60, 65)})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGenerationUnavailable)
	assert.Equal(t, DefaultFallback, text)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AdvisoryRenders.WithLabelValues("gemini", "error")))
}

func TestDispatcherTemplate(t *testing.T) {
	d := NewDispatcher(TemplateRenderer{}, DispatcherOptions{Fallback: "offline"}, zerolog.Nop())

	text, err := d.Advise(context.Background(), Request{Assessment: assess(98, 100)})

	require.NoError(t, err)
	assert.Equal(t, "It is flooding already.", text)
	assert.Equal(t, "offline", d.Fallback())
}

func TestGeminiRenderSuccess(t *testing.T) {
	var received geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-1.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]string{{"text": "Prepare "}, {"text": "to leave."}}}},
			},
		})
	}))
	defer srv.Close()

	g := NewGemini(GeminiOptions{APIKey: "secret", BaseURL: srv.URL, Timeout: time.Second, Temperature: 0.9}, zerolog.Nop())
	text, err := g.Render(context.Background(), Request{Assessment: assess(60, 65)})

	require.NoError(t, err)
	assert.Equal(t, "Prepare to leave.", text)
	assert.Equal(t, int64(300), received.GenerationConfig.MaxOutputTokens)
	require.Len(t, received.Contents, 1)
	assert.Contains(t, received.Contents[0].Parts[0].Text, "Prepare for potential evacuation.")
}

func TestGeminiRenderHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"code":429,"message":"quota exceeded"}}`)
	}))
	defer srv.Close()

	g := NewGemini(GeminiOptions{APIKey: "secret", BaseURL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	_, err := g.Render(context.Background(), Request{Assessment: assess(60, 65)})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.NotContains(t, err.Error(), "secret")
}

func TestOpenAIRenderSuccess(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1731657600,
			"model": "gpt-4o",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "Evacuate now."}}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 3, "total_tokens": 13}
		}`)
	}))
	defer srv.Close()

	r := NewOpenAI(OpenAIOptions{APIKey: "sk-test", BaseURL: srv.URL, MaxTokens: 120, Temperature: 0.7, Timeout: time.Second}, zerolog.Nop())
	text, err := r.Render(context.Background(), Request{Assessment: assess(82, 85)})

	require.NoError(t, err)
	assert.Equal(t, "Evacuate now.", text)
	assert.Equal(t, "gpt-4o", body["model"])
	assert.EqualValues(t, 120, body["max_tokens"])
}

func TestAzureRenderUsesDeploymentAndKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openai/deployments/gpt-4/chat/completions", r.URL.Path)
		assert.Equal(t, "2023-03-15-preview", r.URL.Query().Get("api-version"))
		assert.Equal(t, "azure-key", r.Header.Get("api-key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"x","object":"chat.completion","created":1,"model":"gpt-4",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Stay alert."}}]}`)
	}))
	defer srv.Close()

	r := NewAzure(AzureOptions{
		APIKey:     "azure-key",
		Endpoint:   srv.URL,
		Deployment: "gpt-4",
		APIVersion: "2023-03-15-preview",
		Timeout:    time.Second,
	}, zerolog.Nop())
	text, err := r.Render(context.Background(), Request{Assessment: assess(60, 65)})

	require.NoError(t, err)
	assert.Equal(t, "Stay alert.", text)
}
