package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"floodwatch/internal/advisory"
	"floodwatch/internal/storage"
)

const (
	msgAdded        = "Data added successfully"
	msgTableCreated = "Table created"
	msgMissing      = "Missing required fields"
	msgInternal     = "Internal Server Error"
	msgPrompt       = "Prompt is required."
	maxBodyBytes    = 1 << 20
)

type apiHandlers struct {
	backend Backend
	logger  zerolog.Logger
}

func (h *apiHandlers) hello(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "Hello World!")
}

func (h *apiHandlers) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *apiHandlers) readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.backend.Ping(r.Context()); err != nil {
		h.logFailure(r, err, "readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *apiHandlers) ingest(w http.ResponseWriter, r *http.Request) {
	var payload storage.ReadingPayload
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&payload); err != nil {
		h.logger.Debug().Err(err).Str("request_id", requestIDFrom(r.Context())).Msg("undecodable reading payload")
		writeText(w, http.StatusBadRequest, msgMissing)
		return
	}

	result, err := h.backend.Ingest(r.Context(), payload)
	switch {
	case errors.Is(err, storage.ErrValidation):
		h.logger.Debug().Err(err).Str("request_id", requestIDFrom(r.Context())).Msg("reading rejected")
		writeText(w, http.StatusBadRequest, msgMissing)
	case err != nil:
		h.logFailure(r, err, "ingest failed")
		writeText(w, http.StatusInternalServerError, msgInternal)
	case result.TableCreated:
		writeText(w, http.StatusCreated, msgTableCreated)
	default:
		writeText(w, http.StatusCreated, msgAdded)
	}
}

func (h *apiHandlers) latest(w http.ResponseWriter, r *http.Request) {
	reading, err := h.backend.Latest(r.Context())
	switch {
	case errors.Is(err, storage.ErrNoData):
		writeJSON(w, http.StatusOK, map[string]int{"data": 0})
	case err != nil:
		h.logFailure(r, err, "latest query failed")
		writeText(w, http.StatusInternalServerError, msgInternal)
	default:
		writeJSON(w, http.StatusOK, reading)
	}
}

func (h *apiHandlers) month(w http.ResponseWriter, r *http.Request) {
	readings, err := h.backend.Month(r.Context())
	h.writeReadings(w, r, readings, err)
}

func (h *apiHandlers) last24(w http.ResponseWriter, r *http.Request) {
	readings, err := h.backend.LastHours(r.Context(), 24)
	h.writeReadings(w, r, readings, err)
}

func (h *apiHandlers) byHours(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("hours"))
	if raw == "" {
		readings, err := h.backend.All(r.Context())
		h.writeReadings(w, r, readings, err)
		return
	}

	hours, err := strconv.Atoi(raw)
	if err != nil || hours <= 0 {
		writeText(w, http.StatusBadRequest, "Invalid hours parameter")
		return
	}
	readings, err := h.backend.LastHours(r.Context(), hours)
	h.writeReadings(w, r, readings, err)
}

func (h *apiHandlers) writeReadings(w http.ResponseWriter, r *http.Request, readings []storage.Reading, err error) {
	if err != nil {
		h.logFailure(r, err, "range query failed")
		writeText(w, http.StatusInternalServerError, msgInternal)
		return
	}
	if readings == nil {
		readings = []storage.Reading{}
	}
	writeJSON(w, http.StatusOK, readings)
}

func (h *apiHandlers) assessment(w http.ResponseWriter, r *http.Request) {
	a, err := h.backend.Assess(r.Context())
	if err != nil {
		h.logFailure(r, err, "assessment failed")
		writeText(w, http.StatusInternalServerError, msgInternal)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *apiHandlers) advisory(w http.ResponseWriter, r *http.Request) {
	h.advise(w, r, "")
}

func (h *apiHandlers) query(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Prompt string `json:"prompt"`
	}
	_ = json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body)
	if strings.TrimSpace(body.Prompt) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msgPrompt})
		return
	}
	h.advise(w, r, body.Prompt)
}

// advise writes the rendered advisory. Generation failures still answer 200
// with the fallback text.
func (h *apiHandlers) advise(w http.ResponseWriter, r *http.Request, question string) {
	text, a, err := h.backend.Advise(r.Context(), question)
	if err != nil {
		if !errors.Is(err, advisory.ErrGenerationUnavailable) {
			h.logFailure(r, err, "advisory failed")
			writeText(w, http.StatusInternalServerError, msgInternal)
			return
		}
		h.logger.Warn().Err(err).
			Str("request_id", requestIDFrom(r.Context())).
			Str("tier", a.Tier.String()).
			Msg("advisory generation unavailable; serving fallback")
	}
	writeText(w, http.StatusOK, text)
}

func (h *apiHandlers) logFailure(r *http.Request, err error, msg string) {
	h.logger.Error().Err(err).
		Str("request_id", requestIDFrom(r.Context())).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Msg(msg)
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
