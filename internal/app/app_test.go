package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"floodwatch/internal/config"
	"floodwatch/internal/storage"
)

var now = time.Date(2024, 11, 15, 12, 0, 0, 0, time.UTC)

const sampleCSV = `date,level,temperature,location
2024-11-15T11:40:00Z,55,27.1,Marikina
2024-11-15T11:50:00Z,60,27.0,Marikina
2024-11-15T12:00:00Z,65.5,26.8,Marikina
2024-11-15T12:00:00Z,,26.8,Marikina
`

func newTestApp(t *testing.T, extraYAML string) (*App, *bytes.Buffer, string) {
	t.Helper()
	dir := t.TempDir()
	yaml := fmt.Sprintf("database:\n  driver: sqlite\n  sqlite_path: %s\n%s", filepath.Join(dir, "fw.db"), extraYAML)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	a := NewApp(cfg, zerolog.Nop())
	a.Clock = clockwork.NewFakeClockAt(now)
	out := &bytes.Buffer{}
	a.Out = out
	return a, out, dir
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestBackfillThenShow(t *testing.T) {
	a, out, dir := newTestApp(t, "")
	ctx := context.Background()

	require.NoError(t, a.Backfill(ctx, BackfillOptions{File: writeFile(t, dir, "in.csv", sampleCSV)}))
	assert.Contains(t, out.String(), "3 readings stored, 1 rejected, 0 failed")

	out.Reset()
	require.NoError(t, a.Show(ctx, ShowOptions{Limit: 2}))
	text := out.String()

	assert.Contains(t, text, "Time (UTC)")
	assert.NotContains(t, text, "2024-11-15T11:40:00Z")
	assert.Contains(t, text, "2024-11-15T11:50:00Z")
	assert.Contains(t, text, "65.5")
	assert.Contains(t, text, "PREPARE")
	assert.Contains(t, text, "rising")
}

func TestBackfillDryRunWritesNothing(t *testing.T) {
	a, out, dir := newTestApp(t, "")
	ctx := context.Background()

	require.NoError(t, a.Backfill(ctx, BackfillOptions{File: writeFile(t, dir, "in.csv", sampleCSV), DryRun: true}))
	assert.Contains(t, out.String(), "3 readings valid, 1 rejected (dry run)")

	out.Reset()
	require.NoError(t, a.Show(ctx, ShowOptions{}))
	assert.Contains(t, out.String(), "no readings found")
}

func TestBackfillRejectsBadHeader(t *testing.T) {
	a, _, dir := newTestApp(t, "")

	err := a.Backfill(context.Background(), BackfillOptions{File: writeFile(t, dir, "bad.csv", "when,level\n2024-11-15T12:00:00Z,1\n")})

	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing column "date"`)
}

func TestBackfillPublishRequiresKafka(t *testing.T) {
	a, _, dir := newTestApp(t, "")

	err := a.Backfill(context.Background(), BackfillOptions{File: writeFile(t, dir, "in.csv", sampleCSV), Publish: true})

	assert.ErrorContains(t, err, "kafka is not enabled")
}

func TestExportCSVAndPNG(t *testing.T) {
	a, _, dir := newTestApp(t, "")
	ctx := context.Background()
	require.NoError(t, a.Backfill(ctx, BackfillOptions{File: writeFile(t, dir, "in.csv", sampleCSV)}))

	csvPath := filepath.Join(dir, "out", "levels.csv")
	pngPath := filepath.Join(dir, "out", "levels.png")
	require.NoError(t, a.Export(ctx, ExportOptions{CSVPath: csvPath, PNGPath: pngPath}))

	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, csvHeader, records[0])
	assert.Equal(t, []string{"2024-11-15T12:00:00Z", "65.5", "26.8", "Marikina"}, records[3])

	info, err := os.Stat(pngPath)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestExportValidatesOptions(t *testing.T) {
	a, _, _ := newTestApp(t, "")
	ctx := context.Background()

	assert.Error(t, a.Export(ctx, ExportOptions{}))

	from, to := now, now.Add(-time.Hour)
	assert.ErrorContains(t, a.Export(ctx, ExportOptions{CSVPath: "x.csv", From: &from, To: &to}), "from must be before to")
}

func TestDownsampleReadings(t *testing.T) {
	readings := make([]storage.Reading, 10)
	for i := range readings {
		readings[i] = storage.Reading{Timestamp: now.Add(time.Duration(i) * time.Minute), Level: decimal.NewFromInt(int64(i))}
	}

	out := downsampleReadings(readings, 4)
	require.Len(t, out, 4)
	assert.Equal(t, "0", out[0].Level.String())
	assert.Equal(t, "9", out[3].Level.String())

	assert.Len(t, downsampleReadings(readings, 0), 10)
	assert.Len(t, downsampleReadings(readings, 20), 10)
}

func TestMigrate(t *testing.T) {
	a, out, _ := newTestApp(t, "")
	ctx := context.Background()

	require.NoError(t, a.Migrate(ctx))
	assert.Contains(t, out.String(), `table "waterlevel" created`)

	out.Reset()
	require.NoError(t, a.Migrate(ctx))
	assert.Contains(t, out.String(), "already present")
}

func TestAssessJSON(t *testing.T) {
	a, out, dir := newTestApp(t, "")
	ctx := context.Background()
	require.NoError(t, a.Backfill(ctx, BackfillOptions{File: writeFile(t, dir, "in.csv", sampleCSV)}))

	out.Reset()
	require.NoError(t, a.Assess(ctx, AssessOptions{JSON: true}))

	var got struct {
		Assessment struct {
			Tier string `json:"tier"`
		} `json:"assessment"`
		Advisory string `json:"advisory"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, "prepare", got.Assessment.Tier)
	assert.Contains(t, got.Advisory, "Prepare for potential evacuation.")
}

func TestSimulateAlertSendsTelegram(t *testing.T) {
	var text string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		text = body["text"]
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	extra := fmt.Sprintf(`alerting:
  enabled: true
  telegram:
    enabled: true
    bot_token: token
    chat_id: chat
    api_base: %s
`, srv.URL)
	a, out, _ := newTestApp(t, extra)

	require.NoError(t, a.SimulateAlert(context.Background(), SimulateOptions{Level: 85, Previous: 70, Step: 5 * time.Minute, Location: "Marikina"}))

	assert.Contains(t, out.String(), "simulated evacuate alert sent (previous prepare, 2 readings assessed)")
	assert.True(t, strings.HasPrefix(text, "[Flood Alert - SIMULATION]"), text)
	assert.Contains(t, text, "Tier: EVACUATE (was prepare)")
	assert.Contains(t, text, "Evacuate immediately due to high danger.")
}

func TestSimulateAlertRequiresAlerting(t *testing.T) {
	a, _, _ := newTestApp(t, "")

	assert.ErrorContains(t, a.SimulateAlert(context.Background(), SimulateOptions{Level: 90}), "alerting is not enabled")
}

func TestSimulateAlertRejectsStepBeyondLookback(t *testing.T) {
	a, _, _ := newTestApp(t, "alerting:\n  enabled: true\n")

	err := a.SimulateAlert(context.Background(), SimulateOptions{Level: 85, Previous: 70, Step: 4 * time.Hour})

	assert.ErrorContains(t, err, "must be shorter than analysis.lookback")
}

func TestSimulateAlertLeavesConfiguredStoreEmpty(t *testing.T) {
	a, out, _ := newTestApp(t, "alerting:\n  enabled: true\n")
	ctx := context.Background()

	require.NoError(t, a.SimulateAlert(ctx, SimulateOptions{Level: 90, Previous: 86, Step: 5 * time.Minute}))
	assert.Contains(t, out.String(), "simulated evacuate alert sent (previous evacuate, 2 readings assessed)")

	out.Reset()
	require.NoError(t, a.Show(ctx, ShowOptions{Limit: 5}))
	assert.Contains(t, out.String(), "no readings found")
}
