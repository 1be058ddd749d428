package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"floodwatch/internal/service"
	"floodwatch/internal/storage"
)

type fakeReader struct {
	msgs      []kafkago.Message
	committed []int64
	closed    bool
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafkago.Message, error) {
	if len(f.msgs) == 0 {
		return kafkago.Message{}, io.EOF
	}
	msg := f.msgs[0]
	f.msgs = f.msgs[1:]
	return msg, nil
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafkago.Message) error {
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error {
	f.closed = true
	return nil
}

type fakeIngester struct {
	payloads []storage.ReadingPayload
	failAt   int
	err      error
}

func (f *fakeIngester) Ingest(_ context.Context, p storage.ReadingPayload) (service.IngestResult, error) {
	f.payloads = append(f.payloads, p)
	if f.err != nil && len(f.payloads) == f.failAt {
		return service.IngestResult{}, f.err
	}
	if p.Level == nil {
		return service.IngestResult{}, &storage.ValidationError{Missing: []string{"level"}}
	}
	return service.IngestResult{}, nil
}

func message(offset int64, value string) kafkago.Message {
	return kafkago.Message{Topic: "water-level-readings", Offset: offset, Value: []byte(value)}
}

const validPayload = `{"date":"2024-11-15T12:00:00Z","level":55,"temperature":27,"location":"Marikina"}`

func TestConsumerCommitsValidAndSkipsMalformed(t *testing.T) {
	reader := &fakeReader{msgs: []kafkago.Message{
		message(1, validPayload),
		message(2, `not json`),
		message(3, `{"date":"2024-11-15T12:05:00Z","temperature":27,"location":"Marikina"}`),
		message(4, validPayload),
	}}
	ingester := &fakeIngester{}
	c := newConsumer(reader, ingester, zerolog.Nop())

	err := c.Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []int64{1, 2, 3, 4}, reader.committed)
	assert.Len(t, ingester.payloads, 3)
}

func TestConsumerStopsOnBackendFailure(t *testing.T) {
	reader := &fakeReader{msgs: []kafkago.Message{
		message(10, validPayload),
		message(11, validPayload),
		message(12, validPayload),
	}}
	ingester := &fakeIngester{failAt: 2, err: storage.ErrBackendUnavailable}
	c := newConsumer(reader, ingester, zerolog.Nop())

	err := c.Run(context.Background())

	assert.ErrorIs(t, err, storage.ErrBackendUnavailable)
	assert.Equal(t, []int64{10}, reader.committed)
	require.NoError(t, c.Close())
	assert.True(t, reader.closed)
}

func TestConsumerReturnsContextError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reader := &fakeReader{}
	c := newConsumer(reader, &fakeIngester{}, zerolog.Nop())

	assert.ErrorIs(t, c.Run(ctx), context.Canceled)
}

type fakeWriter struct {
	msgs []kafkago.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return f.err
}

func (f *fakeWriter) Close() error { return nil }

func TestPublisherRoundTripsPayload(t *testing.T) {
	w := &fakeWriter{}
	p := &Publisher{writer: w}
	ts := time.Date(2024, 11, 15, 12, 0, 0, 0, time.UTC)

	err := p.Publish(context.Background(), []storage.Reading{{
		Timestamp:   ts,
		Level:       decimal.NewFromInt(0),
		Temperature: decimal.RequireFromString("26.5"),
		Location:    "Marikina",
	}})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	var payload storage.ReadingPayload
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &payload))
	reading, err := payload.Reading()
	require.NoError(t, err)
	assert.True(t, reading.Timestamp.Equal(ts))
	assert.True(t, reading.Level.IsZero())
	assert.Equal(t, "Marikina", string(w.msgs[0].Headers[0].Value))
}

func TestPublisherPropagatesWriteError(t *testing.T) {
	p := &Publisher{writer: &fakeWriter{err: errors.New("broker down")}}

	err := p.Publish(context.Background(), []storage.Reading{{Timestamp: time.Now(), Location: "x"}})

	assert.Error(t, err)
	assert.NoError(t, p.Publish(context.Background(), nil))
}
