// Package ingest moves water-level readings between Kafka and the service.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"

	"floodwatch/internal/config"
	"floodwatch/internal/logging"
	"floodwatch/internal/service"
	"floodwatch/internal/storage"
)

// Ingester stores one reading payload.
type Ingester interface {
	Ingest(ctx context.Context, payload storage.ReadingPayload) (service.IngestResult, error)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Consumer reads ReadingPayload JSON messages and ingests them.
type Consumer struct {
	reader   messageReader
	ingester Ingester
	logger   zerolog.Logger
}

// NewConsumer builds a consumer-group reader for cfg.Topic.
func NewConsumer(cfg config.KafkaConfig, ingester Ingester, logger zerolog.Logger) *Consumer {
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 1 << 20,
		MaxWait:  time.Second,
	})
	return newConsumer(reader, ingester, logger)
}

func newConsumer(reader messageReader, ingester Ingester, logger zerolog.Logger) *Consumer {
	return &Consumer{
		reader:   reader,
		ingester: ingester,
		logger:   logging.Component(logger, "kafka_consumer"),
	}
}

// Run consumes until ctx is cancelled or a backend failure occurs. Malformed
// messages are committed and skipped; a message whose ingest fails on the
// backend is left uncommitted so it is redelivered.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		log := c.logger.With().
			Str("topic", msg.Topic).
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Logger()

		var payload storage.ReadingPayload
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			log.Warn().Err(err).Msg("skipping undecodable reading message")
			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				return fmt.Errorf("commit message: %w", err)
			}
			continue
		}

		if _, err := c.ingester.Ingest(ctx, payload); err != nil {
			if !errors.Is(err, storage.ErrValidation) {
				log.Error().Err(err).Msg("ingest failed; stopping consumer")
				return fmt.Errorf("ingest message: %w", err)
			}
			log.Warn().Err(err).Msg("skipping invalid reading message")
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("commit message: %w", err)
		}
	}
}

// Close releases the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher produces readings onto the ingestion topic.
type Publisher struct {
	writer messageWriter
}

// NewPublisher creates a producer for cfg.Topic.
func NewPublisher(cfg config.KafkaConfig) *Publisher {
	return &Publisher{writer: &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}}
}

// Publish writes readings in a single batch keyed by timestamp.
func (p *Publisher) Publish(ctx context.Context, readings []storage.Reading) error {
	if len(readings) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(readings))
	for i, r := range readings {
		msg, err := readingMessage(r)
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	return p.writer.WriteMessages(ctx, msgs...)
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

func readingMessage(r storage.Reading) (kafkago.Message, error) {
	level, temp := r.Level, r.Temperature
	data, err := json.Marshal(storage.ReadingPayload{
		Date:        r.Timestamp.UTC().Format(time.RFC3339Nano),
		Level:       &level,
		Temperature: &temp,
		Location:    r.Location,
	})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize reading: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(r.Timestamp.UTC().Format(time.RFC3339Nano)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "location", Value: []byte(r.Location)},
		},
	}, nil
}
