package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Submitter accepts messages consumed from Kafka, blocking while the local queue is full.
type Submitter interface {
	Submit(ctx context.Context, msg Message) error
}

// KafkaQueue makes Kafka the queue between Enqueue and the worker pool:
// Enqueue publishes, Run consumes with a consumer group and submits to the
// local pool, committing offsets only after the message is queued.
type KafkaQueue struct {
	writer *kafka.Writer
	reader *kafka.Reader
	sink   Submitter
	log    *slog.Logger
}

func NewKafkaQueue(cfg KafkaConfig, sink Submitter, log *slog.Logger) *KafkaQueue {
	if log == nil {
		log = slog.Default()
	}
	return &KafkaQueue{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic,
			Balancer:               &kafka.Hash{},
			MaxAttempts:            3,
			RequiredAcks:           kafka.RequireOne,
			WriteTimeout:           10 * time.Second,
			AllowAutoTopicCreation: true,
		},
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    cfg.Topic,
			GroupID:  cfg.GroupID,
			MinBytes: 1,
			MaxBytes: 1 << 20,
			MaxWait:  time.Second,
		}),
		sink: sink,
		log:  log,
	}
}

// Enqueue publishes msg keyed by address so one recipient's messages stay ordered.
func (q *KafkaQueue) Enqueue(ctx context.Context, msg Message) error {
	msg, err := prepare(msg)
	if err != nil {
		return err
	}
	b, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	if err := q.writer.WriteMessages(ctx, kafka.Message{Key: []byte(msg.Address), Value: b, Time: time.Now().UTC()}); err != nil {
		return fmt.Errorf("dispatch: kafka publish: %w", err)
	}
	return nil
}

// Run consumes until ctx is cancelled.
func (q *KafkaQueue) Run(ctx context.Context) error {
	q.log.Info("dispatch.kafka.consumer.started", "topic", q.reader.Config().Topic, "group", q.reader.Config().GroupID)
	for {
		m, err := q.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			q.log.Error("dispatch.kafka.fetch.fail", "err", err)
			if err := sleepCtx(ctx, time.Second); err != nil {
				return nil
			}
			continue
		}

		msg, err := decodeMessage(m.Value)
		if err != nil {
			// Poison message: skip it so the partition keeps moving.
			q.log.Error("dispatch.kafka.decode.fail", "err", err, "offset", m.Offset, "partition", m.Partition)
		} else if err := q.sink.Submit(ctx, msg); err != nil {
			// Not committed: redelivered to the group after restart.
			return nil
		}

		if err := q.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			q.log.Error("dispatch.kafka.commit.fail", "err", err, "offset", m.Offset)
		}
	}
}

func (q *KafkaQueue) Close() error {
	return errors.Join(q.writer.Close(), q.reader.Close())
}

func encodeMessage(msg Message) ([]byte, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("dispatch: encode: %w", err)
	}
	return b, nil
}

func decodeMessage(b []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(b, &msg); err != nil {
		return Message{}, fmt.Errorf("dispatch: decode: %w", err)
	}
	if err := msg.validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}
