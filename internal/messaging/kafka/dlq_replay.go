package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

const (
	defaultReplayLimit       = 100
	defaultReplayIdleTimeout = 2 * time.Second
)

var errNotDeadLetter = errors.New("message is not an outbox dead letter")

// DeadLetter — содержимое payload сообщения в DLQ: исходное событие и причина отказа.
type DeadLetter struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publish_error"`
	DLQPublishedAt string          `json:"dlq_published_at"`
}

// OffsetReader — часть sarama.Client, нужная для определения границ партиций.
type OffsetReader interface {
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partition int32, time int64) (int64, error)
}

// PartitionConsumer — часть sarama.PartitionConsumer, которую читает Replayer.
type PartitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

// PartitionSource открывает чтение партиции.
type PartitionSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (PartitionConsumer, error)
}

// ReplayOptions ограничивают проход по DLQ.
type ReplayOptions struct {
	SourceTopic string
	Limit       int
	IdleTimeout time.Duration
	FromNewest  bool
	// DryRun только логирует кандидатов на повтор.
	DryRun bool
}

// ReplayStats — итог прохода.
type ReplayStats struct {
	Processed int
	Replayed  int
	Skipped   int
}

// Replayer перечитывает DLQ и публикует исходные события заново.
type Replayer struct {
	offsets OffsetReader
	source  PartitionSource
	target  domain.OutboxPublisher
	logger  *log.Entry
}

// NewReplayer собирает Replayer из готовых зависимостей.
func NewReplayer(offsets OffsetReader, source PartitionSource, target domain.OutboxPublisher, logger *log.Entry) *Replayer {
	if logger == nil {
		logger = log.WithField("component", "dlq-replay")
	}
	return &Replayer{offsets: offsets, source: source, target: target, logger: logger}
}

type saramaSource struct {
	consumer sarama.Consumer
}

func (s saramaSource) ConsumePartition(topic string, partition int32, offset int64) (PartitionConsumer, error) {
	pc, err := s.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

// DialReplayer подключается к брокерам. Возвращаемая функция закрывает все подключения.
func DialReplayer(brokers []string, clientID, targetTopic string, logger *log.Entry) (*Replayer, func() error, error) {
	cfg := sarama.NewConfig()
	if clientID != "" {
		cfg.ClientID = clientID
	}
	cfg.Consumer.Return.Errors = true

	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	producer, err := NewProducer(brokers, clientID)
	if err != nil {
		_ = consumer.Close()
		_ = client.Close()
		return nil, nil, err
	}

	closeFn := func() error {
		return errors.Join(producer.Close(), consumer.Close(), client.Close())
	}
	replayer := NewReplayer(client, saramaSource{consumer: consumer}, NewOutboxPublisher(producer, targetTopic), logger)
	return replayer, closeFn, nil
}

// Replay проходит партиции по возрастанию номера, пока не обработает Limit сообщений
// или не дойдёт до конца каждой партиции.
func (r *Replayer) Replay(ctx context.Context, opts ReplayOptions) (ReplayStats, error) {
	if opts.SourceTopic == "" {
		opts.SourceTopic = TopicDeadLetterQueue
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultReplayLimit
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultReplayIdleTimeout
	}
	if !opts.DryRun && r.target == nil {
		return ReplayStats{}, errors.New("replay target publisher is required")
	}

	partitions, err := r.offsets.Partitions(opts.SourceTopic)
	if err != nil {
		return ReplayStats{}, fmt.Errorf("list partitions of %s: %w", opts.SourceTopic, err)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	var total ReplayStats
	for _, partition := range partitions {
		remaining := opts.Limit - total.Processed
		if remaining <= 0 {
			break
		}
		stats, err := r.replayPartition(ctx, opts, partition, remaining)
		total.Processed += stats.Processed
		total.Replayed += stats.Replayed
		total.Skipped += stats.Skipped
		if err != nil {
			return total, err
		}
	}

	r.logger.WithFields(log.Fields{
		"dry_run":   opts.DryRun,
		"processed": total.Processed,
		"replayed":  total.Replayed,
		"skipped":   total.Skipped,
	}).Info("dlq replay finished")
	return total, nil
}

func (r *Replayer) replayPartition(ctx context.Context, opts ReplayOptions, partition int32, limit int) (ReplayStats, error) {
	var stats ReplayStats

	oldest, err := r.offsets.GetOffset(opts.SourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("oldest offset of partition %d: %w", partition, err)
	}
	newest, err := r.offsets.GetOffset(opts.SourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("newest offset of partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	start := oldest
	if opts.FromNewest {
		start = max(newest-int64(limit), oldest)
	}

	pc, err := r.source.ConsumePartition(opts.SourceTopic, partition, start)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(opts.IdleTimeout)
	defer idle.Stop()

	for stats.Processed < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-idle.C:
			return stats, nil
		case cerr := <-pc.Errors():
			if cerr != nil {
				return stats, fmt.Errorf("partition %d: %w", partition, cerr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil {
				return stats, nil
			}
			// Сообщения, записанные после старта прохода, не трогаем.
			if msg.Offset >= newest {
				return stats, nil
			}
			idle.Reset(opts.IdleTimeout)

			stats.Processed++
			replayed, err := r.replayMessage(ctx, msg, opts.DryRun)
			if err != nil {
				return stats, err
			}
			if replayed {
				stats.Replayed++
			} else {
				stats.Skipped++
			}
			if msg.Offset+1 >= newest {
				return stats, nil
			}
		}
	}
	return stats, nil
}

func (r *Replayer) replayMessage(ctx context.Context, msg *sarama.ConsumerMessage, dryRun bool) (bool, error) {
	entry := r.logger.WithFields(log.Fields{
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	event, err := DecodeDeadLetter(msg.Value)
	if err != nil {
		entry.WithError(err).Warn("skip unsupported dlq message")
		return false, nil
	}
	entry = entry.WithFields(log.Fields{
		"outbox_id":  event.ID,
		"event_type": event.EventType,
		"order_id":   event.AggregateID,
	})

	if dryRun {
		entry.Info("dlq replay candidate")
		return true, nil
	}
	if err := r.target.Publish(ctx, event); err != nil {
		return false, fmt.Errorf("replay outbox event %s: %w", event.ID, err)
	}
	entry.Debug("dlq event replayed")
	return true, nil
}

// DecodeDeadLetter восстанавливает исходное outbox-событие из сообщения DLQ.
func DecodeDeadLetter(value []byte) (domain.OutboxMessage, error) {
	var envelope Envelope
	if err := json.Unmarshal(value, &envelope); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("%w: %w", errNotDeadLetter, err)
	}
	if len(envelope.Payload) == 0 || string(envelope.Payload) == "null" {
		return domain.OutboxMessage{}, errNotDeadLetter
	}

	var dead DeadLetter
	if err := json.Unmarshal(envelope.Payload, &dead); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("%w: %w", errNotDeadLetter, err)
	}
	if len(dead.Payload) == 0 || dead.PublishError == "" {
		return domain.OutboxMessage{}, errNotDeadLetter
	}

	return domain.OutboxMessage{
		ID:            firstNonEmpty(dead.OutboxID, envelope.ID),
		AggregateType: firstNonEmpty(dead.AggregateType, envelope.AggregateType),
		AggregateID:   firstNonEmpty(dead.AggregateID, envelope.AggregateID),
		EventType:     firstNonEmpty(dead.EventType, envelope.EventType),
		Payload:       []byte(dead.Payload),
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
