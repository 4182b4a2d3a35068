package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/dmitrijs2005/pricealert/internal/common"
	"github.com/dmitrijs2005/pricealert/internal/server/models"
	"github.com/segmentio/kafka-go"
)

const defaultPollTimeout = 500 * time.Millisecond

// messageReader is the part of *kafka.Reader the transport uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// lagReader reports how many messages the group has not committed yet.
type lagReader interface {
	Lag(group, topic string) (int64, error)
	Close() error
}

type KafkaOptions struct {
	Brokers     []string
	Topic       string
	GroupID     string
	PollTimeout time.Duration
}

// KafkaTransport publishes with a sarama sync producer and consumes with a
// kafka-go group reader. A fetched message is committed before it is
// handed to the caller.
type KafkaTransport struct {
	producer    sarama.SyncProducer
	reader      messageReader
	lag         lagReader
	topic       string
	group       string
	pollTimeout time.Duration
}

func NewKafkaTransport(opts KafkaOptions) (*KafkaTransport, error) {
	if len(opts.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: %w: no brokers", common.ErrorValidation)
	}
	if opts.Topic == "" {
		opts.Topic = DefaultQueueName
	}

	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	client, err := sarama.NewClient(opts.Brokers, cfg)
	if err != nil {
		return nil, transient("kafka client", err)
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, transient("kafka producer", err)
	}
	lag, err := newSaramaLag(client)
	if err != nil {
		_ = producer.Close()
		_ = client.Close()
		return nil, transient("kafka admin", err)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  opts.Brokers,
		Topic:    opts.Topic,
		GroupID:  opts.GroupID,
		MinBytes: 1,
		MaxBytes: 1 << 20,
		MaxWait:  100 * time.Millisecond,
	})

	return newKafkaTransport(producer, reader, lag, opts), nil
}

func newKafkaTransport(p sarama.SyncProducer, r messageReader, l lagReader, opts KafkaOptions) *KafkaTransport {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = defaultPollTimeout
	}
	if opts.Topic == "" {
		opts.Topic = DefaultQueueName
	}
	return &KafkaTransport{
		producer:    p,
		reader:      r,
		lag:         l,
		topic:       opts.Topic,
		group:       opts.GroupID,
		pollTimeout: opts.PollTimeout,
	}
}

func (t *KafkaTransport) Publish(ctx context.Context, ev *models.PriceEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := Encode(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: t.topic,
		Key:   sarama.StringEncoder(ev.FlightID),
		Value: sarama.ByteEncoder(payload),
	}
	if _, _, err := t.producer.SendMessage(msg); err != nil {
		return transient("publish", err)
	}
	return nil
}

// TryConsume waits at most the poll timeout for a message. An empty poll
// returns nil, nil.
func (t *KafkaTransport) TryConsume(ctx context.Context) (*models.PriceEvent, error) {
	pollCtx, cancel := context.WithTimeout(ctx, t.pollTimeout)
	defer cancel()

	msg, err := t.reader.FetchMessage(pollCtx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, transient("fetch", err)
	}

	if err := t.reader.CommitMessages(ctx, msg); err != nil {
		return nil, transient("commit", err)
	}

	return Decode(msg.Value)
}

func (t *KafkaTransport) QueueDepth(ctx context.Context, queueName string) (int64, error) {
	if queueName != t.topic {
		return 0, fmt.Errorf("queue %q: %w", queueName, common.ErrorNotFound)
	}
	n, err := t.lag.Lag(t.group, t.topic)
	if err != nil {
		return 0, transient("queue depth", err)
	}
	return n, nil
}

func (t *KafkaTransport) Close() error {
	return errors.Join(t.reader.Close(), t.producer.Close(), t.lag.Close())
}

type saramaLag struct {
	client sarama.Client
	admin  sarama.ClusterAdmin
}

func newSaramaLag(client sarama.Client) (*saramaLag, error) {
	admin, err := sarama.NewClusterAdminFromClient(client)
	if err != nil {
		return nil, err
	}
	return &saramaLag{client: client, admin: admin}, nil
}

func (s *saramaLag) Lag(group, topic string) (int64, error) {
	partitions, err := s.client.Partitions(topic)
	if err != nil {
		return 0, err
	}
	committed, err := s.admin.ListConsumerGroupOffsets(group, map[string][]int32{topic: partitions})
	if err != nil {
		return 0, err
	}

	var total int64
	for _, p := range partitions {
		newest, err := s.client.GetOffset(topic, p, sarama.OffsetNewest)
		if err != nil {
			return 0, err
		}
		from := int64(-1)
		if block := committed.GetBlock(topic, p); block != nil {
			from = block.Offset
		}
		if from < 0 {
			if from, err = s.client.GetOffset(topic, p, sarama.OffsetOldest); err != nil {
				return 0, err
			}
		}
		if newest > from {
			total += newest - from
		}
	}
	return total, nil
}

// Close releases the admin, which also closes the shared client.
func (s *saramaLag) Close() error {
	return s.admin.Close()
}
