package bus

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/JiHungLin/skalds/pkg/log"
)

// Topic names for the control plane
const (
	TopicTaskAssign           = "task.assign"
	TopicTaskCancel           = "task.cancel"
	TopicTaskUpdateAttachment = "task.update.attachment"
	TopicTaskWorkerUpdate     = "taskworker.update"
	TopicTesting              = "testing"
)

// NodeTopics are the topics a node-mode skald consumes
var NodeTopics = []string{
	TopicTaskAssign,
	TopicTaskCancel,
	TopicTaskUpdateAttachment,
	TopicTesting,
}

// EdgeTopics are the topics an edge-mode skald consumes
var EdgeTopics = []string{
	TopicTaskUpdateAttachment,
	TopicTesting,
}

// Config holds message bus connection configuration
type Config struct {
	Addr              string
	GroupID           string
	Partitions        int
	ReplicationFactor int
}

// Message is one record consumed from the bus
type Message struct {
	Topic string
	Key   string
	Value []byte
}

// Producer publishes keyed messages to bus topics. Messages on the same key
// land on the same partition so per-key ordering is preserved.
type Producer interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
	Close() error
}

type kafkaProducer struct {
	writer *kafka.Writer
	logger zerolog.Logger
}

// NewProducer creates a bus producer
func NewProducer(cfg Config) Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Addr),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Compression:  kafka.Gzip,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		MaxAttempts:  3,
	}
	return &kafkaProducer{
		writer: w,
		logger: log.WithComponent("bus-producer"),
	}
}

func (p *kafkaProducer) Publish(ctx context.Context, topic, key string, value []byte) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	p.logger.Debug().Str("topic", topic).Str("key", key).Msg("Published message")
	return nil
}

func (p *kafkaProducer) Close() error {
	return p.writer.Close()
}

// Consumer fans in messages from a set of topics onto a single channel.
// One reader per topic shares the consumer group so partitioned delivery is
// balanced across group members.
type Consumer struct {
	addr    string
	groupID string
	topics  []string
	logger  zerolog.Logger

	readers []*kafka.Reader
	msgCh   chan Message

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewConsumer creates a consumer for the given topics
func NewConsumer(cfg Config, topics []string) *Consumer {
	return &Consumer{
		addr:    cfg.Addr,
		groupID: cfg.GroupID,
		topics:  topics,
		logger:  log.WithComponent("bus-consumer"),
		msgCh:   make(chan Message, 64),
	}
}

// Messages returns the channel consumed messages arrive on. The channel is
// closed after Stop returns.
func (c *Consumer) Messages() <-chan Message {
	return c.msgCh
}

// Start launches one reader goroutine per subscribed topic
func (c *Consumer) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return fmt.Errorf("bus consumer already started")
	}
	c.started = true

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	for _, topic := range c.topics {
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers:     []string{c.addr},
			GroupID:     c.groupID,
			Topic:       topic,
			StartOffset: kafka.LastOffset,
			MinBytes:    1,
			MaxBytes:    10e6,
			MaxWait:     time.Second,
		})
		c.readers = append(c.readers, r)

		c.wg.Add(1)
		go c.readLoop(ctx, r, topic)
	}

	c.logger.Info().Strs("topics", c.topics).Str("group", c.groupID).Msg("Bus consumer started")
	return nil
}

func (c *Consumer) readLoop(ctx context.Context, r *kafka.Reader, topic string) {
	defer c.wg.Done()

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn().Err(err).Str("topic", topic).Msg("Bus read failed, retrying")
			select {
			case <-time.After(5 * time.Second):
				continue
			case <-ctx.Done():
				return
			}
		}

		select {
		case c.msgCh <- Message{Topic: m.Topic, Key: string(m.Key), Value: m.Value}:
		case <-ctx.Done():
			return
		}
	}
}

// Stop shuts down all readers and closes the message channel
func (c *Consumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return
	}
	c.started = false

	c.cancel()
	for _, r := range c.readers {
		if err := r.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to close bus reader")
		}
	}
	c.readers = nil
	c.wg.Wait()
	close(c.msgCh)
}

// EnsureTopics creates the control-plane topics if they do not already exist
func EnsureTopics(cfg Config) error {
	conn, err := kafka.Dial("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to dial bus at %s: %w", cfg.Addr, err)
	}
	defer conn.Close()

	broker, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to resolve bus controller: %w", err)
	}

	ctrl, err := kafka.Dial("tcp", net.JoinHostPort(broker.Host, strconv.Itoa(broker.Port)))
	if err != nil {
		return fmt.Errorf("failed to dial bus controller: %w", err)
	}
	defer ctrl.Close()

	partitions := cfg.Partitions
	if partitions <= 0 {
		partitions = 6
	}
	replication := cfg.ReplicationFactor
	if replication <= 0 {
		replication = 3
	}

	topics := []kafka.TopicConfig{}
	for _, t := range []string{
		TopicTaskAssign,
		TopicTaskCancel,
		TopicTaskUpdateAttachment,
		TopicTaskWorkerUpdate,
		TopicTesting,
	} {
		topics = append(topics, kafka.TopicConfig{
			Topic:             t,
			NumPartitions:     partitions,
			ReplicationFactor: replication,
		})
	}

	if err := ctrl.CreateTopics(topics...); err != nil {
		return fmt.Errorf("failed to create bus topics: %w", err)
	}
	return nil
}
