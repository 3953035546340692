// Package kafka publishes new opportunities to a Kafka topic with
// segmentio/kafka-go.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// DefaultTopic receives opportunities when no topic is configured.
const DefaultTopic = "spreadbot.opportunities"

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter creates a batching writer for topic.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           100 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

// EnsureTopic creates topic through the cluster controller unless it
// already exists.
func EnsureTopic(ctx context.Context, brokers []string, topic string, partitions int) error {
	if len(brokers) == 0 {
		return fmt.Errorf("kafka: no brokers configured")
	}
	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("kafka: dial broker %s: %w", brokers[0], err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("kafka: get controller: %w", err)
	}
	ctrlConn, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("kafka: dial controller: %w", err)
	}
	defer ctrlConn.Close()

	if partitions <= 0 {
		partitions = 1
	}
	err = ctrlConn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     partitions,
		ReplicationFactor: 1,
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("kafka: create topic %s: %w", topic, err)
	}
	return nil
}

// Publisher writes each opportunity as a JSON message keyed by pair and
// route, so one route always lands on one partition.
type Publisher struct {
	writer MessageWriter
}

// NewPublisher wraps writer.
func NewPublisher(writer MessageWriter) *Publisher {
	return &Publisher{writer: writer}
}

// Broadcast writes the batch in one call.
func (p *Publisher) Broadcast(ctx context.Context, opps []domain.Opportunity) error {
	if len(opps) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(opps))
	for _, opp := range opps {
		payload, err := json.Marshal(opp)
		if err != nil {
			return fmt.Errorf("kafka: marshal opportunity %s: %w", opp.Pair, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(MessageKey(opp)),
			Value: payload,
			Time:  opp.DetectedAt,
		})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("%w: kafka: write %d messages: %v", domain.ErrDelivery, len(msgs), err)
	}
	return nil
}

// Name returns "kafka".
func (p *Publisher) Name() string { return "kafka" }

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// MessageKey returns "<pair>:<buy>-><sell>".
func MessageKey(opp domain.Opportunity) string {
	return fmt.Sprintf("%s:%s->%s", opp.Pair, opp.BuyExchange, opp.SellExchange)
}
