// Package events publishes domain events (order.created, order.paid, ...)
// to Kafka, or to the log when no brokers are configured.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

type Event struct {
	Topic      string                 `json:"topic"`
	Key        string                 `json:"key"`
	Payload    map[string]interface{} `json:"payload"`
	OccurredAt time.Time              `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// KafkaPublisher writes every event to one writer; the Kafka topic is
// TopicPrefix + event.Topic so each event type gets its own topic.
type KafkaPublisher struct {
	writer      *kafka.Writer
	topicPrefix string
}

func NewKafkaPublisher(brokers []string, topicPrefix string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			MaxAttempts:            5,
			WriteTimeout:           5 * time.Second,
			ReadTimeout:            5 * time.Second,
			BatchTimeout:           50 * time.Millisecond,
			AllowAutoTopicCreation: true,
		},
		topicPrefix: topicPrefix,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	b, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: p.topicPrefix + event.Topic,
		Key:   []byte(event.Key),
		Value: b,
		Time:  event.OccurredAt,
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

type LogPublisher struct {
	logger *logrus.Logger
}

func NewLogPublisher(logger *logrus.Logger) *LogPublisher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	p.logger.WithFields(logrus.Fields{
		"topic":   event.Topic,
		"key":     event.Key,
		"payload": event.Payload,
	}).Info("Domain event")
	return nil
}

func (p *LogPublisher) Close() error {
	return nil
}

// NewPublisher picks Kafka when brokers are configured.
func NewPublisher(brokers []string, topicPrefix string) Publisher {
	if len(brokers) == 0 {
		return NewLogPublisher(nil)
	}
	return NewKafkaPublisher(brokers, topicPrefix)
}
