//
//  Copyright © Manetu Inc. All rights reserved.
//

package accesslog

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/manetu/zerotrust/pkg/common"
	"github.com/segmentio/kafka-go"
)

// KafkaConfig holds broker settings for the audit topic.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	Timeout time.Duration
}

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaFactory creates streams that produce to a Kafka topic.
type KafkaFactory struct {
	cfg       KafkaConfig
	newWriter func(KafkaConfig) kafkaWriter
}

// KafkaStream produces one message per event, keyed by event id.
type KafkaStream struct {
	writer  kafkaWriter
	timeout time.Duration
}

// NewKafkaFactory validates cfg and returns a factory for it.
func NewKafkaFactory(cfg KafkaConfig) (Factory, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, common.NewError(common.InvalidParam, "kafka brokers required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, common.NewError(common.InvalidParam, "kafka topic required")
	}
	cfg.Brokers = brokers
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	return &KafkaFactory{cfg: cfg, newWriter: newKafkaWriter}, nil
}

// kafkaBatchTimeout bounds the flush of a single audit event.
const kafkaBatchTimeout = 5 * time.Millisecond

func newKafkaWriter(cfg KafkaConfig) kafkaWriter {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    1,
		BatchTimeout: kafkaBatchTimeout,
		WriteTimeout: cfg.Timeout,
		RequiredAcks: kafka.RequireOne,
	}
}

// NewStream creates a new [KafkaStream]. The writer connects lazily.
func (f *KafkaFactory) NewStream() (Stream, error) {
	logger.SysInfof("audit stream to kafka brokers=%s topic=%s", strings.Join(f.cfg.Brokers, ","), f.cfg.Topic)
	return &KafkaStream{writer: f.newWriter(f.cfg), timeout: f.cfg.Timeout}, nil
}

// Send produces the event, bounded by the configured timeout.
func (s *KafkaStream) Send(ev *Event) error {
	if ev == nil {
		return nil
	}

	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.ID),
		Value: value,
		Time:  ev.Timestamp,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
	})
	if err != nil {
		return common.NewErrorf(common.Unavailable, "kafka: %v", err)
	}
	return nil
}

// Close flushes pending messages.
func (s *KafkaStream) Close() {
	if err := s.writer.Close(); err != nil {
		logger.Warnf(agent, "kafka", "closing writer: %v", err)
	}
}
