package trigger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"whatsapp-alert/internal/config"
	"whatsapp-alert/internal/logging"
	"whatsapp-alert/internal/metrics"
)

const defaultKafkaGroup = "whatsapp-alert"

var kafkaLog = logging.WithComponent("kafka")

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSource runs one pass per record consumed from a topic. Offsets are
// committed after the pass, whether or not the record was usable.
type KafkaSource struct {
	reader  messageReader
	invoker *Invoker
	topic   string
}

func NewKafkaSource(cfg config.KafkaConfig, invoker *Invoker) (*KafkaSource, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic is required")
	}
	group := cfg.GroupID
	if group == "" {
		group = defaultKafkaGroup
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        group,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		CommitInterval: 0,
		MaxWait:        time.Second,
	})
	return &KafkaSource{reader: reader, invoker: invoker, topic: cfg.Topic}, nil
}

// Run consumes until ctx is cancelled or the reader fails.
func (s *KafkaSource) Run(ctx context.Context) error {
	kafkaLog.Infof("source consuming topic=%s", s.topic)
	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kafka fetch: %w", err)
		}
		s.handle(ctx, msg)
		if err := s.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			kafkaLog.Warnf("commit offset %d failed: %v", msg.Offset, err)
		}
	}
}

func (s *KafkaSource) handle(ctx context.Context, msg kafka.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			kafkaLog.Errorf("panic handling offset %d: %v", msg.Offset, rec)
			metrics.PanicsRecovered.WithLabelValues("kafka").Inc()
		}
	}()
	if _, err := s.invoker.Payload(ctx, msg.Value, "kafka"); err != nil {
		kafkaLog.Warnf("record partition=%d offset=%d rejected: %v", msg.Partition, msg.Offset, err)
	}
}

func (s *KafkaSource) Close() error {
	return s.reader.Close()
}
