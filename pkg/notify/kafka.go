package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// Message is one notification event; downstream workers turn these into
// SMS/email/WhatsApp deliveries (delivery rules are their concern, not the
// gateway's).
type Message struct {
	Kind     string    `json:"kind"`
	TenantID string    `json:"tenant_id,omitempty"`
	OwnerID  string    `json:"owner_id,omitempty"`
	Subject  string    `json:"subject"`
	Body     string    `json:"body,omitempty"`
	At       time.Time `json:"at"`
}

const (
	KindPaymentRecorded = "payment.recorded"
	KindInvoiceIssued   = "invoice.issued"
	KindDuesReminder    = "dues.reminder"
)

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// KafkaPublisher emits notification events to a Kafka topic.
type KafkaPublisher struct {
	writer kafkaWriter
}

func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		trimmed := strings.TrimSpace(b)
		if trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("kafka topic required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaPublisher{writer: w}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, msg Message) error {
	if p == nil || p.writer == nil {
		return fmt.Errorf("kafka publisher not initialized")
	}
	if msg.At.IsZero() {
		msg.At = time.Now().UTC()
	}
	value, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	key := msg.TenantID
	if key == "" {
		key = msg.OwnerID
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
	})
}

func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
