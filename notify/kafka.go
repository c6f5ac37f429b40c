package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goMFA "github.com/MrEthical07/goMFA"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const defaultWriteTimeout = 5 * time.Second

// ErrKafkaConfig is returned by NewKafkaNotifier for missing brokers or
// topic.
var ErrKafkaConfig = errors.New("notify: kafka brokers and topic required")

// messageWriter is the subset of *kafka.Writer used by KafkaNotifier.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// CodeMessage is the JSON payload published for every code.
type CodeMessage struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	Context   string    `json:"context"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
	SentAt    time.Time `json:"sentAt"`
}

// KafkaNotifier publishes codes to a Kafka topic keyed by user id, so all
// codes for one user land on the same partition in issue order.
type KafkaNotifier struct {
	writer  messageWriter
	logger  *zap.Logger
	timeout time.Duration
	now     func() time.Time
}

var _ goMFA.Notifier = (*KafkaNotifier)(nil)

// NewKafkaNotifier creates a notifier writing to topic. Call Close on
// shutdown.
func NewKafkaNotifier(brokers []string, topic string, logger *zap.Logger) (*KafkaNotifier, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, ErrKafkaConfig
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
	return newKafkaNotifier(writer, logger), nil
}

func newKafkaNotifier(w messageWriter, logger *zap.Logger) *KafkaNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaNotifier{
		writer:  w,
		logger:  logger.Named("notify.kafka"),
		timeout: defaultWriteTimeout,
		now:     time.Now,
	}
}

// SendCode publishes c. The write is bounded by its own timeout in addition
// to ctx.
func (n *KafkaNotifier) SendCode(ctx context.Context, c goMFA.CodeNotification) error {
	if n == nil || n.writer == nil {
		return nil
	}
	payload, err := json.Marshal(CodeMessage{
		UserID:    c.UserID,
		Email:     c.Email,
		Context:   string(c.Context),
		Code:      c.Code,
		ExpiresAt: c.ExpiresAt.UTC(),
		SentAt:    n.now().UTC(),
	})
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	if err := n.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(c.UserID),
		Value: payload,
	}); err != nil {
		n.logger.Warn("kafka publish failed", zap.String("user_id", c.UserID), zap.Error(err))
		return err
	}
	return nil
}

// Close flushes and closes the writer. Safe to call more than once.
func (n *KafkaNotifier) Close() error {
	if n == nil || n.writer == nil {
		return nil
	}
	err := n.writer.Close()
	n.writer = nil
	return err
}
