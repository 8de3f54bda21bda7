// Package notify delivers password reset codes to the out-of-band mail pipeline.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPasswordReset is the type of events asking the mailer to send a reset code.
const EventPasswordReset = "user.password_reset_requested"

// Notifier sends a reset code to the owner of an email address.
type Notifier interface {
	SendResetCode(ctx context.Context, email, code string) error
}

// ResetEvent is the message body consumed by the mailer.
type ResetEvent struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Email     string    `json:"email"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
	Time      time.Time `json:"time"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes reset events to a topic.
type Kafka struct {
	w        messageWriter
	codeTTL  time.Duration
	log      *zap.Logger
	now      func() time.Time
	deadline time.Duration
}

// NewKafka builds a synchronous publisher for the given brokers and topic.
func NewKafka(brokers []string, topic string, codeTTL time.Duration, log *zap.Logger) *Kafka {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}
	return newKafka(w, codeTTL, log)
}

func newKafka(w messageWriter, codeTTL time.Duration, log *zap.Logger) *Kafka {
	return &Kafka{w: w, codeTTL: codeTTL, log: log, now: time.Now, deadline: 10 * time.Second}
}

// SendResetCode publishes one event keyed by email so events for an address stay ordered.
func (k *Kafka) SendResetCode(ctx context.Context, email, code string) error {
	id, err := uuid.NewV4()
	if err != nil {
		return err
	}
	now := k.now().UTC()
	body, err := json.Marshal(ResetEvent{
		ID:        id.String(),
		Type:      EventPasswordReset,
		Email:     email,
		Code:      code,
		ExpiresAt: now.Add(k.codeTTL),
		Time:      now,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, k.deadline)
	defer cancel()
	err = k.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(email),
		Value: body,
		Time:  now,
		Headers: []kafka.Header{
			{Key: "ce_id", Value: []byte(id.String())},
			{Key: "ce_type", Value: []byte(EventPasswordReset)},
		},
	})
	if err != nil {
		k.log.Error("publish reset event failed", zap.String("event_id", id.String()), zap.Error(err))
		return fmt.Errorf("publish reset event: %w", err)
	}
	k.log.Debug("reset event published", zap.String("event_id", id.String()))
	return nil
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error { return k.w.Close() }

// Log is a development notifier that only records that a code was issued.
type Log struct{ log *zap.Logger }

// NewLog returns a notifier writing to log.
func NewLog(log *zap.Logger) *Log { return &Log{log: log} }

// SendResetCode logs the event. The code itself is written only at debug level.
func (l *Log) SendResetCode(_ context.Context, email, code string) error {
	l.log.Info("password reset requested", zap.Int("email_len", len(email)))
	l.log.Debug("password reset code", zap.String("email", email), zap.String("code", code))
	return nil
}
