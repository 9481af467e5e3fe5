// Package notify delivers human-readable promotion outcomes.
//
// Delivery is best effort: callers log a failed Notify and carry on, the
// write that produced the message has already committed.
package notify

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

type Message struct {
	Subject string
	Text    string
	Fields  map[string]string
	At      time.Time
}

type Notifier interface {
	Notify(ctx context.Context, m Message) error
}

// Nop drops every message.
type Nop struct{}

func (Nop) Notify(context.Context, Message) error { return nil }

// Log writes messages to a zap logger at info level.
type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}
}

func (l *Log) Notify(_ context.Context, m Message) error {
	fields := make([]zap.Field, 0, len(m.Fields)+2)
	fields = append(fields, zap.String("subject", m.Subject), zap.Time("at", m.At))
	for k, v := range m.Fields {
		fields = append(fields, zap.String(k, v))
	}
	l.logger.Info(m.Text, fields...)
	return nil
}

// Multi fans a message out to every notifier. All are attempted; errors are
// joined.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
