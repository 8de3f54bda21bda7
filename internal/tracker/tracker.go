// Package tracker reports unexpected server errors to an external error tracker.
package tracker

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

// Reporter receives errors that reached the transport boundary unclassified.
type Reporter interface {
	Report(ctx context.Context, err error, tags map[string]string)
	Flush(timeout time.Duration) bool
}

// Sentry forwards errors to Sentry through its own hub.
type Sentry struct {
	hub *sentry.Hub
	log *zap.Logger
}

// Options configures the Sentry client.
type Options struct {
	DSN         string
	Environment string
	Release     string
}

// NewSentry creates a client bound to a dedicated hub.
func NewSentry(opts Options, log *zap.Logger) (*Sentry, error) {
	return newSentry(sentry.ClientOptions{
		Dsn:              opts.DSN,
		Environment:      opts.Environment,
		Release:          opts.Release,
		AttachStacktrace: true,
	}, log)
}

func newSentry(co sentry.ClientOptions, log *zap.Logger) (*Sentry, error) {
	client, err := sentry.NewClient(co)
	if err != nil {
		return nil, err
	}
	return &Sentry{hub: sentry.NewHub(client, sentry.NewScope()), log: log}, nil
}

// Report captures err with the given tags. Request-scoped tags never leak into other events.
func (s *Sentry) Report(_ context.Context, err error, tags map[string]string) {
	if err == nil {
		return
	}
	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelError)
		scope.SetTags(tags)
		if id := s.hub.CaptureException(err); id != nil {
			s.log.Debug("error reported", zap.String("event_id", string(*id)))
		}
	})
}

// Flush waits for queued events.
func (s *Sentry) Flush(timeout time.Duration) bool { return s.hub.Flush(timeout) }

// Log only writes errors to the logger. Used when no tracker DSN is configured.
type Log struct{ log *zap.Logger }

func NewLog(log *zap.Logger) *Log { return &Log{log: log} }

func (l *Log) Report(_ context.Context, err error, tags map[string]string) {
	fields := []zap.Field{zap.Error(err)}
	for k, v := range tags {
		fields = append(fields, zap.String(k, v))
	}
	l.log.Error("unhandled error", fields...)
}

func (l *Log) Flush(time.Duration) bool { return true }
