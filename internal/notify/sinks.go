package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/attest/internal/config"
)

// LogSink writes events to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink. A nil logger means slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Deliver implements Sink.
func (s *LogSink) Deliver(ctx context.Context, ev Event) error {
	s.logger.InfoContext(ctx, "ledger event",
		"id", ev.ID,
		"type", ev.Type,
		"ledger", ev.Ledger,
		"time", ev.Time,
	)
	return nil
}

// StreamClient is the subset of the Redis client used by RedisSink.
type StreamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisSink appends events to a Redis stream.
type RedisSink struct {
	client StreamClient
	stream string
	maxLen int64
}

// NewRedisSink creates a sink writing to stream. maxLen > 0 caps the stream
// length approximately.
func NewRedisSink(client StreamClient, stream string, maxLen int64) *RedisSink {
	return &RedisSink{client: client, stream: stream, maxLen: maxLen}
}

// Deliver implements Sink.
func (s *RedisSink) Deliver(ctx context.Context, ev Event) error {
	args, err := s.args(ev)
	if err != nil {
		return err
	}
	return s.client.XAdd(ctx, args).Err()
}

func (s *RedisSink) args(ev Event) (*redis.XAddArgs, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"id":     ev.ID,
			"type":   string(ev.Type),
			"ledger": ev.Ledger,
			"event":  string(data),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	return args, nil
}

// Close closes the underlying client if it is closable.
func (s *RedisSink) Close() error {
	if c, ok := s.client.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// FromConfig builds a Notifier from cfg. The caller must Close it.
func FromConfig(cfg config.NotifyConfig, logger *slog.Logger) (*Notifier, error) {
	var sinks []Sink
	if cfg.Log {
		sinks = append(sinks, NewLogSink(logger))
	}
	if cfg.OutboxPath != "" {
		outbox, err := OpenOutbox(cfg.OutboxPath)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, outbox)
	}
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		sinks = append(sinks, NewRedisSink(client, cfg.Redis.Stream, cfg.Redis.MaxLen))
	}
	return New(sinks...), nil
}

// Close closes every sink that holds resources.
func (m *Notifier) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %T: %w", s, err))
			}
		}
	}
	return errors.Join(errs...)
}
