// Package publish announces learned patterns on NATS.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/athena/internal/learning"
)

// DefaultSubject is the subject pattern updates are published on.
const DefaultSubject = "athena.patterns.updated"

// HeaderRunID carries the learning run ID on every message.
const HeaderRunID = "Athena-Run-Id"

// DefaultFlushTimeout bounds the server acknowledgement wait when the
// caller's context has no deadline.
const DefaultFlushTimeout = 5 * time.Second

// Event is the payload of a pattern update message.
type Event struct {
	RunID       string             `json:"run_id,omitempty"`
	PublishedAt time.Time          `json:"published_at"`
	Count       int                `json:"count"`
	Validated   int                `json:"validated"`
	Patterns    []learning.Pattern `json:"patterns"`
}

// Publisher is a learning.PatternSink that publishes one Event per run.
type Publisher struct {
	nc           *nats.Conn
	owned        bool
	subject      string
	logger       *zap.Logger
	now          func() time.Time
	flushTimeout time.Duration
}

// Connect dials url and returns a Publisher that owns the connection.
func Connect(url, subject string, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("athena"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	p, err := New(nc, subject, logger)
	if err != nil {
		nc.Close()
		return nil, err
	}
	p.owned = true
	logger.Info("connected to NATS", zap.String("url", url), zap.String("subject", p.subject))
	return p, nil
}

// New wraps an existing connection. The caller keeps ownership of nc.
func New(nc *nats.Conn, subject string, logger *zap.Logger) (*Publisher, error) {
	if nc == nil {
		return nil, errors.New("nats connection cannot be nil")
	}
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{nc: nc, subject: subject, logger: logger, now: time.Now, flushTimeout: DefaultFlushTimeout}, nil
}

// SavePatterns implements learning.PatternSink. It returns once the server
// has acknowledged the message or ctx is done. Without a deadline on ctx
// the flush waits at most DefaultFlushTimeout.
func (p *Publisher) SavePatterns(ctx context.Context, patterns []learning.Pattern) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if patterns == nil {
		patterns = []learning.Pattern{}
	}

	ev := Event{
		RunID:       learning.RunIDFromContext(ctx),
		PublishedAt: p.now().UTC(),
		Count:       len(patterns),
		Patterns:    patterns,
	}
	for _, pat := range patterns {
		if pat.Validated {
			ev.Validated++
		}
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding pattern event: %w", err)
	}

	msg := nats.NewMsg(p.subject)
	msg.Data = data
	if ev.RunID != "" {
		msg.Header.Set(HeaderRunID, ev.RunID)
	}
	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publishing to %s: %w", p.subject, err)
	}
	flushCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		flushCtx, cancel = context.WithTimeout(ctx, p.flushTimeout)
		defer cancel()
	}
	if err := p.nc.FlushWithContext(flushCtx); err != nil {
		return fmt.Errorf("flushing to %s: %w", p.subject, err)
	}

	p.logger.Debug("published pattern update",
		zap.String("subject", p.subject),
		zap.String("run_id", ev.RunID),
		zap.Int("count", ev.Count),
		zap.Int("bytes", len(data)))
	return nil
}

// Connected reports whether the underlying connection is up.
func (p *Publisher) Connected() bool {
	return p.nc.IsConnected()
}

// Close drains the connection if the Publisher owns it.
func (p *Publisher) Close() error {
	if !p.owned {
		return nil
	}
	return p.nc.Drain()
}
