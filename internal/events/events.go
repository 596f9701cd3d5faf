// Package events streams harness lifecycle events to NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Type names an event. Types are dotted and become the tail of the subject.
type Type string

const (
	SessionStarted   Type = "session.started"
	SessionCompleted Type = "session.completed"
	SessionReset     Type = "session.reset"
	FeaturePassed    Type = "feature.passed"
	FeatureFailed    Type = "feature.failed"
	FeatureRegressed Type = "feature.regressed"
	BudgetWarning    Type = "budget.warning"
)

// Event is one published message.
type Event struct {
	Type          Type                   `json:"type"`
	Project       string                 `json:"project"`
	SessionID     string                 `json:"sessionId,omitempty"`
	SessionNumber int                    `json:"sessionNumber,omitempty"`
	FeatureID     int                    `json:"featureId,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	Data          map[string]interface{} `json:"data,omitempty"`
}

// Publisher publishes events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, Event) error { return nil }

// Close implements Publisher.
func (NopPublisher) Close() error { return nil }

// Options configures a NATS connection.
type Options struct {
	URL           string
	Token         string
	SubjectPrefix string
	Project       string
}

// NATSPublisher publishes JSON events to <prefix>.<project>.<type>.
type NATSPublisher struct {
	nc      *nats.Conn
	prefix  string
	project string
	logger  *zap.Logger
}

// Connect dials NATS.
func Connect(opts Options, logger *zap.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	natsOpts := []nats.Option{
		nats.Name("harness"),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
	}
	if opts.Token != "" {
		natsOpts = append(natsOpts, nats.Token(opts.Token))
	}
	nc, err := nats.Connect(opts.URL, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	prefix := opts.SubjectPrefix
	if prefix == "" {
		prefix = "harness"
	}
	return &NATSPublisher{
		nc:      nc,
		prefix:  prefix,
		project: SubjectToken(opts.Project),
		logger:  logger,
	}, nil
}

// Subject returns the subject an event of type t is published on.
func (p *NATSPublisher) Subject(t Type) string {
	return p.prefix + "." + p.project + "." + string(t)
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := p.Subject(e.Type)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}

// SubjectToken makes s safe to use as a single subject token.
func SubjectToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "default"
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '.' || r == '*' || r == '>' || r == ' ' || r == '\t' || r == '\n' || r == '\r':
			b.WriteByte('-')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
