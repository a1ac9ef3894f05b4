// Package events publishes domain events about chat and call activity to NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"talenttrade/backend/pkg/logger"
	"talenttrade/backend/pkg/metrics"
	"talenttrade/backend/pkg/resilience"

	"github.com/nats-io/nats.go"
)

// Subjects, relative to the configured prefix
const (
	SubjectMessageCreated = "message.created"
	SubjectCallPrefix     = "call."
)

// Publisher hands domain events to a broker. Publishing is best effort.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload any) error
	Close()
}

// Envelope is the JSON body of every published event
type Envelope struct {
	Subject    string    `json:"subject"`
	OccurredAt time.Time `json:"occurredAt"`
	Data       any       `json:"data"`
}

// Config holds NATS connection configuration.
type Config struct {
	URL           string
	SubjectPrefix string
}

// NATSPublisher publishes on a core NATS connection behind a circuit breaker
type NATSPublisher struct {
	conn    *nats.Conn
	prefix  string
	breaker *resilience.CircuitBreaker
	log     *logger.Logger
}

// Connect establishes a connection to the NATS server.
func Connect(cfg Config, log *logger.Logger) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name("talenttrade-gateway"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", "error", err.Error())
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSPublisher{
		conn:    nc,
		prefix:  cfg.SubjectPrefix,
		breaker: resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("nats-publisher"), log),
		log:     log,
	}, nil
}

// Publish marshals payload into an Envelope and publishes it on <prefix>.<subject>
func (p *NATSPublisher) Publish(ctx context.Context, subject string, payload any) error {
	full := Subject(p.prefix, subject)
	body, err := json.Marshal(Envelope{Subject: full, OccurredAt: time.Now().UTC(), Data: payload})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	err = p.breaker.Execute(ctx, func(context.Context) error {
		return p.conn.Publish(full, body)
	})
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.EventsPublished.WithLabelValues(subject, result).Inc()
	return err
}

// Healthy reports whether the underlying connection is up
func (p *NATSPublisher) Healthy(context.Context) error {
	if !p.conn.IsConnected() {
		return fmt.Errorf("nats status %s", p.conn.Status())
	}
	return nil
}

// Close drains the connection
func (p *NATSPublisher) Close() {
	if p.conn != nil {
		_ = p.conn.Drain()
	}
}

// Subject joins prefix and name with a dot
func Subject(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// Noop discards every event
type Noop struct{}

func (Noop) Publish(context.Context, string, any) error { return nil }
func (Noop) Close()                                     {}
