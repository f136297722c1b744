package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// SubjectPrefix is prepended to the event type to build the NATS subject.
const SubjectPrefix = "adreel."

// NATSPublisher publishes events as JSON messages on a NATS connection.
type NATSPublisher struct {
	conn   *nats.Conn
	closed chan struct{}
}

// NewNATSPublisher connects to the NATS server at url.
func NewNATSPublisher(url string) (*NATSPublisher, error) {
	if url == "" {
		url = nats.DefaultURL
	}

	closed := make(chan struct{})
	conn, err := nats.Connect(url,
		nats.Name("adreel-api"),
		nats.ClosedHandler(func(*nats.Conn) { close(closed) }),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &NATSPublisher{conn: conn, closed: closed}, nil
}

// Subject returns the NATS subject for an event type, e.g. "adreel.job.completed".
func Subject(t Type) string {
	return SubjectPrefix + string(t)
}

// Publish marshals e and publishes it on Subject(e.Type).
func (p *NATSPublisher) Publish(_ context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := p.conn.Publish(Subject(e.Type), data); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}

	return nil
}

// Close drains pending messages and blocks until the connection is closed.
func (p *NATSPublisher) Close() {
	if p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
	<-p.closed
}

var _ Publisher = (*NATSPublisher)(nil)
