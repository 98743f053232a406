package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Publisher is the part of *nats.Conn the NATS sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes summaries as JSON on "<subject>.<username>".
type NATSSink struct {
	pub     Publisher
	subject string
}

// NewNATSSink creates a sink publishing through pub.
func NewNATSSink(pub Publisher, subject string) *NATSSink {
	return &NATSSink{pub: pub, subject: subject}
}

// ConnectNATS dials the NATS server at url.
func ConnectNATS(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name("duesledger"),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return conn, nil
}

// Name implements Sink.
func (n *NATSSink) Name() string { return "nats" }

// Send implements Sink.
func (n *NATSSink) Send(_ context.Context, s Summary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	if err := n.pub.Publish(n.subject+"."+s.Username, data); err != nil {
		return fmt.Errorf("publish summary: %w", err)
	}
	return nil
}
