package output

import (
	"context"

	"github.com/nats-io/nats.go"
)

// Publisher is the part of *nats.Conn the output needs.
type Publisher interface {
	Publish(subj string, data []byte) error
}

var _ Publisher = (*nats.Conn)(nil)

// NatsOutput publishes report records to a NATS subject.
type NatsOutput struct {
	pub  Publisher
	subj string
}

// NewNatsOutput creates a NATS output. subject defaults to "analysis.results".
func NewNatsOutput(pub Publisher, subject string) *NatsOutput {
	if subject == "" {
		subject = "analysis.results"
	}
	return &NatsOutput{pub: pub, subj: subject}
}

// Send publishes the report record as-is.
func (n *NatsOutput) Send(_ context.Context, payload []byte) error {
	return n.pub.Publish(n.subj, payload)
}
