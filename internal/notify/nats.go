package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATS publishes events as JSON on <prefix>.<kind>.
type NATS struct {
	nc     *nats.Conn
	prefix string
}

var _ Sink = (*NATS)(nil)

func NewNATS(nc *nats.Conn, prefix string) *NATS {
	if prefix == "" {
		prefix = "unionfs.events"
	}
	return &NATS{nc: nc, prefix: prefix}
}

func (n *NATS) Name() string { return "nats" }

// Subject returns the subject events of kind are published on.
func (n *NATS) Subject(kind Kind) string {
	return n.prefix + "." + string(kind)
}

func (n *NATS) Send(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if err := n.nc.Publish(n.Subject(ev.Kind), data); err != nil {
		return fmt.Errorf("publishing %s: %w", n.Subject(ev.Kind), err)
	}
	return n.nc.FlushWithContext(ctx)
}
