package serve

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gftdcojp/unionfs-cleaner/internal/config"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// RunNATSResponder answers requests on the configured subject with the
// same document as GET /v1/status.
func RunNATSResponder(ctx context.Context, nc *nats.Conn, cfg config.NATSResponderConfig, opts Options) error {
	h := newHandler(opts)

	subject := cfg.Subject
	if subject == "" {
		subject = "unionfs.status"
	}

	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		resp, err := json.Marshal(h.status(ctx))
		if err != nil {
			msg.Respond([]byte(fmt.Sprintf(`{"error":%q}`, err.Error())))
			return
		}
		msg.Respond(resp)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", subject, err)
	}

	h.logger.Info("NATS responder started", zap.String("subject", subject))

	<-ctx.Done()
	sub.Unsubscribe()
	return nil
}
