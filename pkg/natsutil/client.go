// Package natsutil opens the NATS connection shared by the notification
// sink and the status responder.
package natsutil

import (
	"fmt"
	"time"

	"github.com/gftdcojp/unionfs-cleaner/internal/config"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultName identifies the daemon to the NATS server when the config
// sets no connection_name.
const DefaultName = "unionfs-cleaner"

// Connect dials NATS. An unreachable server does not fail startup:
// notifications are best effort, so the client keeps retrying in the
// background and buffers what is published meanwhile.
func Connect(cfg config.NATSConfig, logger *zap.Logger) (*nats.Conn, error) {
	opts, err := options(cfg, logger)
	if err != nil {
		return nil, err
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", cfg.URL, err)
	}

	if nc.IsConnected() {
		logger.Info("connected to NATS",
			zap.String("url", nc.ConnectedUrl()),
			zap.String("server_id", nc.ConnectedServerId()),
		)
	} else {
		logger.Warn("NATS not reachable yet, retrying in the background", zap.String("url", cfg.URL))
	}
	return nc, nil
}

func options(cfg config.NATSConfig, logger *zap.Logger) ([]nats.Option, error) {
	name := cfg.ConnectionName
	if name == "" {
		name = DefaultName
	}

	opts := []nats.Option{
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectBufSize(1 << 20),
		nats.PingInterval(20 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected, notifications are buffered", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Debug("NATS connection closed")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			fields := []zap.Field{zap.Error(err)}
			if sub != nil {
				fields = append(fields, zap.String("subject", sub.Subject))
			}
			logger.Error("NATS async error", fields...)
		}),
	}
	if wait := cfg.ReconnectWait.Duration(); wait > 0 {
		opts = append(opts, nats.ReconnectWait(wait))
	}

	switch {
	case cfg.CredentialsFile != "":
		opts = append(opts, nats.UserCredentials(cfg.CredentialsFile))
	case cfg.NKeySeedFile != "":
		opt, err := nats.NkeyOptionFromSeed(cfg.NKeySeedFile)
		if err != nil {
			return nil, fmt.Errorf("loading nkey seed %s: %w", cfg.NKeySeedFile, err)
		}
		opts = append(opts, opt)
	}

	if cfg.TLS.CertFile != "" && cfg.TLS.KeyFile != "" {
		opts = append(opts, nats.ClientCert(cfg.TLS.CertFile, cfg.TLS.KeyFile))
	}
	if cfg.TLS.CAFile != "" {
		opts = append(opts, nats.RootCAs(cfg.TLS.CAFile))
	}
	return opts, nil
}
