// Package notify publishes build notifications to external subscribers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/logfields"
)

// Event is published after every build.
type Event struct {
	BuildID    string              `json:"build_id"`
	Status     string              `json:"status"`
	Trigger    string              `json:"trigger"`
	Timestamp  time.Time           `json:"timestamp"`
	DurationMS int64               `json:"duration_ms"`
	Files      int                 `json:"files"`
	Bundles    map[string][]string `json:"bundles,omitempty"`
	// ManifestHash identifies the published output.
	ManifestHash string `json:"manifest_hash,omitempty"`
	SourceCommit string `json:"source_commit,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Publisher delivers build events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Noop discards events.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }

// NATSPublisher publishes events as JSON on a NATS subject.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

// NewNATSPublisher connects to the NATS server at url.
func NewNATSPublisher(url, subject string, logger *slog.Logger) (*NATSPublisher, error) {
	if subject == "" {
		return nil, ferrors.ConfigError("events subject is required").Build()
	}
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(url,
		nats.Name("assetbuilder"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("Disconnected from NATS", logfields.Error(err))
			}
		}),
	)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryNetwork, "failed to connect to NATS").
			WithContext("url", url).
			Build()
	}
	logger.Info("NATS publisher initialized", slog.String("url", url), slog.String("subject", subject))
	return &NATSPublisher{conn: conn, subject: subject, logger: logger}, nil
}

// Publish sends ev and waits for the server to acknowledge the flush.
func (p *NATSPublisher) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryNetwork, "failed to publish build event").Build()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryNetwork, "failed to flush build event").Build()
	}
	p.logger.Debug("Published build event", logfields.BuildID(ev.BuildID), logfields.State(ev.Status))
	return nil
}

// Close drains the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

// New returns a NATS publisher when url is set and a Noop otherwise.
func New(url, subject string, logger *slog.Logger) (Publisher, error) {
	if url == "" {
		return Noop{}, nil
	}
	return NewNATSPublisher(url, subject, logger)
}
