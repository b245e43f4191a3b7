package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/eventpool/pool-engine/internal/metrics"
)

// StreamName is the JetStream stream holding outbound pool notifications.
const StreamName = "EVENTPOOL_EVENTS"

// NATSPublisher forwards notifications to NATS JetStream on subjects of
// the form {prefix}.{type}.{eventID}. Publish only enqueues; Run drains
// the queue.
type NATSPublisher struct {
	js     jetstream.JetStream
	prefix string
	queue  chan Notification
	log    zerolog.Logger
}

// NewNATSPublisher creates a publisher with a bounded queue.
func NewNATSPublisher(js jetstream.JetStream, prefix string, log zerolog.Logger) *NATSPublisher {
	return &NATSPublisher{
		js:     js,
		prefix: prefix,
		queue:  make(chan Notification, 1024),
		log:    log,
	}
}

// Publish queues n, dropping it if the queue is full.
func (p *NATSPublisher) Publish(_ context.Context, n Notification) {
	select {
	case p.queue <- n:
	default:
		metrics.PublishFailures.WithLabelValues("nats").Inc()
		p.log.Warn().Str("type", n.Type).Str("event_id", n.EventID).Msg("nats queue full, notification dropped")
	}
}

// Run starts the outbound publisher loop. It returns when ctx is done.
func (p *NATSPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case n := <-p.queue:
			if err := p.publish(ctx, n); err != nil {
				// Non-fatal: the ledger remains the source of truth.
				metrics.PublishFailures.WithLabelValues("nats").Inc()
				p.log.Warn().Err(err).Str("type", n.Type).Str("event_id", n.EventID).Msg("outbound publish failed")
			}
		}
	}
}

// Subject returns the subject n is published on.
func (p *NATSPublisher) Subject(n Notification) string {
	subject := fmt.Sprintf("%s.%s", p.prefix, n.Type)
	if n.EventID != "" {
		subject = fmt.Sprintf("%s.%s", subject, n.EventID)
	}
	return subject
}

func (p *NATSPublisher) publish(ctx context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err = p.js.Publish(pubCtx, p.Subject(n), data)
	return err
}

// EnsureStream creates or updates the outbound stream for prefix.
func EnsureStream(ctx context.Context, js jetstream.JetStream, prefix string) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{prefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", StreamName, err)
	}
	return nil
}
