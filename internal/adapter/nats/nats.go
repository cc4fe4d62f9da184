// Package nats publishes orchestration events to NATS JetStream so consumers
// outside the daemon can tail workflow streams.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/peerjakobsen/agentify-release/internal/domain/event"
)

const streamName = "AGENTIFY"

// subjectPrefix scopes one subject per workflow under events.>.
const subjectPrefix = "events."

// Handler processes one raw event message.
type Handler func(subject string, data []byte) error

// Bus implements eventsink.Sink over a JetStream stream, one subject per
// workflow.
type Bus struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect establishes a connection to NATS and ensures the JetStream stream
// exists.
func Connect(ctx context.Context, url string) (*Bus, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{subjectPrefix + ">"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", streamName)
	return &Bus{nc: nc, js: js}, nil
}

// Subject returns the JetStream subject carrying the given workflow's events.
func Subject(workflowID string) string {
	if workflowID == "" {
		workflowID = "unscoped"
	}
	return subjectPrefix + workflowID
}

// Emit publishes the event on its workflow's subject.
func (b *Bus) Emit(ctx context.Context, ev event.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := Subject(ev.WorkflowID)
	if _, err := b.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers a handler for event messages matching the subject
// pattern. Only messages published after the subscription starts are
// delivered. The returned function stops the consumer.
func (b *Bus) Subscribe(ctx context.Context, subject string, handler Handler) (func(), error) {
	consumer, err := b.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		if err := handler(msg.Subject(), msg.Data()); err != nil {
			slog.Error("event handler failed", "subject", msg.Subject(), "error", err)
			if nakErr := msg.Nak(); nakErr != nil {
				slog.Error("nats nak failed", "error", nakErr)
			}
			return
		}
		if ackErr := msg.Ack(); ackErr != nil {
			slog.Error("nats ack failed", "error", ackErr)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume: %w", err)
	}

	return cons.Stop, nil
}

// KeyValue returns the named JetStream KV bucket, creating it with the
// given entry TTL on first use. The daemon uses one for idempotency keys.
func (b *Bus) KeyValue(ctx context.Context, bucket string, ttl time.Duration) (jetstream.KeyValue, error) {
	kv, err := b.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: bucket,
		TTL:    ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("nats kv bucket %s: %w", bucket, err)
	}
	return kv, nil
}

// IsConnected reports whether the underlying connection is up.
func (b *Bus) IsConnected() bool {
	return b.nc != nil && b.nc.IsConnected()
}

// Close shuts down the NATS connection.
func (b *Bus) Close() error {
	b.nc.Close()
	return nil
}
