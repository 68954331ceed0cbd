package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

const (
	streamName    = "POOL_EVENTS"
	subjectPrefix = "pool.events"
)

// jetStream is the subset of nats.JetStreamContext the publisher uses.
type jetStream interface {
	PublishAsync(subj string, data []byte, opts ...nats.PubOpt) (nats.PubAckFuture, error)
}

// NATSPublisher publishes events to NATS JetStream under
// pool.events.<pool>.<type>.
type NATSPublisher struct {
	nc   *nats.Conn
	js   jetStream
	pool string
}

// NewNATSPublisher connects to natsURL and makes sure the event stream exists.
func NewNATSPublisher(natsURL, pool string) (*NATSPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("poolmgr"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     streamName,
		Subjects: []string{subjectPrefix + ".>"},
		MaxAge:   7 * 24 * time.Hour, // Retain for 7 days
	})
	if err != nil {
		// Stream may already exist, that's OK
		logrus.Debugf("events: stream setup: %v", err)
	}

	return &NATSPublisher{nc: nc, js: js, pool: pool}, nil
}

// Subject returns the subject events of type typ for pool are published on.
func Subject(pool, typ string) string {
	return fmt.Sprintf("%s.%s.%s", subjectPrefix, pool, typ)
}

// Publish sends ev without waiting for the broker's acknowledgement.
func (p *NATSPublisher) Publish(ev Event) {
	ev.Pool = p.pool
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		logrus.Errorf("events: encode %s: %v", ev.Type, err)
		return
	}
	if _, err := p.js.PublishAsync(Subject(p.pool, ev.Type), data); err != nil {
		logrus.Warnf("events: publish %s: %v", ev.Type, err)
	}
}

// Close flushes pending publishes and closes the connection.
func (p *NATSPublisher) Close() {
	if p.nc == nil {
		return
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
	}
}
