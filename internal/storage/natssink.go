package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/dohr-michael/magpie/internal/events"
)

// NATSSink bridges bus events onto NATS subjects so external consumers can
// follow task and pool activity. Each event goes to "<prefix>.<type>".
type NATSSink struct {
	nc          *nats.Conn
	prefix      string
	unsubscribe func()
}

// NewNATSSink connects to url and starts republishing every bus event.
func NewNATSSink(url, prefix string, bus *events.Bus) (*NATSSink, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	s := &NATSSink{nc: nc, prefix: prefix}
	s.unsubscribe = bus.Subscribe(s.handleEvent)
	slog.Info("nats sink connected", "url", url, "prefix", prefix)
	return s, nil
}

func (s *NATSSink) handleEvent(e events.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	subject := s.prefix + "." + string(e.Type)
	if err := s.nc.Publish(subject, data); err != nil {
		slog.Debug("nats publish", "subject", subject, "error", err)
	}
}

// Close detaches from the bus and drains the connection.
func (s *NATSSink) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	if err := s.nc.Drain(); err != nil {
		s.nc.Close()
	}
}
