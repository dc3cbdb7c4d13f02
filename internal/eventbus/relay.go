/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus relays in-process pipeline events to an external broker
// (Redis pub/sub or NATS) so other services can follow chapter status.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/inkpress/internal/config"
	"github.com/friendsincode/inkpress/internal/events"
	"github.com/friendsincode/inkpress/internal/telemetry"
)

const sendTimeout = 2 * time.Second

// Sink delivers encoded events to a broker subject.
type Sink interface {
	Send(ctx context.Context, subject string, data []byte) error
	Close() error
}

// Message is the wire format written to the broker.
type Message struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

// Marshal encodes an event for the broker.
func Marshal(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	return json.Marshal(Message{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	})
}

// Unmarshal decodes a broker message.
func Unmarshal(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal event message: %w", err)
	}
	return &msg, nil
}

// Relay subscribes to every pipeline event on the local bus and forwards it
// to a Sink under "<prefix>.<event type>".
type Relay struct {
	bus     *events.Bus
	sink    Sink
	backend string
	prefix  string
	nodeID  string
	logger  zerolog.Logger

	mu     sync.Mutex
	subs   map[events.EventType]events.Subscriber
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRelay wires a sink to the local bus. Call Start to begin forwarding.
func NewRelay(bus *events.Bus, sink Sink, backend, prefix, nodeID string, logger zerolog.Logger) *Relay {
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	return &Relay{
		bus:     bus,
		sink:    sink,
		backend: backend,
		prefix:  prefix,
		nodeID:  nodeID,
		logger:  logger.With().Str("component", "event_relay").Str("backend", backend).Logger(),
		subs:    make(map[events.EventType]events.Subscriber),
	}
}

// New builds the relay selected by configuration. It returns nil when events
// stay in process.
func New(cfg *config.Config, bus *events.Bus, logger zerolog.Logger) (*Relay, error) {
	var (
		sink Sink
		err  error
	)
	switch cfg.EventBus {
	case config.EventBusMemory, "":
		return nil, nil
	case config.EventBusRedis:
		rc := DefaultRedisConfig()
		rc.Addr = cfg.RedisAddr
		rc.Password = cfg.RedisPassword
		rc.DB = cfg.RedisDB
		sink, err = NewRedisSink(rc, logger)
	case config.EventBusNATS:
		nc := DefaultNATSConfig()
		nc.URL = cfg.NATSURL
		if cfg.InstanceID != "" {
			nc.Name = "inkpress-" + cfg.InstanceID
		}
		sink, err = NewNATSSink(nc, logger)
	default:
		return nil, fmt.Errorf("unsupported event bus %q", cfg.EventBus)
	}
	if err != nil {
		return nil, err
	}
	return NewRelay(bus, sink, string(cfg.EventBus), cfg.EventSubject, cfg.InstanceID, logger), nil
}

// Start subscribes to the local bus and forwards until Stop.
func (r *Relay) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	for _, t := range events.AllTypes {
		sub := r.bus.Subscribe(t)
		r.subs[t] = sub
		r.wg.Add(1)
		go r.forward(ctx, t, sub)
	}
	r.mu.Unlock()
	r.logger.Info().Str("prefix", r.prefix).Msg("event relay started")
}

func (r *Relay) forward(ctx context.Context, t events.EventType, sub events.Subscriber) {
	defer r.wg.Done()
	subject := r.Subject(t)
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub:
			if !ok {
				return
			}
			data, err := Marshal(t, payload, r.nodeID)
			if err != nil {
				telemetry.EventsPublishedTotal.WithLabelValues(r.backend, "error").Inc()
				r.logger.Error().Err(err).Str("event_type", string(t)).Msg("encode event failed")
				continue
			}
			sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
			err = r.sink.Send(sendCtx, subject, data)
			cancel()
			if err != nil {
				telemetry.EventsPublishedTotal.WithLabelValues(r.backend, "error").Inc()
				r.logger.Warn().Err(err).Str("subject", subject).Msg("relay event failed")
				continue
			}
			telemetry.EventsPublishedTotal.WithLabelValues(r.backend, "ok").Inc()
			r.logger.Debug().Str("subject", subject).Msg("relayed event")
		}
	}
}

// Subject returns the broker subject used for an event type.
func (r *Relay) Subject(t events.EventType) string {
	if r.prefix == "" {
		return string(t)
	}
	return r.prefix + "." + string(t)
}

// Stop unsubscribes, waits for forwarders and closes the sink.
func (r *Relay) Stop() error {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	for t, sub := range r.subs {
		r.bus.Unsubscribe(t, sub)
		delete(r.subs, t)
	}
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info().Msg("event relay stopped")
	return r.sink.Close()
}
