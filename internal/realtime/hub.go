package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrConnClosed     = errors.New("connection closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// Relay carries broadcasts between instances. When a Hub has a relay it
// publishes instead of delivering, and every instance (this one included)
// delivers what it receives through Hub.DeliverRelayed. A relay must only
// be installed while its subscription is live.
type Relay interface {
	Publish(ctx context.Context, msg RelayMessage) error
}

// RelayMessage is one broadcast on the relay channel.
type RelayMessage struct {
	Scope         string          `json:"scope"`
	Event         string          `json:"event"`
	Data          json.RawMessage `json:"data,omitempty"`
	ExcludeUserID string          `json:"exclude_user_id,omitempty"`
}

// BroadcastOption tunes a single broadcast.
type BroadcastOption func(*broadcastOptions)

type broadcastOptions struct {
	excludeUserID string
}

// ExcludeUser skips every connection owned by userID. Used so the author of
// a change is not echoed their own event.
func ExcludeUser(userID string) BroadcastOption {
	return func(o *broadcastOptions) { o.excludeUserID = userID }
}

// Hub fans events out to the connections subscribed to a scope.
type Hub struct {
	registry *Registry
	log      zerolog.Logger
	metrics  *Metrics
	tracer   trace.Tracer
	async    sync.WaitGroup

	relayMu sync.RWMutex
	relay   Relay
}

// NewHub returns a hub delivering through registry. metrics may be nil.
func NewHub(registry *Registry, logger zerolog.Logger, metrics *Metrics) *Hub {
	return &Hub{
		registry: registry,
		log:      logger.With().Str("component", "hub").Logger(),
		metrics:  metrics,
		tracer:   otel.Tracer("github.com/lirancohen/workhub/internal/realtime"),
	}
}

// SetRelay routes broadcasts through r. A nil r restores local delivery.
func (h *Hub) SetRelay(r Relay) {
	h.relayMu.Lock()
	h.relay = r
	h.relayMu.Unlock()
}

// clearRelay removes r if it is still the installed relay.
func (h *Hub) clearRelay(r Relay) {
	h.relayMu.Lock()
	if h.relay == r {
		h.relay = nil
	}
	h.relayMu.Unlock()
}

func (h *Hub) currentRelay() Relay {
	h.relayMu.RLock()
	defer h.relayMu.RUnlock()
	return h.relay
}

// Registry returns the registry the hub delivers through.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Broadcast sends event to every connection reachable through scope.
// Delivery failures are handled per connection and never surface here.
func (h *Hub) Broadcast(ctx context.Context, scope Scope, event string, data any, opts ...BroadcastOption) {
	ctx, span := h.tracer.Start(ctx, "realtime.Broadcast", trace.WithAttributes(
		attribute.String("realtime.scope", scope.String()),
		attribute.String("realtime.event", event),
	))
	defer span.End()

	var o broadcastOptions
	for _, opt := range opts {
		opt(&o)
	}

	payload, err := encodeData(data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode")
		h.log.Error().Err(err).Str("scope", scope.String()).Str("event", event).Msg("dropping broadcast with unencodable payload")
		return
	}
	h.metrics.broadcast(scope.Kind)

	if relay := h.currentRelay(); relay != nil {
		err := relay.Publish(ctx, RelayMessage{
			Scope:         scope.String(),
			Event:         event,
			Data:          payload,
			ExcludeUserID: o.excludeUserID,
		})
		if err == nil {
			return
		}
		h.metrics.relayFallback()
		h.log.Warn().Err(err).Str("scope", scope.String()).Msg("relay publish failed, delivering locally")
	}

	n := h.deliver(scope, event, payload, o.excludeUserID)
	span.SetAttributes(attribute.Int("realtime.delivered", n))
}

// BroadcastAsync runs Broadcast on its own goroutine. Ordering between two
// async broadcasts is not guaranteed.
func (h *Hub) BroadcastAsync(ctx context.Context, scope Scope, event string, data any, opts ...BroadcastOption) {
	ctx = context.WithoutCancel(ctx)
	h.async.Add(1)
	go func() {
		defer h.async.Done()
		defer func() {
			if r := recover(); r != nil {
				h.log.Error().Interface("panic", r).Str("scope", scope.String()).Str("event", event).Msg("async broadcast panicked")
			}
		}()
		h.Broadcast(ctx, scope, event, data, opts...)
	}()
}

// Wait blocks until every pending BroadcastAsync has finished.
func (h *Hub) Wait() {
	h.async.Wait()
}

// DeliverRelayed delivers a message received from the relay to local
// connections.
func (h *Hub) DeliverRelayed(msg RelayMessage) error {
	scope, err := ParseScope(msg.Scope)
	if err != nil {
		return err
	}
	h.deliver(scope, msg.Event, msg.Data, msg.ExcludeUserID)
	return nil
}

func encodeData(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event data: %w", err)
	}
	return raw, nil
}

func (h *Hub) deliver(scope Scope, event string, data json.RawMessage, excludeUserID string) int {
	clients := h.registry.Subscribers(scope)
	if len(clients) == 0 {
		return 0
	}

	env := Envelope{Event: event}
	if len(data) > 0 {
		env.Data = data
	}
	frame, err := json.Marshal(env)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("failed to encode envelope")
		return 0
	}

	delivered := 0
	for _, c := range clients {
		if excludeUserID != "" && c.UserID() == excludeUserID {
			continue
		}
		if err := c.Send(frame); err != nil {
			h.drop(c, err)
			continue
		}
		h.metrics.sent()
		delivered++
	}
	return delivered
}

// drop removes a connection whose send failed. Other recipients are not
// affected.
func (h *Hub) drop(c Client, err error) {
	reason, code := "closed", websocket.CloseGoingAway
	if errors.Is(err, ErrSendBufferFull) {
		reason, code = "overflow", websocket.CloseTryAgainLater
	}
	h.metrics.sendFailed(reason)
	h.registry.Deregister(c.ID())
	c.Close(code, "send failed")
	h.log.Debug().Err(err).Str("conn_id", c.ID()).Str("user_id", c.UserID()).Msg("dropped connection after send failure")
}
