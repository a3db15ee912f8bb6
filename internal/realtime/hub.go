package realtime

import (
	"log/slog"
	"sync"

	"pulse/internal/metrics"
)

// Hub owns channel membership and fans published envelopes out to
// subscribers. Channels spring into existence on first subscribe and
// vanish when their last member leaves; there is no channel registry to
// administer.
//
// Concurrency guarantees:
//   - Subscribe/Unsubscribe are safe under concurrent Publish.
//   - Publish never blocks: a full subscriber queue drops the frame.
//   - Publish is panic-safe because Subscriber.Send is never closed.
type Hub struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	channels map[string]map[string]*Subscriber
}

func NewHub(log *slog.Logger, m *metrics.Metrics) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:      log,
		metrics:  m,
		channels: make(map[string]map[string]*Subscriber),
	}
}

// Subscribe adds a subscriber to a channel. Re-subscribing to the same
// channel is a no-op.
func (h *Hub) Subscribe(sub *Subscriber, channel string) {
	if h == nil || sub == nil || sub.ID == "" || channel == "" {
		return
	}

	h.mu.Lock()
	members, ok := h.channels[channel]
	if !ok {
		members = make(map[string]*Subscriber)
		h.channels[channel] = members
	}
	members[sub.ID] = sub
	h.mu.Unlock()

	h.log.Debug("hub.subscribe", "channel", channel, "subscriber_id", sub.ID)
}

// Unsubscribe removes a subscriber from a channel, dropping the channel
// when it empties.
func (h *Hub) Unsubscribe(sub *Subscriber, channel string) {
	if h == nil || sub == nil || channel == "" {
		return
	}

	h.mu.Lock()
	if members, ok := h.channels[channel]; ok {
		delete(members, sub.ID)
		if len(members) == 0 {
			delete(h.channels, channel)
		}
	}
	h.mu.Unlock()

	h.log.Debug("hub.unsubscribe", "channel", channel, "subscriber_id", sub.ID)
}

// Detach removes a subscriber from every channel. Called once when the
// connection tears down, before Subscriber.Close.
func (h *Hub) Detach(sub *Subscriber) {
	if h == nil || sub == nil {
		return
	}

	h.mu.Lock()
	for channel, members := range h.channels {
		delete(members, sub.ID)
		if len(members) == 0 {
			delete(h.channels, channel)
		}
	}
	h.mu.Unlock()
}

// Publish fans an envelope out to every subscriber of its channel.
// Non-blocking: a subscriber that is shutting down or whose queue is
// full misses the frame.
func (h *Hub) Publish(env Envelope) {
	if h == nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.channels[env.Channel] {
		if sub == nil {
			continue
		}

		select {
		case <-sub.Done():
			continue
		default:
		}

		select {
		case sub.Send <- env:
		default:
			// Drop rather than block the whole channel.
			h.metrics.FrameDropped()
		}
	}
}

// SubscriberCount reports current membership of a channel.
func (h *Hub) SubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}
