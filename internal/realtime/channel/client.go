// Package channel is the client side of the pulse realtime fabric: a
// single duplex connection that re-establishes itself on failure and
// fans inbound messages out to per-channel subscribers.
//
// Reconnection is deliberately fixed-interval rather than exponential:
// the fleet is small (venue devices on one LAN) and a predictable retry
// cadence is easier to reason about during an incident.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"pulse/internal/realtime"
)

// State is the connection lifecycle phase.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
	StateReconnectPending
	// StateGaveUp is reached after the reconnect budget is exhausted.
	// Only an explicit Connect leaves it.
	StateGaveUp
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnectPending:
		return "reconnect_pending"
	case StateGaveUp:
		return "gave_up"
	default:
		return "unknown"
	}
}

const (
	defaultReconnectInterval = 3 * time.Second
	defaultMaxAttempts       = 5
	defaultDialTimeout       = 10 * time.Second
	defaultWriteTimeout      = 5 * time.Second

	wsSubprotocol = "pulse.realtime.v1"
)

// Config controls the client's endpoint and retry policy.
type Config struct {
	// URL is the websocket endpoint, e.g. "wss://host/ws".
	URL string

	// ReconnectInterval is the fixed delay between reconnect attempts.
	ReconnectInterval time.Duration

	// MaxAttempts bounds consecutive failed reconnects before the
	// client gives up. A successful open resets the budget.
	MaxAttempts int

	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

func (c *Config) fillDefaults() {
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = defaultReconnectInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
}

// DataHandler receives the data document of a message on a subscribed
// channel.
type DataHandler func(data json.RawMessage)

// EnvelopeHandler receives every inbound message envelope, regardless
// of channel.
type EnvelopeHandler func(env realtime.Envelope)

// StateHandler observes connection state transitions.
type StateHandler func(s State)

// ErrNotOpen is returned by Subscribe/Unsubscribe when no connection is
// open. Callers re-subscribe after the next open; nothing is queued.
var ErrNotOpen = errors.New("channel: connection not open")

// Client maintains at most one live connection at a time. All methods
// are safe for concurrent use.
type Client struct {
	log *slog.Logger
	cfg Config

	// writeMu serializes outbound control frames on the live conn.
	writeMu sync.Mutex

	mu             sync.Mutex
	state          State
	conn           *websocket.Conn
	token          string
	attempts       int
	gen            uint64 // connection generation; stale goroutines no-op
	reconnectTimer *time.Timer

	nextID   int
	handlers map[string]map[int]DataHandler
	wildcard map[int]EnvelopeHandler
	status   map[int]StateHandler

	// stateQ holds pending observer notifications; a single drainer
	// goroutine delivers them so observers see transitions in order.
	stateQ   []stateNotice
	draining bool
}

type stateNotice struct {
	state State
	obs   []StateHandler
}

func NewClient(log *slog.Logger, cfg Config) *Client {
	if log == nil {
		log = slog.Default()
	}
	cfg.fillDefaults()
	return &Client{
		log:      log,
		cfg:      cfg,
		state:    StateClosed,
		handlers: make(map[string]map[int]DataHandler),
		wildcard: make(map[int]EnvelopeHandler),
		status:   make(map[int]StateHandler),
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect (re)establishes the connection using the given access token.
// Any existing connection is torn down first and the reconnect budget
// resets. On dial failure the error is returned and automatic retries
// begin, so callers may treat the error as advisory.
func (c *Client) Connect(ctx context.Context, accessToken string) error {
	c.mu.Lock()
	c.teardownLocked()
	c.token = accessToken
	c.attempts = 0
	c.gen++
	gen := c.gen
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	return c.dial(ctx, gen)
}

// dial attempts one connection for generation gen.
func (c *Client) dial(ctx context.Context, gen uint64) error {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return nil
	}
	url := c.cfg.URL + "?token=" + c.token
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	conn, _, err := websocket.Dial(dialCtx, url, &websocket.DialOptions{
		Subprotocols: []string{wsSubprotocol},
	})
	cancel()

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if err == nil {
			_ = conn.Close(websocket.StatusNormalClosure, "superseded")
		}
		return nil
	}

	if err != nil {
		c.log.Warn("channel.dial.fail", "url", c.cfg.URL, "attempts", c.attempts, "err", err)
		c.scheduleReconnectLocked(gen)
		c.mu.Unlock()
		return err
	}

	c.conn = conn
	c.attempts = 0
	c.setStateLocked(StateOpen)
	c.mu.Unlock()

	go c.readLoop(conn, gen)
	return nil
}

// readLoop consumes inbound frames until the connection dies.
func (c *Client) readLoop(conn *websocket.Conn, gen uint64) {
	ctx := context.Background()
	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			c.onConnLost(gen)
			return
		}

		var env realtime.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			// A bad payload never kills the connection.
			c.log.Warn("channel.frame.malformed", "err", err)
			continue
		}
		c.dispatch(env)
	}
}

// onConnLost handles an unexpected close for generation gen.
func (c *Client) onConnLost(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.conn = nil
	c.scheduleReconnectLocked(gen)
}

// scheduleReconnectLocked arms the fixed-interval retry timer, or gives
// up once the budget is spent. Caller holds c.mu.
func (c *Client) scheduleReconnectLocked(gen uint64) {
	if c.attempts >= c.cfg.MaxAttempts {
		c.log.Error("channel.reconnect.gave_up", "attempts", c.attempts)
		c.setStateLocked(StateGaveUp)
		return
	}
	c.attempts++
	c.setStateLocked(StateReconnectPending)

	attempt := c.attempts
	c.reconnectTimer = time.AfterFunc(c.cfg.ReconnectInterval, func() {
		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return
		}
		c.setStateLocked(StateConnecting)
		c.mu.Unlock()

		c.log.Info("channel.reconnect.attempt", "attempt", attempt)
		_ = c.dial(context.Background(), gen)
	})
}

// Subscribe asks the server to start delivering a channel. It only
// works while the connection is open; otherwise it reports failure and
// the caller must re-subscribe after the next open. Nothing is queued.
func (c *Client) Subscribe(channelName string) error {
	return c.sendControl(realtime.TypeSubscribe, channelName)
}

// Unsubscribe stops delivery of a channel. Same open-only semantics as
// Subscribe.
func (c *Client) Unsubscribe(channelName string) error {
	return c.sendControl(realtime.TypeUnsubscribe, channelName)
}

func (c *Client) sendControl(frameType, channelName string) error {
	c.mu.Lock()
	conn := c.conn
	open := c.state == StateOpen
	c.mu.Unlock()

	if !open || conn == nil {
		return ErrNotOpen
	}

	raw, err := json.Marshal(realtime.Envelope{Type: frameType, Channel: channelName})
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.WriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, raw)
}

// OnMessage registers a handler for one channel's data documents. The
// returned function unregisters it; calling it twice is a no-op.
func (c *Client) OnMessage(channelName string, h DataHandler) (unregister func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	m, ok := c.handlers[channelName]
	if !ok {
		m = make(map[int]DataHandler)
		c.handlers[channelName] = m
	}
	m[id] = h

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if m, ok := c.handlers[channelName]; ok {
			delete(m, id)
			if len(m) == 0 {
				delete(c.handlers, channelName)
			}
		}
	}
}

// OnAnyMessage registers a wildcard handler receiving every inbound
// message envelope in full.
func (c *Client) OnAnyMessage(h EnvelopeHandler) (unregister func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.wildcard[id] = h

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.wildcard, id)
	}
}

// OnConnectionChange registers an observer for state transitions.
func (c *Client) OnConnectionChange(h StateHandler) (unregister func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.status[id] = h

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.status, id)
	}
}

// dispatch fans one envelope out to channel handlers (data only) and
// wildcard handlers (full envelope). Handler panics are contained.
func (c *Client) dispatch(env realtime.Envelope) {
	if env.Type != realtime.TypeMessage || env.Channel == "" {
		return
	}

	c.mu.Lock()
	data := make([]DataHandler, 0, len(c.handlers[env.Channel]))
	for _, h := range c.handlers[env.Channel] {
		data = append(data, h)
	}
	wild := make([]EnvelopeHandler, 0, len(c.wildcard))
	for _, h := range c.wildcard {
		wild = append(wild, h)
	}
	c.mu.Unlock()

	for _, h := range data {
		c.invoke(func() { h(env.Data) })
	}
	for _, h := range wild {
		c.invoke(func() { h(env) })
	}
}

// invoke runs a handler, containing panics so a bad subscriber cannot
// kill the connection.
func (c *Client) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("channel.handler.panic", "panic", r)
		}
	}()
	fn()
}

// setStateLocked records a transition and queues observer
// notifications. Caller holds c.mu; delivery happens off the lock so
// observers can call back into the client, and through a single
// drainer so rapid transitions arrive in order.
func (c *Client) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s

	obs := make([]StateHandler, 0, len(c.status))
	for _, h := range c.status {
		obs = append(obs, h)
	}
	c.stateQ = append(c.stateQ, stateNotice{state: s, obs: obs})
	if !c.draining {
		c.draining = true
		go c.drainStateQ()
	}
}

func (c *Client) drainStateQ() {
	for {
		c.mu.Lock()
		if len(c.stateQ) == 0 {
			c.draining = false
			c.mu.Unlock()
			return
		}
		n := c.stateQ[0]
		c.stateQ = c.stateQ[1:]
		c.mu.Unlock()

		for _, h := range n.obs {
			c.invoke(func() { h(n.state) })
		}
	}
}

// Close tears the connection down for good: the pending reconnect timer
// is cancelled, the socket closed, and every handler registry cleared.
// A later Connect starts from a blank slate.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.teardownLocked()
	c.setStateLocked(StateClosed)

	c.handlers = make(map[string]map[int]DataHandler)
	c.wildcard = make(map[int]EnvelopeHandler)
	c.status = make(map[int]StateHandler)
}

// teardownLocked stops the current generation: timer, socket, loop.
// Caller holds c.mu.
func (c *Client) teardownLocked() {
	c.gen++
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "client closing")
		c.conn = nil
	}
}
