package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"pulse/internal/auth/guard"
	authtoken "pulse/internal/auth/token"
	"pulse/internal/identity"
	"pulse/internal/realtime"
)

func testEndpoint(t *testing.T) (*httptest.Server, *realtime.Hub, string) {
	t.Helper()

	codec, err := authtoken.NewCodec([]byte("0123456789abcdef0123456789abcdef"), "pulse-test", 0)
	require.NoError(t, err)
	token, _, err := codec.Issue(identity.Principal{
		ID: "p-dev-1", Email: "dev@example.com", Role: identity.RoleStaff,
	}, time.Minute, time.Now().UTC())
	require.NoError(t, err)

	hub := realtime.NewHub(nil, nil)
	cfg := realtime.DefaultGatewayConfig()
	cfg.OriginRequired = false
	gw := realtime.NewGateway(nil, hub, guard.New(codec), nil, cfg)

	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)
	return srv, hub, token
}

func wsURL(srv *httptest.Server) string {
	return "ws" + srv.URL[len("http"):]
}

func testClient(t *testing.T, url string) *Client {
	t.Helper()
	c := NewClient(nil, Config{
		URL:               url,
		ReconnectInterval: 20 * time.Millisecond,
		MaxAttempts:       3,
		DialTimeout:       2 * time.Second,
	})
	t.Cleanup(c.Close)
	return c
}

func waitState(t *testing.T, c *Client, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("client never reached state %s (stuck at %s)", want, c.State())
}

func waitHubCount(t *testing.T, hub *realtime.Hub, channel string, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if hub.SubscriberCount(channel) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("channel %s never reached %d subscribers", channel, want)
}

func TestConnectSubscribeAndFanOut(t *testing.T) {
	srv, hub, token := testEndpoint(t)
	c := testClient(t, wsURL(srv))

	require.NoError(t, c.Connect(context.Background(), token))
	waitState(t, c, StateOpen)

	dataCh := make(chan json.RawMessage, 4)
	envCh := make(chan realtime.Envelope, 4)
	c.OnMessage("emergency", func(data json.RawMessage) { dataCh <- data })
	c.OnAnyMessage(func(env realtime.Envelope) { envCh <- env })

	require.NoError(t, c.Subscribe("emergency"))
	waitHubCount(t, hub, "emergency", 1)

	hub.Publish(realtime.Envelope{
		Type:    realtime.TypeMessage,
		Channel: "emergency",
		Data:    json.RawMessage(`{"level":"high"}`),
	})

	select {
	case data := <-dataCh:
		require.JSONEq(t, `{"level":"high"}`, string(data))
	case <-time.After(5 * time.Second):
		t.Fatal("channel handler never fired")
	}
	select {
	case env := <-envCh:
		require.Equal(t, "emergency", env.Channel)
		require.JSONEq(t, `{"level":"high"}`, string(env.Data))
	case <-time.After(5 * time.Second):
		t.Fatal("wildcard handler never fired")
	}

	// Exactly once each.
	time.Sleep(50 * time.Millisecond)
	require.Empty(t, dataCh)
	require.Empty(t, envCh)
}

func TestSubscribeRequiresOpenConnection(t *testing.T) {
	srv, _, _ := testEndpoint(t)
	c := testClient(t, wsURL(srv))

	require.ErrorIs(t, c.Subscribe("emergency"), ErrNotOpen)
	require.ErrorIs(t, c.Unsubscribe("emergency"), ErrNotOpen)
}

func TestReconnectAfterUnexpectedClose(t *testing.T) {
	var mu sync.Mutex
	var connSeq int
	laterFrames := make(chan []byte, 4)

	// First connection dies right after the subscribe frame; later ones
	// stay open and record everything the client sends.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols: []string{wsSubprotocol},
		})
		if err != nil {
			return
		}
		mu.Lock()
		connSeq++
		seq := connSeq
		mu.Unlock()

		ctx := context.Background()
		if seq == 1 {
			_, _, _ = conn.Read(ctx)
			_ = conn.Close(websocket.StatusInternalError, "dropped")
			return
		}
		for {
			_, raw, err := conn.Read(ctx)
			if err != nil {
				return
			}
			laterFrames <- raw
		}
	}))
	defer srv.Close()

	c := testClient(t, wsURL(srv))

	var states []State
	c.OnConnectionChange(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	require.NoError(t, c.Connect(context.Background(), "irrelevant"))
	waitState(t, c, StateOpen)
	require.NoError(t, c.Subscribe("schedule"))

	// Server drops the connection; the client must come back on its own.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connSeq >= 2 && c.State() == StateOpen
	}, 5*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, s := range states {
			if s == StateReconnectPending {
				return true
			}
		}
		return false
	}, 5*time.Second, 5*time.Millisecond)

	// Subscriptions are not restored automatically.
	time.Sleep(100 * time.Millisecond)
	require.Empty(t, laterFrames)
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	// No listener at all: every dial fails.
	c := testClient(t, "ws://127.0.0.1:1")

	pending := make(chan struct{}, 16)
	c.OnConnectionChange(func(s State) {
		if s == StateReconnectPending {
			pending <- struct{}{}
		}
	})

	_ = c.Connect(context.Background(), "irrelevant")
	waitState(t, c, StateGaveUp)

	// Exactly MaxAttempts retries were scheduled, then silence.
	time.Sleep(100 * time.Millisecond)
	require.Len(t, pending, 3)
	require.Equal(t, StateGaveUp, c.State())

	// An explicit connect leaves the terminal state and retries anew.
	_ = c.Connect(context.Background(), "irrelevant")
	waitState(t, c, StateGaveUp)
	require.GreaterOrEqual(t, len(pending), 4)
}

func TestStateNotificationsArriveInOrder(t *testing.T) {
	// Dead endpoint: the full retry ladder runs, and observers must see
	// every transition in the order it happened.
	c := testClient(t, "ws://127.0.0.1:1")

	var mu sync.Mutex
	var states []State
	c.OnConnectionChange(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	_ = c.Connect(context.Background(), "irrelevant")
	waitState(t, c, StateGaveUp)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) > 0 && states[len(states)-1] == StateGaveUp
	}, 5*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	want := []State{
		StateConnecting,
		StateReconnectPending, StateConnecting,
		StateReconnectPending, StateConnecting,
		StateReconnectPending, StateConnecting,
		StateGaveUp,
	}
	require.Equal(t, want, states)
}

func TestCloseCancelsPendingReconnect(t *testing.T) {
	c := testClient(t, "ws://127.0.0.1:1")

	_ = c.Connect(context.Background(), "irrelevant")
	waitState(t, c, StateReconnectPending)

	c.Close()
	require.Equal(t, StateClosed, c.State())

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, StateClosed, c.State())
}

func TestHandlerPanicDoesNotKillConnection(t *testing.T) {
	srv, hub, token := testEndpoint(t)
	c := testClient(t, wsURL(srv))

	require.NoError(t, c.Connect(context.Background(), token))
	waitState(t, c, StateOpen)

	got := make(chan json.RawMessage, 4)
	c.OnMessage("emergency", func(json.RawMessage) { panic("boom") })
	c.OnMessage("emergency", func(data json.RawMessage) { got <- data })

	require.NoError(t, c.Subscribe("emergency"))
	waitHubCount(t, hub, "emergency", 1)

	for i := 0; i < 2; i++ {
		hub.Publish(realtime.Envelope{
			Type:    realtime.TypeMessage,
			Channel: "emergency",
			Data:    json.RawMessage(`{}`),
		})
	}

	for i := 0; i < 2; i++ {
		select {
		case <-got:
		case <-time.After(5 * time.Second):
			t.Fatal("surviving handler missed a message")
		}
	}
	require.Equal(t, StateOpen, c.State())
}

func TestUnregisterIsIdempotent(t *testing.T) {
	srv, hub, token := testEndpoint(t)
	c := testClient(t, wsURL(srv))

	require.NoError(t, c.Connect(context.Background(), token))
	waitState(t, c, StateOpen)

	got := make(chan json.RawMessage, 4)
	unregister := c.OnMessage("schedule", func(data json.RawMessage) { got <- data })
	unregister()
	unregister() // no-op

	require.NoError(t, c.Subscribe("schedule"))
	waitHubCount(t, hub, "schedule", 1)

	hub.Publish(realtime.Envelope{
		Type:    realtime.TypeMessage,
		Channel: "schedule",
		Data:    json.RawMessage(`{}`),
	})

	time.Sleep(50 * time.Millisecond)
	require.Empty(t, got)
}

func TestMalformedFramesAreDropped(t *testing.T) {
	frames := make(chan []byte, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols: []string{wsSubprotocol},
		})
		if err != nil {
			return
		}
		ctx := r.Context()
		for raw := range frames {
			if err := conn.Write(ctx, websocket.MessageText, raw); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c := testClient(t, wsURL(srv))
	require.NoError(t, c.Connect(context.Background(), "irrelevant"))
	waitState(t, c, StateOpen)

	got := make(chan json.RawMessage, 4)
	c.OnMessage("emergency", func(data json.RawMessage) { got <- data })

	frames <- []byte("{not json at all")
	frames <- []byte(`{"type":"message","channel":"emergency","data":{"ok":true}}`)

	select {
	case data := <-got:
		require.JSONEq(t, `{"ok":true}`, string(data))
	case <-time.After(5 * time.Second):
		t.Fatal("valid frame after garbage was not delivered")
	}
	require.Equal(t, StateOpen, c.State())
}
