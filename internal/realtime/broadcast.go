package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"pulse/internal/auth/guard"
	"pulse/internal/identity"
	"pulse/internal/metrics"
)

const broadcastMaxBodyBytes = 256 << 10 // 256 KiB

// BroadcastHandler publishes operator events into the hub over HTTP.
// Only admins and managers may broadcast.
type BroadcastHandler struct {
	log     *slog.Logger
	hub     *Hub
	guard   *guard.Guard
	metrics *metrics.Metrics
}

func NewBroadcastHandler(log *slog.Logger, hub *Hub, g *guard.Guard, m *metrics.Metrics) *BroadcastHandler {
	if log == nil {
		log = slog.Default()
	}
	return &BroadcastHandler{log: log, hub: hub, guard: g, metrics: m}
}

type broadcastRequest struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type broadcastResponse struct {
	Channel     string `json:"channel"`
	Subscribers int    `json:"subscribers"`
}

func (h *BroadcastHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	d := h.guard.CheckRequest(r, accessTokenCookie, identity.RoleAdmin, identity.RoleManager)
	if !d.Admit {
		h.metrics.GuardDenied(string(d.Reason))
		status := http.StatusUnauthorized
		code := "unauthorized"
		if d.Reason == guard.ReasonForbidden {
			status = http.StatusForbidden
			code = "forbidden"
		}
		writeBroadcastError(w, status, code)
		return
	}

	var req broadcastRequest
	body := http.MaxBytesReader(w, r.Body, broadcastMaxBodyBytes)
	defer func() { _ = r.Body.Close() }()
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeBroadcastError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	env := Envelope{Type: TypeMessage, Channel: req.Channel, Data: req.Data}
	if err := env.ValidateOutbound(); err != nil {
		writeBroadcastError(w, http.StatusBadRequest, "invalid_envelope")
		return
	}

	subscribers := h.hub.SubscriberCount(env.Channel)
	h.hub.Publish(env)
	h.metrics.BroadcastSent()

	h.log.Info("broadcast.publish",
		"channel", env.Channel,
		"principal_id", d.Claims.PrincipalID,
		"subscribers", subscribers,
		"at", time.Now().UTC())

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(broadcastResponse{Channel: env.Channel, Subscribers: subscribers})
}

func writeBroadcastError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}
