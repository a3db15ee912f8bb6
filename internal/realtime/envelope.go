package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Wire-stable frame types.
const (
	// TypeMessage is the only data-bearing frame (server -> client).
	// It carries a channel and an opaque data document.
	TypeMessage = "message"

	// TypeSubscribe and TypeUnsubscribe are control frames
	// (client -> server). They carry a channel and no data.
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"

	// TypeError is a generic error frame (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// IsControl reports whether the frame is a subscription control frame.
func (e Envelope) IsControl() bool {
	return e.Type == TypeSubscribe || e.Type == TypeUnsubscribe
}

// ValidateInbound checks a client -> server frame. Clients may only send
// control frames; everything else is rejected at the gateway.
func (e Envelope) ValidateInbound() error {
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing type")
	}
	if !e.IsControl() {
		return fmt.Errorf("unsupported type: %s", e.Type)
	}
	if strings.TrimSpace(e.Channel) == "" {
		return errors.New("missing channel")
	}
	return nil
}

// ValidateOutbound checks a frame before it is published to
// subscribers. Data frames always carry type "message": clients
// dispatch on the channel, not the type.
func (e Envelope) ValidateOutbound() error {
	if e.Type != TypeMessage {
		return fmt.Errorf("publishable frames must have type %q, got %q", TypeMessage, e.Type)
	}
	if strings.TrimSpace(e.Channel) == "" {
		return errors.New("missing channel")
	}
	return nil
}

type errorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorEnvelope(code, msg string) Envelope {
	data, _ := json.Marshal(errorData{Code: code, Message: msg})
	return Envelope{Type: TypeError, Data: data}
}
