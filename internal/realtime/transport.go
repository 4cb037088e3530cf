package realtime

import (
	"context"
	"encoding/json"
)

// Envelope is the wire format for all channel messages, inbound and
// outbound. Acks echo the originating RequestID.
type Envelope struct {
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// Conn is a live bidirectional connection to the server.
type Conn interface {
	// Read blocks until the next inbound envelope or a read failure.
	Read(ctx context.Context) (Envelope, error)
	// Write sends one envelope.
	Write(ctx context.Context, env Envelope) error
	// Close tears the connection down with a reason.
	Close(reason string) error
}

// Transport dials the realtime endpoint with a channel-scoped credential.
// The production implementation is [WebSocketTransport]; tests substitute
// an in-memory fake.
type Transport interface {
	Dial(ctx context.Context, socketURL, token string) (Conn, error)
}
