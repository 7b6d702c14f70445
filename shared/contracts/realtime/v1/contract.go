// Package v1 defines the chatshell realtime protocol v1 contract.
//
// It is shared by the realtime client and its test servers so the wire format stays authoritative
// in one place. Keep it dependency-light.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is negotiated during the websocket handshake.
const Subprotocol = "chatshell.realtime.v1"

// Type constants (wire-stable).
const (
	// TypeHello starts a session handshake and carries the access token (client -> server).
	TypeHello = "hello"
	// TypeHelloAck acknowledges the handshake (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeConversationJoin joins a conversation room (client -> server) and is echoed back.
	TypeConversationJoin = "conversation_join"

	// TypeMessageSend requests sending a new message (client -> server).
	TypeMessageSend = "message_send"
	// TypeMessageAck acknowledges a send request with the server-assigned id (server -> client).
	TypeMessageAck = "message_ack"
	// TypeMessageNew pushes a newly accepted message to conversation members (server -> client).
	TypeMessageNew = "message_new"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	ConvID  int64           `json:"conv_id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello,
		TypeHelloAck,
		TypeConversationJoin,
		TypeMessageSend,
		TypeMessageAck,
		TypeMessageNew,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// NewEnvelope builds a versioned envelope around an already encoded payload.
func NewEnvelope(typ, id string, convID int64, payload json.RawMessage, ts time.Time) Envelope {
	return Envelope{
		V:       Version,
		Type:    typ,
		ID:      id,
		ConvID:  convID,
		TS:      ts,
		Payload: payload,
	}
}
