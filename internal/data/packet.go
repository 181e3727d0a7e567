// Package data decodes the JSON envelopes exchanged with the chat service
// into typed event and reply variants.
package data

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Wire type discriminators, see the protocol's "type" field.
const (
	TypeHelloEvent       = "hello-event"
	TypeSnapshotEvent    = "snapshot-event"
	TypePingEvent        = "ping-event"
	TypeBounceEvent      = "bounce-event"
	TypeAuthReply        = "auth-reply"
	TypeNetworkEvent     = "network-event"
	TypeNickEvent        = "nick-event"
	TypeNickReply        = "nick-reply"
	TypeSendEvent        = "send-event"
	TypeEditMessageEvent = "edit-message-event"
	TypeSendReply        = "send-reply"
	TypeJoinEvent        = "join-event"
	TypePartEvent        = "part-event"

	// Outbound command types.
	TypeNick       = "nick"
	TypeAuth       = "auth"
	TypeSend       = "send"
	TypePingReply  = "ping-reply"
	TypeLog        = "log"
	TypeGetMessage = "get-message"
)

// ErrErrorResponse is returned by Packet.Payload when the envelope carries
// a non-empty server error.
var ErrErrorResponse = errors.New("data: error response")

// ErrUnknownType is returned by Packet.Payload for a "type" with no decoder.
var ErrUnknownType = errors.New("data: unknown packet type")

// Packet is one inbound or outbound JSON envelope.
type Packet struct {
	ID              string          `json:"id,omitempty"`
	Type            string          `json:"type"`
	Data            json.RawMessage `json:"data,omitempty"`
	Error           string          `json:"error,omitempty"`
	Throttled       bool            `json:"throttled,omitempty"`
	ThrottledReason string          `json:"throttled_reason,omitempty"`
}

// Payload decodes Data according to Type. A packet carrying a non-empty
// Error fails with ErrErrorResponse regardless of Type or Data.
func (p Packet) Payload() (any, error) {
	if p.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrErrorResponse, p.Error)
	}
	decode, ok := decoders[p.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, p.Type)
	}
	return decode(p.Data)
}

// SessionView describes one session present in a room.
type SessionView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ServerID  string `json:"server_id"`
	ServerEra string `json:"server_era"`
	SessionID string `json:"session_id"`
	IsStaff   bool   `json:"is_staff"`
	IsManager bool   `json:"is_manager"`
}

// HelloEvent is sent once per connection identifying the session.
type HelloEvent struct {
	ID               string      `json:"id"`
	Account          string      `json:"account,omitempty"`
	Session          SessionView `json:"session"`
	AccountHasAccess bool        `json:"account_has_access"`
	RoomIsPrivate    bool        `json:"room_is_private"`
	Version          string      `json:"version"`
}

// UnmarshalJSON defaults AccountHasAccess to true when the field is absent,
// matching the original service's default.
func (h *HelloEvent) UnmarshalJSON(raw []byte) error {
	type alias HelloEvent
	aux := struct {
		AccountHasAccess *bool `json:"account_has_access"`
		*alias
	}{alias: (*alias)(h)}
	if err := json.Unmarshal(raw, &aux); err != nil {
		return err
	}
	if aux.AccountHasAccess == nil {
		h.AccountHasAccess = true
	} else {
		h.AccountHasAccess = *aux.AccountHasAccess
	}
	return nil
}

// PingEvent is a periodic keepalive the core may auto-reply to.
type PingEvent struct {
	Time int64 `json:"time"`
	Next int64 `json:"next"`
}

// BounceEvent indicates the session is not authorized for the room.
type BounceEvent struct {
	Reason      string   `json:"reason,omitempty"`
	AuthOptions []string `json:"auth_options,omitempty"`
}

// UnmarshalJSON defaults AuthOptions to ["passcode"] when absent or empty.
func (b *BounceEvent) UnmarshalJSON(raw []byte) error {
	type alias BounceEvent
	aux := (*alias)(b)
	if err := json.Unmarshal(raw, aux); err != nil {
		return err
	}
	if len(b.AuthOptions) == 0 {
		b.AuthOptions = []string{"passcode"}
	}
	return nil
}

// AuthReply answers an auth command.
type AuthReply struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// Message is a posted chat message, used for SendEvent, SendReply, and
// EditMessageEvent alike — they share one wire shape.
type Message struct {
	ID              string      `json:"id"`
	EditID          string      `json:"edit_id,omitempty"`
	Parent          string      `json:"parent,omitempty"`
	PreviousEditID  string      `json:"previous_edit_id,omitempty"`
	Time            int64       `json:"time"`
	Sender          SessionView `json:"sender"`
	Content         string      `json:"content"`
	EncryptionKeyID string      `json:"encryption_key_id,omitempty"`
	Edited          bool        `json:"edited,omitempty"`
	Deleted         bool        `json:"deleted,omitempty"`
	Truncated       bool        `json:"truncated"`
}

// SnapshotEvent carries the room state at connect time.
type SnapshotEvent struct {
	Identity  string        `json:"identity"`
	SessionID string        `json:"session_id"`
	Version   string        `json:"version"`
	Listing   []SessionView `json:"listing"`
	Log       []Message     `json:"log"`
}

// NickPacket is the shared shape of NickEvent and NickReply.
type NickPacket struct {
	SessionID string `json:"session_id"`
	ID        string `json:"id"`
	From      string `json:"from"`
	To        string `json:"to"`
}

// NetworkEvent reports server-side topology changes.
type NetworkEvent struct {
	Type      string `json:"type"`
	ServerID  string `json:"server_id"`
	ServerEra string `json:"server_era"`
}

var decoders = map[string]func(json.RawMessage) (any, error){
	TypeHelloEvent:       decodeInto[HelloEvent],
	TypePingEvent:        decodeInto[PingEvent],
	TypeBounceEvent:      decodeInto[BounceEvent],
	TypeAuthReply:        decodeInto[AuthReply],
	TypeSnapshotEvent:    decodeInto[SnapshotEvent],
	TypeNickEvent:        decodeInto[NickPacket],
	TypeNickReply:        decodeInto[NickPacket],
	TypeSendEvent:        decodeInto[Message],
	TypeSendReply:        decodeInto[Message],
	TypeEditMessageEvent: decodeInto[Message],
	TypeJoinEvent:        decodeInto[SessionView],
	TypePartEvent:        decodeInto[SessionView],
	TypeNetworkEvent:     decodeInto[NetworkEvent],
}

func decodeInto[T any](raw json.RawMessage) (any, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("data: decode: %w", err)
	}
	return v, nil
}
