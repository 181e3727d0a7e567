package data

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestPacketPayloadErrorResponse(t *testing.T) {
	p := Packet{Type: TypeAuthReply, Error: "room is closed"}
	_, err := p.Payload()
	if !errors.Is(err, ErrErrorResponse) {
		t.Fatalf("expected ErrErrorResponse, got %v", err)
	}
}

func TestPacketPayloadUnknownType(t *testing.T) {
	p := Packet{Type: "mystery-event"}
	_, err := p.Payload()
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestHelloEventAccountHasAccessDefault(t *testing.T) {
	raw := []byte(`{"type":"hello-event","data":{"id":"agent:1","session":{"id":"s1","name":"alice"},"room_is_private":false,"version":"1"}}`)
	var p Packet
	if err := json.Unmarshal(raw, &p); err != nil {
		t.Fatalf("unmarshal packet: %v", err)
	}
	payload, err := p.Payload()
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	hello, ok := payload.(HelloEvent)
	if !ok {
		t.Fatalf("expected HelloEvent, got %T", payload)
	}
	if !hello.AccountHasAccess {
		t.Fatalf("expected account_has_access to default to true")
	}
	if hello.Session.Name != "alice" {
		t.Fatalf("expected session name alice, got %q", hello.Session.Name)
	}
}

func TestBounceEventAuthOptionsDefault(t *testing.T) {
	raw := []byte(`{"type":"bounce-event","data":{}}`)
	var p Packet
	if err := json.Unmarshal(raw, &p); err != nil {
		t.Fatalf("unmarshal packet: %v", err)
	}
	payload, err := p.Payload()
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	bounce, ok := payload.(BounceEvent)
	if !ok {
		t.Fatalf("expected BounceEvent, got %T", payload)
	}
	if len(bounce.AuthOptions) != 1 || bounce.AuthOptions[0] != "passcode" {
		t.Fatalf("expected default auth_options [passcode], got %v", bounce.AuthOptions)
	}
}

func TestNickReplyDecode(t *testing.T) {
	raw := []byte(`{"id":"2","type":"nick-reply","data":{"session_id":"sess1","id":"agent:1","from":"old","to":"new"}}`)
	var p Packet
	if err := json.Unmarshal(raw, &p); err != nil {
		t.Fatalf("unmarshal packet: %v", err)
	}
	payload, err := p.Payload()
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	nick, ok := payload.(NickPacket)
	if !ok {
		t.Fatalf("expected NickPacket, got %T", payload)
	}
	if nick.To != "new" {
		t.Fatalf("expected to=new, got %q", nick.To)
	}
}

func TestPingEventRoundTrip(t *testing.T) {
	raw := []byte(`{"type":"ping-event","data":{"time":42,"next":60}}`)
	var p Packet
	if err := json.Unmarshal(raw, &p); err != nil {
		t.Fatalf("unmarshal packet: %v", err)
	}
	payload, err := p.Payload()
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	ping, ok := payload.(PingEvent)
	if !ok {
		t.Fatalf("expected PingEvent, got %T", payload)
	}
	if ping.Time != 42 || ping.Next != 60 {
		t.Fatalf("unexpected ping event: %+v", ping)
	}
}
