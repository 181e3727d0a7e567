package nickauth

import (
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/rainbowbismuth/euphoria-go/internal/agent"
	"github.com/rainbowbismuth/euphoria-go/internal/data"
)

type fakeClient struct {
	agentHandle *agent.Agent
	onPacket    func(data.Packet)
	nickCalls   chan string
	authCalls   chan string
	nickReply   func(name string) data.Packet
	authReply   func(passcode string) data.Packet
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		agentHandle: agent.New(zap.NewNop()),
		nickCalls:   make(chan string, 8),
		authCalls:   make(chan string, 8),
	}
}

func (f *fakeClient) Agent() *agent.Agent { return f.agentHandle }

func (f *fakeClient) AddListener(a *agent.Agent, cb func(data.Packet)) {
	f.onPacket = cb
}

func (f *fakeClient) SendNick(name string) *agent.Future[data.Packet] {
	f.nickCalls <- name
	fut := agent.NewFuture[data.Packet]()
	fut.Resolve(f.nickReply(name), nil)
	return fut
}

func (f *fakeClient) SendAuth(passcode string) *agent.Future[data.Packet] {
	f.authCalls <- passcode
	fut := agent.NewFuture[data.Packet]()
	fut.Resolve(f.authReply(passcode), nil)
	return fut
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func TestHelloEventSetsAuthorizedAndAttemptsNick(t *testing.T) {
	f := newFakeClient()
	f.nickReply = func(name string) data.Packet {
		return data.Packet{Type: data.TypeNickReply, Data: mustJSON(t, struct {
			To string `json:"to"`
		}{To: name})}
	}

	m := New(zap.NewNop(), f, "alice", "")
	hello := data.Packet{Type: data.TypeHelloEvent, Data: mustJSON(t, map[string]any{
		"id":              "agent:1",
		"session":         map[string]any{"id": "s1", "name": "someone"},
		"room_is_private": false,
		"version":         "1",
	})}
	f.onPacket(hello)

	select {
	case name := <-f.nickCalls:
		if name != "alice" {
			t.Fatalf("expected nick attempt for alice, got %q", name)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for nick attempt")
	}

	authorized, err := m.Authorized()
	if err != nil {
		t.Fatalf("authorized: %v", err)
	}
	if !authorized {
		t.Fatalf("expected authorized=true after a public-room hello event")
	}

	current, err := m.CurrentNick()
	if err != nil {
		t.Fatalf("current nick: %v", err)
	}
	if current != "alice" {
		t.Fatalf("expected current nick alice after nick reply, got %q", current)
	}
}

func TestBounceThenReauth(t *testing.T) {
	f := newFakeClient()
	f.nickReply = func(name string) data.Packet {
		return data.Packet{Type: data.TypeNickReply, Data: mustJSON(t, struct {
			To string `json:"to"`
		}{To: name})}
	}
	f.authReply = func(passcode string) data.Packet {
		return data.Packet{Type: data.TypeAuthReply, Data: mustJSON(t, struct {
			Success bool `json:"success"`
		}{Success: true})}
	}

	m := New(zap.NewNop(), f, "alice", "open")

	bounce := data.Packet{Type: data.TypeBounceEvent, Data: mustJSON(t, map[string]any{
		"auth_options": []string{"passcode"},
	})}
	f.onPacket(bounce)

	select {
	case passcode := <-f.authCalls:
		if passcode != "open" {
			t.Fatalf("expected auth attempt with passcode open, got %q", passcode)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for auth attempt")
	}

	select {
	case name := <-f.nickCalls:
		if name != "alice" {
			t.Fatalf("expected nick re-attempt for alice, got %q", name)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for nick re-attempt after successful auth")
	}

	authorized, err := m.Authorized()
	if err != nil {
		t.Fatalf("authorized: %v", err)
	}
	if !authorized {
		t.Fatalf("expected authorized=true after successful re-auth")
	}
}

func TestNickReplyUpdatesCurrentNick(t *testing.T) {
	f := newFakeClient()
	m := New(zap.NewNop(), f, "alice", "")

	nickReply := data.Packet{Type: data.TypeNickReply, Data: mustJSON(t, map[string]any{
		"session_id": "s1",
		"id":         "agent:1",
		"from":       "old",
		"to":         "newname",
	})}
	f.onPacket(nickReply)

	deadline := time.After(time.Second)
	for {
		current, err := m.CurrentNick()
		if err != nil {
			t.Fatalf("current nick: %v", err)
		}
		if current == "newname" {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for current nick to become newname, got %q", current)
		case <-time.After(5 * time.Millisecond):
		}
	}
}
