// Package nickauth implements a reactive state machine that keeps a chat
// session's displayed nick equal to a desired nick, and tracks whether the
// session is authorized to speak in the current room.
package nickauth

import (
	"context"

	"go.uber.org/zap"

	"github.com/rainbowbismuth/euphoria-go/internal/agent"
	"github.com/rainbowbismuth/euphoria-go/internal/data"
)

// chatClient is the subset of client.Client the machine needs. Expressed
// as an interface so tests can substitute a fake.
type chatClient interface {
	Agent() *agent.Agent
	SendNick(name string) *agent.Future[data.Packet]
	SendAuth(passcode string) *agent.Future[data.Packet]
	AddListener(a *agent.Agent, onPacket func(data.Packet))
}

// Machine tracks current_nick, desired_nick, passcode, and authorized,
// reacting only to HelloEvent, BounceEvent, and Nick broadcasts — mirroring
// the source material, which never special-cases a SendReply's nickname
// (see DESIGN.md's Open Question decisions).
type Machine struct {
	agentHandle *agent.Agent
	logger      *zap.Logger
	client      chatClient

	currentNick string
	desiredNick string
	passcode    string
	authorized  bool
}

// New constructs the machine and registers it as a listener on client. It
// does not attempt a nick or auth until a HelloEvent or BounceEvent arrives.
func New(logger *zap.Logger, client chatClient, desiredNick, passcode string) *Machine {
	m := &Machine{
		agentHandle: agent.New(logger.Named("nickauth")),
		logger:      logger,
		client:      client,
		desiredNick: desiredNick,
		passcode:    passcode,
	}
	client.AddListener(m.agentHandle, m.onPacket)
	return m
}

// Agent exposes the machine's own agent for linking and monitoring.
func (m *Machine) Agent() *agent.Agent { return m.agentHandle }

// CurrentNick returns the last nick the machine believes is in effect.
func (m *Machine) CurrentNick() (string, error) {
	fut := agent.Call(m.agentHandle, func() (string, error) {
		return m.currentNick, nil
	})
	return fut.Wait(context.Background())
}

// Authorized reports whether the session is currently authorized.
func (m *Machine) Authorized() (bool, error) {
	fut := agent.Call(m.agentHandle, func() (bool, error) {
		return m.authorized, nil
	})
	return fut.Wait(context.Background())
}

// SetDesiredNick updates the goal nick and attempts a nick command,
// resolving with nil on success or an error on failure. A pending prior
// attempt is not cancelled; this call is simply queued after it, so a
// sequence of calls is processed strictly in order ("last writer wins"
// without races).
func (m *Machine) SetDesiredNick(newNick string) *agent.Future[error] {
	return agent.Call(m.agentHandle, func() (error, error) {
		m.desiredNick = newNick
		err := m.tryNick()
		return err, nil
	})
}

// SetPasscode updates the passcode and, if not currently authorized,
// attempts auth and, on success, re-attempts the desired nick.
func (m *Machine) SetPasscode(newPasscode string) *agent.Future[error] {
	return agent.Call(m.agentHandle, func() (error, error) {
		m.passcode = newPasscode
		if m.authorized {
			return nil, nil
		}
		err := m.tryAuth()
		return err, nil
	})
}

func (m *Machine) onPacket(pkt data.Packet) {
	m.agentHandle.Cast(func() {
		payload, err := pkt.Payload()
		if err != nil {
			return
		}
		switch v := payload.(type) {
		case data.HelloEvent:
			m.currentNick = v.Session.Name
			m.authorized = !v.RoomIsPrivate
			if m.authorized {
				_ = m.tryNick()
			}
		case data.BounceEvent:
			m.authorized = false
			_ = m.tryAuth()
		case data.NickPacket:
			if pkt.Error == "" {
				m.currentNick = v.To
			}
		}
	})
}

// tryNick issues a nick command toward the desired nick if it is not
// already in effect. Must run on the machine's own mailbox.
func (m *Machine) tryNick() error {
	if m.currentNick == m.desiredNick {
		return nil
	}
	fut := m.client.SendNick(m.desiredNick)
	reply, err := fut.Wait(context.Background())
	if err != nil {
		m.logger.Warn("nick command failed", zap.Error(err))
		return err
	}
	if reply.Error != "" {
		m.logger.Warn("nick command rejected", zap.String("reason", reply.Error))
		return data.ErrErrorResponse
	}
	var body struct {
		To string `json:"to"`
	}
	if err := decodeInto(reply, &body); err == nil && body.To != "" {
		m.currentNick = body.To
	}
	return nil
}

// tryAuth issues an auth command with the current passcode. Must run on
// the machine's own mailbox.
func (m *Machine) tryAuth() error {
	fut := m.client.SendAuth(m.passcode)
	reply, err := fut.Wait(context.Background())
	if err != nil {
		m.logger.Warn("auth command failed", zap.Error(err))
		return err
	}
	if reply.Error != "" {
		return data.ErrErrorResponse
	}
	var body struct {
		Success bool   `json:"success"`
		Reason  string `json:"reason"`
	}
	if err := decodeInto(reply, &body); err != nil {
		return err
	}
	if !body.Success {
		m.logger.Warn("auth rejected", zap.String("reason", body.Reason))
		return data.ErrErrorResponse
	}
	m.authorized = true
	return m.tryNick()
}
