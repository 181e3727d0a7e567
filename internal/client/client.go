// Package client implements a reply-correlating websocket client for the
// chat service: one socket, a linked receive subtask, request/reply
// correlation, automatic ping replies, and listener fan-out.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rainbowbismuth/euphoria-go/internal/agent"
	"github.com/rainbowbismuth/euphoria-go/internal/data"
)

// DefaultURIFormat is the room URL template used when a bot config omits
// uri_format.
const DefaultURIFormat = "wss://euphoria.io:443/room/%s/ws"

// idSeed is the correlation counter's starting value; the counter is
// incremented before each use, so the first id sent is idSeed+1. Any
// nonzero seed works; this one nods to the value used by the original client.
const idSeed = 0xBEEF

const writeWait = 10 * time.Second

type listenerEntry struct {
	agent    *agent.Agent
	onPacket func(data.Packet)
}

// Client owns one socket connection to the chat service.
type Client struct {
	agentHandle *agent.Agent
	logger      *zap.Logger
	conn        *websocket.Conn
	roomURL     string
	handlePings bool

	nextID   uint64
	replyMu  sync.Mutex
	replyMap map[string]*agent.Future[data.Packet]

	listeners []listenerEntry

	onConnect func()
}

// SetOnConnect installs a callback invoked every time Connect succeeds —
// e.g. to increment a reconnect counter. Must be called before Connect.
func (c *Client) SetOnConnect(fn func()) {
	c.onConnect = fn
}

// New constructs a Client that will dial room via uriFormat (falling back
// to DefaultURIFormat when empty). Connect must be called to actually open
// the socket.
func New(logger *zap.Logger, room, uriFormat string, handlePings bool) *Client {
	if uriFormat == "" {
		uriFormat = DefaultURIFormat
	}
	c := &Client{
		agentHandle: agent.New(logger.Named("client")),
		logger:      logger,
		roomURL:     fmt.Sprintf(uriFormat, room),
		handlePings: handlePings,
		nextID:      idSeed,
		replyMap:    make(map[string]*agent.Future[data.Packet]),
	}
	c.watchExit()
	return c
}

// Agent exposes the client's own agent for linking and monitoring.
func (c *Client) Agent() *agent.Agent { return c.agentHandle }

// watchExit cancels every pending reply future and closes the socket once
// the client's agent exits, regardless of what triggered the exit (a
// linked peer, a read failure, or an explicit external Exit call).
func (c *Client) watchExit() {
	go func() {
		<-c.agentHandle.Done()
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.replyMu.Lock()
		pending := c.replyMap
		c.replyMap = map[string]*agent.Future[data.Packet]{}
		c.replyMu.Unlock()
		for _, fut := range pending {
			fut.Resolve(data.Packet{}, agent.ErrAgentExited)
		}
	}()
}

// Connect dials the socket and starts the receive loop as a linked
// subtask: a read failure or clean EOF always brings the client down too.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.roomURL, nil)
	if err != nil {
		return fmt.Errorf("client: dial: %w", err)
	}
	c.conn = conn
	c.agentHandle.SpawnLinkedTask(c.logger.Named("receive"), c.receiveLoop, false)
	if c.onConnect != nil {
		c.onConnect()
	}
	return nil
}

func (c *Client) receiveLoop() error {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("client: read: %w", err)
		}
		var pkt data.Packet
		if err := json.Unmarshal(raw, &pkt); err != nil {
			c.logger.Warn("dropping malformed packet", zap.Error(err))
			continue
		}
		c.handleInbound(pkt)
	}
}

// handleInbound is dispatched onto the client's own mailbox so that reply
// resolution, ping replies, and listener fan-out never interleave with
// outbound sends.
func (c *Client) handleInbound(pkt data.Packet) {
	c.agentHandle.Cast(func() {
		if pkt.ID != "" {
			c.replyMu.Lock()
			fut, ok := c.replyMap[pkt.ID]
			if ok {
				delete(c.replyMap, pkt.ID)
			}
			c.replyMu.Unlock()
			if ok {
				fut.Resolve(pkt, nil)
			} else {
				c.logger.Warn("dropping reply with unknown correlation id", zap.String("id", pkt.ID))
			}
		}
		if c.handlePings && pkt.Type == data.TypePingEvent {
			c.replyToPing(pkt)
		}
		c.dispatchToListeners(pkt)
	})
}

func (c *Client) replyToPing(pkt data.Packet) {
	payload, err := pkt.Payload()
	if err != nil {
		c.logger.Warn("could not decode ping event", zap.Error(err))
		return
	}
	ping, ok := payload.(data.PingEvent)
	if !ok {
		return
	}
	out := data.Packet{Type: data.TypePingReply, Data: mustMarshal(pingReplyCommand{Time: ping.Time})}
	if err := c.writeEnvelope(out); err != nil {
		c.logger.Warn("ping reply failed", zap.Error(err))
	}
}

// dispatchToListeners iterates the listener set, lazily dropping any whose
// agent has already exited.
func (c *Client) dispatchToListeners(pkt data.Packet) {
	alive := c.listeners[:0]
	for _, l := range c.listeners {
		if !l.agent.Alive() {
			continue
		}
		alive = append(alive, l)
		onPacket := l.onPacket
		l.agent.Cast(func() { onPacket(pkt) })
	}
	c.listeners = alive
}

// AddListener registers an agent to receive every inbound packet via
// onPacket, delivered cast-style on the listener's own mailbox.
func (c *Client) AddListener(a *agent.Agent, onPacket func(data.Packet)) {
	c.agentHandle.Cast(func() {
		c.listeners = append(c.listeners, listenerEntry{agent: a, onPacket: onPacket})
	})
}

func (c *Client) nextCorrelationID() string {
	c.nextID++
	return strconv.FormatUint(c.nextID, 10)
}

// sendWithReply assigns a correlation id, registers the reply future in the
// map before writing, and hands the envelope to the socket. The whole
// sequence runs on the client's mailbox so concurrent callers cannot race
// or interleave partial frames.
func (c *Client) sendWithReply(kind string, payload any) *agent.Future[data.Packet] {
	fut := agent.NewFuture[data.Packet]()
	if !c.agentHandle.Alive() {
		fut.Resolve(data.Packet{}, agent.ErrAgentExited)
		return fut
	}
	c.agentHandle.Cast(func() {
		id := c.nextCorrelationID()
		c.replyMu.Lock()
		c.replyMap[id] = fut
		c.replyMu.Unlock()
		if err := c.writeEnvelope(data.Packet{ID: id, Type: kind, Data: mustMarshal(payload)}); err != nil {
			c.replyMu.Lock()
			delete(c.replyMap, id)
			c.replyMu.Unlock()
			fut.Resolve(data.Packet{}, err)
			c.agentHandle.Exit(err)
		}
	})
	return fut
}

func (c *Client) writeEnvelope(pkt data.Packet) error {
	raw, err := json.Marshal(pkt)
	if err != nil {
		return fmt.Errorf("client: marshal envelope: %w", err)
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("client: set write deadline: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("client: write: %w", err)
	}
	return nil
}

func mustMarshal(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("client: marshal command payload: %v", err))
	}
	return raw
}

type nickCommand struct {
	Name string `json:"name"`
}

type authCommand struct {
	Type     string `json:"type"`
	Passcode string `json:"passcode"`
}

type sendCommand struct {
	Content string `json:"content"`
	Parent  string `json:"parent,omitempty"`
}

type pingReplyCommand struct {
	Time int64 `json:"time"`
}

type logCommand struct {
	Before string `json:"before,omitempty"`
	N      int    `json:"n"`
}

type getMessageCommand struct {
	ID string `json:"id"`
}

// SendNick issues a nick command; the reply carries the (possibly
// server-modified) final name.
func (c *Client) SendNick(name string) *agent.Future[data.Packet] {
	return c.sendWithReply(data.TypeNick, nickCommand{Name: name})
}

// SendAuth issues a passcode auth command.
func (c *Client) SendAuth(passcode string) *agent.Future[data.Packet] {
	return c.sendWithReply(data.TypeAuth, authCommand{Type: "passcode", Passcode: passcode})
}

// SendContent posts a chat message, optionally threaded under parent.
func (c *Client) SendContent(content, parent string) *agent.Future[data.Packet] {
	return c.sendWithReply(data.TypeSend, sendCommand{Content: content, Parent: parent})
}

// SendPingReply fires and forgets an acknowledgment of a ping, carrying the
// given time unchanged.
func (c *Client) SendPingReply(t int64) {
	if !c.agentHandle.Alive() {
		return
	}
	c.agentHandle.Cast(func() {
		if err := c.writeEnvelope(data.Packet{Type: data.TypePingReply, Data: mustMarshal(pingReplyCommand{Time: t})}); err != nil {
			c.logger.Warn("ping reply failed", zap.Error(err))
		}
	})
}

// SendLogCommand requests up to n messages before the given message id.
func (c *Client) SendLogCommand(before string, n int) *agent.Future[data.Packet] {
	return c.sendWithReply(data.TypeLog, logCommand{Before: before, N: n})
}

// SendGetMessage requests a single message by id.
func (c *Client) SendGetMessage(id string) *agent.Future[data.Packet] {
	return c.sendWithReply(data.TypeGetMessage, getMessageCommand{ID: id})
}
