package services

import (
	"strings"

	"go.uber.org/zap"

	"github.com/rainbowbismuth/euphoria-go/internal/agent"
	"github.com/rainbowbismuth/euphoria-go/internal/bot"
	"github.com/rainbowbismuth/euphoria-go/internal/data"
)

// Quitter posts a farewell and shuts the bot down cleanly on "!quit". Unlike
// the original's sys.exit(), this only exits the bot's own agent tree; an
// outer supervisor decides whether to restart it.
func Quitter(logger *zap.Logger, host bot.Host, _ map[string]any) (*agent.Agent, error) {
	a := agent.New(logger)
	host.AddListener(a, func(pkt data.Packet) {
		a.Cast(func() { onQuitterPacket(host, pkt) })
	})
	return a, nil
}

func onQuitterPacket(host bot.Host, pkt data.Packet) {
	if pkt.Type != data.TypeSendEvent {
		return
	}
	payload, err := pkt.Payload()
	if err != nil {
		return
	}
	msg, ok := payload.(data.Message)
	if !ok {
		return
	}
	if !strings.HasPrefix(strings.TrimSpace(msg.Content), "!quit") {
		return
	}
	host.SendContent("goodbye!", msg.ID)
	host.Agent().Exit(nil)
}
