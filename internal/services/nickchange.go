package services

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/rainbowbismuth/euphoria-go/internal/agent"
	"github.com/rainbowbismuth/euphoria-go/internal/bot"
	"github.com/rainbowbismuth/euphoria-go/internal/data"
)

var nickChangeRe = regexp.MustCompile(`^!nick\s+(.+)$`)

// NickChange lets any room member retarget the bot's desired nick with
// "!nick newname".
func NickChange(logger *zap.Logger, host bot.Host, _ map[string]any) (*agent.Agent, error) {
	a := agent.New(logger)
	host.AddListener(a, func(pkt data.Packet) {
		a.Cast(func() { onNickChangePacket(host, pkt) })
	})
	return a, nil
}

func onNickChangePacket(host bot.Host, pkt data.Packet) {
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
	m := nickChangeRe.FindStringSubmatch(strings.TrimSpace(msg.Content))
	if m == nil {
		return
	}
	fut := host.SetDesiredNick(m[1])
	if nickErr, waitErr := fut.Wait(context.Background()); waitErr == nil && nickErr != nil {
		host.SendContent(nickErr.Error(), msg.ID)
	}
}
