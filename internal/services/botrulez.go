// Package services implements the example bot plug-ins: small agents that
// listen to a bot's chat packets and react to "!command" messages.
package services

import (
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/rainbowbismuth/euphoria-go/internal/agent"
	"github.com/rainbowbismuth/euphoria-go/internal/bot"
	"github.com/rainbowbismuth/euphoria-go/internal/data"
)

var (
	pingRe    = regexp.MustCompile(`^!ping\s+@(\S+)`)
	uptimeRe  = regexp.MustCompile(`^!uptime\s+@(\S+)`)
	killRe    = regexp.MustCompile(`^!kill\s+@(\S+)`)
	restartRe = regexp.MustCompile(`^!restart\s+@(\S+)`)
)

// Botrulez answers the conventional "bot rules" commands (!ping, !uptime,
// !kill, !restart) when addressed to the bot's current nick.
func Botrulez(logger *zap.Logger, host bot.Host, _ map[string]any) (*agent.Agent, error) {
	a := agent.New(logger)
	host.AddListener(a, func(pkt data.Packet) {
		a.Cast(func() { onBotrulezPacket(host, pkt) })
	})
	return a, nil
}

func onBotrulezPacket(host bot.Host, pkt data.Packet) {
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
	nick, err := host.CurrentNick()
	if err != nil {
		return
	}

	switch {
	case addressedTo(pingRe, msg.Content, nick):
		host.SendContent("pong!", msg.ID)
	case addressedTo(uptimeRe, msg.Content, nick):
		uptime := time.Since(host.StartedAt()).Round(time.Second)
		host.SendContent(fmt.Sprintf("/me has been up for %s", uptime), msg.ID)
	case addressedTo(killRe, msg.Content, nick):
		host.Agent().Exit(nil)
	case addressedTo(restartRe, msg.Content, nick):
		host.Agent().Exit(fmt.Errorf("botrulez: restart requested"))
	}
}

func addressedTo(re *regexp.Regexp, content, nick string) bool {
	m := re.FindStringSubmatch(content)
	return m != nil && m[1] == nick
}
