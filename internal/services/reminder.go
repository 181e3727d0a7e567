package services

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/rainbowbismuth/euphoria-go/internal/agent"
	"github.com/rainbowbismuth/euphoria-go/internal/bot"
	"github.com/rainbowbismuth/euphoria-go/internal/data"
)

var remindRe = regexp.MustCompile(`^!remind\s+(\d+)m\s+(.+)$`)

// Reminder implements "!remind 15m message", scheduling a one-shot gocron
// job rather than a raw sleep.
func Reminder(logger *zap.Logger, host bot.Host, _ map[string]any) (*agent.Agent, error) {
	a := agent.New(logger)
	host.AddListener(a, func(pkt data.Packet) {
		a.Cast(func() { onReminderPacket(logger, host, pkt) })
	})
	return a, nil
}

func onReminderPacket(logger *zap.Logger, host bot.Host, pkt data.Packet) {
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
	m := remindRe.FindStringSubmatch(msg.Content)
	if m == nil {
		return
	}
	minutes, err := strconv.Atoi(m[1])
	if err != nil {
		return
	}
	length := time.Duration(minutes) * time.Minute
	reminderText := m[2]

	scheduler := host.Scheduler()
	if scheduler == nil {
		logger.Warn("reminder service has no scheduler configured")
		return
	}

	startAt := gocron.OneTimeJobStartDateTime(time.Now().Add(length))
	if length <= 0 {
		startAt = gocron.OneTimeJobStartImmediately()
	}
	_, err = scheduler.NewJob(
		gocron.OneTimeJob(startAt),
		gocron.NewTask(func() {
			if !host.Agent().Alive() {
				return
			}
			host.SendContent(fmt.Sprintf("reminder: %s", reminderText), "")
		}),
	)
	if err != nil {
		logger.Error("failed to schedule reminder", zap.Error(err))
		return
	}
	host.SendContent(fmt.Sprintf("will remind in %dm", minutes), msg.ID)
}
