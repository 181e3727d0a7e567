package bot

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/rainbowbismuth/euphoria-go/internal/agent"
	"github.com/rainbowbismuth/euphoria-go/internal/botmetrics"
	"github.com/rainbowbismuth/euphoria-go/internal/client"
	"github.com/rainbowbismuth/euphoria-go/internal/data"
	"github.com/rainbowbismuth/euphoria-go/internal/nickauth"
	"github.com/rainbowbismuth/euphoria-go/internal/supervisor"
)

// Host is the subset of Bot that user services are given access to; kept
// as an interface so internal/services can depend on bot without bot
// depending back on internal/services.
type Host interface {
	SendContent(content, parent string) *agent.Future[data.Packet]
	SetDesiredNick(nick string) *agent.Future[error]
	SetPasscode(passcode string) *agent.Future[error]
	AddListener(a *agent.Agent, onPacket func(data.Packet))
	Agent() *agent.Agent
	CurrentNick() (string, error)
	StartedAt() time.Time
	Scheduler() gocron.Scheduler
}

// ServiceFactory constructs a user service agent bound to host. A non-nil
// error here is treated by the services supervisor as an immediate first
// failure of that service.
type ServiceFactory func(logger *zap.Logger, host Host, rawConfig map[string]any) (*agent.Agent, error)

// Bot composes a Client, a NickAndAuth machine, and a one-for-one
// supervisor of user services. All three are bidirectionally linked at
// construction, so losing any one tears down the whole bot — which an
// outer supervisor then restarts per its own intensity limits.
type Bot struct {
	agentHandle *agent.Agent
	logger      *zap.Logger
	cfg         *Config
	client      *client.Client
	nickAuth    *nickauth.Machine
	services    *supervisor.OneForOne
	startedAt   time.Time
	scheduler   gocron.Scheduler
	metrics     *botmetrics.Metrics
}

// New constructs a bot from cfg, wiring every configured service found in
// the registry, and returns once connected to the room. metrics may be nil,
// in which case no Prometheus collectors are updated.
func New(ctx context.Context, logger *zap.Logger, cfg *Config, scheduler gocron.Scheduler, registry map[string]ServiceFactory, metrics *botmetrics.Metrics) (*Bot, error) {
	botAgent := agent.New(logger.Named("bot"))

	c := client.New(logger, cfg.Room, cfg.URIFormat, true)
	if metrics != nil {
		c.SetOnConnect(metrics.ClientReconnects.Inc)
	}
	if err := c.Connect(ctx); err != nil {
		botAgent.Exit(err)
		return nil, err
	}

	na := nickauth.New(logger, c, cfg.Nick, cfg.Passcode)

	services := supervisor.NewOneForOne(logger, scheduler, cfg.ServicesMaxRestarts, cfg.ServicesMaxRestartsPeriodDuration())
	if metrics != nil {
		services.SetOnRestart(func(childName string) {
			metrics.SupervisorRestarts.WithLabelValues(childName).Inc()
		})
	}

	b := &Bot{
		agentHandle: botAgent,
		logger:      logger,
		cfg:         cfg,
		client:      c,
		nickAuth:    na,
		services:    services,
		startedAt:   time.Now(),
		scheduler:   scheduler,
		metrics:     metrics,
	}

	agent.BidirectionalLink(botAgent, c.Agent())
	agent.BidirectionalLink(botAgent, na.Agent())
	agent.BidirectionalLink(botAgent, services.Agent())

	for name, moduleName := range cfg.Services {
		factory, ok := registry[moduleName]
		if !ok {
			logger.Warn("no registered service for configured module", zap.String("service", name), zap.String("module", moduleName))
			continue
		}
		svcFactory := factory
		if err := services.AddChild(name, func(l *zap.Logger) (*agent.Agent, error) {
			return svcFactory(l, b, nil)
		}); err != nil {
			logger.Error("failed to start service", zap.String("service", name), zap.Error(err))
		}
	}

	return b, nil
}

// Agent exposes the bot's own agent, for linking into an outer supervisor.
func (b *Bot) Agent() *agent.Agent { return b.agentHandle }

// StartedAt reports when the bot was constructed, used by services like
// botrulez's !uptime.
func (b *Bot) StartedAt() time.Time { return b.startedAt }

// Scheduler exposes the gocron scheduler shared across the bot's services.
func (b *Bot) Scheduler() gocron.Scheduler { return b.scheduler }

// SendContent posts a chat message through the owned client.
func (b *Bot) SendContent(content, parent string) *agent.Future[data.Packet] {
	return b.client.SendContent(content, parent)
}

// SetDesiredNick delegates to the owned nick-and-auth machine.
func (b *Bot) SetDesiredNick(nick string) *agent.Future[error] {
	return b.nickAuth.SetDesiredNick(nick)
}

// SetPasscode delegates to the owned nick-and-auth machine.
func (b *Bot) SetPasscode(passcode string) *agent.Future[error] {
	return b.nickAuth.SetPasscode(passcode)
}

// AddListener registers a listener on the owned client.
func (b *Bot) AddListener(a *agent.Agent, onPacket func(data.Packet)) {
	b.client.AddListener(a, onPacket)
	if b.metrics != nil {
		b.metrics.ListenersConnected.Inc()
	}
}

// CurrentNick delegates to the owned nick-and-auth machine.
func (b *Bot) CurrentNick() (string, error) {
	return b.nickAuth.CurrentNick()
}

// Services exposes the service supervisor, e.g. so an operator command can
// look up a running service by name.
func (b *Bot) Services() *supervisor.OneForOne { return b.services }

// Close exits the bot and everything linked to it.
func (b *Bot) Close() {
	b.agentHandle.Exit(nil)
}
