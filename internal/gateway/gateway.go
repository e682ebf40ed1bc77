package gateway

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/stellarlinkco/yuki/internal/bus"
	"github.com/stellarlinkco/yuki/internal/channel"
	"github.com/stellarlinkco/yuki/internal/config"
	"github.com/stellarlinkco/yuki/internal/cron"
	"github.com/stellarlinkco/yuki/internal/dispatch"
	"github.com/stellarlinkco/yuki/internal/health"
	"github.com/stellarlinkco/yuki/internal/llm"
	"github.com/stellarlinkco/yuki/internal/memory"
	"github.com/stellarlinkco/yuki/internal/news"
	"github.com/stellarlinkco/yuki/internal/persona"
	"github.com/stellarlinkco/yuki/internal/price"
	"github.com/stellarlinkco/yuki/internal/ratelimit"
)

const (
	jobNews      = "daily-news"
	jobReminders = "daily-reminders"
	jobPrices    = "price-watch"
)

// Options for creating a Gateway
type Options struct {
	LLM        llm.Client     // defaults to an OpenAI-compatible client from cfg.Provider
	Store      memory.Store   // defaults to memory.Open from cfg.Memory
	SignalChan chan os.Signal // for testing signal handling
}

// modelSetter is implemented by clients whose chat model is resolved at startup.
type modelSetter interface {
	SetModel(model string)
}

type Gateway struct {
	cfg        *config.Config
	bus        *bus.MessageBus
	store      memory.Store
	llm        llm.Client
	dispatcher *dispatch.Dispatcher
	channels   *channel.ChannelManager
	cron       *cron.Service
	prices     *price.Checker
	health     *health.Server
	owner      dispatch.Target
	signalChan chan os.Signal

	done     chan struct{} // closed by Shutdown
	stopOnce sync.Once
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{cfg: cfg, signalChan: opts.SignalChan, done: make(chan struct{})}

	g.bus = bus.NewMessageBus(config.DefaultBufSize)

	g.store = opts.Store
	if g.store == nil {
		engine, err := memory.Open(cfg.Memory.Driver, cfg.Memory.DBPath, cfg.Memory.DSN)
		if err != nil {
			return nil, fmt.Errorf("open memory store: %w", err)
		}
		g.store = engine
	}

	g.llm = opts.LLM
	if g.llm == nil {
		g.llm = llm.NewFromProvider(cfg.Provider)
	}

	personaPath := cfg.Bot.PersonaPath
	if personaPath == "" {
		personaPath = filepath.Join(config.ConfigDir(), "persona.yaml")
	}
	p, err := persona.Load(personaPath)
	if err != nil {
		g.closeStore()
		return nil, fmt.Errorf("load persona: %w", err)
	}

	loc := loadLocation(cfg.Bot.Timezone)

	chMgr, err := channel.NewChannelManager(cfg.Channels, g.bus)
	if err != nil {
		g.closeStore()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	var fetcher dispatch.MediaFetcher
	if ch, ok := chMgr.Get(channel.TelegramChannelName); ok {
		fetcher, _ = ch.(dispatch.MediaFetcher)
	}

	var digester dispatch.NewsDigester
	if cfg.News.Enabled {
		digester = news.NewServiceFromConfig(cfg.News, g.llm)
	}

	g.dispatcher = dispatch.New(dispatch.Options{
		Persona:            p,
		TriggerWords:       cfg.Bot.TriggerWords,
		Store:              g.store,
		LLM:                g.llm,
		News:               digester,
		Media:              fetcher,
		Limiter:            ratelimit.New(time.Duration(cfg.Bot.CooldownSeconds) * time.Second),
		Send:               g.publish,
		Location:           loc,
		ReminderWindowDays: cfg.Schedule.ReminderWindowDays,
		SectionDelay:       dispatch.DefaultSectionDelay,
	})

	g.prices = price.NewChecker(cfg.PriceWatches, g.store, time.Duration(cfg.News.TimeoutSec)*time.Second)
	g.owner = dispatch.Target{Channel: channel.TelegramChannelName, ChatID: cfg.Bot.OwnerChatID}

	g.cron = cron.NewService(filepath.Join(config.ConfigDir(), "data", "cron", "state.json"), loc)
	if err := g.registerJobs(); err != nil {
		g.closeStore()
		return nil, err
	}

	g.health = health.NewServer(fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port), cfg.Bot.Name)

	return g, nil
}

func loadLocation(name string) *time.Location {
	if strings.TrimSpace(name) == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Printf("[gateway] unknown timezone %q, using local time: %v", name, err)
		return time.Local
	}
	return loc
}

// publish queues msg for delivery. After Shutdown nothing drains the queue,
// so late messages are dropped instead of blocking the sender.
func (g *Gateway) publish(msg bus.OutboundMessage) {
	select {
	case g.bus.Outbound <- msg:
	case <-g.done:
		log.Printf("[gateway] dropping outbound to %s/%s: shut down", msg.Channel, msg.ChatID)
	}
}

// registerJobs wires the scheduled pushes. They all go to the owner chat, so
// without one nothing is scheduled.
func (g *Gateway) registerJobs() error {
	if g.owner.ChatID == "" {
		log.Printf("[gateway] no owner chat configured, scheduled pushes disabled")
		return nil
	}

	if g.cfg.News.Enabled {
		if err := g.cron.AddDaily(jobNews, g.cfg.Schedule.NewsTime, func(ctx context.Context) (string, error) {
			return g.dispatcher.PushNews(ctx, g.owner)
		}); err != nil {
			return fmt.Errorf("register news job: %w", err)
		}
	}

	if err := g.cron.AddDaily(jobReminders, g.cfg.Schedule.ReminderTime, func(ctx context.Context) (string, error) {
		return g.dispatcher.PushReminders(ctx, g.owner)
	}); err != nil {
		return fmt.Errorf("register reminder job: %w", err)
	}

	if len(g.prices.Watches()) > 0 {
		every, err := time.ParseDuration(g.cfg.Schedule.PriceCheckInterval)
		if err != nil {
			return fmt.Errorf("parse price check interval: %w", err)
		}
		if err := g.cron.AddEvery(jobPrices, every, g.checkPrices); err != nil {
			return fmt.Errorf("register price job: %w", err)
		}
	}
	return nil
}

func (g *Gateway) checkPrices(ctx context.Context) (string, error) {
	alerts := g.prices.Check(ctx)
	for _, a := range alerts {
		g.dispatcher.Push(g.owner, a)
	}
	return fmt.Sprintf("%d alerts", len(alerts)), nil
}

// resolveModel picks the chat model once from the configured priority list.
func (g *Gateway) resolveModel(ctx context.Context) {
	setter, ok := g.llm.(modelSetter)
	if !ok {
		return
	}
	setter.SetModel(llm.ResolveModel(ctx, g.llm, g.cfg.Provider.Models))
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g.resolveModel(ctx)

	go g.bus.DispatchOutbound(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())

	if err := g.cron.Start(ctx); err != nil {
		log.Printf("[gateway] cron start warning: %v", err)
	}

	if err := g.health.Start(ctx); err != nil {
		log.Printf("[gateway] health server warning: %v", err)
	}

	go g.processLoop(ctx)

	log.Printf("[gateway] running on %s:%d", g.cfg.Gateway.Host, g.cfg.Gateway.Port)

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			log.Printf("[gateway] inbound from %s/%s: %s", msg.Channel, msg.SenderID, truncate(msg.Content, 80))
			g.handle(ctx, msg)
		case <-ctx.Done():
			return
		}
	}
}

// handle runs one dispatch; a panicking handler is logged and the loop
// carries on with the next event.
func (g *Gateway) handle(ctx context.Context, msg bus.InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[gateway] dispatch panic for %s/%s: %v", msg.Channel, msg.SenderID, r)
		}
	}()
	g.dispatcher.Handle(ctx, msg)
}

func (g *Gateway) Shutdown() error {
	g.stopOnce.Do(func() { close(g.done) })
	g.cron.Stop()
	g.health.Stop()
	_ = g.channels.StopAll()
	g.closeStore()
	log.Printf("[gateway] shutdown complete")
	return nil
}

func (g *Gateway) closeStore() {
	if g.store == nil {
		return
	}
	if err := g.store.Close(); err != nil {
		log.Printf("[gateway] close memory store warning: %v", err)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
