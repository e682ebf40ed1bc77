// Package dispatch turns one inbound chat event into zero or one replies.
//
// Events pass three gates (media kind, group trigger word, per-user
// cool-down) and then an ordered rule table; the first matching rule handles
// the event and nothing after it runs. Slash commands skip the trigger and
// cool-down gates.
package dispatch

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stellarlinkco/yuki/internal/bus"
	"github.com/stellarlinkco/yuki/internal/llm"
	"github.com/stellarlinkco/yuki/internal/memory"
	"github.com/stellarlinkco/yuki/internal/persona"
	"github.com/stellarlinkco/yuki/internal/ratelimit"
)

// SendFunc publishes one outbound message.
type SendFunc func(bus.OutboundMessage)

// MediaFetcher downloads the bytes behind a transport file id.
type MediaFetcher interface {
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

// NewsDigester renders the news digest, one message per section.
type NewsDigester interface {
	Digest(ctx context.Context) []string
}

// DefaultSectionDelay separates independently labelled sections such as news
// categories.
const DefaultSectionDelay = 2 * time.Second

type Options struct {
	Persona      persona.Persona
	TriggerWords []string
	Store        memory.Store
	LLM          llm.Client
	News         NewsDigester // nil disables news
	Media        MediaFetcher
	Limiter      *ratelimit.Cooldown
	Send         SendFunc

	Location           *time.Location
	ReminderWindowDays int
	SectionDelay       time.Duration
	Now                func() time.Time
}

type Dispatcher struct {
	persona      persona.Persona
	triggers     []string
	store        memory.Store
	llm          llm.Client
	news         NewsDigester
	media        MediaFetcher
	limiter      *ratelimit.Cooldown
	send         SendFunc
	loc          *time.Location
	windowDays   int
	sectionDelay time.Duration
	now          func() time.Time

	rules    []rule
	commands map[string]commandFunc
}

func New(opts Options) *Dispatcher {
	d := &Dispatcher{
		persona:      opts.Persona,
		triggers:     opts.TriggerWords,
		store:        opts.Store,
		llm:          opts.LLM,
		news:         opts.News,
		media:        opts.Media,
		limiter:      opts.Limiter,
		send:         opts.Send,
		loc:          opts.Location,
		windowDays:   opts.ReminderWindowDays,
		sectionDelay: opts.SectionDelay,
		now:          opts.Now,
	}
	if d.persona.Name == "" {
		d.persona = persona.Default()
	}
	if d.limiter == nil {
		d.limiter = ratelimit.New(ratelimit.DefaultCooldown)
	}
	if d.send == nil {
		d.send = func(bus.OutboundMessage) {}
	}
	if d.loc == nil {
		d.loc = time.Local
	}
	if d.windowDays <= 0 {
		d.windowDays = 7
	}
	if d.sectionDelay < 0 {
		d.sectionDelay = 0
	}
	if d.now == nil {
		d.now = time.Now
	}
	d.rules = d.buildRules()
	d.commands = d.buildCommands()
	return d
}

// event is one inbound message as seen by the rules.
type event struct {
	id   string
	msg  bus.InboundMessage
	text string // content or caption with trigger words removed in groups
}

func (e *event) sender() string {
	if s := strings.TrimSpace(e.msg.SenderName); s != "" {
		return s
	}
	return memory.DefaultSender
}

func (e *event) isText() bool {
	return e.msg.Media.Kind == bus.MediaNone
}

type rule struct {
	name   string
	match  func(*event) bool
	handle func(context.Context, *event)
}

// buildRules returns the handler table in priority order.
func (d *Dispatcher) buildRules() []rule {
	return []rule{
		{"setting", d.matchSetting, d.handleSetting},
		{"remember", textWith(rememberKeywords...), d.handleRemember},
		{"calendar", textWith(calendarKeywords...), d.handleCalendar},
		{"shopping", d.matchShopping, d.handleShopping},
		{"expense", textWith(expenseKeywords...), d.handleExpense},
		{"news", textWith(newsKeywords...), d.handleNews},
		{"voice", mediaIs(bus.MediaVoice), d.handleVoice},
		{"photo", mediaIs(bus.MediaPhoto), d.handlePhoto},
		{"chat", func(e *event) bool { return e.isText() && e.text != "" }, d.handleChat},
	}
}

// Handle runs msg through the gates and the first matching rule.
func (d *Dispatcher) Handle(ctx context.Context, msg bus.InboundMessage) {
	ev := &event{id: uuid.NewString()[:8], msg: msg}

	if msg.Media.Kind == bus.MediaOther {
		log.Printf("[dispatch] %s drop: unsupported media from %s", ev.id, msg.SenderID)
		return
	}

	if name, args, ok := d.parseCommand(msg); ok {
		if fn, known := d.commands[name]; known {
			log.Printf("[dispatch] %s command /%s from %s", ev.id, name, msg.SenderID)
			ev.text = args
			fn(ctx, ev)
			return
		}
	}

	raw := msg.Content
	if !ev.isText() {
		raw = msg.Caption
	}
	if msg.IsGroup() {
		if !d.hasTrigger(raw) {
			return
		}
		raw = d.stripTriggers(raw)
	}
	ev.text = strings.TrimSpace(raw)

	if !d.limiter.Allow(msg.SenderID, msg.ChatKind) {
		log.Printf("[dispatch] %s drop: cool-down for %s", ev.id, msg.SenderID)
		return
	}

	for _, r := range d.rules {
		if r.match(ev) {
			log.Printf("[dispatch] %s %s from %s: %s", ev.id, r.name, msg.SenderID, truncate(ev.text, 80))
			r.handle(ctx, ev)
			return
		}
	}
	log.Printf("[dispatch] %s drop: nothing to do", ev.id)
}

func (d *Dispatcher) hasTrigger(text string) bool {
	for _, w := range d.triggers {
		if w != "" && strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func (d *Dispatcher) stripTriggers(text string) string {
	for _, w := range d.triggers {
		if w != "" {
			text = strings.ReplaceAll(text, w, "")
		}
	}
	return strings.TrimLeft(strings.TrimSpace(text), ",，:：")
}

// reply sends text back to the chat the event came from. Group replies quote
// the original message.
func (d *Dispatcher) reply(ev *event, text string) {
	out := bus.OutboundMessage{
		Channel: ev.msg.Channel,
		ChatID:  ev.msg.ChatID,
		Content: text,
	}
	if ev.msg.IsGroup() {
		if id, ok := ev.msg.Metadata["message_id"].(int); ok && id > 0 {
			out.ReplyTo = strconv.Itoa(id)
		}
	}
	d.send(out)
}

// replyError converts a handler failure into one of the fixed messages.
func (d *Dispatcher) replyError(ev *event, err error, fallback string) {
	log.Printf("[dispatch] %s error: %v", ev.id, err)
	if errors.Is(err, llm.ErrQuotaExceeded) {
		d.reply(ev, msgQuotaExceeded)
		return
	}
	d.reply(ev, fallback)
}

// today is the current calendar day in the bot's timezone, as a UTC midnight
// so it compares cleanly with stored dates.
func (d *Dispatcher) today() time.Time {
	y, m, day := d.now().In(d.loc).Date()
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

func textWith(keywords ...string) func(*event) bool {
	return func(e *event) bool {
		return e.isText() && containsAny(e.text, keywords)
	}
}

func mediaIs(kind bus.MediaKind) func(*event) bool {
	return func(e *event) bool { return e.msg.Media.Kind == kind }
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
