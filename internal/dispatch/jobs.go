package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/stellarlinkco/yuki/internal/bus"
	"github.com/stellarlinkco/yuki/internal/extract"
)

// Target is the chat scheduled pushes go to.
type Target struct {
	Channel string
	ChatID  string
}

func (t Target) valid() bool {
	return t.Channel != "" && t.ChatID != ""
}

// Push sends text to target outside of any inbound event.
func (d *Dispatcher) Push(target Target, text string) {
	d.send(bus.OutboundMessage{Channel: target.Channel, ChatID: target.ChatID, Content: text})
}

// PushNews sends the news digest to target, one section at a time.
func (d *Dispatcher) PushNews(ctx context.Context, target Target) (string, error) {
	if !target.valid() {
		return "", fmt.Errorf("push news: no target chat")
	}
	if d.news == nil {
		return "news disabled", nil
	}
	sections := d.news.Digest(ctx)
	d.sendSections(ctx, sections, func(s string) { d.Push(target, s) })
	return fmt.Sprintf("sent %d sections", len(sections)), nil
}

// PushReminders announces every upcoming event whose reminder window
// contains today. Nothing is sent when no event is due.
func (d *Dispatcher) PushReminders(ctx context.Context, target Target) (string, error) {
	if !target.valid() {
		return "", fmt.Errorf("push reminders: no target chat")
	}
	today := d.today()
	// An event is due as soon as its own reminder window opens, which can be
	// further out than the listing window.
	window := max(d.windowDays, extract.MaxReminderDays)
	events, err := d.store.UpcomingEvents(ctx, today, window)
	if err != nil {
		return "", fmt.Errorf("load upcoming events: %w", err)
	}

	var lines []string
	for _, ev := range events {
		if !ev.DueForReminder(today) {
			continue
		}
		days := int(ev.Date.Sub(today).Hours() / 24)
		when := fmt.Sprintf("還有 %d 天", days)
		if days == 0 {
			when = "就是今天！"
		}
		lines = append(lines, fmt.Sprintf("- %s %s（%s）", ev.Date.Format("01/02"), ev.Title, when))
	}
	if len(lines) == 0 {
		return "no reminders due", nil
	}
	d.Push(target, "⏰ 行程提醒：\n"+strings.Join(lines, "\n"))
	return fmt.Sprintf("sent %d reminders", len(lines)), nil
}
