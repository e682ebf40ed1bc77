package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/stellarlinkco/yuki/internal/bus"
	"github.com/stellarlinkco/yuki/internal/llm"
	"github.com/stellarlinkco/yuki/internal/memory"
)

type commandFunc func(context.Context, *event)

func (d *Dispatcher) buildCommands() map[string]commandFunc {
	return map[string]commandFunc{
		"start":    d.cmdHelp,
		"help":     d.cmdHelp,
		"memory":   d.cmdMemory,
		"forget":   d.cmdForget,
		"news":     d.handleNews,
		"events":   d.cmdEvents,
		"shopping": d.cmdShopping,
		"bought":   d.cmdBought,
		"expenses": d.cmdExpenses,
		"summary":  d.cmdSummary,
		"models":   d.cmdModels,
	}
}

// parseCommand recognises "/name args" and "/name@bot args" in text messages.
func (d *Dispatcher) parseCommand(msg bus.InboundMessage) (name, args string, ok bool) {
	if msg.Media.Kind != bus.MediaNone {
		return "", "", false
	}
	text := strings.TrimSpace(msg.Content)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	head, _, _ = strings.Cut(head, "@")
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), strings.TrimSpace(rest), true
}

func (d *Dispatcher) cmdHelp(_ context.Context, e *event) {
	d.reply(e, fmt.Sprintf(helpText, d.persona.Name))
}

func (d *Dispatcher) cmdMemory(ctx context.Context, e *event) {
	facts, err := d.store.AllFacts(ctx)
	if err != nil {
		d.replyError(e, err, msgGenericFailure)
		return
	}
	if len(facts) == 0 {
		d.reply(e, msgNoFacts)
		return
	}
	var sb strings.Builder
	sb.WriteString("🧠 我記得的事情：")
	for _, f := range facts {
		sb.WriteString("\n")
		sb.WriteString(f.String())
	}
	d.reply(e, sb.String())
}

func (d *Dispatcher) cmdForget(ctx context.Context, e *event) {
	if err := d.store.ClearFacts(ctx); err != nil {
		d.replyError(e, err, msgGenericFailure)
		return
	}
	d.reply(e, msgForgotAll)
}

func (d *Dispatcher) cmdEvents(ctx context.Context, e *event) {
	events, err := d.store.UpcomingEvents(ctx, d.today(), d.windowDays)
	if err != nil {
		d.replyError(e, err, msgGenericFailure)
		return
	}
	if len(events) == 0 {
		d.reply(e, fmt.Sprintf("📅 未來 %d 天沒有行程。", d.windowDays))
		return
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "📅 未來 %d 天的行程：", d.windowDays)
	for _, ev := range events {
		fmt.Fprintf(&sb, "\n- %s %s（%s）", ev.Date.Format("01/02"), ev.Title, orDash(ev.Category))
	}
	d.reply(e, sb.String())
}

func (d *Dispatcher) cmdShopping(ctx context.Context, e *event) {
	items, err := d.store.ActiveShoppingItems(ctx)
	if err != nil {
		d.replyError(e, err, msgGenericFailure)
		return
	}
	if len(items) == 0 {
		d.reply(e, msgNoShopping)
		return
	}
	var sb strings.Builder
	sb.WriteString("🛒 購物清單：")
	for _, it := range items {
		fmt.Fprintf(&sb, "\n- %s x%s", it.Item, it.Quantity)
	}
	d.reply(e, sb.String())
}

func (d *Dispatcher) cmdBought(ctx context.Context, e *event) {
	n, err := d.store.CompleteShopping(ctx)
	if err != nil {
		d.replyError(e, err, msgGenericFailure)
		return
	}
	d.reply(e, fmt.Sprintf("✅ 辛苦了！已清空購物清單（%d 項）", n))
}

func (d *Dispatcher) cmdExpenses(ctx context.Context, e *event) {
	today := d.today()
	list, err := d.store.ExpensesForMonth(ctx, today)
	if err != nil {
		d.replyError(e, err, msgGenericFailure)
		return
	}
	if len(list) == 0 {
		d.reply(e, msgNoExpenses)
		return
	}
	d.reply(e, formatExpenses(today, list))
}

// formatExpenses renders per-category sums, largest first, and the total.
func formatExpenses(month time.Time, list []memory.Expense) string {
	sums := make(map[string]float64)
	var total float64
	for _, ex := range list {
		sums[ex.Category] += ex.Amount
		total += ex.Amount
	}
	cats := make([]string, 0, len(sums))
	for c := range sums {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool {
		if sums[cats[i]] != sums[cats[j]] {
			return sums[cats[i]] > sums[cats[j]]
		}
		return cats[i] < cats[j]
	})

	var sb strings.Builder
	fmt.Fprintf(&sb, "💰 %d 年 %d 月支出：", month.Year(), int(month.Month()))
	for _, c := range cats {
		fmt.Fprintf(&sb, "\n- %s：$%.2f", c, sums[c])
	}
	fmt.Fprintf(&sb, "\n總計：$%.2f（%d 筆）", total, len(list))
	return sb.String()
}

func (d *Dispatcher) cmdSummary(ctx context.Context, e *event) {
	quoted := strings.TrimSpace(e.msg.ReplyToText)
	if quoted == "" {
		d.reply(e, msgNeedReply)
		return
	}
	summary, err := d.llm.Complete(ctx, llm.Prompt{
		System: d.persona.Preamble(),
		User:   "請用三到五點條列摘要下面這段內容：\n\n" + quoted,
	})
	if err != nil {
		d.replyError(e, err, msgGenericFailure)
		return
	}
	d.reply(e, "📝 摘要：\n"+strings.TrimSpace(summary))
}

func (d *Dispatcher) cmdModels(ctx context.Context, e *event) {
	models, err := d.llm.ListModels(ctx)
	if err != nil {
		d.replyError(e, err, msgGenericFailure)
		return
	}
	sort.Strings(models)
	d.reply(e, "🤖 可用模型：\n- "+strings.Join(models, "\n- "))
}
