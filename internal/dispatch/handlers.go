package dispatch

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/stellarlinkco/yuki/internal/classifier"
	"github.com/stellarlinkco/yuki/internal/extract"
	"github.com/stellarlinkco/yuki/internal/llm"
	"github.com/stellarlinkco/yuki/internal/memory"
	"github.com/stellarlinkco/yuki/internal/persona"
)

var (
	settingPrefixes  = []string{"設定:", "設定："}
	rememberKeywords = []string{"記住", "記錄", "記下"}
	calendarKeywords = []string{"行事曆", "日曆", "加入行程", "排行程"}
	shoppingKeywords = []string{"購物清單", "買"}
	expenseKeywords  = []string{"記帳", "花了", "花費", "支出", "付了"}
	newsKeywords     = []string{"新聞"}
)

// Setting

func (d *Dispatcher) matchSetting(e *event) bool {
	_, _, ok := parseSetting(e.text)
	return e.isText() && ok
}

// parseSetting splits "設定:key=value". Anything without exactly one "=" or
// with an empty side is not a setting.
func parseSetting(text string) (key, value string, ok bool) {
	for _, p := range settingPrefixes {
		if !strings.HasPrefix(text, p) {
			continue
		}
		body := strings.TrimPrefix(text, p)
		if strings.Count(body, "=") != 1 {
			return "", "", false
		}
		k, v, _ := strings.Cut(body, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k == "" || v == "" {
			return "", "", false
		}
		return k, v, true
	}
	return "", "", false
}

func (d *Dispatcher) handleSetting(ctx context.Context, e *event) {
	key, value, _ := parseSetting(e.text)
	if err := d.store.SetPreference(ctx, key, value); err != nil {
		d.replyError(e, err, msgGenericFailure)
		return
	}
	d.reply(e, fmt.Sprintf("✅ 已記住偏好：%s = %s", key, value))
}

// Explicit memory

func (d *Dispatcher) handleRemember(ctx context.Context, e *event) {
	cat := classifier.CategoryOf(e.text)
	err := d.store.InsertFact(ctx, memory.Fact{Category: cat, Content: e.text, SenderName: e.sender()})
	if err != nil {
		d.replyError(e, err, msgGenericFailure)
		return
	}
	d.reply(e, fmt.Sprintf("📝 好的，我記住了！（%s）", cat))
}

// Structured extraction

// extractJSON asks the model for a JSON object and returns the raw answer.
func (d *Dispatcher) extractJSON(ctx context.Context, prompt string) (string, error) {
	return d.llm.Complete(ctx, llm.Prompt{
		System:    "你是資料擷取工具，只輸出 JSON。",
		User:      prompt,
		MaxTokens: 300,
	})
}

func (d *Dispatcher) handleCalendar(ctx context.Context, e *event) {
	today := d.today()
	raw, err := d.extractJSON(ctx, extract.CalendarPrompt(e.text, today))
	if err != nil {
		d.replyError(e, err, msgGenericFailure)
		return
	}
	res, err := extract.ParseCalendar(raw)
	if err != nil {
		d.replyError(e, err, msgExtractFailed)
		return
	}
	date, _ := res.ParsedDate()

	ev := memory.CalendarEvent{
		Title:        res.Title,
		Category:     res.Category,
		Date:         date,
		ReminderDays: res.Reminder(),
		CreatedBy:    e.sender(),
	}
	if err := d.store.InsertEvent(ctx, ev); err != nil {
		d.replyError(e, err, msgGenericFailure)
		return
	}
	d.reply(e, fmt.Sprintf("📅 已加入行事曆：%s（%s）\n分類：%s，提前 %d 天提醒",
		ev.Title, ev.Date.Format(memory.DateLayout), orDash(ev.Category), ev.ReminderDays))
}

// matchShopping requires a shopping keyword and no expense keyword, so
// "午餐花了 12 元買便當" is an expense.
func (d *Dispatcher) matchShopping(e *event) bool {
	return e.isText() && containsAny(e.text, shoppingKeywords) && !containsAny(e.text, expenseKeywords)
}

func (d *Dispatcher) handleShopping(ctx context.Context, e *event) {
	raw, err := d.extractJSON(ctx, extract.ShoppingPrompt(e.text))
	if err != nil {
		d.replyError(e, err, msgGenericFailure)
		return
	}
	res, err := extract.ParseShopping(raw)
	if err != nil {
		d.replyError(e, err, msgExtractFailed)
		return
	}

	items := make([]memory.ShoppingItem, 0, len(res.Items))
	names := make([]string, 0, len(res.Items))
	for _, it := range res.Items {
		items = append(items, memory.ShoppingItem{Item: it.Item, Quantity: string(it.Quantity), AddedBy: e.sender()})
		names = append(names, it.Item)
	}
	if err := d.store.InsertShoppingItems(ctx, items); err != nil {
		d.replyError(e, err, msgGenericFailure)
		return
	}
	d.reply(e, "🛒 已加入購物清單："+strings.Join(names, "、"))
}

func (d *Dispatcher) handleExpense(ctx context.Context, e *event) {
	raw, err := d.extractJSON(ctx, extract.ExpensePrompt(e.text))
	if err != nil {
		d.replyError(e, err, msgGenericFailure)
		return
	}
	res, err := extract.ParseExpense(raw)
	if err != nil {
		d.replyError(e, err, msgExtractFailed)
		return
	}

	ex := memory.Expense{
		Amount:      res.Amount,
		Category:    res.Category,
		Description: res.Description,
		AddedBy:     e.sender(),
		SpentOn:     d.today(),
	}
	if err := d.store.InsertExpense(ctx, ex); err != nil {
		d.replyError(e, err, msgGenericFailure)
		return
	}
	d.reply(e, fmt.Sprintf("💸 已記帳：$%.2f（%s）%s", ex.Amount, ex.Category, ex.Description))
}

// News

func (d *Dispatcher) handleNews(ctx context.Context, e *event) {
	if d.news == nil {
		d.reply(e, msgNewsDisabled)
		return
	}
	d.sendSections(ctx, d.news.Digest(ctx), func(s string) { d.reply(e, s) })
}

// sendSections emits each section with a pause between sections. The
// transport chunks each section on its own.
func (d *Dispatcher) sendSections(ctx context.Context, sections []string, send func(string)) {
	for i, s := range sections {
		if i > 0 && d.sectionDelay > 0 {
			select {
			case <-time.After(d.sectionDelay):
			case <-ctx.Done():
				return
			}
		}
		send(s)
	}
}

// Media

func (d *Dispatcher) download(ctx context.Context, fileID string) ([]byte, error) {
	if d.media == nil {
		return nil, fmt.Errorf("no media fetcher configured")
	}
	return d.media.DownloadFile(ctx, fileID)
}

func (d *Dispatcher) handleVoice(ctx context.Context, e *event) {
	audio, err := d.download(ctx, e.msg.Media.FileID)
	if err != nil {
		d.replyError(e, err, msgVoiceFailed)
		return
	}
	text, err := d.llm.Transcribe(ctx, audio, "voice.ogg", "zh")
	if err != nil {
		d.replyError(e, err, msgVoiceFailed)
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		d.reply(e, voicePrefix+"我沒聽清楚，可以再說一次嗎？")
		return
	}

	answer, err := d.llm.Complete(ctx, llm.Prompt{
		System: d.persona.Preamble(),
		User:   fmt.Sprintf("%s 用語音說：%s", e.sender(), text),
	})
	if err != nil {
		d.replyError(e, err, msgVoiceFailed)
		return
	}
	d.reply(e, fmt.Sprintf("%s「%s」\n\n%s", voicePrefix, text, strings.TrimSpace(answer)))
}

func (d *Dispatcher) handlePhoto(ctx context.Context, e *event) {
	image, err := d.download(ctx, e.msg.Media.FileID)
	if err != nil {
		d.replyError(e, err, msgPhotoFailed)
		return
	}
	instruction := e.text
	if instruction == "" {
		instruction = "請描述這張圖片。"
	}
	instruction = d.persona.Preamble() + "\n\n" + instruction

	mime := e.msg.Media.MimeType
	if mime == "" {
		mime = "image/jpeg"
	}
	desc, err := d.llm.DescribeImage(ctx, image, mime, instruction)
	if err != nil {
		d.replyError(e, err, msgPhotoFailed)
		return
	}
	d.reply(e, photoPrefix+strings.TrimSpace(desc))
}

// General chat

func (d *Dispatcher) handleChat(ctx context.Context, e *event) {
	facts := make(map[memory.Category][]memory.Fact, len(memory.PromptCategories))
	for _, cat := range memory.PromptCategories {
		list, err := d.store.FactsByCategory(ctx, cat)
		if err != nil {
			log.Printf("[dispatch] %s load %s facts: %v", e.id, cat, err)
			continue
		}
		facts[cat] = list
	}

	answer, err := d.llm.Complete(ctx, llm.Prompt{
		System: persona.BuildSystemPrompt(d.persona, facts),
		User:   fmt.Sprintf("%s 說：%s", e.sender(), e.text),
	})
	if err != nil {
		d.replyError(e, err, msgGenericFailure)
		return
	}
	d.reply(e, strings.TrimSpace(answer))

	if !classifier.IsImportant(e.text) {
		return
	}
	fact := memory.Fact{Category: classifier.CategoryOf(e.text), Content: e.text, SenderName: e.sender()}
	if err := d.store.InsertFact(ctx, fact); err != nil {
		log.Printf("[dispatch] %s remember: %v", e.id, err)
	}
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
