package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellarlinkco/yuki/internal/bus"
	"github.com/stellarlinkco/yuki/internal/llm"
	"github.com/stellarlinkco/yuki/internal/memory"
)

func TestScenario_SettingInDirectChat(t *testing.T) {
	h := newHarness()

	h.d.Handle(context.Background(), direct("設定:城市=Edmonton"))

	assert.Equal(t, []string{"✅ 已記住偏好：城市 = Edmonton"}, h.out.contents())
	assert.Equal(t, "Edmonton", h.store.prefs["城市"])
	assert.Equal(t, 1, h.store.writeCount())
	assert.Zero(t, h.llm.calls())
}

func TestScenario_GroupWithoutTriggerIsIgnored(t *testing.T) {
	h := newHarness()

	h.d.Handle(context.Background(), group("大家晚餐想吃什麼"))

	assert.Empty(t, h.out.contents())
	assert.Zero(t, h.store.writeCount())
	assert.Zero(t, h.llm.calls())
	_, stamped := h.limiter.LastSeen("42")
	assert.False(t, stamped)
}

func TestScenario_ShoppingExtraction(t *testing.T) {
	h := newHarness()
	h.llm.answer = `{"items":[{"item":"牛奶","quantity":"1"},{"item":"麵包","quantity":"1"}]}`

	h.d.Handle(context.Background(), direct("買牛奶和麵包"))

	assert.Equal(t, []string{"🛒 已加入購物清單：牛奶、麵包"}, h.out.contents())
	require.Len(t, h.store.shopping, 2)
	assert.Equal(t, "牛奶", h.store.shopping[0].Item)
	assert.Equal(t, "1", h.store.shopping[1].Quantity)
	assert.Equal(t, "小明", h.store.shopping[0].AddedBy)
	assert.Equal(t, 1, h.llm.calls())
}

func TestScenario_QuotaDuringChat(t *testing.T) {
	h := newHarness()
	h.llm.err = fmt.Errorf("complete: %w", llm.ErrQuotaExceeded)

	h.d.Handle(context.Background(), direct("我叫Tom，今天好累"))

	assert.Equal(t, []string{msgQuotaExceeded}, h.out.contents())
	assert.Zero(t, h.store.writeCount())
}

func TestSetting_FullWidthColonAndMalformed(t *testing.T) {
	h := newHarness()
	h.d.Handle(context.Background(), direct("設定：語言=日文"))
	assert.Equal(t, "日文", h.store.prefs["語言"])

	// two "=" is not a setting and falls through to chat
	h2 := newHarness()
	h2.llm.answer = "嗯？"
	h2.d.Handle(context.Background(), direct("設定:a=b=c"))
	assert.Empty(t, h2.store.prefs)
	assert.Equal(t, 1, h2.llm.calls())
}

func TestParseSetting(t *testing.T) {
	tests := []struct {
		in       string
		key, val string
		ok       bool
	}{
		{"設定:城市=Edmonton", "城市", "Edmonton", true},
		{"設定： 時區 = America/Edmonton ", "時區", "America/Edmonton", true},
		{"設定:城市", "", "", false},
		{"設定:=x", "", "", false},
		{"城市=Edmonton", "", "", false},
	}
	for _, tt := range tests {
		k, v, ok := parseSetting(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.key, k, tt.in)
		assert.Equal(t, tt.val, v, tt.in)
	}
}

func TestRemember_WritesBeforeReplyWithoutModel(t *testing.T) {
	h := newHarness()

	h.d.Handle(context.Background(), direct("記住我老婆喜歡百合花"))

	require.Len(t, h.store.facts, 1)
	assert.Equal(t, memory.CategoryPerson, h.store.facts[0].Category)
	assert.Equal(t, "小明", h.store.facts[0].SenderName)
	assert.Equal(t, []string{"📝 好的，我記住了！（人物）"}, h.out.contents())
	assert.Zero(t, h.llm.calls())
}

func TestChat_ImportantFactWrittenAfterReply(t *testing.T) {
	h := newHarness()
	h.store.facts = []memory.Fact{{Category: memory.CategoryPreference, Content: "我喜歡貓", SenderName: "小明"}}
	h.llm.answer = "  你好 Tom！ "

	h.d.Handle(context.Background(), direct("我叫Tom"))

	assert.Equal(t, []string{"你好 Tom！"}, h.out.contents())
	require.Len(t, h.store.facts, 2)
	assert.Equal(t, memory.CategoryPerson, h.store.facts[1].Category)
	assert.Equal(t, "我叫Tom", h.store.facts[1].Content)

	require.Equal(t, 1, h.llm.calls())
	p := h.llm.prompts[0]
	assert.Contains(t, p.System, "【偏好】\n- 小明: 我喜歡貓")
	assert.Equal(t, "小明 說：我叫Tom", p.User)
}

func TestChat_UnimportantNotWritten(t *testing.T) {
	h := newHarness()
	h.llm.answer = "hi"

	h.d.Handle(context.Background(), direct("hello"))

	assert.Equal(t, []string{"hi"}, h.out.contents())
	assert.Zero(t, h.store.writeCount())
}

func TestChat_GenericFailure(t *testing.T) {
	h := newHarness()
	h.llm.err = errors.New("connection reset")

	h.d.Handle(context.Background(), direct("我叫Tom"))

	assert.Equal(t, []string{msgGenericFailure}, h.out.contents())
	assert.Zero(t, h.store.writeCount())
}

func TestGroup_TriggerStrippedAndQuoted(t *testing.T) {
	h := newHarness()
	h.llm.answer = "晚上好"

	h.d.Handle(context.Background(), group("安尼亞，晚安"))

	require.Len(t, h.out.msgs, 1)
	assert.Equal(t, "-100", h.out.msgs[0].ChatID)
	assert.Equal(t, "77", h.out.msgs[0].ReplyTo)
	assert.Equal(t, "小明 說：晚安", h.llm.prompts[0].User)
}

func TestGroup_SettingAfterTrigger(t *testing.T) {
	h := newHarness()

	h.d.Handle(context.Background(), group("Yuki 設定:城市=Calgary"))

	assert.Equal(t, "Calgary", h.store.prefs["城市"])
}

func TestGroup_CooldownRejectsWithinWindow(t *testing.T) {
	h := newHarness()
	h.llm.answer = "ok"

	h.d.Handle(context.Background(), group("安尼亞 hi"))
	h.clock = h.clock.Add(29 * time.Second)
	h.d.Handle(context.Background(), group("安尼亞 hi again"))
	assert.Len(t, h.out.contents(), 1)

	h.clock = fixedNow.Add(30 * time.Second)
	h.d.Handle(context.Background(), group("安尼亞 third"))
	assert.Len(t, h.out.contents(), 2)
}

func TestDirect_NoCooldown(t *testing.T) {
	h := newHarness()
	h.llm.answer = "ok"

	h.d.Handle(context.Background(), direct("hi"))
	h.d.Handle(context.Background(), direct("hi"))

	assert.Len(t, h.out.contents(), 2)
}

func TestUnsupportedMediaDropped(t *testing.T) {
	h := newHarness()
	msg := direct("")
	msg.Media = bus.Media{Kind: bus.MediaOther}

	h.d.Handle(context.Background(), msg)

	assert.Empty(t, h.out.contents())
}

func TestCalendar_Extraction(t *testing.T) {
	h := newHarness()
	h.llm.answer = "```json\n{\"title\":\"看牙醫\",\"category\":\"醫療\",\"date\":\"2026-03-20\",\"reminder_days\":2}\n```"

	h.d.Handle(context.Background(), direct("幫我把下週五看牙醫加到行事曆"))

	require.Len(t, h.store.events, 1)
	ev := h.store.events[0]
	assert.Equal(t, "看牙醫", ev.Title)
	assert.Equal(t, "2026-03-20", ev.Date.Format(memory.DateLayout))
	assert.Equal(t, 2, ev.ReminderDays)
	assert.Equal(t, []string{"📅 已加入行事曆：看牙醫（2026-03-20）\n分類：醫療，提前 2 天提醒"}, h.out.contents())
	assert.Contains(t, h.llm.prompts[0].User, "2026-03-14")
}

func TestCalendar_BadJSONWritesNothing(t *testing.T) {
	h := newHarness()
	h.llm.answer = `{"title":"看牙醫","date":"下週五"}`

	h.d.Handle(context.Background(), direct("加到行事曆：看牙醫"))

	assert.Equal(t, []string{msgExtractFailed}, h.out.contents())
	assert.Zero(t, h.store.writeCount())
}

func TestExpense_ExtractionAndExclusivity(t *testing.T) {
	h := newHarness()
	h.llm.answer = `{"amount": 12.5, "category": "餐飲", "description": "便當"}`

	// contains both 買 and 花了; the expense rule owns it
	h.d.Handle(context.Background(), direct("午餐花了12.5元買便當"))

	require.Len(t, h.store.expenses, 1)
	assert.Empty(t, h.store.shopping)
	assert.InDelta(t, 12.5, h.store.expenses[0].Amount, 0.001)
	assert.Equal(t, "2026-03-14", h.store.expenses[0].SpentOn.Format(memory.DateLayout))
	assert.Equal(t, []string{"💸 已記帳：$12.50（餐飲）便當"}, h.out.contents())
}

func TestShopping_EmptyItemsRejected(t *testing.T) {
	h := newHarness()
	h.llm.answer = `{"items":[]}`

	h.d.Handle(context.Background(), direct("要買東西"))

	assert.Equal(t, []string{msgExtractFailed}, h.out.contents())
	assert.Zero(t, h.store.writeCount())
}

func TestShopping_FailedBatchSavesNothing(t *testing.T) {
	h := newHarness()
	h.llm.answer = `{"items":[{"item":"牛奶","quantity":"1"},{"item":"麵包","quantity":"1"}]}`
	h.store.rejectItem = "麵包"

	h.d.Handle(context.Background(), direct("買牛奶和麵包"))

	assert.Equal(t, []string{msgGenericFailure}, h.out.contents())
	assert.Empty(t, h.store.shopping)
	assert.Equal(t, 1, h.store.writeCount())
}

func TestNews_SectionsInOrder(t *testing.T) {
	h := newHarness()
	h.d.news = fakeNews{sections: []string{"📰 國際新聞\n\nA", "📰 科技新聞\n\nB"}}
	h.d.sectionDelay = time.Millisecond

	h.d.Handle(context.Background(), direct("今天有什麼新聞"))

	assert.Equal(t, []string{"📰 國際新聞\n\nA", "📰 科技新聞\n\nB"}, h.out.contents())
}

func TestNews_Disabled(t *testing.T) {
	h := newHarness()
	h.d.Handle(context.Background(), direct("新聞"))
	assert.Equal(t, []string{msgNewsDisabled}, h.out.contents())
}

func TestVoice_TranscribeAndAnswer(t *testing.T) {
	h := newHarness()
	h.llm.transcript = "明天幾點出門"
	h.llm.answer = "八點喔"
	msg := direct("")
	msg.Media = bus.Media{Kind: bus.MediaVoice, FileID: "voice-1"}

	h.d.Handle(context.Background(), msg)

	require.Len(t, h.out.contents(), 1)
	assert.Equal(t, voicePrefix+"「明天幾點出門」\n\n八點喔", h.out.contents()[0])
	assert.Zero(t, h.store.writeCount())
}

func TestVoice_GroupNeedsTriggerInCaption(t *testing.T) {
	h := newHarness()
	msg := group("")
	msg.Media = bus.Media{Kind: bus.MediaVoice, FileID: "voice-1"}

	h.d.Handle(context.Background(), msg)
	assert.Empty(t, h.out.contents())

	msg.Caption = "安尼亞 聽聽看"
	h.llm.transcript = "你好"
	h.llm.answer = "嗨"
	h.d.Handle(context.Background(), msg)
	assert.Len(t, h.out.contents(), 1)
}

func TestVoice_DownloadFailure(t *testing.T) {
	h := newHarness()
	msg := direct("")
	msg.Media = bus.Media{Kind: bus.MediaVoice, FileID: "missing"}

	h.d.Handle(context.Background(), msg)

	assert.Equal(t, []string{msgVoiceFailed}, h.out.contents())
}

func TestPhoto_Describe(t *testing.T) {
	h := newHarness()
	h.llm.description = "一隻橘貓"
	msg := direct("")
	msg.Caption = "這是什麼"
	msg.Media = bus.Media{Kind: bus.MediaPhoto, FileID: "photo-1", MimeType: "image/jpeg"}

	h.d.Handle(context.Background(), msg)

	assert.Equal(t, []string{photoPrefix + "一隻橘貓"}, h.out.contents())
	assert.True(t, strings.HasSuffix(h.llm.prompts[0].User, "這是什麼"))
}

func TestPhoto_QuotaMessage(t *testing.T) {
	h := newHarness()
	h.llm.mediaErr = llm.ErrQuotaExceeded
	msg := direct("")
	msg.Media = bus.Media{Kind: bus.MediaPhoto, FileID: "photo-1"}

	h.d.Handle(context.Background(), msg)

	assert.Equal(t, []string{msgQuotaExceeded}, h.out.contents())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "安尼亞...", truncate("安尼亞你好", 3))
}
