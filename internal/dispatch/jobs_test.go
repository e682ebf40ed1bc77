package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellarlinkco/yuki/internal/memory"
)

var owner = Target{Channel: "telegram", ChatID: "1001"}

func TestPushReminders_OnlyDueEvents(t *testing.T) {
	h := newHarness()
	h.store.events = []memory.CalendarEvent{
		{Title: "生日", Date: day("2026-03-14"), ReminderDays: 1},
		{Title: "牙醫", Date: day("2026-03-16"), ReminderDays: 2},
		{Title: "開會", Date: day("2026-03-19"), ReminderDays: 1},
	}

	result, err := h.d.PushReminders(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, "sent 2 reminders", result)

	require.Len(t, h.out.msgs, 1)
	assert.Equal(t, "1001", h.out.msgs[0].ChatID)
	assert.Equal(t, "⏰ 行程提醒：\n- 03/14 生日（就是今天！）\n- 03/16 牙醫（還有 2 天）", h.out.msgs[0].Content)
}

func TestPushReminders_LongReminderBeyondListingWindow(t *testing.T) {
	h := newHarness()
	h.store.events = []memory.CalendarEvent{
		{Title: "搬家", Date: day("2026-03-24"), ReminderDays: 14},
		{Title: "旅行", Date: day("2026-04-30"), ReminderDays: 3},
	}

	result, err := h.d.PushReminders(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, "sent 1 reminders", result)
	require.Len(t, h.out.msgs, 1)
	assert.Equal(t, "⏰ 行程提醒：\n- 03/24 搬家（還有 10 天）", h.out.msgs[0].Content)
}

func TestPushReminders_NothingDue(t *testing.T) {
	h := newHarness()

	result, err := h.d.PushReminders(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, "no reminders due", result)
	assert.Empty(t, h.out.msgs)
}

func TestPush_RequiresTarget(t *testing.T) {
	h := newHarness()
	_, err := h.d.PushReminders(context.Background(), Target{})
	assert.Error(t, err)
	_, err = h.d.PushNews(context.Background(), Target{Channel: "telegram"})
	assert.Error(t, err)
}

func TestPushNews(t *testing.T) {
	h := newHarness()
	h.d.news = fakeNews{sections: []string{"a", "b", "c"}}
	h.d.sectionDelay = time.Millisecond

	result, err := h.d.PushNews(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, "sent 3 sections", result)
	assert.Equal(t, []string{"a", "b", "c"}, h.out.contents())
}

func TestPushNews_CancelledBetweenSections(t *testing.T) {
	h := newHarness()
	h.d.news = fakeNews{sections: []string{"a", "b"}}
	h.d.sectionDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.d.PushNews(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, h.out.contents())
}
