package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stellarlinkco/yuki/internal/bus"
	"github.com/stellarlinkco/yuki/internal/llm"
	"github.com/stellarlinkco/yuki/internal/memory"
	"github.com/stellarlinkco/yuki/internal/ratelimit"
)

// fakeStore is an in-memory memory.Store that counts writes.
type fakeStore struct {
	mu       sync.Mutex
	facts    []memory.Fact
	prefs    map[string]string
	events   []memory.CalendarEvent
	shopping []memory.ShoppingItem
	expenses []memory.Expense
	writes   int
	err      error
	// rejectItem makes any shopping batch containing that item fail whole.
	rejectItem string
}

var _ memory.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{prefs: make(map[string]string)}
}

func (s *fakeStore) write() error {
	s.writes++
	return s.err
}

func (s *fakeStore) InsertFact(_ context.Context, f memory.Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(); err != nil {
		return err
	}
	s.facts = append(s.facts, f)
	return nil
}

func (s *fakeStore) FactsByCategory(_ context.Context, c memory.Category) ([]memory.Fact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []memory.Fact
	for _, f := range s.facts {
		if f.Category == c {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *fakeStore) AllFacts(context.Context) ([]memory.Fact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]memory.Fact(nil), s.facts...), nil
}

func (s *fakeStore) ClearFacts(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(); err != nil {
		return err
	}
	s.facts = nil
	return nil
}

func (s *fakeStore) SetPreference(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(); err != nil {
		return err
	}
	s.prefs[key] = value
	return nil
}

func (s *fakeStore) GetPreference(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.prefs[key]
	return v, ok, nil
}

func (s *fakeStore) InsertEvent(_ context.Context, e memory.CalendarEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(); err != nil {
		return err
	}
	s.events = append(s.events, e)
	return nil
}

func (s *fakeStore) UpcomingEvents(_ context.Context, from time.Time, windowDays int) ([]memory.CalendarEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	end := from.AddDate(0, 0, windowDays)
	var out []memory.CalendarEvent
	for _, e := range s.events {
		if !e.Date.Before(from) && !e.Date.After(end) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeStore) DeleteEvent(context.Context, int64) error { return memory.ErrNotFound }

func (s *fakeStore) InsertShoppingItem(_ context.Context, item memory.ShoppingItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(); err != nil {
		return err
	}
	s.shopping = append(s.shopping, item)
	return nil
}

func (s *fakeStore) InsertShoppingItems(_ context.Context, items []memory.ShoppingItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(); err != nil {
		return err
	}
	for _, it := range items {
		if s.rejectItem != "" && it.Item == s.rejectItem {
			return fmt.Errorf("insert shopping item %q: rejected", it.Item)
		}
	}
	s.shopping = append(s.shopping, items...)
	return nil
}

func (s *fakeStore) ActiveShoppingItems(context.Context) ([]memory.ShoppingItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]memory.ShoppingItem(nil), s.shopping...), nil
}

func (s *fakeStore) CompleteShopping(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(); err != nil {
		return 0, err
	}
	n := len(s.shopping)
	s.shopping = nil
	return n, nil
}

func (s *fakeStore) InsertExpense(_ context.Context, e memory.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(); err != nil {
		return err
	}
	s.expenses = append(s.expenses, e)
	return nil
}

func (s *fakeStore) ExpensesForMonth(context.Context, time.Time) ([]memory.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]memory.Expense(nil), s.expenses...), nil
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// fakeLLM returns a scripted answer and records every prompt.
type fakeLLM struct {
	mu          sync.Mutex
	answer      string
	err         error
	prompts     []llm.Prompt
	transcript  string
	description string
	mediaErr    error
	models      []string
}

var _ llm.Client = (*fakeLLM)(nil)

func (f *fakeLLM) Complete(_ context.Context, p llm.Prompt) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, p)
	return f.answer, f.err
}

func (f *fakeLLM) DescribeImage(_ context.Context, image []byte, mimeType, instruction string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, llm.Prompt{User: instruction})
	return f.description, f.mediaErr
}

func (f *fakeLLM) Transcribe(context.Context, []byte, string, string) (string, error) {
	return f.transcript, f.mediaErr
}

func (f *fakeLLM) ListModels(context.Context) ([]string, error) {
	return f.models, f.err
}

func (f *fakeLLM) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

type fakeMedia struct {
	data map[string][]byte
}

func (m fakeMedia) DownloadFile(_ context.Context, fileID string) ([]byte, error) {
	b, ok := m.data[fileID]
	if !ok {
		return nil, fmt.Errorf("file %s not found", fileID)
	}
	return b, nil
}

type fakeNews struct{ sections []string }

func (n fakeNews) Digest(context.Context) []string { return n.sections }

// outbox records outbound messages.
type outbox struct {
	mu   sync.Mutex
	msgs []bus.OutboundMessage
}

func (o *outbox) send(m bus.OutboundMessage) {
	o.mu.Lock()
	o.msgs = append(o.msgs, m)
	o.mu.Unlock()
}

func (o *outbox) contents() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.msgs))
	for i, m := range o.msgs {
		out[i] = m.Content
	}
	return out
}

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

type harness struct {
	d       *Dispatcher
	store   *fakeStore
	llm     *fakeLLM
	out     *outbox
	limiter *ratelimit.Cooldown
	clock   time.Time
}

func newHarness() *harness {
	h := &harness{store: newFakeStore(), llm: &fakeLLM{}, out: &outbox{}, clock: fixedNow}
	h.limiter = ratelimit.New(30 * time.Second).WithClock(func() time.Time { return h.clock })
	h.d = New(Options{
		TriggerWords: []string{"安尼亞", "Yuki"},
		Store:        h.store,
		LLM:          h.llm,
		Media:        fakeMedia{data: map[string][]byte{"voice-1": []byte("OggS"), "photo-1": []byte{0xff, 0xd8}}},
		Limiter:      h.limiter,
		Send:         h.out.send,
		Location:     time.UTC,
		Now:          func() time.Time { return h.clock },
	})
	return h
}

func direct(text string) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:    "telegram",
		SenderID:   "42",
		SenderName: "小明",
		ChatID:     "42",
		ChatKind:   bus.ChatDirect,
		Content:    text,
	}
}

func group(text string) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:    "telegram",
		SenderID:   "42",
		SenderName: "小明",
		ChatID:     "-100",
		ChatKind:   bus.ChatGroup,
		Content:    text,
		Metadata:   map[string]any{"message_id": 77},
	}
}
