package memory

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Category tags a remembered fact. Values are the labels shown to users.
type Category string

const (
	CategoryPerson     Category = "人物"
	CategoryPreference Category = "偏好"
	CategoryEvent      Category = "事件"
	CategorySetting    Category = "設定"
	CategoryGeneral    Category = "一般"
)

// PromptCategories lists the categories folded into the system prompt, in
// render order.
var PromptCategories = []Category{CategoryPerson, CategoryPreference, CategorySetting, CategoryEvent}

// DefaultSender is recorded when the sender has no display name.
const DefaultSender = "未知"

// DateLayout is how calendar and expense dates are stored.
const DateLayout = "2006-01-02"

var ErrNotFound = errors.New("memory: not found")

// Fact is an append-only remembered statement.
type Fact struct {
	ID         int64
	Category   Category
	Content    string
	SenderName string
	CreatedAt  time.Time
}

// Line renders the fact as "sender: content".
func (f Fact) Line() string {
	return fmt.Sprintf("%s: %s", f.SenderName, f.Content)
}

// String renders the fact as "[category] sender: content".
func (f Fact) String() string {
	return fmt.Sprintf("[%s] %s", f.Category, f.Line())
}

type CalendarEvent struct {
	ID           int64
	Title        string
	Category     string
	Date         time.Time
	ReminderDays int
	CreatedBy    string
}

// DueForReminder reports whether today falls inside the event's reminder
// window: Date-ReminderDays <= today <= Date.
func (e CalendarEvent) DueForReminder(today time.Time) bool {
	day := truncateDay(today)
	event := truncateDay(e.Date)
	start := event.AddDate(0, 0, -e.ReminderDays)
	return !day.Before(start) && !day.After(event)
}

type ShoppingItem struct {
	ID       int64
	Item     string
	Quantity string
	AddedBy  string
	Done     bool
}

type Expense struct {
	ID          int64
	Amount      float64
	Category    string
	Description string
	AddedBy     string
	SpentOn     time.Time
}

// Store is the persistence contract the dispatcher and scheduled jobs use.
type Store interface {
	InsertFact(ctx context.Context, f Fact) error
	FactsByCategory(ctx context.Context, c Category) ([]Fact, error)
	AllFacts(ctx context.Context) ([]Fact, error)
	ClearFacts(ctx context.Context) error

	SetPreference(ctx context.Context, key, value string) error
	GetPreference(ctx context.Context, key string) (string, bool, error)

	InsertEvent(ctx context.Context, e CalendarEvent) error
	UpcomingEvents(ctx context.Context, from time.Time, windowDays int) ([]CalendarEvent, error)
	DeleteEvent(ctx context.Context, id int64) error

	InsertShoppingItem(ctx context.Context, item ShoppingItem) error
	InsertShoppingItems(ctx context.Context, items []ShoppingItem) error
	ActiveShoppingItems(ctx context.Context) ([]ShoppingItem, error)
	CompleteShopping(ctx context.Context) (int, error)

	InsertExpense(ctx context.Context, e Expense) error
	ExpensesForMonth(ctx context.Context, month time.Time) ([]Expense, error)

	Close() error
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
