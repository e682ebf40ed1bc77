package memory

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// Engine is the SQL-backed Store. The same queries run against SQLite and
// Postgres; placeholders are rebound for Postgres.
type Engine struct {
	db      *sql.DB
	dialect dialect
	mu      sync.Mutex
	now     func() time.Time
}

var _ Store = (*Engine)(nil)

// Open picks a backend by driver name ("sqlite" or "postgres").
func Open(driver, dbPath, dsn string) (*Engine, error) {
	switch driver {
	case "postgres":
		return NewPostgresEngine(dsn)
	case "", "sqlite":
		return NewEngine(dbPath)
	default:
		return nil, fmt.Errorf("unknown memory driver %q", driver)
	}
}

// NewEngine opens (creating if needed) a SQLite database at dbPath.
func NewEngine(dbPath string) (*Engine, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	e := &Engine{db: db, dialect: dialectSQLite, now: time.Now}
	if err := e.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := e.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return e, nil
}

// NewPostgresEngine connects to a hosted Postgres (e.g. Supabase) database.
func NewPostgresEngine(dsn string) (*Engine, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("open postgres: empty dsn")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	e := &Engine{db: db, dialect: dialectPostgres, now: time.Now}
	if err := e.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := e.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (e *Engine) Close() error {
	if e.db == nil {
		return nil
	}
	return e.db.Close()
}

func (e *Engine) initSchema() error {
	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if e.dialect == dialectPostgres {
		pk = "BIGSERIAL PRIMARY KEY"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memory_facts (
			id ` + pk + `,
			category TEXT NOT NULL DEFAULT '一般',
			content TEXT NOT NULL,
			sender_name TEXT NOT NULL DEFAULT '未知',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_facts_category ON memory_facts(category, id)`,
		`CREATE TABLE IF NOT EXISTS preferences (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS calendar_events (
			id ` + pk + `,
			title TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			event_date TEXT NOT NULL,
			reminder_days INTEGER NOT NULL DEFAULT 1,
			created_by TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_date ON calendar_events(event_date)`,
		`CREATE TABLE IF NOT EXISTS shopping_list (
			id ` + pk + `,
			item TEXT NOT NULL,
			quantity TEXT NOT NULL DEFAULT '1',
			added_by TEXT NOT NULL DEFAULT '',
			done INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS expenses (
			id ` + pk + `,
			amount DOUBLE PRECISION NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			added_by TEXT NOT NULL DEFAULT '',
			spent_on TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_expenses_spent ON expenses(spent_on)`,
	}

	for _, stmt := range stmts {
		if _, err := e.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders as $1..$n for Postgres.
func (e *Engine) rebind(q string) string {
	if e.dialect != dialectPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (e *Engine) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return e.db.ExecContext(ctx, e.rebind(q), args...)
}

func (e *Engine) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return e.db.QueryContext(ctx, e.rebind(q), args...)
}

// Facts

func (e *Engine) InsertFact(ctx context.Context, f Fact) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	category := f.Category
	if strings.TrimSpace(string(category)) == "" {
		category = CategoryGeneral
	}
	sender := strings.TrimSpace(f.SenderName)
	if sender == "" {
		sender = DefaultSender
	}
	created := f.CreatedAt
	if created.IsZero() {
		created = e.now()
	}

	_, err := e.exec(ctx, `
		INSERT INTO memory_facts (category, content, sender_name, created_at)
		VALUES (?, ?, ?, ?)
	`, string(category), strings.TrimSpace(f.Content), sender, created.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert fact: %w", err)
	}
	return nil
}

func (e *Engine) FactsByCategory(ctx context.Context, c Category) ([]Fact, error) {
	rows, err := e.query(ctx, `
		SELECT id, category, content, sender_name, created_at
		FROM memory_facts
		WHERE category = ?
		ORDER BY id ASC
	`, string(c))
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

func (e *Engine) AllFacts(ctx context.Context) ([]Fact, error) {
	rows, err := e.query(ctx, `
		SELECT id, category, content, sender_name, created_at
		FROM memory_facts
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

func (e *Engine) ClearFacts(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.exec(ctx, `DELETE FROM memory_facts`); err != nil {
		return fmt.Errorf("clear facts: %w", err)
	}
	return nil
}

func scanFacts(rows *sql.Rows) ([]Fact, error) {
	var out []Fact
	for rows.Next() {
		var (
			f        Fact
			category string
			created  string
		)
		if err := rows.Scan(&f.ID, &category, &f.Content, &f.SenderName, &created); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		f.Category = Category(category)
		f.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate facts: %w", err)
	}
	return out, nil
}

// Preferences

func (e *Engine) SetPreference(ctx context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("set preference: empty key")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	_, err := e.exec(ctx, `
		INSERT INTO preferences (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set preference: %w", err)
	}
	return nil
}

func (e *Engine) GetPreference(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := e.db.QueryRowContext(ctx, e.rebind(`SELECT value FROM preferences WHERE key = ?`), key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get preference: %w", err)
	}
	return value, true, nil
}

// Calendar

func (e *Engine) InsertEvent(ctx context.Context, ev CalendarEvent) error {
	if strings.TrimSpace(ev.Title) == "" {
		return fmt.Errorf("insert event: empty title")
	}
	if ev.Date.IsZero() {
		return fmt.Errorf("insert event: missing date")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	_, err := e.exec(ctx, `
		INSERT INTO calendar_events (title, category, event_date, reminder_days, created_by)
		VALUES (?, ?, ?, ?, ?)
	`, ev.Title, ev.Category, ev.Date.Format(DateLayout), ev.ReminderDays, ev.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// UpcomingEvents returns events dated within [from, from+windowDays], ordered
// by date.
func (e *Engine) UpcomingEvents(ctx context.Context, from time.Time, windowDays int) ([]CalendarEvent, error) {
	if windowDays < 0 {
		windowDays = 0
	}
	start := from.Format(DateLayout)
	end := from.AddDate(0, 0, windowDays).Format(DateLayout)

	rows, err := e.query(ctx, `
		SELECT id, title, category, event_date, reminder_days, created_by
		FROM calendar_events
		WHERE event_date >= ? AND event_date <= ?
		ORDER BY event_date ASC, id ASC
	`, start, end)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []CalendarEvent
	for rows.Next() {
		var (
			ev   CalendarEvent
			date string
		)
		if err := rows.Scan(&ev.ID, &ev.Title, &ev.Category, &date, &ev.ReminderDays, &ev.CreatedBy); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Date, _ = time.Parse(DateLayout, date)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

func (e *Engine) DeleteEvent(ctx context.Context, id int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	res, err := e.exec(ctx, `DELETE FROM calendar_events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Shopping

func (e *Engine) InsertShoppingItem(ctx context.Context, item ShoppingItem) error {
	return e.InsertShoppingItems(ctx, []ShoppingItem{item})
}

// InsertShoppingItems adds every item in one transaction. Either all rows are
// written or none are.
func (e *Engine) InsertShoppingItems(ctx context.Context, items []ShoppingItem) error {
	for _, it := range items {
		if strings.TrimSpace(it.Item) == "" {
			return fmt.Errorf("insert shopping item: empty item")
		}
	}
	if len(items) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert shopping: %w", err)
	}
	defer tx.Rollback()

	q := e.rebind(`
		INSERT INTO shopping_list (item, quantity, added_by, done)
		VALUES (?, ?, ?, 0)
	`)
	for _, it := range items {
		qty := strings.TrimSpace(it.Quantity)
		if qty == "" {
			qty = "1"
		}
		if _, err := tx.ExecContext(ctx, q, it.Item, qty, it.AddedBy); err != nil {
			return fmt.Errorf("insert shopping item %q: %w", it.Item, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert shopping: %w", err)
	}
	return nil
}

func (e *Engine) ActiveShoppingItems(ctx context.Context) ([]ShoppingItem, error) {
	rows, err := e.query(ctx, `
		SELECT id, item, quantity, added_by
		FROM shopping_list
		WHERE done = 0
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query shopping: %w", err)
	}
	defer rows.Close()

	var out []ShoppingItem
	for rows.Next() {
		var it ShoppingItem
		if err := rows.Scan(&it.ID, &it.Item, &it.Quantity, &it.AddedBy); err != nil {
			return nil, fmt.Errorf("scan shopping: %w", err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shopping: %w", err)
	}
	return out, nil
}

// CompleteShopping marks every active item done and clears done rows. It
// returns how many items were active.
func (e *Engine) CompleteShopping(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin complete shopping: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE shopping_list SET done = 1 WHERE done = 0`)
	if err != nil {
		return 0, fmt.Errorf("mark shopping done: %w", err)
	}
	n, _ := res.RowsAffected()
	if _, err := tx.ExecContext(ctx, `DELETE FROM shopping_list WHERE done = 1`); err != nil {
		return 0, fmt.Errorf("clear shopping: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit complete shopping: %w", err)
	}
	return int(n), nil
}

// Expenses

func (e *Engine) InsertExpense(ctx context.Context, ex Expense) error {
	spent := ex.SpentOn
	if spent.IsZero() {
		spent = e.now()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	_, err := e.exec(ctx, `
		INSERT INTO expenses (amount, category, description, added_by, spent_on)
		VALUES (?, ?, ?, ?, ?)
	`, ex.Amount, ex.Category, ex.Description, ex.AddedBy, spent.Format(DateLayout))
	if err != nil {
		return fmt.Errorf("insert expense: %w", err)
	}
	return nil
}

// ExpensesForMonth returns expenses in the calendar month containing month.
func (e *Engine) ExpensesForMonth(ctx context.Context, month time.Time) ([]Expense, error) {
	first := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	next := first.AddDate(0, 1, 0)

	rows, err := e.query(ctx, `
		SELECT id, amount, category, description, added_by, spent_on
		FROM expenses
		WHERE spent_on >= ? AND spent_on < ?
		ORDER BY spent_on ASC, id ASC
	`, first.Format(DateLayout), next.Format(DateLayout))
	if err != nil {
		return nil, fmt.Errorf("query expenses: %w", err)
	}
	defer rows.Close()

	var out []Expense
	for rows.Next() {
		var (
			ex    Expense
			spent string
		)
		if err := rows.Scan(&ex.ID, &ex.Amount, &ex.Category, &ex.Description, &ex.AddedBy, &spent); err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		ex.SpentOn, _ = time.Parse(DateLayout, spent)
		out = append(out, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expenses: %w", err)
	}
	return out, nil
}
