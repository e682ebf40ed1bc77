// Package extract turns model replies into validated structured records.
// Replies are expected to be a bare JSON object, possibly wrapped in a
// markdown code fence.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var ErrInvalidJSON = errors.New("extract: invalid json")

// StripFences removes ``` / ```json markers and any prose around the outermost
// JSON object.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			lang := strings.TrimSpace(s[:nl])
			if lang == "" || !strings.ContainsAny(lang, "{[") {
				s = s[nl+1:]
			}
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		s = s[start : end+1]
	}
	return strings.TrimSpace(s)
}

// decode strips fences, validates raw against schema, then unmarshals into out.
func decode(raw string, schema *jsonschema.Schema, out any) error {
	body := StripFences(raw)
	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return nil
}

// Quantity accepts either a JSON string or number.
type Quantity string

func (q *Quantity) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*q = Quantity(strings.TrimSpace(s))
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("quantity: %w", err)
	}
	*q = Quantity(strconv.FormatFloat(n, 'f', -1, 64))
	return nil
}

// Calendar

// MaxReminderDays is the largest reminder_days the calendar schema accepts.
const MaxReminderDays = 60

const calendarSchema = `{
  "type": "object",
  "required": ["title", "date"],
  "properties": {
    "title": {"type": "string", "minLength": 1},
    "category": {"type": "string"},
    "date": {"type": "string", "pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}$"},
    "reminder_days": {"type": "integer", "minimum": 0, "maximum": 60}
  }
}`

type CalendarResult struct {
	Title        string `json:"title"`
	Category     string `json:"category"`
	Date         string `json:"date"`
	ReminderDays *int   `json:"reminder_days"`
}

// DefaultReminderDays applies when the model omits reminder_days.
const DefaultReminderDays = 1

// ParsedDate returns Date as a calendar day.
func (r CalendarResult) ParsedDate() (time.Time, error) {
	d, err := time.Parse("2006-01-02", r.Date)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", ErrInvalidJSON, r.Date)
	}
	return d, nil
}

func (r CalendarResult) Reminder() int {
	if r.ReminderDays == nil {
		return DefaultReminderDays
	}
	return *r.ReminderDays
}

func ParseCalendar(raw string) (CalendarResult, error) {
	var r CalendarResult
	if err := decode(raw, schemas.calendar, &r); err != nil {
		return CalendarResult{}, err
	}
	if _, err := r.ParsedDate(); err != nil {
		return CalendarResult{}, err
	}
	return r, nil
}

func CalendarPrompt(text string, today time.Time) string {
	return fmt.Sprintf(`今天是 %s（%s）。請從下面這句話擷取行事曆事件，只回傳 JSON，不要任何其他文字：
{"title": "事件名稱", "category": "分類（例如 醫療、工作、家庭、生日）", "date": "YYYY-MM-DD", "reminder_days": 提前幾天提醒的整數}

句子：%s`, today.Format("2006-01-02"), weekday(today), text)
}

// Shopping

const shoppingSchema = `{
  "type": "object",
  "required": ["items"],
  "properties": {
    "items": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["item"],
        "properties": {
          "item": {"type": "string", "minLength": 1},
          "quantity": {"type": ["string", "number"]}
        }
      }
    }
  }
}`

type ShoppingEntry struct {
	Item     string   `json:"item"`
	Quantity Quantity `json:"quantity"`
}

type ShoppingResult struct {
	Items []ShoppingEntry `json:"items"`
}

func ParseShopping(raw string) (ShoppingResult, error) {
	var r ShoppingResult
	if err := decode(raw, schemas.shopping, &r); err != nil {
		return ShoppingResult{}, err
	}
	for i := range r.Items {
		r.Items[i].Item = strings.TrimSpace(r.Items[i].Item)
		if r.Items[i].Quantity == "" {
			r.Items[i].Quantity = "1"
		}
	}
	return r, nil
}

func ShoppingPrompt(text string) string {
	return fmt.Sprintf(`請從下面這句話擷取要買的東西，只回傳 JSON，不要任何其他文字：
{"items": [{"item": "品項", "quantity": "數量"}]}
沒有提到數量就填 "1"。

句子：%s`, text)
}

// Expense

const expenseSchema = `{
  "type": "object",
  "required": ["amount"],
  "properties": {
    "amount": {"type": "number", "exclusiveMinimum": 0},
    "category": {"type": "string"},
    "description": {"type": "string"}
  }
}`

type ExpenseResult struct {
	Amount      float64 `json:"amount"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
}

func ParseExpense(raw string) (ExpenseResult, error) {
	var r ExpenseResult
	if err := decode(raw, schemas.expense, &r); err != nil {
		return ExpenseResult{}, err
	}
	if strings.TrimSpace(r.Category) == "" {
		r.Category = "其他"
	}
	return r, nil
}

func ExpensePrompt(text string) string {
	return fmt.Sprintf(`請從下面這句話擷取一筆支出，只回傳 JSON，不要任何其他文字：
{"amount": 金額數字, "category": "分類（餐飲、交通、購物、娛樂、生活、其他）", "description": "簡短說明"}

句子：%s`, text)
}

var schemas = struct {
	calendar *jsonschema.Schema
	shopping *jsonschema.Schema
	expense  *jsonschema.Schema
}{
	calendar: jsonschema.MustCompileString("calendar.json", calendarSchema),
	shopping: jsonschema.MustCompileString("shopping.json", shoppingSchema),
	expense:  jsonschema.MustCompileString("expense.json", expenseSchema),
}

var weekdays = [...]string{"星期日", "星期一", "星期二", "星期三", "星期四", "星期五", "星期六"}

func weekday(t time.Time) string {
	return weekdays[t.Weekday()]
}
