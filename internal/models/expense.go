package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Category is one of the fixed expense categories.
type Category string

// Known expense categories.
const (
	CategoryFood      Category = "food"
	CategoryTravel    Category = "travel"
	CategoryUtilities Category = "utilities"
	CategoryMisc      Category = "misc"
)

// Categories lists every valid category in display order.
var Categories = []Category{CategoryFood, CategoryTravel, CategoryUtilities, CategoryMisc}

// ParseCategory validates a raw category value.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.TrimSpace(s))
	for _, known := range Categories {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("%q is not a valid choice", s)
}

// DateLayout is the wire and storage format of expense dates.
const DateLayout = "2006-01-02"

// Date is a calendar date without a time component.
type Date struct {
	time.Time
}

// NewDate creates a Date from year, month and day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("date has wrong format, use YYYY-MM-DD")
	}
	return Date{Time: t}, nil
}

// String formats the date as YYYY-MM-DD.
func (d Date) String() string {
	return d.Format(DateLayout)
}

// MarshalJSON implements json.Marshaler.
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("date must be a string")
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Amount limits mirror a DECIMAL(10, 2) column.
const (
	MoneyDecimalPlaces = 2
	MoneyMaxDigits     = 10
)

var maxMoney = decimal.New(1, MoneyMaxDigits-MoneyDecimalPlaces)

// Money is an exact amount with two fractional digits, held as integer cents.
type Money struct {
	Cents int64
}

// ParseMoney parses a non-negative decimal string with at most two decimal places.
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Money{}, fmt.Errorf("a valid number is required")
	}
	if d.IsNegative() {
		return Money{}, fmt.Errorf("ensure this value is greater than or equal to 0")
	}
	if !d.Equal(d.Round(MoneyDecimalPlaces)) {
		return Money{}, fmt.Errorf("ensure that there are no more than %d decimal places", MoneyDecimalPlaces)
	}
	if d.GreaterThanOrEqual(maxMoney) {
		return Money{}, fmt.Errorf("ensure that there are no more than %d digits in total", MoneyMaxDigits)
	}
	return Money{Cents: d.Shift(MoneyDecimalPlaces).IntPart()}, nil
}

// Decimal returns the amount as a decimal value.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -MoneyDecimalPlaces)
}

// String formats the amount with exactly two fractional digits.
func (m Money) String() string {
	return m.Decimal().StringFixed(MoneyDecimalPlaces)
}

// Add returns the sum of two amounts.
func (m Money) Add(o Money) Money {
	return Money{Cents: m.Cents + o.Cents}
}

// MarshalJSON encodes the amount as a quoted decimal string.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts both a JSON string and a JSON number.
func (m *Money) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("a valid number is required")
		}
	}
	parsed, err := ParseMoney(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Expense represents a financial expense record owned by exactly one user.
type Expense struct {
	ID       int64    `json:"id"`
	Title    string   `json:"title"`
	Amount   Money    `json:"amount"`
	Category Category `json:"category"`
	Date     Date     `json:"date"`
	Notes    *string  `json:"notes"`
	UserID   int64    `json:"user"`
}

// MaxTitleLength bounds Expense.Title.
const MaxTitleLength = 255

// Validate checks the invariants of a fully populated expense.
func (e *Expense) Validate() error {
	verr := &ValidationError{}
	title := strings.TrimSpace(e.Title)
	switch {
	case title == "":
		verr.Add("title", "this field may not be blank")
	case len([]rune(e.Title)) > MaxTitleLength:
		verr.Add("title", fmt.Sprintf("ensure this field has no more than %d characters", MaxTitleLength))
	}
	if e.Amount.Cents < 0 {
		verr.Add("amount", "ensure this value is greater than or equal to 0")
	}
	if _, err := ParseCategory(string(e.Category)); err != nil {
		verr.Add("category", err.Error())
	}
	if e.Date.IsZero() {
		verr.Add("date", "this field is required")
	}
	return verr.OrNil()
}

// Filter narrows an expense listing. Nil fields are not applied.
type Filter struct {
	Category  *Category
	UserID    *int64
	StartDate *Date
	EndDate   *Date
	Ordering  []OrderField
}

// OrderField is a single ordering clause.
type OrderField struct {
	Field      string
	Descending bool
}

// Orderable expense fields.
const (
	OrderByDate   = "date"
	OrderByAmount = "amount"
)

// ParseOrdering parses a comma separated ordering parameter such as "-date,amount".
// Unknown fields are skipped.
func ParseOrdering(s string) []OrderField {
	var fields []OrderField
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		desc := strings.HasPrefix(part, "-")
		name := strings.TrimPrefix(part, "-")
		if name != OrderByDate && name != OrderByAmount {
			continue
		}
		fields = append(fields, OrderField{Field: name, Descending: desc})
	}
	return fields
}

// User represents a user account.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	IsStaff      bool      `json:"is_staff"`
	CreatedAt    time.Time `json:"created_at"`
}

// CanAccess reports whether the user may read or mutate the expense.
func (u *User) CanAccess(e *Expense) bool {
	return u.IsStaff || e.UserID == u.ID
}

// Token is the opaque bearer credential of a user.
type Token struct {
	Key       string    `json:"token"`
	UserID    int64     `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the token is older than ttl. A zero ttl never expires.
func (t *Token) Expired(ttl time.Duration, now time.Time) bool {
	return ttl > 0 && !now.Before(t.CreatedAt.Add(ttl))
}
