package core

import (
	"errors"
	"strings"
	"time"
)

const (
	MethodUPI  PaymentMethod = "UPI"
	MethodCash PaymentMethod = "Cash"
)

type (
	// PaymentMethod selects which wallet balance an expense affects.
	PaymentMethod string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// Expense is a single ledger entry owned by a user.
	Expense struct {
		ID        int64
		UserID    int64
		Category  string
		Title     string
		Amount    Money
		Date      Date
		Notes     string
		Method    PaymentMethod
		CreatedAt time.Time
	}

	// Wallet holds the per-user spendable balances, one per payment method.
	Wallet struct {
		UserID int64
		UPI    Money
		Cash   Money
	}

	User struct {
		ID        int64
		Username  string
		CreatedAt time.Time
	}

	// ExpenseFilter narrows a user's expense listing. Empty Categories means
	// no category restriction; MaxCents <= 0 means no upper bound.
	ExpenseFilter struct {
		From       Date
		To         Date
		Categories []string
		MinCents   int64
		MaxCents   int64
	}
)

// DefaultCategories is a UI and parser-prompt convenience. The ledger itself
// accepts any non-empty category string.
var DefaultCategories = []string{
	"Food & Dining", "Groceries", "Transportation", "Housing", "Utilities",
	"Shopping", "Entertainment", "Health & Wellness", "Education", "Travel",
	"Personal Care", "Gifts & Donations", "Kids", "Pets", "Business", "Miscellaneous",
}

var (
	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidMethod = errors.New("invalid payment method")
	ErrInvalidDate   = errors.New("invalid date")
	ErrEmptyTitle    = errors.New("empty title")
	ErrEmptyCategory = errors.New("empty category")
)

// ParseMethod normalizes a payment method string.
func ParseMethod(s string) (PaymentMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "upi":
		return MethodUPI, nil
	case "cash":
		return MethodCash, nil
	default:
		return "", ErrInvalidMethod
	}
}

func (m PaymentMethod) Validate() error {
	if m != MethodUPI && m != MethodCash {
		return ErrInvalidMethod
	}
	return nil
}

// NewDate creates a Date at day precision in UTC.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a calendar date in YYYY-MM-DD form.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t}, nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

// String formats the date as YYYY-MM-DD, the storage representation.
func (d Date) String() string {
	return d.Format("2006-01-02")
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (e Expense) Validate() error {
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	if err := e.Method.Validate(); err != nil {
		return err
	}
	if err := e.Date.Validate(); err != nil {
		return err
	}
	if len(strings.TrimSpace(e.Title)) == 0 {
		return ErrEmptyTitle
	}
	if len(e.Title) > 200 {
		return errors.New("title too long (max 200 characters)")
	}
	if len(strings.TrimSpace(e.Category)) == 0 {
		return ErrEmptyCategory
	}
	return nil
}

// BalanceFor returns the wallet balance for the given method.
func (w Wallet) BalanceFor(m PaymentMethod) Money {
	if m == MethodUPI {
		return w.UPI
	}
	return w.Cash
}

// Credit returns a copy of the wallet with cents added to the method's balance.
func (w Wallet) Credit(m PaymentMethod, cents int64) Wallet {
	if m == MethodUPI {
		w.UPI.Cents += cents
	} else {
		w.Cash.Cents += cents
	}
	return w
}

// Debit returns a copy of the wallet with cents removed from the method's
// balance. The result may be negative; callers check before committing.
func (w Wallet) Debit(m PaymentMethod, cents int64) Wallet {
	return w.Credit(m, -cents)
}
