package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"kharcha/internal/core"
)

const maxBodyBytes = 1 << 20

// decodeJSON reads a bounded JSON body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// decimalAmount accepts both a JSON number and a decimal string ("1250.50").
type decimalAmount string

func (d *decimalAmount) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*d = decimalAmount(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*d = decimalAmount(n.String())
	return nil
}

// expenseRequest is the wire form of an expense.
type expenseRequest struct {
	Category string        `json:"category"`
	Title    string        `json:"title"`
	Amount   decimalAmount `json:"amount"`
	Date     string        `json:"date"`
	Notes    string        `json:"notes"`
	Method   string        `json:"payment_method"`
}

func (req expenseRequest) toExpense(userID int64) (core.Expense, error) {
	cents, err := core.ParseDecimalToCents(string(req.Amount))
	if err != nil {
		return core.Expense{}, err
	}
	method, err := core.ParseMethod(req.Method)
	if err != nil {
		return core.Expense{}, err
	}
	date, err := core.ParseDate(req.Date)
	if err != nil {
		return core.Expense{}, err
	}
	return core.Expense{
		UserID:   userID,
		Category: strings.TrimSpace(req.Category),
		Title:    sanitizeInput(req.Title),
		Amount:   core.Money{Cents: cents},
		Date:     date,
		Notes:    sanitizeInput(req.Notes),
		Method:   method,
	}, nil
}

type walletRequest struct {
	UPICents  int64 `json:"upi_cents"`
	CashCents int64 `json:"cash_cents"`
}

type parseRequest struct {
	Input string `json:"input"`

	// When set, the parsed candidate is committed directly to the ledger.
	Method string `json:"payment_method"`
}

// parseFilter builds an expense filter from list query parameters: from, to
// (YYYY-MM-DD), categories (comma separated), min_cents, max_cents.
func parseFilter(r *http.Request) (core.ExpenseFilter, error) {
	var f core.ExpenseFilter
	q := r.URL.Query()

	if v := strings.TrimSpace(q.Get("from")); v != "" {
		d, err := core.ParseDate(v)
		if err != nil {
			return f, err
		}
		f.From = d
	}
	if v := strings.TrimSpace(q.Get("to")); v != "" {
		d, err := core.ParseDate(v)
		if err != nil {
			return f, err
		}
		f.To = d
	}
	if v := strings.TrimSpace(q.Get("categories")); v != "" {
		for _, c := range strings.Split(v, ",") {
			if c = strings.TrimSpace(c); c != "" {
				f.Categories = append(f.Categories, c)
			}
		}
	}
	if v := strings.TrimSpace(q.Get("min_cents")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return f, core.ErrInvalidAmount
		}
		f.MinCents = n
	}
	if v := strings.TrimSpace(q.Get("max_cents")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return f, core.ErrInvalidAmount
		}
		f.MaxCents = n
	}
	return f, nil
}

// pathID extracts the {id} route segment.
func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, core.ErrNotFound
	}
	return id, nil
}

// sanitizeInput trims whitespace and strips control characters except tab,
// newline and carriage return.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
