package http

import (
	"time"

	"kharcha/internal/core"
)

type expenseResponse struct {
	ID          int64   `json:"id"`
	Category    string  `json:"category"`
	Title       string  `json:"title"`
	Amount      float64 `json:"amount"`
	AmountCents int64   `json:"amount_cents"`
	Date        string  `json:"date"`
	Notes       string  `json:"notes,omitempty"`
	Method      string  `json:"payment_method"`
	CreatedAt   string  `json:"created_at,omitempty"`
}

func buildExpenseResponse(e core.Expense) expenseResponse {
	resp := expenseResponse{
		ID:          e.ID,
		Category:    e.Category,
		Title:       e.Title,
		Amount:      e.Amount.Rupees(),
		AmountCents: e.Amount.Cents,
		Date:        e.Date.String(),
		Notes:       e.Notes,
		Method:      string(e.Method),
	}
	if !e.CreatedAt.IsZero() {
		resp.CreatedAt = e.CreatedAt.Format(time.RFC3339)
	}
	return resp
}

func buildExpenseList(expenses []core.Expense) []expenseResponse {
	out := make([]expenseResponse, 0, len(expenses))
	for _, e := range expenses {
		out = append(out, buildExpenseResponse(e))
	}
	return out
}

type walletResponse struct {
	UPI       float64 `json:"upi"`
	Cash      float64 `json:"cash"`
	UPICents  int64   `json:"upi_cents"`
	CashCents int64   `json:"cash_cents"`
}

func buildWalletResponse(w core.Wallet) walletResponse {
	return walletResponse{
		UPI:       w.UPI.Rupees(),
		Cash:      w.Cash.Rupees(),
		UPICents:  w.UPI.Cents,
		CashCents: w.Cash.Cents,
	}
}

type sessionResponse struct {
	Token    string `json:"token"`
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}
