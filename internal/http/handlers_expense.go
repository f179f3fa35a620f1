package http

import (
	"net/http"

	"kharcha/internal/core"
	"kharcha/internal/parser"
)

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	var req expenseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	e, err := req.toExpense(userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	id, err := s.ledger.AddExpense(r.Context(), e)
	if err != nil {
		writeError(w, r, err)
		return
	}

	e.ID = id
	writeJSON(w, http.StatusCreated, buildExpenseResponse(e))
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	expenses, err := s.ledger.FilteredExpenses(r.Context(), userID(r), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, buildExpenseList(expenses))
}

func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	e, err := s.ledger.ExpenseByID(r.Context(), id, userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, buildExpenseResponse(e))
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req expenseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	e, err := req.toExpense(userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	e.ID = id

	if err := s.ledger.UpdateExpense(r.Context(), e); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, buildExpenseResponse(e))
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ok, err := s.ledger.DeleteExpense(r.Context(), id, userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, core.ErrNotFound)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleParseExpense turns free-form text into a structured candidate. When
// the request names a payment method the candidate is committed directly.
func (s *Server) handleParseExpense(w http.ResponseWriter, r *http.Request) {
	if s.parser == nil {
		writeError(w, r, parser.ErrNoModel)
		return
	}

	var req parseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	candidate, err := s.parser.ParseExpenseInput(r.Context(), req.Input)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if req.Method == "" {
		writeJSON(w, http.StatusOK, candidate)
		return
	}

	method, err := core.ParseMethod(req.Method)
	if err != nil {
		writeError(w, r, err)
		return
	}
	e, err := candidate.ToExpense(userID(r), method)
	if err != nil {
		writeError(w, r, err)
		return
	}

	id, err := s.ledger.AddExpense(r.Context(), e)
	if err != nil {
		writeError(w, r, err)
		return
	}

	e.ID = id
	writeJSON(w, http.StatusCreated, buildExpenseResponse(e))
}

// handleCategories returns the filter-building metadata: the advisory
// default category list, the categories the user has actually used, and
// the largest recorded amount (upper bound for amount range pickers).
func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	used, err := s.ledger.UserCategories(r.Context(), uid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	maxCents, err := s.ledger.MaxExpenseAmount(r.Context(), uid)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Defaults []string `json:"defaults"`
		Used     []string `json:"used"`
		MaxCents int64    `json:"max_amount_cents"`
	}{Defaults: core.DefaultCategories, Used: used, MaxCents: maxCents})
}

func (s *Server) handleYears(w http.ResponseWriter, r *http.Request) {
	years, err := s.ledger.ExpenseYears(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, years)
}
