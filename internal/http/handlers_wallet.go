package http

import (
	"net/http"
)

func (s *Server) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := s.ledger.WalletBalances(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, buildWalletResponse(wallet))
}

func (s *Server) handleSetWallet(w http.ResponseWriter, r *http.Request) {
	var req walletRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	uid := userID(r)
	if err := s.ledger.SetWalletBalances(r.Context(), uid, req.UPICents, req.CashCents); err != nil {
		writeError(w, r, err)
		return
	}

	wallet, err := s.ledger.WalletBalances(r.Context(), uid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, buildWalletResponse(wallet))
}
