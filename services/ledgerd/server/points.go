package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"drivechain/services/ledgerd/api"
)

func (s *Server) GetBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	account, err := s.authorityFor(r).Account(r.Context(), addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, api.Balance{
		Address:     addr.Hex(),
		Balance:     account.Balance.Dec(),
		TotalEarned: account.TotalEarned.Dec(),
	})
}

// Transfer moves points from the caller. The amount is a base-10 string.
func (s *Server) Transfer(w http.ResponseWriter, r *http.Request) {
	var req api.TransferRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := parseAddress(strings.TrimSpace(req.To))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := uint256.FromDecimal(strings.TrimSpace(req.Amount))
	if err != nil {
		s.writeError(w, r, invalid("amount %q: %v", req.Amount, err))
		return
	}
	remaining, err := s.authorityFor(r).Transfer(r.Context(), to, amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, api.TransferResponse{NewBalanceOfCaller: remaining.Dec()})
}
