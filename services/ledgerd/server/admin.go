package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	ledgererrors "drivechain/core/errors"
	"drivechain/services/ledgerd/api"
)

// requireOwner rejects non-owner callers before the request body is decoded.
func (s *Server) requireOwner(w http.ResponseWriter, r *http.Request, action string) bool {
	if caller(r) == s.engine.Owner() {
		return true
	}
	s.writeError(w, r, fmt.Errorf("%w: only the owner may %s", ledgererrors.ErrUnauthorized, action))
	return false
}

func (s *Server) ListMultipliers(w http.ResponseWriter, r *http.Request) {
	entries, err := s.authorityFor(r).Multipliers(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]api.Multiplier, 0, len(entries))
	for _, e := range entries {
		out = append(out, api.Multiplier{ServiceType: e.ServiceType, Multiplier: e.Multiplier})
	}
	writeData(w, http.StatusOK, out)
}

func (s *Server) GetMultiplier(w http.ResponseWriter, r *http.Request) {
	serviceType := chi.URLParam(r, "serviceType")
	value, err := s.authorityFor(r).Multiplier(r.Context(), serviceType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, api.Multiplier{ServiceType: serviceType, Multiplier: value})
}

// SetMultiplier inserts or overwrites a multiplier. Owner only.
func (s *Server) SetMultiplier(w http.ResponseWriter, r *http.Request) {
	if !s.requireOwner(w, r, "set multiplier") {
		return
	}
	serviceType := chi.URLParam(r, "serviceType")
	var req api.SetMultiplierRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.authorityFor(r).SetMultiplier(r.Context(), serviceType, req.Multiplier); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, api.Multiplier{ServiceType: serviceType, Multiplier: req.Multiplier})
}

// SetVerifier adds or removes an authorized verifier. Owner only.
func (s *Server) SetVerifier(w http.ResponseWriter, r *http.Request) {
	if !s.requireOwner(w, r, "manage verifiers") {
		return
	}
	var req api.VerifierRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	addr, err := parseAddress(strings.TrimSpace(req.Address))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.authorityFor(r).SetVerifierStatus(r.Context(), addr, req.Enabled); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, api.VerifierStatus{Address: addr.Hex(), Authorized: req.Enabled})
}

func (s *Server) GetVerifier(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ok, err := s.authorityFor(r).IsAuthorizedVerifier(r.Context(), addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, api.VerifierStatus{Address: addr.Hex(), Authorized: ok})
}
