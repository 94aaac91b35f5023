package server

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	ledgererrors "drivechain/core/errors"
	"drivechain/services/ledgerd/api"
)

// IssueToken exchanges a signed login challenge for a bearer token.
func (s *Server) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req api.TokenRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	claimed, err := parseAddress(strings.TrimSpace(req.Address))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(req.Signature), "0x"))
	if err != nil {
		s.writeError(w, r, invalid("signature: %v", err))
		return
	}
	signer, err := s.auth.VerifyLogin(claimed, req.Timestamp, sig)
	if err != nil {
		s.logger.Info("login rejected", "address", claimed.Hex(), "error", err)
		s.writeError(w, r, fmt.Errorf("%w: %v", ledgererrors.ErrUnauthorized, err))
		return
	}
	token, expires, err := s.auth.IssueToken(signer)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, api.TokenResponse{Token: token, Address: signer.Hex(), ExpiresAt: expires.UTC()})
}
