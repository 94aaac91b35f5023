package server

import (
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"drivechain/core/authority"
	ledgererrors "drivechain/core/errors"
	"drivechain/native/servicerecord"
	"drivechain/services/ledgerd/api"
)

func (s *Server) authorityFor(r *http.Request) *authority.Local {
	return authority.NewLocal(s.engine, caller(r))
}

// Mint records a service for the caller and credits its points. A record that
// committed without points is still a 201; the response carries the credit
// error.
func (s *Server) Mint(w http.ResponseWriter, r *http.Request) {
	var req api.MintRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	beneficiary, err := parseAddress(strings.TrimSpace(req.Beneficiary))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	details := servicerecord.Details{
		ServiceType:     req.ServiceType,
		ServiceDate:     req.ServiceDate,
		ServiceProvider: req.ServiceProvider,
		VehicleInfo:     req.VehicleInfo,
		ServiceDetails:  req.ServiceDetails,
	}
	result, err := s.authorityFor(r).Mint(r.Context(), details, beneficiary)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := api.MintResponse{ID: result.ID}
	if result.Credited {
		amount := result.Amount.Dec()
		resp.CreditedAmount = &amount
	} else if result.CreditErr != nil {
		resp.CreditError = &api.Error{
			Kind:    string(ledgererrors.KindOf(result.CreditErr)),
			Message: result.CreditErr.Error(),
		}
	}
	writeData(w, http.StatusCreated, resp)
}

func (s *Server) GetRecord(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	record, err := s.authorityFor(r).Record(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, api.FromRecord(record))
}

// ListRecords returns the ids minted by ?owner=, defaulting to the caller.
func (s *Server) ListRecords(w http.ResponseWriter, r *http.Request) {
	owner := caller(r)
	if raw := strings.TrimSpace(r.URL.Query().Get("owner")); raw != "" {
		parsed, err := parseAddress(raw)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		owner = parsed
	}
	if owner == (common.Address{}) {
		s.writeError(w, r, invalid("owner query parameter required"))
		return
	}
	ids := s.engine.RecordsByOwner(owner)
	if ids == nil {
		ids = []uint64{}
	}
	writeData(w, http.StatusOK, api.RecordList{Owner: owner.Hex(), IDs: ids})
}

func (s *Server) VerifyRecord(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	record, err := s.authorityFor(r).Verify(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, api.VerifyResponse{
		VerifiedBy:            record.VerifiedBy.Hex(),
		VerificationTimestamp: record.VerificationTimestamp.UTC(),
	})
}

// AwardRecord credits a record that was minted without points.
func (s *Server) AwardRecord(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req api.AwardRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	beneficiary, err := parseAddress(strings.TrimSpace(req.Beneficiary))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.authorityFor(r).Award(r.Context(), id, beneficiary)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := api.AwardResponse{
		RecordID:        result.RecordID,
		Amount:          result.Amount.Dec(),
		AlreadyCredited: result.AlreadyCredited,
	}
	if result.Beneficiary != (common.Address{}) {
		resp.Beneficiary = result.Beneficiary.Hex()
	}
	writeData(w, http.StatusOK, resp)
}

func (s *Server) GetRecordPoints(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, credited, err := s.authorityFor(r).RecordPoints(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, api.RecordPoints{RecordID: id, Amount: amount.Dec(), Credited: credited})
}
