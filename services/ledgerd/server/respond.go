package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	ledgererrors "drivechain/core/errors"
	"drivechain/crypto"
	gwmw "drivechain/gateway/middleware"
	"drivechain/services/ledgerd/api"
)

const maxBodyBytes = 64 << 10

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind ledgererrors.Kind) int {
	switch kind {
	case ledgererrors.KindUnauthorized:
		return http.StatusForbidden
	case ledgererrors.KindInvalidArgument:
		return http.StatusBadRequest
	case ledgererrors.KindNotFound:
		return http.StatusNotFound
	case ledgererrors.KindAlreadyVerified, ledgererrors.KindInsufficientBalance:
		return http.StatusConflict
	case ledgererrors.KindInvalidServiceType:
		return http.StatusUnprocessableEntity
	case ledgererrors.KindTransportFailure:
		return http.StatusServiceUnavailable
	case ledgererrors.KindCancelled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func writeData(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		writeEnvelope(w, http.StatusInternalServerError, api.Envelope{
			Error: &api.Error{Kind: string(ledgererrors.KindInternal), Message: "encode response"},
		})
		return
	}
	writeEnvelope(w, status, api.Envelope{Success: true, Data: data})
}

func writeEnvelope(w http.ResponseWriter, status int, env api.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

// writeError renders err in the envelope using its taxonomy kind.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := ledgererrors.KindOf(err)
	status := StatusFor(kind)
	message := err.Error()
	if kind == ledgererrors.KindInternal {
		s.logger.Error("request failed",
			"path", r.URL.Path,
			"request_id", r.Header.Get("X-Request-Id"),
			"error", err)
		message = "internal error"
	}
	writeEnvelope(w, status, api.Envelope{Error: &api.Error{Kind: string(kind), Message: message}})
}

// writeAuthError renders middleware rejections (401, 403, 429).
func (s *Server) writeAuthError(w http.ResponseWriter, _ *http.Request, status int, err error) {
	kind := ledgererrors.KindUnauthorized
	if errors.Is(err, gwmw.ErrRateLimited) {
		kind = ledgererrors.KindTransportFailure
	}
	writeEnvelope(w, status, api.Envelope{Error: &api.Error{Kind: string(kind), Message: err.Error()}})
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ledgererrors.ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return invalid("decode body: %v", err)
	}
	return nil
}

func pathID(r *http.Request) (uint64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, invalid("record id %q", raw)
	}
	return id, nil
}

// parseAddress accepts hex or bech32 identities. An empty string yields the
// zero address.
func parseAddress(raw string) (common.Address, error) {
	if raw == "" {
		return common.Address{}, nil
	}
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return common.Address{}, invalid("address %q: %v", raw, err)
	}
	return addr, nil
}

func caller(r *http.Request) common.Address {
	addr, _ := gwmw.CallerFrom(r.Context())
	return addr
}
