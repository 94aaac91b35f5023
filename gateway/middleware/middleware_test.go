package middleware

import (
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"drivechain/crypto"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func callerEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFrom(r.Context())
		if !ok {
			_, _ = w.Write([]byte("anonymous"))
			return
		}
		_, _ = w.Write([]byte(caller.Hex()))
	})
}

func newAuth(enabled bool) *Authenticator {
	return NewAuthenticator(AuthConfig{
		Enabled:       enabled,
		HMACSecret:    testSecret,
		Issuer:        "drivechain",
		TokenTTL:      time.Hour,
		OptionalPaths: []string{"/v1/records"},
	}, nil, nil)
}

func TestAuthenticatorRoundTrip(t *testing.T) {
	auth := newAuth(true)
	caller := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	token, expires, err := auth.IssueToken(caller)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if time.Until(expires) <= 0 {
		t.Fatalf("token already expired")
	}

	handler := auth.Middleware(callerEcho())
	req := httptest.NewRequest(http.MethodPost, "/v1/points/transfer", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK || res.Body.String() != caller.Hex() {
		t.Fatalf("unexpected response %d %q", res.Code, res.Body.String())
	}
}

func TestAuthenticatorRejections(t *testing.T) {
	auth := newAuth(true)
	handler := auth.Middleware(callerEcho())

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/points/transfer", nil))
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", res.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/records/1", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("invalid token on optional path must still fail, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/records/1", nil))
	if res.Code != http.StatusOK || res.Body.String() != "anonymous" {
		t.Fatalf("optional path should allow anonymous access, got %d %q", res.Code, res.Body.String())
	}

	other := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: "another-secret-value", Issuer: "drivechain"}, nil, nil)
	forged, _, err := other.IssueToken(common.HexToAddress("0x01"))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := auth.ParseToken(forged); err == nil {
		t.Fatalf("token signed with another secret accepted")
	}

	expired := newAuth(true)
	expired.now = func() time.Time { return time.Now().Add(-3 * time.Hour) }
	old, _, _ := expired.IssueToken(common.HexToAddress("0x01"))
	if _, err := auth.ParseToken(old); err == nil {
		t.Fatalf("expired token accepted")
	}
}

func TestAuthDisabledUsesIdentityHeader(t *testing.T) {
	handler := newAuth(false).Middleware(callerEcho())
	caller := common.HexToAddress("0x00000000000000000000000000000000000000b2")
	req := httptest.NewRequest(http.MethodGet, "/v1/points/balance/x", nil)
	req.Header.Set(IdentityHeader, caller.Hex())
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Body.String() != caller.Hex() {
		t.Fatalf("identity header ignored: %q", res.Body.String())
	}

	req.Header.Set(IdentityHeader, "garbage")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("malformed identity accepted: %d", res.Code)
	}
}

func TestVerifyLogin(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	auth := newAuth(true)
	now := time.Now().Unix()
	sig, err := key.SignMessage(crypto.LoginMessage(key.Address(), now))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	signer, err := auth.VerifyLogin(key.Address(), now, sig)
	if err != nil || signer != key.Address() {
		t.Fatalf("verify login: %v (%s)", err, signer.Hex())
	}
	if _, err := auth.VerifyLogin(common.HexToAddress("0x01"), now, sig); err == nil {
		t.Fatalf("login for another address accepted")
	}
	stale := now - int64(time.Hour/time.Second)
	staleSig, _ := key.SignMessage(crypto.LoginMessage(key.Address(), stale))
	if _, err := auth.VerifyLogin(key.Address(), stale, staleSig); err == nil || !strings.Contains(err.Error(), "window") {
		t.Fatalf("stale login accepted: %v", err)
	}
	if _, err := auth.VerifyLogin(key.Address(), now, []byte(hex.EncodeToString(sig))); err == nil {
		t.Fatalf("malformed signature accepted")
	}
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerSecond: 1, Burst: 1}, nil, nil)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/multipliers", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", res.Code)
	}
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", res.Code)
	}

	authed := req.Clone(WithCaller(req.Context(), common.HexToAddress("0x02")))
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, authed)
	if res.Code != http.StatusOK {
		t.Fatalf("caller bucket should be separate from ip bucket, got %d", res.Code)
	}
}

func TestRateLimiterSweepsIdleVisitors(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerSecond: 10, Burst: 10}, nil, nil)
	now := time.Unix(1_700_000_000, 0)
	limiter.clockNow = func() time.Time { return now }
	limiter.obtainLimiter("a")
	limiter.obtainLimiter("b")
	now = now.Add(10 * time.Minute)
	limiter.obtainLimiter("c")
	if limiter.Visitors() != 1 {
		t.Fatalf("expected idle visitors swept, have %d", limiter.Visitors())
	}
}

func TestClientIDPrefersForwardedHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	if got := clientID(req); got != "10.0.0.1" {
		t.Fatalf("unexpected remote id %s", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := clientID(req); got != "203.0.113.9" {
		t.Fatalf("unexpected forwarded id %s", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	handler := CORS(CORSConfig{AllowedOrigins: []string{"https://dash.drivechain.example"}})(http.NotFoundHandler())
	req := httptest.NewRequest(http.MethodOptions, "/v1/mint", nil)
	req.Header.Set("Origin", "https://dash.drivechain.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.Code)
	}
	if res.Header().Get("Access-Control-Allow-Origin") != "https://dash.drivechain.example" {
		t.Fatalf("origin not reflected")
	}
	if !strings.Contains(res.Header().Get("Access-Control-Allow-Headers"), "Idempotency-Key") {
		t.Fatalf("idempotency header not allowed")
	}

	req.Header.Set("Origin", "https://evil.example")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("unlisted origin allowed")
	}
}
