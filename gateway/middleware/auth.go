package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"

	"drivechain/crypto"
	"drivechain/observability/logging"
)

// IdentityHeader carries the caller address when authentication is disabled.
const IdentityHeader = "X-Drivechain-Caller"

type AuthConfig struct {
	Enabled       bool
	HMACSecret    string
	Issuer        string
	TokenTTL      time.Duration
	ClockSkew     time.Duration
	OptionalPaths []string
}

// ErrorWriter renders an authentication failure. status is 401 or 403.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, status int, err error)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

type contextKey string

const contextKeyCaller contextKey = "drivechain.caller"

// WithCaller stores an authenticated identity in ctx.
func WithCaller(ctx context.Context, caller common.Address) context.Context {
	return context.WithValue(ctx, contextKeyCaller, caller)
}

// CallerFrom returns the identity authenticated for the request.
func CallerFrom(ctx context.Context) (common.Address, bool) {
	caller, ok := ctx.Value(contextKeyCaller).(common.Address)
	return caller, ok && caller != (common.Address{})
}

// Authenticator resolves the caller identity of each request from an HS256
// bearer token whose subject is the caller address, and issues such tokens.
type Authenticator struct {
	cfg     AuthConfig
	logger  *slog.Logger
	secret  []byte
	onError ErrorWriter
	now     func() time.Time
}

func NewAuthenticator(cfg AuthConfig, logger *slog.Logger, onError ErrorWriter) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	if onError == nil {
		onError = func(w http.ResponseWriter, _ *http.Request, status int, err error) {
			http.Error(w, err.Error(), status)
		}
	}
	return &Authenticator{
		cfg:     cfg,
		logger:  logger,
		secret:  []byte(strings.TrimSpace(cfg.HMACSecret)),
		onError: onError,
		now:     time.Now,
	}
}

// Middleware attaches the caller to the request context. Requests to optional
// paths may proceed anonymously; a token that is present must still be valid.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.cfg.Enabled {
			if raw := strings.TrimSpace(r.Header.Get(IdentityHeader)); raw != "" {
				caller, err := crypto.ParseAddress(raw)
				if err != nil {
					a.onError(w, r, http.StatusUnauthorized, fmt.Errorf("%w: %v", ErrInvalidToken, err))
					return
				}
				r = r.WithContext(WithCaller(r.Context(), caller))
			}
			next.ServeHTTP(w, r)
			return
		}
		tokenString := extractBearer(r.Header.Get("Authorization"))
		if tokenString == "" {
			if a.isOptional(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			a.onError(w, r, http.StatusUnauthorized, ErrMissingToken)
			return
		}
		caller, err := a.ParseToken(tokenString)
		if err != nil {
			a.logger.Info("token validation failed",
				logging.MaskField("authorization", r.Header.Get("Authorization")),
				slog.String("path", r.URL.Path),
				slog.Any("error", err))
			a.onError(w, r, http.StatusUnauthorized, ErrInvalidToken)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

// RequireCaller rejects requests that carry no identity.
func (a *Authenticator) RequireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := CallerFrom(r.Context()); !ok {
			a.onError(w, r, http.StatusUnauthorized, ErrMissingToken)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) isOptional(path string) bool {
	for _, prefix := range a.cfg.OptionalPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// IssueToken signs a token for caller valid for the configured TTL.
func (a *Authenticator) IssueToken(caller common.Address) (string, time.Time, error) {
	if len(a.secret) == 0 {
		return "", time.Time{}, errors.New("auth secret not configured")
	}
	now := a.now()
	expires := now.Add(a.cfg.TokenTTL)
	claims := jwt.RegisteredClaims{
		Subject:   caller.Hex(),
		Issuer:    a.cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-a.cfg.ClockSkew)),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// ParseToken validates tokenString and returns the caller in its subject.
func (a *Authenticator) ParseToken(tokenString string) (common.Address, error) {
	if len(a.secret) == 0 {
		return common.Address{}, errors.New("auth secret not configured")
	}
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.cfg.ClockSkew),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return common.Address{}, err
	}
	if !token.Valid {
		return common.Address{}, errors.New("token invalid")
	}
	caller, err := crypto.ParseAddress(claims.Subject)
	if err != nil {
		return common.Address{}, fmt.Errorf("subject: %w", err)
	}
	return caller, nil
}

// VerifyLogin checks a signed login challenge and returns the signer. The
// timestamp must lie within the clock skew window.
func (a *Authenticator) VerifyLogin(claimed common.Address, unix int64, signature []byte) (common.Address, error) {
	issued := time.Unix(unix, 0)
	window := a.cfg.ClockSkew
	if diff := a.now().Sub(issued); diff > window || diff < -window {
		return common.Address{}, fmt.Errorf("login timestamp outside %s window", window)
	}
	signer, err := crypto.RecoverAddress(crypto.LoginMessage(claimed, unix), signature)
	if err != nil {
		return common.Address{}, err
	}
	if signer != claimed {
		return common.Address{}, errors.New("signature does not match address")
	}
	return signer, nil
}

func extractBearer(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
