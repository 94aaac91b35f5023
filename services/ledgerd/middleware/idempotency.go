package middleware

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	gwmw "drivechain/gateway/middleware"
	"drivechain/services/ledgerd/models"
)

// HeaderIdempotencyKey is the request header clients attach to mutations.
const HeaderIdempotencyKey = "Idempotency-Key"

// HeaderReplayed marks a response served from the idempotency store.
const HeaderReplayed = "Idempotent-Replayed"

const maxKeyLength = 128

type contextKey string

const contextKeyIdempotency contextKey = "idempotency-key"

// KeyFrom returns the idempotency key attached to the request, if any.
func KeyFrom(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(contextKeyIdempotency).(string)
	return key, ok && key != ""
}

// Idempotency ensures a mutation submitted several times with the same key by
// the same caller executes once. Keys are scoped to the authenticated caller.
// Server failures (5xx) are not stored so that a retry re-executes.
type Idempotency struct {
	db     *gorm.DB
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]*keyLock
}

func NewIdempotency(db *gorm.DB, logger *slog.Logger) *Idempotency {
	if logger == nil {
		logger = slog.Default()
	}
	return &Idempotency{db: db, logger: logger, active: make(map[string]*keyLock)}
}

// Middleware wraps next with replay protection.
func (i *Idempotency) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
		if key == "" || i.db == nil {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > maxKeyLength {
			http.Error(w, "idempotency key too long", http.StatusBadRequest)
			return
		}
		caller := ""
		if addr, ok := gwmw.CallerFrom(r.Context()); ok {
			caller = addr.Hex()
		}

		unlock := i.lock(caller + "/" + key)
		defer unlock()

		var record models.IdempotencyKey
		err := i.db.WithContext(r.Context()).First(&record, "key = ? AND caller = ?", key, caller).Error
		switch {
		case err == nil:
			if record.Method != r.Method || record.Path != r.URL.Path {
				http.Error(w, "idempotency key reused for a different request", http.StatusUnprocessableEntity)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(HeaderReplayed, "true")
			w.WriteHeader(record.Status)
			_, _ = w.Write([]byte(record.Response))
			return
		case !errors.Is(err, gorm.ErrRecordNotFound):
			i.logger.Error("load idempotency key", slog.String("path", r.URL.Path), slog.Any("error", err))
			http.Error(w, "idempotency store unavailable", http.StatusServiceUnavailable)
			return
		}

		recorder := &responseRecorder{ResponseWriter: w}
		ctx := context.WithValue(r.Context(), contextKeyIdempotency, key)
		next.ServeHTTP(recorder, r.WithContext(ctx))

		if recorder.status == 0 {
			recorder.status = http.StatusOK
		}
		if recorder.status >= http.StatusInternalServerError {
			return
		}
		requestID := middleware.GetReqID(r.Context())
		if requestID == "" {
			requestID = uuid.NewString()
		}
		payload := models.IdempotencyKey{
			Key:       key,
			Caller:    caller,
			RequestID: requestID,
			Method:    r.Method,
			Path:      r.URL.Path,
			Status:    recorder.status,
			Response:  recorder.buf.String(),
			CreatedAt: time.Now().UTC(),
		}
		if err := i.db.WithContext(context.WithoutCancel(r.Context())).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&payload).Error; err != nil {
			i.logger.Error("store idempotency key", slog.String("path", r.URL.Path), slog.Any("error", err))
		}
	})
}

func (i *Idempotency) lock(scope string) func() {
	i.mu.Lock()
	l, ok := i.active[scope]
	if !ok {
		l = &keyLock{}
		i.active[scope] = l
	}
	l.refs++
	i.mu.Unlock()
	l.Lock()
	return func() {
		l.Unlock()
		i.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(i.active, scope)
		}
		i.mu.Unlock()
	}
}

type keyLock struct {
	sync.Mutex
	refs int
}

// responseRecorder captures the response for idempotent operations.
type responseRecorder struct {
	http.ResponseWriter
	buf    bytes.Buffer
	status int
}

func (rr *responseRecorder) WriteHeader(status int) {
	rr.status = status
	rr.ResponseWriter.WriteHeader(status)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	if rr.status == 0 {
		rr.status = http.StatusOK
	}
	rr.buf.Write(b)
	return rr.ResponseWriter.Write(b)
}
