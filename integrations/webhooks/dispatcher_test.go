package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/goleak"

	"drivechain/core/events"
	"drivechain/core/notify"
)

func transferNote(seq uint64) notify.Notification {
	return notify.Notification{
		Sequence: seq,
		Time:     time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC),
		Event: events.PointsTransferred{
			From:   common.HexToAddress("0x00000000000000000000000000000000000000a1"),
			To:     common.HexToAddress("0x00000000000000000000000000000000000000b2"),
			Amount: uint256.NewInt(7),
		},
	}
}

func TestDispatcherSignsPayload(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"), goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"))

	var (
		mu        sync.Mutex
		signature string
		body      []byte
		event     string
		deliverID string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		mu.Lock()
		signature = r.Header.Get(HeaderSignature)
		event = r.Header.Get(HeaderEvent)
		deliverID = r.Header.Get(HeaderDelivery)
		body = raw
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()
	if err := dispatcher.Observe(context.Background(), transferNote(3)); err != nil {
		t.Fatalf("observe: %v", err)
	}
	waitFor(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return signature != ""
	}, time.Second)

	mu.Lock()
	defer mu.Unlock()
	if !VerifySignature([]byte("secret"), body, signature) {
		t.Fatalf("signature %q does not match body", signature)
	}
	if event != events.TypePointsTransferred {
		t.Fatalf("unexpected event header %q", event)
	}
	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Sequence != 3 || payload.Attributes["amount"] != "7" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if payload.DeliveryID == "" || payload.DeliveryID != deliverID {
		t.Fatalf("delivery id mismatch: body %q header %q", payload.DeliveryID, deliverID)
	}
}

func TestDispatcherRetries(t *testing.T) {
	attempts := int32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"), WithRetryPolicy(5, time.Millisecond*10, time.Millisecond*20))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()
	if err := dispatcher.Observe(context.Background(), transferNote(1)); err != nil {
		t.Fatalf("observe: %v", err)
	}
	waitFor(func() bool { return atomic.LoadInt32(&attempts) >= 3 }, time.Second)
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestDispatcherDoesNotRetryClientErrors(t *testing.T) {
	attempts := int32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"), WithRetryPolicy(5, time.Millisecond, time.Millisecond*2))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	if err := dispatcher.Observe(context.Background(), transferNote(1)); err != nil {
		t.Fatalf("observe: %v", err)
	}
	waitFor(func() bool { return atomic.LoadInt32(&attempts) >= 1 }, time.Second)
	time.Sleep(50 * time.Millisecond)
	dispatcher.Close()
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}
}

func TestNewDispatcherValidates(t *testing.T) {
	if _, err := NewDispatcher("", []byte("secret")); err == nil {
		t.Fatalf("expected endpoint error")
	}
	if _, err := NewDispatcher("not a url", []byte("secret")); err == nil {
		t.Fatalf("expected invalid endpoint error")
	}
	if _, err := NewDispatcher("http://example.invalid/hook", nil); err == nil {
		t.Fatalf("expected secret error")
	}
}

func TestRetryableStatuses(t *testing.T) {
	if !retryable(statusError{code: http.StatusServiceUnavailable}) {
		t.Fatalf("503 should be retried")
	}
	if retryable(statusError{code: http.StatusUnauthorized}) {
		t.Fatalf("401 should not be retried")
	}
	if !retryable(io.ErrUnexpectedEOF) {
		t.Fatalf("network errors should be retried")
	}
}

func waitFor(cond func() bool, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond * 10)
	}
}
