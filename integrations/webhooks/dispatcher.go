// Package webhooks delivers committed ledger events to an HTTP endpoint. Each
// body is signed with HMAC-SHA256 and retried with exponential backoff.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"drivechain/core/notify"
	"drivechain/core/retry"
	"drivechain/observability/metrics"
)

const (
	HeaderEvent     = "X-Drivechain-Event"
	HeaderSignature = "X-Drivechain-Signature"
	HeaderDelivery  = "X-Drivechain-Delivery"

	defaultMaxAttempts = 5
	defaultMinBackoff  = 2 * time.Second
	defaultMaxBackoff  = 30 * time.Second
	defaultQueueSize   = 256
)

// Payload is the webhook body for a single committed event.
type Payload struct {
	Type       string            `json:"type"`
	Sequence   uint64            `json:"sequence"`
	Time       time.Time         `json:"time"`
	Attributes map[string]string `json:"attributes"`
	DeliveryID string            `json:"deliveryId"`
}

// Dispatcher orchestrates webhook deliveries with retry and exponential
// backoff. It implements notify.Observer; Observe only enqueues.
type Dispatcher struct {
	endpoint    string
	secret      []byte
	client      *http.Client
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration
	logger      *slog.Logger
	metrics     *metrics.LedgerMetrics
	destination string

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan delivery
	wg     sync.WaitGroup
	once   sync.Once
}

var _ notify.Observer = (*Dispatcher)(nil)

type delivery struct {
	eventType  string
	deliveryID string
	body       []byte
}

// Option mutates dispatcher configuration.
type Option func(*Dispatcher)

// WithHTTPClient overrides the HTTP client used for deliveries.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

// WithRetryPolicy overrides the retry configuration.
func WithRetryPolicy(maxAttempts int, minBackoff, maxBackoff time.Duration) Option {
	return func(d *Dispatcher) {
		if maxAttempts > 0 {
			d.maxAttempts = maxAttempts
		}
		if minBackoff > 0 {
			d.minBackoff = minBackoff
		}
		if maxBackoff >= minBackoff && maxBackoff > 0 {
			d.maxBackoff = maxBackoff
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithMetrics(m *metrics.LedgerMetrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithQueueSize bounds the number of undelivered events held in memory.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan delivery, n)
		}
	}
}

// NewDispatcher constructs a dispatcher and spawns the worker goroutine.
func NewDispatcher(endpoint string, secret []byte, opts ...Option) (*Dispatcher, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("webhook: endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("webhook: invalid endpoint %q", endpoint)
	}
	if len(secret) == 0 {
		return nil, errors.New("webhook: secret required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	dispatcher := &Dispatcher{
		endpoint:    endpoint,
		secret:      append([]byte(nil), secret...),
		client:      &http.Client{Timeout: 15 * time.Second},
		maxAttempts: defaultMaxAttempts,
		minBackoff:  defaultMinBackoff,
		maxBackoff:  defaultMaxBackoff,
		logger:      slog.Default(),
		destination: parsed.Host,
		ctx:         ctx,
		cancel:      cancel,
		queue:       make(chan delivery, defaultQueueSize),
	}
	for _, opt := range opts {
		opt(dispatcher)
	}
	dispatcher.wg.Add(1)
	go dispatcher.worker()
	return dispatcher, nil
}

// Close stops the dispatcher and waits for the inflight delivery to finish.
// Queued deliveries that have not started are dropped.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		d.cancel()
		d.wg.Wait()
	})
}

// Observe enqueues n for delivery. It blocks only while the queue is full and
// gives up when ctx ends.
func (d *Dispatcher) Observe(ctx context.Context, n notify.Notification) error {
	if n.Event == nil {
		return nil
	}
	evt := n.Event.Event()
	payload := Payload{
		Type:       evt.Type,
		Sequence:   n.Sequence,
		Time:       n.Time.UTC(),
		Attributes: evt.Attributes,
		DeliveryID: uuid.NewString(),
	}
	return d.enqueue(ctx, payload)
}

func (d *Dispatcher) enqueue(ctx context.Context, payload Payload) error {
	if d == nil {
		return errors.New("webhook: dispatcher not initialised")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	job := delivery{eventType: payload.Type, deliveryID: payload.DeliveryID, body: data}
	select {
	case d.queue <- job:
		return nil
	case <-d.ctx.Done():
		return errors.New("webhook: dispatcher closed")
	case <-ctx.Done():
		d.metrics.ObserveWebhookFailure(d.destination)
		return fmt.Errorf("webhook: queue full, dropped %s %s: %w", payload.Type, payload.DeliveryID, ctx.Err())
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case job := <-d.queue:
			d.process(job)
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) process(job delivery) {
	policy := retry.Policy{
		MaxAttempts: d.maxAttempts,
		MinBackoff:  d.minBackoff,
		MaxBackoff:  d.maxBackoff,
		Retryable:   retryable,
		OnRetry: func(next int, err error, wait time.Duration) {
			d.logger.Warn("webhook delivery failed, retrying",
				slog.String("event", job.eventType),
				slog.String("deliveryId", job.deliveryID),
				slog.Int("attempt", next),
				slog.Duration("backoff", wait),
				slog.Any("error", err))
		},
	}
	err := retry.Do(d.ctx, policy, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, d.client.Timeout)
		defer cancel()
		return d.send(ctx, job)
	})
	if err == nil || retry.IsCancelled(err) {
		return
	}
	d.metrics.ObserveWebhookFailure(d.destination)
	d.logger.Warn("webhook delivery abandoned",
		slog.String("event", job.eventType),
		slog.String("deliveryId", job.deliveryID),
		slog.Any("error", err))
}

// statusError is a non-2xx response.
type statusError struct {
	code int
}

func (e statusError) Error() string {
	return fmt.Sprintf("webhook: delivery failed with status %d", e.code)
}

// retryable treats network errors, 408, 429 and 5xx as transient.
func retryable(err error) bool {
	var status statusError
	if errors.As(err, &status) {
		return status.code == http.StatusRequestTimeout ||
			status.code == http.StatusTooManyRequests ||
			status.code >= http.StatusInternalServerError
	}
	return true
}

func (d *Dispatcher) send(ctx context.Context, job delivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(job.body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, job.eventType)
	req.Header.Set(HeaderDelivery, job.deliveryID)
	req.Header.Set(HeaderSignature, Sign(d.secret, job.body))
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return statusError{code: resp.StatusCode}
}

// Sign returns the signature header value for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature header produced by Sign in constant time.
func VerifySignature(secret, body []byte, header string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(strings.TrimSpace(header)))
}
