// Package ledger hosts the engine that owns the record registry, the points
// ledger and the multiplier table. Every mutation runs under a single writer
// lock; the events it produces are journaled and published only after the
// mutation has committed.
package ledger

import (
	"fmt"
	"log/slog"
	"maps"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	ledgererrors "drivechain/core/errors"
	"drivechain/core/events"
	"drivechain/core/feed"
	"drivechain/core/notify"
	"drivechain/core/types"
	nativecommon "drivechain/native/common"
	"drivechain/native/multiplier"
	"drivechain/native/points"
	"drivechain/native/servicerecord"
	"drivechain/observability/metrics"
)

// Publisher receives committed notifications. *notify.Notifier implements it.
type Publisher interface {
	Publish(notes ...notify.Notification)
}

// Config holds the engine's genesis parameters.
type Config struct {
	Owner       common.Address
	Multipliers map[string]uint64
	Paused      []string
}

// Option customises an Engine.
type Option func(*Engine)

// WithJournal sets the change feed committed events are appended to. The
// default is an in-memory journal.
func WithJournal(j *feed.Journal) Option {
	return func(e *Engine) {
		if j != nil {
			e.journal = j
		}
	}
}

// WithPublisher sets the notifier committed events are handed to.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithClock overrides the clock used for verification and journal timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets the logger for mutation outcomes and journal failures.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics sets the collector mutation and feed metrics are reported to.
func WithMetrics(m *metrics.LedgerMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine is the single mutator of ledger state.
type Engine struct {
	mu sync.RWMutex

	genesis     Config
	roles       roles
	registry    *servicerecord.Registry
	points      *points.Ledger
	multipliers *multiplier.Table
	pauses      nativecommon.PauseView
	buffer      *events.Buffer

	journal   *feed.Journal
	degraded  error
	publisher Publisher
	now       func() time.Time
	logger    *slog.Logger
	metrics   *metrics.LedgerMetrics
}

// New builds an engine owned by cfg.Owner. A nil multiplier seed uses the
// default service types.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if cfg.Owner == (common.Address{}) {
		return nil, fmt.Errorf("%w: ledger owner required", ledgererrors.ErrInvalidArgument)
	}
	seed := cfg.Multipliers
	if seed == nil {
		seed = multiplier.DefaultSeed()
	}
	table, err := multiplier.NewTable(cfg.Owner, seed)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		genesis:     Config{Owner: cfg.Owner, Multipliers: maps.Clone(seed)},
		registry:    servicerecord.NewRegistry(cfg.Owner),
		points:      points.NewLedger(cfg.Owner, table),
		multipliers: table,
		buffer:      &events.Buffer{},
		now:         time.Now,
		logger:      slog.Default(),
	}
	e.roles = roles{owner: cfg.Owner, verifiers: e.registry}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.journal == nil {
		e.journal = feed.NewMemory()
	}
	e.registry.SetEmitter(e.buffer)
	e.points.SetEmitter(e.buffer)
	e.multipliers.SetEmitter(e.buffer)
	if len(cfg.Paused) > 0 {
		e.setPauses(nativecommon.NewStaticPauses(cfg.Paused))
	}
	return e, nil
}

func (e *Engine) setPauses(p nativecommon.PauseView) {
	e.pauses = p
	e.registry.SetPauses(p)
	e.points.SetPauses(p)
	e.multipliers.SetPauses(p)
}

// SetPauses replaces the paused module view at runtime.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setPauses(p)
}

// Owner returns the ledger owner.
func (e *Engine) Owner() common.Address {
	return e.roles.owner
}

// Journal exposes the change feed.
func (e *Engine) Journal() *feed.Journal {
	return e.journal
}

// MintResult describes the outcome of MintAndAward. A record can be minted
// without points being credited; Credited is false in that case and
// CreditErr says why.
type MintResult struct {
	ID        uint64
	Credited  bool
	Amount    *uint256.Int
	CreditErr error
}

// Partial reports whether the record committed without its points.
func (r MintResult) Partial() bool {
	return !r.Credited
}

// AwardResult describes the outcome of AwardRecord.
type AwardResult struct {
	RecordID        uint64
	Beneficiary     common.Address
	Amount          *uint256.Int
	AlreadyCredited bool
}

// MintAndAward mints a record owned by caller and credits the points for its
// service type to beneficiary (caller when zero). A failed mint changes
// nothing. A failed credit leaves the record minted and returns a partial
// result rather than an error; AwardRecord completes it later.
func (e *Engine) MintAndAward(caller common.Address, d servicerecord.Details, beneficiary common.Address) (MintResult, error) {
	var result MintResult
	err := e.mutate("mint", func() error {
		id, err := e.registry.Mint(caller, d)
		if err != nil {
			return err
		}
		result.ID = id
		if beneficiary == (common.Address{}) {
			beneficiary = caller
		}
		amount, err := e.points.Credit(e.roles.owner, beneficiary, id, d.ServiceType)
		if err != nil {
			result.CreditErr = err
			e.metrics.IncPartialMint()
			e.logger.Warn("record minted without points",
				slog.Uint64("recordId", id),
				slog.String("serviceType", d.ServiceType),
				slog.String("beneficiary", beneficiary.Hex()),
				slog.Any("error", err))
			return nil
		}
		result.Credited = true
		result.Amount = amount
		return nil
	})
	if err != nil {
		return MintResult{}, err
	}
	return result, nil
}

// AwardRecord credits the points of an existing record that was minted
// without them. It never credits a record twice: when points are already
// recorded the existing amount is returned with AlreadyCredited set. Only the
// record owner or the ledger owner may call it.
func (e *Engine) AwardRecord(caller common.Address, id uint64, beneficiary common.Address) (AwardResult, error) {
	var result AwardResult
	err := e.mutate("award", func() error {
		record, err := e.registry.Get(id)
		if err != nil {
			return err
		}
		if caller != record.Owner {
			if err := e.roles.requireOwner(caller, "award another owner's record"); err != nil {
				return err
			}
		}
		result.RecordID = id
		if existing, ok := e.points.RecordPoints(id); ok {
			result.Amount = existing
			result.AlreadyCredited = true
			return nil
		}
		if beneficiary == (common.Address{}) {
			beneficiary = record.Owner
		}
		amount, err := e.points.Credit(e.roles.owner, beneficiary, id, record.ServiceType)
		if err != nil {
			return err
		}
		result.Beneficiary = beneficiary
		result.Amount = amount
		return nil
	})
	if err != nil {
		return AwardResult{}, err
	}
	return result, nil
}

// Verify marks record id as verified by caller at the engine clock's time and
// returns the updated record.
func (e *Engine) Verify(caller common.Address, id uint64) (servicerecord.Record, error) {
	var record servicerecord.Record
	err := e.mutate("verify", func() error {
		if err := e.registry.Verify(caller, id, e.now()); err != nil {
			return err
		}
		var err error
		record, err = e.registry.Get(id)
		return err
	})
	return record, err
}

// Transfer moves amount points from caller to to and returns caller's new
// balance.
func (e *Engine) Transfer(caller, to common.Address, amount *uint256.Int) (*uint256.Int, error) {
	var remaining *uint256.Int
	err := e.mutate("transfer", func() error {
		var err error
		remaining, err = e.points.Transfer(caller, to, amount)
		return err
	})
	return remaining, err
}

// SetMultiplier inserts or overwrites a service type multiplier.
func (e *Engine) SetMultiplier(caller common.Address, serviceType string, value uint64) error {
	return e.mutate("set_multiplier", func() error {
		if err := e.roles.requireOwner(caller, "set multiplier"); err != nil {
			return err
		}
		return e.multipliers.Set(caller, serviceType, value)
	})
}

// SetVerifierStatus adds or removes an authorized verifier.
func (e *Engine) SetVerifierStatus(caller, addr common.Address, enabled bool) error {
	return e.mutate("set_verifier", func() error {
		if err := e.roles.requireOwner(caller, "manage verifiers"); err != nil {
			return err
		}
		return e.registry.SetVerifierStatus(caller, addr, enabled)
	})
}

// mutate runs fn under the writer lock, then commits or discards the events
// it buffered. A degraded engine rejects every mutation until its state has
// been rebuilt from the journal.
func (e *Engine) mutate(op string, fn func() error) error {
	start := time.Now()
	e.mu.Lock()
	err := e.restore()
	if err == nil {
		err = fn()
		if err != nil {
			e.buffer.Discard()
		} else {
			err = e.commit()
		}
	}
	e.mu.Unlock()
	e.observe(op, err, time.Since(start))
	return err
}

// commit journals and publishes buffered events. The caller holds the writer
// lock so feed order matches commit order. When the journal rejects the
// events the mutation is rolled back and nothing is published.
func (e *Engine) commit() error {
	pending := e.buffer.Drain()
	if len(pending) == 0 {
		return nil
	}
	at := e.now().UTC().Truncate(time.Second)
	payloads := make([]types.Event, len(pending))
	for i, evt := range pending {
		payloads[i] = *evt.Event()
	}
	entries, err := e.journal.Append(at, payloads...)
	if err != nil {
		e.metrics.IncJournalFailure()
		e.logger.Error("append change feed", slog.Int("events", len(payloads)), slog.Any("error", err))
		if rerr := e.rebuild(); rerr != nil {
			e.degraded = rerr
			e.logger.Error("ledger degraded, mutations rejected until the journal recovers", slog.Any("error", rerr))
		}
		return fmt.Errorf("%w: journal append: %v", ledgererrors.ErrTransportFailure, err)
	}
	notes := make([]notify.Notification, len(pending))
	for i, evt := range pending {
		e.metrics.ObserveEvent(evt.EventType())
		notes[i] = notify.Notification{Sequence: entries[i].Sequence, Time: at, Event: evt}
	}
	e.metrics.SetFeedHead(e.journal.Head())
	e.metrics.SetSupply(supplyFloat(e.points.Supply()))
	if e.publisher != nil {
		e.publisher.Publish(notes...)
	}
	return nil
}

// restore retries the rebuild of a degraded engine. The caller holds the
// writer lock.
func (e *Engine) restore() error {
	if e.degraded == nil {
		return nil
	}
	if err := e.rebuild(); err != nil {
		e.degraded = err
		return fmt.Errorf("%w: ledger degraded: %v", ledgererrors.ErrTransportFailure, err)
	}
	e.degraded = nil
	e.logger.Info("ledger recovered from journal", slog.Uint64("head", e.journal.Head()))
	return nil
}

// rebuild replaces in-memory state with the genesis state plus every journaled
// event, discarding anything that was applied but never journaled. The caller
// holds the writer lock. State is left untouched when the rebuild fails.
func (e *Engine) rebuild() error {
	fresh, err := New(e.genesis, WithJournal(e.journal), WithClock(e.now))
	if err != nil {
		return err
	}
	if _, err := fresh.ReplayJournal(e.journal); err != nil {
		return err
	}
	e.buffer.Discard()
	e.registry = fresh.registry
	e.points = fresh.points
	e.multipliers = fresh.multipliers
	e.roles = roles{owner: e.genesis.Owner, verifiers: e.registry}
	e.registry.SetEmitter(e.buffer)
	e.points.SetEmitter(e.buffer)
	e.multipliers.SetEmitter(e.buffer)
	e.setPauses(e.pauses)
	e.metrics.SetFeedHead(e.journal.Head())
	e.metrics.SetSupply(supplyFloat(e.points.Supply()))
	return nil
}

// Degraded reports the journal error that keeps the engine from accepting
// mutations, nil when healthy.
func (e *Engine) Degraded() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.degraded
}

func (e *Engine) observe(op string, err error, elapsed time.Duration) {
	kind := ledgererrors.KindOf(err)
	e.metrics.ObserveOperation(op, string(kind), elapsed)
	switch {
	case err == nil:
		e.logger.Debug("ledger mutation committed", slog.String("operation", op))
	case kind == ledgererrors.KindUnauthorized:
		e.logger.Info("ledger mutation rejected", slog.String("operation", op), slog.Any("error", err))
	case kind == ledgererrors.KindInternal:
		e.logger.Error("ledger mutation failed", slog.String("operation", op), slog.Any("error", err))
	default:
		e.logger.Debug("ledger mutation rejected", slog.String("operation", op), slog.Any("error", err))
	}
}

func supplyFloat(v *uint256.Int) float64 {
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}
