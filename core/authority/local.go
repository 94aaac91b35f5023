package authority

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	ledgererrors "drivechain/core/errors"
	"drivechain/core/feed"
	"drivechain/core/ledger"
	"drivechain/native/multiplier"
	"drivechain/native/points"
	"drivechain/native/servicerecord"
)

var (
	tracer         = otel.Tracer("drivechain/core/authority")
	submissions, _ = otel.Meter("drivechain/core/authority").Int64Counter(
		"drivechain.authority.submissions",
		metric.WithDescription("Intents submitted to the in-process engine by operation and outcome."),
	)
)

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(ledgererrors.KindOf(err))
}

// Local submits intents to an in-process engine as a fixed caller.
type Local struct {
	engine *ledger.Engine
	caller common.Address
}

var _ Authority = (*Local)(nil)

// NewLocal binds caller to engine.
func NewLocal(engine *ledger.Engine, caller common.Address) *Local {
	return &Local{engine: engine, caller: caller}
}

// Caller returns the bound identity.
func (l *Local) Caller() common.Address { return l.caller }

// begin refuses work for an abandoned context; once past this point the
// engine call always runs to completion.
func (l *Local) begin(ctx context.Context, op string) (context.Context, trace.Span, error) {
	ctx, span := tracer.Start(ctx, "ledger."+op, trace.WithAttributes(
		attribute.String("ledger.caller", l.caller.Hex()),
	))
	if err := ctx.Err(); err != nil {
		span.End()
		return ctx, span, fmt.Errorf("%w: %w", ledgererrors.ErrCancelled, err)
	}
	return ctx, span, nil
}

func finish(ctx context.Context, span trace.Span, op string, err error) {
	submissions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", outcome(err)),
	))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(ledgererrors.KindOf(err)))
	}
	span.End()
}

func (l *Local) Mint(ctx context.Context, d servicerecord.Details, beneficiary common.Address) (ledger.MintResult, error) {
	ctx, span, err := l.begin(ctx, "mint")
	if err != nil {
		return ledger.MintResult{}, err
	}
	res, err := l.engine.MintAndAward(l.caller, d, beneficiary)
	if err == nil {
		span.SetAttributes(attribute.Int64("record.id", int64(res.ID)), attribute.Bool("record.credited", res.Credited))
	}
	finish(ctx, span, "mint", err)
	return res, err
}

func (l *Local) Award(ctx context.Context, id uint64, beneficiary common.Address) (ledger.AwardResult, error) {
	ctx, span, err := l.begin(ctx, "award")
	if err != nil {
		return ledger.AwardResult{}, err
	}
	res, err := l.engine.AwardRecord(l.caller, id, beneficiary)
	finish(ctx, span, "award", err)
	return res, err
}

func (l *Local) Verify(ctx context.Context, id uint64) (servicerecord.Record, error) {
	ctx, span, err := l.begin(ctx, "verify")
	if err != nil {
		return servicerecord.Record{}, err
	}
	record, err := l.engine.Verify(l.caller, id)
	finish(ctx, span, "verify", err)
	return record, err
}

func (l *Local) Transfer(ctx context.Context, to common.Address, amount *uint256.Int) (*uint256.Int, error) {
	ctx, span, err := l.begin(ctx, "transfer")
	if err != nil {
		return nil, err
	}
	remaining, err := l.engine.Transfer(l.caller, to, amount)
	finish(ctx, span, "transfer", err)
	return remaining, err
}

func (l *Local) SetMultiplier(ctx context.Context, serviceType string, value uint64) error {
	ctx, span, err := l.begin(ctx, "set_multiplier")
	if err != nil {
		return err
	}
	err = l.engine.SetMultiplier(l.caller, serviceType, value)
	finish(ctx, span, "set_multiplier", err)
	return err
}

func (l *Local) SetVerifierStatus(ctx context.Context, addr common.Address, enabled bool) error {
	ctx, span, err := l.begin(ctx, "set_verifier")
	if err != nil {
		return err
	}
	err = l.engine.SetVerifierStatus(l.caller, addr, enabled)
	finish(ctx, span, "set_verifier", err)
	return err
}

func (l *Local) Record(ctx context.Context, id uint64) (servicerecord.Record, error) {
	if err := ctx.Err(); err != nil {
		return servicerecord.Record{}, fmt.Errorf("%w: %w", ledgererrors.ErrCancelled, err)
	}
	return l.engine.Record(id)
}

func (l *Local) RecordPoints(ctx context.Context, id uint64) (*uint256.Int, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, fmt.Errorf("%w: %w", ledgererrors.ErrCancelled, err)
	}
	return l.engine.RecordPoints(id)
}

func (l *Local) Account(ctx context.Context, addr common.Address) (points.Account, error) {
	if err := ctx.Err(); err != nil {
		return points.Account{}, fmt.Errorf("%w: %w", ledgererrors.ErrCancelled, err)
	}
	return l.engine.Account(addr), nil
}

func (l *Local) Multiplier(ctx context.Context, serviceType string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %w", ledgererrors.ErrCancelled, err)
	}
	return l.engine.Multiplier(serviceType)
}

func (l *Local) Multipliers(ctx context.Context) ([]multiplier.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ledgererrors.ErrCancelled, err)
	}
	return l.engine.Multipliers(), nil
}

func (l *Local) IsAuthorizedVerifier(ctx context.Context, addr common.Address) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("%w: %w", ledgererrors.ErrCancelled, err)
	}
	return l.engine.IsAuthorizedVerifier(addr), nil
}

func (l *Local) Events(ctx context.Context, q feed.Query) ([]feed.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ledgererrors.ErrCancelled, err)
	}
	return l.engine.Journal().Range(q)
}
