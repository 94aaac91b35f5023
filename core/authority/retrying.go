package authority

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"drivechain/core/feed"
	"drivechain/core/ledger"
	"drivechain/core/retry"
	"drivechain/native/multiplier"
	"drivechain/native/points"
	"drivechain/native/servicerecord"
)

// Retrying wraps an Authority and resubmits calls that failed with a
// transport failure. Every mutation carries one idempotency key across all of
// its attempts, so a submission whose acknowledgement was lost is confirmed
// rather than applied twice.
type Retrying struct {
	next   Authority
	policy retry.Policy
	logger *slog.Logger
}

var _ Authority = (*Retrying)(nil)

// NewRetrying decorates next with policy.
func NewRetrying(next Authority, policy retry.Policy, logger *slog.Logger) *Retrying {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Retrying{next: next, policy: policy, logger: logger}
	if r.policy.OnRetry == nil {
		r.policy.OnRetry = func(attempt int, err error, wait time.Duration) {
			r.logger.Warn("retrying ledger submission",
				slog.Int("attempt", attempt),
				slog.Duration("backoff", wait),
				slog.Any("error", err))
		}
	}
	return r
}

func (r *Retrying) mutation(ctx context.Context) context.Context {
	if _, ok := IdempotencyKey(ctx); ok {
		return ctx
	}
	return WithIdempotencyKey(ctx, uuid.NewString())
}

func (r *Retrying) Mint(ctx context.Context, d servicerecord.Details, beneficiary common.Address) (ledger.MintResult, error) {
	return retry.DoValue(r.mutation(ctx), r.policy, func(ctx context.Context) (ledger.MintResult, error) {
		return r.next.Mint(ctx, d, beneficiary)
	})
}

func (r *Retrying) Award(ctx context.Context, id uint64, beneficiary common.Address) (ledger.AwardResult, error) {
	return retry.DoValue(r.mutation(ctx), r.policy, func(ctx context.Context) (ledger.AwardResult, error) {
		return r.next.Award(ctx, id, beneficiary)
	})
}

func (r *Retrying) Verify(ctx context.Context, id uint64) (servicerecord.Record, error) {
	return retry.DoValue(r.mutation(ctx), r.policy, func(ctx context.Context) (servicerecord.Record, error) {
		return r.next.Verify(ctx, id)
	})
}

func (r *Retrying) Transfer(ctx context.Context, to common.Address, amount *uint256.Int) (*uint256.Int, error) {
	return retry.DoValue(r.mutation(ctx), r.policy, func(ctx context.Context) (*uint256.Int, error) {
		return r.next.Transfer(ctx, to, amount)
	})
}

func (r *Retrying) SetMultiplier(ctx context.Context, serviceType string, value uint64) error {
	return retry.Do(r.mutation(ctx), r.policy, func(ctx context.Context) error {
		return r.next.SetMultiplier(ctx, serviceType, value)
	})
}

func (r *Retrying) SetVerifierStatus(ctx context.Context, addr common.Address, enabled bool) error {
	return retry.Do(r.mutation(ctx), r.policy, func(ctx context.Context) error {
		return r.next.SetVerifierStatus(ctx, addr, enabled)
	})
}

func (r *Retrying) Record(ctx context.Context, id uint64) (servicerecord.Record, error) {
	return retry.DoValue(ctx, r.policy, func(ctx context.Context) (servicerecord.Record, error) {
		return r.next.Record(ctx, id)
	})
}

func (r *Retrying) RecordPoints(ctx context.Context, id uint64) (*uint256.Int, bool, error) {
	type result struct {
		amount   *uint256.Int
		credited bool
	}
	res, err := retry.DoValue(ctx, r.policy, func(ctx context.Context) (result, error) {
		amount, credited, err := r.next.RecordPoints(ctx, id)
		return result{amount, credited}, err
	})
	return res.amount, res.credited, err
}

func (r *Retrying) Account(ctx context.Context, addr common.Address) (points.Account, error) {
	return retry.DoValue(ctx, r.policy, func(ctx context.Context) (points.Account, error) {
		return r.next.Account(ctx, addr)
	})
}

func (r *Retrying) Multiplier(ctx context.Context, serviceType string) (uint64, error) {
	return retry.DoValue(ctx, r.policy, func(ctx context.Context) (uint64, error) {
		return r.next.Multiplier(ctx, serviceType)
	})
}

func (r *Retrying) Multipliers(ctx context.Context) ([]multiplier.Entry, error) {
	return retry.DoValue(ctx, r.policy, func(ctx context.Context) ([]multiplier.Entry, error) {
		return r.next.Multipliers(ctx)
	})
}

func (r *Retrying) IsAuthorizedVerifier(ctx context.Context, addr common.Address) (bool, error) {
	return retry.DoValue(ctx, r.policy, func(ctx context.Context) (bool, error) {
		return r.next.IsAuthorizedVerifier(ctx, addr)
	})
}

func (r *Retrying) Events(ctx context.Context, q feed.Query) ([]feed.Entry, error) {
	return retry.DoValue(ctx, r.policy, func(ctx context.Context) ([]feed.Entry, error) {
		return r.next.Events(ctx, q)
	})
}
