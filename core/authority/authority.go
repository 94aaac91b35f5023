// Package authority defines how callers submit ledger intents to the system
// of record. An Authority is bound to one caller identity; the in-process
// Local authority and the HTTP client in sdk/ledgerclient both implement it.
package authority

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"drivechain/core/feed"
	"drivechain/core/ledger"
	"drivechain/native/multiplier"
	"drivechain/native/points"
	"drivechain/native/servicerecord"
)

// Authority submits mutations and queries state on behalf of a caller.
// Mutations suspend until the authority commits or rejects them.
type Authority interface {
	Mint(ctx context.Context, d servicerecord.Details, beneficiary common.Address) (ledger.MintResult, error)
	Award(ctx context.Context, id uint64, beneficiary common.Address) (ledger.AwardResult, error)
	Verify(ctx context.Context, id uint64) (servicerecord.Record, error)
	Transfer(ctx context.Context, to common.Address, amount *uint256.Int) (*uint256.Int, error)
	SetMultiplier(ctx context.Context, serviceType string, value uint64) error
	SetVerifierStatus(ctx context.Context, addr common.Address, enabled bool) error

	Record(ctx context.Context, id uint64) (servicerecord.Record, error)
	RecordPoints(ctx context.Context, id uint64) (*uint256.Int, bool, error)
	Account(ctx context.Context, addr common.Address) (points.Account, error)
	Multiplier(ctx context.Context, serviceType string) (uint64, error)
	Multipliers(ctx context.Context) ([]multiplier.Entry, error)
	IsAuthorizedVerifier(ctx context.Context, addr common.Address) (bool, error)
	Events(ctx context.Context, q feed.Query) ([]feed.Entry, error)
}

type idempotencyKey struct{}

// WithIdempotencyKey attaches the key transports send with a mutation so that
// a resubmission is confirmed instead of applied twice.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKey{}, key)
}

// IdempotencyKey returns the key attached to ctx, if any.
func IdempotencyKey(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(idempotencyKey{}).(string)
	return key, ok && key != ""
}
