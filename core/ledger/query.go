package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	ledgererrors "drivechain/core/errors"
	"drivechain/native/multiplier"
	"drivechain/native/points"
	"drivechain/native/servicerecord"
)

// Record returns a snapshot of record id.
func (e *Engine) Record(id uint64) (servicerecord.Record, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.Get(id)
}

// RecordsByOwner returns the ids minted by owner in ascending order.
func (e *Engine) RecordsByOwner(owner common.Address) []uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.ListByOwner(owner)
}

// LastRecordID returns the most recently assigned record id.
func (e *Engine) LastRecordID() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.LastID()
}

// RecordPoints returns the points credited for record id. credited is false
// when the record exists but was minted without points.
func (e *Engine) RecordPoints(id uint64) (amount *uint256.Int, credited bool, err error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if _, err := e.registry.Get(id); err != nil {
		return nil, false, err
	}
	amount, credited = e.points.RecordPoints(id)
	if !credited {
		amount = new(uint256.Int)
	}
	return amount, credited, nil
}

// Account returns balance and lifetime earnings for addr; unknown addresses
// report zeros.
func (e *Engine) Account(addr common.Address) points.Account {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.points.Account(addr)
}

// Supply returns the total points ever credited.
func (e *Engine) Supply() *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.points.Supply()
}

// Multiplier returns the multiplier for an exact service type match.
func (e *Engine) Multiplier(serviceType string) (uint64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.multipliers.Get(serviceType)
	if !ok {
		return 0, fmt.Errorf("%w: no multiplier for %q", ledgererrors.ErrNotFound, serviceType)
	}
	return m, nil
}

// Multipliers lists every entry sorted by service type.
func (e *Engine) Multipliers() []multiplier.Entry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.multipliers.List()
}

// IsAuthorizedVerifier reports verifier set membership.
func (e *Engine) IsAuthorizedVerifier(addr common.Address) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.IsAuthorizedVerifier(addr)
}

// CanVerify reports whether addr may verify records (owner or verifier).
func (e *Engine) CanVerify(addr common.Address) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.roles.canVerify(addr)
}

// Verifiers returns the verifier set.
func (e *Engine) Verifiers() []common.Address {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.Verifiers()
}
