package points

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	ledgererrors "drivechain/core/errors"
	"drivechain/core/events"
	nativecommon "drivechain/native/common"
)

// BasePoints is the amount awarded per unit of service type multiplier.
const BasePoints = 10

// MultiplierSource resolves the multiplier for a service type.
type MultiplierSource interface {
	Get(serviceType string) (uint64, bool)
}

// Account is a snapshot of an address' points position.
type Account struct {
	Balance     *uint256.Int
	TotalEarned *uint256.Int
}

type account struct {
	balance     uint256.Int
	totalEarned uint256.Int
}

// Ledger tracks per-address balances and lifetime earnings. Accounts are
// created lazily on first credit or incoming transfer. Ledger is not safe for
// concurrent use; the ledger engine serialises access.
type Ledger struct {
	owner        common.Address
	multipliers  MultiplierSource
	accounts     map[common.Address]*account
	recordPoints map[uint64]*uint256.Int
	supply       uint256.Int
	emitter      events.Emitter
	pauses       nativecommon.PauseView
}

// NewLedger creates an empty ledger owned by owner. Only the owner may credit
// points.
func NewLedger(owner common.Address, multipliers MultiplierSource) *Ledger {
	return &Ledger{
		owner:        owner,
		multipliers:  multipliers,
		accounts:     make(map[common.Address]*account),
		recordPoints: make(map[uint64]*uint256.Int),
		emitter:      events.NoopEmitter{},
	}
}

// SetEmitter configures the event emitter. Passing nil resets the emitter to a
// no-op implementation.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// SetPauses sets the pause view consulted before every credit or transfer.
func (l *Ledger) SetPauses(p nativecommon.PauseView) {
	if l == nil {
		return
	}
	l.pauses = p
}

// Owner returns the identity allowed to credit points.
func (l *Ledger) Owner() common.Address {
	return l.owner
}

// Balance returns the spendable balance of addr; unknown addresses hold zero.
func (l *Ledger) Balance(addr common.Address) *uint256.Int {
	if acc, ok := l.accounts[addr]; ok {
		return acc.balance.Clone()
	}
	return new(uint256.Int)
}

// TotalEarned returns the lifetime credited points of addr.
func (l *Ledger) TotalEarned(addr common.Address) *uint256.Int {
	if acc, ok := l.accounts[addr]; ok {
		return acc.totalEarned.Clone()
	}
	return new(uint256.Int)
}

// Account returns both counters of addr.
func (l *Ledger) Account(addr common.Address) Account {
	return Account{Balance: l.Balance(addr), TotalEarned: l.TotalEarned(addr)}
}

// RecordPoints returns the amount credited for a record and whether the
// record has been credited at all.
func (l *Ledger) RecordPoints(recordID uint64) (*uint256.Int, bool) {
	v, ok := l.recordPoints[recordID]
	if !ok {
		return new(uint256.Int), false
	}
	return v.Clone(), true
}

// Supply returns the sum of all balances.
func (l *Ledger) Supply() *uint256.Int {
	return l.supply.Clone()
}

// AmountFor returns the points a credit for serviceType would award.
func (l *Ledger) AmountFor(serviceType string) (*uint256.Int, error) {
	if l.multipliers == nil {
		return nil, fmt.Errorf("%w: no multiplier table", ledgererrors.ErrInvalidServiceType)
	}
	m, ok := l.multipliers.Get(serviceType)
	if !ok || m == 0 {
		return nil, fmt.Errorf("%w: %q", ledgererrors.ErrInvalidServiceType, serviceType)
	}
	amount, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(BasePoints), uint256.NewInt(m))
	if overflow {
		return nil, fmt.Errorf("%w: award overflows", ledgererrors.ErrInvalidArgument)
	}
	return amount, nil
}

// Credit awards BasePoints times the service type multiplier to addr for the
// given record. The ledger does not deduplicate by record id; the engine
// guarantees a record is credited at most once.
func (l *Ledger) Credit(caller, addr common.Address, recordID uint64, serviceType string) (*uint256.Int, error) {
	if err := nativecommon.Guard(l.pauses, nativecommon.ModulePoints); err != nil {
		return nil, err
	}
	if caller != l.owner {
		return nil, fmt.Errorf("%w: caller is not the owner", ledgererrors.ErrUnauthorized)
	}
	if addr == (common.Address{}) {
		return nil, fmt.Errorf("%w: zero beneficiary", ledgererrors.ErrInvalidArgument)
	}
	amount, err := l.AmountFor(serviceType)
	if err != nil {
		return nil, err
	}
	acc := l.accounts[addr]
	if acc == nil {
		acc = new(account)
	}
	var balance, earned, supply uint256.Int
	if _, overflow := balance.AddOverflow(&acc.balance, amount); overflow {
		return nil, fmt.Errorf("%w: balance overflow", ledgererrors.ErrInvalidArgument)
	}
	if _, overflow := earned.AddOverflow(&acc.totalEarned, amount); overflow {
		return nil, fmt.Errorf("%w: total earned overflow", ledgererrors.ErrInvalidArgument)
	}
	if _, overflow := supply.AddOverflow(&l.supply, amount); overflow {
		return nil, fmt.Errorf("%w: supply overflow", ledgererrors.ErrInvalidArgument)
	}
	acc.balance = balance
	acc.totalEarned = earned
	l.accounts[addr] = acc
	l.supply = supply
	l.recordPoints[recordID] = amount.Clone()
	l.emitter.Emit(events.PointsAwarded{
		Account:     addr,
		Amount:      amount.Clone(),
		RecordID:    recordID,
		ServiceType: serviceType,
	})
	return amount, nil
}

// Transfer moves amount from caller's balance to to. Lifetime earnings of
// both sides are unchanged. The caller's new balance is returned.
func (l *Ledger) Transfer(caller, to common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if err := nativecommon.Guard(l.pauses, nativecommon.ModulePoints); err != nil {
		return nil, err
	}
	if amount == nil || amount.IsZero() {
		return nil, fmt.Errorf("%w: amount must be greater than 0", ledgererrors.ErrInvalidArgument)
	}
	if to == (common.Address{}) {
		return nil, fmt.Errorf("%w: zero recipient", ledgererrors.ErrInvalidArgument)
	}
	from := l.accounts[caller]
	if from == nil || from.balance.Lt(amount) {
		return nil, fmt.Errorf("%w: have %s, need %s", ledgererrors.ErrInsufficientBalance, l.Balance(caller).Dec(), amount.Dec())
	}
	if caller != to {
		dest := l.accounts[to]
		if dest == nil {
			dest = new(account)
		}
		var credited uint256.Int
		if _, overflow := credited.AddOverflow(&dest.balance, amount); overflow {
			return nil, fmt.Errorf("%w: recipient balance overflow", ledgererrors.ErrInvalidArgument)
		}
		from.balance.Sub(&from.balance, amount)
		dest.balance = credited
		l.accounts[to] = dest
	}
	l.emitter.Emit(events.PointsTransferred{From: caller, To: to, Amount: amount.Clone()})
	return from.balance.Clone(), nil
}
