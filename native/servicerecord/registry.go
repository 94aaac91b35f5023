package servicerecord

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	ledgererrors "drivechain/core/errors"
	"drivechain/core/events"
	nativecommon "drivechain/native/common"
)

// Registry is the append-only collection of service records together with the
// set of identities allowed to verify them. Registry is not safe for
// concurrent use; the ledger engine serialises access.
type Registry struct {
	owner     common.Address
	lastID    uint64
	records   map[uint64]*Record
	byOwner   map[common.Address][]uint64
	verifiers map[common.Address]struct{}
	emitter   events.Emitter
	pauses    nativecommon.PauseView
}

// NewRegistry creates an empty registry owned by owner.
func NewRegistry(owner common.Address) *Registry {
	return &Registry{
		owner:     owner,
		records:   make(map[uint64]*Record),
		byOwner:   make(map[common.Address][]uint64),
		verifiers: make(map[common.Address]struct{}),
		emitter:   events.NoopEmitter{},
	}
}

// SetEmitter configures the event emitter. Passing nil resets the emitter to a
// no-op implementation.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// SetPauses sets the pause view consulted before every registry mutation.
func (r *Registry) SetPauses(p nativecommon.PauseView) {
	if r == nil {
		return
	}
	r.pauses = p
}

// Owner returns the registry owner.
func (r *Registry) Owner() common.Address {
	return r.owner
}

// LastID returns the most recently assigned record id, or zero when nothing
// has been minted.
func (r *Registry) LastID() uint64 {
	return r.lastID
}

// Mint stores a new unverified record owned by caller and returns its id. Ids
// start at 1 and are only consumed by successful mints.
func (r *Registry) Mint(caller common.Address, d Details) (uint64, error) {
	if err := nativecommon.Guard(r.pauses, nativecommon.ModuleRecords); err != nil {
		return 0, err
	}
	if caller == (common.Address{}) {
		return 0, fmt.Errorf("%w: zero owner", ledgererrors.ErrInvalidArgument)
	}
	id := r.lastID + 1
	record := &Record{
		ID:      id,
		Owner:   caller,
		Details: d,
		Digest:  ComputeDigest(id, caller, d),
	}
	r.lastID = id
	r.records[id] = record
	r.byOwner[caller] = append(r.byOwner[caller], id)
	r.emitter.Emit(events.ServiceRecordMinted{
		ID:              id,
		Owner:           caller,
		ServiceType:     d.ServiceType,
		ServiceDate:     d.ServiceDate,
		ServiceProvider: d.ServiceProvider,
		VehicleInfo:     d.VehicleInfo,
		ServiceDetails:  d.ServiceDetails,
		Digest:          record.Digest,
	})
	return id, nil
}

// Get returns a copy of the record with the given id.
func (r *Registry) Get(id uint64) (Record, error) {
	record, ok := r.records[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: record %d", ledgererrors.ErrNotFound, id)
	}
	return *record, nil
}

// Verify marks a record as verified by caller at the given time. The
// transition happens at most once.
func (r *Registry) Verify(caller common.Address, id uint64, at time.Time) error {
	if err := nativecommon.Guard(r.pauses, nativecommon.ModuleRecords); err != nil {
		return err
	}
	record, ok := r.records[id]
	if !ok {
		return fmt.Errorf("%w: record %d", ledgererrors.ErrNotFound, id)
	}
	if !r.CanVerify(caller) {
		return fmt.Errorf("%w: not authorized to verify", ledgererrors.ErrUnauthorized)
	}
	if record.IsVerified {
		return fmt.Errorf("%w: record %d", ledgererrors.ErrAlreadyVerified, id)
	}
	at = at.UTC().Truncate(time.Second)
	record.IsVerified = true
	record.VerifiedBy = caller
	record.VerificationTimestamp = at
	r.emitter.Emit(events.ServiceRecordVerified{ID: id, Verifier: caller, Timestamp: at})
	return nil
}

// SetVerifierStatus adds addr to or removes it from the verifier set. Only the
// registry owner may change the set.
func (r *Registry) SetVerifierStatus(caller, addr common.Address, enabled bool) error {
	if err := nativecommon.Guard(r.pauses, nativecommon.ModuleRecords); err != nil {
		return err
	}
	if caller != r.owner {
		return fmt.Errorf("%w: caller is not the owner", ledgererrors.ErrUnauthorized)
	}
	if addr == (common.Address{}) {
		return fmt.Errorf("%w: zero verifier", ledgererrors.ErrInvalidArgument)
	}
	if enabled {
		r.verifiers[addr] = struct{}{}
	} else {
		delete(r.verifiers, addr)
	}
	r.emitter.Emit(events.VerifierStatusChanged{Verifier: addr, Enabled: enabled})
	return nil
}

// IsAuthorizedVerifier reports verifier set membership.
func (r *Registry) IsAuthorizedVerifier(addr common.Address) bool {
	_, ok := r.verifiers[addr]
	return ok
}

// CanVerify reports whether addr may verify records: the owner always can,
// everyone else needs verifier set membership.
func (r *Registry) CanVerify(addr common.Address) bool {
	return addr == r.owner || r.IsAuthorizedVerifier(addr)
}

// Verifiers returns the verifier set in deterministic order.
func (r *Registry) Verifiers() []common.Address {
	out := make([]common.Address, 0, len(r.verifiers))
	for addr := range r.verifiers {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

// ListByOwner returns the ids of records minted by owner in ascending order.
func (r *Registry) ListByOwner(owner common.Address) []uint64 {
	ids := r.byOwner[owner]
	return append([]uint64(nil), ids...)
}
