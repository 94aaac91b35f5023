package multiplier

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	ledgererrors "drivechain/core/errors"
	"drivechain/core/events"
	nativecommon "drivechain/native/common"
)

// Entry is a single service type multiplier.
type Entry struct {
	ServiceType string `json:"serviceType" yaml:"serviceType"`
	Multiplier  uint64 `json:"multiplier" yaml:"multiplier"`
}

// Table maps service type labels to positive multipliers. Labels are matched
// exactly and case-sensitively. Table is not safe for concurrent use; the
// ledger engine serialises access.
type Table struct {
	owner   common.Address
	entries map[string]uint64
	emitter events.Emitter
	pauses  nativecommon.PauseView
}

// DefaultSeed returns the multipliers for the known service types.
func DefaultSeed() map[string]uint64 {
	return map[string]uint64{
		"Oil Change":    2,
		"Tire Rotation": 1,
		"Brake Service": 3,
		"Engine Repair": 5,
	}
}

// NewTable creates a table owned by owner and populated from seed. Seeding
// does not emit events. A nil seed yields an empty table.
func NewTable(owner common.Address, seed map[string]uint64) (*Table, error) {
	t := &Table{
		owner:   owner,
		entries: make(map[string]uint64, len(seed)),
		emitter: events.NoopEmitter{},
	}
	for serviceType, m := range seed {
		if serviceType == "" {
			return nil, fmt.Errorf("%w: empty service type in seed", ledgererrors.ErrInvalidArgument)
		}
		if m == 0 {
			return nil, fmt.Errorf("%w: multiplier for %q must be greater than 0", ledgererrors.ErrInvalidArgument, serviceType)
		}
		t.entries[serviceType] = m
	}
	return t, nil
}

// SetEmitter configures the event emitter. Passing nil resets the emitter to a
// no-op implementation.
func (t *Table) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		t.emitter = events.NoopEmitter{}
		return
	}
	t.emitter = emitter
}

// SetPauses sets the pause view consulted before every table mutation.
func (t *Table) SetPauses(p nativecommon.PauseView) {
	if t == nil {
		return
	}
	t.pauses = p
}

// Owner returns the only identity allowed to change multipliers.
func (t *Table) Owner() common.Address {
	return t.owner
}

// Get returns the multiplier for serviceType and whether it exists.
func (t *Table) Get(serviceType string) (uint64, bool) {
	m, ok := t.entries[serviceType]
	return m, ok
}

// Set inserts or overwrites the multiplier for serviceType.
func (t *Table) Set(caller common.Address, serviceType string, multiplier uint64) error {
	if err := nativecommon.Guard(t.pauses, nativecommon.ModuleMultipliers); err != nil {
		return err
	}
	if caller != t.owner {
		return fmt.Errorf("%w: caller is not the owner", ledgererrors.ErrUnauthorized)
	}
	if serviceType == "" {
		return fmt.Errorf("%w: service type required", ledgererrors.ErrInvalidArgument)
	}
	if multiplier == 0 {
		return fmt.Errorf("%w: multiplier must be greater than 0", ledgererrors.ErrInvalidArgument)
	}
	t.entries[serviceType] = multiplier
	t.emitter.Emit(events.MultiplierChanged{ServiceType: serviceType, Multiplier: multiplier})
	return nil
}

// List returns every entry sorted by service type.
func (t *Table) List() []Entry {
	out := make([]Entry, 0, len(t.entries))
	for serviceType, m := range t.entries {
		out = append(out, Entry{ServiceType: serviceType, Multiplier: m})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceType < out[j].ServiceType })
	return out
}
