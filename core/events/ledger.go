package events

import (
	"encoding/hex"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"drivechain/core/types"
)

const (
	// TypeServiceRecordMinted is emitted when a new service record is appended
	// to the registry.
	TypeServiceRecordMinted = "record.minted"
	// TypeServiceRecordVerified is emitted on the one-way verification
	// transition of a record.
	TypeServiceRecordVerified = "record.verified"
	// TypePointsAwarded is emitted when points are credited for a record.
	TypePointsAwarded = "points.awarded"
	// TypePointsTransferred is emitted for peer-to-peer balance movements.
	TypePointsTransferred = "points.transferred"
	// TypeMultiplierChanged is emitted when the owner inserts or overwrites a
	// service type multiplier.
	TypeMultiplierChanged = "multiplier.changed"
	// TypeVerifierStatusChanged is emitted when an address is added to or
	// removed from the verifier set.
	TypeVerifierStatusChanged = "verifier.status"
)

// Types lists every event kind produced by the ledger in a stable order.
func Types() []string {
	return []string{
		TypeServiceRecordMinted,
		TypeServiceRecordVerified,
		TypePointsAwarded,
		TypePointsTransferred,
		TypeMultiplierChanged,
		TypeVerifierStatusChanged,
	}
}

// ServiceRecordMinted carries the full immutable content of the new record so
// that the journal can rebuild the registry on replay.
type ServiceRecordMinted struct {
	ID              uint64
	Owner           common.Address
	ServiceType     string
	ServiceDate     string
	ServiceProvider string
	VehicleInfo     string
	ServiceDetails  string
	Digest          [32]byte
}

// EventType implements the Event interface.
func (ServiceRecordMinted) EventType() string { return TypeServiceRecordMinted }

// Event converts the mint to the generic event payload.
func (e ServiceRecordMinted) Event() *types.Event {
	return &types.Event{
		Type: TypeServiceRecordMinted,
		Attributes: map[string]string{
			"id":              strconv.FormatUint(e.ID, 10),
			"owner":           e.Owner.Hex(),
			"serviceType":     e.ServiceType,
			"serviceDate":     e.ServiceDate,
			"serviceProvider": e.ServiceProvider,
			"vehicleInfo":     e.VehicleInfo,
			"serviceDetails":  e.ServiceDetails,
			"digest":          "0x" + hex.EncodeToString(e.Digest[:]),
		},
	}
}

// ServiceRecordVerified captures the verifier and the verification time.
type ServiceRecordVerified struct {
	ID        uint64
	Verifier  common.Address
	Timestamp time.Time
}

// EventType implements the Event interface.
func (ServiceRecordVerified) EventType() string { return TypeServiceRecordVerified }

// Event converts the verification to the generic event payload.
func (e ServiceRecordVerified) Event() *types.Event {
	return &types.Event{
		Type: TypeServiceRecordVerified,
		Attributes: map[string]string{
			"id":        strconv.FormatUint(e.ID, 10),
			"verifier":  e.Verifier.Hex(),
			"timestamp": strconv.FormatInt(e.Timestamp.UTC().Unix(), 10),
		},
	}
}

// PointsAwarded captures a credit of points for a service record.
type PointsAwarded struct {
	Account     common.Address
	Amount      *uint256.Int
	RecordID    uint64
	ServiceType string
}

// EventType implements the Event interface.
func (PointsAwarded) EventType() string { return TypePointsAwarded }

// Event converts the award to the generic event payload.
func (e PointsAwarded) Event() *types.Event {
	return &types.Event{
		Type: TypePointsAwarded,
		Attributes: map[string]string{
			"account":     e.Account.Hex(),
			"amount":      formatAmount(e.Amount),
			"recordId":    strconv.FormatUint(e.RecordID, 10),
			"serviceType": e.ServiceType,
		},
	}
}

// PointsTransferred captures a balance movement between two accounts.
type PointsTransferred struct {
	From   common.Address
	To     common.Address
	Amount *uint256.Int
}

// EventType implements the Event interface.
func (PointsTransferred) EventType() string { return TypePointsTransferred }

// Event converts the transfer to the generic event payload.
func (e PointsTransferred) Event() *types.Event {
	return &types.Event{
		Type: TypePointsTransferred,
		Attributes: map[string]string{
			"from":   e.From.Hex(),
			"to":     e.To.Hex(),
			"amount": formatAmount(e.Amount),
		},
	}
}

// MultiplierChanged captures an insert or overwrite in the multiplier table.
type MultiplierChanged struct {
	ServiceType string
	Multiplier  uint64
}

// EventType implements the Event interface.
func (MultiplierChanged) EventType() string { return TypeMultiplierChanged }

// Event converts the change to the generic event payload.
func (e MultiplierChanged) Event() *types.Event {
	return &types.Event{
		Type: TypeMultiplierChanged,
		Attributes: map[string]string{
			"serviceType": e.ServiceType,
			"multiplier":  strconv.FormatUint(e.Multiplier, 10),
		},
	}
}

// VerifierStatusChanged captures a verifier set membership change.
type VerifierStatusChanged struct {
	Verifier common.Address
	Enabled  bool
}

// EventType implements the Event interface.
func (VerifierStatusChanged) EventType() string { return TypeVerifierStatusChanged }

// Event converts the change to the generic event payload.
func (e VerifierStatusChanged) Event() *types.Event {
	return &types.Event{
		Type: TypeVerifierStatusChanged,
		Attributes: map[string]string{
			"verifier": e.Verifier.Hex(),
			"enabled":  strconv.FormatBool(e.Enabled),
		},
	}
}

func formatAmount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
