package api

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"drivechain/core/feed"
	"drivechain/core/types"
	"drivechain/crypto"
	"drivechain/native/servicerecord"
)

// FromRecord renders a registry record for the wire.
func FromRecord(r servicerecord.Record) Record {
	out := Record{
		ID:              r.ID,
		Owner:           r.Owner.Hex(),
		ServiceType:     r.ServiceType,
		ServiceDate:     r.ServiceDate,
		ServiceProvider: r.ServiceProvider,
		VehicleInfo:     r.VehicleInfo,
		ServiceDetails:  r.ServiceDetails,
		Digest:          "0x" + hex.EncodeToString(r.Digest[:]),
		Status:          string(r.Status()),
		IsVerified:      r.IsVerified,
	}
	if bech, err := crypto.EncodeBech32(r.Owner); err == nil {
		out.OwnerBech32 = bech
	}
	if r.IsVerified {
		verifier := r.VerifiedBy.Hex()
		at := r.VerificationTimestamp.UTC()
		out.VerifiedBy = &verifier
		out.VerificationTimestamp = &at
	}
	return out
}

// ToRecord parses a wire record back into the registry type.
func (r Record) ToRecord() (servicerecord.Record, error) {
	out := servicerecord.Record{
		ID:    r.ID,
		Owner: common.HexToAddress(r.Owner),
		Details: servicerecord.Details{
			ServiceType:     r.ServiceType,
			ServiceDate:     r.ServiceDate,
			ServiceProvider: r.ServiceProvider,
			VehicleInfo:     r.VehicleInfo,
			ServiceDetails:  r.ServiceDetails,
		},
		IsVerified: r.IsVerified,
	}
	digest, err := hex.DecodeString(strings.TrimPrefix(r.Digest, "0x"))
	if err != nil || len(digest) != len(out.Digest) {
		return servicerecord.Record{}, fmt.Errorf("record %d: malformed digest %q", r.ID, r.Digest)
	}
	copy(out.Digest[:], digest)
	if r.IsVerified {
		if r.VerifiedBy == nil || r.VerificationTimestamp == nil {
			return servicerecord.Record{}, fmt.Errorf("record %d: verified without verifier", r.ID)
		}
		out.VerifiedBy = common.HexToAddress(*r.VerifiedBy)
		out.VerificationTimestamp = r.VerificationTimestamp.UTC()
	}
	return out, nil
}

// FromEntry renders a change feed entry for the wire.
func FromEntry(e feed.Entry) EventEntry {
	return EventEntry{
		Sequence:   e.Sequence,
		Time:       e.Time.UTC(),
		Type:       e.Event.Type,
		Attributes: e.Event.Attributes,
	}
}

// ToEntry is the inverse of FromEntry.
func (e EventEntry) ToEntry() feed.Entry {
	return feed.Entry{
		Sequence: e.Sequence,
		Time:     e.Time.UTC().Truncate(time.Second),
		Event:    types.Event{Type: e.Type, Attributes: e.Attributes},
	}
}
