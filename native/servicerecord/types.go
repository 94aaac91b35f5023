package servicerecord

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Details holds the descriptive fields supplied at mint. They are opaque to
// the registry and immutable once stored.
type Details struct {
	ServiceType     string `json:"serviceType"`
	ServiceDate     string `json:"serviceDate"`
	ServiceProvider string `json:"serviceProvider"`
	VehicleInfo     string `json:"vehicleInfo"`
	ServiceDetails  string `json:"serviceDetails"`
}

// Record is a service record. Only the verification fields ever change, and
// only once: VerifiedBy and VerificationTimestamp are zero while IsVerified is
// false and set together when it becomes true.
type Record struct {
	ID    uint64
	Owner common.Address
	Details
	Digest                [32]byte
	IsVerified            bool
	VerifiedBy            common.Address
	VerificationTimestamp time.Time
}

// Status is the verification state of a record.
type Status string

const (
	StatusUnverified Status = "unverified"
	StatusVerified   Status = "verified"
)

// Status reports the record's position in its two-state lifecycle.
func (r Record) Status() Status {
	if r.IsVerified {
		return StatusVerified
	}
	return StatusUnverified
}
