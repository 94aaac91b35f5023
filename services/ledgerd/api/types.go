// Package api holds the JSON shapes exchanged between ledgerd and its
// clients. Amounts travel as decimal strings because they are 256-bit.
package api

import (
	"encoding/json"
	"time"
)

// Envelope wraps every response body.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error carries a taxonomy kind and a human readable message.
type Error struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type TokenRequest struct {
	Address   string `json:"address"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
}

type TokenResponse struct {
	Token     string    `json:"token"`
	Address   string    `json:"address"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type MintRequest struct {
	ServiceType     string `json:"serviceType"`
	ServiceDate     string `json:"serviceDate"`
	ServiceProvider string `json:"serviceProvider"`
	VehicleInfo     string `json:"vehicleInfo"`
	ServiceDetails  string `json:"serviceDetails"`
	Beneficiary     string `json:"beneficiary,omitempty"`
}

// MintResponse reports a minted record. CreditedAmount is null when the
// record committed without points; CreditError then says why.
type MintResponse struct {
	ID             uint64  `json:"id"`
	CreditedAmount *string `json:"creditedAmount"`
	CreditError    *Error  `json:"creditError,omitempty"`
}

type Record struct {
	ID                    uint64     `json:"id"`
	Owner                 string     `json:"owner"`
	OwnerBech32           string     `json:"ownerBech32,omitempty"`
	ServiceType           string     `json:"serviceType"`
	ServiceDate           string     `json:"serviceDate"`
	ServiceProvider       string     `json:"serviceProvider"`
	VehicleInfo           string     `json:"vehicleInfo"`
	ServiceDetails        string     `json:"serviceDetails"`
	Digest                string     `json:"digest"`
	Status                string     `json:"status"`
	IsVerified            bool       `json:"isVerified"`
	VerifiedBy            *string    `json:"verifiedBy"`
	VerificationTimestamp *time.Time `json:"verificationTimestamp"`
}

type RecordList struct {
	Owner string   `json:"owner"`
	IDs   []uint64 `json:"ids"`
}

type VerifyResponse struct {
	VerifiedBy            string    `json:"verifiedBy"`
	VerificationTimestamp time.Time `json:"verificationTimestamp"`
}

type RecordPoints struct {
	RecordID uint64 `json:"recordId"`
	Amount   string `json:"amount"`
	Credited bool   `json:"credited"`
}

type AwardRequest struct {
	Beneficiary string `json:"beneficiary,omitempty"`
}

type AwardResponse struct {
	RecordID        uint64 `json:"recordId"`
	Beneficiary     string `json:"beneficiary,omitempty"`
	Amount          string `json:"amount"`
	AlreadyCredited bool   `json:"alreadyCredited"`
}

type Balance struct {
	Address     string `json:"address"`
	Balance     string `json:"balance"`
	TotalEarned string `json:"totalEarned"`
}

type TransferRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type TransferResponse struct {
	NewBalanceOfCaller string `json:"newBalanceOfCaller"`
}

type Multiplier struct {
	ServiceType string `json:"serviceType"`
	Multiplier  uint64 `json:"multiplier"`
}

type SetMultiplierRequest struct {
	Multiplier uint64 `json:"multiplier"`
}

type VerifierRequest struct {
	Address string `json:"address"`
	Enabled bool   `json:"enabled"`
}

type VerifierStatus struct {
	Address    string `json:"address"`
	Authorized bool   `json:"authorized"`
}

// EventEntry is one change feed entry.
type EventEntry struct {
	Sequence   uint64            `json:"sequence"`
	Time       time.Time         `json:"time"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

type EventList struct {
	Head    uint64       `json:"head"`
	Entries []EventEntry `json:"entries"`
}
