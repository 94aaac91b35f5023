package servicerecord

import (
	"bytes"
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"lukechampine.com/blake3"
)

// ComputeDigest returns the BLAKE3-256 digest of a record's immutable content.
// Each field is length-prefixed so that shifting bytes between adjacent fields
// changes the digest.
func ComputeDigest(id uint64, owner common.Address, d Details) [32]byte {
	var buf bytes.Buffer
	var word [8]byte
	binary.BigEndian.PutUint64(word[:], id)
	buf.Write(word[:])
	buf.Write(owner.Bytes())
	for _, field := range []string{d.ServiceType, d.ServiceDate, d.ServiceProvider, d.VehicleInfo, d.ServiceDetails} {
		binary.BigEndian.PutUint64(word[:], uint64(len(field)))
		buf.Write(word[:])
		buf.WriteString(field)
	}
	return blake3.Sum256(buf.Bytes())
}

// VerifyDigest reports whether r still matches the digest taken at mint.
func VerifyDigest(r Record) bool {
	return ComputeDigest(r.ID, r.Owner, r.Details) == r.Digest
}
