package events

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"drivechain/core/types"
)

// Decode rebuilds a typed event from its generic payload. It is the inverse of
// Event() for every ledger event kind and is used when replaying the journal.
func Decode(evt *types.Event) (Event, error) {
	if evt == nil {
		return nil, fmt.Errorf("events: nil payload")
	}
	d := decoder{evt: evt}
	var out Event
	switch evt.Type {
	case TypeServiceRecordMinted:
		out = ServiceRecordMinted{
			ID:              d.uint("id"),
			Owner:           d.address("owner"),
			ServiceType:     evt.Attr("serviceType"),
			ServiceDate:     evt.Attr("serviceDate"),
			ServiceProvider: evt.Attr("serviceProvider"),
			VehicleInfo:     evt.Attr("vehicleInfo"),
			ServiceDetails:  evt.Attr("serviceDetails"),
			Digest:          d.digest("digest"),
		}
	case TypeServiceRecordVerified:
		out = ServiceRecordVerified{
			ID:        d.uint("id"),
			Verifier:  d.address("verifier"),
			Timestamp: time.Unix(d.int("timestamp"), 0).UTC(),
		}
	case TypePointsAwarded:
		out = PointsAwarded{
			Account:     d.address("account"),
			Amount:      d.amount("amount"),
			RecordID:    d.uint("recordId"),
			ServiceType: evt.Attr("serviceType"),
		}
	case TypePointsTransferred:
		out = PointsTransferred{
			From:   d.address("from"),
			To:     d.address("to"),
			Amount: d.amount("amount"),
		}
	case TypeMultiplierChanged:
		out = MultiplierChanged{
			ServiceType: evt.Attr("serviceType"),
			Multiplier:  d.uint("multiplier"),
		}
	case TypeVerifierStatusChanged:
		out = VerifierStatusChanged{
			Verifier: d.address("verifier"),
			Enabled:  d.bool("enabled"),
		}
	default:
		return nil, fmt.Errorf("events: unknown type %q", evt.Type)
	}
	if d.err != nil {
		return nil, fmt.Errorf("events: decode %s: %w", evt.Type, d.err)
	}
	return out, nil
}

// decoder keeps the first attribute error so Decode can stay linear.
type decoder struct {
	evt *types.Event
	err error
}

func (d *decoder) fail(key string, err error) {
	if d.err == nil {
		d.err = fmt.Errorf("attribute %s: %w", key, err)
	}
}

func (d *decoder) uint(key string) uint64 {
	v, err := strconv.ParseUint(d.evt.Attr(key), 10, 64)
	if err != nil {
		d.fail(key, err)
	}
	return v
}

func (d *decoder) int(key string) int64 {
	v, err := strconv.ParseInt(d.evt.Attr(key), 10, 64)
	if err != nil {
		d.fail(key, err)
	}
	return v
}

func (d *decoder) bool(key string) bool {
	v, err := strconv.ParseBool(d.evt.Attr(key))
	if err != nil {
		d.fail(key, err)
	}
	return v
}

func (d *decoder) address(key string) common.Address {
	raw := d.evt.Attr(key)
	if !common.IsHexAddress(raw) {
		d.fail(key, fmt.Errorf("invalid address %q", raw))
		return common.Address{}
	}
	return common.HexToAddress(raw)
}

func (d *decoder) amount(key string) *uint256.Int {
	v, err := uint256.FromDecimal(d.evt.Attr(key))
	if err != nil {
		d.fail(key, err)
		return new(uint256.Int)
	}
	return v
}

func (d *decoder) digest(key string) [32]byte {
	var out [32]byte
	raw := strings.TrimPrefix(d.evt.Attr(key), "0x")
	b, err := hex.DecodeString(raw)
	if err != nil || len(b) != len(out) {
		d.fail(key, fmt.Errorf("invalid digest %q", raw))
		return out
	}
	copy(out[:], b)
	return out
}
