package crypto

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/common"
)

// AddressPrefix is the human-readable part used for bech32 identities.
const AddressPrefix = "drv"

// ParseAddress accepts either a 0x-prefixed hex address or a bech32 address
// with the drv prefix. The zero address is rejected because it cannot own
// records or hold points.
func ParseAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return common.Address{}, fmt.Errorf("crypto: empty address")
	}
	var addr common.Address
	switch {
	case common.IsHexAddress(trimmed):
		addr = common.HexToAddress(trimmed)
	case strings.HasPrefix(strings.ToLower(trimmed), AddressPrefix+"1"):
		decoded, err := DecodeBech32(trimmed)
		if err != nil {
			return common.Address{}, err
		}
		addr = decoded
	default:
		return common.Address{}, fmt.Errorf("crypto: malformed address %q", trimmed)
	}
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("crypto: zero address")
	}
	return addr, nil
}

// EncodeBech32 renders addr with the drv prefix.
func EncodeBech32(addr common.Address) (string, error) {
	conv, err := bech32.ConvertBits(addr.Bytes(), 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(AddressPrefix, conv)
}

// DecodeBech32 parses a drv-prefixed bech32 address.
func DecodeBech32(s string) (common.Address, error) {
	prefix, decoded, err := bech32.Decode(s)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: invalid bech32 string: %w", err)
	}
	if prefix != AddressPrefix {
		return common.Address{}, fmt.Errorf("crypto: unexpected prefix %q", prefix)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: error converting bits: %w", err)
	}
	if len(conv) != common.AddressLength {
		return common.Address{}, fmt.Errorf("crypto: address must be %d bytes", common.AddressLength)
	}
	return common.BytesToAddress(conv), nil
}
