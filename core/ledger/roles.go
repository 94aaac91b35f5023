package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	ledgererrors "drivechain/core/errors"
)

type verifierSet interface {
	IsAuthorizedVerifier(addr common.Address) bool
}

// roles is the engine's authorization table: the owner identity plus the
// registry's verifier set.
type roles struct {
	owner     common.Address
	verifiers verifierSet
}

func (r roles) isOwner(addr common.Address) bool {
	return addr == r.owner
}

func (r roles) canVerify(addr common.Address) bool {
	return r.isOwner(addr) || r.verifiers.IsAuthorizedVerifier(addr)
}

func (r roles) requireOwner(caller common.Address, action string) error {
	if !r.isOwner(caller) {
		return fmt.Errorf("%w: only the owner may %s", ledgererrors.ErrUnauthorized, action)
	}
	return nil
}
