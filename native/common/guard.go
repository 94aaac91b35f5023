package common

import (
	"fmt"
	"strings"

	ledgererrors "drivechain/core/errors"
)

// Module names recognised by the pause guard.
const (
	ModuleRecords     = "records"
	ModulePoints      = "points"
	ModuleMultipliers = "multipliers"
)

// PauseView reports whether an operator has paused a module.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard returns an error wrapping ErrPaused when module is paused.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return fmt.Errorf("%w: %s", ledgererrors.ErrPaused, module)
	}
	return nil
}

// StaticPauses is a PauseView over a fixed module list, typically taken from
// configuration.
type StaticPauses map[string]bool

// NewStaticPauses builds a StaticPauses from module names. Names are matched
// case-insensitively.
func NewStaticPauses(modules []string) StaticPauses {
	out := make(StaticPauses, len(modules))
	for _, m := range modules {
		if name := strings.ToLower(strings.TrimSpace(m)); name != "" {
			out[name] = true
		}
	}
	return out
}

// IsPaused implements PauseView.
func (s StaticPauses) IsPaused(module string) bool {
	return s[strings.ToLower(module)]
}
