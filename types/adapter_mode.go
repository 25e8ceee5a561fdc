package types

import (
	"fmt"
)

// AdapterMode is the high-level effect currently applied by the facade.
// Blur and VirtualBackground are mutually exclusive by construction.
type AdapterMode int32

const (
	AdapterModeNone = AdapterMode(iota)
	AdapterModeBlur
	AdapterModeVirtualBackground
)

func (m AdapterMode) String() string {
	switch m {
	case AdapterModeNone:
		return "none"
	case AdapterModeBlur:
		return "blur"
	case AdapterModeVirtualBackground:
		return "virtual_background"
	default:
		return fmt.Sprintf("unknown_mode_%d", int32(m))
	}
}
