// Package background holds the currently configured substitute background
// and resolves background references into decoded specs.
package background

import (
	"fmt"

	"github.com/go-ng/xatomic"
	"github.com/xaionaro-go/avbackground/types"
)

// Source is the single-writer/multi-reader holder of the active
// BackgroundSpec. Readers always observe a whole spec, never a mix of two.
type Source struct {
	spec *types.BackgroundSpec
}

func NewSource(spec *types.BackgroundSpec) *Source {
	s := &Source{}
	s.Set(spec)
	return s
}

// Get returns the snapshot of the current spec (may be nil).
func (s *Source) Get() *types.BackgroundSpec {
	return xatomic.LoadPointer(&s.spec)
}

// Set publishes a new spec. The spec must not be modified afterwards.
func (s *Source) Set(spec *types.BackgroundSpec) {
	xatomic.StorePointer(&s.spec, spec)
}

// Swap publishes a new spec and returns the previous one.
func (s *Source) Swap(spec *types.BackgroundSpec) *types.BackgroundSpec {
	return xatomic.SwapPointer(&s.spec, spec)
}

func (s *Source) String() string {
	return fmt.Sprintf("BackgroundSource(%s)", s.Get())
}
