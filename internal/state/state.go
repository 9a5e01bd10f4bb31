// Package state holds the per-path abstract state the checker threads through
// its hooks: the root-frame depth, the two enablement marks, and the
// persistent value and root maps. A State is immutable; every With method
// returns a new State sharing structure with the old one, so the host can keep
// as many path states alive as its exploration needs at O(log n) update cost.
package state

import (
	"fmt"
	"math"
	"strings"

	"github.com/benbjohnson/immutable"

	"github.com/rootvet/rootvet/internal/lattice"
	"github.com/rootvet/rootvet/internal/memory"
)

// Height identifies a stack frame by its depth in the simulated call stack.
type Height uint32

// NoHeight marks an enablement state as "not disabled". OuterHeight marks a
// disablement that was requested outside any tracked frame, such as a bare
// collection toggle, and is never cleared by frame exit.
const (
	NoHeight    Height = math.MaxUint32
	OuterHeight Height = math.MaxUint32 - 1
)

func (h Height) String() string {
	switch h {
	case NoHeight:
		return "enabled"
	case OuterHeight:
		return "disabled-outside"
	}
	return fmt.Sprintf("disabled@%d", uint32(h))
}

type symbolComparer struct{}

func (symbolComparer) Compare(a, b memory.SymbolID) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

type regionComparer struct{}

func (regionComparer) Compare(a, b memory.RegionID) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// State is one path's abstract state. The zero value is not usable; start
// from New.
type State struct {
	gcDepth             int32
	gcDisabledAt        Height
	safepointDisabledAt Height

	values *immutable.SortedMap[memory.SymbolID, lattice.ValueState]
	roots  *immutable.SortedMap[memory.RegionID, lattice.RootState]
}

// New returns the empty state: depth zero, collection and safepoints enabled,
// nothing tracked.
func New() *State {
	return &State{
		gcDisabledAt:        NoHeight,
		safepointDisabledAt: NoHeight,
		values:              immutable.NewSortedMap[memory.SymbolID, lattice.ValueState](symbolComparer{}),
		roots:               immutable.NewSortedMap[memory.RegionID, lattice.RootState](regionComparer{}),
	}
}

func (s *State) clone() *State {
	c := *s
	return &c
}

// GCDepth returns the number of live root frames.
func (s *State) GCDepth() int32 { return s.gcDepth }

// GCDisabledAt returns the frame height collection was disabled at.
func (s *State) GCDisabledAt() Height { return s.gcDisabledAt }

// SafepointDisabledAt returns the frame height safepoints were disabled at.
func (s *State) SafepointDisabledAt() Height { return s.safepointDisabledAt }

// GCEnabled reports whether collection is enabled on this path.
func (s *State) GCEnabled() bool { return s.gcDisabledAt == NoHeight }

// SafepointsEnabled reports whether safepoints are allowed on this path.
func (s *State) SafepointsEnabled() bool { return s.safepointDisabledAt == NoHeight }

// Value returns the tracked state of sym.
func (s *State) Value(sym memory.SymbolID) (lattice.ValueState, bool) {
	if sym == memory.NoSymbol {
		return lattice.ValueState{}, false
	}
	return s.values.Get(sym)
}

// Root returns the registration of the root slot at region.
func (s *State) Root(region memory.RegionID) (lattice.RootState, bool) {
	if region == memory.NoRegion {
		return lattice.RootState{}, false
	}
	return s.roots.Get(region)
}

// NumValues returns the number of tracked values.
func (s *State) NumValues() int { return s.values.Len() }

// NumRoots returns the number of registered root slots.
func (s *State) NumRoots() int { return s.roots.Len() }

// WithGCDepth returns a state with the root-frame depth replaced.
func (s *State) WithGCDepth(d int32) *State {
	c := s.clone()
	c.gcDepth = d
	return c
}

// WithGCDisabledAt returns a state with the collection mark replaced.
func (s *State) WithGCDisabledAt(h Height) *State {
	c := s.clone()
	c.gcDisabledAt = h
	return c
}

// WithSafepointDisabledAt returns a state with the safepoint mark replaced.
func (s *State) WithSafepointDisabledAt(h Height) *State {
	c := s.clone()
	c.safepointDisabledAt = h
	return c
}

// WithValue returns a state tracking sym as vs.
func (s *State) WithValue(sym memory.SymbolID, vs lattice.ValueState) *State {
	c := s.clone()
	c.values = s.values.Set(sym, vs)
	return c
}

// WithRoot returns a state with the slot at region registered as rs.
func (s *State) WithRoot(region memory.RegionID, rs lattice.RootState) *State {
	c := s.clone()
	c.roots = s.roots.Set(region, rs)
	return c
}

// WithoutRoot returns a state with the slot at region unregistered.
func (s *State) WithoutRoot(region memory.RegionID) *State {
	c := s.clone()
	c.roots = s.roots.Delete(region)
	return c
}

// Values calls yield for every tracked value in symbol order. Iteration stops
// when yield returns false.
func (s *State) Values(yield func(memory.SymbolID, lattice.ValueState) bool) {
	it := s.values.Iterator()
	for !it.Done() {
		sym, vs, _ := it.Next()
		if !yield(sym, vs) {
			return
		}
	}
}

// Roots calls yield for every registered root slot in region order. Iteration
// stops when yield returns false.
func (s *State) Roots(yield func(memory.RegionID, lattice.RootState) bool) {
	it := s.roots.Iterator()
	for !it.Done() {
		region, rs, _ := it.Next()
		if !yield(region, rs) {
			return
		}
	}
}

// Equal reports structural equality: scalars, value map, and root map all
// agree.
func (s *State) Equal(o *State) bool {
	if s == o {
		return true
	}
	if o == nil {
		return false
	}
	if s.gcDepth != o.gcDepth ||
		s.gcDisabledAt != o.gcDisabledAt ||
		s.safepointDisabledAt != o.safepointDisabledAt ||
		s.values.Len() != o.values.Len() ||
		s.roots.Len() != o.roots.Len() {
		return false
	}
	equal := true
	s.Values(func(sym memory.SymbolID, vs lattice.ValueState) bool {
		ov, ok := o.values.Get(sym)
		if !ok || ov != vs {
			equal = false
			return false
		}
		return true
	})
	if !equal {
		return false
	}
	s.Roots(func(region memory.RegionID, rs lattice.RootState) bool {
		or, ok := o.roots.Get(region)
		if !ok || or != rs {
			equal = false
			return false
		}
		return true
	})
	return equal
}

// String renders the state compactly for debug logging, in deterministic
// order.
func (s *State) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "depth=%d gc=%s safepoints=%s", s.gcDepth, s.gcDisabledAt, s.safepointDisabledAt)
	if s.values.Len() > 0 {
		b.WriteString(" values{")
		first := true
		s.Values(func(sym memory.SymbolID, vs lattice.ValueState) bool {
			if !first {
				b.WriteString(", ")
			}
			first = false
			fmt.Fprintf(&b, "%d:%s", sym, vs)
			return true
		})
		b.WriteString("}")
	}
	if s.roots.Len() > 0 {
		b.WriteString(" roots{")
		first := true
		s.Roots(func(region memory.RegionID, rs lattice.RootState) bool {
			if !first {
				b.WriteString(", ")
			}
			first = false
			fmt.Fprintf(&b, "%d:%s", region, rs)
			return true
		})
		b.WriteString("}")
	}
	return b.String()
}
