// Package lattice defines the per-value abstract states the checker tracks:
// the classification of each heap value (allocated, rooted, potentially freed,
// untracked) and the registration of each root slot. Values are small
// immutable structs compared with ==; transitions between them happen only in
// the rule code, never here.
package lattice

import (
	"fmt"

	"github.com/rootvet/rootvet/internal/decl"
	"github.com/rootvet/rootvet/internal/memory"
)

// Kind classifies a tracked value.
type Kind uint8

const (
	// KindAllocated is a live value with no root keeping it alive across
	// safepoints.
	KindAllocated Kind = iota

	// KindRooted is a value reachable from a registered root.
	KindRooted

	// KindPotentiallyFreed is a value that crossed a safepoint while
	// unrooted. The classification is terminal: no rule resurrects it.
	KindPotentiallyFreed

	// KindUntracked is a value explicitly exempted from tracking.
	KindUntracked
)

func (k Kind) String() string {
	switch k {
	case KindAllocated:
		return "allocated"
	case KindRooted:
		return "rooted"
	case KindPotentiallyFreed:
		return "potentially-freed"
	case KindUntracked:
		return "untracked"
	}
	return "invalid"
}

// GlobalDepth marks rootedness that outlives every root frame: globals,
// interned values, promised roots.
const GlobalDepth int32 = -1

// NoParam is the provenance parameter index of values that did not enter
// through a function argument.
const NoParam int32 = -1

// ValueState is the abstract state of one tracked value. The zero value is
// KindAllocated with no provenance; prefer the constructors.
type ValueState struct {
	kind  Kind
	root  memory.RegionID
	depth int32

	// Provenance of allocated values that entered through a parameter, used
	// only for diagnostics.
	fn    *decl.Func
	param int32
}

// Allocated returns the state of a fresh unrooted value.
func Allocated() ValueState {
	return ValueState{kind: KindAllocated, root: memory.NoRegion, depth: GlobalDepth, param: NoParam}
}

// AllocatedFromArg returns the allocated state carrying argument provenance.
func AllocatedFromArg(fn *decl.Func, param int32) ValueState {
	return ValueState{kind: KindAllocated, root: memory.NoRegion, depth: GlobalDepth, fn: fn, param: param}
}

// Freed returns the terminal potentially-freed state.
func Freed() ValueState {
	return ValueState{kind: KindPotentiallyFreed, root: memory.NoRegion, depth: GlobalDepth, param: NoParam}
}

// Untracked returns the exempt state.
func Untracked() ValueState {
	return ValueState{kind: KindUntracked, root: memory.NoRegion, depth: GlobalDepth, param: NoParam}
}

// RootedBy returns the state of a value held by the given root, registered at
// the given frame depth.
func RootedBy(root memory.RegionID, depth int32) ValueState {
	return ValueState{kind: KindRooted, root: root, depth: depth, param: NoParam}
}

// GloballyRooted returns the state of a permanently rooted value.
func GloballyRooted() ValueState {
	return ValueState{kind: KindRooted, root: memory.NoRegion, depth: GlobalDepth, param: NoParam}
}

// Kind returns the classification.
func (v ValueState) Kind() Kind { return v.kind }

// IsAllocated reports a live unrooted value.
func (v ValueState) IsAllocated() bool { return v.kind == KindAllocated }

// IsRooted reports a rooted value.
func (v ValueState) IsRooted() bool { return v.kind == KindRooted }

// IsFreed reports the terminal potentially-freed state.
func (v ValueState) IsFreed() bool { return v.kind == KindPotentiallyFreed }

// IsUntracked reports the exempt state.
func (v ValueState) IsUntracked() bool { return v.kind == KindUntracked }

// IsGloballyRooted reports rootedness that survives every pop.
func (v ValueState) IsGloballyRooted() bool {
	return v.kind == KindRooted && v.depth == GlobalDepth
}

// Root returns the rooting region, if the value is rooted by one.
func (v ValueState) Root() (memory.RegionID, bool) {
	if v.kind != KindRooted || v.root == memory.NoRegion {
		return memory.NoRegion, false
	}
	return v.root, true
}

// RootedByRegion reports whether the value is rooted by exactly r.
func (v ValueState) RootedByRegion(r memory.RegionID) bool {
	return v.kind == KindRooted && v.root != memory.NoRegion && v.root == r
}

// Depth returns the frame depth the rooting was registered at; GlobalDepth for
// non-rooted states.
func (v ValueState) Depth() int32 { return v.depth }

// Provenance returns the function and parameter index an allocated value
// entered through, if any.
func (v ValueState) Provenance() (*decl.Func, int32, bool) {
	if v.fn == nil || v.param == NoParam {
		return nil, NoParam, false
	}
	return v.fn, v.param, true
}

func (v ValueState) String() string {
	switch v.kind {
	case KindRooted:
		if v.root == memory.NoRegion {
			if v.depth == GlobalDepth {
				return "rooted(global)"
			}
			return fmt.Sprintf("rooted(depth=%d)", v.depth)
		}
		return fmt.Sprintf("rooted(region=%d, depth=%d)", v.root, v.depth)
	case KindAllocated:
		if v.fn != nil && v.param != NoParam {
			return fmt.Sprintf("allocated(arg %d of %s)", v.param, v.fn.Name)
		}
	}
	return v.kind.String()
}

// === Root slots ===

// RootKind discriminates RootState.
type RootKind uint8

const (
	// RootSingle roots the single value stored in the slot.
	RootSingle RootKind = iota

	// RootArray roots every element stored under the slot.
	RootArray
)

func (k RootKind) String() string {
	if k == RootArray {
		return "root-array"
	}
	return "root"
}

// RootState records one registered root slot: its kind and the frame depth it
// was pushed at. Slots registered at GlobalDepth are never popped.
type RootState struct {
	kind  RootKind
	depth int32
}

// SingleRoot registers a single-value slot at depth.
func SingleRoot(depth int32) RootState {
	return RootState{kind: RootSingle, depth: depth}
}

// ArrayRoot registers a root array at depth.
func ArrayRoot(depth int32) RootState {
	return RootState{kind: RootArray, depth: depth}
}

// Kind returns the slot kind.
func (r RootState) Kind() RootKind { return r.kind }

// IsArray reports a root-array slot.
func (r RootState) IsArray() bool { return r.kind == RootArray }

// Depth returns the frame depth the slot was registered at.
func (r RootState) Depth() int32 { return r.depth }

// ShouldPopAt reports whether popping to depth unregisters this slot. Any
// slot registered at or past the new depth goes; some slots register at the
// depth of the frame they open rather than the enclosing one.
func (r RootState) ShouldPopAt(depth int32) bool {
	return r.depth != GlobalDepth && r.depth >= depth
}

func (r RootState) String() string {
	return fmt.Sprintf("%s@%d", r.kind, r.depth)
}
