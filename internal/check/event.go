package check

import (
	"fmt"

	"github.com/rootvet/rootvet/internal/decl"
	"github.com/rootvet/rootvet/internal/memory"
	"github.com/rootvet/rootvet/internal/state"
)

// Span locates an event in the checked program.
type Span struct {
	File string
	Line int
}

func (s Span) String() string {
	if s.File == "" {
		return "<unknown>"
	}
	return fmt.Sprintf("%s:%d", s.File, s.Line)
}

// ArgRef carries the host's resolution of one value-bearing expression: an
// argument, a parameter, a stored value. Absent pieces stay NoSymbol or
// NoRegion; every rule treats them as unknowns rather than errors.
type ArgRef struct {
	// Sym is the expression's own symbolic value.
	Sym memory.SymbolID

	// Region is the region the expression denotes or points to. For a plain
	// symbolic pointer this is its symbolic region; for an address-of
	// expression it is the addressed storage.
	Region memory.RegionID

	// Held is the value currently stored in Region, when the host resolved
	// one. Slot-rooting rules read the held value, not the pointer.
	Held memory.SymbolID

	// Literal is the compile-time constant value, when the expression is one.
	Literal *int64

	// Type is the expression's static type, empty when unknown.
	Type decl.TypeName
}

// NoArg is the absent ArgRef.
func NoArg() ArgRef {
	return ArgRef{Sym: memory.NoSymbol, Region: memory.NoRegion, Held: memory.NoSymbol}
}

// FrameInfo describes entry into a function frame.
type FrameInfo struct {
	Fn *decl.Func

	// Top marks the outermost analyzed frame; inlined callee frames clear it.
	Top bool

	// Height is the frame's position on the simulated call stack.
	Height state.Height

	// Params resolves each declared parameter in order: Sym is the value the
	// parameter holds on entry, Region the parameter's own storage.
	Params []ArgRef

	// CallerArgs resolves the call-site argument expressions in the caller's
	// frame, present for inlined frames only.
	CallerArgs []ArgRef

	Span Span
}

// ReturnInfo describes exit from a function frame.
type ReturnInfo struct {
	Fn     *decl.Func
	Top    bool
	Height state.Height

	// HasRet marks an explicit return of a value, resolved in Ret.
	HasRet bool
	Ret    ArgRef

	Span Span
}

// CallInfo describes one call site, shared by the pre-call, post-call, and
// intrinsic hooks.
type CallInfo struct {
	// Name is the callee expression's spelling; intrinsics are recognized by
	// it even when no declaration exists.
	Name string

	// Callee is the resolved declaration, nil for indirect calls.
	Callee *decl.Func

	// Within is the function containing the call site.
	Within *decl.Func

	// HasCalleeExpr and TypedefAnnots describe declaration-less sites: whether
	// a callee expression existed at all, and the annotations on its typedef
	// type if it had one.
	HasCalleeExpr bool
	TypedefAnnots []string

	// KindLabel phrases the call for diagnostics; empty means "function call".
	KindLabel string

	Args []ArgRef

	// Result is the call's return value symbol when the host has one;
	// NoSymbol lets the checker conjure a fresh identity.
	Result     memory.SymbolID
	ResultType decl.TypeName

	// Height is the enclosing frame's stack height.
	Height state.Height

	Span Span
}

func (ci *CallInfo) kindLabel() string {
	if ci.KindLabel != "" {
		return ci.KindLabel
	}
	return "function call"
}

// arg returns the i-th argument or the absent ArgRef.
func (ci *CallInfo) arg(i int) ArgRef {
	if i < 0 || i >= len(ci.Args) {
		return NoArg()
	}
	return ci.Args[i]
}

// DeriveKind discriminates DeriveInfo.
type DeriveKind uint8

const (
	// DeriveCast is a type cast of the parent value.
	DeriveCast DeriveKind = iota

	// DeriveMember is a field access through the parent.
	DeriveMember

	// DeriveIndex is an array subscript of the parent.
	DeriveIndex

	// DeriveDeref is a unary dereference of the parent.
	DeriveDeref
)

func (k DeriveKind) String() string {
	switch k {
	case DeriveCast:
		return "cast"
	case DeriveMember:
		return "member"
	case DeriveIndex:
		return "index"
	case DeriveDeref:
		return "deref"
	}
	return "invalid"
}

// DeriveInfo describes one derivation: a new value computed from a parent
// expression by cast, member access, subscript, or dereference.
type DeriveInfo struct {
	Kind DeriveKind

	// Result is the derived value's symbol when the host has one; NoSymbol
	// lets the checker conjure one when the rules require it. ResultRegion is
	// the derived lvalue's region for member and index derivations.
	Result       memory.SymbolID
	ResultRegion memory.RegionID
	ResultType   decl.TypeName

	// Parent resolves the parent expression; ParentType is its static type.
	Parent     ArgRef
	ParentType decl.TypeName

	Span Span
}

// BindInfo describes a store of a value into a region.
type BindInfo struct {
	Region memory.RegionID
	Value  ArgRef
	Span   Span
}

// AccessInfo describes a load from or store to a location.
type AccessInfo struct {
	Region memory.RegionID

	// Sym is the value read by a load, when the host resolved one.
	Sym memory.SymbolID

	IsLoad bool
	Span   Span
}
