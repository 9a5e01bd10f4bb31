// Package annot resolves the closed vocabulary of rooting annotations that the
// checked program attaches to functions, parameters, and globals. Raw attribute
// spellings arrive as strings on decl values; this package parses them once
// into a bitmask Set and memoizes the result per declaration, keyed on pointer
// identity, so the hot hook paths never re-scan attribute lists.
package annot

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"github.com/rootvet/rootvet/internal/decl"
)

// Kind identifies one annotation from the vocabulary. Kinds combine into a Set.
type Kind uint16

const (
	// NotSafepoint marks a function that never reaches the collector.
	NotSafepoint Kind = 1 << iota

	// MaybeUnrooted marks a parameter (or function, for entry seeding) whose
	// values are exempt from rooting requirements.
	MaybeUnrooted

	// GloballyRooted marks a function whose results, or a global whose
	// storage, are permanently rooted.
	GloballyRooted

	// RootingArgument marks the parameter through which a callee roots
	// another argument.
	RootingArgument

	// RootedArgument marks the parameter that becomes rooted when the
	// callee's RootingArgument parameter is rooted.
	RootedArgument

	// PropagatesRoot marks a parameter whose rootedness transfers to the
	// call's result.
	PropagatesRoot

	// TemporarilyRoots marks a parameter the callee keeps alive across its
	// own safepoints.
	TemporarilyRoots

	// RequireRootedSlot marks a pointer parameter whose pointee storage must
	// be a rooted slot in the caller.
	RequireRootedSlot

	// GCDisabled marks a function that runs with collection switched off.
	GCDisabled

	// NotSafepointEnter marks a function that legitimately leaves safepoints
	// disabled when it returns.
	NotSafepointEnter

	// NotSafepointLeave marks a function or call that re-enables safepoints
	// in its caller.
	NotSafepointLeave
)

var kindNames = map[Kind]string{
	NotSafepoint:      "julia_not_safepoint",
	MaybeUnrooted:     "julia_maybe_unrooted",
	GloballyRooted:    "julia_globally_rooted",
	RootingArgument:   "julia_rooting_argument",
	RootedArgument:    "julia_rooted_argument",
	PropagatesRoot:    "julia_propagates_root",
	TemporarilyRoots:  "julia_temporarily_roots",
	RequireRootedSlot: "julia_require_rooted_slot",
	GCDisabled:        "julia_gc_disabled",
	NotSafepointEnter: "julia_notsafepoint_enter",
	NotSafepointLeave: "julia_notsafepoint_leave",
}

// spellings maps every accepted attribute spelling to its Kind. The map is the
// complete vocabulary: spellings outside it are ignored by Parse, since hosts
// routinely forward unrelated attributes.
var spellings = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, name := range kindNames {
		m[name] = k
	}
	return m
}()

// String returns the canonical attribute spelling of k.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Set is a bitmask of Kinds resolved from one declaration.
type Set uint16

// Has reports whether k is present in the set.
func (s Set) Has(k Kind) bool { return s&Set(k) != 0 }

// Empty reports whether no annotation is present.
func (s Set) Empty() bool { return s == 0 }

// Parse resolves raw attribute spellings into a Set. Unknown spellings are
// skipped.
func Parse(raw []string) Set {
	var s Set
	for _, r := range raw {
		if k, ok := spellings[r]; ok {
			s |= Set(k)
		}
	}
	return s
}

// === Resolver ===

type paramKey struct {
	fn  *decl.Func
	idx int
}

// Resolver memoizes annotation sets per declaration. All lookups are nil-safe
// and out-of-range-safe, returning the empty Set, so callers never need to
// guard variadic tails or declaration-less call sites.
type Resolver struct {
	funcs  *lru.Cache[*decl.Func, Set]
	params *lru.Cache[paramKey, Set]
	vars   *lru.Cache[*decl.Var, Set]
}

// NewResolver returns a Resolver whose memo tables hold up to size entries
// each.
func NewResolver(size int) (*Resolver, error) {
	funcs, err := lru.New[*decl.Func, Set](size)
	if err != nil {
		return nil, errors.Wrap(err, "annot: function cache")
	}
	params, err := lru.New[paramKey, Set](size)
	if err != nil {
		return nil, errors.Wrap(err, "annot: parameter cache")
	}
	vars, err := lru.New[*decl.Var, Set](size)
	if err != nil {
		return nil, errors.Wrap(err, "annot: variable cache")
	}
	return &Resolver{funcs: funcs, params: params, vars: vars}, nil
}

// Func resolves the annotations on fn's declaration.
func (r *Resolver) Func(fn *decl.Func) Set {
	if fn == nil {
		return 0
	}
	if s, ok := r.funcs.Get(fn); ok {
		return s
	}
	s := Parse(fn.Annots)
	r.funcs.Add(fn, s)
	return s
}

// Param resolves the annotations on fn's idx-th parameter. Indices beyond the
// declared parameter list resolve to the empty Set.
func (r *Resolver) Param(fn *decl.Func, idx int) Set {
	p, ok := fn.Param(idx)
	if !ok {
		return 0
	}
	key := paramKey{fn: fn, idx: idx}
	if s, ok := r.params.Get(key); ok {
		return s
	}
	s := Parse(p.Annots)
	r.params.Add(key, s)
	return s
}

// Var resolves the annotations on a variable declaration.
func (r *Resolver) Var(v *decl.Var) Set {
	if v == nil {
		return 0
	}
	if s, ok := r.vars.Get(v); ok {
		return s
	}
	s := Parse(v.Annots)
	r.vars.Add(v, s)
	return s
}
