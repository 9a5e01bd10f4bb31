// Package decl describes the declarations of the checked program as the host
// engine reports them: functions, their parameters, and variables. The checker
// never parses source itself; every Func and Var here is constructed by the
// host and passed in by pointer, so pointer identity doubles as declaration
// identity throughout the checker.
package decl

import "strings"

// TypeName is the host-reported spelling of a C type, e.g. "jl_value_t*" or
// "arraylist_t". Pointerness is encoded with trailing '*' characters; all
// classification in the checker works on the base spelling via Base.
type TypeName string

// Base returns the type spelling with all pointer stars and surrounding
// whitespace removed.
func (t TypeName) Base() string {
	return strings.TrimSpace(strings.TrimRight(strings.TrimSpace(string(t)), "*"))
}

// IsPointer reports whether the spelling carries at least one pointer star.
func (t TypeName) IsPointer() bool {
	return strings.HasSuffix(strings.TrimSpace(string(t)), "*")
}

// PointerDepth returns the number of trailing pointer stars.
func (t TypeName) PointerDepth() int {
	s := strings.TrimSpace(string(t))
	n := 0
	for strings.HasSuffix(s, "*") {
		s = strings.TrimSpace(strings.TrimSuffix(s, "*"))
		n++
	}
	return n
}

// Elem returns the spelling with one pointer star removed. Calling Elem on a
// non-pointer spelling returns it unchanged.
func (t TypeName) Elem() TypeName {
	s := strings.TrimSpace(string(t))
	if !strings.HasSuffix(s, "*") {
		return t
	}
	return TypeName(strings.TrimSpace(strings.TrimSuffix(s, "*")))
}

// Param is a single declared parameter of a Func.
type Param struct {
	Name string
	Type TypeName

	// Annots carries the raw attribute spellings attached to the parameter
	// declaration. Resolution into the checker's vocabulary happens lazily in
	// the annot package.
	Annots []string
}

// Func is a function declaration. The host constructs one Func per declaration
// and reuses the pointer for every call site and frame that refers to it.
type Func struct {
	Name      string
	Namespace string

	// File is the path of the file holding the declaration, if known.
	File string

	// SystemHeader marks declarations pulled in from system headers.
	SystemHeader bool

	// Builtin marks compiler builtins; Trivial marks compiler-generated
	// trivial special members. Neither can reach the collector.
	Builtin bool
	Trivial bool

	// NoReturn marks functions that never return to the caller.
	NoReturn bool

	// Variadic marks declarations with a trailing variadic parameter list.
	// Arguments beyond len(Params) carry no parameter annotations.
	Variadic bool

	Annots []string
	Params []Param
	Result TypeName
}

// Param returns the i-th declared parameter, or false when i is out of range
// (variadic tails and mismatched call sites land here).
func (f *Func) Param(i int) (*Param, bool) {
	if f == nil || i < 0 || i >= len(f.Params) {
		return nil, false
	}
	return &f.Params[i], true
}

// Var is a variable declaration: a global, a local, or a named parameter slot
// of its Owner function.
type Var struct {
	Name   string
	Type   TypeName
	Global bool
	Annots []string

	// Owner is the declaring function, nil for globals.
	Owner *Func

	// Param is the parameter index within Owner, or -1 for non-parameters.
	Param int
}

// IsParam reports whether the variable is a declared parameter of Owner.
func (v *Var) IsParam() bool {
	return v != nil && v.Owner != nil && v.Param >= 0
}
