// Package memory interns the symbolic values and memory regions the host
// engine reports, assigning them small stable identifiers, and provides the
// derivation walks that relate a region to the symbols it was derived from.
//
// Identifiers are indices into append-only tables, handed out in intern order,
// so two runs over the same event stream produce identical IDs and every map
// keyed on them iterates deterministically. A Table is confined to one
// analysis and is not safe for concurrent use.
package memory

import (
	"fmt"

	"github.com/rootvet/rootvet/internal/decl"
)

// SymbolID names an interned symbolic value. RegionID names an interned
// region.
type (
	SymbolID int32
	RegionID int32
)

// NoSymbol and NoRegion are the absent identifiers.
const (
	NoSymbol SymbolID = -1
	NoRegion RegionID = -1
)

// RegionKind discriminates Region.
type RegionKind uint8

const (
	// RegionVar is the storage of a declared variable.
	RegionVar RegionKind = iota

	// RegionField is a named field within a base region.
	RegionField

	// RegionElement is an indexed element within a base region.
	RegionElement

	// RegionSymbolic is the region a symbolic pointer value points to.
	RegionSymbolic
)

func (k RegionKind) String() string {
	switch k {
	case RegionVar:
		return "var"
	case RegionField:
		return "field"
	case RegionElement:
		return "element"
	case RegionSymbolic:
		return "symbolic"
	}
	return "invalid"
}

// Region is one interned region. Which fields are meaningful depends on Kind:
// Var and Frame for RegionVar, Base plus Field or Index for RegionField and
// RegionElement, Sym for RegionSymbolic.
type Region struct {
	Kind  RegionKind
	Var   *decl.Var
	Frame int32
	Base  RegionID
	Field string
	Index int64
	Sym   SymbolID
}

// SymbolKind discriminates Symbol.
type SymbolKind uint8

const (
	// SymConjured is a fresh value with no known origin, such as an opaque
	// call result.
	SymConjured SymbolKind = iota

	// SymRegionValue is the value a region held when first read.
	SymRegionValue

	// SymDerived is a value derived from a parent symbol through a region.
	SymDerived
)

func (k SymbolKind) String() string {
	switch k {
	case SymConjured:
		return "conjured"
	case SymRegionValue:
		return "regionvalue"
	case SymDerived:
		return "derived"
	}
	return "invalid"
}

// Symbol is one interned symbolic value. Origin is the defining region for
// SymRegionValue and the via-region for SymDerived; Parent is set for
// SymDerived only.
type Symbol struct {
	Kind   SymbolKind
	Origin RegionID
	Parent SymbolID
	Seq    int32
}

type regionKey struct {
	kind  RegionKind
	v     *decl.Var
	frame int32
	base  RegionID
	field string
	index int64
	sym   SymbolID
}

type symbolKey struct {
	kind   SymbolKind
	origin RegionID
	parent SymbolID
}

// Table interns regions and symbols.
type Table struct {
	regions []Region
	symbols []Symbol

	regionIndex map[regionKey]RegionID
	symbolIndex map[symbolKey]SymbolID

	conjured int32
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{
		regionIndex: make(map[regionKey]RegionID),
		symbolIndex: make(map[symbolKey]SymbolID),
	}
}

func (t *Table) internRegion(key regionKey, r Region) RegionID {
	if id, ok := t.regionIndex[key]; ok {
		return id
	}
	id := RegionID(len(t.regions))
	t.regions = append(t.regions, r)
	t.regionIndex[key] = id
	return id
}

func (t *Table) internSymbol(key symbolKey, s Symbol) SymbolID {
	if id, ok := t.symbolIndex[key]; ok {
		return id
	}
	id := SymbolID(len(t.symbols))
	t.symbols = append(t.symbols, s)
	t.symbolIndex[key] = id
	return id
}

// VarRegion interns the storage region of v. Frame distinguishes recursive
// activations of the same declaration when the host inlines calls; globals use
// frame 0.
func (t *Table) VarRegion(v *decl.Var, frame int32) RegionID {
	if v == nil {
		return NoRegion
	}
	return t.internRegion(
		regionKey{kind: RegionVar, v: v, frame: frame},
		Region{Kind: RegionVar, Var: v, Frame: frame},
	)
}

// FieldRegion interns the region of a named field within base.
func (t *Table) FieldRegion(base RegionID, field string) RegionID {
	if base == NoRegion {
		return NoRegion
	}
	return t.internRegion(
		regionKey{kind: RegionField, base: base, field: field},
		Region{Kind: RegionField, Base: base, Field: field},
	)
}

// ElementRegion interns the region of an indexed element within base.
func (t *Table) ElementRegion(base RegionID, index int64) RegionID {
	if base == NoRegion {
		return NoRegion
	}
	return t.internRegion(
		regionKey{kind: RegionElement, base: base, index: index},
		Region{Kind: RegionElement, Base: base, Index: index},
	)
}

// SymbolicRegion interns the region a symbolic pointer value points to.
func (t *Table) SymbolicRegion(sym SymbolID) RegionID {
	if sym == NoSymbol {
		return NoRegion
	}
	return t.internRegion(
		regionKey{kind: RegionSymbolic, sym: sym},
		Region{Kind: RegionSymbolic, Sym: sym},
	)
}

// ValueSymbol interns the symbol standing for the value region held when first
// read. Repeated reads of the same region yield the same symbol.
func (t *Table) ValueSymbol(region RegionID) SymbolID {
	if region == NoRegion {
		return NoSymbol
	}
	return t.internSymbol(
		symbolKey{kind: SymRegionValue, origin: region},
		Symbol{Kind: SymRegionValue, Origin: region},
	)
}

// DerivedSymbol interns the symbol for a value derived from parent through the
// via region.
func (t *Table) DerivedSymbol(parent SymbolID, via RegionID) SymbolID {
	if parent == NoSymbol {
		return NoSymbol
	}
	return t.internSymbol(
		symbolKey{kind: SymDerived, origin: via, parent: parent},
		Symbol{Kind: SymDerived, Origin: via, Parent: parent},
	)
}

// Conjure returns a fresh symbol with no origin. Every call returns a new
// identifier.
func (t *Table) Conjure() SymbolID {
	t.conjured++
	id := SymbolID(len(t.symbols))
	t.symbols = append(t.symbols, Symbol{Kind: SymConjured, Origin: NoRegion, Parent: NoSymbol, Seq: t.conjured})
	return id
}

// Region returns the interned region for id. The id must be valid.
func (t *Table) Region(id RegionID) Region {
	return t.regions[id]
}

// Symbol returns the interned symbol for id. The id must be valid.
func (t *Table) Symbol(id SymbolID) Symbol {
	return t.symbols[id]
}

// NumRegions and NumSymbols report table sizes, for diagnostics.
func (t *Table) NumRegions() int { return len(t.regions) }

// NumSymbols reports how many symbols have been interned.
func (t *Table) NumSymbols() int { return len(t.symbols) }

// BaseRegion strips field and element layers, returning the underlying
// variable or symbolic region.
func (t *Table) BaseRegion(id RegionID) RegionID {
	for id != NoRegion {
		r := t.regions[id]
		if r.Kind != RegionField && r.Kind != RegionElement {
			break
		}
		id = r.Base
	}
	return id
}

// SymbolicBase strips field and element layers and returns the symbol behind
// the underlying symbolic region, if the base is symbolic.
func (t *Table) SymbolicBase(id RegionID) (SymbolID, bool) {
	base := t.BaseRegion(id)
	if base == NoRegion {
		return NoSymbol, false
	}
	if r := t.regions[base]; r.Kind == RegionSymbolic {
		return r.Sym, true
	}
	return NoSymbol, false
}

// GlobalVar returns the declaration behind id when it is the storage region of
// a global variable.
func (t *Table) GlobalVar(id RegionID) (*decl.Var, bool) {
	if id == NoRegion {
		return nil, false
	}
	if r := t.regions[id]; r.Kind == RegionVar && r.Var.Global {
		return r.Var, true
	}
	return nil, false
}

// ParamVar returns the declaration behind id when it is the storage region of
// a declared parameter.
func (t *Table) ParamVar(id RegionID) (*decl.Var, bool) {
	if id == NoRegion {
		return nil, false
	}
	if r := t.regions[id]; r.Kind == RegionVar && r.Var.IsParam() {
		return r.Var, true
	}
	return nil, false
}

// OriginRegion returns the defining region of sym: the read region for a
// region-value symbol, the via region for a derived one, NoRegion for
// conjured.
func (t *Table) OriginRegion(sym SymbolID) RegionID {
	if sym == NoSymbol {
		return NoRegion
	}
	return t.symbols[sym].Origin
}

// WalkToRoot walks region's derivation chain toward its allocation: at each
// step it takes the symbol behind the current region's symbolic base, asks
// stop, and either returns that symbol or hops to the symbol's own origin
// region. Returns NoSymbol when the chain ends at a conjured symbol or a
// non-symbolic region first.
func (t *Table) WalkToRoot(stop func(SymbolID) bool, region RegionID) SymbolID {
	for region != NoRegion {
		sym, ok := t.SymbolicBase(region)
		if !ok {
			return NoSymbol
		}
		if stop(sym) {
			return sym
		}
		s := t.symbols[sym]
		switch s.Kind {
		case SymRegionValue, SymDerived:
			region = s.Origin
		default:
			return NoSymbol
		}
	}
	return NoSymbol
}

// WalkBackToGlobal walks region's derivation chain and returns the storage
// region of the global variable it was ultimately read from, or NoRegion when
// the chain ends elsewhere.
func (t *Table) WalkBackToGlobal(region RegionID) RegionID {
	for region != NoRegion {
		r := t.regions[region]
		switch r.Kind {
		case RegionVar:
			if r.Var.Global {
				return region
			}
			return NoRegion
		case RegionSymbolic:
			s := t.symbols[r.Sym]
			switch s.Kind {
			case SymRegionValue, SymDerived:
				region = s.Origin
			default:
				return NoRegion
			}
		case RegionField, RegionElement:
			region = r.Base
		default:
			return NoRegion
		}
	}
	return NoRegion
}

// DescribeRegion renders a region for debug logging.
func (t *Table) DescribeRegion(id RegionID) string {
	if id == NoRegion {
		return "<none>"
	}
	r := t.regions[id]
	switch r.Kind {
	case RegionVar:
		if r.Frame != 0 {
			return fmt.Sprintf("%s#%d", r.Var.Name, r.Frame)
		}
		return r.Var.Name
	case RegionField:
		return fmt.Sprintf("%s.%s", t.DescribeRegion(r.Base), r.Field)
	case RegionElement:
		return fmt.Sprintf("%s[%d]", t.DescribeRegion(r.Base), r.Index)
	case RegionSymbolic:
		return fmt.Sprintf("*%s", t.DescribeSymbol(r.Sym))
	}
	return "<invalid>"
}

// DescribeSymbol renders a symbol for debug logging.
func (t *Table) DescribeSymbol(id SymbolID) string {
	if id == NoSymbol {
		return "<none>"
	}
	s := t.symbols[id]
	switch s.Kind {
	case SymConjured:
		return fmt.Sprintf("$conj%d", s.Seq)
	case SymRegionValue:
		return fmt.Sprintf("$%s", t.DescribeRegion(s.Origin))
	case SymDerived:
		return fmt.Sprintf("$%s<%s>", t.DescribeRegion(s.Origin), t.DescribeSymbol(s.Parent))
	}
	return "<invalid>"
}
