package check

import (
	"github.com/rootvet/rootvet/internal/lattice"
	"github.com/rootvet/rootvet/internal/memory"
	"github.com/rootvet/rootvet/internal/state"
)

// Derive classifies a value obtained from another value: a cast, a member
// load, a subscript, or a dereference. Subscripts and member loads are
// checked against registered roots first, since reading out of a root slot
// or a root array yields a value the slot itself keeps alive.
func (c *Checker) Derive(di DeriveInfo, st *state.State) Transition {
	switch di.Kind {
	case DeriveCast:
		return c.deriveCast(di, st)
	case DeriveIndex:
		if tr, ok := c.deriveFromRootArray(di, st); ok {
			return tr
		}
	case DeriveMember:
		if tr, ok := c.deriveFromRootSlot(di, st); ok {
			return tr
		}
		if !di.ResultType.IsPointer() {
			return pass(st)
		}
	}
	return c.deriveGeneric(di, st)
}

// deriveCast upgrades values cast to a permanently rooted type. All other
// casts are value-preserving and carry their classification implicitly.
func (c *Checker) deriveCast(di DeriveInfo, st *state.State) Transition {
	if !c.cfg.Types.GloballyRooted(di.ResultType) {
		return pass(st)
	}
	if di.Result == memory.NoSymbol {
		return pass(st)
	}
	if vs, ok := st.Value(di.Result); ok && vs.IsRooted() && vs.Depth() == lattice.GlobalDepth {
		return pass(st)
	}
	return Transition{Next: st.WithValue(di.Result, lattice.GloballyRooted()), Result: di.Result}
}

// deriveFromRootArray handles loads out of a registered root array: the
// element region's base carries the root, and the loaded value is rooted by
// the element slot at the root's depth.
func (c *Checker) deriveFromRootArray(di DeriveInfo, st *state.State) (Transition, bool) {
	if di.ResultRegion == memory.NoRegion || !c.tracked(di.ResultType) {
		return Transition{}, false
	}
	elem := c.table.Region(di.ResultRegion)
	if elem.Kind != memory.RegionElement {
		return Transition{}, false
	}
	rs, ok := st.Root(elem.Base)
	if !ok {
		return Transition{}, false
	}
	vs := lattice.RootedBy(di.ResultRegion, rs.Depth())
	sym := c.resultSymbol(di, true)
	if sym == memory.NoSymbol {
		return pass(st), true
	}
	if existing, ok := st.Value(sym); ok && existing.IsRooted() && existing.Depth() < vs.Depth() {
		return Transition{Next: st, Result: sym}, true
	}
	return Transition{Next: st.WithValue(sym, vs), Result: sym}, true
}

// deriveFromRootSlot handles loads out of a member that is itself a
// registered root, as with fields covered by a pushed frame.
func (c *Checker) deriveFromRootSlot(di DeriveInfo, st *state.State) (Transition, bool) {
	if di.ResultRegion == memory.NoRegion || !c.tracked(di.ResultType) {
		return Transition{}, false
	}
	rs, ok := st.Root(di.ResultRegion)
	if !ok {
		return Transition{}, false
	}
	vs := lattice.RootedBy(di.ResultRegion, rs.Depth())
	sym := c.resultSymbol(di, true)
	if sym == memory.NoSymbol {
		return pass(st), true
	}
	if existing, ok := st.Value(sym); ok && existing.IsRooted() && existing.Depth() < vs.Depth() {
		return Transition{Next: st, Result: sym}, true
	}
	return Transition{Next: st.WithValue(sym, vs), Result: sym}, true
}

// deriveGeneric is the shared flow. Values read out of parameters and
// tracked globals take their classification from the holder, rooted results
// are never downgraded, and otherwise the derivative inherits the parent's
// classification, with freed parents reported.
func (c *Checker) deriveGeneric(di DeriveInfo, st *state.State) Transition {
	if c.cfg.Types.GloballyRooted(di.ResultType) {
		sym := c.resultSymbol(di, c.tracked(di.ResultType))
		if sym == memory.NoSymbol {
			return pass(st)
		}
		if vs, ok := st.Value(sym); ok && vs.IsRooted() && vs.Depth() == lattice.GlobalDepth {
			return Transition{Next: st, Result: sym}
		}
		return Transition{Next: st.WithValue(sym, lattice.GloballyRooted()), Result: sym}
	}
	resultTracked := true
	if !c.tracked(di.ResultType) {
		// Collections hanging off container types stay visible so pointers
		// can be chased through them.
		throughContainer := c.cfg.Types.Container(di.ParentType) && c.cfg.Types.Collection(di.ResultType)
		if !throughContainer && c.tracked(di.ParentType) {
			resultTracked = false
		}
	}
	parentVS, parentTracked := st.Value(di.Parent.Sym)
	sym := c.resultSymbol(di, parentTracked || c.tracked(di.ResultType))
	if sym == memory.NoSymbol {
		return pass(st)
	}
	if di.Parent.Region != memory.NoRegion {
		if v, isParam := c.table.ParamVar(di.Parent.Region); isParam {
			if resultTracked {
				return Transition{Next: st.WithValue(sym, c.forArgument(v.Owner, v.Param)), Result: sym}
			}
		} else if gvR := c.table.WalkBackToGlobal(di.Parent.Region); gvR != memory.NoRegion {
			next, cls, ok := c.rootRegionIfGlobal(st, gvR, memory.NoSymbol)
			st = next
			if ok && resultTracked {
				return Transition{Next: st.WithValue(sym, cls), Result: sym}
			}
		}
	}
	if vs, ok := st.Value(sym); ok && vs.IsRooted() {
		return Transition{Next: st, Result: sym}
	}
	if !parentTracked {
		if c.tracked(di.ResultType) {
			return Transition{Next: st.WithValue(sym, lattice.Untracked()), Result: sym}
		}
		return Transition{Next: st, Result: sym}
	}
	if parentVS.IsFreed() {
		r := c.valueReport(UseOfPossiblyCollected, di.Span, di.Parent.Sym,
			"Creating derivative of value that may have been GCed")
		c.debugReport(r)
		return Transition{Next: st.WithValue(sym, lattice.Untracked()), Reports: []Report{r}, Result: sym}
	}
	if resultTracked {
		return Transition{Next: st.WithValue(sym, parentVS), Result: sym}
	}
	return Transition{Next: st, Result: sym}
}

// resultSymbol resolves the symbol standing for a derivation's result. Only
// pointer results carry symbols. When the host has not modeled one, a fresh
// symbol is conjured if the result is worth tracking.
func (c *Checker) resultSymbol(di DeriveInfo, conjure bool) memory.SymbolID {
	t := di.ResultType
	if !t.IsPointer() || (t.PointerDepth() == 1 && t.Base() == "void") {
		return memory.NoSymbol
	}
	if di.Result != memory.NoSymbol {
		return di.Result
	}
	if !conjure {
		return memory.NoSymbol
	}
	return c.table.Conjure()
}
