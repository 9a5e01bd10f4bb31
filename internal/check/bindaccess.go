package check

import (
	"github.com/rootvet/rootvet/internal/annot"
	"github.com/rootvet/rootvet/internal/lattice"
	"github.com/rootvet/rootvet/internal/memory"
	"github.com/rootvet/rootvet/internal/state"
)

// Bind processes a store. Stores into registered root slots promote the
// stored value to rooted at the slot's depth. Stores into regions that are
// themselves reachable from a root copy the holder's rooting onto the value.
func (c *Checker) Bind(bi BindInfo, st *state.State) Transition {
	if bi.Region == memory.NoRegion {
		return pass(st)
	}
	region := bi.Region
	shouldBeRootArray := false
	if c.table.Region(region).Kind == memory.RegionElement {
		region = c.table.BaseRegion(region)
		shouldBeRootArray = true
	}
	sym := bi.Value.Sym
	if sym == memory.NoSymbol {
		return pass(st)
	}
	rs, isRoot := st.Root(region)
	if !isRoot {
		next, cls, isGlobal := c.rootRegionIfGlobal(st, c.table.BaseRegion(region), memory.NoSymbol)
		slotVS, slotOK := cls, true
		if !isGlobal {
			next = st
			slotVS, slotOK = c.valueStateForRegion(st, region)
		}
		if !slotOK || !slotVS.IsRooted() {
			return pass(st)
		}
		if rv, ok := st.Value(sym); ok && rv.IsRooted() && rv.Depth() < slotVS.Depth() {
			return pass(st)
		}
		return Transition{Next: next.WithValue(sym, slotVS), Result: memory.NoSymbol}
	}
	if shouldBeRootArray && !rs.IsArray() {
		r := c.errorReport(UnbalancedRootFrame, bi.Span,
			"This assignment looks weird. Expected a root array on the LHS.")
		c.debugReport(r)
		return Transition{Next: st, Reports: []Report{r}, Result: memory.NoSymbol}
	}
	rv, ok := st.Value(sym)
	if !ok {
		if next, _, isGlobal := c.rootRegionIfGlobal(st, c.table.OriginRegion(sym), memory.NoSymbol); isGlobal {
			return Transition{Next: next, Result: memory.NoSymbol}
		}
		r := c.valueReport(CheckerInternalInconsistency, bi.Span, sym,
			"Saw assignment to root, but missed the allocation")
		c.debugReport(r)
		return Transition{Next: st, Reports: []Report{r}, Result: memory.NoSymbol}
	}
	var reports []Report
	if rv.IsFreed() {
		r := c.valueReport(UseOfPossiblyCollected, bi.Span, sym,
			"Trying to root value which may have been GCed")
		c.debugReport(r)
		reports = append(reports, r)
	}
	next := st
	if !rv.IsRooted() || rv.Depth() > rs.Depth() {
		next = st.WithValue(sym, lattice.RootedBy(region, rs.Depth()))
	}
	return Transition{Next: next, Reports: reports, Result: memory.NoSymbol}
}

// Access processes a memory access. Loads from root slots promote the loaded
// value, globals start being tracked on first touch, and dereferencing
// storage owned by a possibly collected value is an error. A dead pointer
// held in a local is fine until somebody reads through it.
func (c *Checker) Access(ai AccessInfo, st *state.State) Transition {
	if ai.Region == memory.NoRegion {
		return pass(st)
	}
	next := st
	if ai.IsLoad && ai.Sym != memory.NoSymbol {
		if rs, ok := st.Root(ai.Region); ok {
			vs, has := st.Value(ai.Sym)
			if !has || !vs.IsRooted() || vs.Depth() > rs.Depth() {
				next = next.WithValue(ai.Sym, lattice.RootedBy(ai.Region, rs.Depth()))
			}
		}
	}
	if n, _, isGlobal := c.rootRegionIfGlobal(next, ai.Region, ai.Sym); isGlobal {
		return Transition{Next: n, Result: memory.NoSymbol}
	}
	if c.table.Region(ai.Region).Kind == memory.RegionSymbolic {
		return Transition{Next: next, Result: memory.NoSymbol}
	}
	base, ok := c.table.SymbolicBase(ai.Region)
	if !ok {
		return Transition{Next: next, Result: memory.NoSymbol}
	}
	vs, has := next.Value(base)
	if !has {
		return Transition{Next: next, Result: memory.NoSymbol}
	}
	if vs.IsFreed() {
		r := c.valueReport(UseOfPossiblyCollected, ai.Span, base,
			"Trying to access value which may have been GCed")
		c.debugReport(r)
		return Transition{Next: next, Reports: []Report{r}, Result: memory.NoSymbol}
	}
	return Transition{Next: next, Result: memory.NoSymbol}
}

// rootRegionIfGlobal registers a tracked global variable the first time it is
// touched. Globals carrying the rooted annotation or holding a permanently
// rooted type become roots; the value they hold is classified accordingly
// unless already known. The boolean reports whether the region named a
// tracked global at all.
func (c *Checker) rootRegionIfGlobal(st *state.State, region memory.RegionID, held memory.SymbolID) (*state.State, lattice.ValueState, bool) {
	if region == memory.NoRegion {
		return st, lattice.Allocated(), false
	}
	v, isGlobal := c.table.GlobalVar(region)
	if !isGlobal {
		return st, lattice.Allocated(), false
	}
	if !c.tracked(v.Type) {
		return st, lattice.Allocated(), false
	}
	next := st
	cls := lattice.Allocated()
	if c.annots.Var(v).Has(annot.GloballyRooted) || c.cfg.Types.GloballyRooted(v.Type) {
		next = next.WithRoot(region, lattice.SingleRoot(lattice.GlobalDepth))
		cls = lattice.RootedBy(region, lattice.GlobalDepth)
	}
	sym := held
	if sym == memory.NoSymbol {
		sym = c.table.ValueSymbol(region)
	}
	if _, ok := next.Value(sym); !ok {
		next = next.WithValue(sym, cls)
	}
	return next, cls, true
}
