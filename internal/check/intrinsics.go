package check

import (
	"github.com/rootvet/rootvet/internal/annot"
	"github.com/rootvet/rootvet/internal/lattice"
	"github.com/rootvet/rootvet/internal/memory"
	"github.com/rootvet/rootvet/internal/state"
)

// EvalCall models the rooting intrinsics directly instead of treating them as
// opaque calls. The second return is false when the call is not an intrinsic
// and should go through the ordinary pre/post pipeline.
func (c *Checker) EvalCall(ci CallInfo, st *state.State) (Transition, bool) {
	switch {
	case c.cfg.Intrinsics.Pop(ci.Name):
		return c.evalPop(ci, st), true
	case c.cfg.Intrinsics.Push(ci.Name):
		return c.evalPush(ci, st), true
	case c.cfg.Intrinsics.PushArgs(ci.Name):
		return c.evalPushArgs(ci, st), true
	case c.cfg.Intrinsics.PushList(ci.Name):
		return c.evalPushList(ci, st), true
	case c.cfg.Intrinsics.Promise(ci.Name):
		return c.evalPromise(ci, st), true
	case c.cfg.Intrinsics.Preserve(ci.Name):
		return c.evalPreserve(ci, st), true
	case c.cfg.Intrinsics.GCEnable(ci.Name):
		return c.evalGCEnable(ci, st), true
	}
	if c.cfg.Safepoints.Lock(ci.Name) || c.annots.Func(ci.Callee).Has(annot.NotSafepointEnter) {
		if st.SafepointsEnabled() {
			next := st.WithSafepointDisabledAt(ci.Height)
			return Transition{Next: next, Result: memory.NoSymbol}, true
		}
		// Already inside a closed region. Let the ordinary pipeline see the
		// call so nested acquisitions stay balanced against the outermost
		// release.
	}
	return Transition{}, false
}

// evalPop unwinds one frame: the depth drops, roots registered at or past the
// new depth disappear, and values they were keeping alive fall back to
// allocated.
func (c *Checker) evalPop(ci CallInfo, st *state.State) Transition {
	if st.GCDepth() == 0 {
		r := c.errorReport(UnbalancedRootFrame, ci.Span, "JL_GC_POP without corresponding push")
		c.debugReport(r)
		return Transition{Next: st, Reports: []Report{r}, Result: memory.NoSymbol}
	}
	depth := st.GCDepth() - 1
	next := st.WithGCDepth(depth)
	var popped []memory.RegionID
	st.Roots(func(region memory.RegionID, rs lattice.RootState) bool {
		if rs.ShouldPopAt(depth) {
			popped = append(popped, region)
		}
		return true
	})
	for _, region := range popped {
		next = next.WithoutRoot(region)
	}
	for _, region := range popped {
		st.Values(func(sym memory.SymbolID, vs lattice.ValueState) bool {
			if vs.RootedByRegion(region) {
				next = next.WithValue(sym, lattice.Allocated())
			}
			return true
		})
	}
	return Transition{Next: next, Result: memory.NoSymbol}
}

// evalPush registers each pushed slot as a root at the current depth and
// promotes the value each slot holds. The depth grows once, after all slots.
func (c *Checker) evalPush(ci CallInfo, st *state.State) Transition {
	depth := st.GCDepth()
	next := st
	var reports []Report
	for _, arg := range ci.Args {
		if arg.Region == memory.NoRegion {
			r := c.errorReport(UnbalancedRootFrame, ci.Span, "JL_GC_PUSH with something other than a local variable")
			c.debugReport(r)
			return Transition{Next: st, Reports: []Report{r}, Result: memory.NoSymbol}
		}
		next = next.WithRoot(arg.Region, lattice.SingleRoot(depth))
		if arg.Held == memory.NoSymbol {
			continue
		}
		vs, ok := next.Value(arg.Held)
		if !ok {
			continue
		}
		if vs.IsFreed() {
			r := c.valueReport(UseOfPossiblyCollected, ci.Span, arg.Held,
				"Trying to root value which may have been GCed")
			c.debugReport(r)
			reports = append(reports, r)
		}
		if !vs.IsRooted() {
			next = next.WithValue(arg.Held, lattice.RootedBy(arg.Region, depth))
		}
	}
	next = next.WithGCDepth(depth + 1)
	return Transition{Next: next, Reports: reports, Result: memory.NoSymbol}
}

// evalPushArgs registers the argument array as an array root. Stores into the
// array's elements are what actually root values, handled at bind time.
func (c *Checker) evalPushArgs(ci CallInfo, st *state.State) Transition {
	arg := ci.arg(0)
	if arg.Region == memory.NoRegion {
		r := c.errorReport(UnbalancedRootFrame, ci.Span, "JL_GC_PUSH with something other than an args array")
		c.debugReport(r)
		return Transition{Next: st, Reports: []Report{r}, Result: memory.NoSymbol}
	}
	depth := st.GCDepth()
	next := st.WithRoot(arg.Region, lattice.ArrayRoot(depth))
	next = next.WithGCDepth(depth + 1)
	return Transition{Next: next, Result: memory.NoSymbol}
}

// evalPushList roots the items buffer of an arraylist for the new depth. The
// buffer region is derived from the list value's items field so later stores
// through the same pointer land on the registered root.
func (c *Checker) evalPushList(ci CallInfo, st *state.State) Transition {
	depth := st.GCDepth() + 1
	next := st.WithGCDepth(depth)
	list := ci.arg(1)
	if list.Sym == memory.NoSymbol {
		return Transition{Next: next, Result: memory.NoSymbol}
	}
	listRegion := c.table.SymbolicRegion(list.Sym)
	itemsField := c.table.FieldRegion(listRegion, c.cfg.Intrinsics.ListItemsField)
	itemsSym := c.table.ValueSymbol(itemsField)
	itemsRegion := c.table.SymbolicRegion(itemsSym)
	next = next.WithRoot(itemsRegion, lattice.ArrayRoot(depth))
	return Transition{Next: next, Result: memory.NoSymbol}
}

// evalPromise accepts the caller's assertion that the value outlives any
// collection on this path.
func (c *Checker) evalPromise(ci CallInfo, st *state.State) Transition {
	arg := ci.arg(0)
	if arg.Sym == memory.NoSymbol {
		r := c.errorReport(CheckerInternalInconsistency, ci.Span, "Can not understand this promise.")
		c.debugReport(r)
		return Transition{Next: st, Reports: []Report{r}, Result: memory.NoSymbol}
	}
	next := st.WithValue(arg.Sym, lattice.GloballyRooted())
	return Transition{Next: next, Result: memory.NoSymbol}
}

// evalPreserve pins the preserved value for the rest of the path. The rooting
// really lasts only as long as the owning context, which this does not model.
func (c *Checker) evalPreserve(ci CallInfo, st *state.State) Transition {
	arg := ci.arg(1)
	if arg.Sym == memory.NoSymbol {
		return Transition{Next: st, Result: memory.NoSymbol}
	}
	next := st.WithValue(arg.Sym, lattice.GloballyRooted())
	return Transition{Next: next, Result: memory.NoSymbol}
}

// evalGCEnable follows the runtime's toggle: the argument selects the new
// mode and the call reports whether collection was enabled before. Without a
// literal argument the conservative reading is that collection resumes.
func (c *Checker) evalGCEnable(ci CallInfo, st *state.State) Transition {
	enabledAfter := true
	if lit := ci.arg(0).Literal; lit != nil {
		enabledAfter = *lit != 0
	}
	enabledNow := st.GCEnabled()
	var next *state.State
	if enabledAfter {
		next = st.WithGCDisabledAt(state.NoHeight)
	} else {
		next = st.WithGCDisabledAt(state.OuterHeight)
	}
	prev := enabledNow
	return Transition{Next: next, Result: memory.NoSymbol, ResultBool: &prev}
}
