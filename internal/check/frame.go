package check

import (
	"github.com/go-kit/log/level"

	"github.com/rootvet/rootvet/internal/annot"
	"github.com/rootvet/rootvet/internal/lattice"
	"github.com/rootvet/rootvet/internal/memory"
	"github.com/rootvet/rootvet/internal/state"
)

// === Function entry ===

// BeginFunction seeds the frame's state. The top frame resets the enablement
// marks and classifies every tracked parameter; inlined frames re-derive
// parameter rootedness from the caller's argument values instead, because
// inlining changes which state entry is authoritative.
func (c *Checker) BeginFunction(fi FrameInfo, st *state.State) Transition {
	next := st
	if fi.Top {
		next = next.WithGCDisabledAt(state.NoHeight).WithSafepointDisabledAt(state.NoHeight)
	}
	fnAnnots := c.annots.Func(fi.Fn)
	if next.GCEnabled() && fnAnnots.Has(annot.GCDisabled) {
		next = next.WithGCDisabledAt(fi.Height)
	}
	fnSafepoint := c.safepoints.FuncIsSafepoint(fi.Fn)
	if next.SafepointsEnabled() && (!fnSafepoint || fnAnnots.Has(annot.NotSafepointLeave)) {
		next = next.WithSafepointDisabledAt(fi.Height)
	}
	if !fi.Top {
		var reports []Report
		next, reports = c.propagateArgumentRootedness(fi, next)
		return Transition{Next: next, Reports: reports, Result: memory.NoSymbol}
	}
	for i := range fi.Fn.Params {
		p := &fi.Fn.Params[i]
		pr := paramRef(fi.Params, i)
		if c.annots.Param(fi.Fn, i).Has(annot.RequireRootedSlot) {
			if pr.Region != memory.NoRegion {
				next = next.WithRoot(pr.Region, lattice.SingleRoot(lattice.GlobalDepth))
			}
			continue
		}
		if !c.tracked(p.Type) || pr.Sym == memory.NoSymbol {
			continue
		}
		next = next.WithValue(pr.Sym, c.forArgument(fi.Fn, i))
	}
	level.Debug(c.logger).Log("msg", "frame entered", "fn", fi.Fn.Name, "height", uint32(fi.Height), "top", fi.Top)
	return pass(next)
}

func paramRef(params []ArgRef, i int) ArgRef {
	if i < 0 || i >= len(params) {
		return NoArg()
	}
	return params[i]
}

// propagateArgumentRootedness re-derives each tracked parameter's state from
// the caller's argument value when entering an inlined frame. A tracked
// argument whose value has no recorded state is a propagation gap and is
// surfaced as a finding rather than silently trusted.
func (c *Checker) propagateArgumentRootedness(fi FrameInfo, st *state.State) (*state.State, []Report) {
	next := st
	var reports []Report
	for i := range fi.Fn.Params {
		p := &fi.Fn.Params[i]
		if !c.tracked(p.Type) {
			continue
		}
		arg := paramRef(fi.CallerArgs, i)
		vs, ok := st.Value(arg.Sym)
		if !ok {
			if sym := c.table.WalkToRoot(func(s memory.SymbolID) bool {
				_, has := st.Value(s)
				return has
			}, arg.Region); sym != memory.NoSymbol {
				vs, ok = st.Value(sym)
			}
		}
		if !ok {
			if arg.Sym == memory.NoSymbol && arg.Region == memory.NoRegion {
				continue
			}
			r := c.errorReport(CheckerInternalInconsistency, fi.Span, "Missed allocation of parameter")
			r.Notes = append(r.Notes, "Tried to find root for this parameter in inlined call")
			c.debugReport(r)
			reports = append(reports, r)
			continue
		}
		pr := paramRef(fi.Params, i)
		if pr.Sym == memory.NoSymbol {
			continue
		}
		if c.cfg.Types.GloballyRooted(p.Type) {
			next = next.WithValue(pr.Sym, lattice.GloballyRooted())
			continue
		}
		next = next.WithValue(pr.Sym, vs)
	}
	return next, reports
}

// === Function exit ===

// EndFunction checks the frame's contracts on the way out: a potentially
// freed return value, enablement marks balanced against this frame's height,
// and, for the top frame, a fully popped root stack.
func (c *Checker) EndFunction(ri ReturnInfo, st *state.State) Transition {
	next := st
	var reports []Report
	if ri.HasRet && st.GCEnabled() && c.tracked(ri.Ret.Type) {
		if vs, ok := st.Value(ri.Ret.Sym); ok && vs.IsFreed() {
			r := c.valueReport(UseOfPossiblyCollected, ri.Span, ri.Ret.Sym, "Return value may have been GCed")
			c.debugReport(r)
			reports = append(reports, r)
		}
	}
	if next.GCDisabledAt() == ri.Height {
		next = next.WithGCDisabledAt(state.NoHeight)
	}
	if next.SafepointDisabledAt() == ri.Height {
		if c.safepoints.FuncIsSafepoint(ri.Fn) && !c.annots.Func(ri.Fn).Has(annot.NotSafepointEnter) {
			r := c.errorReport(AnnotationContractViolation, ri.Span, "Safepoints disabled at end of function")
			c.debugReport(r)
			reports = append(reports, r)
		}
		next = next.WithSafepointDisabledAt(state.NoHeight)
	}
	if ri.Top && st.GCDepth() != 0 {
		r := c.errorReport(UnbalancedRootFrame, ri.Span, "Non-popped GC frame present at end of function")
		c.debugReport(r)
		reports = append(reports, r)
	}
	return Transition{Next: next, Reports: reports, Result: memory.NoSymbol}
}
