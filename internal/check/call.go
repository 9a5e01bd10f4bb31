package check

import (
	"github.com/rootvet/rootvet/internal/annot"
	"github.com/rootvet/rootvet/internal/explain"
	"github.com/rootvet/rootvet/internal/lattice"
	"github.com/rootvet/rootvet/internal/memory"
	"github.com/rootvet/rootvet/internal/state"
)

// === Pre-call ===

// PreCall validates the call's arguments before control transfers: mutex
// releases reopen safepoint regions, safepoint calls are rejected inside
// closed regions, and every tracked argument is checked for freedness and
// rooting.
func (c *Checker) PreCall(ci CallInfo, st *state.State) Transition {
	if !st.GCEnabled() {
		return pass(st)
	}
	next := st
	var reports []Report
	calleeSafepoint := c.safepoints.CallIsSafepoint(ci.Callee, ci.HasCalleeExpr, ci.TypedefAnnots)
	calleeName := ""
	if ci.Callee != nil {
		calleeName = ci.Callee.Name
	}
	if c.cfg.Safepoints.Unlock(calleeName) || c.annots.Func(ci.Callee).Has(annot.NotSafepointLeave) {
		if next.SafepointDisabledAt() == ci.Height && c.safepoints.FuncIsSafepoint(ci.Within) {
			next = next.WithSafepointDisabledAt(state.NoHeight)
		}
	}
	if !next.SafepointsEnabled() && calleeSafepoint {
		// One-way transitions out of no-return calls never come back to
		// observe the violation.
		if ci.Callee == nil || !ci.Callee.NoReturn {
			r := c.errorReport(SafepointViolation, ci.Span,
				"Calling potential safepoint as "+ci.kindLabel()+" from function annotated JL_NOTSAFEPOINT")
			r.Explain = append(r.Explain, explain.SafepointNote())
			if ci.Callee != nil {
				r.Notes = append(r.Notes, "Tried to call method defined here")
			}
			c.debugReport(r)
			reports = append(reports, r)
			return Transition{Next: next, Reports: reports, Result: memory.NoSymbol}
		}
	}
	if c.cfg.Intrinsics.Promise(ci.Name) {
		return Transition{Next: next, Reports: reports, Result: memory.NoSymbol}
	}
	for idx, arg := range ci.Args {
		if arg.Sym == memory.NoSymbol {
			continue
		}
		vs, ok := st.Value(arg.Sym)
		if !ok {
			continue
		}
		if arg.Type != "" && !c.tracked(arg.Type) {
			continue
		}
		if vs.IsFreed() {
			r := c.valueReport(UseOfPossiblyCollected, ci.Span, arg.Sym, "Argument value may have been GCed")
			c.debugReport(r)
			reports = append(reports, r)
		}
		if vs.IsRooted() {
			continue
		}
		maybeUnrooted := ci.Callee != nil && c.annots.Param(ci.Callee, idx).Has(annot.MaybeUnrooted)
		if !maybeUnrooted && calleeSafepoint {
			r := c.valueReport(MissingRoot, ci.Span, arg.Sym,
				"Passing non-rooted value as argument to function that may GC")
			c.debugReport(r)
			reports = append(reports, r)
		}
	}
	return Transition{Next: next, Reports: reports, Result: memory.NoSymbol}
}

// === Post-call ===

// PostCall applies the call's three effects in order: annotated
// argument-to-argument rooting, the safepoint kill of unrooted values, and
// result classification.
func (c *Checker) PostCall(ci CallInfo, st *state.State) Transition {
	next := c.processArgumentRooting(ci, st)
	next = c.processPotentialSafepoint(ci, next)
	next, result := c.processAllocationOfResult(ci, next)
	return Transition{Next: next, Result: result}
}

// processArgumentRooting copies the rooted state reachable from a
// rooting-argument parameter onto the paired rooted-argument value.
func (c *Checker) processArgumentRooting(ci CallInfo, st *state.State) *state.State {
	if ci.Callee == nil {
		return st
	}
	rootingRegion := memory.NoRegion
	rootedSym := memory.NoSymbol
	for i := range ci.Callee.Params {
		pa := c.annots.Param(ci.Callee, i)
		if pa.Has(annot.RootingArgument) {
			rootingRegion = c.argRegion(ci.arg(i))
		} else if pa.Has(annot.RootedArgument) {
			rootedSym = ci.arg(i).Sym
		}
	}
	if rootingRegion == memory.NoRegion || rootedSym == memory.NoSymbol {
		return st
	}
	vs, ok := c.valueStateForRegion(st, rootingRegion)
	if !ok {
		return st
	}
	return st.WithValue(rootedSym, vs)
}

// processPotentialSafepoint demotes every allocated value to potentially
// freed when the call may collect, sparing the return value and arguments the
// callee promises to keep alive for the call's duration.
func (c *Checker) processPotentialSafepoint(ci CallInfo, st *state.State) *state.State {
	if !c.safepoints.CallIsSafepoint(ci.Callee, ci.HasCalleeExpr, ci.TypedefAnnots) {
		return st
	}
	if !st.GCEnabled() {
		return st
	}
	spared := make(map[memory.SymbolID]struct{})
	if ci.Callee != nil {
		for i := range ci.Callee.Params {
			if !c.annots.Param(ci.Callee, i).Has(annot.TemporarilyRoots) {
				continue
			}
			p := &ci.Callee.Params[i]
			arg := ci.arg(i)
			if p.Type.PointerDepth() >= 2 && c.tracked(p.Type) {
				// Out parameter: the value it currently refers to is the one
				// kept alive.
				if arg.Held != memory.NoSymbol {
					spared[arg.Held] = struct{}{}
				}
				continue
			}
			if sym := c.table.WalkToRoot(func(s memory.SymbolID) bool {
				_, ok := st.Value(s)
				return ok
			}, c.argRegion(arg)); sym != memory.NoSymbol {
				spared[sym] = struct{}{}
			}
		}
	}
	if ci.Result != memory.NoSymbol {
		spared[ci.Result] = struct{}{}
	}
	next := st
	st.Values(func(sym memory.SymbolID, vs lattice.ValueState) bool {
		if !vs.IsAllocated() {
			return true
		}
		if _, ok := spared[sym]; ok {
			return true
		}
		next = next.WithValue(sym, lattice.Freed())
		return true
	})
	return next
}

// processAllocationOfResult classifies the call's result value when its type
// is tracked: interned or annotated results are permanently rooted, results
// of root-propagating callees inherit the propagating argument's rooting, and
// everything else starts allocated. An existing classification is never
// downgraded.
func (c *Checker) processAllocationOfResult(ci CallInfo, st *state.State) (*state.State, memory.SymbolID) {
	if !c.tracked(ci.ResultType) {
		return st, memory.NoSymbol
	}
	sym := ci.Result
	if sym == memory.NoSymbol {
		sym = c.table.Conjure()
	}
	if c.cfg.Types.GloballyRooted(ci.ResultType) {
		return st.WithValue(sym, lattice.GloballyRooted()), sym
	}
	vs := lattice.Allocated()
	if existing, ok := st.Value(sym); ok {
		vs = existing
	}
	if ci.Callee != nil {
		if c.annots.Func(ci.Callee).Has(annot.GloballyRooted) {
			vs = lattice.GloballyRooted()
		} else if unsigned, boxed := c.cfg.Boxing.Match(ci.Callee.Name); boxed {
			if lit := ci.arg(0).Literal; lit != nil && c.cfg.Boxing.Interned(unsigned, *lit) {
				vs = lattice.GloballyRooted()
			}
		} else {
			for i := range ci.Callee.Params {
				if !c.annots.Param(ci.Callee, i).Has(annot.PropagatesRoot) {
					continue
				}
				if inherited, ok := c.valueStateForRegion(st, c.argRegion(ci.arg(i))); ok {
					vs = inherited
				}
				break
			}
		}
	}
	return st.WithValue(sym, vs), sym
}
