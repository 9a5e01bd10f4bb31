// Package explain reconstructs the causal notes attached to a finding. A
// report names what went wrong at the point of error; the notes say where
// along the path the relevant state came to be. Each note is computed from one
// adjacent pair of path states, so a host can replay any recorded path through
// Note and collect the story without the checker keeping per-path journals.
package explain

import (
	"github.com/rootvet/rootvet/internal/annot"
	"github.com/rootvet/rootvet/internal/config"
	"github.com/rootvet/rootvet/internal/lattice"
	"github.com/rootvet/rootvet/internal/memory"
	"github.com/rootvet/rootvet/internal/safepoint"
	"github.com/rootvet/rootvet/internal/state"
)

// RequestKind selects which aspect of the state a request narrates.
type RequestKind uint8

const (
	// NoRequest never yields notes.
	NoRequest RequestKind = iota

	// ValueRequest narrates the classification history of one symbol.
	ValueRequest

	// FrameRequest narrates root-frame pushes and pops.
	FrameRequest

	// SafepointRequest narrates safepoint enablement changes.
	SafepointRequest
)

// Request asks for the notes relevant to one report. Sym is meaningful for
// ValueRequest only.
type Request struct {
	Kind RequestKind
	Sym  memory.SymbolID
}

// ValueNote returns a value request for sym.
func ValueNote(sym memory.SymbolID) Request {
	return Request{Kind: ValueRequest, Sym: sym}
}

// FrameNote returns a frame request.
func FrameNote() Request { return Request{Kind: FrameRequest} }

// SafepointNote returns a safepoint request.
func SafepointNote() Request { return Request{Kind: SafepointRequest} }

// Origin identifies the parent expression a step's result was derived from:
// the region that expression denotes and, when the host resolved one, the
// value bound there. NoteAt consults it when the step left the value without
// a root to say why none propagated.
type Origin struct {
	Region memory.RegionID
	Held   memory.SymbolID
}

// NoOrigin is the absent Origin.
func NoOrigin() Origin {
	return Origin{Region: memory.NoRegion, Held: memory.NoSymbol}
}

// Explainer computes notes. It consults annotations and the type policy only
// to phrase argument and derivation provenance; everything else is a pure
// function of the two states.
type Explainer struct {
	types      *config.TypePolicy
	annots     *annot.Resolver
	safepoints *safepoint.Classifier
}

// NewExplainer returns an Explainer over the given policy and resolvers.
func NewExplainer(types *config.TypePolicy, annots *annot.Resolver, safepoints *safepoint.Classifier) *Explainer {
	return &Explainer{types: types, annots: annots, safepoints: safepoints}
}

// Note returns the note req yields at the step from prev to next, if the step
// changed anything worth narrating.
func (e *Explainer) Note(req Request, prev, next *state.State) (string, bool) {
	notes, _, ok := e.NoteAt(req, prev, next, nil, NoOrigin())
	if !ok || len(notes) == 0 {
		return "", false
	}
	return notes[len(notes)-1], true
}

// NoteAt is Note for steps whose result was derived from a parent expression,
// which from resolves against mem. When the step left the value untracked or
// without a root, the notes say why the parent's root did not propagate. A
// returned request other than the zero one asks the host to narrate that
// parent over the part of the path before this step.
func (e *Explainer) NoteAt(req Request, prev, next *state.State, mem *memory.Table, from Origin) ([]string, Request, bool) {
	if next == nil {
		return nil, Request{}, false
	}
	switch req.Kind {
	case ValueRequest:
		return e.valueNotes(req.Sym, prev, next, mem, from)
	case FrameRequest:
		if prev != nil && next.GCDepth() != prev.GCDepth() {
			return one("GC frame changed here.")
		}
	case SafepointRequest:
		if prev == nil || next.SafepointDisabledAt() == prev.SafepointDisabledAt() {
			return nil, Request{}, false
		}
		if prev.SafepointsEnabled() {
			return one("Tracking JL_NOT_SAFEPOINT annotation here.")
		}
		if next.SafepointsEnabled() {
			return one("Safepoints re-enabled here")
		}
	}
	return nil, Request{}, false
}

func one(note string) ([]string, Request, bool) {
	return []string{note}, Request{}, true
}

func (e *Explainer) valueNotes(sym memory.SymbolID, prev, next *state.State, mem *memory.Table, from Origin) ([]string, Request, bool) {
	nv, ok := next.Value(sym)
	if !ok {
		return nil, Request{}, false
	}
	var pv lattice.ValueState
	havePrev := false
	if prev != nil {
		pv, havePrev = prev.Value(sym)
	}
	if !havePrev {
		if nv.IsRooted() {
			return one("Started tracking value here (root was inherited).")
		}
		if fn, param, ok := nv.Provenance(); ok {
			if !e.safepoints.FuncIsSafepoint(fn) {
				return one("Argument not rooted, because function was annotated as not a safepoint")
			}
			if e.annots.Param(fn, int(param)).Has(annot.MaybeUnrooted) {
				return one("Argument was annotated as MAYBE_UNROOTED.")
			}
		}
		if notes, follow, ok := e.noPropagation(mem, next, from); ok {
			return notes, follow, true
		}
		return one("Started tracking value here.")
	}
	if !pv.IsUntracked() && nv.IsUntracked() {
		if notes, follow, ok := e.noPropagation(mem, next, from); ok {
			return notes, follow, true
		}
		return one("Created untracked derivative.")
	}
	switch {
	case nv.IsFreed() && pv.IsAllocated():
		return one("Value may have been GCed here.")
	case nv.IsFreed() && !pv.IsFreed():
		return one("Value may have been GCed here (though I don't know why).")
	case nv.IsRooted() && pv.IsAllocated():
		return one("Value was rooted here.")
	case !nv.IsRooted() && pv.IsRooted():
		return one("Root was released here.")
	case nv.Depth() != pv.Depth():
		return one("Rooting Depth changed here.")
	}
	return nil, Request{}, false
}

// noPropagation diagnoses a derivation that produced a rootless value: the
// nearest ancestor with a recorded state says whether there was a root to pass
// on at all, and failing that the chain may bottom out at a global whose
// annotations are at fault.
func (e *Explainer) noPropagation(mem *memory.Table, st *state.State, from Origin) ([]string, Request, bool) {
	if mem == nil || (from.Region == memory.NoRegion && from.Held == memory.NoSymbol) {
		return nil, Request{}, false
	}
	hasState := func(s memory.SymbolID) bool {
		_, ok := st.Value(s)
		return ok
	}
	parent := mem.WalkToRoot(hasState, from.Region)
	if parent == memory.NoSymbol && from.Held != memory.NoSymbol {
		parent = mem.WalkToRoot(hasState, mem.SymbolicRegion(from.Held))
	}
	if parent == memory.NoSymbol {
		if gv, ok := mem.GlobalVar(mem.WalkBackToGlobal(from.Region)); ok {
			notes := []string{"Derivation root was here"}
			switch {
			case !e.annots.Var(gv).Has(annot.GloballyRooted):
				notes = append(notes, "Argument value was derived from unrooted global. May need GLOBALLY_ROOTED annotation.")
			case !e.types.Tracked(gv.Type):
				notes = append(notes, "Argument value was derived global with untracked type. You may want to update the checker's type list")
			default:
				notes = append(notes, "Argument value was derived from global, but the checker did not propagate the root. This may be a bug")
			}
			return notes, Request{}, true
		}
		return []string{"Could not propagate root. Argument value was untracked."}, Request{}, true
	}
	vs, _ := st.Value(parent)
	switch {
	case vs.IsFreed():
		return []string{"Root not propagated because it may have been freed. Tracking."}, ValueNote(parent), true
	case vs.IsRooted():
		return []string{"Root was not propagated due to a bug. Tracking base value."}, ValueNote(parent), true
	default:
		return []string{"No Root to propagate. Tracking."}, ValueNote(parent), true
	}
}
