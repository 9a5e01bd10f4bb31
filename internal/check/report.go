package check

import (
	"github.com/rootvet/rootvet/internal/explain"
	"github.com/rootvet/rootvet/internal/memory"
	"github.com/rootvet/rootvet/internal/state"
)

// ReportKind classifies a finding.
type ReportKind uint8

const (
	// UseOfPossiblyCollected flags a potentially-freed value being read,
	// passed, returned, or rooted again.
	UseOfPossiblyCollected ReportKind = iota

	// MissingRoot flags an unrooted value passed to a call that may collect.
	MissingRoot

	// UnbalancedRootFrame flags misuse of the push/pop machinery: a pop with
	// no matching push, a frame left open at function end, or a malformed
	// push operand.
	UnbalancedRootFrame

	// SafepointViolation flags a potential safepoint reached while safepoints
	// are disabled.
	SafepointViolation

	// AnnotationContractViolation flags safepoints left disabled at function
	// exit without an annotation sanctioning the one-way transition.
	AnnotationContractViolation

	// CheckerInternalInconsistency flags a propagation gap: a value the rules
	// expected to have a recorded state did not. Surfaced as a finding so
	// soundness gaps stay visible.
	CheckerInternalInconsistency
)

func (k ReportKind) String() string {
	switch k {
	case UseOfPossiblyCollected:
		return "use-of-possibly-collected"
	case MissingRoot:
		return "missing-root"
	case UnbalancedRootFrame:
		return "unbalanced-root-frame"
	case SafepointViolation:
		return "safepoint-violation"
	case AnnotationContractViolation:
		return "annotation-contract-violation"
	case CheckerInternalInconsistency:
		return "checker-internal-inconsistency"
	}
	return "invalid"
}

// Report is one finding. Reports terminate their path: the host stops
// exploring past the event that produced one, while sibling paths continue.
type Report struct {
	Kind    ReportKind
	Message string

	// Sym is the implicated value, NoSymbol for frame-level findings.
	Sym memory.SymbolID

	Span Span

	// FatalForPath is always true under the current policy; carried
	// explicitly so hosts need not special-case kinds.
	FatalForPath bool

	// Notes carries fixed annotations attached at report time; Explain names
	// the state aspects whose path history narrates the finding.
	Notes   []string
	Explain []explain.Request
}

// Transition is a hook's outcome: the successor state, any findings, and the
// identities the checker synthesized while applying the rules. Next is always
// a valid state, even when reports are present, so the host may continue
// sibling exploration from it.
type Transition struct {
	Next    *state.State
	Reports []Report

	// Result is the call or derivation result symbol, when one was resolved
	// or conjured; NoSymbol otherwise.
	Result memory.SymbolID

	// ResultBool models a boolean return value for intrinsics whose return
	// communicates prior state.
	ResultBool *bool
}

func pass(st *state.State) Transition {
	return Transition{Next: st, Result: memory.NoSymbol}
}

// errorReport builds a frame-level finding with the standard frame note
// request attached.
func (c *Checker) errorReport(kind ReportKind, span Span, msg string) Report {
	return Report{
		Kind:         kind,
		Message:      msg,
		Sym:          memory.NoSymbol,
		Span:         span,
		FatalForPath: true,
		Explain:      []explain.Request{explain.FrameNote()},
	}
}

// valueReport builds a finding implicating sym, with value and frame note
// requests attached.
func (c *Checker) valueReport(kind ReportKind, span Span, sym memory.SymbolID, msg string) Report {
	return Report{
		Kind:         kind,
		Message:      msg,
		Sym:          sym,
		Span:         span,
		FatalForPath: true,
		Explain:      []explain.Request{explain.ValueNote(sym), explain.FrameNote()},
	}
}
