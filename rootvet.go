// Package rootvet provides a path-sensitive checker for GC rooting and
// safepoint discipline in code written against a moving collector.
//
// The collector may run at any safepoint and move values that are not
// reachable from a root. Code must therefore root every collectable value
// before reaching a safepoint, keep root frames balanced, and respect the
// annotations that declare exceptions. The checker consumes memory and call
// events from a host that walks the program, threads an immutable abstract
// state through them, and reports the paths on which a value could be used
// after the collector had a chance to reclaim it.
package rootvet

import (
	"github.com/go-kit/log"

	"github.com/rootvet/rootvet/internal/check"
	"github.com/rootvet/rootvet/internal/config"
	"github.com/rootvet/rootvet/internal/decl"
	"github.com/rootvet/rootvet/internal/explain"
	"github.com/rootvet/rootvet/internal/memory"
	"github.com/rootvet/rootvet/internal/state"
)

// =============================================================================
// Re-exports from check package
// =============================================================================

// Checker is an alias for check.Checker.
type Checker = check.Checker

// Option is an alias for check.Option.
type Option = check.Option

// Transition is an alias for check.Transition.
type Transition = check.Transition

// Report is an alias for check.Report.
type Report = check.Report

// ReportKind is an alias for check.ReportKind.
type ReportKind = check.ReportKind

// Report kinds.
const (
	UseOfPossiblyCollected       = check.UseOfPossiblyCollected
	MissingRoot                  = check.MissingRoot
	UnbalancedRootFrame          = check.UnbalancedRootFrame
	SafepointViolation           = check.SafepointViolation
	AnnotationContractViolation  = check.AnnotationContractViolation
	CheckerInternalInconsistency = check.CheckerInternalInconsistency
)

// Span is an alias for check.Span.
type Span = check.Span

// ArgRef is an alias for check.ArgRef.
type ArgRef = check.ArgRef

// FrameInfo is an alias for check.FrameInfo.
type FrameInfo = check.FrameInfo

// ReturnInfo is an alias for check.ReturnInfo.
type ReturnInfo = check.ReturnInfo

// CallInfo is an alias for check.CallInfo.
type CallInfo = check.CallInfo

// DeriveInfo is an alias for check.DeriveInfo.
type DeriveInfo = check.DeriveInfo

// DeriveKind is an alias for check.DeriveKind.
type DeriveKind = check.DeriveKind

// Derivation kinds.
const (
	DeriveCast   = check.DeriveCast
	DeriveMember = check.DeriveMember
	DeriveIndex  = check.DeriveIndex
	DeriveDeref  = check.DeriveDeref
)

// BindInfo is an alias for check.BindInfo.
type BindInfo = check.BindInfo

// AccessInfo is an alias for check.AccessInfo.
type AccessInfo = check.AccessInfo

// ExplainRequest is an alias for explain.Request. A report carries these;
// the host resolves each into a note with Checker.ExplainStep while walking
// the reported path.
type ExplainRequest = explain.Request

// New creates a Checker. A nil config selects the default policies.
func New(cfg *Config, opts ...Option) (*Checker, error) {
	return check.New(cfg, opts...)
}

// WithLogger routes the checker's diagnostics through l.
func WithLogger(l log.Logger) Option {
	return check.WithLogger(l)
}

// NoArg returns an ArgRef carrying no value.
func NoArg() ArgRef {
	return check.NoArg()
}

// =============================================================================
// Re-exports from config package
// =============================================================================

// Config is an alias for config.Config.
type Config = config.Config

// DefaultConfig returns the built-in policy set.
func DefaultConfig() *Config {
	return config.Default()
}

// LoadConfig reads a policy file, layered over the defaults.
func LoadConfig(file string) (*Config, error) {
	return config.Load(file)
}

// =============================================================================
// Re-exports from state and memory packages
// =============================================================================

// State is an alias for state.State.
type State = state.State

// NewState returns the empty abstract state.
func NewState() *State {
	return state.New()
}

// Table is an alias for memory.Table.
type Table = memory.Table

// SymbolID is an alias for memory.SymbolID.
type SymbolID = memory.SymbolID

// RegionID is an alias for memory.RegionID.
type RegionID = memory.RegionID

// NoSymbol is the absent symbol.
const NoSymbol = memory.NoSymbol

// NoRegion is the absent region.
const NoRegion = memory.NoRegion

// =============================================================================
// Re-exports from decl package
// =============================================================================

// Func is an alias for decl.Func.
type Func = decl.Func

// Param is an alias for decl.Param.
type Param = decl.Param

// Var is an alias for decl.Var.
type Var = decl.Var

// TypeName is an alias for decl.TypeName.
type TypeName = decl.TypeName
