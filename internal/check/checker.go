// Package check implements the rooting and safepoint rules: the hooks the
// host engine fires during path exploration, the rules that move value
// classifications around on each event, and the findings those rules emit.
//
// ┌────────────────────────────────────────────────────────────┐
// │                        host engine                         │
// │   (path exploration, stores, symbols: not owned here)      │
// └──────┬─────────────────────────────────────────────────────┘
//        │ BeginFunction / EndFunction / PreCall / PostCall
//        │ EvalCall / Derive / Bind / Access
// ┌──────▼─────────────────────────────────────────────────────┐
// │                         Checker                            │
// │  annot.Resolver ── safepoint.Classifier ── config.Config   │
// │  memory.Table (identities) ── explain.Explainer (notes)    │
// └──────┬─────────────────────────────────────────────────────┘
//        │ Transition{Next *state.State, Reports, Result}
//        ▼
//
// Every hook is a deterministic function of its event and the incoming state.
// The checker owns no goroutines, performs no I/O on hook paths, and never
// mutates a state it was handed.
package check

import (
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/rootvet/rootvet/internal/annot"
	"github.com/rootvet/rootvet/internal/config"
	"github.com/rootvet/rootvet/internal/decl"
	"github.com/rootvet/rootvet/internal/explain"
	"github.com/rootvet/rootvet/internal/lattice"
	"github.com/rootvet/rootvet/internal/memory"
	"github.com/rootvet/rootvet/internal/safepoint"
	"github.com/rootvet/rootvet/internal/state"
)

// Checker applies the rooting and safepoint rules. Construct with New; one
// Checker serves one analysis and is not safe for concurrent use, matching
// the host's single-threaded exploration.
type Checker struct {
	cfg        *config.Config
	table      *memory.Table
	annots     *annot.Resolver
	safepoints *safepoint.Classifier
	explainer  *explain.Explainer
	logger     log.Logger
}

// Option configures a Checker.
type Option func(*Checker)

// WithLogger routes the checker's debug logging. The default discards it.
func WithLogger(l log.Logger) Option {
	return func(c *Checker) { c.logger = l }
}

// New returns a Checker over cfg.
func New(cfg *config.Config, opts ...Option) (*Checker, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "check: config")
	}
	annots, err := annot.NewResolver(cfg.Caches.Annotations)
	if err != nil {
		return nil, err
	}
	safepoints, err := safepoint.NewClassifier(&cfg.Safepoints, annots, cfg.Caches.Classifications)
	if err != nil {
		return nil, err
	}
	c := &Checker{
		cfg:        cfg,
		table:      memory.NewTable(),
		annots:     annots,
		safepoints: safepoints,
		explainer:  explain.NewExplainer(&cfg.Types, annots, safepoints),
		logger:     log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Memory returns the identity table the host interns regions and symbols
// through. All events passed to the hooks must use identities from this
// table.
func (c *Checker) Memory() *memory.Table { return c.table }

// Config returns the active configuration.
func (c *Checker) Config() *config.Config { return c.cfg }

// ExplainStep computes the explanatory note req yields for the path step from
// prev to next, if any. Hosts replay a recorded path through this to build
// the causal chain attached to a finding.
func (c *Checker) ExplainStep(req explain.Request, prev, next *state.State) (string, bool) {
	return c.explainer.Note(req, prev, next)
}

// ExplainStepFrom is ExplainStep for steps whose result was derived from a
// parent expression, which from resolves. When the step produced a rootless
// value the notes say why the parent's root did not propagate; a returned
// request other than the zero one asks the host to narrate that parent over
// the part of the path before the step.
func (c *Checker) ExplainStepFrom(req explain.Request, prev, next *state.State, from ArgRef) ([]string, explain.Request, bool) {
	return c.explainer.NoteAt(req, prev, next, c.table, explain.Origin{
		Region: c.argRegion(from),
		Held:   from.Held,
	})
}

// tracked reports whether values of t are collector-managed.
func (c *Checker) tracked(t decl.TypeName) bool {
	return c.cfg.Types.Tracked(t)
}

// forArgument classifies a parameter's value at function entry: exempt
// parameters of non-safepoint functions and maybe-unrooted parameters start
// allocated with provenance, everything else is trusted as pre-rooted by the
// caller's contract.
func (c *Checker) forArgument(fn *decl.Func, idx int) lattice.ValueState {
	if !c.safepoints.FuncIsSafepoint(fn) || c.annots.Param(fn, idx).Has(annot.MaybeUnrooted) {
		return lattice.AllocatedFromArg(fn, int32(idx))
	}
	return lattice.GloballyRooted()
}

// argRegion resolves the region an argument denotes, falling back to the
// symbolic region of its value.
func (c *Checker) argRegion(arg ArgRef) memory.RegionID {
	if arg.Region != memory.NoRegion {
		return arg.Region
	}
	if arg.Sym != memory.NoSymbol {
		return c.table.SymbolicRegion(arg.Sym)
	}
	return memory.NoRegion
}

// valueStateForRegion walks region's derivation chain and returns the first
// rooted ancestor's state.
func (c *Checker) valueStateForRegion(st *state.State, region memory.RegionID) (lattice.ValueState, bool) {
	sym := c.table.WalkToRoot(func(s memory.SymbolID) bool {
		vs, ok := st.Value(s)
		return ok && vs.IsRooted()
	}, region)
	if sym == memory.NoSymbol {
		return lattice.ValueState{}, false
	}
	return st.Value(sym)
}

func (c *Checker) debugReport(r Report) {
	level.Debug(c.logger).Log(
		"msg", "finding",
		"kind", r.Kind,
		"span", r.Span,
		"detail", r.Message,
	)
}
