package check

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rootvet/rootvet/internal/decl"
	"github.com/rootvet/rootvet/internal/lattice"
	"github.com/rootvet/rootvet/internal/memory"
	"github.com/rootvet/rootvet/internal/state"
)

func newTestChecker(t *testing.T) *Checker {
	t.Helper()
	c, err := New(nil)
	require.NoError(t, err)
	return c
}

func testSpan(line int) Span {
	return Span{File: "trace.c", Line: line}
}

func localVar(name string, typ decl.TypeName) *decl.Var {
	return &decl.Var{Name: name, Type: typ, Param: -1}
}

func globalVar(name string, typ decl.TypeName, annots ...string) *decl.Var {
	return &decl.Var{Name: name, Type: typ, Global: true, Annots: annots, Param: -1}
}

// valueArg builds the reference a host reports for an expression holding sym.
func valueArg(c *Checker, sym memory.SymbolID, typ decl.TypeName) ArgRef {
	return ArgRef{Sym: sym, Region: c.Memory().SymbolicRegion(sym), Held: memory.NoSymbol, Type: typ}
}

// addrArg builds the reference for &var with held stored in it.
func addrArg(region memory.RegionID, held memory.SymbolID, typ decl.TypeName) ArgRef {
	return ArgRef{Sym: memory.NoSymbol, Region: region, Held: held, Type: typ}
}

// litArg builds the reference for an integer constant.
func litArg(v int64) ArgRef {
	ref := NoArg()
	ref.Literal = &v
	return ref
}

// freshValue conjures a symbol tracked as allocated.
func freshValue(c *Checker, st *state.State) (memory.SymbolID, *state.State) {
	sym := c.Memory().Conjure()
	return sym, st.WithValue(sym, lattice.Allocated())
}

func requireValue(t *testing.T, st *state.State, sym memory.SymbolID) lattice.ValueState {
	t.Helper()
	vs, ok := st.Value(sym)
	require.True(t, ok, "symbol %d should be tracked", sym)
	return vs
}

func messages(reports []Report) []string {
	out := make([]string, len(reports))
	for i, r := range reports {
		out[i] = r.Message
	}
	return out
}
