package check

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rootvet/rootvet/internal/decl"
	"github.com/rootvet/rootvet/internal/lattice"
	"github.com/rootvet/rootvet/internal/memory"
	"github.com/rootvet/rootvet/internal/state"
)

func intrinsicCall(name string, args ...ArgRef) CallInfo {
	return CallInfo{Name: name, Args: args, Result: memory.NoSymbol, Span: testSpan(5)}
}

func TestEvalCall_OrdinaryCallNotHandled(t *testing.T) {
	c := newTestChecker(t)
	_, handled := c.EvalCall(intrinsicCall("jl_apply"), state.New())
	assert.False(t, handled)
}

func TestEvalCall_PushPopRoundtrip(t *testing.T) {
	c := newTestChecker(t)
	sym, st := freshValue(c, state.New())
	slot := c.Memory().VarRegion(localVar("x", "jl_value_t *"), 1)

	tr, handled := c.EvalCall(intrinsicCall("JL_GC_PUSH1", addrArg(slot, sym, "jl_value_t **")), st)
	require.True(t, handled)
	require.Empty(t, tr.Reports)
	assert.Equal(t, uint32(1), tr.Next.GCDepth())
	rs, ok := tr.Next.Root(slot)
	require.True(t, ok)
	assert.Equal(t, int32(0), rs.Depth())
	assert.False(t, rs.IsArray())
	vs := requireValue(t, tr.Next, sym)
	assert.True(t, vs.RootedByRegion(slot))
	assert.Equal(t, int32(0), vs.Depth())

	tr2, handled := c.EvalCall(intrinsicCall("JL_GC_POP"), tr.Next)
	require.True(t, handled)
	require.Empty(t, tr2.Reports)
	assert.Equal(t, uint32(0), tr2.Next.GCDepth())
	_, ok = tr2.Next.Root(slot)
	assert.False(t, ok, "the slot's registration pops with the frame")
	vs = requireValue(t, tr2.Next, sym)
	assert.True(t, vs.IsAllocated(), "the value loses its root but stays tracked")
	assert.False(t, vs.IsRooted())
}

func TestEvalPop_WithoutPush(t *testing.T) {
	c := newTestChecker(t)
	st := state.New()

	tr, handled := c.EvalCall(intrinsicCall("JL_GC_POP"), st)
	require.True(t, handled)
	require.Len(t, tr.Reports, 1)
	assert.Equal(t, UnbalancedRootFrame, tr.Reports[0].Kind)
	assert.Equal(t, "JL_GC_POP without corresponding push", tr.Reports[0].Message)
	assert.Equal(t, uint32(0), tr.Next.GCDepth())
}

func TestEvalPop_LeavesOuterFrames(t *testing.T) {
	c := newTestChecker(t)
	sym, st := freshValue(c, state.New())
	outer := c.Memory().VarRegion(localVar("a", "jl_value_t *"), 1)
	inner := c.Memory().VarRegion(localVar("b", "jl_value_t *"), 1)

	tr, _ := c.EvalCall(intrinsicCall("JL_GC_PUSH1", addrArg(outer, sym, "jl_value_t **")), st)
	tr, _ = c.EvalCall(intrinsicCall("JL_GC_PUSH1", addrArg(inner, memory.NoSymbol, "jl_value_t **")), tr.Next)
	require.Equal(t, uint32(2), tr.Next.GCDepth())

	tr, _ = c.EvalCall(intrinsicCall("JL_GC_POP"), tr.Next)
	assert.Equal(t, uint32(1), tr.Next.GCDepth())
	_, ok := tr.Next.Root(inner)
	assert.False(t, ok)
	_, ok = tr.Next.Root(outer)
	assert.True(t, ok, "roots of the outer frame survive the pop")
	vs := requireValue(t, tr.Next, sym)
	assert.True(t, vs.RootedByRegion(outer))
}

func TestEvalPush_SeveralSlotsOneFrame(t *testing.T) {
	c := newTestChecker(t)
	a := c.Memory().VarRegion(localVar("a", "jl_value_t *"), 1)
	b := c.Memory().VarRegion(localVar("b", "jl_value_t *"), 1)

	ci := intrinsicCall("JL_GC_PUSH2",
		addrArg(a, memory.NoSymbol, "jl_value_t **"),
		addrArg(b, memory.NoSymbol, "jl_value_t **"))
	tr, handled := c.EvalCall(ci, state.New())
	require.True(t, handled)
	assert.Equal(t, uint32(1), tr.Next.GCDepth(), "the depth grows once for the whole frame")
	for _, region := range []memory.RegionID{a, b} {
		rs, ok := tr.Next.Root(region)
		require.True(t, ok)
		assert.Equal(t, int32(0), rs.Depth())
	}
}

func TestEvalPush_RejectsNonLocal(t *testing.T) {
	c := newTestChecker(t)
	st := state.New()

	tr, handled := c.EvalCall(intrinsicCall("JL_GC_PUSH1", NoArg()), st)
	require.True(t, handled)
	require.Len(t, tr.Reports, 1)
	assert.Equal(t, "JL_GC_PUSH with something other than a local variable", tr.Reports[0].Message)
	assert.Equal(t, uint32(0), tr.Next.GCDepth(), "a rejected push does not open a frame")
}

func TestEvalPush_FreedValueStillPromotes(t *testing.T) {
	c := newTestChecker(t)
	sym := c.Memory().Conjure()
	st := state.New().WithValue(sym, lattice.Freed())
	slot := c.Memory().VarRegion(localVar("x", "jl_value_t *"), 1)

	tr, _ := c.EvalCall(intrinsicCall("JL_GC_PUSH1", addrArg(slot, sym, "jl_value_t **")), st)
	require.Len(t, tr.Reports, 1)
	assert.Equal(t, UseOfPossiblyCollected, tr.Reports[0].Kind)
	assert.Equal(t, "Trying to root value which may have been GCed", tr.Reports[0].Message)
	vs := requireValue(t, tr.Next, sym)
	assert.True(t, vs.RootedByRegion(slot), "rooting proceeds so the path reports each misuse once")
}

func TestEvalPushArgs(t *testing.T) {
	c := newTestChecker(t)
	array := c.Memory().VarRegion(localVar("args", "jl_value_t **"), 1)

	tr, handled := c.EvalCall(intrinsicCall("_JL_GC_PUSHARGS",
		addrArg(array, memory.NoSymbol, "jl_value_t **"), litArg(3)), state.New())
	require.True(t, handled)
	require.Empty(t, tr.Reports)
	assert.Equal(t, uint32(1), tr.Next.GCDepth())
	rs, ok := tr.Next.Root(array)
	require.True(t, ok)
	assert.True(t, rs.IsArray())
	assert.Equal(t, int32(0), rs.Depth())

	t.Run("without a region", func(t *testing.T) {
		tr, _ := c.EvalCall(intrinsicCall("_JL_GC_PUSHARGS", NoArg(), litArg(3)), state.New())
		require.Len(t, tr.Reports, 1)
		assert.Equal(t, "JL_GC_PUSH with something other than an args array", tr.Reports[0].Message)
	})
}

func TestEvalPushList(t *testing.T) {
	c := newTestChecker(t)
	listSym := c.Memory().Conjure()
	ptls := NoArg()

	tr, handled := c.EvalCall(intrinsicCall("jl_gc_push_arraylist",
		ptls, valueArg(c, listSym, "arraylist_t *")), state.New())
	require.True(t, handled)
	assert.Equal(t, uint32(1), tr.Next.GCDepth())

	listRegion := c.Memory().SymbolicRegion(listSym)
	itemsField := c.Memory().FieldRegion(listRegion, "items")
	itemsSym := c.Memory().ValueSymbol(itemsField)
	itemsRegion := c.Memory().SymbolicRegion(itemsSym)
	rs, ok := tr.Next.Root(itemsRegion)
	require.True(t, ok, "the items buffer is the registered root")
	assert.True(t, rs.IsArray())
	assert.Equal(t, int32(1), rs.Depth(), "the buffer pops with the frame that pushed it")

	t.Run("pop sweeps the buffer root", func(t *testing.T) {
		popped, handled := c.EvalCall(intrinsicCall("JL_GC_POP"), tr.Next)
		require.True(t, handled)
		require.Empty(t, popped.Reports)
		assert.Equal(t, uint32(0), popped.Next.GCDepth())
		_, ok := popped.Next.Root(itemsRegion)
		assert.False(t, ok)
	})

	t.Run("unknown list value", func(t *testing.T) {
		tr, handled := c.EvalCall(intrinsicCall("jl_gc_push_arraylist", ptls, NoArg()), state.New())
		require.True(t, handled)
		assert.Empty(t, tr.Reports)
		assert.Equal(t, uint32(1), tr.Next.GCDepth(), "the frame still opens")
	})
}

func TestEvalPromise(t *testing.T) {
	c := newTestChecker(t)
	sym, st := freshValue(c, state.New())

	tr, handled := c.EvalCall(intrinsicCall("JL_GC_PROMISE_ROOTED", valueArg(c, sym, "jl_value_t *")), st)
	require.True(t, handled)
	require.Empty(t, tr.Reports)
	vs := requireValue(t, tr.Next, sym)
	assert.True(t, vs.IsGloballyRooted())

	t.Run("opaque argument", func(t *testing.T) {
		tr, handled := c.EvalCall(intrinsicCall("JL_GC_PROMISE_ROOTED", NoArg()), st)
		require.True(t, handled)
		require.Len(t, tr.Reports, 1)
		assert.Equal(t, CheckerInternalInconsistency, tr.Reports[0].Kind)
		assert.Equal(t, "Can not understand this promise.", tr.Reports[0].Message)
	})
}

func TestEvalPreserve(t *testing.T) {
	c := newTestChecker(t)
	sym, st := freshValue(c, state.New())
	ctx := NoArg()

	tr, handled := c.EvalCall(intrinsicCall("jl_ast_preserve", ctx, valueArg(c, sym, "jl_value_t *")), st)
	require.True(t, handled)
	vs := requireValue(t, tr.Next, sym)
	assert.True(t, vs.IsGloballyRooted())

	t.Run("opaque argument", func(t *testing.T) {
		tr, handled := c.EvalCall(intrinsicCall("jl_ast_preserve", ctx, NoArg()), st)
		require.True(t, handled)
		assert.Empty(t, tr.Reports)
		assert.True(t, tr.Next.Equal(st))
	})
}

func TestEvalGCEnable(t *testing.T) {
	c := newTestChecker(t)

	t.Run("disable", func(t *testing.T) {
		tr, handled := c.EvalCall(intrinsicCall("jl_gc_enable", litArg(0)), state.New())
		require.True(t, handled)
		assert.False(t, tr.Next.GCEnabled())
		require.NotNil(t, tr.ResultBool)
		assert.True(t, *tr.ResultBool, "the call reports the prior mode")
	})

	t.Run("re-enable", func(t *testing.T) {
		st := state.New().WithGCDisabledAt(state.OuterHeight)
		tr, handled := c.EvalCall(intrinsicCall("ijl_gc_enable", litArg(1)), st)
		require.True(t, handled)
		assert.True(t, tr.Next.GCEnabled())
		require.NotNil(t, tr.ResultBool)
		assert.False(t, *tr.ResultBool)
	})

	t.Run("unknown argument resumes collection", func(t *testing.T) {
		st := state.New().WithGCDisabledAt(state.OuterHeight)
		tr, _ := c.EvalCall(intrinsicCall("jl_gc_enable", NoArg()), st)
		assert.True(t, tr.Next.GCEnabled())
	})
}

func TestEvalCall_LockClosesSafepointRegion(t *testing.T) {
	c := newTestChecker(t)

	ci := intrinsicCall("uv_mutex_lock", NoArg())
	ci.Height = 2
	tr, handled := c.EvalCall(ci, state.New())
	require.True(t, handled)
	assert.False(t, tr.Next.SafepointsEnabled())
	assert.Equal(t, state.Height(2), tr.Next.SafepointDisabledAt())

	t.Run("nested acquisition stays with the pipeline", func(t *testing.T) {
		_, handled := c.EvalCall(ci, tr.Next)
		assert.False(t, handled, "only the outermost lock owns the region")
	})
}

func TestEvalCall_NotSafepointEnterAnnotation(t *testing.T) {
	c := newTestChecker(t)
	callee := &decl.Func{Name: "jl_enter_critical", Annots: []string{"julia_notsafepoint_enter"}}

	ci := intrinsicCall("jl_enter_critical", NoArg())
	ci.Callee = callee
	ci.Height = 1
	tr, handled := c.EvalCall(ci, state.New())
	require.True(t, handled)
	assert.Equal(t, state.Height(1), tr.Next.SafepointDisabledAt())
}
