package hostsim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rootvet/rootvet/internal/decl"
)

func TestParse_Declarations(t *testing.T) {
	src := `
decl jl_apply(args: jl_value_t **, n: int): jl_value_t *
decl jl_error(msg: char *) noreturn
decl uv_write(req: uv_write_t *) file=uv.h system
decl jl_safe_printf(fmt: char * @julia_maybe_unrooted): void variadic
decl dump(): void ns=llvm builtin trivial
global jl_true: jl_value_t * @julia_globally_rooted
global jl_n_threads: int
field jl_expr_t.args: jl_array_t *
field jl_expr_t.head: jl_sym_t *
`
	s, err := Parse("decls.txt", src)
	require.NoError(t, err)

	apply := s.Decls["jl_apply"]
	require.NotNil(t, apply)
	require.Len(t, apply.Params, 2)
	assert.Equal(t, decl.TypeName("jl_value_t **"), apply.Params[0].Type)
	assert.Equal(t, "n", apply.Params[1].Name)
	assert.Equal(t, decl.TypeName("jl_value_t *"), apply.Result)

	assert.True(t, s.Decls["jl_error"].NoReturn)

	uv := s.Decls["uv_write"]
	assert.Equal(t, "uv.h", uv.File)
	assert.True(t, uv.SystemHeader)

	printf := s.Decls["jl_safe_printf"]
	assert.True(t, printf.Variadic)
	assert.Equal(t, []string{"julia_maybe_unrooted"}, printf.Params[0].Annots)
	assert.Equal(t, decl.TypeName("void"), printf.Result)

	dump := s.Decls["dump"]
	assert.Equal(t, "llvm", dump.Namespace)
	assert.True(t, dump.Builtin)
	assert.True(t, dump.Trivial)

	gv := s.Globals["jl_true"]
	require.NotNil(t, gv)
	assert.True(t, gv.Global)
	assert.Equal(t, []string{"julia_globally_rooted"}, gv.Annots)
	assert.Equal(t, decl.TypeName("int"), s.Globals["jl_n_threads"].Type)

	require.Contains(t, s.Fields, "jl_expr_t")
	assert.Equal(t, decl.TypeName("jl_array_t *"), s.Fields["jl_expr_t"]["args"])
	assert.Equal(t, decl.TypeName("jl_sym_t *"), s.Fields["jl_expr_t"]["head"])
}

func TestParse_FunctionBody(t *testing.T) {
	src := `field jl_expr_t.args: jl_array_t *
func wrap(v: jl_value_t *): jl_value_t * @julia_not_safepoint {
	local e: jl_expr_t *
	local tmp: jl_value_t *
	e = cast jl_expr_t * v
	tmp = e.args
	tmp = *v
	tmp = v[3]
	tmp = v
	tmp = null
	e.args = tmp
	v[0] = tmp
	call jl_apply(&tmp, 1, null)
	tmp = icall (v) @julia_not_safepoint
	use tmp
	if {
		return tmp
	} else {
		return
	}
}
`
	s, err := Parse("body.txt", src)
	require.NoError(t, err)
	require.Len(t, s.Funcs, 1)
	fd := s.Funcs[0]

	assert.Equal(t, "wrap", fd.Decl.Name)
	assert.Equal(t, []string{"julia_not_safepoint"}, fd.Decl.Annots)
	assert.Equal(t, decl.TypeName("jl_value_t *"), fd.Decl.Result)
	assert.Equal(t, 2, fd.Start.Line)
	assert.NotNil(t, s.Decls["wrap"], "definitions register their declaration")

	v := fd.Vars["v"]
	require.NotNil(t, v)
	assert.Equal(t, 0, v.Param)
	assert.Same(t, fd.Decl, v.Owner)
	e := fd.Vars["e"]
	require.NotNil(t, e)
	assert.Equal(t, -1, e.Param)

	ops := make([]Op, len(fd.Body))
	for i, st := range fd.Body {
		ops[i] = st.Op
	}
	assert.Equal(t, []Op{
		OpLocal, OpLocal,
		OpCast, OpLoadField, OpDeref, OpLoadIndex, OpAssign, OpAssign,
		OpStoreField, OpStoreIndex,
		OpCall, OpCall, OpUse, OpIf,
	}, ops)

	cast := fd.Body[2]
	assert.Equal(t, decl.TypeName("jl_expr_t *"), cast.Type)
	assert.Equal(t, "v", cast.Src)

	idx := fd.Body[5]
	assert.Equal(t, int64(3), idx.Index)

	null := fd.Body[7]
	assert.Equal(t, "", null.Src)

	storeIdx := fd.Body[9]
	assert.Equal(t, "v", storeIdx.Dst)
	assert.Equal(t, int64(0), storeIdx.Index)
	assert.Equal(t, "tmp", storeIdx.Src)

	callStmt := fd.Body[10]
	require.NotNil(t, callStmt.Call)
	assert.Equal(t, "jl_apply", callStmt.Call.Name)
	require.Len(t, callStmt.Call.Args, 3)
	assert.Equal(t, ArgAddr, callStmt.Call.Args[0].Kind)
	assert.Equal(t, "tmp", callStmt.Call.Args[0].Name)
	assert.Equal(t, ArgLit, callStmt.Call.Args[1].Kind)
	assert.Equal(t, int64(1), callStmt.Call.Args[1].Lit)
	assert.Equal(t, ArgNull, callStmt.Call.Args[2].Kind)

	icallStmt := fd.Body[11]
	assert.True(t, icallStmt.Call.Indirect)
	assert.Equal(t, "tmp", icallStmt.Dst)
	assert.Equal(t, []string{"julia_not_safepoint"}, icallStmt.Call.Annots)
	require.Len(t, icallStmt.Call.Args, 1)
	assert.Equal(t, ArgIdent, icallStmt.Call.Args[0].Kind)

	branch := fd.Body[13]
	require.Len(t, branch.Then, 1)
	assert.Equal(t, OpReturn, branch.Then[0].Op)
	assert.Equal(t, "tmp", branch.Then[0].Src)
	require.Len(t, branch.Else, 1)
	assert.Equal(t, "", branch.Else[0].Src)
}

func TestParse_Wants(t *testing.T) {
	src := `decl jl_apply(v: jl_value_t *): jl_value_t *
func f(v: jl_value_t *) {
	call jl_apply(v) // want "non-rooted" "may GC"
	use v
}
`
	s, err := Parse("wants.txt", src)
	require.NoError(t, err)
	require.Len(t, s.Wants, 2)
	assert.Equal(t, 3, s.Wants[0].Span.Line)
	assert.Equal(t, "wants.txt", s.Wants[0].Span.File)
	assert.True(t, s.Wants[0].Pattern.MatchString("Passing non-rooted value"))
	assert.True(t, s.Wants[1].Pattern.MatchString("function that may GC"))

	t.Run("plain comments carry no expectations", func(t *testing.T) {
		s, err := Parse("c.txt", "# intro\ndecl f(): void // trailing note\n")
		require.NoError(t, err)
		assert.Empty(t, s.Wants)
		assert.Contains(t, s.Decls, "f")
	})
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"unknown directive", "frobnicate x\n", "unrecognized directive"},
		{"malformed signature", "decl jl_apply\n", "malformed signature"},
		{"unnamed signature", "decl (v: int): void\n", "signature needs a name"},
		{"parameter without type", "decl f(v): void\n", "needs a type"},
		{"unknown signature attribute", "decl f() bogus\n", `unrecognized attribute "bogus"`},
		{"global without type", "global jl_true\n", "global needs a type"},
		{"field without owner", "field args: jl_array_t *\n", "field name must be TYPE.NAME"},
		{"local without type", "func f() {\nlocal x\n}\n", "local needs a type"},
		{"duplicate variable", "func f(x: int) {\nlocal x: int\n}\n", "duplicate variable x"},
		{"unterminated body", "func f() {\nuse x\n", "unexpected end of file"},
		{"unterminated else", "func f() {\nif {\n} else {\n", "unexpected end of file"},
		{"statement soup", "func f() {\nx y z\n}\n", "unrecognized statement"},
		{"named indirect call", "func f() {\nicall g()\n}\n", "indirect call cannot be named"},
		{"anonymous direct call", "func f() {\ncall (x)\n}\n", "call needs a function name"},
		{"malformed call", "func f() {\ncall g\n}\n", "malformed call"},
		{"unknown call attribute", "func f() {\ncall g() later\n}\n", "unrecognized call attribute"},
		{"non-integer subscript", "func f() {\nx = y[z]\n}\n", "subscript index"},
		{"cast without source", "func f() {\nx = cast T\n}\n", "cast needs a type and a source"},
		{"want without pattern", "use x // want\n", "want expectation without a quoted pattern"},
		{"unparseable want pattern", "use x // want \"(\"\n", "want pattern"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("bad.txt", tt.src)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseArchive(t *testing.T) {
	data := []byte(`two related programs sharing a prelude.
-- prelude.txt --
decl jl_apply(v: jl_value_t *): jl_value_t *
global jl_true: jl_value_t * @julia_globally_rooted
-- main.txt --
func f(v: jl_value_t *) {
	call jl_apply(v)
}
`)
	s, err := ParseArchive(data)
	require.NoError(t, err)
	assert.Contains(t, s.Decls, "jl_apply")
	assert.Contains(t, s.Globals, "jl_true")
	require.Len(t, s.Funcs, 1)
	assert.Equal(t, "main.txt", s.Funcs[0].Start.File)

	t.Run("empty archive", func(t *testing.T) {
		_, err := ParseArchive([]byte("no files here\n"))
		require.Error(t, err)
	})
}
