package hostsim

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/rootvet/rootvet/internal/annot"
	"github.com/rootvet/rootvet/internal/check"
	"github.com/rootvet/rootvet/internal/decl"
	"github.com/rootvet/rootvet/internal/explain"
	"github.com/rootvet/rootvet/internal/memory"
	"github.com/rootvet/rootvet/internal/state"
)

// Finding is one deduplicated report: where it fired, what it said, and the
// path notes explaining how the state got there.
type Finding struct {
	Span    check.Span
	Kind    check.ReportKind
	Message string
	Notes   []string
	Trace   []string
}

// Runner drives the checker over every function a script defines, exploring
// both arms of every branch. Defined callees are inlined up to a nesting
// limit; everything else is treated as an opaque call.
type Runner struct {
	checker  *check.Checker
	script   *Script
	defs     map[string]*FuncDef
	maxDepth int
	findings []Finding
	seen     map[findingKey]struct{}
	frameSeq int32
}

type findingKey struct {
	file string
	line int
	msg  string
}

// NewRunner pairs a checker with a parsed script.
func NewRunner(c *check.Checker, s *Script) *Runner {
	defs := make(map[string]*FuncDef, len(s.Funcs))
	for _, fd := range s.Funcs {
		defs[fd.Decl.Name] = fd
	}
	return &Runner{
		checker:  c,
		script:   s,
		defs:     defs,
		maxDepth: 5,
		seen:     make(map[findingKey]struct{}),
	}
}

// Run executes every defined function as an entry point and returns the
// findings sorted by location.
func (r *Runner) Run() ([]Finding, error) {
	for _, fd := range r.script.Funcs {
		if err := r.runFunc(fd); err != nil {
			return nil, err
		}
	}
	sort.Slice(r.findings, func(i, j int) bool {
		a, b := r.findings[i], r.findings[j]
		if a.Span.File != b.Span.File {
			return a.Span.File < b.Span.File
		}
		if a.Span.Line != b.Span.Line {
			return a.Span.Line < b.Span.Line
		}
		return a.Message < b.Message
	})
	return r.findings, nil
}

// RunArchive parses a txtar archive and runs it.
func RunArchive(c *check.Checker, data []byte) (*Script, []Finding, error) {
	s, err := ParseArchive(data)
	if err != nil {
		return nil, nil, err
	}
	findings, err := NewRunner(c, s).Run()
	if err != nil {
		return nil, nil, err
	}
	return s, findings, nil
}

// === Path bookkeeping ===

type step struct {
	prev *state.State
	next *state.State
	span check.Span

	// from resolves the parent expression for steps that derived their
	// result from one; NoArg elsewhere.
	from check.ArgRef
}

type frame struct {
	def     *FuncDef
	height  state.Height
	frameID int32
	syms    map[string]memory.SymbolID
}

type path struct {
	st       *state.State
	frames   []*frame
	heap     map[memory.RegionID]memory.SymbolID
	hist     []step
	dead     bool
	returned bool
	hasRet   bool
	ret      check.ArgRef
	retSpan  check.Span
}

func (p *path) top() *frame { return p.frames[len(p.frames)-1] }

func (p *path) clone() *path {
	q := &path{
		st:       p.st,
		frames:   make([]*frame, len(p.frames)),
		heap:     make(map[memory.RegionID]memory.SymbolID, len(p.heap)),
		hist:     append([]step(nil), p.hist...),
		dead:     p.dead,
		returned: p.returned,
		hasRet:   p.hasRet,
		ret:      p.ret,
		retSpan:  p.retSpan,
	}
	for i, f := range p.frames {
		nf := *f
		nf.syms = make(map[string]memory.SymbolID, len(f.syms))
		for k, v := range f.syms {
			nf.syms[k] = v
		}
		q.frames[i] = &nf
	}
	for k, v := range p.heap {
		q.heap[k] = v
	}
	return q
}

// apply advances the path through one transition, recording the step for
// later explanation and turning reports into findings. A fatal report kills
// the path.
func (r *Runner) apply(p *path, tr check.Transition, span check.Span) check.Transition {
	return r.applyFrom(p, tr, span, check.NoArg())
}

// applyFrom is apply for steps that derive their result from a parent
// expression; the parent reference stays with the step so replay can explain
// a root that failed to propagate.
func (r *Runner) applyFrom(p *path, tr check.Transition, span check.Span, from check.ArgRef) check.Transition {
	p.hist = append(p.hist, step{prev: p.st, next: tr.Next, span: span, from: from})
	for _, rpt := range tr.Reports {
		r.record(p, rpt)
		if rpt.FatalForPath {
			p.dead = true
		}
	}
	p.st = tr.Next
	return tr
}

func (r *Runner) record(p *path, rpt check.Report) {
	key := findingKey{file: rpt.Span.File, line: rpt.Span.Line, msg: rpt.Message}
	if _, ok := r.seen[key]; ok {
		return
	}
	r.seen[key] = struct{}{}
	f := Finding{Span: rpt.Span, Kind: rpt.Kind, Message: rpt.Message, Notes: rpt.Notes}
	f.Trace = r.replay(p, rpt.Explain)
	r.findings = append(r.findings, f)
}

// replay resolves explain requests against the recorded path. A request may
// spawn a follow-up tracking a parent value, which narrates only the steps
// before the one that spawned it. Notes come back in path order.
func (r *Runner) replay(p *path, reqs []explain.Request) []string {
	type job struct {
		req   explain.Request
		limit int
	}
	queue := make([]job, 0, len(reqs))
	for _, req := range reqs {
		queue = append(queue, job{req: req, limit: len(p.hist)})
	}
	type entry struct {
		idx  int
		text string
	}
	var entries []entry
	done := make(map[explain.Request]int, len(queue))
	for len(queue) > 0 {
		jb := queue[0]
		queue = queue[1:]
		start := 0
		if prev, ok := done[jb.req]; ok {
			if prev >= jb.limit {
				continue
			}
			start = prev
		}
		done[jb.req] = jb.limit
		for i := start; i < jb.limit; i++ {
			st := p.hist[i]
			if hasParent(st.from) {
				notes, follow, ok := r.checker.ExplainStepFrom(jb.req, st.prev, st.next, st.from)
				if !ok {
					continue
				}
				for _, n := range notes {
					entries = append(entries, entry{idx: i, text: st.span.String() + ": " + n})
				}
				if follow.Kind != explain.NoRequest {
					queue = append(queue, job{req: follow, limit: i})
				}
			} else if note, ok := r.checker.ExplainStep(jb.req, st.prev, st.next); ok {
				entries = append(entries, entry{idx: i, text: st.span.String() + ": " + note})
			}
		}
	}
	if len(entries) == 0 {
		return nil
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].idx < entries[j].idx })
	trace := make([]string, len(entries))
	for i, en := range entries {
		trace[i] = en.text
	}
	return trace
}

// hasParent reports whether a step recorded a parent reference.
func hasParent(a check.ArgRef) bool {
	return a.Sym != memory.NoSymbol || a.Region != memory.NoRegion || a.Held != memory.NoSymbol
}

// === Frames ===

func (r *Runner) runFunc(fd *FuncDef) error {
	p := &path{
		st:   state.New(),
		heap: make(map[memory.RegionID]memory.SymbolID),
		ret:  check.NoArg(),
	}
	r.enterFrame(p, fd, 0, nil)
	paths, err := r.execBlock([]*path{p}, fd.Body)
	if err != nil {
		return err
	}
	for _, q := range paths {
		if q.dead {
			continue
		}
		r.endFrame(q, true)
	}
	return nil
}

// enterFrame pushes a frame and fires the begin-function hook. callerArgs is
// nil for entry frames, whose parameters then hold their initial-value
// symbols.
func (r *Runner) enterFrame(p *path, fd *FuncDef, height state.Height, callerArgs []check.ArgRef) {
	tbl := r.checker.Memory()
	f := &frame{def: fd, height: height, frameID: r.frameSeq, syms: make(map[string]memory.SymbolID)}
	r.frameSeq++
	params := make([]check.ArgRef, len(fd.Decl.Params))
	for i := range fd.Decl.Params {
		pr := &fd.Decl.Params[i]
		v := fd.Vars[pr.Name]
		region := tbl.VarRegion(v, f.frameID)
		sym := memory.NoSymbol
		if callerArgs == nil {
			sym = tbl.ValueSymbol(region)
		} else if i < len(callerArgs) {
			sym = callerArgs[i].Sym
		}
		f.syms[pr.Name] = sym
		params[i] = check.ArgRef{Sym: sym, Region: region, Held: memory.NoSymbol, Type: pr.Type}
	}
	for name, v := range fd.Vars {
		if v.Param < 0 {
			f.syms[name] = memory.NoSymbol
		}
	}
	p.frames = append(p.frames, f)
	fi := check.FrameInfo{
		Fn:         fd.Decl,
		Top:        callerArgs == nil,
		Height:     height,
		Params:     params,
		CallerArgs: callerArgs,
		Span:       fd.Start,
	}
	r.apply(p, r.checker.BeginFunction(fi, p.st), fd.Start)
}

func (r *Runner) endFrame(p *path, top bool) {
	f := p.top()
	span := f.def.End
	if p.returned {
		span = p.retSpan
	}
	ri := check.ReturnInfo{
		Fn:     f.def.Decl,
		Top:    top,
		Height: f.height,
		HasRet: p.hasRet,
		Ret:    p.ret,
		Span:   span,
	}
	r.apply(p, r.checker.EndFunction(ri, p.st), span)
	p.frames = p.frames[:len(p.frames)-1]
}

// === Statement execution ===

func (r *Runner) execBlock(paths []*path, stmts []Stmt) ([]*path, error) {
	for i := range stmts {
		var next []*path
		for _, p := range paths {
			if p.dead || p.returned {
				next = append(next, p)
				continue
			}
			out, err := r.execStmt(p, &stmts[i])
			if err != nil {
				return nil, err
			}
			next = append(next, out...)
		}
		paths = next
	}
	return paths, nil
}

func (r *Runner) execStmt(p *path, s *Stmt) ([]*path, error) {
	switch s.Op {
	case OpLocal:
		return []*path{p}, nil
	case OpIf:
		q := p.clone()
		thenPaths, err := r.execBlock([]*path{p}, s.Then)
		if err != nil {
			return nil, err
		}
		elsePaths, err := r.execBlock([]*path{q}, s.Else)
		if err != nil {
			return nil, err
		}
		return append(thenPaths, elsePaths...), nil
	case OpReturn:
		if s.Src != "" {
			ref, err := r.readVar(p, s.Src, s.Span)
			if err != nil {
				return nil, err
			}
			p.ret = ref
			p.hasRet = true
		}
		p.returned = true
		p.retSpan = s.Span
		return []*path{p}, nil
	case OpUse:
		return r.execUse(p, s)
	case OpAssign:
		ref := check.NoArg()
		if s.Src != "" {
			var err error
			ref, err = r.readVar(p, s.Src, s.Span)
			if err != nil {
				return nil, err
			}
			if p.dead {
				return []*path{p}, nil
			}
		}
		return r.storeToVar(p, s.Dst, ref, s.Span)
	case OpLoadField, OpLoadIndex, OpDeref:
		return r.execLoad(p, s)
	case OpCast:
		return r.execCast(p, s)
	case OpStoreField, OpStoreIndex:
		return r.execStore(p, s)
	case OpCall:
		return r.execCall(p, s)
	}
	return nil, errors.Errorf("%s: unhandled statement", s.Span)
}

// === Variable plumbing ===

// resolveVar finds a name in the current frame, falling back to globals.
func (r *Runner) resolveVar(p *path, name string, span check.Span) (*decl.Var, *frame, error) {
	f := p.top()
	if v, ok := f.def.Vars[name]; ok {
		return v, f, nil
	}
	if v, ok := r.script.Globals[name]; ok {
		return v, nil, nil
	}
	return nil, nil, errors.Errorf("%s: unknown variable %s", span, name)
}

func (r *Runner) varRegion(f *frame, v *decl.Var) memory.RegionID {
	if v.Global {
		return r.checker.Memory().VarRegion(v, 0)
	}
	return r.checker.Memory().VarRegion(v, f.frameID)
}

// valueAt returns the symbol a variable currently holds.
func (r *Runner) valueAt(p *path, f *frame, v *decl.Var) memory.SymbolID {
	if v.Global {
		region := r.checker.Memory().VarRegion(v, 0)
		if sym, ok := p.heap[region]; ok {
			return sym
		}
		return r.checker.Memory().ValueSymbol(region)
	}
	return f.syms[v.Name]
}

// heapAt resolves the symbol stored at a region, defaulting to the region's
// initial-value symbol for pointer-typed storage.
func (r *Runner) heapAt(p *path, region memory.RegionID, t decl.TypeName) memory.SymbolID {
	if sym, ok := p.heap[region]; ok {
		return sym
	}
	if !t.IsPointer() {
		return memory.NoSymbol
	}
	return r.checker.Memory().ValueSymbol(region)
}

// readVar models an rvalue read of a variable, firing the access hook. The
// returned reference carries the value's pointee region when a symbol is
// held, and the variable's own region otherwise.
func (r *Runner) readVar(p *path, name string, span check.Span) (check.ArgRef, error) {
	v, f, err := r.resolveVar(p, name, span)
	if err != nil {
		return check.ArgRef{}, err
	}
	region := r.varRegion(f, v)
	sym := r.valueAt(p, f, v)
	r.apply(p, r.checker.Access(check.AccessInfo{Region: region, Sym: sym, IsLoad: true, Span: span}, p.st), span)
	ref := check.ArgRef{Sym: sym, Region: region, Held: memory.NoSymbol, Type: v.Type}
	if sym != memory.NoSymbol {
		ref.Region = r.checker.Memory().SymbolicRegion(sym)
	}
	return ref, nil
}

// addrRef models &name without reading the variable.
func (r *Runner) addrRef(p *path, name string, span check.Span) (check.ArgRef, error) {
	v, f, err := r.resolveVar(p, name, span)
	if err != nil {
		return check.ArgRef{}, err
	}
	return check.ArgRef{
		Sym:    memory.NoSymbol,
		Region: r.varRegion(f, v),
		Held:   r.valueAt(p, f, v),
		Type:   decl.TypeName(string(v.Type) + " *"),
	}, nil
}

// storeToVar models an assignment into a named variable: the store access,
// the bind, then the environment update.
func (r *Runner) storeToVar(p *path, name string, ref check.ArgRef, span check.Span) ([]*path, error) {
	if name == "" {
		return []*path{p}, nil
	}
	v, f, err := r.resolveVar(p, name, span)
	if err != nil {
		return nil, err
	}
	region := r.varRegion(f, v)
	r.apply(p, r.checker.Access(check.AccessInfo{Region: region, Sym: r.valueAt(p, f, v), IsLoad: false, Span: span}, p.st), span)
	if p.dead {
		return []*path{p}, nil
	}
	r.apply(p, r.checker.Bind(check.BindInfo{Region: region, Value: ref, Span: span}, p.st), span)
	if v.Global {
		p.heap[region] = ref.Sym
	} else {
		f.syms[name] = ref.Sym
	}
	return []*path{p}, nil
}

// === Loads, casts, stores ===

func (r *Runner) fieldType(base decl.TypeName, field string, span check.Span) (decl.TypeName, error) {
	if fields, ok := r.script.Fields[base.Base()]; ok {
		if t, ok := fields[field]; ok {
			return t, nil
		}
	}
	return "", errors.Errorf("%s: unknown field %s.%s", span, base.Base(), field)
}

func (r *Runner) execLoad(p *path, s *Stmt) ([]*path, error) {
	tbl := r.checker.Memory()
	src, err := r.readVar(p, s.Src, s.Span)
	if err != nil {
		return nil, err
	}
	if p.dead {
		return []*path{p}, nil
	}
	srcVar, _, _ := r.resolveVar(p, s.Src, s.Span)
	var loc memory.RegionID
	var resultType decl.TypeName
	var kind check.DeriveKind
	switch s.Op {
	case OpLoadField:
		ft, err := r.fieldType(srcVar.Type, s.Field, s.Span)
		if err != nil {
			return nil, err
		}
		kind = check.DeriveMember
		loc = tbl.FieldRegion(src.Region, s.Field)
		resultType = ft
	case OpLoadIndex:
		kind = check.DeriveIndex
		loc = tbl.ElementRegion(src.Region, s.Index)
		resultType = srcVar.Type.Elem()
	case OpDeref:
		if src.Sym == memory.NoSymbol {
			return r.storeToVar(p, s.Dst, check.NoArg(), s.Span)
		}
		kind = check.DeriveDeref
		loc = tbl.SymbolicRegion(src.Sym)
		resultType = srcVar.Type.Elem()
	}
	held := r.heapAt(p, loc, resultType)
	r.apply(p, r.checker.Access(check.AccessInfo{Region: loc, Sym: held, IsLoad: true, Span: s.Span}, p.st), s.Span)
	if p.dead {
		return []*path{p}, nil
	}
	di := check.DeriveInfo{
		Kind:         kind,
		Result:       held,
		ResultRegion: loc,
		ResultType:   resultType,
		Parent:       src,
		ParentType:   srcVar.Type,
		Span:         s.Span,
	}
	from := check.NoArg()
	if s.Op != OpDeref {
		from = src
	}
	tr := r.applyFrom(p, r.checker.Derive(di, p.st), s.Span, from)
	if p.dead {
		return []*path{p}, nil
	}
	out := held
	if tr.Result != memory.NoSymbol {
		out = tr.Result
	}
	return r.storeToVar(p, s.Dst, check.ArgRef{Sym: out, Region: memory.NoRegion, Held: memory.NoSymbol, Type: resultType}, s.Span)
}

func (r *Runner) execCast(p *path, s *Stmt) ([]*path, error) {
	src, err := r.readVar(p, s.Src, s.Span)
	if err != nil {
		return nil, err
	}
	if p.dead {
		return []*path{p}, nil
	}
	srcVar, _, _ := r.resolveVar(p, s.Src, s.Span)
	di := check.DeriveInfo{
		Kind:         check.DeriveCast,
		Result:       src.Sym,
		ResultRegion: memory.NoRegion,
		ResultType:   s.Type,
		Parent:       src,
		ParentType:   srcVar.Type,
		Span:         s.Span,
	}
	tr := r.apply(p, r.checker.Derive(di, p.st), s.Span)
	if p.dead {
		return []*path{p}, nil
	}
	out := src.Sym
	if tr.Result != memory.NoSymbol {
		out = tr.Result
	}
	return r.storeToVar(p, s.Dst, check.ArgRef{Sym: out, Region: memory.NoRegion, Held: memory.NoSymbol, Type: s.Type}, s.Span)
}

func (r *Runner) execStore(p *path, s *Stmt) ([]*path, error) {
	tbl := r.checker.Memory()
	val := check.NoArg()
	if s.Src != "" {
		var err error
		val, err = r.readVar(p, s.Src, s.Span)
		if err != nil {
			return nil, err
		}
		if p.dead {
			return []*path{p}, nil
		}
	}
	dst, err := r.readVar(p, s.Dst, s.Span)
	if err != nil {
		return nil, err
	}
	if p.dead {
		return []*path{p}, nil
	}
	dstVar, _, _ := r.resolveVar(p, s.Dst, s.Span)
	var loc memory.RegionID
	var slotType decl.TypeName
	if s.Op == OpStoreField {
		ft, err := r.fieldType(dstVar.Type, s.Field, s.Span)
		if err != nil {
			return nil, err
		}
		loc = tbl.FieldRegion(dst.Region, s.Field)
		slotType = ft
	} else {
		loc = tbl.ElementRegion(dst.Region, s.Index)
		slotType = dstVar.Type.Elem()
	}
	r.apply(p, r.checker.Access(check.AccessInfo{Region: loc, Sym: r.heapAt(p, loc, slotType), IsLoad: false, Span: s.Span}, p.st), s.Span)
	if p.dead {
		return []*path{p}, nil
	}
	r.apply(p, r.checker.Bind(check.BindInfo{Region: loc, Value: val, Span: s.Span}, p.st), s.Span)
	p.heap[loc] = val.Sym
	return []*path{p}, nil
}

func (r *Runner) execUse(p *path, s *Stmt) ([]*path, error) {
	src, err := r.readVar(p, s.Src, s.Span)
	if err != nil {
		return nil, err
	}
	if p.dead || src.Sym == memory.NoSymbol {
		return []*path{p}, nil
	}
	tbl := r.checker.Memory()
	loc := tbl.ElementRegion(tbl.SymbolicRegion(src.Sym), 0)
	r.apply(p, r.checker.Access(check.AccessInfo{Region: loc, Sym: memory.NoSymbol, IsLoad: true, Span: s.Span}, p.st), s.Span)
	return []*path{p}, nil
}

// === Calls ===

// propagationSource returns the argument bound to the callee's first
// root-propagating parameter, when it declares one.
func propagationSource(callee *decl.Func, args []check.ArgRef) check.ArgRef {
	if callee == nil {
		return check.NoArg()
	}
	for i := range callee.Params {
		if !annot.Parse(callee.Params[i].Annots).Has(annot.PropagatesRoot) {
			continue
		}
		if i < len(args) {
			return args[i]
		}
		break
	}
	return check.NoArg()
}

func (r *Runner) execCall(p *path, s *Stmt) ([]*path, error) {
	cs := s.Call
	args := make([]check.ArgRef, len(cs.Args))
	for i, a := range cs.Args {
		switch a.Kind {
		case ArgNull:
			args[i] = check.NoArg()
		case ArgLit:
			lit := a.Lit
			ref := check.NoArg()
			ref.Literal = &lit
			args[i] = ref
		case ArgAddr:
			ref, err := r.addrRef(p, a.Name, s.Span)
			if err != nil {
				return nil, err
			}
			args[i] = ref
		case ArgIdent:
			ref, err := r.readVar(p, a.Name, s.Span)
			if err != nil {
				return nil, err
			}
			args[i] = ref
		}
		if p.dead {
			return []*path{p}, nil
		}
	}
	f := p.top()
	callee := r.script.Decls[cs.Name]
	ci := check.CallInfo{
		Name:          cs.Name,
		Callee:        callee,
		Within:        f.def.Decl,
		HasCalleeExpr: true,
		TypedefAnnots: cs.Annots,
		Args:          args,
		Result:        memory.NoSymbol,
		Height:        f.height,
		Span:          s.Span,
	}
	if callee != nil {
		ci.ResultType = callee.Result
	}
	r.apply(p, r.checker.PreCall(ci, p.st), s.Span)
	if p.dead {
		return []*path{p}, nil
	}
	if tr, handled := r.checker.EvalCall(ci, p.st); handled {
		r.apply(p, tr, s.Span)
		if p.dead {
			return []*path{p}, nil
		}
		return r.storeToVar(p, s.Dst, check.NoArg(), s.Span)
	}
	if fd, ok := r.defs[cs.Name]; ok && len(p.frames) < r.maxDepth {
		return r.execInline(p, s, ci, fd)
	}
	if ci.ResultType.IsPointer() {
		ci.Result = r.checker.Memory().Conjure()
	}
	tr := r.applyFrom(p, r.checker.PostCall(ci, p.st), s.Span, propagationSource(callee, args))
	if p.dead {
		return []*path{p}, nil
	}
	out := ci.Result
	if tr.Result != memory.NoSymbol {
		out = tr.Result
	}
	return r.storeToVar(p, s.Dst, check.ArgRef{Sym: out, Region: memory.NoRegion, Held: memory.NoSymbol, Type: ci.ResultType}, s.Span)
}

// execInline models a call to a defined function by running its body in a
// callee frame, then completing the caller's post-call processing on every
// path the body produced.
func (r *Runner) execInline(p *path, s *Stmt, ci check.CallInfo, fd *FuncDef) ([]*path, error) {
	height := p.top().height + 1
	r.enterFrame(p, fd, height, ci.Args)
	if p.dead {
		return []*path{p}, nil
	}
	inner, err := r.execBlock([]*path{p}, fd.Body)
	if err != nil {
		return nil, err
	}
	var out []*path
	for _, q := range inner {
		if q.dead {
			out = append(out, q)
			continue
		}
		r.endFrame(q, false)
		ret := q.ret
		q.ret, q.hasRet, q.returned = check.NoArg(), false, false
		if q.dead {
			out = append(out, q)
			continue
		}
		qci := ci
		qci.Result = ret.Sym
		tr := r.applyFrom(q, r.checker.PostCall(qci, q.st), s.Span, propagationSource(ci.Callee, ci.Args))
		if q.dead {
			out = append(out, q)
			continue
		}
		outSym := ret.Sym
		if tr.Result != memory.NoSymbol {
			outSym = tr.Result
		}
		stored, err := r.storeToVar(q, s.Dst, check.ArgRef{Sym: outSym, Region: memory.NoRegion, Held: memory.NoSymbol, Type: qci.ResultType}, s.Span)
		if err != nil {
			return nil, err
		}
		out = append(out, stored...)
	}
	return out, nil
}
