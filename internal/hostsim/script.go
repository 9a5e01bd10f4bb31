// Package hostsim runs the checker over small trace programs written in a
// line-oriented script form. A trace declares the functions, globals, and
// struct fields the program touches, then gives function bodies whose
// statements map one-to-one onto host events: loads, stores, calls,
// derivations. Traces live in txtar archives so one file can carry several
// related programs, and lines carry "// want" expectations the same way
// analysis test sources do.
package hostsim

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/tools/txtar"

	"github.com/rootvet/rootvet/internal/check"
	"github.com/rootvet/rootvet/internal/decl"
)

// Script is a parsed trace: declarations shared by all functions, the
// function bodies to run, and the expectations embedded in the source.
type Script struct {
	Decls   map[string]*decl.Func
	Globals map[string]*decl.Var
	Fields  map[string]map[string]decl.TypeName
	Funcs   []*FuncDef
	Wants   []Want
}

// FuncDef is a function with a body. Its parameters and locals are
// materialized once at parse time so every run shares the same declaration
// identities.
type FuncDef struct {
	Decl  *decl.Func
	Body  []Stmt
	Vars  map[string]*decl.Var
	Start check.Span
	End   check.Span
}

// Want is one "// want" expectation: a pattern that some finding's message
// must match at exactly this location.
type Want struct {
	Span    check.Span
	Pattern *regexp.Regexp
}

// Op selects the statement form.
type Op uint8

const (
	OpLocal Op = iota
	OpAssign
	OpLoadField
	OpLoadIndex
	OpDeref
	OpCast
	OpStoreField
	OpStoreIndex
	OpCall
	OpUse
	OpReturn
	OpIf
)

// Stmt is one executable statement. Which fields are meaningful depends on Op.
type Stmt struct {
	Op    Op
	Dst   string
	Src   string
	Field string
	Index int64
	Type  decl.TypeName
	Call  *CallStmt
	Then  []Stmt
	Else  []Stmt
	Span  check.Span
}

// CallStmt is a call site. Indirect sites have no name and may carry the
// annotations of the function pointer's typedef.
type CallStmt struct {
	Name     string
	Indirect bool
	Annots   []string
	Args     []Arg
}

// ArgKind selects the argument form.
type ArgKind uint8

const (
	ArgIdent ArgKind = iota
	ArgAddr
	ArgLit
	ArgNull
)

// Arg is one call argument: a variable read, an address-of, an integer
// literal, or null.
type Arg struct {
	Kind ArgKind
	Name string
	Lit  int64
}

var (
	wantRE   = regexp.MustCompile(`//\s*want\b(.*)$`)
	quotedRE = regexp.MustCompile(`"(?:[^"\\]|\\.)*"`)
)

// ParseArchive parses every file of a txtar archive into one Script.
func ParseArchive(data []byte) (*Script, error) {
	s := newScript()
	ar := txtar.Parse(data)
	if len(ar.Files) == 0 {
		return nil, errors.New("hostsim: archive has no files")
	}
	for _, f := range ar.Files {
		if err := s.parseFile(f.Name, string(f.Data)); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Parse parses a single trace source under the given file name.
func Parse(name, src string) (*Script, error) {
	s := newScript()
	if err := s.parseFile(name, src); err != nil {
		return nil, err
	}
	return s, nil
}

func newScript() *Script {
	return &Script{
		Decls:   make(map[string]*decl.Func),
		Globals: make(map[string]*decl.Var),
		Fields:  make(map[string]map[string]decl.TypeName),
	}
}

type cursor struct {
	file  string
	lines []string
	i     int
}

func (c *cursor) next() (string, int, bool) {
	if c.i >= len(c.lines) {
		return "", 0, false
	}
	line := c.lines[c.i]
	c.i++
	return line, c.i, true
}

func (s *Script) parseFile(file, src string) error {
	cur := &cursor{file: file, lines: strings.Split(src, "\n")}
	for {
		raw, ln, ok := cur.next()
		if !ok {
			return nil
		}
		span := check.Span{File: file, Line: ln}
		line, err := s.stripComments(raw, span)
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case strings.HasPrefix(line, "decl "):
			fn, err := parseSignature(strings.TrimPrefix(line, "decl "))
			if err != nil {
				return errors.Wrapf(err, "%s", span)
			}
			s.Decls[fn.Name] = fn
		case strings.HasPrefix(line, "global "):
			if err := s.parseGlobal(strings.TrimPrefix(line, "global "), span); err != nil {
				return err
			}
		case strings.HasPrefix(line, "field "):
			if err := s.parseField(strings.TrimPrefix(line, "field "), span); err != nil {
				return err
			}
		case strings.HasPrefix(line, "func "):
			if err := s.parseFunc(strings.TrimPrefix(line, "func "), span, cur); err != nil {
				return err
			}
		default:
			return errors.Errorf("%s: unrecognized directive: %s", span, line)
		}
	}
}

// stripComments removes comment text from a line, recording any want
// expectations it carried.
func (s *Script) stripComments(line string, span check.Span) (string, error) {
	if t := strings.TrimSpace(line); strings.HasPrefix(t, "#") {
		return "", nil
	}
	loc := wantRE.FindStringSubmatchIndex(line)
	if loc == nil {
		if j := strings.Index(line, "//"); j >= 0 {
			return line[:j], nil
		}
		return line, nil
	}
	tail := line[loc[2]:loc[3]]
	quoted := quotedRE.FindAllString(tail, -1)
	if len(quoted) == 0 {
		return "", errors.Errorf("%s: want expectation without a quoted pattern", span)
	}
	for _, q := range quoted {
		pat, err := strconv.Unquote(q)
		if err != nil {
			return "", errors.Wrapf(err, "%s: want pattern", span)
		}
		re, err := regexp.Compile(pat)
		if err != nil {
			return "", errors.Wrapf(err, "%s: want pattern", span)
		}
		s.Wants = append(s.Wants, Want{Span: span, Pattern: re})
	}
	return line[:loc[0]], nil
}

func (s *Script) parseGlobal(text string, span check.Span) error {
	name, rest, ok := strings.Cut(text, ":")
	if !ok {
		return errors.Errorf("%s: global needs a type", span)
	}
	name = strings.TrimSpace(name)
	typ, annots, leftover := splitTypeAndAttrs(strings.Fields(rest))
	if len(leftover) != 0 {
		return errors.Errorf("%s: unrecognized global attribute %q", span, leftover[0])
	}
	s.Globals[name] = &decl.Var{Name: name, Type: typ, Global: true, Annots: annots, Param: -1}
	return nil
}

func (s *Script) parseField(text string, span check.Span) error {
	lhs, rest, ok := strings.Cut(text, ":")
	if !ok {
		return errors.Errorf("%s: field needs a type", span)
	}
	base, field, ok := strings.Cut(strings.TrimSpace(lhs), ".")
	if !ok {
		return errors.Errorf("%s: field name must be TYPE.NAME", span)
	}
	if s.Fields[base] == nil {
		s.Fields[base] = make(map[string]decl.TypeName)
	}
	s.Fields[base][field] = decl.TypeName(strings.TrimSpace(rest))
	return nil
}

func (s *Script) parseFunc(text string, span check.Span, cur *cursor) error {
	text = strings.TrimSpace(text)
	if !strings.HasSuffix(text, "{") {
		return errors.Errorf("%s: func needs an opening brace", span)
	}
	fn, err := parseSignature(strings.TrimSuffix(text, "{"))
	if err != nil {
		return errors.Wrapf(err, "%s", span)
	}
	fd := &FuncDef{Decl: fn, Vars: make(map[string]*decl.Var), Start: span}
	for i := range fn.Params {
		p := &fn.Params[i]
		fd.Vars[p.Name] = &decl.Var{
			Name: p.Name, Type: p.Type, Annots: p.Annots, Owner: fn, Param: i,
		}
	}
	body, term, err := s.parseBlock(cur, fd)
	if err != nil {
		return err
	}
	if term != "}" {
		return errors.Errorf("%s: func %s: unbalanced blocks", span, fn.Name)
	}
	fd.Body = body
	fd.End = check.Span{File: cur.file, Line: cur.i}
	s.Funcs = append(s.Funcs, fd)
	s.Decls[fn.Name] = fn
	return nil
}

// parseBlock reads statements until a closing brace. The returned terminator
// is "}" or "} else {".
func (s *Script) parseBlock(cur *cursor, fd *FuncDef) ([]Stmt, string, error) {
	var stmts []Stmt
	for {
		raw, ln, ok := cur.next()
		if !ok {
			return nil, "", errors.Errorf("%s: unexpected end of file in %s", cur.file, fd.Decl.Name)
		}
		span := check.Span{File: cur.file, Line: ln}
		line, err := s.stripComments(raw, span)
		if err != nil {
			return nil, "", err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "}" || line == "} else {" {
			return stmts, line, nil
		}
		st, err := s.parseStmt(line, span, cur, fd)
		if err != nil {
			return nil, "", err
		}
		stmts = append(stmts, st)
	}
}

func (s *Script) parseStmt(line string, span check.Span, cur *cursor, fd *FuncDef) (Stmt, error) {
	switch {
	case line == "if {":
		then, term, err := s.parseBlock(cur, fd)
		if err != nil {
			return Stmt{}, err
		}
		var els []Stmt
		if term == "} else {" {
			els, term, err = s.parseBlock(cur, fd)
			if err != nil {
				return Stmt{}, err
			}
			if term != "}" {
				return Stmt{}, errors.Errorf("%s: else block not closed", span)
			}
		}
		return Stmt{Op: OpIf, Then: then, Else: els, Span: span}, nil
	case strings.HasPrefix(line, "local "):
		name, rest, ok := strings.Cut(strings.TrimPrefix(line, "local "), ":")
		if !ok {
			return Stmt{}, errors.Errorf("%s: local needs a type", span)
		}
		name = strings.TrimSpace(name)
		if _, dup := fd.Vars[name]; dup {
			return Stmt{}, errors.Errorf("%s: duplicate variable %s", span, name)
		}
		typ := decl.TypeName(strings.TrimSpace(rest))
		fd.Vars[name] = &decl.Var{Name: name, Type: typ, Owner: fd.Decl, Param: -1}
		return Stmt{Op: OpLocal, Dst: name, Type: typ, Span: span}, nil
	case line == "return":
		return Stmt{Op: OpReturn, Span: span}, nil
	case strings.HasPrefix(line, "return "):
		return Stmt{Op: OpReturn, Src: strings.TrimSpace(strings.TrimPrefix(line, "return ")), Span: span}, nil
	case strings.HasPrefix(line, "use "):
		return Stmt{Op: OpUse, Src: strings.TrimSpace(strings.TrimPrefix(line, "use ")), Span: span}, nil
	case strings.HasPrefix(line, "call ") || strings.HasPrefix(line, "icall"):
		cs, err := parseCall(line, span)
		if err != nil {
			return Stmt{}, err
		}
		return Stmt{Op: OpCall, Call: cs, Span: span}, nil
	}
	lhs, rhs, ok := strings.Cut(line, " = ")
	if !ok {
		return Stmt{}, errors.Errorf("%s: unrecognized statement: %s", span, line)
	}
	lhs, rhs = strings.TrimSpace(lhs), strings.TrimSpace(rhs)
	if name, field, isField := cutFieldRef(lhs); isField {
		return Stmt{Op: OpStoreField, Dst: name, Field: field, Src: rhsIdent(rhs), Span: span}, nil
	}
	if name, idx, isIndex, err := cutIndexRef(lhs, span); err != nil {
		return Stmt{}, err
	} else if isIndex {
		return Stmt{Op: OpStoreIndex, Dst: name, Index: idx, Src: rhsIdent(rhs), Span: span}, nil
	}
	st, err := s.parseRHS(lhs, rhs, span, cur)
	if err != nil {
		return Stmt{}, err
	}
	return st, nil
}

func (s *Script) parseRHS(dst, rhs string, span check.Span, cur *cursor) (Stmt, error) {
	switch {
	case strings.HasPrefix(rhs, "call ") || strings.HasPrefix(rhs, "icall"):
		cs, err := parseCall(rhs, span)
		if err != nil {
			return Stmt{}, err
		}
		return Stmt{Op: OpCall, Dst: dst, Call: cs, Span: span}, nil
	case strings.HasPrefix(rhs, "cast "):
		fields := strings.Fields(strings.TrimPrefix(rhs, "cast "))
		if len(fields) < 2 {
			return Stmt{}, errors.Errorf("%s: cast needs a type and a source", span)
		}
		src := fields[len(fields)-1]
		typ := decl.TypeName(strings.Join(fields[:len(fields)-1], " "))
		return Stmt{Op: OpCast, Dst: dst, Src: src, Type: typ, Span: span}, nil
	case strings.HasPrefix(rhs, "*"):
		return Stmt{Op: OpDeref, Dst: dst, Src: strings.TrimSpace(rhs[1:]), Span: span}, nil
	case rhs == "null":
		return Stmt{Op: OpAssign, Dst: dst, Span: span}, nil
	}
	if name, field, isField := cutFieldRef(rhs); isField {
		return Stmt{Op: OpLoadField, Dst: dst, Src: name, Field: field, Span: span}, nil
	}
	if name, idx, isIndex, err := cutIndexRef(rhs, span); err != nil {
		return Stmt{}, err
	} else if isIndex {
		return Stmt{Op: OpLoadIndex, Dst: dst, Src: name, Index: idx, Span: span}, nil
	}
	return Stmt{Op: OpAssign, Dst: dst, Src: rhs, Span: span}, nil
}

func rhsIdent(rhs string) string {
	if rhs == "null" {
		return ""
	}
	return rhs
}

func cutFieldRef(s string) (name, field string, ok bool) {
	name, field, ok = strings.Cut(s, ".")
	if !ok || strings.ContainsAny(field, ".[") {
		return "", "", false
	}
	return name, field, true
}

func cutIndexRef(s string, span check.Span) (name string, idx int64, ok bool, err error) {
	open := strings.Index(s, "[")
	if open < 0 || !strings.HasSuffix(s, "]") {
		return "", 0, false, nil
	}
	idx, perr := strconv.ParseInt(s[open+1:len(s)-1], 10, 64)
	if perr != nil {
		return "", 0, false, errors.Wrapf(perr, "%s: subscript index", span)
	}
	return s[:open], idx, true, nil
}

func parseCall(text string, span check.Span) (*CallStmt, error) {
	cs := &CallStmt{}
	if strings.HasPrefix(text, "icall") {
		cs.Indirect = true
		text = strings.TrimPrefix(text, "icall")
	} else {
		text = strings.TrimPrefix(text, "call ")
	}
	open := strings.Index(text, "(")
	closing := strings.LastIndex(text, ")")
	if open < 0 || closing < open {
		return nil, errors.Errorf("%s: malformed call", span)
	}
	cs.Name = strings.TrimSpace(text[:open])
	if cs.Indirect && cs.Name != "" {
		return nil, errors.Errorf("%s: indirect call cannot be named", span)
	}
	if !cs.Indirect && cs.Name == "" {
		return nil, errors.Errorf("%s: call needs a function name", span)
	}
	for _, tok := range strings.Fields(text[closing+1:]) {
		if !strings.HasPrefix(tok, "@") {
			return nil, errors.Errorf("%s: unrecognized call attribute %q", span, tok)
		}
		cs.Annots = append(cs.Annots, tok[1:])
	}
	argsText := strings.TrimSpace(text[open+1 : closing])
	if argsText == "" {
		return cs, nil
	}
	for _, part := range strings.Split(argsText, ",") {
		part = strings.TrimSpace(part)
		switch {
		case part == "null":
			cs.Args = append(cs.Args, Arg{Kind: ArgNull})
		case strings.HasPrefix(part, "&"):
			cs.Args = append(cs.Args, Arg{Kind: ArgAddr, Name: part[1:]})
		default:
			if v, err := strconv.ParseInt(part, 10, 64); err == nil {
				cs.Args = append(cs.Args, Arg{Kind: ArgLit, Lit: v})
			} else {
				cs.Args = append(cs.Args, Arg{Kind: ArgIdent, Name: part})
			}
		}
	}
	return cs, nil
}

// parseSignature parses "name(p: type @annot, ...)[: ret] [attrs]".
func parseSignature(text string) (*decl.Func, error) {
	open := strings.Index(text, "(")
	closing := strings.LastIndex(text, ")")
	if open < 0 || closing < open {
		return nil, errors.New("malformed signature")
	}
	fn := &decl.Func{Name: strings.TrimSpace(text[:open])}
	if fn.Name == "" {
		return nil, errors.New("signature needs a name")
	}
	if params := strings.TrimSpace(text[open+1 : closing]); params != "" {
		for _, part := range strings.Split(params, ",") {
			pname, rest, ok := strings.Cut(strings.TrimSpace(part), ":")
			if !ok {
				return nil, errors.Errorf("parameter %q needs a type", part)
			}
			typ, annots, leftover := splitTypeAndAttrs(strings.Fields(rest))
			if len(leftover) != 0 {
				return nil, errors.Errorf("unrecognized parameter attribute %q", leftover[0])
			}
			fn.Params = append(fn.Params, decl.Param{
				Name: strings.TrimSpace(pname), Type: typ, Annots: annots,
			})
		}
	}
	rest := strings.TrimSpace(text[closing+1:])
	if strings.HasPrefix(rest, ":") {
		typ, annots, leftover := splitTypeAndAttrs(strings.Fields(rest[1:]))
		fn.Result = typ
		fn.Annots = annots
		rest = strings.Join(leftover, " ")
	}
	for _, tok := range strings.Fields(rest) {
		switch {
		case strings.HasPrefix(tok, "@"):
			fn.Annots = append(fn.Annots, tok[1:])
		case strings.HasPrefix(tok, "file="):
			fn.File = strings.TrimPrefix(tok, "file=")
		case strings.HasPrefix(tok, "ns="):
			fn.Namespace = strings.TrimPrefix(tok, "ns=")
		case tok == "system":
			fn.SystemHeader = true
		case tok == "builtin":
			fn.Builtin = true
		case tok == "trivial":
			fn.Trivial = true
		case tok == "noreturn":
			fn.NoReturn = true
		case tok == "variadic":
			fn.Variadic = true
		default:
			return nil, errors.Errorf("unrecognized attribute %q", tok)
		}
	}
	return fn, nil
}

// splitTypeAndAttrs consumes leading type tokens, then annotation tokens,
// returning anything after the annotations for the caller to interpret.
func splitTypeAndAttrs(tokens []string) (decl.TypeName, []string, []string) {
	i := 0
	for i < len(tokens) && !strings.HasPrefix(tokens[i], "@") && !isAttrToken(tokens[i]) {
		i++
	}
	typ := decl.TypeName(strings.Join(tokens[:i], " "))
	var annots []string
	for i < len(tokens) && strings.HasPrefix(tokens[i], "@") {
		annots = append(annots, tokens[i][1:])
		i++
	}
	return typ, annots, tokens[i:]
}

func isAttrToken(tok string) bool {
	switch tok {
	case "system", "builtin", "trivial", "noreturn", "variadic":
		return true
	}
	return strings.Contains(tok, "=")
}
