package parser

import (
	"fmt"
	"os"

	"github.com/veristub-labs/veristub/internal/ir"
	tt "github.com/veristub-labs/veristub/internal/types"
)

// SpecError is a specification error: malformed contract expression,
// frame target out of scope, historic reference misuse, and so on. Spec
// errors are reported before any verification run and are fatal to the
// named target only.
type SpecError struct {
	Pos    tt.Position
	Target string
	Msg    string
}

func (e SpecError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Pos, e.Target, e.Msg)
}

// ParseFile parses an annotated program from disk.
func ParseFile(path string) (*ir.Program, []SpecError, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("error reading program: %w", err)
	}
	return Parse(path, string(src))
}

// Parse parses annotated source into an IR program. Declarations with
// specification errors are excluded from the program and reported in the
// second return value; a non-nil error means the input could not be
// tokenized at all.
func Parse(filename, src string) (*ir.Program, []SpecError, error) {
	toks, err := NewLexer(filename, src).Tokens()
	if err != nil {
		return nil, nil, err
	}
	p := &parser{toks: toks, prog: ir.NewProgram(filename)}
	p.parseProgram()
	p.checkCalls()
	return p.prog, p.errs, nil
}

type parser struct {
	toks []Token
	idx  int
	prog *ir.Program
	errs []SpecError

	// per-declaration state
	fn        *ir.Function
	scope     map[string]ir.Type
	loopDepth int       // inside a loop body or invariant
	forVars   []string  // enumerable loop variables in scope
	forElemT  []ir.Type // their types, innermost last

	// call sites validated after all signatures are known
	deferredCalls    []deferredCall
	deferredCallDsts []deferredDst
}

type deferredCall struct {
	call *ir.Call
	fn   *ir.Function
}

type deferredDst struct {
	call *ir.Call
	fn   *ir.Function
	dstT ir.Type
	pos  tt.Position
}

type bailout struct{ err SpecError }

func (p *parser) errf(pos tt.Position, format string, args ...any) {
	target := ""
	if p.fn != nil {
		target = p.fn.Name
	}
	panic(bailout{SpecError{Pos: pos, Target: target, Msg: fmt.Sprintf(format, args...)}})
}

func (p *parser) cur() Token  { return p.toks[p.idx] }
func (p *parser) peek() Token { return p.toks[min(p.idx+1, len(p.toks)-1)] }

func (p *parser) advance() Token {
	tok := p.toks[p.idx]
	if tok.Type != EOF {
		p.idx++
	}
	return tok
}

// skipTerms consumes statement terminators at statement and clause
// boundaries, where blank lines carry no meaning.
func (p *parser) skipTerms() {
	for p.cur().Type == TERM {
		p.advance()
	}
}

func (p *parser) accept(t TokenType) bool {
	if p.cur().Type == t {
		p.advance()
		return true
	}
	return false
}

func (p *parser) expect(t TokenType, what string) Token {
	if p.cur().Type != t {
		p.errf(p.cur().Pos, "expected %s, found %q", what, p.cur().Lexeme)
	}
	return p.advance()
}

// parseProgram parses declarations until EOF, recovering per declaration
// so one bad target does not block the rest.
func (p *parser) parseProgram() {
	for {
		p.skipTerms()
		if p.cur().Type == EOF {
			return
		}
		p.parseDecl()
	}
}

func (p *parser) parseDecl() {
	defer func() {
		if r := recover(); r != nil {
			b, ok := r.(bailout)
			if !ok {
				panic(r)
			}
			p.errs = append(p.errs, b.err)
			p.recoverDecl()
		}
		p.fn = nil
		p.scope = nil
	}()

	switch p.cur().Type {
	case KwFn:
		p.parseFn(false)
	case KwHarness:
		p.parseFn(true)
	default:
		p.errf(p.cur().Pos, "expected fn or harness declaration, found %q", p.cur().Lexeme)
	}
}

// recoverDecl skips ahead to the start of the next declaration.
func (p *parser) recoverDecl() {
	depth := 0
	for p.cur().Type != EOF {
		switch p.cur().Type {
		case LBRACE:
			depth++
		case RBRACE:
			depth--
			if depth <= 0 {
				p.advance()
				return
			}
		case KwFn, KwHarness:
			if depth == 0 {
				return
			}
		}
		p.advance()
	}
}

func (p *parser) parseFn(harness bool) {
	kw := p.advance()
	name := p.expect(IDENT, "name")

	fn := &ir.Function{Name: name.Lexeme, Harness: harness, Pos: kw.Pos}
	p.fn = fn
	p.scope = make(map[string]ir.Type)

	if !harness {
		if p.accept(LBRACKET) {
			for {
				tp := p.expect(IDENT, "type parameter")
				fn.TypeParams = append(fn.TypeParams, tp.Lexeme)
				if !p.accept(COMMA) {
					break
				}
			}
			p.expect(RBRACKET, "]")
		}
		p.expect(LPAREN, "(")
		if p.cur().Type != RPAREN {
			for {
				pn := p.expect(IDENT, "parameter name")
				pt := p.parseType()
				if _, dup := p.scope[pn.Lexeme]; dup {
					p.errf(pn.Pos, "duplicate parameter %q", pn.Lexeme)
				}
				fn.Params = append(fn.Params, ir.Param{Name: pn.Lexeme, Type: pt})
				p.scope[pn.Lexeme] = pt
				if !p.accept(COMMA) {
					break
				}
			}
		}
		p.expect(RPAREN, ")")
		if p.cur().Type != LBRACE && p.cur().Type != TERM && !p.isContractKeyword() {
			rt := p.parseType()
			fn.Result = &rt
		}
		p.parseContractClauses(fn)
	}

	p.skipTerms()
	p.expect(LBRACE, "{")
	fn.Body = p.parseBlock()

	if _, exists := p.prog.Funcs[fn.Name]; exists {
		p.errf(name.Pos, "duplicate function %q", fn.Name)
	}
	p.prog.Funcs[fn.Name] = fn
}

func (p *parser) isContractKeyword() bool {
	switch p.cur().Type {
	case KwRequires, KwEnsures, KwModifies:
		return true
	}
	return false
}

func (p *parser) parseContractClauses(fn *ir.Function) {
	var c *ir.Contract
	ensure := func(pos tt.Position) *ir.Contract {
		if c == nil {
			c = &ir.Contract{Owner: fn.Name, Pos: pos}
		}
		return c
	}
	for {
		p.skipTerms()
		switch p.cur().Type {
		case KwRequires:
			pos := p.advance().Pos
			e := p.parseContractExpr(ctxPre)
			cc := ensure(pos)
			if cc.Pre == nil {
				cc.Pre = e
			} else {
				cc.Pre = ir.And(cc.Pre, e)
			}
		case KwEnsures:
			pos := p.advance().Pos
			e := p.parseContractExpr(ctxPost)
			cc := ensure(pos)
			if cc.Post == nil {
				cc.Post = e
			} else {
				cc.Post = ir.And(cc.Post, e)
			}
		case KwModifies:
			pos := p.advance().Pos
			spec := p.parseFrameSpec(pos, true)
			cc := ensure(pos)
			if cc.Frame != nil {
				p.errf(pos, "duplicate modifies clause")
			}
			cc.Frame = spec
		default:
			fn.Contract = c
			return
		}
	}
}

// parseFrameSpec parses a comma-separated list of frame targets. When
// paramsOnly is set, targets must reference parameters, so the frame is
// meaningful at every call site.
func (p *parser) parseFrameSpec(pos tt.Position, paramsOnly bool) *ir.FrameSpec {
	spec := &ir.FrameSpec{Pos: pos}
	if p.cur().Type == LBRACE || p.isContractKeyword() || p.cur().Type == KwInvariant {
		// empty modifies clause: writes nothing
		return spec
	}
	for {
		spec.Targets = append(spec.Targets, p.parseFrameTarget(paramsOnly))
		if !p.accept(COMMA) {
			break
		}
	}
	return spec
}

func (p *parser) parseFrameTarget(paramsOnly bool) ir.FrameTarget {
	pos := p.cur().Pos
	if p.accept(AMP) {
		// &x or &a[i]
		id := p.expect(IDENT, "variable")
		t := p.frameVarType(id, paramsOnly)
		if p.accept(LBRACKET) {
			idx := p.parseExpr(ctxBody)
			p.expect(RBRACKET, "]")
			p.arrayElem(t, id.Pos)
			if !p.exprType(idx, id.Pos).IsNumeric() {
				p.errf(pos, "array index must be numeric")
			}
			base := &ir.VarRef{Name: id.Lexeme, T: t}
			return ir.FrameTarget{Kind: ir.TargetAddress, Addr: &ir.AddrOf{X: &ir.Index{X: base, I: idx}}}
		}
		if t.Kind == ir.KindRef {
			p.errf(pos, "frame target &%s addresses a reference; write the reference itself for the whole object", id.Lexeme)
		}
		return ir.FrameTarget{Kind: ir.TargetAddress, Addr: &ir.AddrOf{X: &ir.VarRef{Name: id.Lexeme, T: t}}}
	}

	id := p.expect(IDENT, "frame target")
	t := p.frameVarType(id, paramsOnly)
	obj := &ir.VarRef{Name: id.Lexeme, T: t}
	if p.accept(LBRACKET) {
		base := p.parseExpr(ctxBody)
		p.expect(RANGE, "..+")
		length := p.parseExpr(ctxBody)
		p.expect(RBRACKET, "]")
		p.arrayElem(t, id.Pos)
		if !p.exprType(base, id.Pos).IsNumeric() || !p.exprType(length, id.Pos).IsNumeric() {
			p.errf(pos, "range base and length must be numeric")
		}
		return ir.FrameTarget{Kind: ir.TargetRange, Obj: obj, Base: base, Len: length}
	}
	if t.Kind != ir.KindRef && t.Kind != ir.KindArray {
		p.errf(pos, "whole-object frame target %q must be a reference or array, have %s", id.Lexeme, t)
	}
	return ir.FrameTarget{Kind: ir.TargetWholeObject, Obj: obj}
}

func (p *parser) frameVarType(id Token, paramsOnly bool) ir.Type {
	t, ok := p.scope[id.Lexeme]
	if !ok {
		p.errf(id.Pos, "frame target references out-of-scope variable %q", id.Lexeme)
	}
	if paramsOnly {
		found := false
		for _, par := range p.fn.Params {
			if par.Name == id.Lexeme {
				found = true
				break
			}
		}
		if !found {
			p.errf(id.Pos, "function frame target %q must be a parameter", id.Lexeme)
		}
	}
	return t
}

// arrayElem returns the element type behind an array or a reference to
// an array.
func (p *parser) arrayElem(t ir.Type, pos tt.Position) ir.Type {
	if t.Kind == ir.KindArray {
		return *t.Elem
	}
	if t.Kind == ir.KindRef && t.Elem.Kind == ir.KindArray {
		return *t.Elem.Elem
	}
	p.errf(pos, "expected array or reference to array, have %s", t)
	return ir.Type{}
}

func (p *parser) parseType() ir.Type {
	pos := p.cur().Pos
	switch {
	case p.accept(AMP):
		return ir.RefTo(p.parseType())
	case p.accept(LBRACKET):
		n := p.expect(INT, "array length")
		p.expect(RBRACKET, "]")
		if n.Int <= 0 {
			p.errf(n.Pos, "array length must be positive")
		}
		return ir.ArrayOf(p.parseType(), int(n.Int))
	case p.cur().Type == IDENT:
		id := p.advance()
		switch id.Lexeme {
		case "int":
			return ir.Int()
		case "uint":
			return ir.Uint()
		case "bool":
			return ir.Bool()
		}
		for _, tp := range p.fn.TypeParams {
			if tp == id.Lexeme {
				return ir.TypeParam(id.Lexeme)
			}
		}
		p.errf(id.Pos, "unknown type %q", id.Lexeme)
	}
	p.errf(pos, "expected type, found %q", p.cur().Lexeme)
	return ir.Type{}
}

func (p *parser) parseBlock() []ir.Stmt {
	var stmts []ir.Stmt
	for {
		p.skipTerms()
		if p.cur().Type == RBRACE || p.cur().Type == EOF {
			break
		}
		if s := p.parseStmt(); s != nil {
			stmts = append(stmts, s)
		}
	}
	p.expect(RBRACE, "}")
	return stmts
}

func (p *parser) parseStmt() ir.Stmt {
	switch p.cur().Type {
	case KwVar:
		return p.parseVarDecl()
	case KwIf:
		return p.parseIf()
	case KwWhile:
		return p.parseWhile()
	case KwFor:
		return p.parseFor()
	case KwReturn:
		return p.parseReturn()
	case KwAssert:
		tok := p.advance()
		e := p.parseExpr(ctxBody)
		p.requireBool(e, tok.Pos)
		return &ir.Assert{X: e, Ob: tt.Obligation{
			Kind:   tt.Assertion,
			Target: p.fn.Name,
			Expr:   e.String(),
			Site:   tok.Pos,
		}}
	case KwAssume:
		tok := p.advance()
		e := p.parseExpr(ctxBody)
		p.requireBool(e, tok.Pos)
		return &ir.Assume{X: e}
	case IDENT, STAR:
		return p.parseAssignOrCall()
	}
	p.errf(p.cur().Pos, "expected statement, found %q", p.cur().Lexeme)
	return nil
}

func (p *parser) parseVarDecl() ir.Stmt {
	p.advance()
	id := p.expect(IDENT, "variable name")
	t := p.parseType()
	if _, dup := p.scope[id.Lexeme]; dup {
		p.errf(id.Pos, "redeclared variable %q", id.Lexeme)
	}
	p.scope[id.Lexeme] = t
	p.fn.Locals = append(p.fn.Locals, ir.Param{Name: id.Lexeme, Type: t})
	// declaration only; the checker zero-initializes locals
	return nil
}

func (p *parser) parseIf() ir.Stmt {
	tok := p.advance()
	cond := p.parseExpr(ctxBody)
	p.requireBool(cond, tok.Pos)
	p.expect(LBRACE, "{")
	then := p.parseBlock()
	var els []ir.Stmt
	if p.accept(KwElse) {
		if p.cur().Type == KwIf {
			els = []ir.Stmt{p.parseIf()}
		} else {
			p.expect(LBRACE, "{")
			els = p.parseBlock()
		}
	}
	return &ir.If{Cond: cond, Then: then, Else: els, Pos: tok.Pos}
}

func (p *parser) parseWhile() ir.Stmt {
	tok := p.advance()
	cond := p.parseExpr(ctxBody)
	p.requireBool(cond, tok.Pos)
	site := p.parseLoopContract(tok.Pos, false)
	p.expect(LBRACE, "{")
	p.loopDepth++
	body := p.parseBlock()
	p.loopDepth--
	return &ir.While{Cond: cond, Body: body, Site: site, Pos: tok.Pos}
}

func (p *parser) parseFor() ir.Stmt {
	tok := p.advance()
	id := p.expect(IDENT, "loop variable")
	p.expect(KwIn, "in")
	n := p.parseExpr(ctxBody)
	nt := p.exprType(n, tok.Pos)
	if !nt.IsNumeric() {
		p.errf(tok.Pos, "enumerable loop bound must be numeric, have %s", nt)
	}
	if _, dup := p.scope[id.Lexeme]; dup {
		p.errf(id.Pos, "redeclared variable %q", id.Lexeme)
	}
	p.scope[id.Lexeme] = nt
	p.fn.Locals = append(p.fn.Locals, ir.Param{Name: id.Lexeme, Type: nt})
	p.forVars = append(p.forVars, id.Lexeme)
	p.forElemT = append(p.forElemT, nt)

	site := p.parseLoopContract(tok.Pos, true)
	p.expect(LBRACE, "{")
	p.loopDepth++
	body := p.parseBlock()
	p.loopDepth--

	p.forVars = p.forVars[:len(p.forVars)-1]
	p.forElemT = p.forElemT[:len(p.forElemT)-1]
	delete(p.scope, id.Lexeme)
	return &ir.ForRange{Var: id.Lexeme, N: n, Body: body, Site: site, Pos: tok.Pos}
}

func (p *parser) parseLoopContract(pos tt.Position, enumerable bool) *ir.LoopContractSite {
	var site *ir.LoopContractSite
	ensure := func() *ir.LoopContractSite {
		if site == nil {
			site = &ir.LoopContractSite{Pos: pos}
		}
		return site
	}
	for {
		p.skipTerms()
		switch p.cur().Type {
		case KwInvariant:
			ip := p.advance().Pos
			ctx := ctxInvariant
			if enumerable {
				ctx |= ctxEnumerable
			}
			e := p.parseContractExprAt(ctx, ip)
			s := ensure()
			if s.Invariant == nil {
				s.Invariant = e
			} else {
				s.Invariant = ir.And(s.Invariant, e)
			}
		case KwModifies:
			mp := p.advance().Pos
			s := ensure()
			if s.Frame != nil {
				p.errf(mp, "duplicate modifies clause")
			}
			s.Frame = p.parseFrameSpec(mp, false)
		default:
			if site != nil && site.Invariant == nil {
				p.errf(pos, "loop contract requires an invariant clause")
			}
			return site
		}
	}
}

func (p *parser) parseReturn() ir.Stmt {
	tok := p.advance()
	if p.fn.Harness || p.fn.Result == nil {
		return &ir.Return{Pos: tok.Pos}
	}
	e := p.parseExpr(ctxBody)
	et := p.exprType(e, tok.Pos)
	if !p.assignable(*p.fn.Result, et) && !coerceLit(e, *p.fn.Result) {
		p.errf(tok.Pos, "cannot return %s from function returning %s", et, p.fn.Result)
	}
	return &ir.Return{X: e, Pos: tok.Pos}
}

// parseAssignOrCall parses `place = expr`, `place = f(args)`, or a bare
// call statement.
func (p *parser) parseAssignOrCall() ir.Stmt {
	pos := p.cur().Pos

	if p.cur().Type == IDENT && p.isCallAhead(0) {
		return p.parseCall(nil, pos)
	}

	place, placeT := p.parsePlace()
	p.expect(ASSIGN, "=")

	if p.cur().Type == IDENT && p.isCallAhead(0) {
		call := p.parseCall(place, pos)
		c := call.(*ir.Call)
		if c.Dst != nil {
			// result type checked in checkCalls once all signatures exist
			p.deferredCallDsts = append(p.deferredCallDsts, deferredDst{c, p.fn, placeT, pos})
		}
		return call
	}

	rhs := p.parseExpr(ctxBody)
	rt := p.exprType(rhs, pos)
	if !p.assignable(placeT, rt) && !coerceLit(rhs, placeT) {
		p.errf(pos, "cannot assign %s to %s", rt, placeT)
	}
	return &ir.Assign{LHS: place, RHS: rhs, Pos: pos}
}

// isCallAhead reports whether the token at offset n starts a call:
// IDENT '(' or IDENT '[' ... ']' '('.
func (p *parser) isCallAhead(n int) bool {
	if p.toks[min(p.idx+n, len(p.toks)-1)].Type != IDENT {
		return false
	}
	next := p.toks[min(p.idx+n+1, len(p.toks)-1)]
	if next.Type == LPAREN {
		return true
	}
	if next.Type != LBRACKET {
		return false
	}
	depth := 0
	for i := p.idx + n + 1; i < len(p.toks); i++ {
		switch p.toks[i].Type {
		case LBRACKET:
			depth++
		case RBRACKET:
			depth--
			if depth == 0 {
				return i+1 < len(p.toks) && p.toks[i+1].Type == LPAREN
			}
		case EOF, TERM, LBRACE, RBRACE, ASSIGN:
			return false
		}
	}
	return false
}

func (p *parser) parseCall(dst ir.Place, pos tt.Position) ir.Stmt {
	callee := p.expect(IDENT, "function name")
	var typeArgs []ir.Type
	if p.accept(LBRACKET) {
		for {
			typeArgs = append(typeArgs, p.parseType())
			if !p.accept(COMMA) {
				break
			}
		}
		p.expect(RBRACKET, "]")
	}
	p.expect(LPAREN, "(")
	var args []ir.Expr
	if p.cur().Type != RPAREN {
		for {
			args = append(args, p.parseExpr(ctxBody))
			if !p.accept(COMMA) {
				break
			}
		}
	}
	p.expect(RPAREN, ")")
	call := &ir.Call{Dst: dst, Callee: callee.Lexeme, Args: args, TypeArgs: typeArgs, Pos: callee.Pos}
	p.deferredCalls = append(p.deferredCalls, deferredCall{call, p.fn})
	return call
}

func (p *parser) parsePlace() (ir.Place, ir.Type) {
	if p.accept(STAR) {
		id := p.expect(IDENT, "variable")
		t := p.varType(id)
		if t.Kind != ir.KindRef {
			p.errf(id.Pos, "cannot dereference non-reference %q", id.Lexeme)
		}
		return &ir.DerefPlace{Name: id.Lexeme}, *t.Elem
	}
	id := p.expect(IDENT, "variable")
	t := p.varType(id)
	if p.accept(LBRACKET) {
		idx := p.parseExpr(ctxBody)
		p.expect(RBRACKET, "]")
		elem := p.arrayElem(t, id.Pos)
		if !p.exprType(idx, id.Pos).IsNumeric() {
			p.errf(id.Pos, "array index must be numeric")
		}
		return &ir.IndexPlace{Arr: id.Lexeme, I: idx}, elem
	}
	if p.isForVar(id.Lexeme) {
		p.errf(id.Pos, "cannot assign enumerable loop variable %q", id.Lexeme)
	}
	return &ir.VarPlace{Name: id.Lexeme}, t
}

func (p *parser) isForVar(name string) bool {
	for _, v := range p.forVars {
		if v == name {
			return true
		}
	}
	return false
}

func (p *parser) varType(id Token) ir.Type {
	t, ok := p.scope[id.Lexeme]
	if !ok {
		p.errf(id.Pos, "undefined variable %q", id.Lexeme)
	}
	return t
}

func (p *parser) requireBool(e ir.Expr, pos tt.Position) {
	if t := p.exprType(e, pos); t.Kind != ir.KindBool {
		p.errf(pos, "condition must be bool, have %s", t)
	}
}

// assignable allows exact matches plus anything involving a type
// parameter, which the compatibility checker revisits per instantiation.
func (p *parser) assignable(dst, src ir.Type) bool {
	if dst.Kind == ir.KindParam || src.Kind == ir.KindParam {
		return true
	}
	return dst.Equal(src)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
