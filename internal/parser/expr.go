package parser

import (
	"github.com/veristub-labs/veristub/internal/ir"
	tt "github.com/veristub-labs/veristub/internal/types"
)

// exprCtx controls which special forms an expression context admits.
type exprCtx int

const (
	ctxBody       exprCtx = 0
	ctxPre        exprCtx = 1 << iota // precondition: plain expression over params
	ctxPost                           // postcondition: result and on_entry
	ctxInvariant                      // loop invariant: on_entry and prev
	ctxEnumerable                     // enumerable loop invariant: index and length
)

func (c exprCtx) allowResult() bool  { return c&ctxPost != 0 }
func (c exprCtx) allowOnEntry() bool { return c&(ctxPost|ctxInvariant) != 0 }
func (c exprCtx) allowPrev() bool    { return c&ctxInvariant != 0 }
func (c exprCtx) allowIndex() bool   { return c&ctxEnumerable != 0 }

func (p *parser) parseContractExpr(ctx exprCtx) ir.Expr {
	return p.parseContractExprAt(ctx, p.cur().Pos)
}

func (p *parser) parseContractExprAt(ctx exprCtx, pos tt.Position) ir.Expr {
	e := p.parseExpr(ctx)
	if t := p.exprType(e, pos); t.Kind != ir.KindBool {
		p.errf(pos, "contract expression must be bool, have %s", t)
	}
	return e
}

// parseExpr parses with precedence climbing. Lowest first: ==> (right
// associative), ||, &&, == !=, < <= > >=, + -, * / %, unary.
func (p *parser) parseExpr(ctx exprCtx) ir.Expr {
	return p.parseImplies(ctx)
}

func (p *parser) parseImplies(ctx exprCtx) ir.Expr {
	lhs := p.parseOr(ctx)
	if p.accept(IMPLIES) {
		rhs := p.parseImplies(ctx)
		return &ir.Binary{Op: ir.OpImplies, X: lhs, Y: rhs}
	}
	return lhs
}

func (p *parser) parseOr(ctx exprCtx) ir.Expr {
	lhs := p.parseAnd(ctx)
	for p.accept(OR) {
		lhs = &ir.Binary{Op: ir.OpOr, X: lhs, Y: p.parseAnd(ctx)}
	}
	return lhs
}

func (p *parser) parseAnd(ctx exprCtx) ir.Expr {
	lhs := p.parseEquality(ctx)
	for p.accept(AND) {
		lhs = &ir.Binary{Op: ir.OpAnd, X: lhs, Y: p.parseEquality(ctx)}
	}
	return lhs
}

func (p *parser) parseEquality(ctx exprCtx) ir.Expr {
	lhs := p.parseComparison(ctx)
	for {
		var op ir.Op
		switch p.cur().Type {
		case EQ:
			op = ir.OpEq
		case NEQ:
			op = ir.OpNe
		default:
			return lhs
		}
		p.advance()
		lhs = &ir.Binary{Op: op, X: lhs, Y: p.parseComparison(ctx)}
	}
}

func (p *parser) parseComparison(ctx exprCtx) ir.Expr {
	lhs := p.parseAdditive(ctx)
	for {
		var op ir.Op
		switch p.cur().Type {
		case LT:
			op = ir.OpLt
		case LE:
			op = ir.OpLe
		case GT:
			op = ir.OpGt
		case GE:
			op = ir.OpGe
		default:
			return lhs
		}
		p.advance()
		lhs = &ir.Binary{Op: op, X: lhs, Y: p.parseAdditive(ctx)}
	}
}

func (p *parser) parseAdditive(ctx exprCtx) ir.Expr {
	lhs := p.parseMultiplicative(ctx)
	for {
		var op ir.Op
		switch p.cur().Type {
		case PLUS:
			op = ir.OpAdd
		case MINUS:
			op = ir.OpSub
		default:
			return lhs
		}
		p.advance()
		lhs = &ir.Binary{Op: op, X: lhs, Y: p.parseMultiplicative(ctx)}
	}
}

func (p *parser) parseMultiplicative(ctx exprCtx) ir.Expr {
	lhs := p.parseUnary(ctx)
	for {
		var op ir.Op
		switch p.cur().Type {
		case STAR:
			op = ir.OpMul
		case SLASH:
			op = ir.OpDiv
		case PERCENT:
			op = ir.OpMod
		default:
			return lhs
		}
		p.advance()
		lhs = &ir.Binary{Op: op, X: lhs, Y: p.parseUnary(ctx)}
	}
}

func (p *parser) parseUnary(ctx exprCtx) ir.Expr {
	switch p.cur().Type {
	case BANG:
		p.advance()
		return &ir.Unary{Op: ir.OpNot, X: p.parseUnary(ctx)}
	case MINUS:
		p.advance()
		return &ir.Unary{Op: ir.OpNeg, X: p.parseUnary(ctx)}
	case STAR:
		p.advance()
		return &ir.Deref{X: p.parseUnary(ctx)}
	case AMP:
		tok := p.advance()
		inner := p.parseUnary(ctx)
		switch inner.(type) {
		case *ir.VarRef, *ir.Index:
		default:
			p.errf(tok.Pos, "can only take the address of a variable or array element")
		}
		return &ir.AddrOf{X: inner}
	}
	return p.parsePrimary(ctx)
}

func (p *parser) parsePrimary(ctx exprCtx) ir.Expr {
	tok := p.cur()
	switch tok.Type {
	case INT:
		p.advance()
		return &ir.IntLit{V: tok.Int, T: ir.Int()}
	case KwTrue:
		p.advance()
		return &ir.BoolLit{V: true}
	case KwFalse:
		p.advance()
		return &ir.BoolLit{V: false}
	case LPAREN:
		p.advance()
		e := p.parseExpr(ctx)
		p.expect(RPAREN, ")")
		return e
	case IDENT:
		switch tok.Lexeme {
		case "result":
			if !ctx.allowResult() {
				p.errf(tok.Pos, "result is only valid inside an ensures clause")
			}
			if p.fn.Result == nil {
				p.errf(tok.Pos, "result referenced but %q returns nothing", p.fn.Name)
			}
			p.advance()
			return &ir.ResultRef{T: *p.fn.Result}
		case "on_entry":
			if !ctx.allowOnEntry() {
				p.errf(tok.Pos, "on_entry is only valid inside ensures and invariant clauses")
			}
			p.advance()
			p.expect(LPAREN, "(")
			inner := p.parseExpr(ctx &^ (ctxPost | ctxInvariant | ctxEnumerable))
			p.expect(RPAREN, ")")
			return &ir.OnEntry{X: inner}
		case "prev":
			if !ctx.allowPrev() {
				p.errf(tok.Pos, "prev is only valid inside a loop invariant")
			}
			p.advance()
			p.expect(LPAREN, "(")
			inner := p.parseExpr(ctx &^ (ctxPost | ctxInvariant | ctxEnumerable))
			p.expect(RPAREN, ")")
			return &ir.Prev{X: inner}
		case "index":
			if !ctx.allowIndex() {
				p.errf(tok.Pos, "index is only bound inside an enumerable loop invariant")
			}
			p.advance()
			return &ir.IndexRef{}
		case "length":
			if !ctx.allowIndex() {
				p.errf(tok.Pos, "length is only bound inside an enumerable loop invariant")
			}
			p.advance()
			return &ir.LenRef{}
		}
		p.advance()
		vt := p.varType(tok)
		ref := &ir.VarRef{Name: tok.Lexeme, T: vt}
		if p.accept(LBRACKET) {
			idx := p.parseExpr(ctx)
			p.expect(RBRACKET, "]")
			p.arrayElem(vt, tok.Pos)
			return &ir.Index{X: ref, I: idx}
		}
		return ref
	}
	p.errf(tok.Pos, "expected expression, found %q", tok.Lexeme)
	return nil
}

// exprType computes the type of a parsed expression. Leaf nodes carry
// their declared types, so no scope is needed; integer literals are
// retyped in place when the other operand fixes them to uint.
func (p *parser) exprType(e ir.Expr, pos tt.Position) ir.Type {
	switch n := e.(type) {
	case *ir.BoolLit:
		return ir.Bool()
	case *ir.IntLit:
		return n.T
	case *ir.VarRef:
		return n.T
	case *ir.ResultRef:
		return n.T
	case *ir.SnapRef:
		return n.T
	case *ir.OnEntry:
		return p.exprType(n.X, pos)
	case *ir.Prev:
		return p.exprType(n.X, pos)
	case *ir.IndexRef, *ir.LenRef:
		if len(p.forElemT) == 0 {
			p.errf(pos, "index/length referenced outside an enumerable loop")
		}
		return p.forElemT[len(p.forElemT)-1]
	case *ir.Unary:
		xt := p.exprType(n.X, pos)
		if n.Op == ir.OpNot {
			if xt.Kind != ir.KindBool {
				p.errf(pos, "operator ! requires bool, have %s", xt)
			}
			return ir.Bool()
		}
		if xt.Kind != ir.KindInt {
			p.errf(pos, "unary - requires int, have %s", xt)
		}
		return xt
	case *ir.Binary:
		return p.binaryType(n, pos)
	case *ir.Index:
		return p.arrayElem(p.exprType(n.X, pos), pos)
	case *ir.Deref:
		xt := p.exprType(n.X, pos)
		if xt.Kind != ir.KindRef {
			p.errf(pos, "cannot dereference %s", xt)
		}
		return *xt.Elem
	case *ir.AddrOf:
		return ir.RefTo(p.exprType(n.X, pos))
	}
	p.errf(pos, "unsupported expression")
	return ir.Type{}
}

func (p *parser) binaryType(n *ir.Binary, pos tt.Position) ir.Type {
	xt := p.exprType(n.X, pos)
	yt := p.exprType(n.Y, pos)

	// adapt untyped-looking literals to the other operand
	if xt.Kind != yt.Kind {
		if lit, ok := n.X.(*ir.IntLit); ok && yt.IsNumeric() && lit.V >= 0 {
			lit.T = yt
			xt = yt
		} else if lit, ok := n.Y.(*ir.IntLit); ok && xt.IsNumeric() && lit.V >= 0 {
			lit.T = xt
			yt = xt
		}
	}

	switch n.Op {
	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpMod:
		if !xt.IsNumeric() || !xt.Equal(yt) {
			p.errf(pos, "operator %s requires matching numeric operands, have %s and %s", n.Op, xt, yt)
		}
		return xt
	case ir.OpLt, ir.OpLe, ir.OpGt, ir.OpGe:
		if !xt.IsNumeric() || !xt.Equal(yt) {
			p.errf(pos, "operator %s requires matching numeric operands, have %s and %s", n.Op, xt, yt)
		}
		return ir.Bool()
	case ir.OpEq, ir.OpNe:
		if !xt.Equal(yt) || !xt.IsScalar() && xt.Kind != ir.KindParam {
			p.errf(pos, "operator %s requires matching scalar operands, have %s and %s", n.Op, xt, yt)
		}
		return ir.Bool()
	case ir.OpAnd, ir.OpOr, ir.OpImplies:
		if xt.Kind != ir.KindBool || yt.Kind != ir.KindBool {
			p.errf(pos, "operator %s requires bool operands, have %s and %s", n.Op, xt, yt)
		}
		return ir.Bool()
	}
	p.errf(pos, "unsupported operator %s", n.Op)
	return ir.Type{}
}

// coerceLit retypes a bare integer literal (possibly under unary minus)
// toward a numeric destination type.
func coerceLit(e ir.Expr, want ir.Type) bool {
	if !want.IsNumeric() {
		return false
	}
	switch n := e.(type) {
	case *ir.IntLit:
		if want.Kind == ir.KindUint && n.V < 0 {
			return false
		}
		n.T = want
		return true
	case *ir.Unary:
		if n.Op == ir.OpNeg && want.Kind == ir.KindInt {
			return coerceLit(n.X, want)
		}
	}
	return false
}
