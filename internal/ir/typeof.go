package ir

// TypeOf computes the type of an expression. Leaf nodes carry their
// types from name resolution, so no scope is needed here. Enumerable
// loop bindings (index, length) default to uint; the loop transformer
// rewrites them into typed variable references before anything reads
// their type.
func TypeOf(e Expr) Type {
	switch n := e.(type) {
	case *BoolLit:
		return Bool()
	case *IntLit:
		return n.T
	case *VarRef:
		return n.T
	case *Unary:
		if n.Op == OpNot {
			return Bool()
		}
		return TypeOf(n.X)
	case *Binary:
		switch n.Op {
		case OpAdd, OpSub, OpMul, OpDiv, OpMod:
			return TypeOf(n.X)
		default:
			return Bool()
		}
	case *Index:
		t := TypeOf(n.X)
		if t.Kind == KindRef {
			t = *t.Elem
		}
		if t.Kind == KindArray {
			return *t.Elem
		}
		return t
	case *Deref:
		t := TypeOf(n.X)
		if t.Kind == KindRef {
			return *t.Elem
		}
		return t
	case *AddrOf:
		return RefTo(TypeOf(n.X))
	case *ResultRef:
		return n.T
	case *OnEntry:
		return TypeOf(n.X)
	case *Prev:
		return TypeOf(n.X)
	case *IndexRef, *LenRef:
		return Uint()
	case *SnapRef:
		return n.T
	}
	return Type{}
}
