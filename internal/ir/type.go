package ir

import (
	"fmt"
	"strings"
)

// Kind enumerates the type constructors of the intermediate
// representation. The IR is deliberately small: scalar booleans and
// 64-bit integers, references, and fixed-length arrays of scalars are
// enough to express every contract and frame form the transformers
// support.
type Kind int

const (
	KindBool Kind = iota
	KindInt       // signed 64-bit
	KindUint      // unsigned 64-bit, wrapping
	KindRef       // reference to a variable or array element
	KindArray     // fixed-length array of a scalar element type
	KindParam     // type parameter, resolved by the compatibility checker
)

// Type is a structural IR type. Types are value types and compared
// structurally; the zero value is Bool.
type Type struct {
	Kind Kind
	Elem *Type  // element type for KindRef and KindArray
	Len  int    // length for KindArray
	Name string // parameter name for KindParam
}

func Bool() Type          { return Type{Kind: KindBool} }
func Int() Type           { return Type{Kind: KindInt} }
func Uint() Type          { return Type{Kind: KindUint} }
func RefTo(t Type) Type   { return Type{Kind: KindRef, Elem: &t} }
func ArrayOf(t Type, n int) Type { return Type{Kind: KindArray, Elem: &t, Len: n} }
func TypeParam(name string) Type { return Type{Kind: KindParam, Name: name} }

func (t Type) IsNumeric() bool { return t.Kind == KindInt || t.Kind == KindUint }
func (t Type) IsScalar() bool  { return t.Kind == KindBool || t.IsNumeric() }

// Equal reports structural equality. Type parameters compare by name.
func (t Type) Equal(o Type) bool {
	if t.Kind != o.Kind {
		return false
	}
	switch t.Kind {
	case KindRef:
		return t.Elem.Equal(*o.Elem)
	case KindArray:
		return t.Len == o.Len && t.Elem.Equal(*o.Elem)
	case KindParam:
		return t.Name == o.Name
	}
	return true
}

// Substitute replaces type parameters by the bindings in sub. Unbound
// parameters are left in place so the caller can detect them.
func (t Type) Substitute(sub map[string]Type) Type {
	switch t.Kind {
	case KindParam:
		if bound, ok := sub[t.Name]; ok {
			return bound
		}
		return t
	case KindRef:
		elem := t.Elem.Substitute(sub)
		return RefTo(elem)
	case KindArray:
		elem := t.Elem.Substitute(sub)
		return ArrayOf(elem, t.Len)
	}
	return t
}

func (t Type) String() string {
	switch t.Kind {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindRef:
		return "&" + t.Elem.String()
	case KindArray:
		return fmt.Sprintf("[%d]%s", t.Len, t.Elem)
	case KindParam:
		return t.Name
	}
	return "?"
}

// Signature is the callable surface of a subprogram: type parameters,
// parameter types in order, and an optional result type. It is what the
// compatibility checker operates on.
type Signature struct {
	TypeParams []string
	Params     []Type
	Result     *Type // nil when the subprogram returns nothing
}

func (s Signature) String() string {
	var b strings.Builder
	if len(s.TypeParams) > 0 {
		b.WriteString("[" + strings.Join(s.TypeParams, ", ") + "]")
	}
	b.WriteString("(")
	for i, p := range s.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.String())
	}
	b.WriteString(")")
	if s.Result != nil {
		b.WriteString(" " + s.Result.String())
	}
	return b.String()
}
