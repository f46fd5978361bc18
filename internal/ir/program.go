package ir

import (
	"fmt"
	"sort"

	tt "github.com/veristub-labs/veristub/internal/types"
)

// Param is a named, typed slot: a parameter or a local.
type Param struct {
	Name string
	Type Type
}

// Function is one subprogram of a program snapshot. A function with a
// non-nil Contract may be checked against its own body or used as a
// trusted replacement at call sites. A harness is a verification entry
// point with no contract of its own.
type Function struct {
	Name       string
	TypeParams []string
	Params     []Param
	Result     *Type
	Locals     []Param
	Body       []Stmt
	Contract   *Contract
	Harness    bool
	Pos        tt.Position

	// Transformed marks a body already rewritten by a transformer.
	// Transformers refuse such functions so abstractions never stack.
	Transformed bool
}

// Signature returns the callable surface used by the compatibility
// checker.
func (f *Function) Signature() Signature {
	params := make([]Type, len(f.Params))
	for i, p := range f.Params {
		params[i] = p.Type
	}
	return Signature{TypeParams: append([]string(nil), f.TypeParams...), Params: params, Result: f.Result}
}

// LookupVar resolves a name against parameters and locals.
func (f *Function) LookupVar(name string) (Type, bool) {
	for _, p := range f.Params {
		if p.Name == name {
			return p.Type, true
		}
	}
	for _, l := range f.Locals {
		if l.Name == name {
			return l.Type, true
		}
	}
	return Type{}, false
}

// AddLocal declares a fresh local, returning its name. The base name is
// suffixed until unique; transformers use this for snapshot and result
// temporaries.
func (f *Function) AddLocal(base string, t Type) string {
	name := base
	for i := 0; ; i++ {
		if _, exists := f.LookupVar(name); !exists {
			break
		}
		name = fmt.Sprintf("%s_%d", base, i)
	}
	f.Locals = append(f.Locals, Param{Name: name, Type: t})
	return name
}

// Clone returns a deep copy of the function's mutable parts. Expressions
// are immutable once built and are shared; statement sequences, local
// tables and contract sites are copied so a transformation pass owns its
// input exclusively.
func (f *Function) Clone() *Function {
	cp := *f
	cp.Params = append([]Param(nil), f.Params...)
	cp.Locals = append([]Param(nil), f.Locals...)
	cp.TypeParams = append([]string(nil), f.TypeParams...)
	cp.Body = CloneStmts(f.Body)
	return &cp
}

// CloneStmts deep-copies a statement sequence.
func CloneStmts(stmts []Stmt) []Stmt {
	out := make([]Stmt, len(stmts))
	for i, s := range stmts {
		switch n := s.(type) {
		case *Assign:
			c := *n
			out[i] = &c
		case *If:
			out[i] = &If{Cond: n.Cond, Then: CloneStmts(n.Then), Else: CloneStmts(n.Else), Pos: n.Pos}
		case *While:
			out[i] = &While{Cond: n.Cond, Body: CloneStmts(n.Body), Site: n.Site, Pos: n.Pos}
		case *ForRange:
			out[i] = &ForRange{Var: n.Var, N: n.N, Body: CloneStmts(n.Body), Site: n.Site, Pos: n.Pos}
		case *Call:
			c := *n
			c.Args = append([]Expr(nil), n.Args...)
			out[i] = &c
		case *Return:
			c := *n
			out[i] = &c
		case *Assume:
			c := *n
			out[i] = &c
		case *Assert:
			c := *n
			out[i] = &c
		case *Havoc:
			out[i] = &Havoc{Targets: append([]FrameTarget(nil), n.Targets...)}
		case *WithFrame:
			out[i] = &WithFrame{Targets: append([]FrameTarget(nil), n.Targets...), Body: CloneStmts(n.Body), Ob: n.Ob}
		default:
			out[i] = s
		}
	}
	return out
}

// Program is an immutable snapshot of the subprogram representations a
// verification run operates on. Independent targets may be transformed
// in parallel; nothing here is mutated after construction.
type Program struct {
	Filename string
	Funcs    map[string]*Function
}

func NewProgram(filename string) *Program {
	return &Program{Filename: filename, Funcs: make(map[string]*Function)}
}

func (p *Program) Func(name string) (*Function, bool) {
	f, ok := p.Funcs[name]
	return f, ok
}

// Names returns function names in deterministic order.
func (p *Program) Names() []string {
	names := make([]string, 0, len(p.Funcs))
	for n := range p.Funcs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Harnesses returns the names of all harness functions.
func (p *Program) Harnesses() []string {
	var out []string
	for _, n := range p.Names() {
		if p.Funcs[n].Harness {
			out = append(out, n)
		}
	}
	return out
}

// Contracted returns the names of all functions carrying a contract.
func (p *Program) Contracted() []string {
	var out []string
	for _, n := range p.Names() {
		if p.Funcs[n].Contract != nil {
			out = append(out, n)
		}
	}
	return out
}
