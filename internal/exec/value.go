// Package exec is the bounded checker: it explores every execution of
// an instrumented subprogram over small typed input domains, pruning on
// assume and reporting each assert against its obligation. Exploration
// is exhaustive within the domains and the unwinding bound, so a PASS
// is a proof over the bounded space and a FAIL carries a concrete
// witness.
package exec

import (
	"fmt"
	"sort"
	"strings"

	"github.com/veristub-labs/veristub/internal/ir"
	tt "github.com/veristub-labs/veristub/internal/types"
)

// loc is a cell index into a state's flat memory.
type loc = int

// value is the content of one memory cell: a scalar or a reference.
// Arrays are not values; they occupy runs of consecutive cells.
type value struct {
	t   ir.Type
	b   bool
	i   int64
	ref loc
}

func boolVal(b bool) value        { return value{t: ir.Bool(), b: b} }
func intVal(t ir.Type, i int64) value { return value{t: t, i: i} }
func refVal(t ir.Type, l loc) value   { return value{t: t, ref: l} }

func (v value) String() string {
	switch v.t.Kind {
	case ir.KindBool:
		return fmt.Sprintf("%t", v.b)
	case ir.KindRef:
		return fmt.Sprintf("&#%d", v.ref)
	case ir.KindUint:
		// the cell holds the bit pattern; render it unsigned
		return fmt.Sprintf("%d", uint64(v.i))
	default:
		return fmt.Sprintf("%d", v.i)
	}
}

// cellCount is the number of cells a variable of type t occupies.
func cellCount(t ir.Type) int {
	if t.Kind == ir.KindArray {
		return t.Len * cellCount(*t.Elem)
	}
	return 1
}

// cellType is the scalar type stored in each cell of t. An abstract
// type parameter defaults to int; callers monomorphize before checking.
func cellType(t ir.Type) ir.Type {
	switch t.Kind {
	case ir.KindArray:
		return cellType(*t.Elem)
	case ir.KindParam:
		return ir.Int()
	}
	return t
}

// slot binds a variable name to its storage.
type slot struct {
	t    ir.Type
	base loc
}

// env is one activation: the function being executed and its variable
// bindings. Bindings never change after activation setup; only memory
// does.
type env struct {
	fn   *ir.Function
	vars map[string]slot

	// ret receives the state and value of every return path; nil value
	// means a void return or fall-through.
	ret func(*state, *value)
}

func (e *env) slot(name string) slot {
	s, ok := e.vars[name]
	if !ok {
		panic(fmt.Sprintf("exec: unbound variable %q in %s", name, e.fn.Name))
	}
	return s
}

// frameScope is one active write frame. Cells allocated at or past the
// watermark postdate the frame and are exempt: they belong to callee
// activations the frame's declarer cannot observe.
type frameScope struct {
	allowed   map[loc]bool
	watermark loc
	ob        tt.Obligation
}

// state is one point of the exploration: flat memory plus the stack of
// active write frames. Forking copies both; expressions and bindings
// are shared.
type state struct {
	mem    []value
	frames []frameScope
}

func (st *state) fork() *state {
	cp := &state{
		mem:    append([]value(nil), st.mem...),
		frames: append([]frameScope(nil), st.frames...),
	}
	return cp
}

// alloc reserves n zero cells of scalar type t, returning the base.
func (st *state) alloc(t ir.Type, n int) loc {
	base := len(st.mem)
	for i := 0; i < n; i++ {
		st.mem = append(st.mem, value{t: t})
	}
	return base
}

// locSet is an ordered set of cells, used for frame targets and havoc.
type locSet struct {
	cells map[loc]bool
}

func newLocSet() *locSet { return &locSet{cells: make(map[loc]bool)} }

func (s *locSet) add(l loc)          { s.cells[l] = true }
func (s *locSet) addRun(base loc, n int) {
	for i := 0; i < n; i++ {
		s.cells[base+i] = true
	}
}

func (s *locSet) sorted() []loc {
	out := make([]loc, 0, len(s.cells))
	for l := range s.cells {
		out = append(out, l)
	}
	sort.Ints(out)
	return out
}

// renderEnv prints the variables of an activation for a witness. Cells
// are read through the bindings so arrays come out as element lists.
func renderEnv(st *state, en *env) string {
	names := make([]string, 0, len(en.vars))
	for n := range en.vars {
		names = append(names, n)
	}
	sort.Strings(names)
	var b strings.Builder
	for i, n := range names {
		if i > 0 {
			b.WriteString(", ")
		}
		s := en.vars[n]
		b.WriteString(n)
		b.WriteString("=")
		if s.t.Kind == ir.KindArray {
			b.WriteString("[")
			for j := 0; j < s.t.Len; j++ {
				if j > 0 {
					b.WriteString(" ")
				}
				b.WriteString(st.mem[s.base+j].String())
			}
			b.WriteString("]")
		} else {
			b.WriteString(st.mem[s.base].String())
		}
	}
	return b.String()
}
