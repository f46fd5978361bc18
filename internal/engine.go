package internal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/veristub-labs/veristub/internal/compat"
	"github.com/veristub-labs/veristub/internal/exec"
	"github.com/veristub-labs/veristub/internal/frame"
	"github.com/veristub-labs/veristub/internal/ir"
	"github.com/veristub-labs/veristub/internal/parser"
	"github.com/veristub-labs/veristub/internal/transform"
	tt "github.com/veristub-labs/veristub/internal/types"
)

// Engine manages the verification process for one program snapshot:
// contracts are transformed into their checking form, harnesses get
// annotated loops abstracted and stubbed calls replaced, and the
// resulting obligations are decided by a bounded backend. The alias
// oracle is computed once per snapshot and shared.
type Engine struct {
	prog     *ir.Program
	oracle   *frame.CallGraphOracle
	res      *frame.Resolver
	opts     Options
	log      *zap.Logger
	backend  exec.Backend
	fallback *exec.Checker

	// stubFindings holds failed stub pairings keyed by calling target.
	// An affected target reports the finding instead of being verified;
	// the rest of the snapshot is untouched.
	stubFindings map[string][]tt.Result
}

// Options configure an Engine.
type Options struct {
	// LoopContracts enables the loop abstraction; without it annotated
	// loops stay concrete and run under the unwinding bound.
	LoopContracts bool

	// Solver selects the obligation backend: "enumerate" (default) or
	// "z3" when compiled in.
	Solver string

	// Stubs maps a callee to the function whose contract replaces its
	// calls. Compatibility is checked per call site at construction.
	Stubs map[string]string

	Exec exec.Options
}

// NewEngine builds an engine over a parsed snapshot. Every stub pairing
// is compatibility-checked here, once per distinct instantiation, before
// any transformation runs; a failed pairing is fatal to the calling
// target only.
func NewEngine(prog *ir.Program, opts Options, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		prog:     prog,
		oracle:   frame.NewCallGraphOracle(prog),
		opts:     opts,
		log:      log,
		fallback: exec.NewChecker(prog, opts.Exec, log),
	}
	e.res = frame.NewResolver(e.oracle)
	e.backend = e.fallback
	if opts.Solver != "" && opts.Solver != "enumerate" {
		if opts.Solver != "z3" {
			return nil, fmt.Errorf("unknown solver %q", opts.Solver)
		}
		b, err := exec.NewSolverBackend(log)
		if err != nil {
			return nil, err
		}
		e.backend = b
	}
	e.checkStubs()
	return e, nil
}

// checkStubs validates every stub pairing against every call site that
// would be replaced. Failed pairings become failed obligations of the
// calling target; a missing or uncontracted replacement is reported per
// call site during transformation instead.
func (e *Engine) checkStubs() {
	oracle := progDispatch{prog: e.prog}
	e.stubFindings = make(map[string][]tt.Result)
	callees := make([]string, 0, len(e.opts.Stubs))
	for callee := range e.opts.Stubs {
		callees = append(callees, callee)
	}
	sort.Strings(callees)
	for _, callee := range callees {
		replName := e.opts.Stubs[callee]
		orig, ok := e.prog.Func(callee)
		if !ok {
			continue // nothing can call it
		}
		repl, ok := e.prog.Func(replName)
		if !ok || repl.Contract == nil {
			continue
		}
		uses := compat.DispatchUses(repl)
		for _, caller := range e.prog.Names() {
			checked := make(map[string]bool)
			for _, call := range callsTo(e.prog.Funcs[caller].Body, callee) {
				key := renderTypes(call.TypeArgs)
				if checked[key] {
					continue
				}
				checked[key] = true
				f := compat.Check(orig.Signature(), repl.Signature(), call.TypeArgs, uses, oracle)
				if f.Verdict == compat.Ok {
					continue
				}
				e.stubFindings[caller] = append(e.stubFindings[caller], tt.Result{
					Obligation: tt.Obligation{
						Kind:   tt.StubCompatibility,
						Target: caller,
						Expr:   fmt.Sprintf("%s replaces %s", replName, callee),
						Site:   call.Pos,
						Note:   f.Error(),
					},
					Status: tt.StatusFail,
				})
			}
		}
	}
}

// progDispatch resolves dispatch questions against the snapshot: a call
// is resolvable when the callee exists and the substituted type
// arguments are fully concrete.
type progDispatch struct {
	prog *ir.Program
}

func (o progDispatch) Resolvable(callee string, typeArgs []ir.Type) bool {
	fn, ok := o.prog.Func(callee)
	if !ok || len(typeArgs) != len(fn.TypeParams) {
		return false
	}
	for _, t := range typeArgs {
		if containsParam(t) {
			return false
		}
	}
	return true
}

func containsParam(t ir.Type) bool {
	if t.Kind == ir.KindParam {
		return true
	}
	if t.Elem != nil {
		return containsParam(*t.Elem)
	}
	return false
}

func callsTo(stmts []ir.Stmt, callee string) []*ir.Call {
	var out []*ir.Call
	for _, s := range stmts {
		switch n := s.(type) {
		case *ir.Call:
			if n.Callee == callee {
				out = append(out, n)
			}
		case *ir.If:
			out = append(out, callsTo(n.Then, callee)...)
			out = append(out, callsTo(n.Else, callee)...)
		case *ir.While:
			out = append(out, callsTo(n.Body, callee)...)
		case *ir.ForRange:
			out = append(out, callsTo(n.Body, callee)...)
		case *ir.WithFrame:
			out = append(out, callsTo(n.Body, callee)...)
		}
	}
	return out
}

func renderTypes(args []ir.Type) string {
	parts := make([]string, len(args))
	for i, t := range args {
		parts[i] = t.String()
	}
	return strings.Join(parts, ",")
}

// Report is the outcome of verifying one target.
type Report struct {
	Target  string
	Results []tt.Result
}

// Failed reports whether any obligation failed or timed out.
func (r Report) Failed() bool {
	for _, res := range r.Results {
		if res.Status != tt.StatusPass {
			return true
		}
	}
	return false
}

func (e *Engine) transformer() *transform.Transformer {
	return transform.New(e.prog, e.res, transform.Options{
		LoopContracts: e.opts.LoopContracts,
		Stubs:         e.opts.Stubs,
	})
}

// CheckContract verifies one contracted function against its own body.
// Generic functions are checked at an integer instantiation.
func (e *Engine) CheckContract(ctx context.Context, name string) (Report, error) {
	fn, ok := e.prog.Func(name)
	if !ok {
		return Report{}, fmt.Errorf("function %q not found", name)
	}
	if fn.Contract == nil {
		return Report{}, fmt.Errorf("function %q has no contract", name)
	}
	if res := e.stubFindings[name]; len(res) > 0 {
		return Report{Target: name, Results: res}, nil
	}
	inst, obs, err := e.transformer().CheckForm(fn)
	if err != nil {
		return Report{}, err
	}
	if len(inst.TypeParams) > 0 {
		args := make([]ir.Type, len(inst.TypeParams))
		for i := range args {
			args[i] = ir.Int()
		}
		inst = exec.Instantiate(inst, args)
	}
	results, err := e.decide(ctx, inst, obs)
	if err != nil {
		return Report{}, err
	}
	return Report{Target: name, Results: results}, nil
}

// VerifyHarness runs one harness entry point with loop abstraction and
// stub replacement applied.
func (e *Engine) VerifyHarness(ctx context.Context, name string) (Report, error) {
	fn, ok := e.prog.Func(name)
	if !ok {
		return Report{}, fmt.Errorf("harness %q not found", name)
	}
	if !fn.Harness {
		return Report{}, fmt.Errorf("%q is not a harness", name)
	}
	if res := e.stubFindings[name]; len(res) > 0 {
		return Report{Target: name, Results: res}, nil
	}
	inst, obs, err := e.transformer().PrepareHarness(fn)
	if err != nil {
		return Report{}, err
	}
	results, err := e.decide(ctx, inst, obs)
	if err != nil {
		return Report{}, err
	}
	return Report{Target: name, Results: results}, nil
}

// Obligations returns the obligation set a target would be checked
// against, without deciding it. Construction is deterministic: two
// calls over the same snapshot yield identical IDs.
func (e *Engine) Obligations(name string) ([]tt.Obligation, error) {
	fn, ok := e.prog.Func(name)
	if !ok {
		return nil, fmt.Errorf("function %q not found", name)
	}
	if fn.Harness {
		_, obs, err := e.transformer().PrepareHarness(fn)
		return obs, err
	}
	if fn.Contract == nil {
		return nil, fmt.Errorf("function %q has no contract", name)
	}
	_, obs, err := e.transformer().CheckForm(fn)
	return obs, err
}

func (e *Engine) decide(ctx context.Context, fn *ir.Function, obs []tt.Obligation) ([]tt.Result, error) {
	results, err := e.backend.Check(ctx, fn, obs)
	if errors.Is(err, exec.ErrUnsupported) {
		e.log.Debug("backend cannot represent target, enumerating",
			zap.String("target", fn.Name),
			zap.String("backend", e.backend.Name()))
		return e.fallback.Check(ctx, fn, obs)
	}
	return results, err
}

// errorReport folds a target-local failure into a failed obligation, so
// a frame or replacement error in one target never suppresses the
// reports of the rest. Errors outside those classes are not local and
// stay errors.
func (e *Engine) errorReport(name string, err error) (Report, bool) {
	ob := tt.Obligation{Target: name, Expr: err.Error()}
	var ve *frame.ValidationError
	var ie *frame.InferenceError
	var te *transform.Error
	switch {
	case errors.As(err, &ve), errors.As(err, &ie):
		ob.Kind = tt.FrameInclusion
	case errors.As(err, &te):
		ob.Kind = tt.StubCompatibility
		ob.Site = te.Pos
	default:
		return Report{}, false
	}
	if fn, ok := e.prog.Func(name); ok && ob.Site == (tt.Position{}) {
		ob.Site = fn.Pos
	}
	return Report{Target: name, Results: []tt.Result{{Obligation: ob, Status: tt.StatusFail}}}, true
}

// RunAll verifies every contracted function and every harness of the
// snapshot. Targets are independent and run concurrently; reports come
// back in deterministic name order, and a target-local failure shows up
// as a failed report for that target alone.
func (e *Engine) RunAll(ctx context.Context) ([]Report, error) {
	type task struct {
		name    string
		harness bool
	}
	var tasks []task
	for _, n := range e.prog.Contracted() {
		tasks = append(tasks, task{name: n})
	}
	for _, n := range e.prog.Harnesses() {
		tasks = append(tasks, task{name: n, harness: true})
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	reports := make([]Report, len(tasks))
	var firstErr error
	for i, t := range tasks {
		wg.Add(1)
		go func(i int, t task) {
			defer wg.Done()
			var rep Report
			var err error
			if t.harness {
				rep, err = e.VerifyHarness(ctx, t.name)
			} else {
				rep, err = e.CheckContract(ctx, t.name)
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if local, ok := e.errorReport(t.name, err); ok {
					reports[i] = local
					return
				}
				if firstErr == nil {
					firstErr = fmt.Errorf("%s: %w", t.name, err)
				}
				return
			}
			reports[i] = rep
		}(i, t)
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	sort.SliceStable(reports, func(a, b int) bool { return reports[a].Target < reports[b].Target })
	return reports, nil
}

// LoadFile parses one annotated source file into a program snapshot.
// Spec errors are reported alongside the snapshot; the snapshot is
// usable when only some declarations are ill-formed.
func LoadFile(filename string) (*ir.Program, []parser.SpecError, error) {
	src, err := os.ReadFile(filename)
	if err != nil {
		return nil, nil, err
	}
	return parser.Parse(filename, string(src))
}

// LoadSource parses an in-memory annotated source buffer.
func LoadSource(source []byte) (*ir.Program, []parser.SpecError, error) {
	return LoadNamedSource("<source>", source)
}

// LoadNamedSource parses a source buffer, attributing positions to the
// given filename.
func LoadNamedSource(filename string, source []byte) (*ir.Program, []parser.SpecError, error) {
	return parser.Parse(filename, string(source))
}

// SourceCode stores the lines of an annotated source file for snippet
// rendering.
type SourceCode struct {
	Lines []string
}

// ReadSourceCode reads a file and splits it into lines.
func ReadSourceCode(filename string) (*SourceCode, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return &SourceCode{Lines: strings.Split(string(content), "\n")}, nil
}
