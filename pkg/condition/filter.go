// Package condition provides the filter expression engine used by
// entity queries. Filters are CEL-shaped boolean expressions over an
// entity's field values; programs are compiled lazily, cached by
// source text, and evaluated against a per-entity variable environment
// supplied by the caller.
package condition

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"
)

// Common errors
var (
	ErrInvalidExpression = errors.New("invalid expression")
	ErrNotBoolean        = errors.New("expression did not produce a boolean")
	ErrRegexTimeout      = errors.New("regex timeout")
	ErrRegexComplexity   = errors.New("regex pattern too complex")
	ErrFilterComplexity  = errors.New("filter too complex")
	ErrEvaluationTimeout = errors.New("evaluation timeout")
)

// Constants for resource limits
const (
	// DefaultRegexTimeout prevents ReDoS via pathological patterns
	DefaultRegexTimeout = 100 * time.Millisecond

	// MaxRegexPatternLength rejects compilation of extreme patterns
	MaxRegexPatternLength = 1000

	// MaxFilterLength rejects compilation of extreme filter sources
	MaxFilterLength = 10000

	// DefaultProgramCacheBytes bounds the shared compiled-artifact
	// cache (filter programs and regex patterns) by source-text cost
	// rather than entry count
	DefaultProgramCacheBytes = 1 << 24
)

// PathSeparator is the indirection separator as it appears in filter
// variable names. Expression identifiers cannot contain "->", so a
// variable like Parent_Name is translated to the field path
// Parent->Name on lookup.
const PathSeparator = "_"

// TranslatePath converts a filter variable name to its field path form.
func TranslatePath(variable string) string {
	return strings.ReplaceAll(variable, PathSeparator, "->")
}

// EvalOptions tunes the evaluator's resource limits. The zero value
// gets defaults applied by NewEvaluator.
type EvalOptions struct {
	RegexTimeout      time.Duration
	MaxFilterLength   int
	ProgramCacheBytes int64
}

// Program is a compiled filter. Vars lists every variable the source
// references, so the caller can bind each one as a field read before
// evaluation.
type Program struct {
	Source string
	prog   *vm.Program
	vars   []string
}

// Vars returns the variable names the program references, excluding
// function names and the names bound by the evaluator itself.
func (p *Program) Vars() []string {
	out := make([]string, len(p.vars))
	copy(out, p.vars)
	return out
}

// Evaluator compiles and runs filter programs. Thread-safe for
// concurrent evaluations. One cost-bounded cache holds every compiled
// artifact: filter programs keyed by their source text, regex patterns
// keyed under a prefix (see regexProgram).
type Evaluator struct {
	opts     EvalOptions
	programs *ristretto.Cache
}

// NewEvaluator creates a filter evaluator with the given limits.
func NewEvaluator(opts EvalOptions) (*Evaluator, error) {
	if opts.RegexTimeout == 0 {
		opts.RegexTimeout = DefaultRegexTimeout
	}
	if opts.MaxFilterLength == 0 {
		opts.MaxFilterLength = MaxFilterLength
	}
	if opts.ProgramCacheBytes == 0 {
		opts.ProgramCacheBytes = DefaultProgramCacheBytes
	}

	programs, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     opts.ProgramCacheBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("program cache: %w", err)
	}

	return &Evaluator{
		opts:     opts,
		programs: programs,
	}, nil
}

// Close releases the program cache's background resources.
func (e *Evaluator) Close() {
	e.programs.Close()
}

// Compile returns the cached program for source, compiling on first
// sight. Compilation failures are not cached; a broken filter retried
// with the same text recompiles and fails again.
func (e *Evaluator) Compile(source string) (*Program, error) {
	if source == "" {
		return nil, fmt.Errorf("%w: empty filter", ErrInvalidExpression)
	}
	if len(source) > e.opts.MaxFilterLength {
		return nil, fmt.Errorf("%w: filter length %d exceeds limit %d",
			ErrFilterComplexity, len(source), e.opts.MaxFilterLength)
	}

	if cached, ok := e.programs.Get(source); ok {
		if p, ok := cached.(*Program); ok {
			return p, nil
		}
	}

	tree, err := parser.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}
	vars := collectVars(tree.Node)

	prog, err := expr.Compile(source, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}

	p := &Program{Source: source, prog: prog, vars: vars}
	e.programs.Set(source, p, int64(len(source)))
	return p, nil
}

// Evaluate runs p against env and coerces the result to a boolean.
// Any runtime error or non-boolean result is reported as an error; the
// caller treats both as "entity excluded" and continues the query.
func (e *Evaluator) Evaluate(ctx context.Context, p *Program, env map[string]any) (bool, error) {
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%w: %v", ErrEvaluationTimeout, ctx.Err())
	default:
	}

	runEnv := make(map[string]any, len(env)+3)
	for k, v := range env {
		runEnv[k] = v
	}
	runEnv["size"] = sizeFn
	runEnv["matches"] = e.matchesFn
	runEnv["now"] = time.Now()

	result, err := vm.Run(p.prog, runEnv)
	if err != nil {
		return false, fmt.Errorf("filter execution failed: %w", err)
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("%w: got %T", ErrNotBoolean, result)
	}
	return b, nil
}

// sizeFn is the size() builtin: length of a string, list, or map.
func sizeFn(v any) (any, error) {
	switch t := v.(type) {
	case string:
		return len(t), nil
	case []any:
		return len(t), nil
	case []string:
		return len(t), nil
	case map[string]any:
		return len(t), nil
	case nil:
		return 0, nil
	default:
		return nil, fmt.Errorf("size: unsupported type %T", v)
	}
}

// builtinNames are identifiers the evaluator binds itself; they are
// never treated as field variables.
var builtinNames = map[string]struct{}{
	"size":    {},
	"matches": {},
	"now":     {},
}

// collectVars walks the parse tree and returns every identifier that
// is not a function callee or an evaluator builtin, in first-seen
// order.
func collectVars(node ast.Node) []string {
	c := &varCollector{seen: make(map[string]struct{})}
	ast.Walk(&node, c)
	var out []string
	for _, name := range c.order {
		if _, called := c.callees[name]; called {
			continue
		}
		if _, builtin := builtinNames[name]; builtin {
			continue
		}
		out = append(out, name)
	}
	return out
}

type varCollector struct {
	seen    map[string]struct{}
	order   []string
	callees map[string]struct{}
}

func (c *varCollector) Visit(node *ast.Node) {
	switch n := (*node).(type) {
	case *ast.IdentifierNode:
		if _, ok := c.seen[n.Value]; !ok {
			c.seen[n.Value] = struct{}{}
			c.order = append(c.order, n.Value)
		}
	case *ast.CallNode:
		if id, ok := n.Callee.(*ast.IdentifierNode); ok {
			if c.callees == nil {
				c.callees = make(map[string]struct{})
			}
			c.callees[id.Value] = struct{}{}
		}
	}
}
