// Package expr compiles the CEL expressions plugin properties carry, such as
// e-mail routing conditions and computed field formulas.
package expr

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	"google.golang.org/protobuf/types/known/structpb"
)

var jsonValueType = reflect.TypeOf(&structpb.Value{})

// Activation variables every expression can read.
const (
	VarInput      = "input"
	VarProperties = "properties"
	VarState      = "state"
	VarNow        = "now"
)

// Environment compiles CEL programs against the plugin activation and
// memoizes them by source, since instance properties are evaluated per
// request.
type Environment struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]Program
}

// NewEnvironment declares the CEL variables exposed to property expressions.
// Aggregate literals may mix element types so computed field states can be
// built as map literals.
func NewEnvironment() (*Environment, error) {
	env, err := cel.NewEnv(
		cel.Variable(VarInput, cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable(VarProperties, cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable(VarState, cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable(VarNow, cel.IntType),
		cel.Function("lookup",
			cel.Overload("lookup_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType},
				cel.DynType,
				cel.BinaryBinding(lookupMapValue),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("expr: build environment: %w", err)
	}
	return &Environment{env: env, programs: make(map[string]Program)}, nil
}

// Program wraps a compiled CEL program.
type Program struct {
	source   string
	program  cel.Program
	wantBool bool
}

// Compile prepares a program that must yield a boolean.
func (e *Environment) Compile(expression string) (Program, error) {
	return e.cached(expression, true)
}

// CompileValue prepares a program that may yield any value.
func (e *Environment) CompileValue(expression string) (Program, error) {
	return e.cached(expression, false)
}

// EvalBool executes the program and coerces the result to bool.
func (p Program) EvalBool(vars map[string]any) (bool, error) {
	if p.program == nil {
		return false, fmt.Errorf("expr: program not initialized")
	}
	if !p.wantBool {
		return false, fmt.Errorf("expr: program %q does not return a boolean", p.source)
	}
	val, _, err := p.program.Eval(withDefaults(vars))
	if err != nil {
		return false, fmt.Errorf("expr: eval %q: %w", p.source, err)
	}
	switch v := val.(type) {
	case types.Bool:
		return bool(v), nil
	case ref.Val:
		if v.Type() == types.BoolType {
			if b, ok := v.Value().(bool); ok {
				return b, nil
			}
		}
	}
	return false, fmt.Errorf("expr: %q yielded non-bool result %T", p.source, val)
}

// Source returns the trimmed CEL expression.
func (p Program) Source() string { return p.source }

// Eval executes the program and returns the native value.
func (p Program) Eval(vars map[string]any) (any, error) {
	if p.program == nil {
		return nil, fmt.Errorf("expr: program not initialized")
	}
	val, _, err := p.program.Eval(withDefaults(vars))
	if err != nil {
		return nil, fmt.Errorf("expr: eval %q: %w", p.source, err)
	}
	return val.Value(), nil
}

// EvalJSON executes the program and converts the result to plain JSON values:
// map[string]any, []any, string, float64, bool or nil.
func (p Program) EvalJSON(vars map[string]any) (any, error) {
	if p.program == nil {
		return nil, fmt.Errorf("expr: program not initialized")
	}
	val, _, err := p.program.Eval(withDefaults(vars))
	if err != nil {
		return nil, fmt.Errorf("expr: eval %q: %w", p.source, err)
	}
	native, err := val.ConvertToNative(jsonValueType)
	if err != nil {
		return nil, fmt.Errorf("expr: %q result is not JSON compatible: %w", p.source, err)
	}
	return native.(*structpb.Value).AsInterface(), nil
}

// Cached reports how many distinct programs have been compiled.
func (e *Environment) Cached() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.programs)
}

func (e *Environment) cached(expression string, wantBool bool) (Program, error) {
	source := strings.TrimSpace(expression)
	key := source
	if wantBool {
		key = "bool:" + source
	}
	e.mu.RLock()
	program, ok := e.programs[key]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}
	program, err := e.compile(source, wantBool)
	if err != nil {
		return Program{}, err
	}
	e.mu.Lock()
	e.programs[key] = program
	e.mu.Unlock()
	return program, nil
}

func (e *Environment) compile(source string, wantBool bool) (Program, error) {
	if source == "" {
		return Program{}, fmt.Errorf("expr: expression required")
	}
	ast, issues := e.env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return Program{}, fmt.Errorf("expr: compile %q: %w", source, issues.Err())
	}
	if wantBool {
		if t := ast.OutputType(); t != cel.BoolType && t != cel.DynType {
			return Program{}, fmt.Errorf("expr: %q must return bool, got %s", source, cel.FormatCELType(t))
		}
	}
	program, err := e.env.Program(ast)
	if err != nil {
		return Program{}, fmt.Errorf("expr: program %q: %w", source, err)
	}
	return Program{source: source, program: program, wantBool: wantBool}, nil
}

// withDefaults fills undeclared map variables with empty maps so expressions
// that only read input do not fail on a missing properties binding.
func withDefaults(vars map[string]any) map[string]any {
	out := make(map[string]any, len(vars)+3)
	for _, name := range []string{VarInput, VarProperties, VarState} {
		out[name] = map[string]any{}
	}
	out[VarNow] = int64(0)
	for k, v := range vars {
		out[k] = v
	}
	return out
}

func lookupMapValue(mapVal ref.Val, key ref.Val) ref.Val {
	mapper, ok := mapVal.(traits.Mapper)
	if !ok {
		return types.NewErr("expr: lookup only supports string-key maps")
	}
	value, found := mapper.Find(key)
	if !found || value == nil {
		return types.NullValue
	}
	return value
}
