package script

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/compiler"
	"github.com/risor-io/risor/modules/all"
	"github.com/risor-io/risor/object"
	"github.com/risor-io/risor/parser"
)

// RisorEngine compiles and evaluates Risor expressions. It is used for edge
// conditions and expression-based gate checks, with globals like "state" and
// "output" supplied at evaluation time.
type RisorEngine struct {
	globals map[string]any
}

// NewRisorEngine returns a Compiler backed by the Risor scripting language.
func NewRisorEngine(globals map[string]any) *RisorEngine {
	return &RisorEngine{globals: globals}
}

// DefaultGlobals returns the Risor builtins plus placeholder globals for the
// names the engine injects during evaluation.
func DefaultGlobals() map[string]any {
	globals := map[string]any{}
	for name, value := range all.Builtins() {
		globals[name] = value
	}
	globals["state"] = object.NewMap(map[string]object.Object{})
	globals["output"] = object.NewMap(map[string]object.Object{})
	globals["metadata"] = object.NewMap(map[string]object.Object{})
	globals["success"] = object.False
	return globals
}

func (e *RisorEngine) Compile(ctx context.Context, code string) (Script, error) {
	ast, err := parser.Parse(ctx, code)
	if err != nil {
		return nil, err
	}
	var globalNames []string
	for name := range e.globals {
		globalNames = append(globalNames, name)
	}
	sort.Strings(globalNames)

	compiledCode, err := compiler.Compile(ast, compiler.WithGlobalNames(globalNames))
	if err != nil {
		return nil, err
	}
	return &risorScript{engine: e, code: compiledCode}, nil
}

type risorScript struct {
	engine *RisorEngine
	code   *compiler.Code
}

func (s *risorScript) Evaluate(ctx context.Context, globals map[string]any) (Value, error) {
	combined := make(map[string]any, len(s.engine.globals)+len(globals))
	for name, value := range s.engine.globals {
		combined[name] = value
	}
	for name, value := range globals {
		combined[name] = value
	}
	obj, err := risor.EvalCode(ctx, s.code, risor.WithGlobals(combined))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate script: %w", err)
	}
	return &risorValue{obj: obj}, nil
}

type risorValue struct {
	obj object.Object
}

func (v *risorValue) Value() any {
	return convertToGo(v.obj)
}

func (v *risorValue) Float() (float64, bool) {
	switch o := v.obj.(type) {
	case *object.Int:
		return float64(o.Value()), true
	case *object.Float:
		return o.Value(), true
	default:
		return 0, false
	}
}

func (v *risorValue) IsTruthy() bool {
	switch o := v.obj.(type) {
	case *object.Bool:
		return o.Value()
	case *object.Int:
		return o.Value() != 0
	case *object.Float:
		return o.Value() != 0.0
	case *object.List:
		return len(o.Value()) > 0
	case *object.Map:
		return len(o.Value()) > 0
	case *object.String:
		val := o.Value()
		return val != "" && strings.ToLower(val) != "false"
	default:
		return o.IsTruthy()
	}
}

func (v *risorValue) String() string {
	switch o := v.obj.(type) {
	case *object.String:
		return o.Value()
	case *object.Int:
		return fmt.Sprintf("%d", o.Value())
	case *object.Float:
		return fmt.Sprintf("%g", o.Value())
	case *object.Bool:
		return fmt.Sprintf("%t", o.Value())
	case *object.NilType:
		return ""
	default:
		return o.Inspect()
	}
}

// convertToGo converts a Risor object into a plain Go value
func convertToGo(obj object.Object) any {
	switch o := obj.(type) {
	case *object.String:
		return o.Value()
	case *object.Int:
		return o.Value()
	case *object.Float:
		return o.Value()
	case *object.Bool:
		return o.Value()
	case *object.Time:
		return o.Value()
	case *object.NilType:
		return nil
	case *object.List:
		var result []any
		for _, item := range o.Value() {
			result = append(result, convertToGo(item))
		}
		return result
	case *object.Map:
		result := make(map[string]any)
		for key, value := range o.Value() {
			result[key] = convertToGo(value)
		}
		return result
	case *object.Set:
		var result []any
		for _, item := range o.Value() {
			result = append(result, convertToGo(item))
		}
		return result
	default:
		return o.Inspect()
	}
}
