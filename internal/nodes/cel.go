package nodes

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// Variables visible to expressions:
//
//	value  the value read from the node's "in" attribute
//	input  the external tick input
//	data   the node's internal data
var celEnv = sync.OnceValues(func() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("value", cel.DynType),
		cel.Variable("input", cel.DynType),
		cel.Variable("data", cel.MapType(cel.StringType, cel.DynType)),
	)
})

// program caches the compiled form of one expression.
type program struct {
	source string
	prg    cel.Program
}

// compile returns a program for src, reusing the cached one when the
// expression did not change.
func (p *program) compile(src string) (cel.Program, error) {
	if p.prg != nil && p.source == src {
		return p.prg, nil
	}
	if src == "" {
		return nil, fmt.Errorf("empty expression")
	}
	env, err := celEnv()
	if err != nil {
		return nil, fmt.Errorf("cel environment: %w", err)
	}
	ast, issues := env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", src, issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", src, err)
	}
	p.source, p.prg = src, prg
	return prg, nil
}

func (p *program) eval(src string, vars map[string]any) (any, error) {
	prg, err := p.compile(src)
	if err != nil {
		return nil, err
	}
	out, _, err := prg.Eval(vars)
	if err != nil {
		return nil, fmt.Errorf("eval %q: %w", src, err)
	}
	return native(out)
}

// native turns a CEL value into a plain Go value.
func native(v ref.Val) (any, error) {
	switch v.Type() {
	case types.BoolType, types.DoubleType, types.StringType, types.BytesType, types.UintType:
		return v.Value(), nil
	case types.IntType:
		return int(v.Value().(int64)), nil
	case types.NullType:
		return nil, nil
	case types.ListType:
		return v.ConvertToNative(reflect.TypeOf([]any{}))
	case types.MapType:
		return v.ConvertToNative(reflect.TypeOf(map[string]any{}))
	}
	return nil, fmt.Errorf("unsupported expression result type %v", v.Type())
}

// celVars builds the activation for one evaluation.
func celVars(value, input any, data map[string]any) map[string]any {
	d := make(map[string]any, len(data))
	for k, v := range data {
		d[k] = toFloat(v)
	}
	return map[string]any{
		"value": toFloat(value),
		"input": toFloat(input),
		"data":  d,
	}
}
