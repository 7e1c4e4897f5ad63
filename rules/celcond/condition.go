// Package celcond builds rules.Condition values from CEL expressions.
package celcond

import (
	"fmt"
	"sort"

	"github.com/google/cel-go/cel"

	"github.com/liamcoop/ruleng/rules"
)

// costLimit bounds the work a single evaluation may do.
const costLimit = 1000000

// NewEnv creates a CEL environment with one dynamically typed variable per object.
func NewEnv(objects ...string) (*cel.Env, error) {
	opts := make([]cel.EnvOption, 0, len(objects))
	for _, name := range objects {
		opts = append(opts, cel.Variable(name, cel.DynType))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// NewEnvFromSchema validates schema and declares every field as a typed variable
// named "Object.field". Expressions referring to an undeclared field, or comparing
// a field with a value of another type, fail to compile.
func NewEnvFromSchema(schema Schema) (*cel.Env, error) {
	if err := ValidateSchema(schema); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	var opts []cel.EnvOption
	for _, object := range schema.Objects() {
		fields := make([]string, 0, len(schema[object]))
		for field := range schema[object] {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		for _, field := range fields {
			opts = append(opts, cel.Variable(object+"."+field, celType(schema[object][field])))
		}
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

func celType(name string) *cel.Type {
	switch name {
	case "int", "int64":
		return cel.IntType
	case "float64":
		return cel.DoubleType
	case "string":
		return cel.StringType
	case "bool":
		return cel.BoolType
	case "bytes":
		return cel.BytesType
	case "timestamp":
		return cel.TimestampType
	case "duration":
		return cel.DurationType
	default:
		return cel.DynType
	}
}

// activation adds an "Object.field" entry for every field of every object in facts,
// so that both NewEnv and NewEnvFromSchema programs resolve against it.
func activation(facts map[string]any) map[string]any {
	vars := make(map[string]any, len(facts))
	for name, value := range facts {
		vars[name] = value
		if fields, ok := value.(map[string]any); ok {
			for field, v := range fields {
				vars[name+"."+field] = v
			}
		}
	}
	return vars
}

// Condition is a rules.Condition backed by a compiled CEL program. facts projects the
// input record into the activation the program runs against.
type Condition[T any] struct {
	expr  string
	prog  cel.Program
	facts func(T) map[string]any
}

var _ rules.Condition[struct{}] = (*Condition[struct{}])(nil)

// Compile type-checks expr against env. Expressions that can never produce a bool
// are rejected.
func Compile[T any](env *cel.Env, expr string, facts func(T) map[string]any) (*Condition[T], error) {
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("compile error: expression %q has type %s, want bool", expr, out)
	}

	prog, err := env.Program(ast,
		cel.EvalOptions(cel.OptTrackState),
		cel.CostLimit(costLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}

	return &Condition[T]{expr: expr, prog: prog, facts: facts}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile[T any](env *cel.Env, expr string, facts func(T) map[string]any) *Condition[T] {
	c, err := Compile(env, expr, facts)
	if err != nil {
		panic(err)
	}
	return c
}

// Eval runs the program. A non-bool result is reported as false without error.
func (c *Condition[T]) Eval(in T) (bool, error) {
	out, _, err := c.prog.Eval(activation(c.facts(in)))
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", c.expr, err)
	}

	matched, ok := out.Value().(bool)
	return ok && matched, nil
}

// Validate is Eval with evaluation errors treated as false.
func (c *Condition[T]) Validate(in T) bool {
	matched, err := c.Eval(in)
	return err == nil && matched
}

// Description returns the source expression.
func (c *Condition[T]) Description() string {
	return c.expr
}
