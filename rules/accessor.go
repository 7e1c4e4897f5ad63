package rules

import (
	"cmp"
	"fmt"
	"reflect"
)

// Op is a comparison operator used by Accessor.Compare.
type Op int

const (
	OpEq Op = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

func (op Op) String() string {
	switch op {
	case OpEq:
		return "="
	case OpNe:
		return "!="
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	default:
		return fmt.Sprintf("Op(%d)", int(op))
	}
}

func (op Op) ordered() bool {
	return op != OpEq && op != OpNe
}

// Accessor is a named read-only projection from an input record to a value.
// It builds comparison conditions whose evaluation is deferred to Validate.
type Accessor[T, V any] struct {
	name    string
	get     func(T) V
	compare func(a, b V) int // nil when V has no ordering
	equal   func(a, b V) bool
}

// NewAccessor creates an accessor over an ordered value type using its natural ordering.
func NewAccessor[T any, V cmp.Ordered](name string, get func(T) V) *Accessor[T, V] {
	return &Accessor[T, V]{
		name:    name,
		get:     get,
		compare: cmp.Compare[V],
		equal:   func(a, b V) bool { return cmp.Compare(a, b) == 0 },
	}
}

// NewComparableAccessor creates an accessor supporting equality and membership only.
func NewComparableAccessor[T any, V comparable](name string, get func(T) V) *Accessor[T, V] {
	return &Accessor[T, V]{
		name:  name,
		get:   get,
		equal: func(a, b V) bool { return a == b },
	}
}

// NewAccessorFunc creates an accessor ordered by compare, which must return a negative
// number, zero or a positive number as a is less than, equal to or greater than b.
func NewAccessorFunc[T, V any](name string, get func(T) V, compare func(a, b V) int) *Accessor[T, V] {
	return &Accessor[T, V]{
		name:    name,
		get:     get,
		compare: compare,
		equal:   func(a, b V) bool { return compare(a, b) == 0 },
	}
}

// NewValueAccessor creates an accessor over an arbitrary value type. Equality falls back
// to reflect.DeepEqual; ordered comparisons are not available.
func NewValueAccessor[T, V any](name string, get func(T) V) *Accessor[T, V] {
	return &Accessor[T, V]{
		name:  name,
		get:   get,
		equal: func(a, b V) bool { return reflect.DeepEqual(a, b) },
	}
}

// Name returns the symbolic name used in descriptions.
func (a *Accessor[T, V]) Name() string {
	return a.name
}

// Value projects the input record.
func (a *Accessor[T, V]) Value(in T) V {
	return a.get(in)
}

// Operand is the right-hand side of a comparison: either a constant or another
// accessor evaluated against the same input.
type Operand[T, V any] struct {
	value V
	field *Accessor[T, V]
}

// Const returns a constant operand.
func Const[T, V any](v V) Operand[T, V] {
	return Operand[T, V]{value: v}
}

// Of returns an operand projected from the input by a.
func Of[T, V any](a *Accessor[T, V]) Operand[T, V] {
	return Operand[T, V]{field: a}
}

func (o Operand[T, V]) resolve(in T) V {
	if o.field != nil {
		return o.field.get(in)
	}
	return o.value
}

func (o Operand[T, V]) String() string {
	if o.field != nil {
		return o.field.name
	}
	return fmt.Sprint(o.value)
}

type comparison[T, V any] struct {
	left  *Accessor[T, V]
	op    Op
	right Operand[T, V]
	desc  string
}

func (c *comparison[T, V]) Validate(in T) bool {
	return c.left.holds(c.op, c.left.get(in), c.right.resolve(in))
}

func (c *comparison[T, V]) Description() string { return c.desc }

// holds reports whether "l op r" is true. The left side is always the projected value.
func (a *Accessor[T, V]) holds(op Op, l, r V) bool {
	switch op {
	case OpEq:
		return a.equal(l, r)
	case OpNe:
		return !a.equal(l, r)
	}

	c := a.compare(l, r)
	switch op {
	case OpLt:
		return c < 0
	case OpLe:
		return c <= 0
	case OpGt:
		return c > 0
	case OpGe:
		return c >= 0
	default:
		return false
	}
}

// Compare builds the condition "a op operand". It panics if op is an ordering
// operator and the accessor was created without an ordering.
func (a *Accessor[T, V]) Compare(op Op, operand Operand[T, V]) Condition[T] {
	if op.ordered() && a.compare == nil {
		panic(fmt.Sprintf("rules: accessor %q has no ordering for operator %s", a.name, op))
	}
	return &comparison[T, V]{
		left:  a,
		op:    op,
		right: operand,
		desc:  a.name + op.String() + operand.String(),
	}
}

func (a *Accessor[T, V]) Eq(v V) Condition[T] { return a.Compare(OpEq, Const[T](v)) }
func (a *Accessor[T, V]) Ne(v V) Condition[T] { return a.Compare(OpNe, Const[T](v)) }
func (a *Accessor[T, V]) Lt(v V) Condition[T] { return a.Compare(OpLt, Const[T](v)) }
func (a *Accessor[T, V]) Le(v V) Condition[T] { return a.Compare(OpLe, Const[T](v)) }
func (a *Accessor[T, V]) Gt(v V) Condition[T] { return a.Compare(OpGt, Const[T](v)) }
func (a *Accessor[T, V]) Ge(v V) Condition[T] { return a.Compare(OpGe, Const[T](v)) }

func (a *Accessor[T, V]) EqOf(o *Accessor[T, V]) Condition[T] { return a.Compare(OpEq, Of(o)) }
func (a *Accessor[T, V]) NeOf(o *Accessor[T, V]) Condition[T] { return a.Compare(OpNe, Of(o)) }
func (a *Accessor[T, V]) LtOf(o *Accessor[T, V]) Condition[T] { return a.Compare(OpLt, Of(o)) }
func (a *Accessor[T, V]) LeOf(o *Accessor[T, V]) Condition[T] { return a.Compare(OpLe, Of(o)) }
func (a *Accessor[T, V]) GtOf(o *Accessor[T, V]) Condition[T] { return a.Compare(OpGt, Of(o)) }
func (a *Accessor[T, V]) GeOf(o *Accessor[T, V]) Condition[T] { return a.Compare(OpGe, Of(o)) }

// In is true iff the projected value equals one of values.
func (a *Accessor[T, V]) In(values ...V) Condition[T] {
	set := append([]V(nil), values...)
	return When(a.name+" in "+fmt.Sprint(set), func(in T) bool {
		return a.contains(set, a.get(in))
	})
}

// InOf is true iff the value projected by a is a member of the list projected by
// list from the same input. It cannot be a method: Accessor[T, []V] in a method of
// Accessor[T, V] is an instantiation cycle.
func InOf[T, V any](a *Accessor[T, V], list *Accessor[T, []V]) Condition[T] {
	return When(a.name+" in "+list.name, func(in T) bool {
		return a.contains(list.get(in), a.get(in))
	})
}

func (a *Accessor[T, V]) contains(set []V, v V) bool {
	for _, candidate := range set {
		if a.equal(v, candidate) {
			return true
		}
	}
	return false
}

// Test is true iff pred holds for the projected value.
func (a *Accessor[T, V]) Test(desc string, pred func(V) bool) Condition[T] {
	if desc == "" {
		desc = "TEST"
	}
	return When(desc, func(in T) bool {
		return pred(a.get(in))
	})
}

// IsNull is true iff the projected value is nil. Non-nillable kinds are never null.
func (a *Accessor[T, V]) IsNull() Condition[T] {
	return When(a.name+" is null", func(in T) bool {
		return isNil(a.get(in))
	})
}

// IsNonNull is the negation of IsNull.
func (a *Accessor[T, V]) IsNonNull() Condition[T] {
	return When(a.name+" is not null", func(in T) bool {
		return !isNil(a.get(in))
	})
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}
