package rules

import "strings"

// Condition is a boolean predicate over an input record.
type Condition[T any] interface {
	// Validate reports whether the input satisfies the condition
	Validate(in T) bool

	// Description is the human-readable form used in tree renderings
	Description() string
}

// alwaysTrue is implemented by the Else condition. Compile diverts entries whose
// condition reports true here into the fallback slot.
type alwaysTrue interface {
	AlwaysTrue() bool
}

func isElse[T any](c Condition[T]) bool {
	e, ok := c.(alwaysTrue)
	return ok && e.AlwaysTrue()
}

// predicate adapts a plain function into a Condition.
type predicate[T any] struct {
	desc string
	fn   func(T) bool
}

// When wraps fn as a Condition with the given description.
func When[T any](desc string, fn func(T) bool) Condition[T] {
	if desc == "" {
		desc = "WHEN"
	}
	return &predicate[T]{desc: desc, fn: fn}
}

func (p *predicate[T]) Validate(in T) bool { return p.fn(in) }
func (p *predicate[T]) Description() string { return p.desc }

type and[T any] struct {
	conditions []Condition[T]
	desc       string
}

// And is true iff every condition is true. Evaluation stops at the first false one.
func And[T any](conditions ...Condition[T]) Condition[T] {
	return &and[T]{
		conditions: conditions,
		desc:       "AND(" + joinDescriptions(conditions) + ")",
	}
}

func (c *and[T]) Validate(in T) bool {
	for _, cond := range c.conditions {
		if !cond.Validate(in) {
			return false
		}
	}
	return true
}

func (c *and[T]) Description() string { return c.desc }

type or[T any] struct {
	conditions []Condition[T]
	desc       string
}

// Or is true iff any condition is true. Evaluation stops at the first true one.
func Or[T any](conditions ...Condition[T]) Condition[T] {
	return &or[T]{
		conditions: conditions,
		desc:       "OR(" + joinDescriptions(conditions) + ")",
	}
}

func (c *or[T]) Validate(in T) bool {
	for _, cond := range c.conditions {
		if cond.Validate(in) {
			return true
		}
	}
	return false
}

func (c *or[T]) Description() string { return c.desc }

type not[T any] struct {
	condition Condition[T]
	desc      string
}

// Not negates a condition.
func Not[T any](condition Condition[T]) Condition[T] {
	return &not[T]{
		condition: condition,
		desc:      "NOT(" + condition.Description() + ")",
	}
}

func (c *not[T]) Validate(in T) bool { return !c.condition.Validate(in) }
func (c *not[T]) Description() string { return c.desc }

type elseCondition[T any] struct{}

// Else marks the fallback entry of a node. It always validates true and is not meant
// to be combined with And/Or.
func Else[T any]() Condition[T] {
	return elseCondition[T]{}
}

func (elseCondition[T]) Validate(T) bool { return true }
func (elseCondition[T]) Description() string { return "ELSE" }
func (elseCondition[T]) AlwaysTrue() bool { return true }

type named[T any] struct {
	Condition[T]
	desc string
}

// Named returns c with its description replaced by desc.
func Named[T any](desc string, c Condition[T]) Condition[T] {
	return &named[T]{Condition: c, desc: desc}
}

func (n *named[T]) Description() string { return n.desc }

func joinDescriptions[T any](conditions []Condition[T]) string {
	descs := make([]string, len(conditions))
	for i, c := range conditions {
		descs[i] = c.Description()
	}
	return strings.Join(descs, ",")
}
