package rules

import (
	"errors"
	"fmt"
)

var (
	// ErrNoMatch is returned when no branch of a tree applies to the input.
	// Actions may also return it to decline a branch under RepeatPolicy.
	ErrNoMatch = errors.New("no matching branch")

	// ErrAssertion is matched by every *AssertionError.
	ErrAssertion = errors.New("assertion failed")

	// ErrDuplicateElse is returned by Compile when a node declares more than one Else entry.
	ErrDuplicateElse = errors.New("node declares more than one else branch")

	// ErrInvalidEntry is returned by Compile for entries with a nil condition or target.
	ErrInvalidEntry = errors.New("invalid node entry")
)

// NoMatchError reports the tree node at which evaluation found no applicable branch.
type NoMatchError struct {
	Tree  string
	Depth int
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("tree %s: no matching branch at depth %d", e.Tree, e.Depth)
}

// Is makes errors.Is(err, ErrNoMatch) hold.
func (e *NoMatchError) Is(target error) bool {
	return target == ErrNoMatch
}

// AssertionError is returned by the action built with Assert when its condition is false.
type AssertionError struct {
	Condition string
}

func (e *AssertionError) Error() string {
	return "assertion failed: " + e.Condition
}

func (e *AssertionError) Is(target error) bool {
	return target == ErrAssertion
}
