package rules

import "strings"

// Runner is an executable unit over an input record: an Action, a Chain, a Capture
// or a compiled Tree.
type Runner[T any] interface {
	// Run executes the runner. It returns ErrNoMatch (possibly wrapped) when no
	// branch applies, or any error raised by an action.
	Run(in T) error

	// Description is the human-readable form used in tree renderings
	Description() string
}

// Action is a leaf runner wrapping an external side-effecting callable.
type Action[T any] struct {
	desc string
	fn   func(T) error
}

// NewAction wraps fn. fn may return ErrNoMatch to decline the branch.
func NewAction[T any](desc string, fn func(T) error) *Action[T] {
	if desc == "" {
		desc = "ACTION"
	}
	return &Action[T]{desc: desc, fn: fn}
}

// Do wraps a callable that cannot fail.
func Do[T any](desc string, fn func(T)) *Action[T] {
	return NewAction(desc, func(in T) error {
		fn(in)
		return nil
	})
}

// Pass returns an action that does nothing.
func Pass[T any]() *Action[T] {
	return NewAction("PASS", func(T) error { return nil })
}

// Assert returns an action that fails with *AssertionError when condition is false.
func Assert[T any](condition Condition[T]) *Action[T] {
	desc := "assert " + condition.Description()
	return NewAction(desc, func(in T) error {
		if !condition.Validate(in) {
			return &AssertionError{Condition: condition.Description()}
		}
		return nil
	})
}

func (a *Action[T]) Run(in T) error { return a.fn(in) }
func (a *Action[T]) Description() string { return a.desc }

// Chain executes runners strictly in order and stops at the first error.
type Chain[T any] struct {
	runners []Runner[T]
	desc    string
}

// Then builds a Chain over runners.
func Then[T any](runners ...Runner[T]) *Chain[T] {
	descs := make([]string, len(runners))
	for i, r := range runners {
		descs[i] = r.Description()
	}
	return &Chain[T]{
		runners: runners,
		desc:    strings.Join(descs, "==>"),
	}
}

func (c *Chain[T]) Run(in T) error {
	for _, r := range c.runners {
		if err := r.Run(in); err != nil {
			return err
		}
	}
	return nil
}

func (c *Chain[T]) Description() string { return c.desc }

// Runners returns a copy of the chained runners.
func (c *Chain[T]) Runners() []Runner[T] {
	return append([]Runner[T](nil), c.runners...)
}

// ThenRun chains next after r.
func ThenRun[T any](r Runner[T], next ...Runner[T]) *Chain[T] {
	return Then(append([]Runner[T]{r}, next...)...)
}

// ThenIf chains r with a tree compiled from entries.
func ThenIf[T any](r Runner[T], entries ...Entry[T]) (*Chain[T], error) {
	tree, err := Compile(NewNode(entries...))
	if err != nil {
		return nil, err
	}
	return Then[T](r, tree), nil
}

// Capture runs an inner runner and recovers from the errors it returns.
type Capture[T any] struct {
	inner      Runner[T]
	onRejected Runner[T]
	handler    func(T, error)
	desc       string
}

// CaptureOption configures a Capture.
type CaptureOption[T any] func(*Capture[T])

// OnRejected runs r with the same input when the inner runner fails. Errors from r
// are not captured.
func OnRejected[T any](r Runner[T]) CaptureOption[T] {
	return func(c *Capture[T]) {
		c.onRejected = r
	}
}

// HandleWith hands the input and the inner error to fn and suppresses the error.
func HandleWith[T any](fn func(T, error)) CaptureOption[T] {
	return func(c *Capture[T]) {
		c.handler = fn
	}
}

// NewCapture wraps inner. Without HandleWith the inner error is returned after the
// OnRejected runner (if any) has run.
func NewCapture[T any](inner Runner[T], opts ...CaptureOption[T]) *Capture[T] {
	c := &Capture[T]{inner: inner}
	for _, opt := range opts {
		opt(c)
	}

	desc := "CAPTURE"
	if c.onRejected != nil {
		desc += "->" + c.onRejected.Description()
	}
	if c.handler == nil {
		desc += "->THROW"
	} else {
		desc += "->HANDLE"
	}
	c.desc = desc
	return c
}

func (c *Capture[T]) Run(in T) error {
	err := c.inner.Run(in)
	if err == nil {
		return nil
	}

	if c.onRejected != nil {
		if rerr := c.onRejected.Run(in); rerr != nil {
			return rerr
		}
	}
	if c.handler == nil {
		return err
	}
	c.handler(in, err)
	return nil
}

func (c *Capture[T]) Description() string { return c.desc }
