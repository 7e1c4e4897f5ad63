package rules

import (
	"errors"
	"testing"
)

func TestChainOrderAndAbort(t *testing.T) {
	boom := errors.New("boom")
	rec := &recorder{}
	chain := Then[student](rec.action("r1"), rec.failing("r2", boom), rec.action("r3"))

	err := chain.Run(student{})
	if !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want %v", err, boom)
	}
	if !equalStrings(rec.sequence(), []string{"r1", "r2"}) {
		t.Errorf("sequence = %v, want [r1 r2]", rec.sequence())
	}
	if chain.Description() != "r1==>r2==>r3" {
		t.Errorf("Description() = %q", chain.Description())
	}
	if len(chain.Runners()) != 3 {
		t.Errorf("len(Runners()) = %d", len(chain.Runners()))
	}
}

func TestThenRun(t *testing.T) {
	rec := &recorder{}
	chain := ThenRun[student](rec.action("a"), rec.action("b"), rec.action("c"))

	if err := chain.Run(student{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !equalStrings(rec.sequence(), []string{"a", "b", "c"}) {
		t.Errorf("sequence = %v", rec.sequence())
	}
}

func TestCapture(t *testing.T) {
	boom := errors.New("boom")

	testCases := []struct {
		name       string
		inner      func(*recorder) Runner[student]
		onRejected bool
		handle     bool
		wantErr    error
		wantCalls  []string
		wantDesc   string
	}{
		{
			name:      "success skips recovery",
			inner:     func(r *recorder) Runner[student] { return r.action("inner") },
			handle:    true,
			wantCalls: []string{"inner"},
			wantDesc:  "CAPTURE->HANDLE",
		},
		{
			name:      "rethrows without handler",
			inner:     func(r *recorder) Runner[student] { return r.failing("inner", boom) },
			wantErr:   boom,
			wantCalls: []string{"inner"},
			wantDesc:  "CAPTURE->THROW",
		},
		{
			name:       "onRejected then rethrow",
			inner:      func(r *recorder) Runner[student] { return r.failing("inner", boom) },
			onRejected: true,
			wantErr:    boom,
			wantCalls:  []string{"inner", "rejected"},
			wantDesc:   "CAPTURE->rejected->THROW",
		},
		{
			name:      "handler suppresses",
			inner:     func(r *recorder) Runner[student] { return r.failing("inner", boom) },
			handle:    true,
			wantCalls: []string{"inner", "handler"},
			wantDesc:  "CAPTURE->HANDLE",
		},
		{
			name:       "onRejected then handler",
			inner:      func(r *recorder) Runner[student] { return r.failing("inner", boom) },
			onRejected: true,
			handle:     true,
			wantCalls:  []string{"inner", "rejected", "handler"},
			wantDesc:   "CAPTURE->rejected->HANDLE",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &recorder{}
			var handled error
			var opts []CaptureOption[student]
			if tc.onRejected {
				opts = append(opts, OnRejected[student](rec.action("rejected")))
			}
			if tc.handle {
				opts = append(opts, HandleWith(func(_ student, err error) {
					handled = err
					rec.action("handler").Run(student{})
				}))
			}

			c := NewCapture(tc.inner(rec), opts...)
			err := c.Run(student{})
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("Run() error = %v, want %v", err, tc.wantErr)
			}
			if !equalStrings(rec.sequence(), tc.wantCalls) {
				t.Errorf("sequence = %v, want %v", rec.sequence(), tc.wantCalls)
			}
			if c.Description() != tc.wantDesc {
				t.Errorf("Description() = %q, want %q", c.Description(), tc.wantDesc)
			}
			if tc.handle && len(tc.wantCalls) > 1 && !errors.Is(handled, boom) {
				t.Errorf("handler got %v, want %v", handled, boom)
			}
		})
	}
}

func TestCaptureOnRejectedErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	rejected := errors.New("rejected failed")
	rec := &recorder{}
	handlerCalled := false

	c := NewCapture[student](rec.failing("inner", boom),
		OnRejected[student](rec.failing("rejected", rejected)),
		HandleWith(func(student, error) { handlerCalled = true }),
	)

	if err := c.Run(student{}); !errors.Is(err, rejected) {
		t.Errorf("Run() error = %v, want %v", err, rejected)
	}
	if handlerCalled {
		t.Error("handler should not run after onRejected fails")
	}
}

// TestCaptureInsideTree verifies a captured NoMatch from a nested tree does not
// reach the caller.
func TestCaptureInsideTree(t *testing.T) {
	var captured error
	inner := MustCompile(NewNode(If(grade.Eq(5), Runner[student](Pass[student]()))))
	tree := MustCompile(NewNode(
		If(isGirl, Runner[student](NewCapture[student](inner, HandleWith(func(_ student, err error) {
			captured = err
		})))),
	))

	if err := tree.Run(student{Gender: "girl", Grade: 1}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !errors.Is(captured, ErrNoMatch) {
		t.Errorf("captured = %v, want ErrNoMatch", captured)
	}
}

func TestAssert(t *testing.T) {
	a := Assert(age.Ge(6))

	if a.Description() != "assert age>=6" {
		t.Errorf("Description() = %q", a.Description())
	}
	if err := a.Run(student{Age: 6}); err != nil {
		t.Errorf("Run() error = %v", err)
	}

	err := a.Run(student{Age: 5})
	var ae *AssertionError
	if !errors.As(err, &ae) {
		t.Fatalf("Run() error = %v, want *AssertionError", err)
	}
	if ae.Condition != "age>=6" || !errors.Is(err, ErrAssertion) {
		t.Errorf("unexpected assertion error %v", err)
	}
	if errors.Is(err, ErrNoMatch) {
		t.Error("assertion failures must not look like NoMatch")
	}
}

func TestActionDefaults(t *testing.T) {
	if d := NewAction[student]("", func(student) error { return nil }).Description(); d != "ACTION" {
		t.Errorf("default description = %q", d)
	}
	if err := Pass[student]().Run(student{}); err != nil {
		t.Errorf("Pass().Run() error = %v", err)
	}
}
