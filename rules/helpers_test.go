package rules

import (
	"sync"
	"time"
)

type student struct {
	Name    string
	Age     int
	Gender  string
	Grade   int
	MinAge  int
	Nick    *string
	Friends []string
}

var (
	age     = NewAccessor("age", func(s student) int { return s.Age })
	minAge  = NewAccessor("minAge", func(s student) int { return s.MinAge })
	gender  = NewAccessor("gender", func(s student) string { return s.Gender })
	grade   = NewAccessor("grade", func(s student) int { return s.Grade })
	name    = NewComparableAccessor("name", func(s student) string { return s.Name })
	friends = NewValueAccessor("friends", func(s student) []string { return s.Friends })
	nick    = NewValueAccessor("nick", func(s student) *string { return s.Nick })

	isGirl  = gender.Eq("girl")
	ageGt11 = age.Gt(11)
)

// recorder collects the names of the actions that ran, in order.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) action(name string) *Action[student] {
	return Do(name, func(student) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls = append(r.calls, name)
	})
}

// failing records its name and then returns err.
func (r *recorder) failing(name string, err error) *Action[student] {
	return NewAction(name, func(student) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls = append(r.calls, name)
		return err
	})
}

func (r *recorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (r *recorder) sequence() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type observation struct {
	tree string
	kind Kind
}

type fakeObserver struct {
	mu           sync.Mutex
	observations []observation
}

func (o *fakeObserver) ObserveEvaluation(tree string, kind Kind, elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observations = append(o.observations, observation{tree: tree, kind: kind})
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
