package rules

import (
	"errors"
	"fmt"
	"testing"
)

// counting wraps a fixed result and counts evaluations
type counting struct {
	result bool
	calls  int
}

func (c *counting) Validate(student) bool {
	c.calls++
	return c.result
}

func (c *counting) Description() string { return fmt.Sprint(c.result) }

func TestAndShortCircuits(t *testing.T) {
	first := &counting{result: false}
	second := &counting{result: true}

	if And[student](first, second).Validate(student{}) {
		t.Error("AND(false,true) should be false")
	}
	if second.calls != 0 {
		t.Errorf("second condition evaluated %d times after a false one", second.calls)
	}
	if !And[student](&counting{result: true}, &counting{result: true}).Validate(student{}) {
		t.Error("AND(true,true) should be true")
	}
}

func TestOrShortCircuits(t *testing.T) {
	first := &counting{result: true}
	second := &counting{result: false}

	if !Or[student](first, second).Validate(student{}) {
		t.Error("OR(true,false) should be true")
	}
	if second.calls != 0 {
		t.Errorf("second condition evaluated %d times after a true one", second.calls)
	}
	if Or[student](&counting{}, &counting{}).Validate(student{}) {
		t.Error("OR(false,false) should be false")
	}
}

func TestConditionDescriptions(t *testing.T) {
	testCases := []struct {
		cond Condition[student]
		want string
	}{
		{And(isGirl, ageGt11), "AND(gender=girl,age>11)"},
		{Or(isGirl, Not(ageGt11)), "OR(gender=girl,NOT(age>11))"},
		{Else[student](), "ELSE"},
		{When[student]("", func(student) bool { return true }), "WHEN"},
		{Named("teenage girl", And(isGirl, ageGt11)), "teenage girl"},
	}

	for _, tc := range testCases {
		if got := tc.cond.Description(); got != tc.want {
			t.Errorf("Description() = %q, want %q", got, tc.want)
		}
	}
}

func TestNotAndNamedValidate(t *testing.T) {
	in := student{Gender: "girl", Age: 12}

	if Not(isGirl).Validate(in) {
		t.Error("NOT(gender=girl) should be false for a girl")
	}
	if !Named("teen", ageGt11).Validate(in) {
		t.Error("Named should keep the wrapped predicate")
	}
}

func TestElseIsOnlyRecognizedDirectly(t *testing.T) {
	if !isElse(Else[student]()) {
		t.Error("Else should be recognized")
	}
	if isElse(Named("otherwise", Else[student]())) {
		t.Error("a renamed Else is an ordinary condition")
	}
	if isElse(When[student]("always", func(student) bool { return true })) {
		t.Error("an always-true predicate is not an Else")
	}
}

func TestPolicyByName(t *testing.T) {
	testCases := []struct {
		name   string
		want   Policy
		wantOK bool
	}{
		{"", OncePolicy, true},
		{"once", OncePolicy, true},
		{"repeat", RepeatPolicy, true},
		{"always", nil, false},
	}

	for _, tc := range testCases {
		got, ok := PolicyByName(tc.name)
		if got != tc.want || ok != tc.wantOK {
			t.Errorf("PolicyByName(%q) = %v, %v, want %v, %v", tc.name, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestResult(t *testing.T) {
	if res := NoMatch(nil); !errors.Is(res.Err(), ErrNoMatch) || !res.IsNoMatch() {
		t.Errorf("NoMatch(nil) = %+v", res)
	}
	if res := Matched(); !res.IsMatched() || res.Err() != nil {
		t.Errorf("Matched() = %+v", res)
	}

	res := Matched().prepend("b").prepend("a")
	path := res.Path()
	if !equalStrings(path, []string{"a", "b"}) {
		t.Errorf("Path() = %v", path)
	}
	path[0] = "mutated"
	if res.Path()[0] != "a" {
		t.Error("Path() must return a copy")
	}

	for kind, want := range map[Kind]string{KindMatched: "matched", KindNoMatch: "no_match", KindFailed: "failed", Kind(9): "unknown"} {
		if kind.String() != want {
			t.Errorf("Kind(%d).String() = %q, want %q", int(kind), kind.String(), want)
		}
	}
}

func TestNoMatchErrorMessage(t *testing.T) {
	err := fmt.Errorf("evaluate: %w", &NoMatchError{Tree: "gifts", Depth: 1})

	if !errors.Is(err, ErrNoMatch) {
		t.Error("wrapped NoMatchError should match ErrNoMatch")
	}
	if err.Error() != "evaluate: tree gifts: no matching branch at depth 1" {
		t.Errorf("Error() = %q", err.Error())
	}
}
