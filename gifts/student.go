// Package gifts distributes gifts to students with decision-tree rule sets and
// records every grant in a ledger.
package gifts

import (
	"sync"

	"github.com/liamcoop/ruleng/rules"
	"github.com/liamcoop/ruleng/rules/celcond"
)

// Student is the input record of the gift rule sets.
type Student struct {
	Name     string `json:"name"`
	Age      int    `json:"age"`
	Gender   string `json:"gender"`
	Grade    int    `json:"grade"`
	ClassNum int    `json:"classNum"`

	// Receipt, when set, collects the grants made while evaluating this student.
	Receipt *Receipt `json:"-"`
}

// Facts exposes the student to CEL conditions as the "Student" object.
func (s Student) Facts() map[string]any {
	return map[string]any{
		"Student": map[string]any{
			"name":     s.Name,
			"age":      s.Age,
			"gender":   s.Gender,
			"grade":    s.Grade,
			"classNum": s.ClassNum,
		},
	}
}

// Schema declares the objects available to CEL conditions over a Student.
var Schema = celcond.Schema{
	"Student": {
		"name":     "string",
		"age":      "int",
		"gender":   "string",
		"grade":    "int",
		"classNum": "int",
	},
}

var (
	Name     = rules.NewAccessor("name", func(s Student) string { return s.Name })
	Age      = rules.NewAccessor("age", func(s Student) int { return s.Age })
	Gender   = rules.NewAccessor("gender", func(s Student) string { return s.Gender })
	Grade    = rules.NewAccessor("grade", func(s Student) int { return s.Grade })
	ClassNum = rules.NewAccessor("classNum", func(s Student) int { return s.ClassNum })
)

// Receipt collects grants for one evaluation. It is safe for concurrent use.
type Receipt struct {
	mu     sync.Mutex
	grants []*Grant
}

func (r *Receipt) add(g *Grant) {
	c := *g
	r.mu.Lock()
	r.grants = append(r.grants, &c)
	r.mu.Unlock()
}

// Grants returns the collected grants in the order they were made.
func (r *Receipt) Grants() []*Grant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Grant(nil), r.grants...)
}
