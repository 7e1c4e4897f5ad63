package rules

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Observer receives one call per top-level tree evaluation.
type Observer interface {
	ObserveEvaluation(tree string, kind Kind, elapsed time.Duration)
}

// Child is a compiled (condition, runner) pair. The runner may be a nested *Tree.
type Child[T any] struct {
	Condition Condition[T]
	Runner    Runner[T]
}

// treeNode is one compiled node stored in the arena. parent is an arena index,
// -1 at the root, and is only used for diagnostics.
type treeNode[T any] struct {
	children []Child[T]
	fallback Runner[T]
	policy   Policy
	parent   int
}

// arena holds every node compiled from one root Node. It is never mutated after
// Compile returns.
type arena[T any] struct {
	name     string
	nodes    []treeNode[T]
	logger   *slog.Logger
	observer Observer
}

// Tree is a compiled decision tree, or a handle to one of its sub-trees.
// Trees are immutable and safe for concurrent use.
type Tree[T any] struct {
	arena *arena[T]
	id    int
}

type compileConfig struct {
	name     string
	logger   *slog.Logger
	observer Observer
	policy   Policy
}

// CompileOption configures Compile.
type CompileOption func(*compileConfig)

// WithName names the tree in descriptions, logs and metrics.
func WithName(name string) CompileOption {
	return func(c *compileConfig) {
		c.name = name
	}
}

// WithLogger sets the logger used for branch selection traces (Debug level).
func WithLogger(logger *slog.Logger) CompileOption {
	return func(c *compileConfig) {
		c.logger = logger
	}
}

// WithObserver reports every top-level evaluation to o.
func WithObserver(o Observer) CompileOption {
	return func(c *compileConfig) {
		c.observer = o
	}
}

// WithPolicy sets the policy of a root node that declares none.
func WithPolicy(p Policy) CompileOption {
	return func(c *compileConfig) {
		c.policy = p
	}
}

// Compile materializes root and its nested nodes into a Tree. Nested nodes inherit
// the policy of their parent unless they declare their own.
func Compile[T any](root *Node[T], opts ...CompileOption) (*Tree[T], error) {
	cfg := compileConfig{
		name:   "root",
		policy: DefaultPolicy,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.policy == nil {
		cfg.policy = DefaultPolicy
	}

	if root == nil {
		return nil, fmt.Errorf("compile tree %s: %w: nil root node", cfg.name, ErrInvalidEntry)
	}

	a := &arena[T]{
		name:     cfg.name,
		logger:   cfg.logger,
		observer: cfg.observer,
	}
	if _, err := a.compile(root, -1, cfg.policy); err != nil {
		return nil, fmt.Errorf("compile tree %s: %w", cfg.name, err)
	}

	return &Tree[T]{arena: a, id: 0}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile[T any](root *Node[T], opts ...CompileOption) *Tree[T] {
	t, err := Compile(root, opts...)
	if err != nil {
		panic(err)
	}
	return t
}

func (a *arena[T]) compile(n *Node[T], parent int, inherited Policy) (int, error) {
	// Reserve the slot first so that ids are assigned in pre-order.
	id := len(a.nodes)
	a.nodes = append(a.nodes, treeNode[T]{parent: parent})

	tn := treeNode[T]{
		children: make([]Child[T], 0, len(n.entries)),
		policy:   inherited,
		parent:   parent,
	}
	if n.policy != nil {
		tn.policy = n.policy
	}

	for i, e := range n.entries {
		if e.condition == nil {
			return 0, fmt.Errorf("%w: entry %d at depth %d has no condition", ErrInvalidEntry, i, a.depth(id))
		}

		var runner Runner[T]
		switch {
		case e.node != nil:
			childID, err := a.compile(e.node, id, tn.policy)
			if err != nil {
				return 0, err
			}
			runner = &Tree[T]{arena: a, id: childID}
		case e.runner != nil:
			runner = e.runner
		default:
			return 0, fmt.Errorf("%w: entry %d (%s) at depth %d has no target",
				ErrInvalidEntry, i, e.condition.Description(), a.depth(id))
		}

		if isElse(e.condition) {
			if tn.fallback != nil {
				return 0, fmt.Errorf("%w (depth %d)", ErrDuplicateElse, a.depth(id))
			}
			tn.fallback = runner
			continue
		}
		tn.children = append(tn.children, Child[T]{Condition: e.condition, Runner: runner})
	}

	a.nodes[id] = tn
	return id, nil
}

func (a *arena[T]) depth(id int) int {
	depth := 0
	for p := a.nodes[id].parent; p >= 0; p = a.nodes[p].parent {
		depth++
	}
	return depth
}

func (t *Tree[T]) node() *treeNode[T] {
	return &t.arena.nodes[t.id]
}

// Run evaluates the tree against in. It returns a *NoMatchError when no branch
// applied and no fallback exists.
func (t *Tree[T]) Run(in T) error {
	return t.Evaluate(in).Err()
}

// Evaluate is Run returning the explicit Result.
func (t *Tree[T]) Evaluate(in T) Result {
	start := time.Now()
	res := t.evaluate(in)

	if t.arena.observer != nil {
		t.arena.observer.ObserveEvaluation(t.arena.name, res.Kind(), time.Since(start))
	}
	return res
}

func (t *Tree[T]) evaluate(in T) Result {
	n := t.node()
	return n.policy.Select(&scan[T]{tree: t, node: n, in: in})
}

// dispatch runs r and classifies its outcome. Sub-trees of the same arena are
// evaluated directly so that their Result, including the path, is preserved.
func (t *Tree[T]) dispatch(r Runner[T], in T) Result {
	if sub, ok := r.(*Tree[T]); ok {
		if sub.arena == t.arena {
			return sub.evaluate(in)
		}
		return sub.Evaluate(in)
	}

	err := r.Run(in)
	switch {
	case err == nil:
		return Matched()
	case errors.Is(err, ErrNoMatch):
		return NoMatch(err)
	default:
		return Failed(err)
	}
}

// Name returns the name given at compile time.
func (t *Tree[T]) Name() string {
	return t.arena.name
}

// Description identifies the tree when it is used as a runner.
func (t *Tree[T]) Description() string {
	if t.id == 0 {
		return t.arena.name
	}
	return fmt.Sprintf("%s#%d", t.arena.name, t.id)
}

// Depth is the number of parent links between this node and the root.
func (t *Tree[T]) Depth() int {
	return t.arena.depth(t.id)
}

// Parent returns the enclosing tree node, if any.
func (t *Tree[T]) Parent() (*Tree[T], bool) {
	p := t.node().parent
	if p < 0 {
		return nil, false
	}
	return &Tree[T]{arena: t.arena, id: p}, true
}

// Children returns the ordered children, excluding the fallback.
func (t *Tree[T]) Children() []Child[T] {
	return append([]Child[T](nil), t.node().children...)
}

// Fallback returns the else runner, or nil.
func (t *Tree[T]) Fallback() Runner[T] {
	return t.node().fallback
}

// Policy returns the effective policy of this node.
func (t *Tree[T]) Policy() Policy {
	return t.node().policy
}

// Describe renders the tree one branch per line, indented by depth. Sub-trees are
// marked "+++", leaf runners "---".
func (t *Tree[T]) Describe() string {
	var b strings.Builder
	if t.id == 0 {
		b.WriteString("+++" + t.arena.name + ":\n")
	}
	t.describe(&b)
	return b.String()
}

func (t *Tree[T]) String() string {
	return t.Describe()
}

func (t *Tree[T]) describe(b *strings.Builder) {
	indent := strings.Repeat("|      ", t.Depth()+1)
	line := func(desc string, r Runner[T]) {
		if sub, ok := r.(*Tree[T]); ok && sub.arena == t.arena {
			b.WriteString(indent + "+++" + desc + ":\n")
			sub.describe(b)
			return
		}
		b.WriteString(indent + "---" + desc + " --> " + r.Description() + "\n")
	}

	n := t.node()
	for _, child := range n.children {
		line(child.Condition.Description(), child.Runner)
	}
	if n.fallback != nil {
		line("ELSE", n.fallback)
	}
}

// scan is the Branches view handed to a Policy for one node and one input.
type scan[T any] struct {
	tree *Tree[T]
	node *treeNode[T]
	in   T
}

func (s *scan[T]) Len() int { return len(s.node.children) }

func (s *scan[T]) Matches(i int) bool {
	return s.node.children[i].Condition.Validate(s.in)
}

func (s *scan[T]) Dispatch(i int) Result {
	child := s.node.children[i]
	desc := child.Condition.Description()
	s.tree.arena.logger.Debug("branch selected",
		"tree", s.tree.arena.name,
		"depth", s.tree.Depth(),
		"condition", desc,
		"runner", child.Runner.Description(),
	)
	return s.tree.dispatch(child.Runner, s.in).prepend(desc)
}

func (s *scan[T]) HasFallback() bool { return s.node.fallback != nil }

func (s *scan[T]) Fallback() Result {
	s.tree.arena.logger.Debug("fallback selected",
		"tree", s.tree.arena.name,
		"depth", s.tree.Depth(),
		"runner", s.node.fallback.Description(),
	)
	return s.tree.dispatch(s.node.fallback, s.in).prepend("ELSE")
}

func (s *scan[T]) NoMatch() Result {
	depth := s.tree.Depth()
	s.tree.arena.logger.Debug("no branch matched",
		"tree", s.tree.arena.name,
		"depth", depth,
	)
	return NoMatch(&NoMatchError{Tree: s.tree.arena.name, Depth: depth})
}
