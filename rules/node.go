package rules

// Entry is one (condition → target) pair of a Node. The target is either a nested
// Node or a Runner.
type Entry[T any] struct {
	condition Condition[T]
	node      *Node[T]
	runner    Runner[T]
}

// If builds an entry that dispatches to runner when condition holds.
func If[T any](condition Condition[T], runner Runner[T]) Entry[T] {
	return Entry[T]{condition: condition, runner: runner}
}

// IfNode builds an entry that descends into node when condition holds.
func IfNode[T any](condition Condition[T], node *Node[T]) Entry[T] {
	return Entry[T]{condition: condition, node: node}
}

// Branch is IfNode(condition, NewNode(entries...)).
func Branch[T any](condition Condition[T], entries ...Entry[T]) Entry[T] {
	return IfNode(condition, NewNode(entries...))
}

// Condition returns the entry's guard.
func (e Entry[T]) Condition() Condition[T] {
	return e.condition
}

// Node is an immutable declarative rule specification. Compile turns it into a Tree.
type Node[T any] struct {
	entries []Entry[T]
	policy  Policy
}

// NewNode builds a Node from entries in matching priority order.
func NewNode[T any](entries ...Entry[T]) *Node[T] {
	return &Node[T]{entries: append([]Entry[T](nil), entries...)}
}

// NewNodeWithPolicy builds a Node that overrides the policy inherited from its parent.
func NewNodeWithPolicy[T any](policy Policy, entries ...Entry[T]) *Node[T] {
	n := NewNode(entries...)
	n.policy = policy
	return n
}

// WithPolicy returns a copy of n using policy.
func (n *Node[T]) WithPolicy(policy Policy) *Node[T] {
	return &Node[T]{entries: n.entries, policy: policy}
}

// Entries returns a copy of the node's entries.
func (n *Node[T]) Entries() []Entry[T] {
	return append([]Entry[T](nil), n.entries...)
}

// Policy returns the node's override, or nil when it inherits.
func (n *Node[T]) Policy() Policy {
	return n.policy
}
