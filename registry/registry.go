// Package registry keeps the compiled rule sets of a host application by name.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"

	"github.com/liamcoop/ruleng/rules"
)

var (
	ErrNotFound    = errors.New("rule set not found")
	ErrInvalidName = errors.New("invalid rule set name")
)

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

const maxNameLen = 64

// Registry maps rule set names to compiled trees. Registering under an existing
// name swaps the tree atomically; callers already holding the old tree keep it.
type Registry[T any] struct {
	trees  map[string]*rules.Tree[T]
	logger *slog.Logger
	mu     sync.RWMutex
}

// New creates an empty registry. A nil logger means slog.Default().
func New[T any](logger *slog.Logger) *Registry[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry[T]{
		trees:  make(map[string]*rules.Tree[T]),
		logger: logger,
	}
}

// Register compiles root under name and stores it. opts are applied after the
// name, logger and option defaults of the registry.
func (r *Registry[T]) Register(name string, root *rules.Node[T], opts ...rules.CompileOption) (*rules.Tree[T], error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	base := []rules.CompileOption{rules.WithName(name), rules.WithLogger(r.logger)}
	tree, err := rules.Compile(root, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to register rule set %s: %w", name, err)
	}

	r.store(name, tree)
	return tree, nil
}

// Add stores an already compiled tree under its own name.
func (r *Registry[T]) Add(tree *rules.Tree[T]) error {
	if err := validateName(tree.Name()); err != nil {
		return err
	}
	r.store(tree.Name(), tree)
	return nil
}

func (r *Registry[T]) store(name string, tree *rules.Tree[T]) {
	r.mu.Lock()
	_, replaced := r.trees[name]
	r.trees[name] = tree
	r.mu.Unlock()

	r.logger.Info("rule set registered",
		"name", name,
		"policy", tree.Policy().Name(),
		"replaced", replaced,
		"tree", tree.Describe(),
	)
}

// Get returns the tree registered under name.
func (r *Registry[T]) Get(name string) (*rules.Tree[T], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tree, exists := r.trees[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return tree, nil
}

// Run evaluates the named rule set against in.
func (r *Registry[T]) Run(name string, in T) error {
	tree, err := r.Get(name)
	if err != nil {
		return err
	}
	return tree.Run(in)
}

// Evaluate is Run returning the explicit result.
func (r *Registry[T]) Evaluate(name string, in T) (rules.Result, error) {
	tree, err := r.Get(name)
	if err != nil {
		return rules.Result{}, err
	}
	return tree.Evaluate(in), nil
}

// Describe renders the named rule set.
func (r *Registry[T]) Describe(name string) (string, error) {
	tree, err := r.Get(name)
	if err != nil {
		return "", err
	}
	return tree.Describe(), nil
}

// List returns the registered names in sorted order.
func (r *Registry[T]) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.trees))
	for name := range r.trees {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Delete removes the named rule set.
func (r *Registry[T]) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.trees[name]; !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(r.trees, name)
	return nil
}

func validateName(name string) error {
	if len(name) == 0 || len(name) > maxNameLen {
		return fmt.Errorf("%w: %q must be 1-%d characters", ErrInvalidName, name, maxNameLen)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q must match %s", ErrInvalidName, name, namePattern)
	}
	return nil
}
