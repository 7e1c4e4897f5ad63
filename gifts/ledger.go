package gifts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrGrantNotFound = errors.New("grant not found")

	// ErrAlreadyGranted is returned by Record when the student already holds the gift.
	ErrAlreadyGranted = errors.New("gift already granted")
)

// Grant records one gift given to one student.
type Grant struct {
	ID        string    `json:"id"`
	Student   string    `json:"student"`
	Gift      string    `json:"gift"`
	RuleSet   string    `json:"ruleSet,omitempty"`
	GrantedAt time.Time `json:"grantedAt"`
}

// Ledger persists grants. A student holds each gift at most once.
type Ledger interface {
	// Record stores a new grant, assigning ID and GrantedAt when empty. It returns
	// ErrAlreadyGranted, atomically, when the student already holds the gift.
	Record(ctx context.Context, grant *Grant) error

	// Get a grant by ID
	Get(ctx context.Context, id string) (*Grant, error)

	// Has reports whether student already received gift
	Has(ctx context.Context, student, gift string) (bool, error)

	// ListByStudent returns the student's grants, oldest first
	ListByStudent(ctx context.Context, student string) ([]*Grant, error)

	// List returns at most limit grants, newest first
	List(ctx context.Context, limit int) ([]*Grant, error)
}

func prepareGrant(grant *Grant) {
	if grant.ID == "" {
		grant.ID = uuid.New().String()
	}
	if grant.GrantedAt.IsZero() {
		grant.GrantedAt = time.Now().UTC()
	}
}

type holding struct {
	student, gift string
}

// InMemoryLedger implements Ledger using an in-memory map
type InMemoryLedger struct {
	grants map[string]*Grant
	held   map[holding]struct{}
	order  []string
	mu     sync.RWMutex
}

// NewInMemoryLedger creates an empty in-memory ledger
func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{
		grants: make(map[string]*Grant),
		held:   make(map[holding]struct{}),
	}
}

func (l *InMemoryLedger) Record(_ context.Context, grant *Grant) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	prepareGrant(grant)
	if _, exists := l.grants[grant.ID]; exists {
		return fmt.Errorf("grant with ID %s already exists", grant.ID)
	}
	key := holding{grant.Student, grant.Gift}
	if _, exists := l.held[key]; exists {
		return fmt.Errorf("%s holds %s: %w", grant.Student, grant.Gift, ErrAlreadyGranted)
	}

	stored := *grant
	l.grants[grant.ID] = &stored
	l.held[key] = struct{}{}
	l.order = append(l.order, grant.ID)
	return nil
}

func (l *InMemoryLedger) Get(_ context.Context, id string) (*Grant, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	grant, exists := l.grants[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrGrantNotFound, id)
	}
	g := *grant
	return &g, nil
}

func (l *InMemoryLedger) Has(_ context.Context, student, gift string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, exists := l.held[holding{student, gift}]
	return exists, nil
}

func (l *InMemoryLedger) ListByStudent(_ context.Context, student string) ([]*Grant, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var grants []*Grant
	for _, id := range l.order {
		if g := l.grants[id]; g.Student == student {
			c := *g
			grants = append(grants, &c)
		}
	}
	return grants, nil
}

func (l *InMemoryLedger) List(_ context.Context, limit int) ([]*Grant, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	grants := make([]*Grant, 0, len(l.order))
	for i := len(l.order) - 1; i >= 0; i-- {
		c := *l.grants[l.order[i]]
		grants = append(grants, &c)
	}
	// insertion order breaks ties between equal timestamps
	sort.SliceStable(grants, func(i, j int) bool {
		return grants[i].GrantedAt.After(grants[j].GrantedAt)
	})
	if limit > 0 && len(grants) > limit {
		grants = grants[:limit]
	}
	return grants, nil
}
