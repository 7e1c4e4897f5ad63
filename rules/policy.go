package rules

// Kind classifies a Result.
type Kind int

const (
	KindMatched Kind = iota
	KindNoMatch
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindMatched:
		return "matched"
	case KindNoMatch:
		return "no_match"
	case KindFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the outcome of evaluating a tree node. NoMatch is a value here rather
// than an error so that policies can branch on it explicitly.
type Result struct {
	kind Kind
	err  error
	path []string
}

// Matched reports a successful dispatch.
func Matched() Result {
	return Result{kind: KindMatched}
}

// NoMatch reports that no branch applied. err carries the diagnostic and should
// match ErrNoMatch.
func NoMatch(err error) Result {
	if err == nil {
		err = ErrNoMatch
	}
	return Result{kind: KindNoMatch, err: err}
}

// Failed reports an error that must abort evaluation.
func Failed(err error) Result {
	return Result{kind: KindFailed, err: err}
}

func (r Result) Kind() Kind { return r.kind }
func (r Result) IsMatched() bool { return r.kind == KindMatched }
func (r Result) IsNoMatch() bool { return r.kind == KindNoMatch }
func (r Result) Err() error { return r.err }

// Path returns the descriptions of the conditions selected from the evaluated node
// down to the dispatched runner. A fallback dispatch is recorded as ELSE.
func (r Result) Path() []string {
	return append([]string(nil), r.path...)
}

func (r Result) prepend(step string) Result {
	path := make([]string, 0, len(r.path)+1)
	r.path = append(append(path, step), r.path...)
	return r
}

// Branches is the view of one tree node that a Policy scans for a single input.
type Branches interface {
	// Len is the number of ordered children, excluding the fallback
	Len() int

	// Matches validates child i's condition against the input
	Matches(i int) bool

	// Dispatch runs child i's runner
	Dispatch(i int) Result

	HasFallback() bool

	// Fallback runs the else runner. It must only be called when HasFallback is true.
	Fallback() Result

	// NoMatch builds the result returned when nothing applied at this node
	NoMatch() Result
}

// Policy selects which branch of a tree node runs and decides which failures are
// absorbed locally.
type Policy interface {
	Name() string
	Select(b Branches) Result
}

type oncePolicy struct{}

func (oncePolicy) Name() string { return "once" }

// Select dispatches the first matching child. Its result is final.
func (oncePolicy) Select(b Branches) Result {
	for i := 0; i < b.Len(); i++ {
		if b.Matches(i) {
			return b.Dispatch(i)
		}
	}
	if b.HasFallback() {
		return b.Fallback()
	}
	return b.NoMatch()
}

type repeatPolicy struct{}

func (repeatPolicy) Name() string { return "repeat" }

// Select treats a matched child whose runner reports NoMatch as not matched and keeps
// scanning. Effects that runner performed before declining are not rolled back.
func (repeatPolicy) Select(b Branches) Result {
	for i := 0; i < b.Len(); i++ {
		if !b.Matches(i) {
			continue
		}
		res := b.Dispatch(i)
		if res.IsNoMatch() {
			continue
		}
		return res
	}
	if b.HasFallback() {
		return b.Fallback()
	}
	return b.NoMatch()
}

var (
	// OncePolicy is fail-fast: the first matching child decides the outcome.
	OncePolicy Policy = oncePolicy{}

	// RepeatPolicy skips children whose runner declines with ErrNoMatch.
	RepeatPolicy Policy = repeatPolicy{}

	// DefaultPolicy applies to root nodes that declare no policy.
	DefaultPolicy = OncePolicy
)

// PolicyByName resolves "once" or "repeat".
func PolicyByName(name string) (Policy, bool) {
	switch name {
	case "once", "":
		return OncePolicy, true
	case "repeat":
		return RepeatPolicy, true
	default:
		return nil, false
	}
}
