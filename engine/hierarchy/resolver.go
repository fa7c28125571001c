package hierarchy

import "github.com/memkit/memkit/engine/domain"

// Resolution is the outcome of resolving a conflict between a memory
// already present in a scope and a new candidate addressing the same
// subject matter.
type Resolution int

const (
	// Merge combines both into a single record (caller-defined shape).
	Merge Resolution = iota
	// KeepOld discards the candidate, retaining the existing record.
	KeepOld
	// KeepNew replaces the existing record with the candidate.
	KeepNew
	// Supersede keeps the candidate and marks the existing record stale
	// via the resolver's own bookkeeping (the hierarchy manager itself
	// treats Supersede identically to KeepNew — the distinction exists
	// for resolvers that track superseded history externally).
	Supersede
)

func (r Resolution) String() string {
	switch r {
	case Merge:
		return "merge"
	case KeepOld:
		return "keep_old"
	case KeepNew:
		return "keep_new"
	case Supersede:
		return "supersede"
	default:
		return "unknown"
	}
}

// Resolver decides how to reconcile an existing memory against a new
// candidate that a Comparator has judged to be in conflict. Pluggable
// per spec §4.7's "conflict resolution policy is pluggable" note.
type Resolver interface {
	Resolve(existing, candidate *domain.Memory) Resolution
}

// Comparator decides whether two memories address the same subject
// matter closely enough to require conflict resolution rather than
// simple side-by-side coexistence.
type Comparator interface {
	Conflicts(a, b *domain.Memory) bool
}

// ResolverFunc adapts a plain function to a Resolver.
type ResolverFunc func(existing, candidate *domain.Memory) Resolution

func (f ResolverFunc) Resolve(existing, candidate *domain.Memory) Resolution {
	return f(existing, candidate)
}

// lastWriteWins is the default Resolver: the candidate always wins,
// since it is by construction the more recently observed record.
var lastWriteWins Resolver = ResolverFunc(func(existing, candidate *domain.Memory) Resolution {
	return KeepNew
})

// sameUserSameType is the default Comparator: two memories conflict
// when they belong to the same user, share a memory type and have
// identical content, a strict but cheap proxy for "addresses the same subject" that a caller can
// replace with a semantic-similarity comparator if needed.
type sameUserSameType struct{}

func (sameUserSameType) Conflicts(a, b *domain.Memory) bool {
	return a.UserID == b.UserID && a.Type == b.Type && a.Content == b.Content
}

var defaultComparator Comparator = sameUserSameType{}
