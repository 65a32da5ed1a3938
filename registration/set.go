package registration

// Set is a set of client identities. The zero value is a nil set: reads and
// Remove work on it, Add does not.
type Set[K comparable] map[K]struct{}

// NewSet returns a set holding ids.
func NewSet[K comparable](ids ...K) Set[K] {
	s := make(Set[K], len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts id.
func (s Set[K]) Add(id K) {
	s[id] = struct{}{}
}

// Remove deletes id if present.
func (s Set[K]) Remove(id K) {
	delete(s, id)
}

// Contains reports whether id is in the set.
func (s Set[K]) Contains(id K) bool {
	_, ok := s[id]
	return ok
}

// Len returns the number of identities in the set.
func (s Set[K]) Len() int {
	return len(s)
}
