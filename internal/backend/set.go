package backend

// Set is a set of backend ids.
type Set map[ID]struct{}

// NewSet returns a set holding ids.
func NewSet(ids ...ID) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is in the set. A nil set is empty.
func (s Set) Has(id ID) bool {
	_, ok := s[id]
	return ok
}

// Add inserts id.
func (s Set) Add(id ID) {
	s[id] = struct{}{}
}

// Len returns the number of ids in the set.
func (s Set) Len() int {
	return len(s)
}
