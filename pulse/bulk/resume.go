package bulk

import "sort"

// ResumeSet holds identifiers that must not be processed again.
// Matching is by identifier equality only.
type ResumeSet map[string]struct{}

// NewResumeSet creates a set from identifiers, ignoring empty strings
func NewResumeSet(identifiers ...string) ResumeSet {
	s := make(ResumeSet, len(identifiers))
	for _, id := range identifiers {
		s.Add(id)
	}
	return s
}

// Add inserts an identifier
func (s ResumeSet) Add(identifier string) {
	if identifier != "" {
		s[identifier] = struct{}{}
	}
}

// Contains reports whether identifier is in the set. Safe on a nil set.
func (s ResumeSet) Contains(identifier string) bool {
	_, ok := s[identifier]
	return ok
}

// Len returns the number of identifiers
func (s ResumeSet) Len() int { return len(s) }

// Merge returns a new set holding both sets' identifiers
func (s ResumeSet) Merge(other ResumeSet) ResumeSet {
	out := make(ResumeSet, len(s)+len(other))
	for id := range s {
		out[id] = struct{}{}
	}
	for id := range other {
		out[id] = struct{}{}
	}
	return out
}

// Identifiers returns the identifiers in sorted order
func (s ResumeSet) Identifiers() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// planResume drops items already in the resume set, keeping order
func planResume(items []Item, done ResumeSet) (pending []Item, skipped int) {
	if done.Len() == 0 {
		return items, 0
	}
	pending = make([]Item, 0, len(items))
	for _, item := range items {
		if done.Contains(item.Identifier) {
			skipped++
			continue
		}
		pending = append(pending, item)
	}
	return pending, skipped
}
