package engine

// visitedSet remembers which message ids a crank has already expanded.
//
// Cycles occur when an outbox entry re-triggers a message the crank has
// already processed, e.g. two processes that answer each other with the
// same content:
//
//	m1 (to Q) → Q emits m2 (to P) → P emits m1 (to Q) again ← CYCLE
//
// The first occurrence of an id is expanded; every later occurrence
// points back at it and is not re-processed.
//
// CRITICAL DISTINCTION from idempotency:
//   - Idempotency: "has this message been executed?" (persistent, cache store)
//   - Visited set: "has this crank expanded this id?" (in-memory, per crank)
//
// Both checks are required. An executed message revisited in a later
// crank is served from the cache; revisited within the same crank it is
// not expanded again.
//
// Not safe for concurrent use.
type visitedSet struct {
	first map[string]int // message id → arena index of first occurrence
}

// newVisitedSet creates an empty set sized for up to hint ids.
func newVisitedSet(hint int) *visitedSet {
	if hint > 1024 {
		hint = 1024
	}
	return &visitedSet{first: make(map[string]int, hint)}
}

// Visit records that messageID is expanded at arena index idx.
// If the id was already visited it returns the index of the first
// occurrence and false.
func (v *visitedSet) Visit(messageID string, idx int) (first int, fresh bool) {
	if prev, ok := v.first[messageID]; ok {
		return prev, false
	}
	v.first[messageID] = idx
	return idx, true
}

// Seen returns the index of the first occurrence of messageID, if any.
func (v *visitedSet) Seen(messageID string) (int, bool) {
	idx, ok := v.first[messageID]
	return idx, ok
}

// Len returns the number of distinct ids visited.
func (v *visitedSet) Len() int {
	return len(v.first)
}
