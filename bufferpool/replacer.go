package bufferpool

// Replacer is the contract each replacement policy implements, operating on
// frame slot indices (0..capacity-1) rather than page IDs. The Pool never
// inspects a policy's internal state directly; it only drives these
// methods, so FIFO, LRU and CLOCK are interchangeable behind Config.Policy.
type Replacer interface {
	// OnAdmit records that slot was just populated with a freshly loaded
	// page (fix_count went from absent to 1). It fixes the slot's place in
	// whatever order the policy uses to pick the next victim.
	OnAdmit(slot int)

	// OnHit records a repeat pin of a page already resident in slot
	// (fix_count went from 0 to >0, or was already >0). FIFO and LRU ignore
	// this; CLOCK sets the slot's reference bit, which OnAdmit leaves clear.
	OnHit(slot int)

	// Pin removes slot from the victim candidate set. Safe to call on a
	// slot that isn't currently a candidate.
	Pin(slot int)

	// Unpin adds slot back to the victim candidate set (fix_count dropped
	// to 0).
	Unpin(slot int)

	// SelectVictim returns a slot eligible for eviction, or ok=false if no
	// unpinned slot exists.
	SelectVictim() (slot int, ok bool)

	// Remove drops all bookkeeping for slot, used once a victim has been
	// evicted and before its replacement is admitted.
	Remove(slot int)

	// Size reports the number of slots currently eligible for eviction.
	Size() int
}

// NewReplacer constructs the Replacer for the given policy and pool
// capacity.
func NewReplacer(policy Policy, capacity int) Replacer {
	switch policy {
	case PolicyFIFO:
		return NewFIFOReplacer(capacity)
	case PolicyCLOCK:
		return NewClockReplacer(capacity)
	default:
		return NewLRUReplacer(capacity)
	}
}
