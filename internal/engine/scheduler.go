// Package engine runs the ingestion cycle: fetch, normalize, dedupe,
// enrich, classify, persist, expire, repeat.
package engine

// PrioritySetSize caps how many wallets are ranked into the priority tier
// each cycle.
const PrioritySetSize = 200

// Scheduler decides which wallets needing enrichment get one of the
// per-cycle external lookups. Admission is two-tier rather than FIFO:
// wallets currently holding the largest windowed notional are always
// admitted while budget remains, and everyone else only while more than a
// third of the budget is left. The reserve keeps freshly-seen wallets from
// being starved by a surge of priority lookups.
//
// Not safe for concurrent use; only the cycle goroutine touches it.
type Scheduler struct {
	budget    int
	remaining int
	priority  map[string]struct{}
}

// NewScheduler creates a scheduler with the given per-cycle lookup budget.
func NewScheduler(budget int) *Scheduler {
	return &Scheduler{
		budget:   budget,
		priority: make(map[string]struct{}),
	}
}

// BeginCycle resets the budget and installs the cycle's priority set.
func (s *Scheduler) BeginCycle(priorityWallets []string) {
	s.remaining = s.budget
	s.priority = make(map[string]struct{}, len(priorityWallets))
	for _, w := range priorityWallets {
		if w != "" {
			s.priority[w] = struct{}{}
		}
	}
}

// Admit reports whether wallet may spend one lookup, consuming budget on
// success.
func (s *Scheduler) Admit(wallet string) bool {
	if s.remaining <= 0 {
		return false
	}
	_, prioritized := s.priority[wallet]
	if prioritized || s.remaining > s.budget/3 {
		s.remaining--
		return true
	}
	return false
}

// Used returns how many lookups were consumed this cycle.
func (s *Scheduler) Used() int {
	return s.budget - s.remaining
}

// Remaining returns the budget left this cycle.
func (s *Scheduler) Remaining() int {
	return s.remaining
}
