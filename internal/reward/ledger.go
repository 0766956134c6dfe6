package reward

import "maps"

// Ledger accumulates classified amounts per category for one session.
// It only ever grows.
type Ledger struct {
	totals map[string]int64
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{totals: make(map[string]int64)}
}

// Merge adds amount to category. Non-positive amounts are ignored and
// reported as not applied.
func (l *Ledger) Merge(category string, amount int64) bool {
	if amount <= 0 {
		return false
	}
	l.totals[category] += amount
	return true
}

// Add merges a classified reward.
func (l *Ledger) Add(r Reward) bool {
	return l.Merge(r.Category, r.Amount)
}

// Len returns the number of categories seen.
func (l *Ledger) Len() int {
	return len(l.totals)
}

// Snapshot returns a copy of the current totals.
func (l *Ledger) Snapshot() Snapshot {
	return Snapshot(maps.Clone(l.totals))
}

// Snapshot is a point-in-time copy of a ledger.
type Snapshot map[string]int64

// Total returns the amount recorded for category.
func (s Snapshot) Total(category string) int64 {
	return s[category]
}
