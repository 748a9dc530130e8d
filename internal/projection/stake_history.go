package projection

import (
	"sync"

	"IFLedger/internal/event"

	"github.com/google/uuid"
)

// StakeHistoryEntry is one stake lifecycle transition of an owner
type StakeHistoryEntry struct {
	Sequence    int64     `json:"sequence"`
	Owner       uuid.UUID `json:"owner"`
	PoolID      uint16    `json:"pool_id"`
	Action      string    `json:"action"`
	Amount      uint64    `json:"amount"`
	SharesAfter string    `json:"shares_after"`
	Timestamp   int64     `json:"timestamp"`
}

// StakeHistoryProjection keeps the most recent stake transitions in memory.
// Older entries are evicted once capacity is reached; the event log keeps
// the full history.
type StakeHistoryProjection struct {
	mu       sync.RWMutex
	entries  []StakeHistoryEntry
	capacity int
}

func NewStakeHistoryProjection(capacity int) *StakeHistoryProjection {
	return &StakeHistoryProjection{
		entries:  make([]StakeHistoryEntry, 0),
		capacity: capacity,
	}
}

// Apply records a stake event logged at sequence
func (p *StakeHistoryProjection) Apply(sequence int64, evt *event.StakeEvent) {
	p.AddEntry(StakeHistoryEntry{
		Sequence:    sequence,
		Owner:       evt.Owner,
		PoolID:      evt.PoolID,
		Action:      evt.Action.String(),
		Amount:      evt.Amount,
		SharesAfter: evt.SharesAfter.String(),
		Timestamp:   evt.Ts,
	})
}

// AddEntry appends an entry, evicting the oldest when full
func (p *StakeHistoryProjection) AddEntry(entry StakeHistoryEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.capacity > 0 && len(p.entries) >= p.capacity {
		copy(p.entries, p.entries[1:])
		p.entries = p.entries[:len(p.entries)-1]
	}
	p.entries = append(p.entries, entry)
}

// QueryByOwner returns an owner's history in a pool, newest first
func (p *StakeHistoryProjection) QueryByOwner(owner uuid.UUID, poolID uint16, limit int) []StakeHistoryEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]StakeHistoryEntry, 0)
	for i := len(p.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if e := p.entries[i]; e.Owner == owner && e.PoolID == poolID {
			result = append(result, e)
		}
	}
	return result
}

// Len returns the number of retained entries
func (p *StakeHistoryProjection) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}
