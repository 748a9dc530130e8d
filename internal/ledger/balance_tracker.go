package ledger

import (
	"fmt"
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// === Vault Queries ===

// VaultBalance returns a system vault balance as the unsigned amount the
// fund operations consume. A negative vault is a ledger bug.
func (bt *BalanceTracker) VaultBalance(key AccountKey) (uint64, error) {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return 0, fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return uint64(balance), nil
}

// InsuranceVaultBalance is VaultBalance for a pool's insurance vault
func (bt *BalanceTracker) InsuranceVaultBalance(pool PoolID) (uint64, error) {
	return bt.VaultBalance(InsuranceVault(pool))
}

// SpotVaultBalance is VaultBalance for a pool's spot vault
func (bt *BalanceTracker) SpotVaultBalance(pool PoolID) (uint64, error) {
	return bt.VaultBalance(SpotVault(pool))
}

// === Invariant Checks ===

// ValidateSufficient checks an account can be credited by amount without
// going negative
func (bt *BalanceTracker) ValidateSufficient(key AccountKey, amount uint64) error {
	balance := bt.GetBalance(key)
	if balance < 0 || uint64(balance) < amount {
		return fmt.Errorf("insufficient balance in %s: have=%d, need=%d", key.AccountPath(), balance, amount)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances per pool (should be 0 for a
// zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[PoolID]int64 {
	totals := make(map[PoolID]int64)

	for key, balance := range bt.balances {
		totals[key.PoolID] += balance
	}

	return totals
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// Snapshot returns a copy of all balances (for snapshots and state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}

// Restore replaces all balances with a snapshot
func (bt *BalanceTracker) Restore(snapshot map[AccountKey]int64) {
	bt.balances = make(map[AccountKey]int64, len(snapshot))
	for k, v := range snapshot {
		bt.balances[k] = v
	}
}
