package ledger

import (
	"fmt"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateVaultsNonNegative checks both vaults of a pool are >= 0
func (v *InvariantValidator) ValidateVaultsNonNegative(pool PoolID) error {
	if err := v.tracker.ValidateNonNegative(InsuranceVault(pool)); err != nil {
		return err
	}
	return v.tracker.ValidateNonNegative(SpotVault(pool))
}

// ValidateGlobalBalance verifies the ledger is zero-sum per pool
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for pool, total := range totals {
		if total != 0 {
			return fmt.Errorf("global balance for pool %d is non-zero: %d", pool, total)
		}
	}

	return nil
}
