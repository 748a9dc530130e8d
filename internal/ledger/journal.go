package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeStake JournalType = iota
	JournalTypeUnstake
	JournalTypeRevenueSettle
	JournalTypeDeficitDraw
	JournalTypeVaultGain
	JournalTypeVaultLoss
	JournalTypeFeeAccrual
	JournalTypeLendingDeposit
	JournalTypeLendingWithdraw
	JournalTypeLendingBorrow
	JournalTypeLendingRepay
)

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups balanced entries
	EventRef      string      // Idempotency key of source command
	Sequence      int64       // Global event sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	PoolID        PoolID      // Pool (asset) being transferred
	Amount        int64       // Token amount (ALWAYS positive)
	JournalType   JournalType // Entry type
	Timestamp     int64       // Logical input timestamp (unix seconds)
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed.
// Each journal moves one positive amount from its credit account to its debit
// account, so every entry balances by construction.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.PoolID != j.PoolID || j.CreditAccount.PoolID != j.PoolID {
			return fmt.Errorf("journal %s moves funds across pools", j.JournalID)
		}
	}

	return nil
}
