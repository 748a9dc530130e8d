package ledger

import (
	"fmt"
	"math"

	"github.com/google/uuid"
)

// FlowKind mirrors the lending-market flow a journal records
type FlowKind int

const (
	FlowDeposit FlowKind = iota
	FlowWithdraw
	FlowBorrow
	FlowRepay
)

// JournalGenerator creates balanced journal batches for token movements
// implied by fund operations
type JournalGenerator struct {
	sequence       int64
	balanceTracker *BalanceTracker
}

func NewJournalGenerator(startSequence int64, tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		sequence:       startSequence,
		balanceTracker: tracker,
	}
}

func toAmount(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("amount %d exceeds journal range", v)
	}
	return int64(v), nil
}

// single builds a one-journal batch. A zero amount yields nil: nothing moved.
func (jg *JournalGenerator) single(
	eventRef string,
	debit, credit AccountKey,
	pool PoolID,
	amount uint64,
	jt JournalType,
	timestamp int64,
) (*Batch, error) {
	if amount == 0 {
		return nil, nil
	}
	amt, err := toAmount(amount)
	if err != nil {
		return nil, err
	}

	batchID := uuid.New()
	batch := &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, 1),
	}

	batch.Journals = append(batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       batchID,
		EventRef:      eventRef,
		Sequence:      jg.sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		PoolID:        pool,
		Amount:        amt,
		JournalType:   jt,
		Timestamp:     timestamp,
	})
	jg.sequence++

	return batch, nil
}

// GenerateStake moves a deposit into the insurance vault.
// external:deposits → system:insurance_vault
func (jg *JournalGenerator) GenerateStake(eventRef string, pool PoolID, amount uint64, timestamp int64) (*Batch, error) {
	return jg.single(eventRef,
		InsuranceVault(pool), NewExternalAccountKey(SubTypeExternalDeposits, pool),
		pool, amount, JournalTypeStake, timestamp)
}

// GenerateUnstake pays a settled withdrawal to the staker.
// Pre-check: the insurance vault must cover it.
// system:insurance_vault → user:payout
func (jg *JournalGenerator) GenerateUnstake(eventRef string, owner uuid.UUID, pool PoolID, amount uint64, timestamp int64) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficient(InsuranceVault(pool), amount); err != nil {
		return nil, fmt.Errorf("unstake pre-check failed: %w", err)
	}
	return jg.single(eventRef,
		NewUserAccountKey(owner, SubTypePayout, pool), InsuranceVault(pool),
		pool, amount, JournalTypeUnstake, timestamp)
}

// GenerateRevenueSettlement moves settled revenue between vaults.
// system:spot_vault → system:insurance_vault
func (jg *JournalGenerator) GenerateRevenueSettlement(eventRef string, pool PoolID, amount uint64, timestamp int64) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficient(SpotVault(pool), amount); err != nil {
		return nil, fmt.Errorf("revenue settlement pre-check failed: %w", err)
	}
	return jg.single(eventRef,
		InsuranceVault(pool), SpotVault(pool),
		pool, amount, JournalTypeRevenueSettle, timestamp)
}

// GenerateDeficitDraw moves a deficit draw into the market's pnl pool, which
// is held in the spot vault.
// system:insurance_vault → system:spot_vault
func (jg *JournalGenerator) GenerateDeficitDraw(eventRef string, pool PoolID, amount uint64, timestamp int64) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficient(InsuranceVault(pool), amount); err != nil {
		return nil, fmt.Errorf("deficit draw pre-check failed: %w", err)
	}
	return jg.single(eventRef,
		SpotVault(pool), InsuranceVault(pool),
		pool, amount, JournalTypeDeficitDraw, timestamp)
}

// GenerateVaultAdjustment books an externally observed gain (delta > 0) or
// loss (delta < 0) on the insurance vault against external:adjustments.
func (jg *JournalGenerator) GenerateVaultAdjustment(eventRef string, pool PoolID, delta int64, timestamp int64) (*Batch, error) {
	adjustments := NewExternalAccountKey(SubTypeExternalAdjustments, pool)
	if delta >= 0 {
		return jg.single(eventRef, InsuranceVault(pool), adjustments, pool, uint64(delta), JournalTypeVaultGain, timestamp)
	}
	if delta == math.MinInt64 {
		return nil, fmt.Errorf("vault adjustment %d out of range", delta)
	}
	loss := uint64(-delta)
	if err := jg.balanceTracker.ValidateSufficient(InsuranceVault(pool), loss); err != nil {
		return nil, fmt.Errorf("vault loss pre-check failed: %w", err)
	}
	return jg.single(eventRef, adjustments, InsuranceVault(pool), pool, loss, JournalTypeVaultLoss, timestamp)
}

// GenerateFeeAccrual books trading fees arriving in the spot vault.
// external:fees → system:spot_vault
func (jg *JournalGenerator) GenerateFeeAccrual(eventRef string, pool PoolID, amount uint64, timestamp int64) (*Batch, error) {
	return jg.single(eventRef,
		SpotVault(pool), NewExternalAccountKey(SubTypeExternalFees, pool),
		pool, amount, JournalTypeFeeAccrual, timestamp)
}

// GenerateLendingFlow books a lending-market user flow on the spot vault.
func (jg *JournalGenerator) GenerateLendingFlow(eventRef string, pool PoolID, kind FlowKind, amount uint64, timestamp int64) (*Batch, error) {
	deposits := NewExternalAccountKey(SubTypeExternalDeposits, pool)
	withdrawals := NewExternalAccountKey(SubTypeExternalWithdrawals, pool)

	switch kind {
	case FlowDeposit:
		return jg.single(eventRef, SpotVault(pool), deposits, pool, amount, JournalTypeLendingDeposit, timestamp)
	case FlowRepay:
		return jg.single(eventRef, SpotVault(pool), deposits, pool, amount, JournalTypeLendingRepay, timestamp)
	case FlowWithdraw, FlowBorrow:
		if err := jg.balanceTracker.ValidateSufficient(SpotVault(pool), amount); err != nil {
			return nil, fmt.Errorf("lending outflow pre-check failed: %w", err)
		}
		jt := JournalTypeLendingWithdraw
		if kind == FlowBorrow {
			jt = JournalTypeLendingBorrow
		}
		return jg.single(eventRef, withdrawals, SpotVault(pool), pool, amount, jt, timestamp)
	default:
		return nil, fmt.Errorf("unknown lending flow %d", kind)
	}
}

// Sequence returns the next batch sequence
func (jg *JournalGenerator) Sequence() int64 {
	return jg.sequence
}

// SetSequence resets the batch sequence after a snapshot restore
func (jg *JournalGenerator) SetSequence(seq int64) {
	jg.sequence = seq
}
