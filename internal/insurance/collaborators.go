package insurance

import fpmath "IFLedger/internal/math"

// BalanceSide selects which interest index scales a balance entry.
type BalanceSide int

const (
	SideDeposit BalanceSide = iota
	SideBorrow
)

func (s BalanceSide) String() string {
	if s == SideBorrow {
		return "borrow"
	}
	return "deposit"
}

// BalanceEntry is an interest-bearing balance held in scaled units.
type BalanceEntry struct {
	ScaledBalance fpmath.U128
}

func NewBalanceEntry() BalanceEntry {
	return BalanceEntry{ScaledBalance: fpmath.Zero()}
}

// Lender is the lending market that owns interest bookkeeping for a pool.
// Implementations mutate only the pool/market passed in.
type Lender interface {
	AccrueInterest(pool *FundPool, now int64) error
	TokenAmount(entry BalanceEntry, pool *FundPool, side BalanceSide) (fpmath.U128, error)

	// ValidatedVaultAmount checks the raw vault balance covers internal
	// bookkeeping and returns the depositors' claim on it.
	ValidatedVaultAmount(pool *FundPool, rawVault uint64) (uint64, error)

	// UpdateRevenuePool credits (deposit) or debits (borrow) the revenue pool.
	UpdateRevenuePool(amount fpmath.U128, side BalanceSide, pool *FundPool) error

	CreditPnlPool(amount fpmath.U128, pool *FundPool, market *MarketDeficitState) error
}

// PnlSource reports the net unsettled user pnl of a perp market.
type PnlSource interface {
	UnrealizedPnlImbalance(market *MarketDeficitState, oraclePrice int64) (fpmath.I128, error)
}
