package insurance

import fpmath "IFLedger/internal/math"

// MarketDeficitState is the slice of a perp market the deficit resolver
// reads and mutates. The market's trade-settlement code owns the rest.
type MarketDeficitState struct {
	MarketID uint16
	PoolID   uint16 // quote pool the market settles against

	TotalFeeMinusDistributions fpmath.I128
	PnlPool                    BalanceEntry

	// Net unsettled user pnl last reported by the AMM, and the oracle
	// price it was computed at.
	NetUnsettledPnl fpmath.I128
	LastOraclePrice int64

	UnrealizedMaxImbalance      uint64
	MaxRevenueWithdrawPerPeriod uint64
	RevenueWithdrawnThisPeriod  uint64
	LifetimeInsuranceCap        uint64
	LifetimeInsuranceDrawn      uint64
	LastRevenueWithdrawTs       int64
}

func NewMarketDeficitState(marketID, poolID uint16) *MarketDeficitState {
	return &MarketDeficitState{
		MarketID:                   marketID,
		PoolID:                     poolID,
		TotalFeeMinusDistributions: fpmath.IntFromInt64(0),
		NetUnsettledPnl:            fpmath.IntFromInt64(0),
		PnlPool:                    NewBalanceEntry(),
	}
}
