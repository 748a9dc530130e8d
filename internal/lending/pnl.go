package lending

import (
	"IFLedger/internal/insurance"
	fpmath "IFLedger/internal/math"
)

// ReportedPnl serves the net unsettled pnl the market's AMM last reported
// through an UpdateMarket command, already computed at LastOraclePrice.
type ReportedPnl struct{}

var _ insurance.PnlSource = ReportedPnl{}

func (ReportedPnl) UnrealizedPnlImbalance(market *insurance.MarketDeficitState, _ int64) (fpmath.I128, error) {
	return market.NetUnsettledPnl, nil
}
