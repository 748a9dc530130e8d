package insurance

import (
	"fmt"

	"IFLedger/internal/event"
	fpmath "IFLedger/internal/math"
)

// ResolvePerpPnlDeficit draws from the insurance vault into a market's pnl
// pool to cover user pnl the market cannot pay. The draw is the smallest of
// the excess imbalance, the per-period allowance, the lifetime allowance and
// the vault balance less one unit. Share totals are not touched.
// Returns the amount to transfer from the insurance vault to the spot vault.
func (l *Ledger) ResolvePerpPnlDeficit(spotVault, insuranceVault uint64, market *MarketDeficitState, pool *FundPool, now int64) (uint64, error) {
	if !market.TotalFeeMinusDistributions.IsNegative() {
		return 0, fmt.Errorf("market %d total fee minus distributions %s: %w", market.MarketID, market.TotalFeeMinusDistributions, ErrNoDeficit)
	}

	m, p := *market, *pool

	pnlTokens, err := l.lender.TokenAmount(m.PnlPool, &p, SideDeposit)
	if err != nil {
		return 0, fmt.Errorf("resolve deficit pnl pool amount: %w", err)
	}
	if !pnlTokens.IsZero() {
		return 0, fmt.Errorf("market %d pnl pool holds %s: %w", m.MarketID, pnlTokens, ErrPnlPoolNotEmpty)
	}

	if err := l.lender.AccrueInterest(&p, now); err != nil {
		return 0, fmt.Errorf("resolve deficit accrue interest: %w", err)
	}

	totalBefore := p.TotalShares

	excess := fpmath.IntFromInt64(0)
	if m.UnrealizedMaxImbalance > 0 {
		imbalance, err := l.pnl.UnrealizedPnlImbalance(&m, m.LastOraclePrice)
		if err != nil {
			return 0, fmt.Errorf("resolve deficit pnl imbalance: %w", err)
		}
		maxImbalance := fpmath.IntFromUint64(m.UnrealizedMaxImbalance)
		if excess, err = fpmath.SubInt(imbalance, maxImbalance); err != nil {
			return 0, fmt.Errorf("resolve deficit excess imbalance: %w", err)
		}
	}
	if !excess.IsPositive() {
		return 0, fmt.Errorf("market %d excess pnl imbalance %s: %w", m.MarketID, excess, ErrNothingToSettle)
	}

	perPeriod := fpmath.IntFromUint64(m.MaxRevenueWithdrawPerPeriod).
		Sub(fpmath.IntFromUint64(m.RevenueWithdrawnThisPeriod))
	if !perPeriod.IsPositive() {
		return 0, fmt.Errorf("market %d withdrew %d of %d this period: %w",
			m.MarketID, m.RevenueWithdrawnThisPeriod, m.MaxRevenueWithdrawPerPeriod, ErrWithdrawLimitReached)
	}

	lifetime := fpmath.IntFromUint64(m.LifetimeInsuranceCap).
		Sub(fpmath.IntFromUint64(m.LifetimeInsuranceDrawn))
	if !lifetime.IsPositive() {
		return 0, fmt.Errorf("market %d drew %d of %d lifetime: %w",
			m.MarketID, m.LifetimeInsuranceDrawn, m.LifetimeInsuranceCap, ErrInsuranceCapReached)
	}

	available := fpmath.IntFromUint64(insuranceVault).Sub(fpmath.IntFromInt64(1))
	if !available.IsPositive() {
		return 0, fmt.Errorf("insurance vault balance %d: %w", insuranceVault, ErrInsufficientFund)
	}

	draw := fpmath.MinInt(fpmath.MinInt(excess, perPeriod), fpmath.MinInt(lifetime, available))
	amount, err := fpmath.IntToUint64(draw)
	if err != nil {
		return 0, fmt.Errorf("resolve deficit: %w", err)
	}
	signed, err := toInt64(amount)
	if err != nil {
		return 0, fmt.Errorf("resolve deficit: %w", err)
	}

	if m.TotalFeeMinusDistributions, err = fpmath.AddInt(m.TotalFeeMinusDistributions, draw); err != nil {
		return 0, fmt.Errorf("resolve deficit fee pool: %w", err)
	}
	if m.RevenueWithdrawnThisPeriod, err = addUint64(m.RevenueWithdrawnThisPeriod, amount); err != nil {
		return 0, fmt.Errorf("resolve deficit period counter: %w", err)
	}
	if m.LifetimeInsuranceDrawn, err = addUint64(m.LifetimeInsuranceDrawn, amount); err != nil {
		return 0, fmt.Errorf("resolve deficit lifetime counter: %w", err)
	}
	if m.LifetimeInsuranceDrawn > m.LifetimeInsuranceCap {
		return 0, fmt.Errorf("market %d lifetime draw %d breached cap %d: %w",
			m.MarketID, m.LifetimeInsuranceDrawn, m.LifetimeInsuranceCap, ErrInsuranceCapReached)
	}
	m.LastRevenueWithdrawTs = now

	if err := l.lender.CreditPnlPool(fpmath.FromUint64(amount), &p, &m); err != nil {
		return 0, fmt.Errorf("resolve deficit credit pnl pool: %w", err)
	}

	*market, *pool = m, p
	l.emit(&event.DeficitResolutionEvent{
		Ts:                     now,
		PoolID:                 p.PoolID,
		MarketID:               m.MarketID,
		Amount:                 -signed,
		DepositorShareBps:      p.DepositorRevenueShareBps,
		TotalShareBps:          p.TotalRevenueShareBps,
		VaultBalanceBefore:     spotVault,
		InsuranceBalanceBefore: insuranceVault,
		TotalSharesBefore:      totalBefore,
		TotalSharesAfter:       p.TotalShares,
	})
	return amount, nil
}

func addUint64(a, b uint64) (uint64, error) {
	if a > ^uint64(0)-b {
		return 0, fpmath.ErrMathOverflow
	}
	return a + b, nil
}
