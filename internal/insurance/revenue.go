package insurance

import (
	"fmt"

	"IFLedger/internal/event"
	fpmath "IFLedger/internal/math"
)

// SettleRevenue moves a capped portion of the pool's accrued revenue into the
// insurance vault and mints the protocol cohort's share of it. Depositors
// are paid implicitly through the larger balance behind their shares.
// Returns the amount to transfer from the spot vault to the insurance vault.
func (l *Ledger) SettleRevenue(spotVault, insuranceVault uint64, pool *FundPool, now int64) (uint64, error) {
	p := *pool

	if err := l.lender.AccrueInterest(&p, now); err != nil {
		return 0, fmt.Errorf("settle revenue accrue interest: %w", err)
	}

	if p.RevenueSettlePeriod <= 0 {
		return 0, fmt.Errorf("revenue settle period %d on pool %d: %w", p.RevenueSettlePeriod, p.PoolID, ErrInvalidParam)
	}
	if p.DepositorRevenueShareBps > p.TotalRevenueShareBps {
		return 0, fmt.Errorf("depositor share %d bps > total %d bps: %w", p.DepositorRevenueShareBps, p.TotalRevenueShareBps, ErrInvalidParam)
	}
	if p.TotalRevenueShareBps == 0 {
		return 0, fmt.Errorf("total revenue share is zero on pool %d: %w", p.PoolID, ErrInvalidParam)
	}

	claim, err := l.lender.ValidatedVaultAmount(&p, spotVault)
	if err != nil {
		return 0, fmt.Errorf("settle revenue validate vault: %w", err)
	}
	tokens, err := l.lender.TokenAmount(p.RevenuePool, &p, SideDeposit)
	if err != nil {
		return 0, fmt.Errorf("settle revenue pool amount: %w", err)
	}

	// High utilisation: leave depositors' claim room by settling at most half.
	if c := fpmath.FromUint64(claim); c.LT(tokens) {
		tokens = c.Quo(fpmath.FromUint64(2))
	}

	if !p.DepositorShares.IsZero() {
		periodsPerYear := uint64(OneYear / p.RevenueSettlePeriod)
		if periodsPerYear == 0 {
			periodsPerYear = 1
		}
		capped, err := fpmath.MulDiv(
			fpmath.FromUint64(insuranceVault),
			fpmath.FromUint64(l.params.MaxAPRBps),
			fpmath.FromUint64(BpsPrecision*periodsPerYear),
			fpmath.RoundDown,
		)
		if err != nil {
			return 0, fmt.Errorf("settle revenue apr cap: %w", err)
		}
		tokens = fpmath.Min(tokens, capped)
	}

	fundTokens, err := fpmath.MulDiv(tokens, fpmath.FromUint64(l.params.RevenueShareToFundBps), fpmath.FromUint64(BpsPrecision), fpmath.RoundDown)
	if err != nil {
		return 0, fmt.Errorf("settle revenue fund share: %w", err)
	}
	amount, err := fpmath.ToUint64(fundTokens)
	if err != nil {
		return 0, fmt.Errorf("settle revenue: %w", err)
	}
	if amount == 0 {
		return 0, fmt.Errorf("settle revenue on pool %d: %w", p.PoolID, ErrNothingToSettle)
	}
	signed, err := toInt64(amount)
	if err != nil {
		return 0, fmt.Errorf("settle revenue: %w", err)
	}

	p.LastRevenueSettleTs = now
	if err := l.normalize(insuranceVault, nil, &p); err != nil {
		return 0, fmt.Errorf("settle revenue: %w", err)
	}
	totalBefore := p.TotalShares

	protocolBps := uint64(p.TotalRevenueShareBps - p.DepositorRevenueShareBps)
	cut, err := fpmath.MulDiv(fpmath.FromUint64(amount), fpmath.FromUint64(protocolBps), fpmath.FromUint64(uint64(p.TotalRevenueShareBps)), fpmath.RoundDown)
	if err != nil {
		return 0, fmt.Errorf("settle revenue protocol cut: %w", err)
	}
	protocolAmount, err := fpmath.ToUint64(cut)
	if err != nil {
		return 0, fmt.Errorf("settle revenue protocol cut: %w", err)
	}

	n, err := SharesForAmount(protocolAmount, p.TotalShares, insuranceVault)
	if err != nil {
		return 0, fmt.Errorf("settle revenue mint: %w", err)
	}
	if p.TotalShares, err = fpmath.Add(p.TotalShares, n); err != nil {
		return 0, fmt.Errorf("settle revenue mint %s shares: %w", n, err)
	}

	if err := l.lender.UpdateRevenuePool(fundTokens, SideBorrow, &p); err != nil {
		return 0, fmt.Errorf("settle revenue debit revenue pool: %w", err)
	}

	*pool = p
	l.emit(&event.RevenueSettlementEvent{
		Ts:                     now,
		PoolID:                 p.PoolID,
		Amount:                 signed,
		DepositorShareBps:      p.DepositorRevenueShareBps,
		TotalShareBps:          p.TotalRevenueShareBps,
		VaultBalanceBefore:     spotVault,
		InsuranceBalanceBefore: insuranceVault,
		TotalSharesBefore:      totalBefore,
		TotalSharesAfter:       p.TotalShares,
	})
	return amount, nil
}
