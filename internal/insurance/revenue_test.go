package insurance_test

import (
	"errors"
	"testing"

	"IFLedger/internal/event"
	"IFLedger/internal/insurance"
)

// 876B vault with an hourly period: the 10% APR cap allows 10M per settle.
const (
	revenueVault  = 876_000_000_000
	revenueAmount = 50_000_000
)

func newRevenuePool(total, depositor uint64) *insurance.FundPool {
	pool := newTestPool(0)
	pool.TotalShares, pool.DepositorShares = u(total), u(depositor)
	pool.RevenuePool.ScaledBalance = u(revenueAmount)
	return pool
}

func TestSettleRevenue_AprCapAndProtocolCut(t *testing.T) {
	lender := &stubLender{claim: 1_000_000_000}
	l, events := newTestLedger(lender, nil)
	pool := newRevenuePool(revenueVault, revenueVault)

	amount, err := l.SettleRevenue(2_000_000_000, revenueVault, pool, 7_200)
	if err != nil {
		t.Fatalf("settle revenue: %v", err)
	}
	// min(50M, 10M cap) * 50% to fund
	if amount != 5_000_000 {
		t.Errorf("amount: got %d, want 5000000", amount)
	}
	// protocol cohort gets half of the fund amount as new shares
	assertPool(t, pool, revenueVault+2_500_000, revenueVault, 0)
	assertU128(t, "revenue pool", pool.RevenuePool.ScaledBalance, revenueAmount-5_000_000)
	if pool.LastRevenueSettleTs != 7_200 {
		t.Errorf("last settle ts: got %d, want 7200", pool.LastRevenueSettleTs)
	}
	if lender.accrued != 1 || lender.lastAccrue != 7_200 {
		t.Errorf("interest accrual: calls=%d at=%d", lender.accrued, lender.lastAccrue)
	}

	got := events.Drain()
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	rs, ok := got[0].(*event.RevenueSettlementEvent)
	if !ok {
		t.Fatalf("unexpected event type %T", got[0])
	}
	if rs.Amount != 5_000_000 || rs.InsuranceBalanceBefore != revenueVault || rs.VaultBalanceBefore != 2_000_000_000 {
		t.Errorf("event fields: %+v", rs)
	}
	if rs.DepositorShareBps != 5_000 || rs.TotalShareBps != 10_000 {
		t.Errorf("event bps: %d/%d", rs.DepositorShareBps, rs.TotalShareBps)
	}
	assertU128(t, "event total before", rs.TotalSharesBefore, revenueVault)
	assertU128(t, "event total after", rs.TotalSharesAfter, revenueVault+2_500_000)
}

func TestSettleRevenue_HighUtilisationHalvesClaim(t *testing.T) {
	lender := &stubLender{claim: 6_000_000}
	l, _ := newTestLedger(lender, nil)
	pool := newRevenuePool(revenueVault, revenueVault)

	amount, err := l.SettleRevenue(6_000_000, revenueVault, pool, 7_200)
	if err != nil {
		t.Fatalf("settle revenue: %v", err)
	}
	if amount != 1_500_000 {
		t.Errorf("amount: got %d, want 1500000", amount)
	}
	assertPool(t, pool, revenueVault+750_000, revenueVault, 0)
}

func TestSettleRevenue_NoDepositorsSkipsAprCap(t *testing.T) {
	lender := &stubLender{claim: 1_000_000_000}
	l, _ := newTestLedger(lender, nil)
	pool := newRevenuePool(revenueVault, 0)

	amount, err := l.SettleRevenue(2_000_000_000, revenueVault, pool, 7_200)
	if err != nil {
		t.Fatalf("settle revenue: %v", err)
	}
	if amount != 25_000_000 {
		t.Errorf("amount: got %d, want 25000000", amount)
	}
	assertPool(t, pool, revenueVault+12_500_000, 0, 0)
}

func TestSettleRevenue_RebasesBeforeMinting(t *testing.T) {
	lender := &stubLender{claim: 1_000_000_000}
	l, _ := newTestLedger(lender, nil)
	pool := newRevenuePool(1_000_000_000_000, 1_000_000_000_000)

	if _, err := l.SettleRevenue(2_000_000_000, revenueVault, pool, 7_200); err != nil {
		t.Fatalf("settle revenue: %v", err)
	}
	// 1e12 shares over an 876e9 vault rebase by one decimal, then
	// 2.5M * 1e11 / 876e9 = 285388 protocol shares
	assertPool(t, pool, 100_000_000_000+285_388, 100_000_000_000, 1)
}

func TestSettleRevenue_Misconfiguration(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(p *insurance.FundPool)
	}{
		{"zero period", func(p *insurance.FundPool) { p.RevenueSettlePeriod = 0 }},
		{"negative period", func(p *insurance.FundPool) { p.RevenueSettlePeriod = -1 }},
		{"depositor above total", func(p *insurance.FundPool) { p.DepositorRevenueShareBps = 10_001 }},
		{"zero total bps", func(p *insurance.FundPool) {
			p.DepositorRevenueShareBps = 0
			p.TotalRevenueShareBps = 0
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l, events := newTestLedger(&stubLender{claim: 1_000_000_000}, nil)
			pool := newRevenuePool(revenueVault, revenueVault)
			tc.mutate(pool)

			_, err := l.SettleRevenue(2_000_000_000, revenueVault, pool, 7_200)
			if !errors.Is(err, insurance.ErrInvalidParam) {
				t.Fatalf("expected ErrInvalidParam, got %v", err)
			}
			if events.Len() != 0 {
				t.Error("failed settle emitted events")
			}
		})
	}
}

func TestSettleRevenue_NothingToSettleLeavesPoolUntouched(t *testing.T) {
	l, events := newTestLedger(&stubLender{claim: 1_000_000_000}, nil)
	pool := newRevenuePool(revenueVault, revenueVault)
	pool.RevenuePool.ScaledBalance = u(1) // 1 * 50% rounds to zero

	_, err := l.SettleRevenue(2_000_000_000, revenueVault, pool, 7_200)
	if !errors.Is(err, insurance.ErrNothingToSettle) {
		t.Fatalf("expected ErrNothingToSettle, got %v", err)
	}
	if pool.LastRevenueSettleTs != 0 || pool.LastInterestTs != 0 {
		t.Error("failed settle committed pool changes")
	}
	assertPool(t, pool, revenueVault, revenueVault, 0)
	if events.Len() != 0 {
		t.Error("failed settle emitted events")
	}
}

func TestSettleRevenue_VaultValidationFailurePropagates(t *testing.T) {
	l, _ := newTestLedger(&stubLender{claim: 1_000_000_000}, nil)
	pool := newRevenuePool(revenueVault, revenueVault)

	if _, err := l.SettleRevenue(10, revenueVault, pool, 7_200); err == nil {
		t.Fatal("expected vault validation error")
	}
}
