package insurance_test

import (
	"testing"

	"IFLedger/internal/event"
	"IFLedger/internal/insurance"
	fpmath "IFLedger/internal/math"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const week = 7 * 86_400

func u(v uint64) fpmath.U128 {
	return fpmath.FromUint64(v)
}

func newTestPool(escrow int64) *insurance.FundPool {
	return insurance.NewFundPool(insurance.PoolConfig{
		PoolID:                   0,
		Asset:                    "USDC",
		Decimals:                 6,
		WithdrawEscrowPeriod:     escrow,
		RevenueSettlePeriod:      3600,
		DepositorRevenueShareBps: 5_000,
		TotalRevenueShareBps:     10_000,
	}, 0)
}

func newTestLedger(lender insurance.Lender, pnl insurance.PnlSource) (*insurance.Ledger, *event.Recorder) {
	rec := event.NewRecorder()
	return insurance.NewLedger(lender, pnl, rec, insurance.DefaultParams(), zerolog.Nop()), rec
}

func newRecord() *insurance.StakeRecord {
	return insurance.NewStakeRecord(uuid.New(), 0)
}

func restoreRecord(t *testing.T, shares uint64, base uint64) *insurance.StakeRecord {
	t.Helper()
	r, err := insurance.RestoreStakeRecord(uuid.New(), 0, u(shares), fpmath.Zero(), base, 0, 0, 0, 0)
	if err != nil {
		t.Fatalf("restore record: %v", err)
	}
	return r
}

func assertU128(t *testing.T, name string, got fpmath.U128, want uint64) {
	t.Helper()
	if !got.Equal(u(want)) {
		t.Errorf("%s: got %s, want %d", name, got, want)
	}
}

func assertShares(t *testing.T, r *insurance.StakeRecord, pool *insurance.FundPool, want uint64) {
	t.Helper()
	shares, err := r.Shares(pool)
	if err != nil {
		t.Fatalf("shares: %v", err)
	}
	assertU128(t, "record shares", shares, want)
}

func assertPool(t *testing.T, pool *insurance.FundPool, total, depositor, base uint64) {
	t.Helper()
	assertU128(t, "total shares", pool.TotalShares, total)
	assertU128(t, "depositor shares", pool.DepositorShares, depositor)
	if pool.ShareBase != base {
		t.Errorf("share base: got %d, want %d", pool.ShareBase, base)
	}
}

func mustStake(t *testing.T, l *insurance.Ledger, amount, balance uint64, r *insurance.StakeRecord, pool *insurance.FundPool, now int64) {
	t.Helper()
	if err := l.AddStake(amount, balance, r, pool, now); err != nil {
		t.Fatalf("add stake %d at balance %d: %v", amount, balance, err)
	}
}

func mustRequest(t *testing.T, l *insurance.Ledger, n, balance uint64, r *insurance.StakeRecord, pool *insurance.FundPool, now int64) {
	t.Helper()
	if err := l.RequestRemoveStake(u(n), balance, r, pool, now); err != nil {
		t.Fatalf("request %d shares at balance %d: %v", n, balance, err)
	}
}

func mustRemove(t *testing.T, l *insurance.Ledger, balance uint64, r *insurance.StakeRecord, pool *insurance.FundPool, now int64) uint64 {
	t.Helper()
	w, err := l.RemoveStake(balance, r, pool, now)
	if err != nil {
		t.Fatalf("remove stake at balance %d: %v", balance, err)
	}
	return w
}

// stubLender values every balance entry 1:1 and reports a fixed depositors'
// claim on the spot vault.
type stubLender struct {
	claim      uint64
	accrued    int
	accrueErr  error
	creditErr  error
	lastAccrue int64
}

func (s *stubLender) AccrueInterest(pool *insurance.FundPool, now int64) error {
	if s.accrueErr != nil {
		return s.accrueErr
	}
	s.accrued++
	s.lastAccrue = now
	pool.LastInterestTs = now
	return nil
}

func (s *stubLender) TokenAmount(entry insurance.BalanceEntry, _ *insurance.FundPool, _ insurance.BalanceSide) (fpmath.U128, error) {
	return entry.ScaledBalance, nil
}

func (s *stubLender) ValidatedVaultAmount(_ *insurance.FundPool, raw uint64) (uint64, error) {
	if raw < s.claim {
		return 0, insurance.ErrInvalidParam
	}
	return s.claim, nil
}

func (s *stubLender) UpdateRevenuePool(amount fpmath.U128, side insurance.BalanceSide, pool *insurance.FundPool) error {
	var err error
	if side == insurance.SideBorrow {
		pool.RevenuePool.ScaledBalance, err = fpmath.Sub(pool.RevenuePool.ScaledBalance, amount)
	} else {
		pool.RevenuePool.ScaledBalance, err = fpmath.Add(pool.RevenuePool.ScaledBalance, amount)
	}
	return err
}

func (s *stubLender) CreditPnlPool(amount fpmath.U128, _ *insurance.FundPool, market *insurance.MarketDeficitState) error {
	if s.creditErr != nil {
		return s.creditErr
	}
	var err error
	market.PnlPool.ScaledBalance, err = fpmath.Add(market.PnlPool.ScaledBalance, amount)
	return err
}

// reportedPnl returns the market's last reported net unsettled pnl.
type reportedPnl struct{}

func (reportedPnl) UnrealizedPnlImbalance(m *insurance.MarketDeficitState, _ int64) (fpmath.I128, error) {
	return m.NetUnsettledPnl, nil
}
