package query_test

import (
	"context"
	"errors"
	"testing"

	"IFLedger/internal/command"
	"IFLedger/internal/core"
	"IFLedger/internal/projection"
	"IFLedger/internal/query"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	testPool uint16 = 1
	escrow          = 7 * 86_400
)

func header(ts int64) command.Header {
	return command.Header{CommandID: uuid.New(), PoolID: testPool, Ts: ts}
}

func newService(t *testing.T, cmds ...command.Command) (*query.QueryService, *core.DeterministicCore) {
	t.Helper()
	c := core.NewDeterministicCore(0, core.DefaultConfig(), nil, nil, nil, nil, zerolog.Nop())

	all := append([]command.Command{&command.InitPool{
		Header: header(1_000),
		PoolParams: command.PoolParams{
			Asset:                    "USDC",
			Decimals:                 6,
			WithdrawEscrowPeriod:     escrow,
			RevenueSettlePeriod:      3600,
			DepositorRevenueShareBps: 5_000,
			TotalRevenueShareBps:     10_000,
		},
	}}, cmds...)
	for _, cmd := range all {
		if _, err := c.ProcessCommand(cmd); err != nil {
			t.Fatalf("%s: %v", cmd.CommandType(), err)
		}
	}
	return query.NewQueryService(c, nil, projection.NewStakeHistoryProjection(10)), c
}

// ============================================================================
// Test: Pool summary
// ============================================================================

func TestGetPool_Summary(t *testing.T) {
	qs, _ := newService(t, &command.Stake{Header: header(1_000), Owner: uuid.New(), Amount: 2_000})

	p, err := qs.GetPool(testPool)
	if err != nil {
		t.Fatalf("GetPool: %v", err)
	}
	if p.TotalShares != "2000" || p.DepositorShares != "2000" || p.ProtocolShares != "0" {
		t.Errorf("shares: %+v", p)
	}
	if p.InsuranceVault != 2_000 || p.NextRevenueSettleTs != 4_600 || p.AsOfSequence != 1 {
		t.Errorf("summary: %+v", p)
	}

	pools, err := qs.ListPools()
	if err != nil || len(pools) != 1 {
		t.Errorf("ListPools: %v, %d", err, len(pools))
	}
}

func TestGetPool_ShowsPendingRebase(t *testing.T) {
	qs, c := newService(t,
		&command.Stake{Header: header(1_000), Owner: uuid.New(), Amount: 1_000_000},
		&command.VaultAdjustment{Header: header(1_100), Delta: -999_990, Reason: "bad debt"},
	)

	p, err := qs.GetPool(testPool)
	if err != nil {
		t.Fatalf("GetPool: %v", err)
	}
	if p.TotalShares != "10" || p.ShareBase != 5 {
		t.Errorf("normalized pool: total=%s base=%d", p.TotalShares, p.ShareBase)
	}

	stored, _ := c.Pool(testPool)
	if stored.ShareBase != 0 {
		t.Error("query must not rebase the stored pool")
	}
}

func TestGetPool_Unknown(t *testing.T) {
	qs, _ := newService(t)
	if _, err := qs.GetPool(9); !errors.Is(err, query.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// ============================================================================
// Test: Stake view
// ============================================================================

func TestGetStake_NormalizedValue(t *testing.T) {
	owner := uuid.New()
	qs, _ := newService(t,
		&command.Stake{Header: header(1_000), Owner: owner, Amount: 1_000_000},
		&command.VaultAdjustment{Header: header(1_100), Delta: -999_990},
	)

	v, err := qs.GetStake(owner, testPool)
	if err != nil {
		t.Fatalf("GetStake: %v", err)
	}
	if v.Shares != "10" || v.ShareBase != 5 || v.CurrentValue != 10 {
		t.Errorf("stake view: %+v", v)
	}
	if v.CostBasis != 1_000_000 {
		t.Errorf("cost basis: %d", v.CostBasis)
	}
}

func TestGetStake_PendingRequest(t *testing.T) {
	owner := uuid.New()
	qs, _ := newService(t,
		&command.Stake{Header: header(1_000), Owner: owner, Amount: 1_000_000},
		&command.RequestUnstake{Header: header(2_000), Owner: owner, Shares: "400000"},
	)

	v, err := qs.GetStake(owner, testPool)
	if err != nil {
		t.Fatalf("GetStake: %v", err)
	}
	if v.PendingWithdrawShares != "400000" || v.PendingWithdrawValue != 400_000 {
		t.Errorf("pending: %+v", v)
	}
	if v.WithdrawableAt != 2_000+escrow {
		t.Errorf("withdrawable at: got %d, want %d", v.WithdrawableAt, 2_000+escrow)
	}
}

func TestGetStake_ViewSharesRequestableAfterRebase(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	qs, c := newService(t,
		&command.Stake{Header: header(1_000), Owner: a, Amount: 100_000_000_000},
		&command.Stake{Header: header(1_000), Owner: b, Amount: 100_000_000_000},
		&command.VaultAdjustment{Header: header(1_100), Delta: -(200_000_000_000 - 1_000_000)},
		// rebases the pool; b's record is left at the old base
		&command.RequestUnstake{Header: header(1_200), Owner: a, Shares: "1"},
	)
	rec, _ := c.Stake(b, testPool)
	if _, _, base := rec.Raw(); base != 0 {
		t.Fatalf("b's stored base: got %d, want 0", base)
	}

	v, err := qs.GetStake(b, testPool)
	if err != nil {
		t.Fatalf("GetStake: %v", err)
	}
	if v.Shares != "100000" || v.ShareBase != 6 {
		t.Fatalf("stake view: %+v", v)
	}

	if _, err := c.ProcessCommand(&command.RequestUnstake{Header: header(1_300), Owner: b, Shares: v.Shares}); err != nil {
		t.Fatalf("RequestUnstake: %v", err)
	}
	v, err = qs.GetStake(b, testPool)
	if err != nil {
		t.Fatalf("GetStake: %v", err)
	}
	if v.PendingWithdrawShares != "100000" || v.PendingWithdrawValue != 500_000 {
		t.Errorf("pending: %+v", v)
	}

	res, err := c.ProcessCommand(&command.Unstake{Header: header(1_300 + escrow), Owner: b})
	if err != nil {
		t.Fatalf("Unstake: %v", err)
	}
	if res.Amount != 500_000 {
		t.Errorf("payout: got %d, want 500000", res.Amount)
	}
}

func TestGetStake_Unknown(t *testing.T) {
	qs, _ := newService(t)
	if _, err := qs.GetStake(uuid.New(), testPool); !errors.Is(err, query.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := qs.GetStake(uuid.New(), 42); !errors.Is(err, query.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown pool, got %v", err)
	}
}

// ============================================================================
// Test: Market view
// ============================================================================

func TestGetMarket_Allowances(t *testing.T) {
	qs, _ := newService(t, &command.InitMarket{
		Header:   header(1_000),
		MarketID: 3,
		MarketLimits: command.MarketLimits{
			UnrealizedMaxImbalance:      100,
			MaxRevenueWithdrawPerPeriod: 50,
			LifetimeInsuranceCap:        500,
		},
	})

	m, err := qs.GetMarket(3)
	if err != nil {
		t.Fatalf("GetMarket: %v", err)
	}
	if m.InDeficit || m.PnlPool != "0" {
		t.Errorf("fresh market: %+v", m)
	}
	if m.RemainingPeriodAllowance != 50 || m.RemainingLifetimeAllowance != 500 {
		t.Errorf("allowances: %+v", m)
	}

	if _, err := qs.GetMarket(4); !errors.Is(err, query.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// ============================================================================
// Test: Backends
// ============================================================================

func TestPostgresQueries_UnavailableWithoutDB(t *testing.T) {
	qs, _ := newService(t)
	ctx := context.Background()

	if _, err := qs.GetJournalHistory(ctx, uuid.New(), 10, nil); !errors.Is(err, query.ErrUnavailable) {
		t.Errorf("journal history: %v", err)
	}
	if _, err := qs.VerifyIntegrity(ctx); !errors.Is(err, query.ErrUnavailable) {
		t.Errorf("integrity: %v", err)
	}
	if _, err := qs.GetAccountBalance(ctx, "system:insurance_vault:1", testPool); !errors.Is(err, query.ErrUnavailable) {
		t.Errorf("account balance: %v", err)
	}
}

func TestGetStakeHistory_WithoutProjection(t *testing.T) {
	c := core.NewDeterministicCore(0, core.DefaultConfig(), nil, nil, nil, nil, zerolog.Nop())
	qs := query.NewQueryService(c, nil, nil)
	if _, err := qs.GetStakeHistory(uuid.New(), testPool, 5); !errors.Is(err, query.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}
