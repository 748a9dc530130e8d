package core_test

import (
	"bytes"
	"errors"
	"testing"

	"IFLedger/internal/command"
	"IFLedger/internal/core"
	"IFLedger/internal/event"
	"IFLedger/internal/insurance"
	"IFLedger/internal/ledger"
	"IFLedger/internal/observability"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// --- Test helpers ---

const testPool uint16 = 1

// newTestCore creates a DeterministicCore with buffered channels and no DB checker.
func newTestCore() (*core.DeterministicCore, chan core.CoreOutput, chan core.CoreOutput) {
	persistChan := make(chan core.CoreOutput, 1024)
	projChan := make(chan core.CoreOutput, 1024)
	c := core.NewDeterministicCore(0, core.DefaultConfig(), persistChan, projChan, nil,
		observability.NewMetrics(prometheus.NewRegistry()), zerolog.Nop())
	return c, persistChan, projChan
}

func header(ts int64) command.Header {
	return command.Header{CommandID: uuid.New(), PoolID: testPool, Ts: ts}
}

func initPool(escrow, settlePeriod int64, ts int64) *command.InitPool {
	return &command.InitPool{
		Header: header(ts),
		PoolParams: command.PoolParams{
			Asset:                    "USDC",
			Decimals:                 6,
			WithdrawEscrowPeriod:     escrow,
			RevenueSettlePeriod:      settlePeriod,
			DepositorRevenueShareBps: 5_000,
			TotalRevenueShareBps:     10_000,
		},
	}
}

func stake(owner uuid.UUID, amount uint64, ts int64) *command.Stake {
	return &command.Stake{Header: header(ts), Owner: owner, Amount: amount}
}

func mustApply(t *testing.T, c *core.DeterministicCore, cmd command.Command) core.Result {
	t.Helper()
	res, err := c.ProcessCommand(cmd)
	if err != nil {
		t.Fatalf("%s failed: %v", cmd.CommandType(), err)
	}
	return res
}

func drainOutputs(ch chan core.CoreOutput) []core.CoreOutput {
	var outputs []core.CoreOutput
	for {
		select {
		case o := <-ch:
			outputs = append(outputs, o)
		default:
			return outputs
		}
	}
}

func vaults(t *testing.T, c *core.DeterministicCore) (uint64, uint64) {
	t.Helper()
	ins, spot, err := c.Vaults(testPool)
	if err != nil {
		t.Fatalf("vaults: %v", err)
	}
	return ins, spot
}

// ============================================================================
// Test: Pool setup
// ============================================================================

func TestInitPool_CreatesPool(t *testing.T) {
	c, persistCh, _ := newTestCore()

	mustApply(t, c, initPool(0, 3600, 1_000))

	pool, err := c.Pool(testPool)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if pool.Asset != "USDC" || pool.LastRevenueSettleTs != 1_000 || !pool.TotalShares.IsZero() {
		t.Errorf("unexpected pool: %+v", pool)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}
	if outputs[0].Envelope.EventType != event.EventTypePoolConfigured {
		t.Errorf("event type: got %s", outputs[0].Envelope.EventType)
	}
	if outputs[0].Batch != nil {
		t.Error("pool creation should move no tokens")
	}
}

func TestInitPool_Twice_Fails(t *testing.T) {
	c, _, _ := newTestCore()

	mustApply(t, c, initPool(0, 3600, 1_000))
	if _, err := c.ProcessCommand(initPool(0, 3600, 1_001)); !errors.Is(err, core.ErrPoolExists) {
		t.Errorf("expected ErrPoolExists, got %v", err)
	}
}

func TestStake_UnknownPool_Fails(t *testing.T) {
	c, persistCh, _ := newTestCore()

	if _, err := c.ProcessCommand(stake(uuid.New(), 100, 1_000)); !errors.Is(err, core.ErrUnknownPool) {
		t.Errorf("expected ErrUnknownPool, got %v", err)
	}
	if n := len(drainOutputs(persistCh)); n != 0 {
		t.Errorf("rejected command emitted %d outputs", n)
	}
}

// ============================================================================
// Test: Stake Flow
// ============================================================================

func TestStake_MintsSharesAndFundsVault(t *testing.T) {
	c, persistCh, _ := newTestCore()
	owner := uuid.New()

	mustApply(t, c, initPool(0, 3600, 1_000))
	res := mustApply(t, c, stake(owner, 1_000_000, 1_001))
	if res.Sequence != 1 || res.Amount != 1_000_000 {
		t.Errorf("result: %+v", res)
	}

	ins, _ := vaults(t, c)
	if ins != 1_000_000 {
		t.Errorf("insurance vault: got %d, want 1000000", ins)
	}

	pool, _ := c.Pool(testPool)
	rec, ok := c.Stake(owner, testPool)
	if !ok {
		t.Fatal("stake record not stored")
	}
	shares, err := rec.Shares(&pool)
	if err != nil {
		t.Fatalf("shares: %v", err)
	}
	if shares.Uint64() != 1_000_000 || pool.TotalShares.Uint64() != 1_000_000 {
		t.Errorf("shares %s, total %s", shares, pool.TotalShares)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(outputs))
	}
	j := outputs[1].Batch.Journals[0]
	if j.JournalType != ledger.JournalTypeStake || j.Amount != 1_000_000 {
		t.Errorf("journal: %+v", j)
	}
	if j.Sequence != outputs[1].Envelope.Sequence {
		t.Errorf("journal sequence %d, envelope %d", j.Sequence, outputs[1].Envelope.Sequence)
	}
}

func TestUnstake_EscrowThenPayout(t *testing.T) {
	c, persistCh, _ := newTestCore()
	owner := uuid.New()

	mustApply(t, c, initPool(7*86_400, 3600, 1_000))
	mustApply(t, c, stake(owner, 1_000_000, 1_000))
	mustApply(t, c, &command.VaultAdjustment{Header: header(1_500), Delta: 50_000, Reason: "liquidation surplus"})

	req := mustApply(t, c, &command.RequestUnstake{Header: header(2_000), Owner: owner, Shares: "1000000"})
	if req.Amount != 1_049_999 {
		t.Errorf("frozen withdraw value: got %d, want 1049999", req.Amount)
	}

	if _, err := c.ProcessCommand(&command.Unstake{Header: header(2_000 + 86_400), Owner: owner}); !errors.Is(err, insurance.ErrEscrowNotElapsed) {
		t.Fatalf("expected ErrEscrowNotElapsed, got %v", err)
	}

	res := mustApply(t, c, &command.Unstake{Header: header(2_000 + 7*86_400), Owner: owner})
	if res.Amount != 1_049_999 {
		t.Errorf("payout: got %d, want 1049999", res.Amount)
	}

	ins, _ := vaults(t, c)
	if ins != 1 {
		t.Errorf("insurance vault: got %d, want 1", ins)
	}
	pool, _ := c.Pool(testPool)
	if !pool.TotalShares.IsZero() || !pool.DepositorShares.IsZero() {
		t.Errorf("pool shares after full exit: %s/%s", pool.TotalShares, pool.DepositorShares)
	}

	outputs := drainOutputs(persistCh)
	last := outputs[len(outputs)-1]
	if last.Batch == nil || last.Batch.Journals[0].JournalType != ledger.JournalTypeUnstake {
		t.Fatal("unstake should journal the payout")
	}
	if last.Batch.Journals[0].DebitAccount != ledger.NewUserAccountKey(owner, ledger.SubTypePayout, ledger.PoolID(testPool)) {
		t.Error("payout should debit the owner's payout account")
	}
}

func TestCancelUnstake_ClearsRequest(t *testing.T) {
	c, _, _ := newTestCore()
	owner := uuid.New()

	mustApply(t, c, initPool(0, 3600, 1_000))
	mustApply(t, c, stake(owner, 1_000_000, 1_000))
	mustApply(t, c, &command.RequestUnstake{Header: header(1_100), Owner: owner, Shares: "400000"})
	mustApply(t, c, &command.CancelUnstake{Header: header(1_200), Owner: owner})

	rec, _ := c.Stake(owner, testPool)
	if rec.HasPendingRequest() {
		t.Error("request should be cleared")
	}
	if _, err := c.ProcessCommand(&command.Unstake{Header: header(1_300), Owner: owner}); !errors.Is(err, insurance.ErrNoWithdrawRequest) {
		t.Errorf("expected ErrNoWithdrawRequest, got %v", err)
	}
}

func TestRejectedCommand_LeavesStateUntouched(t *testing.T) {
	c, persistCh, _ := newTestCore()
	owner := uuid.New()

	mustApply(t, c, initPool(0, 3600, 1_000))
	mustApply(t, c, stake(owner, 1_000, 1_000))
	drainOutputs(persistCh)
	hashBefore := c.GetStateHash()
	seqBefore := c.GetSequence()

	_, err := c.ProcessCommand(&command.RequestUnstake{Header: header(1_100), Owner: owner, Shares: "1001"})
	if !errors.Is(err, insurance.ErrInsufficientShares) {
		t.Fatalf("expected ErrInsufficientShares, got %v", err)
	}

	if c.GetStateHash() != hashBefore || c.GetSequence() != seqBefore {
		t.Error("rejected command advanced the chain")
	}
	if n := len(drainOutputs(persistCh)); n != 0 {
		t.Errorf("rejected command emitted %d outputs", n)
	}
	if _, ok := c.Stake(uuid.New(), testPool); ok {
		t.Error("unknown owner should have no record")
	}
}

// ============================================================================
// Test: Revenue Settlement
// ============================================================================

func TestSettleRevenue_CadenceAndTransfer(t *testing.T) {
	c, _, _ := newTestCore()

	mustApply(t, c, initPool(0, 3600, 1_000))
	mustApply(t, c, stake(uuid.New(), 876_000_000, 1_000))
	mustApply(t, c, &command.AccrueRevenue{Header: header(2_000), Amount: 50_000})

	if _, err := c.ProcessCommand(&command.SettleRevenue{Header: header(2_000)}); !errors.Is(err, core.ErrSettleTooSoon) {
		t.Fatalf("expected ErrSettleTooSoon, got %v", err)
	}

	// 10% APR cap on 876M over 8760 hourly periods = 10000; half goes to the fund
	res := mustApply(t, c, &command.SettleRevenue{Header: header(4_600)})
	if res.Amount != 5_000 {
		t.Errorf("settled: got %d, want 5000", res.Amount)
	}

	ins, spot := vaults(t, c)
	if ins != 876_005_000 || spot != 45_000 {
		t.Errorf("vaults: insurance %d spot %d", ins, spot)
	}
	pool, _ := c.Pool(testPool)
	if pool.TotalShares.Uint64() != 876_002_500 || pool.DepositorShares.Uint64() != 876_000_000 {
		t.Errorf("shares: total %s depositor %s", pool.TotalShares, pool.DepositorShares)
	}

	if _, err := c.ProcessCommand(&command.SettleRevenue{Header: header(5_000)}); !errors.Is(err, core.ErrSettleTooSoon) {
		t.Errorf("expected ErrSettleTooSoon after settling, got %v", err)
	}
}

// ============================================================================
// Test: Deficit Resolution
// ============================================================================

func TestResolveDeficit_DrawThenPayout(t *testing.T) {
	c, _, _ := newTestCore()
	const marketID uint16 = 7

	mustApply(t, c, initPool(0, 3600, 1_000))
	mustApply(t, c, stake(uuid.New(), 1_000_000, 1_000))
	mustApply(t, c, &command.InitMarket{
		Header:   header(1_000),
		MarketID: marketID,
		MarketLimits: command.MarketLimits{
			UnrealizedMaxImbalance:      100,
			MaxRevenueWithdrawPerPeriod: 10_000,
			LifetimeInsuranceCap:        50_000,
		},
	})
	update := func(ts int64, payout uint64) *command.UpdateMarket {
		return &command.UpdateMarket{
			Header:                     header(ts),
			MarketID:                   marketID,
			TotalFeeMinusDistributions: "-5000",
			NetUnsettledPnl:            "1100",
			OraclePrice:                1,
			MarketLimits: command.MarketLimits{
				UnrealizedMaxImbalance:      100,
				MaxRevenueWithdrawPerPeriod: 10_000,
				LifetimeInsuranceCap:        50_000,
			},
			PnlPoolPayout: payout,
		}
	}
	mustApply(t, c, update(1_100, 0))

	res := mustApply(t, c, &command.ResolveDeficit{Header: header(1_200), MarketID: marketID})
	if res.Amount != 1_000 {
		t.Errorf("draw: got %d, want 1000", res.Amount)
	}
	ins, spot := vaults(t, c)
	if ins != 999_000 || spot != 1_000 {
		t.Errorf("vaults: insurance %d spot %d", ins, spot)
	}
	market, _ := c.Market(marketID)
	if market.TotalFeeMinusDistributions.Int64() != -4_000 || market.LifetimeInsuranceDrawn != 1_000 {
		t.Errorf("market after draw: %+v", market)
	}

	if _, err := c.ProcessCommand(&command.ResolveDeficit{Header: header(1_300), MarketID: marketID}); !errors.Is(err, insurance.ErrPnlPoolNotEmpty) {
		t.Fatalf("expected ErrPnlPoolNotEmpty, got %v", err)
	}

	mustApply(t, c, update(1_400, 1_000))
	if _, spot := vaults(t, c); spot != 0 {
		t.Errorf("spot vault after payout: got %d, want 0", spot)
	}
	pool, _ := c.Pool(testPool)
	if pool.TotalShares.Uint64() != 1_000_000 {
		t.Error("deficit draw must not touch shares")
	}
}

func TestResolveDeficit_WrongPool_Fails(t *testing.T) {
	c, _, _ := newTestCore()

	mustApply(t, c, initPool(0, 3600, 1_000))
	if _, err := c.ProcessCommand(&command.ResolveDeficit{Header: header(1_100), MarketID: 3}); !errors.Is(err, core.ErrUnknownMarket) {
		t.Errorf("expected ErrUnknownMarket, got %v", err)
	}
}

// ============================================================================
// Test: Idempotency
// ============================================================================

func TestIdempotency_DuplicateStake_Ignored(t *testing.T) {
	c, persistCh, _ := newTestCore()

	mustApply(t, c, initPool(0, 3600, 1_000))
	cmd := stake(uuid.New(), 500, 1_000)
	mustApply(t, c, cmd)

	res := mustApply(t, c, cmd)
	if !res.Duplicate {
		t.Error("second application should be reported as duplicate")
	}

	ins, _ := vaults(t, c)
	if ins != 500 {
		t.Errorf("insurance vault: got %d, want 500", ins)
	}
	if n := len(drainOutputs(persistCh)); n != 2 {
		t.Errorf("expected 2 outputs, got %d", n)
	}
}

func TestIdempotency_RejectedCommandCanRetry(t *testing.T) {
	c, _, _ := newTestCore()

	cmd := stake(uuid.New(), 500, 1_000)
	if _, err := c.ProcessCommand(cmd); err == nil {
		t.Fatal("stake before pool exists should fail")
	}
	mustApply(t, c, initPool(0, 3600, 1_000))
	if res := mustApply(t, c, cmd); res.Duplicate {
		t.Error("a rejected command must not be marked processed")
	}
}

// ============================================================================
// Test: State Hash Chain
// ============================================================================

func TestStateHashChain_Deterministic(t *testing.T) {
	owner := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	cmds := []command.Command{
		&command.InitPool{Header: command.Header{CommandID: uuid.MustParse("00000000-0000-0000-0000-000000000001"), PoolID: testPool, Ts: 1_000},
			PoolParams: command.PoolParams{Asset: "USDC", RevenueSettlePeriod: 3600, TotalRevenueShareBps: 10_000}},
		&command.Stake{Header: command.Header{CommandID: uuid.MustParse("00000000-0000-0000-0000-000000000002"), PoolID: testPool, Ts: 1_001},
			Owner: owner, Amount: 42_000},
		&command.VaultAdjustment{Header: command.Header{CommandID: uuid.MustParse("00000000-0000-0000-0000-000000000003"), PoolID: testPool, Ts: 1_002},
			Delta: -2_000},
	}

	run := func() [32]byte {
		c, _, _ := newTestCore()
		for _, cmd := range cmds {
			mustApply(t, c, cmd)
		}
		return c.GetStateHash()
	}

	if run() != run() {
		t.Error("identical command streams produced different state hashes")
	}
}

func TestEnvelope_HasCorrectFields(t *testing.T) {
	c, persistCh, _ := newTestCore()

	mustApply(t, c, initPool(0, 3600, 1_000))
	mustApply(t, c, stake(uuid.New(), 10, 1_234))

	outputs := drainOutputs(persistCh)
	first, second := outputs[0].Envelope, outputs[1].Envelope
	if second.PrevHash != first.StateHash {
		t.Error("envelope prev hash should chain to the previous state hash")
	}
	if second.Timestamp.Unix() != 1_234 || second.PoolID != testPool {
		t.Errorf("envelope fields: %+v", second)
	}
	if !bytes.Contains(second.Payload, []byte(`"Action":0`)) {
		t.Errorf("stake payload: %s", second.Payload)
	}
	if outputs[1].Command.IdempotencyKey() != second.IdempotencyKey {
		t.Error("output should carry the originating command")
	}
}

// ============================================================================
// Test: Snapshot & Replay
// ============================================================================

func TestSnapshotRestoreReplay_MatchesLiveCore(t *testing.T) {
	owner := uuid.New()
	live, _, _ := newTestCore()

	mustApply(t, live, initPool(0, 3600, 1_000))
	mustApply(t, live, stake(owner, 1_000_000, 1_000))
	snap := live.CreateSnapshotState()

	tail := []command.Command{
		&command.VaultAdjustment{Header: header(1_100), Delta: 5_000},
		&command.RequestUnstake{Header: header(1_200), Owner: owner, Shares: "500000"},
		&command.Unstake{Header: header(1_300), Owner: owner},
	}
	for _, cmd := range tail {
		mustApply(t, live, cmd)
	}

	restored, persistCh, _ := newTestCore()
	restored.RestoreFromSnapshot(snap)
	if err := restored.Replay(tail); err != nil {
		t.Fatalf("replay: %v", err)
	}

	if restored.GetStateHash() != live.GetStateHash() || restored.GetSequence() != live.GetSequence() {
		t.Error("replayed core diverged from live core")
	}
	if n := len(drainOutputs(persistCh)); n != 0 {
		t.Errorf("replay emitted %d outputs", n)
	}
	if res, _ := restored.ProcessCommand(tail[0]); !res.Duplicate {
		t.Error("replayed commands should be marked processed")
	}

	ins, _, _ := restored.Vaults(testPool)
	liveIns, _, _ := live.Vaults(testPool)
	if ins != liveIns {
		t.Errorf("vault: restored %d, live %d", ins, liveIns)
	}
}

// ============================================================================
// Test: Output channels
// ============================================================================

func TestProjectionChannel_DropsOnFull(t *testing.T) {
	persistChan := make(chan core.CoreOutput, 16)
	projChan := make(chan core.CoreOutput, 1)
	c := core.NewDeterministicCore(0, core.DefaultConfig(), persistChan, projChan, nil, nil, zerolog.Nop())

	mustApply(t, c, initPool(0, 3600, 1_000))
	mustApply(t, c, stake(uuid.New(), 10, 1_000))
	mustApply(t, c, stake(uuid.New(), 10, 1_000))

	if n := len(drainOutputs(persistChan)); n != 3 {
		t.Errorf("persist channel: got %d outputs, want 3", n)
	}
	if n := len(drainOutputs(projChan)); n != 1 {
		t.Errorf("projection channel: got %d outputs, want 1", n)
	}
}
