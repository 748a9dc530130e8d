package persistence_test

import (
	"encoding/json"
	"testing"
	"time"

	"IFLedger/internal/command"
	"IFLedger/internal/core"
	"IFLedger/internal/ledger"
	"IFLedger/internal/persistence"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const testPool uint16 = 1

func newCore() (*core.DeterministicCore, chan core.CoreOutput) {
	persistChan := make(chan core.CoreOutput, 256)
	c := core.NewDeterministicCore(0, core.DefaultConfig(), persistChan, nil, nil, nil, zerolog.Nop())
	return c, persistChan
}

func header(ts int64) command.Header {
	return command.Header{CommandID: uuid.New(), PoolID: testPool, Ts: ts}
}

func initPool(ts int64) *command.InitPool {
	return &command.InitPool{
		Header: header(ts),
		PoolParams: command.PoolParams{
			Asset:                    "USDC",
			Decimals:                 6,
			WithdrawEscrowPeriod:     0,
			RevenueSettlePeriod:      3600,
			DepositorRevenueShareBps: 5_000,
			TotalRevenueShareBps:     10_000,
		},
	}
}

func apply(t *testing.T, c *core.DeterministicCore, cmds ...command.Command) {
	t.Helper()
	for _, cmd := range cmds {
		if _, err := c.ProcessCommand(cmd); err != nil {
			t.Fatalf("%s: %v", cmd.CommandType(), err)
		}
	}
}

func drain(ch chan core.CoreOutput) []core.CoreOutput {
	var out []core.CoreOutput
	for {
		select {
		case o := <-ch:
			out = append(out, o)
		default:
			return out
		}
	}
}

// ============================================================================
// Test: Row conversion
// ============================================================================

func TestNewRecord_FlattensOutput(t *testing.T) {
	c, ch := newCore()
	owner := uuid.New()
	stake := &command.Stake{Header: header(1_000), Owner: owner, Amount: 250}

	apply(t, c, initPool(1_000), stake)
	outputs := drain(ch)

	rec, err := persistence.NewRecord(outputs[1])
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}

	row := rec.EventRow
	if row.Sequence != 1 || row.EventType != "Stake" || row.CommandType != "Stake" {
		t.Errorf("event row: %+v", row)
	}
	if row.IdempotencyKey != stake.CommandID.String() || row.PoolID != testPool {
		t.Errorf("event row keys: %+v", row)
	}
	if len(row.StateHash) != 32 || len(row.PrevHash) != 32 {
		t.Error("hashes should be 32 bytes")
	}

	decoded, err := command.Decode(command.CommandTypeStake, row.Command)
	if err != nil {
		t.Fatalf("logged command should decode: %v", err)
	}
	if got := decoded.(*command.Stake); got.Owner != owner || got.Amount != 250 {
		t.Errorf("decoded command: %+v", got)
	}

	if len(rec.JournalRows) != 1 {
		t.Fatalf("expected 1 journal row, got %d", len(rec.JournalRows))
	}
	j := rec.JournalRows[0]
	if j.DebitAccount != "system:insurance_vault:1" || j.CreditAccount != "external:deposits:1" {
		t.Errorf("journal accounts: %s <- %s", j.DebitAccount, j.CreditAccount)
	}
	if j.Amount != 250 || j.Sequence != 1 || j.JournalType != int32(ledger.JournalTypeStake) {
		t.Errorf("journal row: %+v", j)
	}
}

func TestNewRecord_NoBatch(t *testing.T) {
	c, ch := newCore()
	apply(t, c, initPool(1_000))

	rec, err := persistence.NewRecord(drain(ch)[0])
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	if len(rec.JournalRows) != 0 {
		t.Errorf("pool creation should write no journals, got %d", len(rec.JournalRows))
	}
}

// ============================================================================
// Test: Snapshot encoding
// ============================================================================

func TestSnapshotData_RoundTripRestoresCore(t *testing.T) {
	live, _ := newCore()
	owner := uuid.New()

	apply(t, live,
		initPool(1_000),
		&command.Stake{Header: header(1_000), Owner: owner, Amount: 1_000_000},
		&command.InitMarket{Header: header(1_000), MarketID: 9},
		&command.RequestUnstake{Header: header(1_100), Owner: owner, Shares: "250000"},
	)

	snap := persistence.NewSnapshotData(live.CreateSnapshotState(), time.Unix(1_100, 0))
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded persistence.SnapshotData
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	state, err := decoded.ToCoreState()
	if err != nil {
		t.Fatalf("ToCoreState: %v", err)
	}

	restored, _ := newCore()
	restored.RestoreFromSnapshot(state)

	if restored.GetStateHash() != live.GetStateHash() || restored.GetSequence() != live.GetSequence() {
		t.Fatal("restored core should match the live core")
	}

	tail := &command.Unstake{Header: header(1_200), Owner: owner}
	apply(t, live, tail)
	if err := restored.Replay([]command.Command{tail}); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if restored.GetStateHash() != live.GetStateHash() {
		t.Error("replay after restore diverged")
	}

	rec, ok := restored.Stake(owner, testPool)
	if !ok || rec.HasPendingRequest() {
		t.Errorf("restored stake: %+v", rec)
	}
	if _, err := restored.Market(9); err != nil {
		t.Errorf("restored market: %v", err)
	}
}

func TestSnapshotData_RejectsBadHash(t *testing.T) {
	snap := &persistence.SnapshotData{Sequence: 4, StateHash: []byte{1, 2, 3}}
	if _, err := snap.ToCoreState(); err == nil {
		t.Error("expected error for short state hash")
	}
}

func TestSnapshotData_RejectsBadAccountPath(t *testing.T) {
	snap := &persistence.SnapshotData{
		Sequence:  4,
		StateHash: make([]byte, 32),
		Balances:  map[string]int64{"system:nowhere:1": 5},
	}
	if _, err := snap.ToCoreState(); err == nil {
		t.Error("expected error for unknown account path")
	}
}
