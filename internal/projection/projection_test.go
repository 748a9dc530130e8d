package projection_test

import (
	"context"
	"errors"
	"testing"

	"IFLedger/internal/command"
	"IFLedger/internal/core"
	"IFLedger/internal/event"
	fpmath "IFLedger/internal/math"
	"IFLedger/internal/projection"
	"IFLedger/internal/testutil"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func stakeEvent(owner uuid.UUID, pool uint16, action event.StakeAction, amount uint64) *event.StakeEvent {
	return &event.StakeEvent{
		Ts:          100,
		Owner:       owner,
		Action:      action,
		Amount:      amount,
		PoolID:      pool,
		SharesAfter: fpmath.FromUint64(amount),
	}
}

// ============================================================================
// Test: StakeHistoryProjection
// ============================================================================

func TestStakeHistory_QueryNewestFirst(t *testing.T) {
	h := projection.NewStakeHistoryProjection(100)
	owner, other := uuid.New(), uuid.New()

	h.Apply(1, stakeEvent(owner, 1, event.StakeActionStake, 100))
	h.Apply(2, stakeEvent(other, 1, event.StakeActionStake, 50))
	h.Apply(3, stakeEvent(owner, 1, event.StakeActionUnstakeRequest, 40))
	h.Apply(4, stakeEvent(owner, 2, event.StakeActionStake, 7))

	got := h.QueryByOwner(owner, 1, 10)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Sequence != 3 || got[0].Action != "UnstakeRequest" || got[1].Sequence != 1 {
		t.Errorf("unexpected order: %+v", got)
	}
	if got[1].SharesAfter != "100" {
		t.Errorf("shares after: %s", got[1].SharesAfter)
	}

	if got := h.QueryByOwner(owner, 1, 1); len(got) != 1 || got[0].Sequence != 3 {
		t.Errorf("limit should keep the newest entry: %+v", got)
	}
}

func TestStakeHistory_EvictsOldest(t *testing.T) {
	h := projection.NewStakeHistoryProjection(2)
	owner := uuid.New()

	for seq := int64(1); seq <= 3; seq++ {
		h.Apply(seq, stakeEvent(owner, 1, event.StakeActionStake, uint64(seq)))
	}

	if h.Len() != 2 {
		t.Fatalf("expected 2 retained entries, got %d", h.Len())
	}
	got := h.QueryByOwner(owner, 1, 10)
	if got[len(got)-1].Sequence != 2 {
		t.Errorf("oldest retained should be sequence 2, got %d", got[len(got)-1].Sequence)
	}
}

// ============================================================================
// Test: ProjectionWorker
// ============================================================================

type recordingPublisher struct {
	published []int64
	err       error
}

func (p *recordingPublisher) Publish(_ context.Context, out core.CoreOutput) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, out.Envelope.Sequence)
	return nil
}

func coreOutputs(t *testing.T, owner uuid.UUID) []core.CoreOutput {
	t.Helper()
	projChan := make(chan core.CoreOutput, 16)
	c := core.NewDeterministicCore(0, core.DefaultConfig(), nil, projChan, nil, nil, zerolog.Nop())

	h := func(ts int64) command.Header {
		return command.Header{CommandID: uuid.New(), PoolID: 1, Ts: ts}
	}
	for _, cmd := range []command.Command{
		&command.InitPool{Header: h(1_000), PoolParams: command.PoolParams{Asset: "USDC", RevenueSettlePeriod: 3600, TotalRevenueShareBps: 10_000}},
		&command.Stake{Header: h(1_000), Owner: owner, Amount: 500},
	} {
		if _, err := c.ProcessCommand(cmd); err != nil {
			t.Fatalf("%s: %v", cmd.CommandType(), err)
		}
	}

	close(projChan)
	var outs []core.CoreOutput
	for o := range projChan {
		outs = append(outs, o)
	}
	return outs
}

func TestProjectionWorker_FeedsHistoryAndPublisher(t *testing.T) {
	owner := uuid.New()
	outputs := coreOutputs(t, owner)

	in := make(chan core.CoreOutput, len(outputs))
	for _, o := range outputs {
		in <- o
	}
	close(in)

	history := projection.NewStakeHistoryProjection(10)
	pub := &recordingPublisher{}
	w := projection.NewProjectionWorker(nil, in, history, pub, nil, zerolog.Nop())

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(pub.published) != 2 || pub.published[1] != 1 {
		t.Errorf("published: %v", pub.published)
	}
	got := history.QueryByOwner(owner, 1, 10)
	if len(got) != 1 || got[0].Amount != 500 || got[0].Action != "Stake" {
		t.Errorf("history: %+v", got)
	}
	if w.LastSequence() != 1 {
		t.Errorf("last sequence: %d", w.LastSequence())
	}
}

func TestProjectionWorker_PublishFailureIsSkipped(t *testing.T) {
	outputs := coreOutputs(t, uuid.New())
	history := projection.NewStakeHistoryProjection(10)
	w := projection.NewProjectionWorker(nil, nil, history, &recordingPublisher{err: errors.New("nats down")}, nil, zerolog.Nop())

	for _, o := range outputs {
		w.Handle(context.Background(), o)
	}
	if history.Len() != 1 || w.LastSequence() != 1 {
		t.Error("a failed publish should not block other read models")
	}
}

// ============================================================================
// Test: Postgres projection (requires INTEGRATION_TEST=1)
// ============================================================================

func TestProjectionWorker_ProjectsBalances(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	w := projection.NewProjectionWorker(db, nil, nil, nil, nil, zerolog.Nop())
	for _, o := range coreOutputs(t, uuid.New()) {
		w.Handle(ctx, o)
	}

	var vault int64
	if err := db.QueryRowContext(ctx, `
		SELECT balance FROM projections.balances WHERE account_path = 'system:insurance_vault:1'
	`).Scan(&vault); err != nil {
		t.Fatalf("query: %v", err)
	}
	if vault != 500 {
		t.Errorf("vault projection: got %d, want 500", vault)
	}
}
