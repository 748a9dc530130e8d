package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"IFLedger/internal/core"
	"IFLedger/internal/insurance"
	"IFLedger/internal/projection"

	"github.com/google/uuid"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrUnavailable = errors.New("query backend unavailable")
)

// StateReader is the read side of the deterministic core.
type StateReader interface {
	PoolIDs() []uint16
	PoolState(id uint16) (core.PoolState, error)
	StakeState(owner uuid.UUID, poolID uint16) (core.PoolState, insurance.StakeRecord, bool, error)
	MarketState(id uint16) (core.MarketState, error)
}

// QueryService answers pool, stake and market queries from live core state
// and history queries from Postgres. Every response carries as_of_sequence.
type QueryService struct {
	state   StateReader
	db      *sql.DB // nil disables history and integrity queries
	history *projection.StakeHistoryProjection
}

func NewQueryService(state StateReader, db *sql.DB, history *projection.StakeHistoryProjection) *QueryService {
	return &QueryService{state: state, db: db, history: history}
}

// --- Live state ---

// ListPools returns a summary of every pool.
func (qs *QueryService) ListPools() ([]PoolSummary, error) {
	ids := qs.state.PoolIDs()
	pools := make([]PoolSummary, 0, len(ids))
	for _, id := range ids {
		p, err := qs.GetPool(id)
		if err != nil {
			return nil, err
		}
		pools = append(pools, *p)
	}
	return pools, nil
}

// GetPool returns a pool summary with share totals normalized to the
// current vault balance.
func (qs *QueryService) GetPool(poolID uint16) (*PoolSummary, error) {
	ps, err := qs.state.PoolState(poolID)
	if err != nil {
		return nil, notFound(err)
	}

	p := ps.Pool
	insurance.ApplyPoolRebase(ps.InsuranceVault, &p)

	summary := &PoolSummary{
		PoolID:                   p.PoolID,
		Asset:                    p.Asset,
		Decimals:                 p.Decimals,
		TotalShares:              p.TotalShares.String(),
		DepositorShares:          p.DepositorShares.String(),
		ProtocolShares:           p.ProtocolShares().String(),
		ShareBase:                p.ShareBase,
		InsuranceVault:           ps.InsuranceVault,
		SpotVault:                ps.SpotVault,
		RevenuePool:              ps.RevenuePoolAmount.String(),
		WithdrawEscrowPeriod:     p.WithdrawEscrowPeriod,
		RevenueSettlePeriod:      p.RevenueSettlePeriod,
		LastRevenueSettleTs:      p.LastRevenueSettleTs,
		DepositorRevenueShareBps: p.DepositorRevenueShareBps,
		TotalRevenueShareBps:     p.TotalRevenueShareBps,
		AsOfSequence:             ps.AsOfSequence,
	}
	if p.RevenueSettlePeriod > 0 {
		summary.NextRevenueSettleTs = p.LastRevenueSettleTs + p.RevenueSettlePeriod
	}
	return summary, nil
}

// GetStake returns an owner's stake, rescaled to the pool's current base
// and valued at the current vault balance. Nothing is written back.
func (qs *QueryService) GetStake(owner uuid.UUID, poolID uint16) (*StakeView, error) {
	ps, rec, ok, err := qs.state.StakeState(owner, poolID)
	if err != nil {
		return nil, notFound(err)
	}
	if !ok {
		return nil, fmt.Errorf("stake %s in pool %d: %w", owner, poolID, ErrNotFound)
	}

	p := ps.Pool
	insurance.ApplyPoolRebase(ps.InsuranceVault, &p)
	if err := insurance.ApplyStakeRebase(&rec, &p); err != nil {
		return nil, err
	}

	shares, err := rec.Shares(&p)
	if err != nil {
		return nil, err
	}
	pending, err := rec.PendingShares(&p)
	if err != nil {
		return nil, err
	}
	value, err := insurance.AmountForShares(shares, p.TotalShares, ps.InsuranceVault)
	if err != nil {
		return nil, err
	}

	view := &StakeView{
		Owner:                    owner,
		PoolID:                   poolID,
		Shares:                   shares.String(),
		PendingWithdrawShares:    pending.String(),
		ShareBase:                p.ShareBase,
		CurrentValue:             value,
		CostBasis:                rec.CostBasis,
		PendingWithdrawValue:     rec.PendingWithdrawValue,
		PendingWithdrawRequestTs: rec.PendingWithdrawRequestTs,
		AsOfSequence:             ps.AsOfSequence,
	}
	if !pending.IsZero() {
		view.WithdrawableAt = rec.PendingWithdrawRequestTs + p.WithdrawEscrowPeriod
	}
	return view, nil
}

// GetMarket returns a market's deficit state and remaining allowances.
func (qs *QueryService) GetMarket(marketID uint16) (*MarketView, error) {
	ms, err := qs.state.MarketState(marketID)
	if err != nil {
		return nil, notFound(err)
	}

	m := ms.Market
	return &MarketView{
		MarketID:                    m.MarketID,
		PoolID:                      m.PoolID,
		TotalFeeMinusDistributions:  m.TotalFeeMinusDistributions.String(),
		NetUnsettledPnl:             m.NetUnsettledPnl.String(),
		PnlPool:                     ms.PnlPoolAmount.String(),
		InDeficit:                   m.TotalFeeMinusDistributions.IsNegative(),
		UnrealizedMaxImbalance:      m.UnrealizedMaxImbalance,
		MaxRevenueWithdrawPerPeriod: m.MaxRevenueWithdrawPerPeriod,
		RevenueWithdrawnThisPeriod:  m.RevenueWithdrawnThisPeriod,
		RemainingPeriodAllowance:    saturatingSub(m.MaxRevenueWithdrawPerPeriod, m.RevenueWithdrawnThisPeriod),
		LifetimeInsuranceCap:        m.LifetimeInsuranceCap,
		LifetimeInsuranceDrawn:      m.LifetimeInsuranceDrawn,
		RemainingLifetimeAllowance:  saturatingSub(m.LifetimeInsuranceCap, m.LifetimeInsuranceDrawn),
		LastRevenueWithdrawTs:       m.LastRevenueWithdrawTs,
		AsOfSequence:                ms.AsOfSequence,
	}, nil
}

// GetStakeHistory returns an owner's recent stake transitions, newest first.
func (qs *QueryService) GetStakeHistory(owner uuid.UUID, poolID uint16, limit int) ([]projection.StakeHistoryEntry, error) {
	if qs.history == nil {
		return nil, ErrUnavailable
	}
	return qs.history.QueryByOwner(owner, poolID, limit), nil
}

// --- Postgres ---

// GetJournalHistory returns journal entries touching an owner's accounts,
// newest first, paginated by sequence.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	owner uuid.UUID,
	limit int,
	beforeSequence *int64,
) ([]JournalHistoryEntry, error) {
	if qs.db == nil {
		return nil, ErrUnavailable
	}

	accountPrefix := fmt.Sprintf("user:%s:%%", owner)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, pool_id, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.PoolID, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// GetAccountBalance returns a projected account balance.
func (qs *QueryService) GetAccountBalance(ctx context.Context, accountPath string, poolID uint16) (*AccountBalance, error) {
	if qs.db == nil {
		return nil, ErrUnavailable
	}
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var balance int64
	err = qs.db.QueryRowContext(ctx, `
		SELECT balance FROM projections.balances
		WHERE account_path = $1 AND pool_id = $2
	`, accountPath, int32(poolID)).Scan(&balance)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	return &AccountBalance{
		AccountPath:  accountPath,
		PoolID:       poolID,
		Balance:      balance,
		AsOfSequence: asOfSeq,
	}, nil
}

// --- Admin APIs ---

// VerifyIntegrity checks the event-log hash chain and that every pool's
// projected balances sum to zero.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	if qs.db == nil {
		return nil, ErrUnavailable
	}
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash != e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT pool_id, SUM(balance) AS total
		FROM projections.balances
		GROUP BY pool_id
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var u UnbalancedPool
		if err := balanceRows.Scan(&u.PoolID, &u.Imbalance); err != nil {
			return nil, err
		}
		report.UnbalancedPools = append(report.UnbalancedPools, u)
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedPools) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

func notFound(err error) error {
	if errors.Is(err, core.ErrUnknownPool) || errors.Is(err, core.ErrUnknownMarket) {
		return fmt.Errorf("%v: %w", err, ErrNotFound)
	}
	return err
}

func saturatingSub(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}

