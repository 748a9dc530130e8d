package insurance

import (
	"fmt"

	"IFLedger/internal/event"
	fpmath "IFLedger/internal/math"
)

type stakeSnapshot struct {
	shares    fpmath.U128
	depositor fpmath.U128
	total     fpmath.U128
}

func snapshotOf(rec *StakeRecord, pool *FundPool) stakeSnapshot {
	return stakeSnapshot{shares: rec.shares, depositor: pool.DepositorShares, total: pool.TotalShares}
}

func (l *Ledger) stakeEvent(action event.StakeAction, amount, balance uint64, before stakeSnapshot, rec *StakeRecord, pool *FundPool, now int64) *event.StakeEvent {
	return &event.StakeEvent{
		Ts:                    now,
		Owner:                 rec.Owner,
		Action:                action,
		Amount:                amount,
		PoolID:                pool.PoolID,
		VaultBalanceBefore:    balance,
		SharesBefore:          before.shares,
		DepositorSharesBefore: before.depositor,
		TotalSharesBefore:     before.total,
		SharesAfter:           rec.shares,
		DepositorSharesAfter:  pool.DepositorShares,
		TotalSharesAfter:      pool.TotalShares,
	}
}

func creditShares(rec *StakeRecord, pool *FundPool, n fpmath.U128) error {
	shares, err := fpmath.Add(rec.shares, n)
	if err != nil {
		return err
	}
	total, err := fpmath.Add(pool.TotalShares, n)
	if err != nil {
		return err
	}
	depositor, err := fpmath.Add(pool.DepositorShares, n)
	if err != nil {
		return err
	}
	rec.shares, pool.TotalShares, pool.DepositorShares = shares, total, depositor
	return nil
}

func burnShares(rec *StakeRecord, pool *FundPool, n fpmath.U128) error {
	shares, err := fpmath.Sub(rec.shares, n)
	if err != nil {
		return err
	}
	total, err := fpmath.Sub(pool.TotalShares, n)
	if err != nil {
		return err
	}
	depositor, err := fpmath.Sub(pool.DepositorShares, n)
	if err != nil {
		return err
	}
	rec.shares, pool.TotalShares, pool.DepositorShares = shares, total, depositor
	return nil
}

// AddStake deposits amount into the fund for rec's owner, minting shares at
// the pre-deposit price.
func (l *Ledger) AddStake(amount, balanceBefore uint64, rec *StakeRecord, pool *FundPool, now int64) error {
	if balanceBefore == 0 && !pool.TotalShares.IsZero() {
		return fmt.Errorf("add stake to pool %d: %w", pool.PoolID, ErrZeroBalanceWithClaims)
	}

	p, r := *pool, *rec
	if err := l.normalize(balanceBefore, &r, &p); err != nil {
		return fmt.Errorf("add stake: %w", err)
	}
	before := snapshotOf(&r, &p)

	n, err := SharesForAmount(amount, p.TotalShares, balanceBefore)
	if err != nil {
		return fmt.Errorf("add stake: %w", err)
	}

	amt, err := toInt64(amount)
	if err != nil {
		return fmt.Errorf("add stake: %w", err)
	}
	if before.shares.IsZero() {
		r.CostBasis = amt
	} else if r.CostBasis, err = addInt64(r.CostBasis, amt); err != nil {
		return fmt.Errorf("add stake cost basis: %w", err)
	}

	if err := creditShares(&r, &p, n); err != nil {
		return fmt.Errorf("add stake credit %s shares: %w", n, err)
	}

	balanceAfter, err := fpmath.Add(fpmath.FromUint64(balanceBefore), fpmath.FromUint64(amount))
	if err != nil {
		return fmt.Errorf("add stake: %w", err)
	}
	after, err := fpmath.ToUint64(balanceAfter)
	if err != nil {
		return fmt.Errorf("add stake: %w", err)
	}
	if r.StakedValue, err = AmountForShares(r.shares, p.TotalShares, after); err != nil {
		return fmt.Errorf("add stake: %w", err)
	}

	*pool, *rec = p, r
	l.emit(l.stakeEvent(event.StakeActionStake, amount, balanceBefore, before, rec, pool, now))
	return nil
}

// RequestRemoveStake starts (or replaces) a withdraw request for nShares,
// expressed in the pool's share base after any pending rebase. The value is
// frozen now and caps what RemoveStake will pay.
func (l *Ledger) RequestRemoveStake(nShares fpmath.U128, balanceBefore uint64, rec *StakeRecord, pool *FundPool, now int64) error {
	if nShares.IsZero() {
		return fmt.Errorf("request zero shares: %w", ErrInvalidParam)
	}

	p, r := *pool, *rec
	if err := l.normalize(balanceBefore, &r, &p); err != nil {
		return fmt.Errorf("request remove stake: %w", err)
	}
	before := snapshotOf(&r, &p)
	r.pendingShares = nShares

	shares, err := r.Shares(&p)
	if err != nil {
		return fmt.Errorf("request remove stake: %w", err)
	}
	if r.pendingShares.GT(shares) {
		return fmt.Errorf("request %s shares, have %s: %w", r.pendingShares, shares, ErrInsufficientShares)
	}

	value, err := AmountForShares(r.pendingShares, p.TotalShares, balanceBefore)
	if err != nil {
		return fmt.Errorf("request remove stake: %w", err)
	}
	if balanceBefore == 0 {
		value = 0
	} else if value > balanceBefore-1 {
		value = balanceBefore - 1
	}
	if value >= balanceBefore {
		return fmt.Errorf("request value %d, fund balance %d: %w", value, balanceBefore, ErrWithdrawValueNotBelowBalance)
	}

	r.PendingWithdrawValue = value
	r.PendingWithdrawRequestTs = now
	if r.StakedValue, err = AmountForShares(shares, p.TotalShares, balanceBefore); err != nil {
		return fmt.Errorf("request remove stake: %w", err)
	}

	*pool, *rec = p, r
	l.emit(l.stakeEvent(event.StakeActionUnstakeRequest, value, balanceBefore, before, rec, pool, now))
	return nil
}

// sharesLost is the part of a pending request that cancelling forfeits: the
// value the pending shares gained above their frozen value since the
// request, expressed as shares against the rest of the pool.
func sharesLost(rec *StakeRecord, pool *FundPool, balance uint64) (fpmath.U128, error) {
	n := rec.pendingShares
	amount, err := AmountForShares(n, pool.TotalShares, balance)
	if err != nil {
		return fpmath.Zero(), err
	}
	if amount <= rec.PendingWithdrawValue {
		return fpmath.Zero(), nil
	}

	remaining, err := fpmath.Sub(pool.TotalShares, n)
	if err != nil {
		return fpmath.Zero(), err
	}
	if remaining.IsZero() {
		return fpmath.Zero(), nil
	}

	kept, err := SharesForAmount(rec.PendingWithdrawValue, remaining, balance-rec.PendingWithdrawValue)
	if err != nil {
		return fpmath.Zero(), err
	}
	if !kept.LT(n) {
		return fpmath.Zero(), nil
	}
	return n.Sub(kept), nil
}

// CancelRequestRemoveStake drops the pending request. Gains accrued by the
// pending shares since the request stay with the pool.
func (l *Ledger) CancelRequestRemoveStake(balanceBefore uint64, rec *StakeRecord, pool *FundPool, now int64) error {
	p, r := *pool, *rec
	if err := l.normalize(balanceBefore, &r, &p); err != nil {
		return fmt.Errorf("cancel request: %w", err)
	}
	before := snapshotOf(&r, &p)

	if r.pendingShares.IsZero() {
		return fmt.Errorf("cancel request for %s: %w", r.Owner, ErrNoWithdrawRequest)
	}

	lost, err := sharesLost(&r, &p, balanceBefore)
	if err != nil {
		return fmt.Errorf("cancel request shares lost: %w", err)
	}
	if err := burnShares(&r, &p, lost); err != nil {
		return fmt.Errorf("cancel request burn %s shares: %w", lost, err)
	}
	if !lost.IsZero() {
		l.logger.Info().
			Uint16("pool_id", p.PoolID).
			Str("owner", r.Owner.String()).
			Str("shares_lost", lost.String()).
			Msg("withdraw request cancelled with forfeited shares")
	}

	r.clearRequest(now)
	if r.StakedValue, err = AmountForShares(r.shares, p.TotalShares, balanceBefore); err != nil {
		return fmt.Errorf("cancel request: %w", err)
	}

	*pool, *rec = p, r
	l.emit(l.stakeEvent(event.StakeActionUnstakeCancelRequest, 0, balanceBefore, before, rec, pool, now))
	return nil
}

// RemoveStake settles a pending request once its escrow period has elapsed
// and returns the amount owed to the owner: the lesser of the shares' current
// value and the value frozen at request time.
func (l *Ledger) RemoveStake(balanceBefore uint64, rec *StakeRecord, pool *FundPool, now int64) (uint64, error) {
	if elapsed := now - rec.PendingWithdrawRequestTs; elapsed < pool.WithdrawEscrowPeriod {
		return 0, fmt.Errorf("%ds of %ds escrow elapsed: %w", elapsed, pool.WithdrawEscrowPeriod, ErrEscrowNotElapsed)
	}

	p, r := *pool, *rec
	if err := l.normalize(balanceBefore, &r, &p); err != nil {
		return 0, fmt.Errorf("remove stake: %w", err)
	}
	before := snapshotOf(&r, &p)

	n := r.pendingShares
	if n.IsZero() {
		return 0, fmt.Errorf("remove stake for %s: %w", r.Owner, ErrNoWithdrawRequest)
	}
	if r.shares.LT(n) {
		return 0, fmt.Errorf("remove %s shares, have %s: %w", n, r.shares, ErrInsufficientShares)
	}

	amount, err := AmountForShares(n, p.TotalShares, balanceBefore)
	if err != nil {
		return 0, fmt.Errorf("remove stake: %w", err)
	}
	withdraw := amount
	if r.PendingWithdrawValue < withdraw {
		withdraw = r.PendingWithdrawValue
	}

	if err := burnShares(&r, &p, n); err != nil {
		return 0, fmt.Errorf("remove stake burn %s shares: %w", n, err)
	}
	w, err := toInt64(withdraw)
	if err != nil {
		return 0, fmt.Errorf("remove stake: %w", err)
	}
	if r.CostBasis, err = addInt64(r.CostBasis, -w); err != nil {
		return 0, fmt.Errorf("remove stake cost basis: %w", err)
	}

	r.clearRequest(now)
	if r.StakedValue, err = AmountForShares(r.shares, p.TotalShares, balanceBefore-withdraw); err != nil {
		return 0, fmt.Errorf("remove stake: %w", err)
	}

	*pool, *rec = p, r
	l.emit(l.stakeEvent(event.StakeActionUnstake, withdraw, balanceBefore, before, rec, pool, now))
	return withdraw, nil
}
