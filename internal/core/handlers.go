package core

import (
	"fmt"

	"IFLedger/internal/command"
	"IFLedger/internal/event"
	"IFLedger/internal/insurance"
	"IFLedger/internal/ledger"
	"IFLedger/internal/lending"
	fpmath "IFLedger/internal/math"
)

func noop() {}

func (c *DeterministicCore) pool(id uint16) (*insurance.FundPool, error) {
	pool, ok := c.pools[id]
	if !ok {
		return nil, fmt.Errorf("pool %d: %w", id, ErrUnknownPool)
	}
	return pool, nil
}

// market looks up a market and checks it settles against poolID
func (c *DeterministicCore) market(id, poolID uint16) (*insurance.MarketDeficitState, error) {
	market, ok := c.markets[id]
	if !ok || market.PoolID != poolID {
		return nil, fmt.Errorf("market %d on pool %d: %w", id, poolID, ErrUnknownMarket)
	}
	return market, nil
}

// stakeFor returns the stored record, or a fresh one that is only stored if
// the command commits
func (c *DeterministicCore) stakeFor(key StakeKey) *insurance.StakeRecord {
	if rec, ok := c.stakes[key]; ok {
		return rec
	}
	return insurance.NewStakeRecord(key.Owner, key.PoolID)
}

func (c *DeterministicCore) vaults(poolID uint16) (insuranceVault, spotVault uint64, err error) {
	if insuranceVault, err = c.balanceTracker.InsuranceVaultBalance(ledger.PoolID(poolID)); err != nil {
		return 0, 0, err
	}
	if spotVault, err = c.balanceTracker.SpotVaultBalance(ledger.PoolID(poolID)); err != nil {
		return 0, 0, err
	}
	return insuranceVault, spotVault, nil
}

func poolConfig(id uint16, p command.PoolParams) insurance.PoolConfig {
	return insurance.PoolConfig{
		PoolID:                   id,
		Asset:                    p.Asset,
		Decimals:                 p.Decimals,
		WithdrawEscrowPeriod:     p.WithdrawEscrowPeriod,
		RevenueSettlePeriod:      p.RevenueSettlePeriod,
		DepositorRevenueShareBps: p.DepositorRevenueShareBps,
		TotalRevenueShareBps:     p.TotalRevenueShareBps,
		BorrowRateBps:            p.BorrowRateBps,
		InterestFeeBps:           p.InterestFeeBps,
	}
}

func poolConfigured(pool *insurance.FundPool, ts int64) *event.PoolConfigured {
	return &event.PoolConfigured{
		Ts:                       ts,
		PoolID:                   pool.PoolID,
		Asset:                    pool.Asset,
		WithdrawEscrowPeriod:     pool.WithdrawEscrowPeriod,
		RevenueSettlePeriod:      pool.RevenueSettlePeriod,
		DepositorRevenueShareBps: pool.DepositorRevenueShareBps,
		TotalRevenueShareBps:     pool.TotalRevenueShareBps,
	}
}

// === Admin ===

func (c *DeterministicCore) handleInitPool(cmd *command.InitPool) (*applied, error) {
	if _, ok := c.pools[cmd.PoolID]; ok {
		return nil, fmt.Errorf("pool %d: %w", cmd.PoolID, ErrPoolExists)
	}
	pool := insurance.NewFundPool(poolConfig(cmd.PoolID, cmd.PoolParams), cmd.Ts)
	c.recorder.Record(poolConfigured(pool, cmd.Ts))

	return &applied{commit: func() { c.pools[cmd.PoolID] = pool }}, nil
}

func (c *DeterministicCore) handleUpdatePool(cmd *command.UpdatePool) (*applied, error) {
	pool, err := c.pool(cmd.PoolID)
	if err != nil {
		return nil, err
	}
	p := *pool

	// Accrue at the old rate up to now
	if err := c.lender.AccrueInterest(&p, cmd.Ts); err != nil {
		return nil, err
	}
	p.Configure(poolConfig(cmd.PoolID, cmd.PoolParams))
	c.recorder.Record(poolConfigured(&p, cmd.Ts))

	return &applied{commit: func() { *pool = p }}, nil
}

func (c *DeterministicCore) handleInitMarket(cmd *command.InitMarket) (*applied, error) {
	if _, err := c.pool(cmd.PoolID); err != nil {
		return nil, err
	}
	if _, ok := c.markets[cmd.MarketID]; ok {
		return nil, fmt.Errorf("market %d: %w", cmd.MarketID, ErrMarketExists)
	}

	market := insurance.NewMarketDeficitState(cmd.MarketID, cmd.PoolID)
	market.UnrealizedMaxImbalance = cmd.UnrealizedMaxImbalance
	market.MaxRevenueWithdrawPerPeriod = cmd.MaxRevenueWithdrawPerPeriod
	market.LifetimeInsuranceCap = cmd.LifetimeInsuranceCap
	c.recorder.Record(marketConfigured(market, cmd.Ts, 0, false))

	return &applied{commit: func() { c.markets[cmd.MarketID] = market }}, nil
}

func (c *DeterministicCore) handleUpdateMarket(cmd *command.UpdateMarket) (*applied, error) {
	pool, err := c.pool(cmd.PoolID)
	if err != nil {
		return nil, err
	}
	market, err := c.market(cmd.MarketID, cmd.PoolID)
	if err != nil {
		return nil, err
	}

	feeMinusDist, err := fpmath.ParseI128(cmd.TotalFeeMinusDistributions)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", insurance.ErrInvalidParam, err)
	}
	netPnl, err := fpmath.ParseI128(cmd.NetUnsettledPnl)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", insurance.ErrInvalidParam, err)
	}

	p, m := *pool, *market
	var batch *ledger.Batch
	if cmd.PnlPoolPayout > 0 {
		if err := c.lender.AccrueInterest(&p, cmd.Ts); err != nil {
			return nil, err
		}
		if err := c.lender.DebitPnlPool(fpmath.FromUint64(cmd.PnlPoolPayout), &p, &m); err != nil {
			return nil, err
		}
		batch, err = c.journalGen.GenerateLendingFlow(cmd.IdempotencyKey(), ledger.PoolID(cmd.PoolID), ledger.FlowWithdraw, cmd.PnlPoolPayout, cmd.Ts)
		if err != nil {
			return nil, err
		}
	}

	m.TotalFeeMinusDistributions = feeMinusDist
	m.NetUnsettledPnl = netPnl
	m.LastOraclePrice = cmd.OraclePrice
	m.UnrealizedMaxImbalance = cmd.UnrealizedMaxImbalance
	m.MaxRevenueWithdrawPerPeriod = cmd.MaxRevenueWithdrawPerPeriod
	m.LifetimeInsuranceCap = cmd.LifetimeInsuranceCap
	if cmd.ResetPeriod {
		m.RevenueWithdrawnThisPeriod = 0
	}
	c.recorder.Record(marketConfigured(&m, cmd.Ts, cmd.PnlPoolPayout, cmd.ResetPeriod))

	return &applied{
		batch:  batch,
		amount: cmd.PnlPoolPayout,
		commit: func() { *pool, *market = p, m },
	}, nil
}

func marketConfigured(m *insurance.MarketDeficitState, ts int64, payout uint64, reset bool) *event.MarketConfigured {
	return &event.MarketConfigured{
		Ts:                          ts,
		PoolID:                      m.PoolID,
		MarketID:                    m.MarketID,
		TotalFeeMinusDistributions:  m.TotalFeeMinusDistributions.String(),
		NetUnsettledPnl:             m.NetUnsettledPnl.String(),
		UnrealizedMaxImbalance:      m.UnrealizedMaxImbalance,
		MaxRevenueWithdrawPerPeriod: m.MaxRevenueWithdrawPerPeriod,
		LifetimeInsuranceCap:        m.LifetimeInsuranceCap,
		PnlPoolPayout:               payout,
		PeriodReset:                 reset,
	}
}

func (c *DeterministicCore) handleAccrueRevenue(cmd *command.AccrueRevenue) (*applied, error) {
	pool, err := c.pool(cmd.PoolID)
	if err != nil {
		return nil, err
	}
	p := *pool

	if err := c.lender.AccrueInterest(&p, cmd.Ts); err != nil {
		return nil, err
	}
	if err := c.lender.UpdateRevenuePool(fpmath.FromUint64(cmd.Amount), insurance.SideDeposit, &p); err != nil {
		return nil, err
	}
	batch, err := c.journalGen.GenerateFeeAccrual(cmd.IdempotencyKey(), ledger.PoolID(cmd.PoolID), cmd.Amount, cmd.Ts)
	if err != nil {
		return nil, err
	}
	c.recorder.Record(&event.RevenueAccrued{Ts: cmd.Ts, PoolID: cmd.PoolID, Amount: cmd.Amount})

	return &applied{batch: batch, amount: cmd.Amount, commit: func() { *pool = p }}, nil
}

func (c *DeterministicCore) handleVaultAdjustment(cmd *command.VaultAdjustment) (*applied, error) {
	if _, err := c.pool(cmd.PoolID); err != nil {
		return nil, err
	}
	batch, err := c.journalGen.GenerateVaultAdjustment(cmd.IdempotencyKey(), ledger.PoolID(cmd.PoolID), cmd.Delta, cmd.Ts)
	if err != nil {
		return nil, err
	}
	c.recorder.Record(&event.VaultAdjusted{Ts: cmd.Ts, PoolID: cmd.PoolID, Delta: cmd.Delta, Reason: cmd.Reason})

	return &applied{batch: batch, commit: noop}, nil
}

var ledgerFlow = map[lending.FlowKind]ledger.FlowKind{
	lending.FlowDeposit:  ledger.FlowDeposit,
	lending.FlowWithdraw: ledger.FlowWithdraw,
	lending.FlowBorrow:   ledger.FlowBorrow,
	lending.FlowRepay:    ledger.FlowRepay,
}

func (c *DeterministicCore) handleLendingFlow(cmd *command.LendingFlow) (*applied, error) {
	pool, err := c.pool(cmd.PoolID)
	if err != nil {
		return nil, err
	}
	kind, err := lending.ParseFlowKind(cmd.Kind)
	if err != nil {
		return nil, err
	}
	p := *pool

	if err := c.lender.AccrueInterest(&p, cmd.Ts); err != nil {
		return nil, err
	}
	if err := c.lender.ApplyFlow(&p, kind, cmd.Amount); err != nil {
		return nil, err
	}
	batch, err := c.journalGen.GenerateLendingFlow(cmd.IdempotencyKey(), ledger.PoolID(cmd.PoolID), ledgerFlow[kind], cmd.Amount, cmd.Ts)
	if err != nil {
		return nil, err
	}
	c.recorder.Record(&event.LendingFlowApplied{Ts: cmd.Ts, PoolID: cmd.PoolID, Kind: kind.String(), Amount: cmd.Amount})

	return &applied{batch: batch, amount: cmd.Amount, commit: func() { *pool = p }}, nil
}

// === Stake lifecycle ===

func (c *DeterministicCore) stakeCommit(key StakeKey, pool *insurance.FundPool, p insurance.FundPool, r insurance.StakeRecord) func() {
	return func() {
		*pool = p
		c.stakes[key] = &r
	}
}

func (c *DeterministicCore) handleStake(cmd *command.Stake) (*applied, error) {
	pool, err := c.pool(cmd.PoolID)
	if err != nil {
		return nil, err
	}
	balance, err := c.balanceTracker.InsuranceVaultBalance(ledger.PoolID(cmd.PoolID))
	if err != nil {
		return nil, err
	}
	key := StakeKey{Owner: cmd.Owner, PoolID: cmd.PoolID}
	p, r := *pool, *c.stakeFor(key)

	if err := c.fund.AddStake(cmd.Amount, balance, &r, &p, cmd.Ts); err != nil {
		return nil, err
	}
	batch, err := c.journalGen.GenerateStake(cmd.IdempotencyKey(), ledger.PoolID(cmd.PoolID), cmd.Amount, cmd.Ts)
	if err != nil {
		return nil, err
	}

	return &applied{batch: batch, amount: cmd.Amount, commit: c.stakeCommit(key, pool, p, r)}, nil
}

func (c *DeterministicCore) handleRequestUnstake(cmd *command.RequestUnstake) (*applied, error) {
	pool, err := c.pool(cmd.PoolID)
	if err != nil {
		return nil, err
	}
	shares, err := fpmath.ParseU128(cmd.Shares)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", insurance.ErrInvalidParam, err)
	}
	balance, err := c.balanceTracker.InsuranceVaultBalance(ledger.PoolID(cmd.PoolID))
	if err != nil {
		return nil, err
	}
	key := StakeKey{Owner: cmd.Owner, PoolID: cmd.PoolID}
	p, r := *pool, *c.stakeFor(key)

	if err := c.fund.RequestRemoveStake(shares, balance, &r, &p, cmd.Ts); err != nil {
		return nil, err
	}

	return &applied{amount: r.PendingWithdrawValue, commit: c.stakeCommit(key, pool, p, r)}, nil
}

func (c *DeterministicCore) handleCancelUnstake(cmd *command.CancelUnstake) (*applied, error) {
	pool, err := c.pool(cmd.PoolID)
	if err != nil {
		return nil, err
	}
	balance, err := c.balanceTracker.InsuranceVaultBalance(ledger.PoolID(cmd.PoolID))
	if err != nil {
		return nil, err
	}
	key := StakeKey{Owner: cmd.Owner, PoolID: cmd.PoolID}
	p, r := *pool, *c.stakeFor(key)

	if err := c.fund.CancelRequestRemoveStake(balance, &r, &p, cmd.Ts); err != nil {
		return nil, err
	}

	return &applied{commit: c.stakeCommit(key, pool, p, r)}, nil
}

func (c *DeterministicCore) handleUnstake(cmd *command.Unstake) (*applied, error) {
	pool, err := c.pool(cmd.PoolID)
	if err != nil {
		return nil, err
	}
	balance, err := c.balanceTracker.InsuranceVaultBalance(ledger.PoolID(cmd.PoolID))
	if err != nil {
		return nil, err
	}
	key := StakeKey{Owner: cmd.Owner, PoolID: cmd.PoolID}
	p, r := *pool, *c.stakeFor(key)

	amount, err := c.fund.RemoveStake(balance, &r, &p, cmd.Ts)
	if err != nil {
		return nil, err
	}
	batch, err := c.journalGen.GenerateUnstake(cmd.IdempotencyKey(), cmd.Owner, ledger.PoolID(cmd.PoolID), amount, cmd.Ts)
	if err != nil {
		return nil, err
	}

	return &applied{batch: batch, amount: amount, commit: c.stakeCommit(key, pool, p, r)}, nil
}

// === Revenue & deficit ===

func (c *DeterministicCore) handleSettleRevenue(cmd *command.SettleRevenue) (*applied, error) {
	pool, err := c.pool(cmd.PoolID)
	if err != nil {
		return nil, err
	}
	if pool.RevenueSettlePeriod > 0 && cmd.Ts < pool.LastRevenueSettleTs+pool.RevenueSettlePeriod {
		return nil, fmt.Errorf("pool %d next settle at %d: %w", cmd.PoolID, pool.LastRevenueSettleTs+pool.RevenueSettlePeriod, ErrSettleTooSoon)
	}
	insuranceVault, spotVault, err := c.vaults(cmd.PoolID)
	if err != nil {
		return nil, err
	}
	p := *pool

	amount, err := c.fund.SettleRevenue(spotVault, insuranceVault, &p, cmd.Ts)
	if err != nil {
		return nil, err
	}
	batch, err := c.journalGen.GenerateRevenueSettlement(cmd.IdempotencyKey(), ledger.PoolID(cmd.PoolID), amount, cmd.Ts)
	if err != nil {
		return nil, err
	}

	return &applied{batch: batch, amount: amount, commit: func() { *pool = p }}, nil
}

func (c *DeterministicCore) handleResolveDeficit(cmd *command.ResolveDeficit) (*applied, error) {
	pool, err := c.pool(cmd.PoolID)
	if err != nil {
		return nil, err
	}
	market, err := c.market(cmd.MarketID, cmd.PoolID)
	if err != nil {
		return nil, err
	}
	insuranceVault, spotVault, err := c.vaults(cmd.PoolID)
	if err != nil {
		return nil, err
	}
	p, m := *pool, *market

	amount, err := c.fund.ResolvePerpPnlDeficit(spotVault, insuranceVault, &m, &p, cmd.Ts)
	if err != nil {
		return nil, err
	}
	batch, err := c.journalGen.GenerateDeficitDraw(cmd.IdempotencyKey(), ledger.PoolID(cmd.PoolID), amount, cmd.Ts)
	if err != nil {
		return nil, err
	}

	return &applied{batch: batch, amount: amount, commit: func() { *pool, *market = p, m }}, nil
}
