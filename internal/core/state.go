package core

import (
	"fmt"
	"sort"

	"IFLedger/internal/command"
	"IFLedger/internal/insurance"
	"IFLedger/internal/ledger"
	fpmath "IFLedger/internal/math"

	"github.com/google/uuid"
)

// --- Read access ---
// Accessors return copies; callers never see live state.

// Pool returns a copy of a pool
func (c *DeterministicCore) Pool(id uint16) (insurance.FundPool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pool, err := c.pool(id)
	if err != nil {
		return insurance.FundPool{}, err
	}
	return *pool, nil
}

// PoolIDs returns all pool ids in ascending order
func (c *DeterministicCore) PoolIDs() []uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]uint16, 0, len(c.pools))
	for id := range c.pools {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Stake returns a copy of a stake record
func (c *DeterministicCore) Stake(owner uuid.UUID, poolID uint16) (insurance.StakeRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.stakes[StakeKey{Owner: owner, PoolID: poolID}]
	if !ok {
		return insurance.StakeRecord{}, false
	}
	return *rec, true
}

// Market returns a copy of a market's deficit state
func (c *DeterministicCore) Market(id uint16) (insurance.MarketDeficitState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	market, ok := c.markets[id]
	if !ok {
		return insurance.MarketDeficitState{}, fmt.Errorf("market %d: %w", id, ErrUnknownMarket)
	}
	return *market, nil
}

// Vaults returns the insurance and spot vault balances of a pool
func (c *DeterministicCore) Vaults(poolID uint16) (insuranceVault, spotVault uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vaults(poolID)
}

// PoolState is a consistent read of one pool and its vaults.
type PoolState struct {
	Pool              insurance.FundPool
	InsuranceVault    uint64
	SpotVault         uint64
	RevenuePoolAmount fpmath.U128
	AsOfSequence      int64
}

// MarketState is a consistent read of one market.
type MarketState struct {
	Market        insurance.MarketDeficitState
	PnlPoolAmount fpmath.U128
	AsOfSequence  int64
}

func (c *DeterministicCore) poolState(id uint16) (PoolState, error) {
	pool, err := c.pool(id)
	if err != nil {
		return PoolState{}, err
	}
	ins, spot, err := c.vaults(id)
	if err != nil {
		return PoolState{}, err
	}
	revenue, err := c.lender.TokenAmount(pool.RevenuePool, pool, insurance.SideDeposit)
	if err != nil {
		return PoolState{}, err
	}
	return PoolState{
		Pool:              *pool,
		InsuranceVault:    ins,
		SpotVault:         spot,
		RevenuePoolAmount: revenue,
		AsOfSequence:      c.sequence - 1,
	}, nil
}

// PoolState returns a pool together with its vault balances
func (c *DeterministicCore) PoolState(id uint16) (PoolState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.poolState(id)
}

// StakeState returns a pool and one stake record read under the same lock.
// The record is returned as stored; its shares may lag the pool base.
func (c *DeterministicCore) StakeState(owner uuid.UUID, poolID uint16) (PoolState, insurance.StakeRecord, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ps, err := c.poolState(poolID)
	if err != nil {
		return PoolState{}, insurance.StakeRecord{}, false, err
	}
	rec, ok := c.stakes[StakeKey{Owner: owner, PoolID: poolID}]
	if !ok {
		return ps, insurance.StakeRecord{}, false, nil
	}
	return ps, *rec, true, nil
}

// MarketState returns a market with its pnl pool token amount
func (c *DeterministicCore) MarketState(id uint16) (MarketState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	market, ok := c.markets[id]
	if !ok {
		return MarketState{}, fmt.Errorf("market %d: %w", id, ErrUnknownMarket)
	}
	pool, err := c.pool(market.PoolID)
	if err != nil {
		return MarketState{}, err
	}
	pnl, err := c.lender.TokenAmount(market.PnlPool, pool, insurance.SideDeposit)
	if err != nil {
		return MarketState{}, err
	}
	return MarketState{Market: *market, PnlPoolAmount: pnl, AsOfSequence: c.sequence - 1}, nil
}

// MarketIDs returns all market ids in ascending order
func (c *DeterministicCore) MarketIDs() []uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]uint16, 0, len(c.markets))
	for id := range c.markets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// GetSequence returns the next global sequence number.
func (c *DeterministicCore) GetSequence() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasher.GetPrevHash()
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the in-memory state captured for persistence.
type SnapshotState struct {
	Sequence        int64
	StateHash       [32]byte
	Balances        map[ledger.AccountKey]int64
	Pools           []insurance.FundPool
	Stakes          []insurance.StakeRecord
	Markets         []insurance.MarketDeficitState
	IdempotencyKeys []string
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := &SnapshotState{
		Sequence:        c.sequence - 1, // Last processed sequence
		StateHash:       c.hasher.GetPrevHash(),
		Balances:        c.balanceTracker.Snapshot(),
		Pools:           make([]insurance.FundPool, 0, len(c.pools)),
		Stakes:          make([]insurance.StakeRecord, 0, len(c.stakes)),
		Markets:         make([]insurance.MarketDeficitState, 0, len(c.markets)),
		IdempotencyKeys: c.idempotency.lru.GetAllKeys(),
	}
	for _, pool := range c.pools {
		snap.Pools = append(snap.Pools, *pool)
	}
	for _, rec := range c.stakes {
		snap.Stakes = append(snap.Stakes, *rec)
	}
	for _, market := range c.markets {
		snap.Markets = append(snap.Markets, *market)
	}
	return snap
}

// RestoreFromSnapshot replaces the core's in-memory state with a snapshot.
// Commands logged after snapshot.Sequence are then passed to Replay.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sequence = snap.Sequence + 1
	c.hasher.SetPrevHash(snap.StateHash)
	c.balanceTracker.Restore(snap.Balances)
	c.journalGen.SetSequence(c.sequence)

	c.pools = make(map[uint16]*insurance.FundPool, len(snap.Pools))
	for i := range snap.Pools {
		pool := snap.Pools[i]
		c.pools[pool.PoolID] = &pool
	}
	c.stakes = make(map[StakeKey]*insurance.StakeRecord, len(snap.Stakes))
	for i := range snap.Stakes {
		rec := snap.Stakes[i]
		c.stakes[StakeKey{Owner: rec.Owner, PoolID: rec.PoolID}] = &rec
	}
	c.markets = make(map[uint16]*insurance.MarketDeficitState, len(snap.Markets))
	for i := range snap.Markets {
		market := snap.Markets[i]
		c.markets[market.MarketID] = &market
	}

	c.idempotency.lru.WarmFromKeys(snap.IdempotencyKeys)
}

// Replay re-applies logged commands without emitting outputs. Every command
// must succeed, since only applied commands are logged.
func (c *DeterministicCore) Replay(cmds []command.Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.replaying = true
	defer func() { c.replaying = false }()

	for _, cmd := range cmds {
		if _, err := c.process(cmd); err != nil {
			return fmt.Errorf("replay at sequence %d: %w", c.sequence, err)
		}
		if c.metrics != nil {
			c.metrics.ReplayCommandsTotal.Inc()
		}
	}
	return nil
}

// WarmLRU loads recent idempotency keys into the LRU cache.
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idempotency.lru.WarmFromKeys(keys)
}
