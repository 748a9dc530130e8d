package event

// PoolConfigured is emitted when a fund pool is created or its parameters change.
type PoolConfigured struct {
	Ts                       int64
	PoolID                   uint16
	Asset                    string
	WithdrawEscrowPeriod     int64
	RevenueSettlePeriod      int64
	DepositorRevenueShareBps uint32
	TotalRevenueShareBps     uint32
}

func (e *PoolConfigured) EventType() EventType { return EventTypePoolConfigured }
func (e *PoolConfigured) Pool() uint16         { return e.PoolID }
func (e *PoolConfigured) Time() int64          { return e.Ts }

// MarketConfigured is emitted when a perp market's deficit state is created
// or updated by its trade-settlement owner.
type MarketConfigured struct {
	Ts                          int64
	PoolID                      uint16
	MarketID                    uint16
	TotalFeeMinusDistributions  string
	NetUnsettledPnl             string
	UnrealizedMaxImbalance      uint64
	MaxRevenueWithdrawPerPeriod uint64
	LifetimeInsuranceCap        uint64
	PnlPoolPayout               uint64
	PeriodReset                 bool
}

func (e *MarketConfigured) EventType() EventType { return EventTypeMarketConfigured }
func (e *MarketConfigured) Pool() uint16         { return e.PoolID }
func (e *MarketConfigured) Time() int64          { return e.Ts }

// RevenueAccrued records fee revenue credited to a pool's revenue pool.
type RevenueAccrued struct {
	Ts     int64
	PoolID uint16
	Amount uint64
}

func (e *RevenueAccrued) EventType() EventType { return EventTypeRevenueAccrued }
func (e *RevenueAccrued) Pool() uint16         { return e.PoolID }
func (e *RevenueAccrued) Time() int64          { return e.Ts }

// VaultAdjusted records an externally observed gain or loss on the
// insurance vault (bad-debt absorption, yield).
type VaultAdjusted struct {
	Ts     int64
	PoolID uint16
	Delta  int64
	Reason string
}

func (e *VaultAdjusted) EventType() EventType { return EventTypeVaultAdjusted }
func (e *VaultAdjusted) Pool() uint16         { return e.PoolID }
func (e *VaultAdjusted) Time() int64          { return e.Ts }

// LendingFlowApplied records a lending-market user flow through the spot vault.
type LendingFlowApplied struct {
	Ts     int64
	PoolID uint16
	Kind   string
	Amount uint64
}

func (e *LendingFlowApplied) EventType() EventType { return EventTypeLendingFlow }
func (e *LendingFlowApplied) Pool() uint16         { return e.PoolID }
func (e *LendingFlowApplied) Time() int64          { return e.Ts }
