// internal/event/fund.go
package event

import fpmath "IFLedger/internal/math"

// RevenueSettlementEvent records revenue moved from the lending pool into
// the insurance vault.
type RevenueSettlementEvent struct {
	Ts                     int64
	PoolID                 uint16
	MarketID               uint16 // always 0 for revenue settlement
	Amount                 int64
	DepositorShareBps      uint32
	TotalShareBps          uint32
	VaultBalanceBefore     uint64
	InsuranceBalanceBefore uint64
	TotalSharesBefore      fpmath.U128
	TotalSharesAfter       fpmath.U128
}

func (e *RevenueSettlementEvent) EventType() EventType {
	return EventTypeRevenueSettlement
}

func (e *RevenueSettlementEvent) Pool() uint16 {
	return e.PoolID
}

func (e *RevenueSettlementEvent) Time() int64 {
	return e.Ts
}

// DeficitResolutionEvent records a draw from the fund into a market's pnl
// pool. Amount is negative (outflow from the fund).
type DeficitResolutionEvent struct {
	Ts                     int64
	PoolID                 uint16
	MarketID               uint16
	Amount                 int64
	DepositorShareBps      uint32
	TotalShareBps          uint32
	VaultBalanceBefore     uint64
	InsuranceBalanceBefore uint64
	TotalSharesBefore      fpmath.U128
	TotalSharesAfter       fpmath.U128
}

func (e *DeficitResolutionEvent) EventType() EventType {
	return EventTypeDeficitResolution
}

func (e *DeficitResolutionEvent) Pool() uint16 {
	return e.PoolID
}

func (e *DeficitResolutionEvent) Time() int64 {
	return e.Ts
}
