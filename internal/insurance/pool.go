package insurance

import (
	fpmath "IFLedger/internal/math"
)

const (
	OneYear = 31_536_000

	// BpsPrecision is the denominator for every *Bps field.
	BpsPrecision = 10_000

	// InterestPrecision is the unit value of a cumulative interest index.
	InterestPrecision = 10_000_000_000
)

// FundPool is the per-asset insurance fund together with the lending-market
// bookkeeping its collaborators maintain.
type FundPool struct {
	PoolID   uint16
	Asset    string
	Decimals uint32

	// Share state
	TotalShares     fpmath.U128
	DepositorShares fpmath.U128
	ShareBase       uint64

	WithdrawEscrowPeriod     int64
	RevenueSettlePeriod      int64
	LastRevenueSettleTs      int64
	DepositorRevenueShareBps uint32
	TotalRevenueShareBps     uint32

	// Lending-market state, owned by the Lender
	DepositBalance            fpmath.U128
	BorrowBalance             fpmath.U128
	CumulativeDepositInterest fpmath.U128
	CumulativeBorrowInterest  fpmath.U128
	LastInterestTs            int64
	BorrowRateBps             uint32
	InterestFeeBps            uint32
	RevenuePool               BalanceEntry
}

// PoolConfig carries the admin-set parameters of a pool.
type PoolConfig struct {
	PoolID                   uint16
	Asset                    string
	Decimals                 uint32
	WithdrawEscrowPeriod     int64
	RevenueSettlePeriod      int64
	DepositorRevenueShareBps uint32
	TotalRevenueShareBps     uint32
	BorrowRateBps            uint32
	InterestFeeBps           uint32
}

func NewFundPool(cfg PoolConfig, now int64) *FundPool {
	p := &FundPool{
		PoolID:                    cfg.PoolID,
		TotalShares:               fpmath.Zero(),
		DepositorShares:           fpmath.Zero(),
		DepositBalance:            fpmath.Zero(),
		BorrowBalance:             fpmath.Zero(),
		CumulativeDepositInterest: fpmath.FromUint64(InterestPrecision),
		CumulativeBorrowInterest:  fpmath.FromUint64(InterestPrecision),
		LastInterestTs:            now,
		LastRevenueSettleTs:       now,
		RevenuePool:               NewBalanceEntry(),
	}
	p.Configure(cfg)
	return p
}

// Configure overwrites the admin parameters, leaving share and lending state
// untouched.
func (p *FundPool) Configure(cfg PoolConfig) {
	p.Asset = cfg.Asset
	p.Decimals = cfg.Decimals
	p.WithdrawEscrowPeriod = cfg.WithdrawEscrowPeriod
	p.RevenueSettlePeriod = cfg.RevenueSettlePeriod
	p.DepositorRevenueShareBps = cfg.DepositorRevenueShareBps
	p.TotalRevenueShareBps = cfg.TotalRevenueShareBps
	p.BorrowRateBps = cfg.BorrowRateBps
	p.InterestFeeBps = cfg.InterestFeeBps
}

// Validate checks the share invariants.
func (p *FundPool) Validate() error {
	if p.DepositorShares.GT(p.TotalShares) {
		return ErrInvalidParam
	}
	return nil
}

// ProtocolShares are the shares not owned by external depositors.
func (p *FundPool) ProtocolShares() fpmath.U128 {
	return p.TotalShares.Sub(p.DepositorShares)
}
