package command

import "fmt"

// PoolParams are the admin-set parameters of a fund pool
type PoolParams struct {
	Asset                    string `json:"asset"`
	Decimals                 uint32 `json:"decimals"`
	WithdrawEscrowPeriod     int64  `json:"withdraw_escrow_period"`
	RevenueSettlePeriod      int64  `json:"revenue_settle_period"`
	DepositorRevenueShareBps uint32 `json:"depositor_revenue_share_bps"`
	TotalRevenueShareBps     uint32 `json:"total_revenue_share_bps"`
	BorrowRateBps            uint32 `json:"borrow_rate_bps"`
	InterestFeeBps           uint32 `json:"interest_fee_bps"`
}

func (p PoolParams) validate() error {
	if p.Asset == "" {
		return fmt.Errorf("missing asset: %w", ErrInvalidCommand)
	}
	if p.WithdrawEscrowPeriod < 0 {
		return fmt.Errorf("negative withdraw escrow period: %w", ErrInvalidCommand)
	}
	if p.InterestFeeBps > 10_000 {
		return fmt.Errorf("interest fee %d bps > 10000: %w", p.InterestFeeBps, ErrInvalidCommand)
	}
	return nil
}

// InitPool creates a fund pool. Revenue bps are checked at settlement, not
// here, so a misconfigured pool still accepts stakes.
type InitPool struct {
	Header
	PoolParams
}

func (c *InitPool) CommandType() CommandType { return CommandTypeInitPool }

func (c *InitPool) Validate() error {
	if err := c.Header.validate(); err != nil {
		return err
	}
	return c.PoolParams.validate()
}

// UpdatePool replaces the admin parameters of an existing pool.
type UpdatePool struct {
	Header
	PoolParams
}

func (c *UpdatePool) CommandType() CommandType { return CommandTypeUpdatePool }

func (c *UpdatePool) Validate() error {
	if err := c.Header.validate(); err != nil {
		return err
	}
	return c.PoolParams.validate()
}

// MarketLimits bound how much a market may draw from the insurance vault
type MarketLimits struct {
	UnrealizedMaxImbalance      uint64 `json:"unrealized_max_imbalance"`
	MaxRevenueWithdrawPerPeriod uint64 `json:"max_revenue_withdraw_per_period"`
	LifetimeInsuranceCap        uint64 `json:"lifetime_insurance_cap"`
}

// InitMarket registers a perp market settling against the pool.
type InitMarket struct {
	Header
	MarketID uint16 `json:"market_id"`
	MarketLimits
}

func (c *InitMarket) CommandType() CommandType { return CommandTypeInitMarket }
func (c *InitMarket) Validate() error          { return c.Header.validate() }

// UpdateMarket carries the market state reported by its trade-settlement
// owner. Signed quantities are base-10 strings.
type UpdateMarket struct {
	Header
	MarketID                   uint16 `json:"market_id"`
	TotalFeeMinusDistributions string `json:"total_fee_minus_distributions"`
	NetUnsettledPnl            string `json:"net_unsettled_pnl"`
	OraclePrice                int64  `json:"oracle_price"`
	MarketLimits

	// PnlPoolPayout is the token amount paid out of the market's pnl pool
	// to users since the last update.
	PnlPoolPayout uint64 `json:"pnl_pool_payout"`

	// ResetPeriod starts a new revenue-withdraw period.
	ResetPeriod bool `json:"reset_period"`
}

func (c *UpdateMarket) CommandType() CommandType { return CommandTypeUpdateMarket }

func (c *UpdateMarket) Validate() error {
	if err := c.Header.validate(); err != nil {
		return err
	}
	if c.TotalFeeMinusDistributions == "" || c.NetUnsettledPnl == "" {
		return fmt.Errorf("update market: missing pnl fields: %w", ErrInvalidCommand)
	}
	return nil
}
