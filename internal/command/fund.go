package command

import "fmt"

// SettleRevenue moves accrued revenue from the spot vault into the
// insurance vault.
type SettleRevenue struct {
	Header
}

func (c *SettleRevenue) CommandType() CommandType { return CommandTypeSettleRevenue }
func (c *SettleRevenue) Validate() error          { return c.Header.validate() }

// ResolveDeficit draws from the insurance vault to cover a market's pnl
// deficit.
type ResolveDeficit struct {
	Header
	MarketID uint16 `json:"market_id"`
}

func (c *ResolveDeficit) CommandType() CommandType { return CommandTypeResolveDeficit }
func (c *ResolveDeficit) Validate() error          { return c.Header.validate() }

// AccrueRevenue credits trading-fee revenue, already transferred into the
// spot vault, to the pool's revenue pool.
type AccrueRevenue struct {
	Header
	Amount uint64 `json:"amount"`
}

func (c *AccrueRevenue) CommandType() CommandType { return CommandTypeAccrueRevenue }

func (c *AccrueRevenue) Validate() error {
	if err := c.Header.validate(); err != nil {
		return err
	}
	if c.Amount == 0 {
		return fmt.Errorf("accrue revenue: zero amount: %w", ErrInvalidCommand)
	}
	return nil
}

// VaultAdjustment books an externally observed gain (Delta > 0) or loss
// (Delta < 0) on the insurance vault, e.g. bad debt absorbed by liquidation.
type VaultAdjustment struct {
	Header
	Delta  int64  `json:"delta"`
	Reason string `json:"reason"`
}

func (c *VaultAdjustment) CommandType() CommandType { return CommandTypeVaultAdjustment }

func (c *VaultAdjustment) Validate() error {
	if err := c.Header.validate(); err != nil {
		return err
	}
	if c.Delta == 0 {
		return fmt.Errorf("vault adjustment: zero delta: %w", ErrInvalidCommand)
	}
	return nil
}

// LendingFlow records a lending-market user flow through the spot vault.
// Kind is one of deposit, withdraw, borrow, repay.
type LendingFlow struct {
	Header
	Kind   string `json:"kind"`
	Amount uint64 `json:"amount"`
}

func (c *LendingFlow) CommandType() CommandType { return CommandTypeLendingFlow }

func (c *LendingFlow) Validate() error {
	if err := c.Header.validate(); err != nil {
		return err
	}
	switch c.Kind {
	case "deposit", "withdraw", "borrow", "repay":
	default:
		return fmt.Errorf("lending flow: unknown kind %q: %w", c.Kind, ErrInvalidCommand)
	}
	if c.Amount == 0 {
		return fmt.Errorf("lending flow: zero amount: %w", ErrInvalidCommand)
	}
	return nil
}
