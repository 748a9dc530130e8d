package command

import (
	"fmt"

	fpmath "IFLedger/internal/math"

	"github.com/google/uuid"
)

// Stake deposits Amount tokens into the pool for Owner.
type Stake struct {
	Header
	Owner  uuid.UUID `json:"owner"`
	Amount uint64    `json:"amount"`
}

func (c *Stake) CommandType() CommandType { return CommandTypeStake }

func (c *Stake) Validate() error {
	if err := c.Header.validate(); err != nil {
		return err
	}
	if c.Owner == uuid.Nil {
		return fmt.Errorf("stake: missing owner: %w", ErrInvalidCommand)
	}
	return nil
}

// RequestUnstake opens (or replaces) a withdrawal request. Shares is a
// non-zero base-10 share count in the pool's current share base, the same
// figure GET /v1/pools/{pool}/stakes/{owner} reports.
type RequestUnstake struct {
	Header
	Owner  uuid.UUID `json:"owner"`
	Shares string    `json:"shares"`
}

func (c *RequestUnstake) CommandType() CommandType { return CommandTypeRequestUnstake }

func (c *RequestUnstake) Validate() error {
	if err := c.Header.validate(); err != nil {
		return err
	}
	if c.Owner == uuid.Nil {
		return fmt.Errorf("request unstake: missing owner: %w", ErrInvalidCommand)
	}
	if c.Shares == "" {
		return fmt.Errorf("request unstake: missing shares: %w", ErrInvalidCommand)
	}
	n, err := fpmath.ParseU128(c.Shares)
	if err != nil {
		return fmt.Errorf("request unstake: %v: %w", err, ErrInvalidCommand)
	}
	if n.IsZero() {
		return fmt.Errorf("request unstake: zero shares: %w", ErrInvalidCommand)
	}
	return nil
}

// CancelUnstake withdraws a pending request.
type CancelUnstake struct {
	Header
	Owner uuid.UUID `json:"owner"`
}

func (c *CancelUnstake) CommandType() CommandType { return CommandTypeCancelUnstake }

func (c *CancelUnstake) Validate() error {
	if err := c.Header.validate(); err != nil {
		return err
	}
	if c.Owner == uuid.Nil {
		return fmt.Errorf("cancel unstake: missing owner: %w", ErrInvalidCommand)
	}
	return nil
}

// Unstake settles a pending request once its escrow period has elapsed.
type Unstake struct {
	Header
	Owner uuid.UUID `json:"owner"`
}

func (c *Unstake) CommandType() CommandType { return CommandTypeUnstake }

func (c *Unstake) Validate() error {
	if err := c.Header.validate(); err != nil {
		return err
	}
	if c.Owner == uuid.Nil {
		return fmt.Errorf("unstake: missing owner: %w", ErrInvalidCommand)
	}
	return nil
}
