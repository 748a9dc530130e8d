package lending

import (
	"errors"
	"fmt"

	"IFLedger/internal/insurance"
	fpmath "IFLedger/internal/math"

	"github.com/rs/zerolog"
)

var (
	ErrVaultShortfall      = errors.New("vault balance below depositors' claim")
	ErrBorrowsExceedSupply = errors.New("borrows exceed deposits")
	ErrInsufficientBalance = errors.New("insufficient scaled balance")
)

// FlowKind is a token movement between a lending-market user and the spot vault.
type FlowKind int

const (
	FlowDeposit FlowKind = iota
	FlowWithdraw
	FlowBorrow
	FlowRepay
)

// ParseFlowKind maps a flow name to its kind.
func ParseFlowKind(s string) (FlowKind, error) {
	for _, k := range []FlowKind{FlowDeposit, FlowWithdraw, FlowBorrow, FlowRepay} {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown flow kind %q: %w", s, insurance.ErrInvalidParam)
}

func (k FlowKind) String() string {
	switch k {
	case FlowDeposit:
		return "deposit"
	case FlowWithdraw:
		return "withdraw"
	case FlowBorrow:
		return "borrow"
	case FlowRepay:
		return "repay"
	default:
		return "unknown"
	}
}

// Market keeps the interest bookkeeping of a pool's lending market. All state
// lives on the FundPool; Market itself only holds the logger.
type Market struct {
	logger zerolog.Logger
}

var _ insurance.Lender = (*Market)(nil)

func NewMarket(logger zerolog.Logger) *Market {
	return &Market{logger: logger}
}

func index(pool *insurance.FundPool, side insurance.BalanceSide) fpmath.U128 {
	if side == insurance.SideBorrow {
		return pool.CumulativeBorrowInterest
	}
	return pool.CumulativeDepositInterest
}

var precision = fpmath.FromUint64(insurance.InterestPrecision)

// TokenAmount converts a scaled balance to tokens. Deposits round down and
// borrows round up.
func (m *Market) TokenAmount(entry insurance.BalanceEntry, pool *insurance.FundPool, side insurance.BalanceSide) (fpmath.U128, error) {
	mode := fpmath.RoundDown
	if side == insurance.SideBorrow {
		mode = fpmath.RoundUp
	}
	v, err := fpmath.MulDiv(entry.ScaledBalance, index(pool, side), precision, mode)
	if err != nil {
		return fpmath.Zero(), fmt.Errorf("token amount for %s balance: %w", side, err)
	}
	return v, nil
}

// scaledFor converts tokens to a scaled balance at the current index.
func scaledFor(tokens fpmath.U128, pool *insurance.FundPool, side insurance.BalanceSide, mode fpmath.RoundingMode) (fpmath.U128, error) {
	return fpmath.MulDiv(tokens, precision, index(pool, side), mode)
}

// AccrueInterest grows the borrow index by the pool's borrow rate over the
// elapsed time and passes the interest, less the protocol fee, to
// depositors. The fee is credited to the revenue pool.
func (m *Market) AccrueInterest(pool *insurance.FundPool, now int64) error {
	elapsed := now - pool.LastInterestTs
	if elapsed <= 0 {
		return nil
	}

	borrows, err := m.TokenAmount(insurance.BalanceEntry{ScaledBalance: pool.BorrowBalance}, pool, insurance.SideBorrow)
	if err != nil {
		return err
	}
	deposits, err := m.TokenAmount(insurance.BalanceEntry{ScaledBalance: pool.DepositBalance}, pool, insurance.SideDeposit)
	if err != nil {
		return err
	}
	if borrows.IsZero() || deposits.IsZero() || pool.BorrowRateBps == 0 {
		pool.LastInterestTs = now
		return nil
	}

	rateTime, err := fpmath.Mul(fpmath.FromUint64(uint64(pool.BorrowRateBps)), fpmath.FromUint64(uint64(elapsed)))
	if err != nil {
		return fmt.Errorf("accrue rate over %ds: %w", elapsed, err)
	}
	denom := fpmath.FromUint64(insurance.BpsPrecision * insurance.OneYear)

	borrowDelta, err := fpmath.MulDiv(pool.CumulativeBorrowInterest, rateTime, denom, fpmath.RoundUp)
	if err != nil {
		return fmt.Errorf("accrue borrow index: %w", err)
	}
	interest, err := fpmath.MulDiv(borrows, rateTime, denom, fpmath.RoundDown)
	if err != nil {
		return fmt.Errorf("accrue interest: %w", err)
	}
	fee, err := fpmath.MulDiv(interest, fpmath.FromUint64(uint64(pool.InterestFeeBps)), fpmath.FromUint64(insurance.BpsPrecision), fpmath.RoundDown)
	if err != nil {
		return fmt.Errorf("accrue interest fee: %w", err)
	}
	depositDelta, err := fpmath.MulDiv(pool.CumulativeDepositInterest, interest.Sub(fee), deposits, fpmath.RoundDown)
	if err != nil {
		return fmt.Errorf("accrue deposit index: %w", err)
	}

	if pool.CumulativeBorrowInterest, err = fpmath.Add(pool.CumulativeBorrowInterest, borrowDelta); err != nil {
		return fmt.Errorf("accrue borrow index: %w", err)
	}
	if pool.CumulativeDepositInterest, err = fpmath.Add(pool.CumulativeDepositInterest, depositDelta); err != nil {
		return fmt.Errorf("accrue deposit index: %w", err)
	}
	pool.LastInterestTs = now

	if !fee.IsZero() {
		if err := m.UpdateRevenuePool(fee, insurance.SideDeposit, pool); err != nil {
			return err
		}
	}

	m.logger.Debug().
		Uint16("pool_id", pool.PoolID).
		Int64("elapsed", elapsed).
		Str("interest", interest.String()).
		Str("fee", fee.String()).
		Msg("accrued interest")
	return nil
}

// ValidatedVaultAmount checks the spot vault covers net deposits and returns
// the depositors' claim (deposits minus borrows).
func (m *Market) ValidatedVaultAmount(pool *insurance.FundPool, rawVault uint64) (uint64, error) {
	deposits, err := m.TokenAmount(insurance.BalanceEntry{ScaledBalance: pool.DepositBalance}, pool, insurance.SideDeposit)
	if err != nil {
		return 0, err
	}
	borrows, err := m.TokenAmount(insurance.BalanceEntry{ScaledBalance: pool.BorrowBalance}, pool, insurance.SideBorrow)
	if err != nil {
		return 0, err
	}
	if borrows.GT(deposits) {
		return 0, fmt.Errorf("pool %d deposits %s, borrows %s: %w", pool.PoolID, deposits, borrows, ErrBorrowsExceedSupply)
	}

	claim, err := fpmath.ToUint64(deposits.Sub(borrows))
	if err != nil {
		return 0, err
	}
	if rawVault < claim {
		return 0, fmt.Errorf("pool %d vault %d, claim %d: %w", pool.PoolID, rawVault, claim, ErrVaultShortfall)
	}
	return claim, nil
}

// UpdateRevenuePool credits (SideDeposit) or debits (SideBorrow) the pool's
// revenue balance by a token amount. The revenue pool is itself a deposit,
// so the pool's total deposits move with it.
func (m *Market) UpdateRevenuePool(amount fpmath.U128, side insurance.BalanceSide, pool *insurance.FundPool) error {
	if side == insurance.SideDeposit {
		scaled, err := scaledFor(amount, pool, insurance.SideDeposit, fpmath.RoundDown)
		if err != nil {
			return fmt.Errorf("credit revenue pool: %w", err)
		}
		return creditDeposit(&pool.RevenuePool, pool, scaled)
	}

	scaled, err := m.debitScaled(pool.RevenuePool, amount, pool)
	if err != nil {
		return fmt.Errorf("debit revenue pool: %w", err)
	}
	pool.RevenuePool.ScaledBalance = pool.RevenuePool.ScaledBalance.Sub(scaled)
	if pool.DepositBalance, err = fpmath.Sub(pool.DepositBalance, scaled); err != nil {
		return fmt.Errorf("debit revenue pool: %w", err)
	}
	return nil
}

// debitScaled returns the scaled units to remove for a token debit, rounding
// up so the balance never pays out more than it holds. A debit of the whole
// token amount empties the entry.
func (m *Market) debitScaled(entry insurance.BalanceEntry, amount fpmath.U128, pool *insurance.FundPool) (fpmath.U128, error) {
	scaled, err := scaledFor(amount, pool, insurance.SideDeposit, fpmath.RoundUp)
	if err != nil {
		return fpmath.Zero(), err
	}
	if !scaled.GT(entry.ScaledBalance) {
		return scaled, nil
	}
	held, err := m.TokenAmount(entry, pool, insurance.SideDeposit)
	if err != nil {
		return fpmath.Zero(), err
	}
	if amount.GT(held) {
		return fpmath.Zero(), fmt.Errorf("debit %s of %s: %w", amount, held, ErrInsufficientBalance)
	}
	return entry.ScaledBalance, nil
}

func creditDeposit(entry *insurance.BalanceEntry, pool *insurance.FundPool, scaled fpmath.U128) error {
	balance, err := fpmath.Add(entry.ScaledBalance, scaled)
	if err != nil {
		return err
	}
	deposits, err := fpmath.Add(pool.DepositBalance, scaled)
	if err != nil {
		return err
	}
	entry.ScaledBalance, pool.DepositBalance = balance, deposits
	return nil
}

// CreditPnlPool deposits tokens into a market's pnl pool.
func (m *Market) CreditPnlPool(amount fpmath.U128, pool *insurance.FundPool, market *insurance.MarketDeficitState) error {
	scaled, err := scaledFor(amount, pool, insurance.SideDeposit, fpmath.RoundDown)
	if err != nil {
		return fmt.Errorf("credit pnl pool: %w", err)
	}
	if err := creditDeposit(&market.PnlPool, pool, scaled); err != nil {
		return fmt.Errorf("credit pnl pool for market %d: %w", market.MarketID, err)
	}
	return nil
}

// DebitPnlPool removes tokens paid out of a market's pnl pool.
func (m *Market) DebitPnlPool(amount fpmath.U128, pool *insurance.FundPool, market *insurance.MarketDeficitState) error {
	scaled, err := m.debitScaled(market.PnlPool, amount, pool)
	if err != nil {
		return fmt.Errorf("debit pnl pool for market %d: %w", market.MarketID, err)
	}
	market.PnlPool.ScaledBalance = market.PnlPool.ScaledBalance.Sub(scaled)
	if pool.DepositBalance, err = fpmath.Sub(pool.DepositBalance, scaled); err != nil {
		return fmt.Errorf("debit pnl pool for market %d: %w", market.MarketID, err)
	}
	return nil
}

// ApplyFlow records a lending-market user flow against the pool's aggregate
// deposit and borrow balances. Interest must be accrued first.
func (m *Market) ApplyFlow(pool *insurance.FundPool, kind FlowKind, tokens uint64) error {
	amount := fpmath.FromUint64(tokens)
	switch kind {
	case FlowDeposit:
		scaled, err := scaledFor(amount, pool, insurance.SideDeposit, fpmath.RoundDown)
		if err != nil {
			return err
		}
		pool.DepositBalance, err = fpmath.Add(pool.DepositBalance, scaled)
		return err
	case FlowWithdraw:
		scaled, err := m.debitScaled(insurance.BalanceEntry{ScaledBalance: pool.DepositBalance}, amount, pool)
		if err != nil {
			return fmt.Errorf("withdraw from pool %d: %w", pool.PoolID, err)
		}
		pool.DepositBalance = pool.DepositBalance.Sub(scaled)
		return nil
	case FlowBorrow:
		scaled, err := scaledFor(amount, pool, insurance.SideBorrow, fpmath.RoundUp)
		if err != nil {
			return err
		}
		pool.BorrowBalance, err = fpmath.Add(pool.BorrowBalance, scaled)
		return err
	case FlowRepay:
		scaled, err := scaledFor(amount, pool, insurance.SideBorrow, fpmath.RoundDown)
		if err != nil {
			return err
		}
		if scaled.GT(pool.BorrowBalance) {
			return fmt.Errorf("repay %d on pool %d: %w", tokens, pool.PoolID, ErrInsufficientBalance)
		}
		pool.BorrowBalance = pool.BorrowBalance.Sub(scaled)
		return nil
	default:
		return fmt.Errorf("unknown flow kind %d: %w", kind, insurance.ErrInvalidParam)
	}
}
