package insurance

import (
	"fmt"

	fpmath "IFLedger/internal/math"
)

// SharesForAmount converts a vault token amount into shares against the
// current totals. Rounds down, so a depositor never receives more than the
// amount is worth. An empty pool mints 1:1.
func SharesForAmount(amount uint64, totalShares fpmath.U128, balance uint64) (fpmath.U128, error) {
	if totalShares.IsZero() {
		return fpmath.FromUint64(amount), nil
	}
	n, err := fpmath.MulDiv(fpmath.FromUint64(amount), totalShares, fpmath.FromUint64(balance), fpmath.RoundDown)
	if err != nil {
		return fpmath.Zero(), fmt.Errorf("shares for amount %d: %w", amount, err)
	}
	return n, nil
}

// AmountForShares converts shares into vault tokens. Rounds down in favour of
// the remaining pool.
func AmountForShares(shares, totalShares fpmath.U128, balance uint64) (uint64, error) {
	if totalShares.IsZero() {
		return 0, nil
	}
	v, err := fpmath.MulDiv(shares, fpmath.FromUint64(balance), totalShares, fpmath.RoundDown)
	if err != nil {
		return 0, fmt.Errorf("amount for shares %s: %w", shares, err)
	}
	return fpmath.ToUint64(v)
}

// rebaseExpo returns the smallest k such that total / 10^k <= balance, and
// that quotient.
func rebaseExpo(total fpmath.U128, balance uint64) (uint64, fpmath.U128) {
	b := fpmath.FromUint64(balance)
	ten := fpmath.FromUint64(10)
	var k uint64
	for total.GT(b) {
		total = total.Quo(ten)
		k++
	}
	return k, total
}

// ApplyPoolRebase rescales the pool's share unit once the backing balance
// drops below the share count, and reseeds a drained pool 1:1. It returns the
// exponent added to ShareBase (0 when no rebase happened). Idempotent.
func ApplyPoolRebase(balance uint64, pool *FundPool) uint64 {
	var expo uint64
	if balance != 0 && pool.TotalShares.GT(fpmath.FromUint64(balance)) {
		var total fpmath.U128
		expo, total = rebaseExpo(pool.TotalShares, balance)
		pool.TotalShares = total
		pool.DepositorShares = fpmath.DivPow10(pool.DepositorShares, expo)
		pool.ShareBase += expo
	}

	if balance != 0 && pool.TotalShares.IsZero() {
		pool.TotalShares = fpmath.FromUint64(balance)
	}
	return expo
}

// ApplyStakeRebase brings a record to the pool's share base. A record ahead
// of its pool is an invariant violation.
func ApplyStakeRebase(rec *StakeRecord, pool *FundPool) error {
	if rec.ifBase == pool.ShareBase {
		return nil
	}
	if rec.ifBase > pool.ShareBase {
		return fmt.Errorf("stake base %d > pool base %d: %w", rec.ifBase, pool.ShareBase, ErrRebaseExpoOutOfBounds)
	}

	diff := pool.ShareBase - rec.ifBase
	rec.shares = fpmath.DivPow10(rec.shares, diff)
	rec.pendingShares = fpmath.DivPow10(rec.pendingShares, diff)
	rec.ifBase = pool.ShareBase
	return nil
}
