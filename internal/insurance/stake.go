package insurance

import (
	"fmt"

	fpmath "IFLedger/internal/math"

	"github.com/google/uuid"
)

// StakeRecord is one depositor's position in one pool.
//
// Share counts are only meaningful relative to ifBase, so they are kept
// unexported: reads go through Shares/PendingShares, which reject a record
// whose base lags the pool, and every mutation in this package normalizes
// the record first.
type StakeRecord struct {
	Owner  uuid.UUID
	PoolID uint16

	shares        fpmath.U128
	pendingShares fpmath.U128
	ifBase        uint64

	CostBasis                int64
	PendingWithdrawValue     uint64
	PendingWithdrawRequestTs int64

	// Value of the record's shares after its last operation, for reporting.
	StakedValue uint64
}

func NewStakeRecord(owner uuid.UUID, poolID uint16) *StakeRecord {
	return &StakeRecord{
		Owner:         owner,
		PoolID:        poolID,
		shares:        fpmath.Zero(),
		pendingShares: fpmath.Zero(),
	}
}

// RestoreStakeRecord rebuilds a record from persisted raw fields.
func RestoreStakeRecord(
	owner uuid.UUID, poolID uint16,
	shares, pendingShares fpmath.U128, ifBase uint64,
	costBasis int64, pendingValue uint64, pendingTs int64, stakedValue uint64,
) (*StakeRecord, error) {
	if pendingShares.GT(shares) {
		return nil, fmt.Errorf("restore stake %s: pending %s > shares %s: %w", owner, pendingShares, shares, ErrInsufficientShares)
	}
	return &StakeRecord{
		Owner:                    owner,
		PoolID:                   poolID,
		shares:                   shares,
		pendingShares:            pendingShares,
		ifBase:                   ifBase,
		CostBasis:                costBasis,
		PendingWithdrawValue:     pendingValue,
		PendingWithdrawRequestTs: pendingTs,
		StakedValue:              stakedValue,
	}, nil
}

// Shares returns the record's share count in the pool's current base.
func (r *StakeRecord) Shares(pool *FundPool) (fpmath.U128, error) {
	if r.ifBase != pool.ShareBase {
		return fpmath.Zero(), fmt.Errorf("stake base %d, pool base %d: %w", r.ifBase, pool.ShareBase, ErrBaseMismatch)
	}
	return r.shares, nil
}

// PendingShares returns the shares under a withdraw request, in the pool's
// current base.
func (r *StakeRecord) PendingShares(pool *FundPool) (fpmath.U128, error) {
	if r.ifBase != pool.ShareBase {
		return fpmath.Zero(), fmt.Errorf("stake base %d, pool base %d: %w", r.ifBase, pool.ShareBase, ErrBaseMismatch)
	}
	return r.pendingShares, nil
}

// Raw exposes the stored, possibly stale, fields for persistence.
func (r *StakeRecord) Raw() (shares, pendingShares fpmath.U128, ifBase uint64) {
	return r.shares, r.pendingShares, r.ifBase
}

// HasPendingRequest reports whether the stored request is non-empty. A
// later rescale may still truncate it to zero.
func (r *StakeRecord) HasPendingRequest() bool {
	return !r.pendingShares.IsZero()
}

func (r *StakeRecord) clearRequest(now int64) {
	r.pendingShares = fpmath.Zero()
	r.PendingWithdrawValue = 0
	r.PendingWithdrawRequestTs = now
}
