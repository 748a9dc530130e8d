// internal/event/stake.go
package event

import (
	fpmath "IFLedger/internal/math"

	"github.com/google/uuid"
)

type StakeAction int32

const (
	StakeActionStake StakeAction = iota
	StakeActionUnstakeRequest
	StakeActionUnstakeCancelRequest
	StakeActionUnstake
)

func (a StakeAction) String() string {
	switch a {
	case StakeActionStake:
		return "Stake"
	case StakeActionUnstakeRequest:
		return "UnstakeRequest"
	case StakeActionUnstakeCancelRequest:
		return "UnstakeCancelRequest"
	case StakeActionUnstake:
		return "Unstake"
	default:
		return "Unknown"
	}
}

// StakeEvent is emitted by every stake lifecycle transition.
type StakeEvent struct {
	Ts                    int64
	Owner                 uuid.UUID
	Action                StakeAction
	Amount                uint64
	PoolID                uint16
	VaultBalanceBefore    uint64
	SharesBefore          fpmath.U128
	DepositorSharesBefore fpmath.U128
	TotalSharesBefore     fpmath.U128
	SharesAfter           fpmath.U128
	DepositorSharesAfter  fpmath.U128
	TotalSharesAfter      fpmath.U128
}

func (e *StakeEvent) EventType() EventType {
	return EventTypeStake
}

func (e *StakeEvent) Pool() uint16 {
	return e.PoolID
}

func (e *StakeEvent) Time() int64 {
	return e.Ts
}
