package insurance

import (
	"fmt"
	"math"

	"IFLedger/internal/event"
	fpmath "IFLedger/internal/math"

	"github.com/rs/zerolog"
)

// Params are the fund-wide economic constants.
type Params struct {
	// Ceiling on revenue settled per period, as an annualised rate of the
	// insurance vault balance.
	MaxAPRBps uint64

	// Fraction of settleable revenue routed to the insurance vault.
	RevenueShareToFundBps uint64
}

func DefaultParams() Params {
	return Params{
		MaxAPRBps:             1_000,
		RevenueShareToFundBps: 5_000,
	}
}

func (p Params) Validate() error {
	if p.RevenueShareToFundBps > BpsPrecision {
		return fmt.Errorf("revenue share to fund %d bps > %d: %w", p.RevenueShareToFundBps, BpsPrecision, ErrInvalidParam)
	}
	return nil
}

// Ledger applies stake, revenue and deficit operations to caller-owned
// pools, records and markets.
//
// Every operation works on copies and writes them back only after all checks
// and collaborator calls succeed, so a returned error leaves the inputs
// untouched and emits nothing. Not thread-safe: callers serialize all
// operations touching the same pool.
type Ledger struct {
	lender Lender
	pnl    PnlSource
	sink   event.Sink
	params Params
	logger zerolog.Logger
}

func NewLedger(lender Lender, pnl PnlSource, sink event.Sink, params Params, logger zerolog.Logger) *Ledger {
	return &Ledger{
		lender: lender,
		pnl:    pnl,
		sink:   sink,
		params: params,
		logger: logger,
	}
}

func (l *Ledger) Params() Params {
	return l.params
}

// normalize rebases the pool against balance, then the record (if any)
// against the pool. It is the first step of every share-reading operation.
func (l *Ledger) normalize(balance uint64, rec *StakeRecord, pool *FundPool) error {
	if expo := ApplyPoolRebase(balance, pool); expo > 0 {
		l.logger.Debug().
			Uint16("pool_id", pool.PoolID).
			Uint64("expo_diff", expo).
			Uint64("share_base", pool.ShareBase).
			Str("total_shares", pool.TotalShares.String()).
			Msg("rebased fund pool")
	}
	if rec == nil {
		return nil
	}

	from := rec.ifBase
	if err := ApplyStakeRebase(rec, pool); err != nil {
		return err
	}
	if from != rec.ifBase {
		l.logger.Debug().
			Uint16("pool_id", pool.PoolID).
			Str("owner", rec.Owner.String()).
			Uint64("from_base", from).
			Uint64("to_base", rec.ifBase).
			Str("shares", rec.shares.String()).
			Msg("rebased stake record")
	}
	return nil
}

func (l *Ledger) emit(evt event.Event) {
	if l.sink != nil {
		l.sink.Record(evt)
	}
}

func addInt64(a, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, fpmath.ErrMathOverflow
	}
	return a + b, nil
}

func toInt64(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("cast %d to i64: %w", v, fpmath.ErrMathOverflow)
	}
	return int64(v), nil
}
