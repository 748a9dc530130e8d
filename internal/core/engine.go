package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"sync"
	"time"

	"IFLedger/internal/command"
	"IFLedger/internal/event"
	"IFLedger/internal/insurance"
	"IFLedger/internal/ledger"
	"IFLedger/internal/lending"
	"IFLedger/internal/observability"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrUnknownPool   = errors.New("unknown pool")
	ErrPoolExists    = errors.New("pool already exists")
	ErrUnknownMarket = errors.New("unknown market")
	ErrMarketExists  = errors.New("market already exists")
	ErrSettleTooSoon = errors.New("revenue settle period not elapsed")
)

// StakeKey identifies a stake record
type StakeKey struct {
	Owner  uuid.UUID
	PoolID uint16
}

// DeterministicCore is the single-writer command processor. All fund state
// lives here; every command and query runs under mu.
type DeterministicCore struct {
	mu sync.Mutex

	sequence       int64
	hasher         *StateHasher
	balanceTracker *ledger.BalanceTracker
	journalGen     *ledger.JournalGenerator
	validator      *ledger.InvariantValidator
	idempotency    *IdempotencyChecker

	fund     *insurance.Ledger
	lender   *lending.Market
	recorder *event.Recorder

	pools   map[uint16]*insurance.FundPool
	stakes  map[StakeKey]*insurance.StakeRecord
	markets map[uint16]*insurance.MarketDeficitState

	metrics *observability.Metrics
	logger  zerolog.Logger

	// replaying suppresses outputs while rebuilding state from the log
	replaying bool

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is one logged event with the journal batch and command that
// produced it
type CoreOutput struct {
	Envelope *event.EventEnvelope
	Event    event.Event
	Batch    *ledger.Batch
	Command  command.Command
}

// Result reports the outcome of an applied command
type Result struct {
	Sequence  int64
	Amount    uint64
	Duplicate bool
}

type Config struct {
	Params      insurance.Params
	LRUCapacity int
}

func DefaultConfig() Config {
	return Config{
		Params:      insurance.DefaultParams(),
		LRUCapacity: 1_000_000,
	}
}

func NewDeterministicCore(
	startSequence int64,
	cfg Config,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *DeterministicCore {
	balanceTracker := ledger.NewBalanceTracker()
	recorder := event.NewRecorder()
	lender := lending.NewMarket(logger.With().Str("module", "lending").Logger())

	c := &DeterministicCore{
		sequence:       startSequence,
		hasher:         NewStateHasher(),
		balanceTracker: balanceTracker,
		journalGen:     ledger.NewJournalGenerator(startSequence, balanceTracker),
		validator:      ledger.NewInvariantValidator(balanceTracker),
		idempotency:    NewIdempotencyChecker(cfg.LRUCapacity, dbChecker),
		fund:           insurance.NewLedger(lender, lending.ReportedPnl{}, recorder, cfg.Params, logger.With().Str("module", "insurance").Logger()),
		lender:         lender,
		recorder:       recorder,
		pools:          make(map[uint16]*insurance.FundPool),
		stakes:         make(map[StakeKey]*insurance.StakeRecord),
		markets:        make(map[uint16]*insurance.MarketDeficitState),
		metrics:        metrics,
		logger:         logger,
		persistChan:    persistChan,
		projectionChan: projectionChan,
	}
	c.idempotency.OnDuplicate(func(commandType, tier string) {
		if c.metrics != nil {
			c.metrics.IdempotencyDuplicates.WithLabelValues(commandType, tier).Inc()
		}
	})
	c.idempotency.OnTier2Error(func(err error) {
		c.logger.Warn().Err(err).Msg("idempotency tier-2 lookup failed")
		if c.metrics != nil {
			c.metrics.DedupTier2Errors.Inc()
		}
	})
	return c
}

// applied is a dispatched command whose state changes are staged on copies.
// commit publishes them; it runs only after the batch is known to be valid.
type applied struct {
	batch  *ledger.Batch
	amount uint64
	commit func()
}

// ProcessCommand is the main processing pipeline
func (c *DeterministicCore) ProcessCommand(cmd command.Command) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.process(cmd)
}

func (c *DeterministicCore) process(cmd command.Command) (Result, error) {
	start := time.Now()
	cmdType := cmd.CommandType().String()
	idempotencyKey := cmd.IdempotencyKey()

	if err := cmd.Validate(); err != nil {
		c.reject(cmdType, "invalid")
		return Result{}, err
	}

	// Step 1: Idempotency check (two-tier). Replayed commands are in the
	// event log by definition.
	if !c.replaying && c.idempotency.IsDuplicate(cmdType, idempotencyKey) {
		if c.metrics != nil {
			c.metrics.CoreCommandsRejected.WithLabelValues(cmdType, "duplicate").Inc()
		}
		return Result{Duplicate: true}, nil
	}

	// Step 2: Dispatch on copies
	c.recorder.Drain()
	res, err := c.dispatch(cmd)
	if err != nil {
		c.recorder.Drain()
		c.reject(cmdType, rejectReason(err))
		c.logger.Info().
			Str("command_type", cmdType).
			Str("idempotency_key", idempotencyKey).
			Uint16("pool_id", cmd.Pool()).
			Err(err).
			Msg("command rejected")
		return Result{}, fmt.Errorf("%s %s: %w", cmdType, idempotencyKey, err)
	}
	events := c.recorder.Drain()
	// The event log holds exactly one row per command; replay depends on it.
	if len(events) != 1 {
		panic(fmt.Sprintf("FATAL: %s emitted %d events", cmdType, len(events)))
	}

	// Step 3: Validate and apply the batch, then commit staged state
	if res.batch != nil {
		if err := c.validator.ValidateBatchBalance(res.batch); err != nil {
			panic(fmt.Sprintf("FATAL: invalid batch: %v", err))
		}
		if err := c.balanceTracker.ApplyBatch(res.batch); err != nil {
			panic(fmt.Sprintf("FATAL: apply batch failed: %v", err))
		}
	}
	res.commit()

	// Step 4: Post-checks
	if err := c.validator.ValidateVaultsNonNegative(ledger.PoolID(cmd.Pool())); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 5: Hash-chained envelopes, one per event
	outputs := make([]CoreOutput, 0, len(events))
	for i, evt := range events {
		var batch *ledger.Batch
		if i == 0 && res.batch != nil {
			batch = res.batch
			batch.Sequence = c.sequence
			for j := range batch.Journals {
				batch.Journals[j].Sequence = c.sequence
			}
		}

		payload, err := json.Marshal(evt)
		if err != nil {
			panic(fmt.Sprintf("FATAL: encode %s payload: %v", evt.EventType(), err))
		}

		prevHash := c.hasher.GetPrevHash()
		stateHash := c.hasher.ComputeHash(c.sequence, c.computeStateDigest(batch, evt.Pool()))

		outputs = append(outputs, CoreOutput{
			Envelope: &event.EventEnvelope{
				Sequence:       c.sequence,
				IdempotencyKey: idempotencyKey,
				EventType:      evt.EventType(),
				PoolID:         evt.Pool(),
				Timestamp:      time.Unix(cmd.Time(), 0).UTC(),
				Payload:        payload,
				StateHash:      stateHash,
				PrevHash:       prevHash,
			},
			Event:   evt,
			Batch:   batch,
			Command: cmd,
		})
		c.sequence++
	}

	// Step 6: Emit outputs. Persist blocks (backpressure); projection drops
	// when full and is rebuilt from the event log.
	if !c.replaying {
		for _, output := range outputs {
			if c.persistChan != nil {
				select {
				case c.persistChan <- output:
				default:
					if c.metrics != nil {
						c.metrics.PersistBackpressure.Inc()
					}
					c.persistChan <- output
				}
			}
			if c.projectionChan != nil {
				select {
				case c.projectionChan <- output:
				default:
					if c.metrics != nil {
						c.metrics.ProjectionDrops.Inc()
					}
				}
			}
		}
	}

	// Step 7: Mark as processed
	c.idempotency.MarkProcessed(cmdType, idempotencyKey)

	if c.metrics != nil {
		c.metrics.CoreCommandsApplied.WithLabelValues(cmdType).Inc()
		c.metrics.CoreCommandDuration.WithLabelValues(cmdType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
		c.metrics.DedupLRUSize.Set(float64(c.idempotency.lru.Size()))
		if res.batch != nil {
			for _, j := range res.batch.Journals {
				c.metrics.CoreJournals.WithLabelValues(strconv.Itoa(int(j.JournalType))).Inc()
			}
		}
		c.observeEvents(events)
		c.updateFundGauges(cmd.Pool())
	}

	return Result{Sequence: c.sequence - 1, Amount: res.amount}, nil
}

func (c *DeterministicCore) dispatch(cmd command.Command) (*applied, error) {
	switch cm := cmd.(type) {
	case *command.InitPool:
		return c.handleInitPool(cm)
	case *command.UpdatePool:
		return c.handleUpdatePool(cm)
	case *command.InitMarket:
		return c.handleInitMarket(cm)
	case *command.UpdateMarket:
		return c.handleUpdateMarket(cm)
	case *command.Stake:
		return c.handleStake(cm)
	case *command.RequestUnstake:
		return c.handleRequestUnstake(cm)
	case *command.CancelUnstake:
		return c.handleCancelUnstake(cm)
	case *command.Unstake:
		return c.handleUnstake(cm)
	case *command.SettleRevenue:
		return c.handleSettleRevenue(cm)
	case *command.ResolveDeficit:
		return c.handleResolveDeficit(cm)
	case *command.AccrueRevenue:
		return c.handleAccrueRevenue(cm)
	case *command.VaultAdjustment:
		return c.handleVaultAdjustment(cm)
	case *command.LendingFlow:
		return c.handleLendingFlow(cm)
	default:
		return nil, fmt.Errorf("unknown command type: %T", cmd)
	}
}

func (c *DeterministicCore) reject(cmdType, reason string) {
	if c.metrics != nil {
		c.metrics.CoreCommandsRejected.WithLabelValues(cmdType, reason).Inc()
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, insurance.ErrEscrowNotElapsed), errors.Is(err, ErrSettleTooSoon):
		return "too_early"
	case errors.Is(err, insurance.ErrNothingToSettle),
		errors.Is(err, insurance.ErrWithdrawLimitReached),
		errors.Is(err, insurance.ErrInsuranceCapReached),
		errors.Is(err, insurance.ErrInsufficientFund),
		errors.Is(err, insurance.ErrNoDeficit),
		errors.Is(err, insurance.ErrPnlPoolNotEmpty):
		return "economic"
	case errors.Is(err, ErrUnknownPool), errors.Is(err, ErrUnknownMarket),
		errors.Is(err, ErrPoolExists), errors.Is(err, ErrMarketExists):
		return "not_found"
	default:
		return "precondition"
	}
}

// computeStateDigest creates canonical bytes for the state hash: balances
// of the accounts the batch touched, then the pool's share state.
func (c *DeterministicCore) computeStateDigest(batch *ledger.Batch, poolID uint16) []byte {
	affectedAccounts := make(map[ledger.AccountKey]bool)
	if batch != nil {
		for _, j := range batch.Journals {
			affectedAccounts[j.DebitAccount] = true
			affectedAccounts[j.CreditAccount] = true
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affectedAccounts))
	for key := range affectedAccounts {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64+128)
	for _, key := range accounts {
		digest = appendString(digest, key.AccountPath())
		digest = appendInt64LE(digest, c.balanceTracker.GetBalance(key))
	}

	if pool, ok := c.pools[poolID]; ok {
		digest = appendString(digest, pool.TotalShares.String())
		digest = appendString(digest, pool.DepositorShares.String())
		digest = appendInt64LE(digest, int64(pool.ShareBase))
		digest = appendInt64LE(digest, pool.LastRevenueSettleTs)
	}

	return digest
}

func appendString(buf []byte, s string) []byte {
	buf = append(buf, byte(len(s)))
	return append(buf, s...)
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

func (c *DeterministicCore) observeEvents(events []event.Event) {
	for _, evt := range events {
		pool := strconv.Itoa(int(evt.Pool()))
		switch e := evt.(type) {
		case *event.StakeEvent:
			c.metrics.StakeOperations.WithLabelValues(pool, e.Action.String()).Inc()
		case *event.RevenueSettlementEvent:
			c.metrics.RevenueSettled.WithLabelValues(pool).Add(float64(e.Amount))
		case *event.DeficitResolutionEvent:
			c.metrics.DeficitDrawn.WithLabelValues(pool, strconv.Itoa(int(e.MarketID))).Add(float64(-e.Amount))
		}
	}
}

func (c *DeterministicCore) updateFundGauges(poolID uint16) {
	pool, ok := c.pools[poolID]
	if !ok {
		return
	}
	label := strconv.Itoa(int(poolID))
	total, _ := new(big.Float).SetInt(pool.TotalShares.BigInt()).Float64()
	c.metrics.PoolTotalShares.WithLabelValues(label).Set(total)
	c.metrics.PoolShareBase.WithLabelValues(label).Set(float64(pool.ShareBase))
	c.metrics.InsuranceVaultBalance.WithLabelValues(label).Set(float64(c.balanceTracker.GetBalance(ledger.InsuranceVault(ledger.PoolID(poolID)))))
	c.metrics.SpotVaultBalance.WithLabelValues(label).Set(float64(c.balanceTracker.GetBalance(ledger.SpotVault(ledger.PoolID(poolID)))))
}
