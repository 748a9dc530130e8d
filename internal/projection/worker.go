package projection

import (
	"context"
	"database/sql"
	"fmt"

	"IFLedger/internal/core"
	"IFLedger/internal/event"
	"IFLedger/internal/observability"

	"github.com/rs/zerolog"
)

// Publisher forwards a processed output to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, out core.CoreOutput) error
}

// ProjectionWorker maintains read models from the projection channel.
// The core sends on that channel without blocking and drops on overflow,
// so projections are eventually consistent and can be rebuilt from the
// event log.
type ProjectionWorker struct {
	db        *sql.DB // nil disables the Postgres balance projection
	inputChan <-chan core.CoreOutput
	history   *StakeHistoryProjection
	publisher Publisher // nil disables outbound publishing
	metrics   *observability.Metrics
	logger    zerolog.Logger
	lastSeq   int64
}

func NewProjectionWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	history *StakeHistoryProjection,
	publisher Publisher,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		history:   history,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			pw.Handle(ctx, output)
		}
	}
}

// Handle applies one output to every read model. Failures are logged and
// skipped.
func (pw *ProjectionWorker) Handle(ctx context.Context, output core.CoreOutput) {
	seq := output.Envelope.Sequence

	if pw.db != nil {
		if err := pw.processOutput(ctx, output); err != nil {
			pw.logger.Warn().Err(err).Int64("sequence", seq).Msg("projection update failed")
		}
	}

	if stake, ok := output.Event.(*event.StakeEvent); ok && pw.history != nil {
		pw.history.Apply(seq, stake)
	}

	if pw.publisher != nil {
		if err := pw.publisher.Publish(ctx, output); err != nil {
			if pw.metrics != nil {
				pw.metrics.PublishErrors.Inc()
			}
			pw.logger.Warn().Err(err).Int64("sequence", seq).Msg("outbound publish failed")
		}
	}

	pw.lastSeq = seq
}

// LastSequence returns the sequence of the last handled output.
func (pw *ProjectionWorker) LastSequence() int64 {
	return pw.lastSeq
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output core.CoreOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	seq := output.Envelope.Sequence
	if output.Batch != nil {
		for _, j := range output.Batch.Journals {
			if err := upsertBalance(ctx, tx, j.DebitAccount.AccountPath(), uint16(j.PoolID), j.Amount, seq); err != nil {
				return fmt.Errorf("debit projection: %w", err)
			}
			if err := upsertBalance(ctx, tx, j.CreditAccount.AccountPath(), uint16(j.PoolID), -j.Amount, seq); err != nil {
				return fmt.Errorf("credit projection: %w", err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// upsertBalance adds delta to an account's projected balance. Debits
// increase a balance, credits decrease it.
func upsertBalance(ctx context.Context, tx *sql.Tx, account string, poolID uint16, delta int64, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, pool_id, balance, last_sequence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_path, pool_id)
		DO UPDATE SET balance = projections.balances.balance + $3, last_sequence = $4
	`, account, int32(poolID), delta, seq)
	return err
}

// RebuildProjections rebuilds the balance projection from the journal.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`TRUNCATE projections.balances`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, pool_id, balance, last_sequence)
		SELECT account_path, pool_id, SUM(delta), MAX(sequence)
		FROM (
			SELECT debit_account AS account_path, pool_id, amount AS delta, sequence FROM event_log.journal
			UNION ALL
			SELECT credit_account AS account_path, pool_id, -amount AS delta, sequence FROM event_log.journal
		) moves
		GROUP BY account_path, pool_id
	`); err != nil {
		return fmt.Errorf("rebuild balances: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		SELECT 'main', COALESCE(MAX(sequence), 0), NOW() FROM event_log.events
	`); err != nil {
		return fmt.Errorf("rebuild watermark: %w", err)
	}

	return tx.Commit()
}
