package persistence

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"IFLedger/internal/command"
	"IFLedger/internal/core"
	"IFLedger/internal/insurance"
	"IFLedger/internal/ledger"
	fpmath "IFLedger/internal/math"

	"github.com/google/uuid"
)

// SnapshotManager handles creating and loading state snapshots for recovery.
// A snapshot holds balances, pools, stakes, markets, the idempotency LRU, the
// sequence counter and the last state hash.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData contains the full in-memory state at a point in time.
type SnapshotData struct {
	Sequence        int64                          `json:"sequence"`
	StateHash       []byte                         `json:"state_hash"`
	Balances        map[string]int64               `json:"balances"` // AccountPath -> balance
	Pools           []insurance.FundPool           `json:"pools"`
	Stakes          []StakeSnap                    `json:"stakes"`
	Markets         []insurance.MarketDeficitState `json:"markets"`
	IdempotencyKeys []string                       `json:"idempotency_keys"`
	CreatedAt       time.Time                      `json:"created_at"`
}

// StakeSnap is a serializable stake record. Share counts stay in the
// record's stored base; the next operation on the record rescales them.
type StakeSnap struct {
	Owner                    uuid.UUID `json:"owner"`
	PoolID                   uint16    `json:"pool_id"`
	Shares                   string    `json:"shares"`
	PendingShares            string    `json:"pending_shares"`
	IfBase                   uint64    `json:"if_base"`
	CostBasis                int64     `json:"cost_basis"`
	PendingWithdrawValue     uint64    `json:"pending_withdraw_value"`
	PendingWithdrawRequestTs int64     `json:"pending_withdraw_request_ts"`
	StakedValue              uint64    `json:"staked_value"`
}

// NewSnapshotData converts core state into its stored form.
func NewSnapshotData(state *core.SnapshotState, createdAt time.Time) *SnapshotData {
	snap := &SnapshotData{
		Sequence:        state.Sequence,
		StateHash:       append([]byte(nil), state.StateHash[:]...),
		Balances:        make(map[string]int64, len(state.Balances)),
		Pools:           state.Pools,
		Stakes:          make([]StakeSnap, 0, len(state.Stakes)),
		Markets:         state.Markets,
		IdempotencyKeys: state.IdempotencyKeys,
		CreatedAt:       createdAt,
	}
	for key, bal := range state.Balances {
		snap.Balances[key.AccountPath()] = bal
	}
	for i := range state.Stakes {
		rec := &state.Stakes[i]
		shares, pending, base := rec.Raw()
		snap.Stakes = append(snap.Stakes, StakeSnap{
			Owner:                    rec.Owner,
			PoolID:                   rec.PoolID,
			Shares:                   shares.String(),
			PendingShares:            pending.String(),
			IfBase:                   base,
			CostBasis:                rec.CostBasis,
			PendingWithdrawValue:     rec.PendingWithdrawValue,
			PendingWithdrawRequestTs: rec.PendingWithdrawRequestTs,
			StakedValue:              rec.StakedValue,
		})
	}
	return snap
}

// ToCoreState rebuilds the core's snapshot state.
func (s *SnapshotData) ToCoreState() (*core.SnapshotState, error) {
	if len(s.StateHash) != 32 {
		return nil, fmt.Errorf("snapshot %d: state hash has %d bytes", s.Sequence, len(s.StateHash))
	}

	state := &core.SnapshotState{
		Sequence:        s.Sequence,
		Balances:        make(map[ledger.AccountKey]int64, len(s.Balances)),
		Pools:           s.Pools,
		Stakes:          make([]insurance.StakeRecord, 0, len(s.Stakes)),
		Markets:         s.Markets,
		IdempotencyKeys: s.IdempotencyKeys,
	}
	copy(state.StateHash[:], s.StateHash)

	for path, bal := range s.Balances {
		key, err := ledger.ParseAccountPath(path)
		if err != nil {
			return nil, fmt.Errorf("snapshot %d: %w", s.Sequence, err)
		}
		state.Balances[key] = bal
	}

	for _, st := range s.Stakes {
		shares, err := fpmath.ParseU128(st.Shares)
		if err != nil {
			return nil, fmt.Errorf("snapshot %d stake %s: %w", s.Sequence, st.Owner, err)
		}
		pending, err := fpmath.ParseU128(st.PendingShares)
		if err != nil {
			return nil, fmt.Errorf("snapshot %d stake %s: %w", s.Sequence, st.Owner, err)
		}
		rec, err := insurance.RestoreStakeRecord(
			st.Owner, st.PoolID, shares, pending, st.IfBase,
			st.CostBasis, st.PendingWithdrawValue, st.PendingWithdrawRequestTs, st.StakedValue,
		)
		if err != nil {
			return nil, fmt.Errorf("snapshot %d: %w", s.Sequence, err)
		}
		state.Stakes = append(state.Stakes, *rec)
	}
	return state, nil
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists an unverified snapshot to Postgres.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	sizeBytes := len(data)
	formatVersion := int32(1) // v1: JSON-encoded SnapshotData

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, snap.Sequence, data, snap.StateHash, formatVersion, sizeBytes, snap.CreatedAt)

	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil when
// there is none.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // cold start
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// StateHashAt returns the logged state hash at sequence, or nil when the
// log does not reach it yet.
func (sm *SnapshotManager) StateHashAt(ctx context.Context, sequence int64) ([]byte, error) {
	var logged []byte
	err := sm.db.QueryRowContext(ctx, `
		SELECT state_hash FROM event_log.events WHERE sequence = $1
	`, sequence).Scan(&logged)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state hash at %d: %w", sequence, err)
	}
	return logged, nil
}

// VerifySnapshot marks a snapshot verified once the event log holds its
// sequence with the same state hash. It reports whether the snapshot
// matched; a snapshot ahead of the log stays unverified.
func (sm *SnapshotManager) VerifySnapshot(ctx context.Context, snap *SnapshotData) (bool, error) {
	logged, err := sm.StateHashAt(ctx, snap.Sequence)
	if err != nil {
		return false, err
	}
	if logged == nil || !bytes.Equal(logged, snap.StateHash) {
		return false, nil
	}
	return true, sm.MarkVerified(ctx, snap.Sequence)
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadCommandsFrom loads up to limit logged commands starting at
// fromSequence, in sequence order. A gap in the log is an error.
func (sm *SnapshotManager) LoadCommandsFrom(ctx context.Context, fromSequence int64, limit int) ([]command.Command, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, command_type, command
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []command.Command
	expected := fromSequence
	for rows.Next() {
		var (
			seq     int64
			typeStr string
			data    []byte
		)
		if err := rows.Scan(&seq, &typeStr, &data); err != nil {
			return nil, err
		}
		if seq != expected {
			return nil, fmt.Errorf("event log gap: expected sequence %d, found %d", expected, seq)
		}
		ct, err := command.ParseType(typeStr)
		if err != nil {
			return nil, fmt.Errorf("sequence %d: %w", seq, err)
		}
		cmd, err := command.Decode(ct, data)
		if err != nil {
			return nil, fmt.Errorf("sequence %d: %w", seq, err)
		}
		cmds = append(cmds, cmd)
		expected++
	}

	return cmds, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil // Empty event log
	}
	return seq.Int64, nil
}
