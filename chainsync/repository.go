package chainsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository is the PostgreSQL sync queue. Claiming flips pending rows to
// in_progress in a single statement, so two workers never process the same
// record.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const syncColumns = `id, record_type, domain_id, payload, content_hash, durable_ref, anchor_ref,
	state, attempts, next_retry_at, created_at, updated_at`

// Insert stores a new pending record.
func (r *PGRepository) Insert(ctx context.Context, rec SyncRecord) error {
	const insertSQL = `
		INSERT INTO sync_records (id, record_type, domain_id, payload, content_hash, durable_ref,
			anchor_ref, state, attempts, next_retry_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`

	_, err := r.pool.Exec(ctx, insertSQL,
		rec.ID, rec.RecordType, rec.DomainID, rec.Payload, rec.ContentHash, rec.DurableRef,
		rec.AnchorRef, rec.State, rec.Attempts, rec.NextRetryAt, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("chainsync: insert record: %w", err)
	}
	return nil
}

// ClaimDue atomically moves up to limit due pending records to in_progress
// and returns them. SKIP LOCKED keeps concurrent workers from blocking on
// each other's claims.
func (r *PGRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]SyncRecord, error) {
	const claimSQL = `
		UPDATE sync_records SET state = 'in_progress', updated_at = $1
		WHERE id IN (
			SELECT id FROM sync_records
			WHERE state = 'pending' AND next_retry_at <= $1
			ORDER BY next_retry_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + syncColumns

	rows, err := r.pool.Query(ctx, claimSQL, now, limit)
	if err != nil {
		return nil, fmt.Errorf("chainsync: claim due: %w", err)
	}
	defer rows.Close()

	var claimed []SyncRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("chainsync: claim due: %w", err)
		}
		claimed = append(claimed, rec)
	}
	return claimed, rows.Err()
}

// SaveRefs persists refs as soon as they are earned, so a crash between
// upload and anchor does not repeat the paid upload.
func (r *PGRepository) SaveRefs(ctx context.Context, id string, durableRef, anchorRef *string) error {
	const saveSQL = `
		UPDATE sync_records SET
			durable_ref = COALESCE($2, durable_ref),
			anchor_ref  = COALESCE($3, anchor_ref),
			updated_at  = now()
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, saveSQL, id, durableRef, anchorRef)
	if err != nil {
		return fmt.Errorf("chainsync: save refs: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkSynced finalizes a record.
func (r *PGRepository) MarkSynced(ctx context.Context, id string) error {
	return r.setState(ctx, id, StateSynced, nil, nil)
}

// MarkRetry returns a failed record to the queue with a future due time.
func (r *PGRepository) MarkRetry(ctx context.Context, id string, attempts int, nextRetryAt time.Time) error {
	return r.setState(ctx, id, StatePending, &attempts, &nextRetryAt)
}

// MarkUnsynced parks a record whose retry budget ran out. Unsynced records
// stay queryable for the reconciliation sweep and manual intervention.
func (r *PGRepository) MarkUnsynced(ctx context.Context, id string, attempts int) error {
	return r.setState(ctx, id, StateUnsynced, &attempts, nil)
}

func (r *PGRepository) setState(ctx context.Context, id string, state State, attempts *int, nextRetryAt *time.Time) error {
	const updateSQL = `
		UPDATE sync_records SET
			state         = $2,
			attempts      = COALESCE($3, attempts),
			next_retry_at = COALESCE($4, next_retry_at),
			updated_at    = now()
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, updateSQL, id, state, attempts, nextRetryAt)
	if err != nil {
		return fmt.Errorf("chainsync: set state %s: %w", state, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReleaseStuck returns in_progress records whose worker died back to pending.
func (r *PGRepository) ReleaseStuck(ctx context.Context, olderThan time.Time) (int64, error) {
	const releaseSQL = `
		UPDATE sync_records SET state = 'pending', updated_at = now()
		WHERE state = 'in_progress' AND updated_at < $1`

	tag, err := r.pool.Exec(ctx, releaseSQL, olderThan)
	if err != nil {
		return 0, fmt.Errorf("chainsync: release stuck: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RequeueUnsynced gives parked records a fresh retry budget.
func (r *PGRepository) RequeueUnsynced(ctx context.Context, now time.Time) (int64, error) {
	const requeueSQL = `
		UPDATE sync_records SET state = 'pending', attempts = 0, next_retry_at = $1, updated_at = now()
		WHERE state = 'unsynced'`

	tag, err := r.pool.Exec(ctx, requeueSQL, now)
	if err != nil {
		return 0, fmt.Errorf("chainsync: requeue unsynced: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Get returns one record by id.
func (r *PGRepository) Get(ctx context.Context, id string) (SyncRecord, error) {
	const selectSQL = `SELECT ` + syncColumns + ` FROM sync_records WHERE id = $1`

	rec, err := scanRecord(r.pool.QueryRow(ctx, selectSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SyncRecord{}, ErrNotFound
		}
		return SyncRecord{}, fmt.Errorf("chainsync: get record: %w", err)
	}
	return rec, nil
}

// CountByState reports queue depth per state, for the metrics sweep.
func (r *PGRepository) CountByState(ctx context.Context) (map[State]int64, error) {
	const countSQL = `SELECT state, count(*) FROM sync_records GROUP BY state`

	rows, err := r.pool.Query(ctx, countSQL)
	if err != nil {
		return nil, fmt.Errorf("chainsync: count by state: %w", err)
	}
	defer rows.Close()

	counts := make(map[State]int64)
	for rows.Next() {
		var state State
		var count int64
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("chainsync: count by state: %w", err)
		}
		counts[state] = count
	}
	return counts, rows.Err()
}

func scanRecord(row pgx.Row) (SyncRecord, error) {
	var rec SyncRecord
	err := row.Scan(
		&rec.ID,
		&rec.RecordType,
		&rec.DomainID,
		&rec.Payload,
		&rec.ContentHash,
		&rec.DurableRef,
		&rec.AnchorRef,
		&rec.State,
		&rec.Attempts,
		&rec.NextRetryAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return SyncRecord{}, err
	}
	return rec, nil
}
