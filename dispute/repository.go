package dispute

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound  = errors.New("dispute: not found")
	ErrBadStatus = errors.New("dispute: invalid status transition")
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const disputeColumns = `id, escrow_id, buyer, request_id, raised_by, reason, status::text,
	resolution, resolved_by, created_at, updated_at, resolved_at`

func (r *Repository) List(ctx context.Context, escrowID string) ([]Record, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes`
	args := []any{}
	if escrowID != "" {
		query += " WHERE escrow_id = $1"
		args = append(args, escrowID)
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("dispute: list: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 8)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

func (r *Repository) Create(ctx context.Context, rec Record) (Record, error) {
	const query = `
		INSERT INTO disputes (id, escrow_id, buyer, request_id, raised_by, reason, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,'under_review',$7,$7)
		RETURNING ` + disputeColumns

	stored, err := scanRecord(r.pool.QueryRow(ctx, query,
		rec.ID, rec.EscrowID, rec.Buyer, rec.RequestID, rec.RaisedBy, rec.Reason, rec.CreatedAt,
	))
	if err != nil {
		return Record{}, fmt.Errorf("dispute: create: %w", err)
	}
	return stored, nil
}

// Resolve rules on an open dispute. Resolving twice maps to ErrBadStatus, an
// unknown dispute to ErrNotFound.
func (r *Repository) Resolve(ctx context.Context, disputeID, resolvedBy, resolution string) (Record, error) {
	const query = `
		UPDATE disputes
		SET status = 'resolved', resolution = $2, resolved_by = $3, resolved_at = now(), updated_at = now()
		WHERE id = $1 AND status <> 'resolved'
		RETURNING ` + disputeColumns

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, disputeID, resolution, resolvedBy))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("dispute: resolve: %w", err)
	}

	const check = `SELECT status::text FROM disputes WHERE id = $1`
	var status Status
	if err := r.pool.QueryRow(ctx, check, disputeID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("dispute: resolve fetch: %w", err)
	}
	if status == StatusResolved {
		return Record{}, ErrBadStatus
	}
	return Record{}, ErrNotFound
}

// OpenByEscrow returns the escrow's unresolved dispute.
func (r *Repository) OpenByEscrow(ctx context.Context, escrowID string) (Record, error) {
	const query = `
		SELECT ` + disputeColumns + `
		FROM disputes
		WHERE escrow_id = $1 AND status = 'under_review'
		ORDER BY created_at DESC
		LIMIT 1`

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, escrowID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("dispute: open by escrow: %w", err)
	}
	return rec, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID,
		&rec.EscrowID,
		&rec.Buyer,
		&rec.RequestID,
		&rec.RaisedBy,
		&rec.Reason,
		&rec.Status,
		&rec.Resolution,
		&rec.ResolvedBy,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.ResolvedAt,
	)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}
