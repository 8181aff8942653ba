package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository is the PostgreSQL mirror store. The ledger account identity is
// (buyer, request_id, created_at): the pair can only be reused after the
// previous escrow reached a terminal status, and terminal rows are kept for
// audit.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed escrow mirror.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const escrowColumns = `id, buyer, provider, platform, amount, request_id, proposal_id, status,
	created_at, funded_at, delivered_at, completed_at, refunded_at, disputed_at, updated_at`

// UpsertSnapshot writes a ledger snapshot through to the mirror.
func (r *PGRepository) UpsertSnapshot(ctx context.Context, esc Escrow) (Escrow, error) {
	const upsertSQL = `
		INSERT INTO escrows (buyer, provider, platform, amount, request_id, proposal_id, status,
			created_at, funded_at, delivered_at, completed_at, refunded_at, disputed_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (buyer, request_id, created_at) DO UPDATE SET
			status       = excluded.status,
			funded_at    = excluded.funded_at,
			delivered_at = excluded.delivered_at,
			completed_at = excluded.completed_at,
			refunded_at  = excluded.refunded_at,
			disputed_at  = excluded.disputed_at,
			updated_at   = excluded.updated_at
		RETURNING ` + escrowColumns

	row := r.pool.QueryRow(ctx, upsertSQL,
		esc.Buyer, esc.Provider, esc.Platform, esc.Amount, esc.RequestID, esc.ProposalID, esc.Status,
		esc.CreatedAt, esc.FundedAt, esc.DeliveredAt, esc.CompletedAt, esc.RefundedAt, esc.DisputedAt, esc.UpdatedAt,
	)
	stored, err := scanEscrow(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Escrow{}, ErrDuplicateEscrow
		}
		return Escrow{}, fmt.Errorf("escrow: upsert snapshot: %w", err)
	}
	return stored, nil
}

// Get returns the latest mirror row for the (buyer, requestID) pair.
func (r *PGRepository) Get(ctx context.Context, buyer, requestID string) (Escrow, error) {
	const selectSQL = `
		SELECT ` + escrowColumns + `
		FROM escrows
		WHERE buyer = $1 AND request_id = $2
		ORDER BY created_at DESC
		LIMIT 1`

	esc, err := scanEscrow(r.pool.QueryRow(ctx, selectSQL, buyer, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Escrow{}, ErrNotFound
		}
		return Escrow{}, fmt.Errorf("escrow: get: %w", err)
	}
	return esc, nil
}

// HasNonTerminal reports whether an active escrow exists for the pair.
func (r *PGRepository) HasNonTerminal(ctx context.Context, buyer, requestID string) (bool, error) {
	const existsSQL = `
		SELECT EXISTS (
			SELECT 1 FROM escrows
			WHERE buyer = $1 AND request_id = $2
			  AND status NOT IN ('completed','refunded','cancelled')
		)`

	var exists bool
	if err := r.pool.QueryRow(ctx, existsSQL, buyer, requestID).Scan(&exists); err != nil {
		return false, fmt.Errorf("escrow: check non-terminal: %w", err)
	}
	return exists, nil
}

// InsertRefund stores a refund record.
func (r *PGRepository) InsertRefund(ctx context.Context, refund Refund) (Refund, error) {
	const insertSQL = `
		INSERT INTO refunds (id, buyer, request_id, amount, reason, signature, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id, buyer, request_id, amount, reason, signature, created_at`

	var stored Refund
	err := r.pool.QueryRow(ctx, insertSQL,
		refund.ID, refund.Buyer, refund.RequestID, refund.Amount, refund.Reason, refund.Signature, refund.CreatedAt,
	).Scan(&stored.ID, &stored.Buyer, &stored.RequestID, &stored.Amount, &stored.Reason, &stored.Signature, &stored.CreatedAt)
	if err != nil {
		return Refund{}, fmt.Errorf("escrow: insert refund: %w", err)
	}
	return stored, nil
}

func scanEscrow(row pgx.Row) (Escrow, error) {
	var esc Escrow
	err := row.Scan(
		&esc.ID,
		&esc.Buyer,
		&esc.Provider,
		&esc.Platform,
		&esc.Amount,
		&esc.RequestID,
		&esc.ProposalID,
		&esc.Status,
		&esc.CreatedAt,
		&esc.FundedAt,
		&esc.DeliveredAt,
		&esc.CompletedAt,
		&esc.RefundedAt,
		&esc.DisputedAt,
		&esc.UpdatedAt,
	)
	if err != nil {
		return Escrow{}, err
	}
	return esc, nil
}
