package rating

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository stores ratings in PostgreSQL. A unique index on escrow_id
// enforces one rating per escrow.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const ratingColumns = `id, escrow_id, buyer, provider, request_id, score, comment, created_at`

// Insert stores a rating, rejecting a second rating for the same escrow.
func (r *PGRepository) Insert(ctx context.Context, rating Rating) (Rating, error) {
	const insertSQL = `
		INSERT INTO ratings (id, escrow_id, buyer, provider, request_id, score, comment, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING ` + ratingColumns

	row := r.pool.QueryRow(ctx, insertSQL,
		rating.ID, rating.EscrowID, rating.Buyer, rating.Provider, rating.RequestID,
		rating.Score, rating.Comment, rating.CreatedAt,
	)
	stored, err := scanRating(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Rating{}, ErrDuplicateRating
		}
		return Rating{}, fmt.Errorf("rating: insert: %w", err)
	}
	return stored, nil
}

// GetByEscrow returns the rating for one escrow.
func (r *PGRepository) GetByEscrow(ctx context.Context, escrowID string) (Rating, error) {
	const selectSQL = `SELECT ` + ratingColumns + ` FROM ratings WHERE escrow_id = $1`

	rating, err := scanRating(r.pool.QueryRow(ctx, selectSQL, escrowID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Rating{}, ErrNotFound
		}
		return Rating{}, fmt.Errorf("rating: get by escrow: %w", err)
	}
	return rating, nil
}

// ListByProvider returns the provider's most recent ratings.
func (r *PGRepository) ListByProvider(ctx context.Context, provider string, limit int) ([]Rating, error) {
	const listSQL = `
		SELECT ` + ratingColumns + `
		FROM ratings
		WHERE provider = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, listSQL, provider, limit)
	if err != nil {
		return nil, fmt.Errorf("rating: list by provider: %w", err)
	}
	defer rows.Close()

	var ratings []Rating
	for rows.Next() {
		rating, err := scanRating(rows)
		if err != nil {
			return nil, fmt.Errorf("rating: list by provider: %w", err)
		}
		ratings = append(ratings, rating)
	}
	return ratings, rows.Err()
}

// Reputation aggregates the provider's ratings in one query.
func (r *PGRepository) Reputation(ctx context.Context, provider string) (Reputation, error) {
	const aggSQL = `
		SELECT count(*), COALESCE(avg(score), 0)
		FROM ratings
		WHERE provider = $1`

	rep := Reputation{Provider: provider}
	if err := r.pool.QueryRow(ctx, aggSQL, provider).Scan(&rep.Count, &rep.Average); err != nil {
		return Reputation{}, fmt.Errorf("rating: reputation: %w", err)
	}
	return rep, nil
}

func scanRating(row pgx.Row) (Rating, error) {
	var rating Rating
	err := row.Scan(
		&rating.ID,
		&rating.EscrowID,
		&rating.Buyer,
		&rating.Provider,
		&rating.RequestID,
		&rating.Score,
		&rating.Comment,
		&rating.CreatedAt,
	)
	if err != nil {
		return Rating{}, err
	}
	return rating, nil
}
