package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Pool represents a lending pool the scanner knows about. Metadata only;
// balances and prices live in ClickHouse.
type Pool struct {
	ID              uuid.UUID `json:"id"`
	PoolID          string    `json:"poolId"`
	Name            string    `json:"name"`
	OracleAddress   *string   `json:"oracleAddress"`
	BackstopAddress *string   `json:"backstopAddress"`
	LpTokenAddress  *string   `json:"lpTokenAddress"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// PoolRepository handles pool metadata access
type PoolRepository struct {
	db *PostgresDB
}

// NewPoolRepository creates a new pool repository
func NewPoolRepository(db *PostgresDB) *PoolRepository {
	return &PoolRepository{db: db}
}

// Upsert inserts or refreshes a pool row keyed by its on-chain pool ID.
func (r *PoolRepository) Upsert(ctx context.Context, pool *Pool) error {
	if pool.ID == uuid.Nil {
		pool.ID = uuid.New()
	}
	now := time.Now()

	query := `
		INSERT INTO pools (id, pool_id, name, oracle_address, backstop_address, lp_token_address, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (pool_id) DO UPDATE SET
			name = EXCLUDED.name,
			oracle_address = EXCLUDED.oracle_address,
			backstop_address = EXCLUDED.backstop_address,
			lp_token_address = EXCLUDED.lp_token_address,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.Pool().Exec(ctx, query,
		pool.ID, pool.PoolID, pool.Name,
		pool.OracleAddress, pool.BackstopAddress, pool.LpTokenAddress, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert pool: %w", err)
	}
	return nil
}

// GetByPoolID retrieves a pool by its on-chain pool ID. Returns nil when
// the pool is unknown.
func (r *PoolRepository) GetByPoolID(ctx context.Context, poolID string) (*Pool, error) {
	query := `
		SELECT id, pool_id, name, oracle_address, backstop_address, lp_token_address, created_at, updated_at
		FROM pools
		WHERE pool_id = $1
	`

	var p Pool
	err := r.db.Pool().QueryRow(ctx, query, poolID).Scan(
		&p.ID, &p.PoolID, &p.Name,
		&p.OracleAddress, &p.BackstopAddress, &p.LpTokenAddress,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get pool: %w", err)
	}
	return &p, nil
}

// List returns every known pool ordered by name.
func (r *PoolRepository) List(ctx context.Context) ([]Pool, error) {
	query := `
		SELECT id, pool_id, name, oracle_address, backstop_address, lp_token_address, created_at, updated_at
		FROM pools
		ORDER BY name ASC
	`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list pools: %w", err)
	}
	defer rows.Close()

	var pools []Pool
	for rows.Next() {
		var p Pool
		if err := rows.Scan(
			&p.ID, &p.PoolID, &p.Name,
			&p.OracleAddress, &p.BackstopAddress, &p.LpTokenAddress,
			&p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan pool: %w", err)
		}
		pools = append(pools, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pools: %w", err)
	}
	return pools, nil
}
