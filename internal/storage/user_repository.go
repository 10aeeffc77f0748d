package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/yield-scanner/internal/models"
	"github.com/yield-scanner/internal/types"
)

// UserRepository persists users in Postgres. The tier column drives both
// API rate limits and snapshot retention.
type UserRepository struct {
	db *PostgresDB
}

func NewUserRepository(db *PostgresDB) *UserRepository {
	return &UserRepository{db: db}
}

func userNotFound(id string) error {
	return &types.ServiceError{
		Code:    "USER_NOT_FOUND",
		Message: fmt.Sprintf("user not found: %s", id),
		Details: map[string]interface{}{"userId": id},
	}
}

func marshalSettings(s *models.UserSettings) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	out, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settings: %w", err)
	}
	return out, nil
}

// Create inserts a new user, assigning an ID when none is set.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if err := validateTier(user.Tier); err != nil {
		return err
	}

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	settingsJSON, err := marshalSettings(user.Settings)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO users (id, email, tier, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = r.db.Pool().Exec(ctx, query,
		user.ID, user.Email, user.Tier, settingsJSON, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetByID retrieves a user. A missing user is a USER_NOT_FOUND service
// error, not a nil result.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `
		SELECT id, email, tier, settings, created_at, updated_at
		FROM users
		WHERE id = $1
	`
	return r.scanUser(r.db.Pool().QueryRow(ctx, query, id), id)
}

func (r *UserRepository) scanUser(row pgx.Row, id string) (*models.User, error) {
	var user models.User
	var settingsJSON []byte

	err := row.Scan(&user.ID, &user.Email, &user.Tier, &settingsJSON,
		&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, userNotFound(id)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if len(settingsJSON) > 0 {
		var settings models.UserSettings
		if err := json.Unmarshal(settingsJSON, &settings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
		}
		user.Settings = &settings
	}
	return &user, nil
}

// ExistsByEmail reports whether the email is already registered.
func (r *UserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.Pool().QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)`, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check user existence by email: %w", err)
	}
	return exists, nil
}

func validateTier(tier types.UserTier) error {
	switch tier {
	case types.TierFree, types.TierPaid:
		return nil
	default:
		return &types.ServiceError{
			Code:    "INVALID_TIER",
			Message: fmt.Sprintf("invalid tier: %s (must be 'free' or 'paid')", tier),
			Details: map[string]interface{}{
				"tier":          tier,
				"allowed_tiers": []string{string(types.TierFree), string(types.TierPaid)},
			},
		}
	}
}
