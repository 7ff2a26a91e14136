package auth

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sandialabs/scot4-api-sub002/internal/shared"
)

// Repository defines persistence operations for the auth module.
type Repository interface {
	FindUserByUsername(ctx context.Context, username string) (*User, error)
	UserRoleIDs(ctx context.Context, userID int64) ([]int64, error)
	AssignRole(ctx context.Context, userID, roleID int64) error
	TouchLastLogin(ctx context.Context, userID int64) error
	UserPreferences(ctx context.Context, username string) (json.RawMessage, error)

	FindAPIKey(ctx context.Context, id uuid.UUID) (*APIKey, error)
	CreateAPIKey(ctx context.Context, key APIKey) error
	ListAPIKeys(ctx context.Context, owner string) ([]APIKey, error)
	DeleteAPIKey(ctx context.Context, owner string, id uuid.UUID) error
	TouchAPIKey(ctx context.Context, id uuid.UUID) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `id, username, full_name, email, password_hash, is_active, is_superuser, preferences, created_at, updated_at, last_login_at`

// FindUserByUsername fetches a user by username.
func (r *PGRepository) FindUserByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	err := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username).
		Scan(&u.ID, &u.Username, &u.FullName, &u.Email, &u.PasswordHash, &u.IsActive,
			&u.IsSuperuser, &u.Preferences, &u.CreatedAt, &u.UpdatedAt, &u.LastLoginAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UserRoleIDs returns the ids of all roles the user belongs to.
func (r *PGRepository) UserRoleIDs(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT role_id FROM user_roles WHERE user_id = $1 ORDER BY role_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AssignRole adds the user to a role, idempotently.
func (r *PGRepository) AssignRole(ctx context.Context, userID, roleID int64) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		userID, roleID)
	return err
}

// TouchLastLogin stamps the user's last successful login.
func (r *PGRepository) TouchLastLogin(ctx context.Context, userID int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET last_login_at = NOW() WHERE id = $1`, userID)
	return err
}

// UserPreferences returns the raw preferences document for a username.
func (r *PGRepository) UserPreferences(ctx context.Context, username string) (json.RawMessage, error) {
	var prefs json.RawMessage
	err := r.pool.QueryRow(ctx, `SELECT preferences FROM users WHERE username = $1`, username).Scan(&prefs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	return prefs, err
}

const apiKeyColumns = `id, owner, secret_hash, active, role_ids, created_at, last_used_at`

// FindAPIKey fetches an API key by id.
func (r *PGRepository) FindAPIKey(ctx context.Context, id uuid.UUID) (*APIKey, error) {
	var k APIKey
	err := r.pool.QueryRow(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE id = $1`, id).
		Scan(&k.ID, &k.Owner, &k.SecretHash, &k.Active, &k.RoleIDs, &k.CreatedAt, &k.LastUsedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// CreateAPIKey persists a new API key.
func (r *PGRepository) CreateAPIKey(ctx context.Context, key APIKey) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO api_keys (id, owner, secret_hash, active, role_ids, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		key.ID, key.Owner, key.SecretHash, key.Active, key.RoleIDs, key.CreatedAt)
	return err
}

// ListAPIKeys returns all keys belonging to the owner.
func (r *PGRepository) ListAPIKeys(ctx context.Context, owner string) ([]APIKey, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE owner = $1 ORDER BY created_at`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []APIKey
	for rows.Next() {
		var k APIKey
		if err := rows.Scan(&k.ID, &k.Owner, &k.SecretHash, &k.Active, &k.RoleIDs, &k.CreatedAt, &k.LastUsedAt); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// DeleteAPIKey removes one of the owner's keys.
func (r *PGRepository) DeleteAPIKey(ctx context.Context, owner string, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM api_keys WHERE owner = $1 AND id = $2`, owner, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// TouchAPIKey stamps the key's last use. Best effort, called on every
// authenticated request.
func (r *PGRepository) TouchAPIKey(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`, id, time.Now().UTC())
	return err
}

var _ Repository = (*PGRepository)(nil)
