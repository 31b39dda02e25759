package core

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserRecord is a row of the local users table backing the repository realm.
type UserRecord struct {
	ID           int64
	Username     string
	PasswordHash string
	Roles        []string
	CreatedAt    time.Time
}

// UserRepository defines persistence operations for local users.
type UserRepository interface {
	FindByUsername(ctx context.Context, username string) (*UserRecord, error)
	Create(ctx context.Context, username, passwordHash string, roles []string) (int64, error)
	HasRole(ctx context.Context, role string) (bool, error)
}

// ErrUserNotFound is returned by FindByUsername when no row matches.
var ErrUserNotFound = errors.New("user not found")

// PgUserRepository implements UserRepository using pgxpool.
type PgUserRepository struct {
	db *pgxpool.Pool
}

func NewPgUserRepository(db *pgxpool.Pool) *PgUserRepository {
	return &PgUserRepository{db: db}
}

func (r *PgUserRepository) FindByUsername(ctx context.Context, username string) (*UserRecord, error) {
	const q = `SELECT id, username, password_hash, roles, created_at FROM users WHERE username=$1`
	var u UserRecord
	if err := r.db.QueryRow(ctx, q, username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Roles, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *PgUserRepository) Create(ctx context.Context, username, passwordHash string, roles []string) (int64, error) {
	const q = `INSERT INTO users (username, password_hash, roles) VALUES ($1,$2,$3) RETURNING id`
	if roles == nil {
		roles = []string{}
	}
	var id int64
	if err := r.db.QueryRow(ctx, q, username, passwordHash, roles).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r *PgUserRepository) HasRole(ctx context.Context, role string) (bool, error) {
	const q = `SELECT 1 FROM users WHERE $1 = ANY(roles) LIMIT 1`
	var one int
	if err := r.db.QueryRow(ctx, q, role).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
