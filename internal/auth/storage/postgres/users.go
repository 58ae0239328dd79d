// internal/auth/storage/postgres/users.go
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type userRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) UserRepository {
	return &userRepo{pool: pool}
}

func (r *userRepo) FindByUsername(ctx context.Context, username string) (*User, error) {
	return r.findBy(ctx, "username = $1", username)
}

func (r *userRepo) FindByID(ctx context.Context, id string) (*User, error) {
	return r.findBy(ctx, "id = $1", id)
}

func (r *userRepo) findBy(ctx context.Context, where string, arg interface{}) (*User, error) {
	var u User
	err := r.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, status, created_at FROM users WHERE `+where,
		arg,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Status, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: find user: %w", err)
	}
	return &u, nil
}

func (r *userRepo) Create(ctx context.Context, user *User) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, username, password_hash, status) VALUES ($1, $2, $3, $4)`,
		user.ID, user.Username, user.PasswordHash, user.Status,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicate
		}
		return fmt.Errorf("postgres: create user: %w", err)
	}
	return nil
}

func (r *userRepo) SetStatus(ctx context.Context, id, status string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("postgres: set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
