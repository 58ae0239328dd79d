// internal/auth/storage/postgres/rbac.go
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type rbacRepo struct {
	pool *pgxpool.Pool
}

func NewRBACRepo(pool *pgxpool.Pool) RBACRepository {
	return &rbacRepo{pool: pool}
}

func (r *rbacRepo) PermissionsOf(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT rp.permission
		FROM user_roles ur
		JOIN role_permissions rp ON rp.role_name = ur.role_name
		WHERE ur.user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: permissions of: %w", err)
	}
	defer rows.Close()
	return collectStrings(rows)
}

func (r *rbacRepo) RolesOf(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT role_name FROM user_roles WHERE user_id = $1 ORDER BY role_name`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: roles of: %w", err)
	}
	defer rows.Close()
	return collectStrings(rows)
}

func (r *rbacRepo) UsersWithRole(ctx context.Context, role string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id::text FROM user_roles WHERE role_name = $1`, role)
	if err != nil {
		return nil, fmt.Errorf("postgres: users with role: %w", err)
	}
	defer rows.Close()
	return collectStrings(rows)
}

func (r *rbacRepo) EnsureRole(ctx context.Context, role, description string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO roles (name, description) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description`,
		role, description)
	if err != nil {
		return fmt.Errorf("postgres: ensure role: %w", err)
	}
	return nil
}

// SetRolePermissions заменяет набор разрешений роли в одной транзакции.
func (r *rbacRepo) SetRolePermissions(ctx context.Context, role string, permissions []string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_name = $1`, role); err != nil {
		return fmt.Errorf("postgres: clear role permissions: %w", err)
	}
	for _, p := range permissions {
		if _, err := tx.Exec(ctx,
			`INSERT INTO role_permissions (role_name, permission) VALUES ($1, $2)`, role, p); err != nil {
			return fmt.Errorf("postgres: insert role permission: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (r *rbacRepo) GrantRole(ctx context.Context, userID, role string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_roles (user_id, role_name) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, userID, role)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrNotFound
		}
		return fmt.Errorf("postgres: grant role: %w", err)
	}
	return nil
}

func (r *rbacRepo) RevokeRole(ctx context.Context, userID, role string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM user_roles WHERE user_id = $1 AND role_name = $2`, userID, role)
	if err != nil {
		return fmt.Errorf("postgres: revoke role: %w", err)
	}
	return nil
}

func collectStrings(rows pgx.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("postgres: scan: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
