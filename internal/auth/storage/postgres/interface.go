// internal/auth/storage/postgres/interface.go
package postgres

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound возвращается всеми репозиториями при отсутствии записи.
var ErrNotFound = errors.New("postgres: not found")

// ErrDuplicate возвращается при нарушении уникальности.
var ErrDuplicate = errors.New("postgres: duplicate")

const (
	StatusActive   = "active"
	StatusDisabled = "disabled"
)

// User — учётная запись. PasswordHash никогда не покидает этот слой
// в открытом виде и не сериализуется наружу.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	Status       string
	CreatedAt    time.Time
}

func (u *User) Disabled() bool { return u.Status == StatusDisabled }

// UserRepository — Credential Store: единственный владелец парольного
// материала.
type UserRepository interface {
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	Create(ctx context.Context, user *User) error
	SetStatus(ctx context.Context, id, status string) error
}

// RBACRepository — Policy Store: роли, разрешения и привязки.
// Читается evaluator'ами через кеш; мутации публикуют инвалидацию.
type RBACRepository interface {
	// PermissionsOf возвращает объединение разрешений всех ролей пользователя.
	PermissionsOf(ctx context.Context, userID string) ([]string, error)
	// RolesOf возвращает имена ролей пользователя.
	RolesOf(ctx context.Context, userID string) ([]string, error)
	// UsersWithRole возвращает user id всех пользователей с ролью (fan-out
	// инвалидации при изменении роли).
	UsersWithRole(ctx context.Context, role string) ([]string, error)

	EnsureRole(ctx context.Context, role, description string) error
	SetRolePermissions(ctx context.Context, role string, permissions []string) error
	GrantRole(ctx context.Context, userID, role string) error
	RevokeRole(ctx context.Context, userID, role string) error
}
