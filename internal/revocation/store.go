// internal/revocation/store.go
//
// Package revocation is the client for the shared revocation cache: the
// access-token denylist, refresh-token family state and the policy
// invalidation channel. Every enforcement point and every issuer instance
// talks to the same Redis; the per-family compare-and-set here is the only
// serialization point in the whole subsystem.
package revocation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/davidshare/ObservaShop/common/logger"
	commonredis "github.com/davidshare/ObservaShop/common/redis"
	"github.com/davidshare/ObservaShop/internal/autherr"
)

// Key schema. Presence of a denylist entry is authoritative proof of
// revocation; absence is not proof of validity.
// TTL семейства взводится один раз при создании и НЕ продлевается
// ротацией: refresh-лайфтайм ограничивает сессию целиком, а не каждый
// выданный токен. Поздние поколения, чей exp пережил семейство,
// упираются в CASMissing — fail-closed.
const (
	denylistPrefix    = "revoked:token:" // + jti, TTL = remaining access lifetime
	familyPrefix      = "family:"        // + famId → hash {gen, state, user}, TTL = session max lifetime
	invalidateChannel = "policy-invalidate:"
)

const (
	stateActive  = "active"
	stateRevoked = "revoked"
)

// FamilyState — текущее состояние refresh-семейства.
type FamilyState struct {
	UserID     string
	Generation int64
	Revoked    bool
}

// CASResult — исход атомарного продвижения поколения.
type CASResult int

const (
	// CASAdvanced: поколение продвинуто, вызывающий — единственный победитель.
	CASAdvanced CASResult = iota
	// CASStale: предъявленное поколение уже израсходовано (reuse) либо
	// проиграна конкурентная гонка; семейство отозвано скриптом.
	CASStale
	// CASRevoked: семейство уже было отозвано.
	CASRevoked
	// CASMissing: семейства нет (истёк TTL или никогда не существовало).
	CASMissing
)

// advanceScript выполняет шаги 3–5 алгоритма ротации одним атомарным
// скриптом: проверка состояния, сверка поколения, продвижение либо
// отзыв при расхождении. Read-then-write на стороне клиента здесь
// недопустим.
const advanceScript = `
local state = redis.call('HGET', KEYS[1], 'state')
if not state then return 'missing' end
if state == 'revoked' then return 'revoked' end
local gen = tonumber(redis.call('HGET', KEYS[1], 'gen'))
if gen ~= tonumber(ARGV[1]) then
  redis.call('HSET', KEYS[1], 'state', 'revoked')
  return 'stale'
end
redis.call('HSET', KEYS[1], 'gen', gen + 1)
return 'ok'
`

const createFamilyScript = `
redis.call('HSET', KEYS[1], 'gen', 0, 'state', ARGV[1], 'user', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 'ok'
`

const revokeFamilyScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then return 'missing' end
redis.call('HSET', KEYS[1], 'state', 'revoked')
return 'ok'
`

// Store — клиент revocation-кеша поверх общего Redis-клиента.
type Store struct {
	rdb        *commonredis.Client
	refreshTTL time.Duration
	log        *logger.Logger
}

func New(rdb *commonredis.Client, refreshTTL time.Duration, log *logger.Logger) *Store {
	return &Store{rdb: rdb, refreshTTL: refreshTTL, log: log.Named("revocation")}
}

func familyKey(famID string) string { return familyPrefix + famID }

// CreateFamily записывает новое семейство (generation 0, active).
func (s *Store) CreateFamily(ctx context.Context, famID, userID string) error {
	_, err := s.rdb.Eval(ctx, createFamilyScript, []string{familyKey(famID)},
		stateActive, userID, s.refreshTTL.Milliseconds())
	if err != nil {
		return s.unavailable("create family", err)
	}
	return nil
}

// GetFamily читает состояние семейства; autherr.ErrTokenInvalid если его нет.
func (s *Store) GetFamily(ctx context.Context, famID string) (*FamilyState, error) {
	fields, err := s.rdb.HGetAll(ctx, familyKey(famID))
	if err != nil {
		if errors.Is(err, commonredis.ErrNotFound) {
			return nil, autherr.ErrTokenInvalid
		}
		return nil, s.unavailable("get family", err)
	}
	gen, err := strconv.ParseInt(fields["gen"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("revocation: corrupt family %q: %w", famID, err)
	}
	return &FamilyState{
		UserID:     fields["user"],
		Generation: gen,
		Revoked:    fields["state"] == stateRevoked,
	}, nil
}

// AdvanceGeneration атомарно продвигает поколение семейства с expectedGen
// на expectedGen+1. Любое расхождение отзывает семейство внутри скрипта.
func (s *Store) AdvanceGeneration(ctx context.Context, famID string, expectedGen int64) (CASResult, error) {
	res, err := s.rdb.Eval(ctx, advanceScript, []string{familyKey(famID)}, expectedGen)
	if err != nil {
		return 0, s.unavailable("advance generation", err)
	}
	switch res {
	case "ok":
		return CASAdvanced, nil
	case "stale":
		return CASStale, nil
	case "revoked":
		return CASRevoked, nil
	case "missing":
		return CASMissing, nil
	default:
		return 0, fmt.Errorf("revocation: unexpected CAS result %v", res)
	}
}

// RevokeFamily помечает семейство отозванным. Идемпотентно.
func (s *Store) RevokeFamily(ctx context.Context, famID string) error {
	_, err := s.rdb.Eval(ctx, revokeFamilyScript, []string{familyKey(famID)})
	if err != nil {
		return s.unavailable("revoke family", err)
	}
	return nil
}

// DenylistToken заносит jti в denylist на остаток его жизни.
func (s *Store) DenylistToken(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		// токен уже истёк, запись не нужна
		return nil
	}
	if err := s.rdb.Set(ctx, denylistPrefix+jti, []byte("1"), ttl); err != nil {
		return s.unavailable("denylist token", err)
	}
	return nil
}

// IsTokenDenylisted проверяет jti. Ошибка кеша → ErrDependencyUnavailable,
// вызывающий обязан fail closed.
func (s *Store) IsTokenDenylisted(ctx context.Context, jti string) (bool, error) {
	ok, err := s.rdb.Exists(ctx, denylistPrefix+jti)
	if err != nil {
		return false, s.unavailable("denylist check", err)
	}
	return ok, nil
}

func (s *Store) unavailable(op string, err error) error {
	s.log.Warn("revocation cache operation failed", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%w: revocation cache: %s: %v", autherr.ErrDependencyUnavailable, op, err)
}
