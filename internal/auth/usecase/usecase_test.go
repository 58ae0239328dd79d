// internal/auth/usecase/usecase_test.go
package usecase_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"

	"github.com/davidshare/ObservaShop/common/logger"
	"github.com/davidshare/ObservaShop/internal/auth/audit"
	"github.com/davidshare/ObservaShop/internal/auth/metrics"
	"github.com/davidshare/ObservaShop/internal/auth/storage/postgres"
	"github.com/davidshare/ObservaShop/internal/auth/usecase"
	"github.com/davidshare/ObservaShop/internal/autherr"
	"github.com/davidshare/ObservaShop/internal/revocation"
	"github.com/davidshare/ObservaShop/internal/token"
)

func TestMain(m *testing.M) {
	metrics.Register(prometheus.NewRegistry())
	os.Exit(m.Run())
}

// ---- fakes -------------------------------------------------------------

type fakeUsers struct {
	mu    sync.Mutex
	byID  map[string]*postgres.User
	fail  bool
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byID: make(map[string]*postgres.User)}
}

func (f *fakeUsers) FindByUsername(_ context.Context, username string) (*postgres.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("connection refused")
	}
	for _, u := range f.byID {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, postgres.ErrNotFound
}

func (f *fakeUsers) FindByID(_ context.Context, id string) (*postgres.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return nil, postgres.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) Create(_ context.Context, user *postgres.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if u.Username == user.Username {
			return postgres.ErrDuplicate
		}
	}
	cp := *user
	f.byID[user.ID] = &cp
	return nil
}

func (f *fakeUsers) SetStatus(_ context.Context, id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return postgres.ErrNotFound
	}
	u.Status = status
	return nil
}

type fakeRBAC struct {
	mu        sync.Mutex
	userRoles map[string][]string
	rolePerms map[string][]string
	fail      bool
}

func newFakeRBAC() *fakeRBAC {
	return &fakeRBAC{
		userRoles: make(map[string][]string),
		rolePerms: make(map[string][]string),
	}
}

func (f *fakeRBAC) RolesOf(_ context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("connection refused")
	}
	return append([]string(nil), f.userRoles[userID]...), nil
}

func (f *fakeRBAC) PermissionsOf(_ context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("connection refused")
	}
	var out []string
	for _, role := range f.userRoles[userID] {
		out = append(out, f.rolePerms[role]...)
	}
	return out, nil
}

func (f *fakeRBAC) UsersWithRole(_ context.Context, role string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for uid, roles := range f.userRoles {
		for _, r := range roles {
			if r == role {
				out = append(out, uid)
			}
		}
	}
	return out, nil
}

func (f *fakeRBAC) EnsureRole(_ context.Context, role, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rolePerms[role]; !ok {
		f.rolePerms[role] = nil
	}
	return nil
}

func (f *fakeRBAC) SetRolePermissions(_ context.Context, role string, permissions []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rolePerms[role] = append([]string(nil), permissions...)
	return nil
}

func (f *fakeRBAC) GrantRole(_ context.Context, userID, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.userRoles[userID] {
		if r == role {
			return nil
		}
	}
	f.userRoles[userID] = append(f.userRoles[userID], role)
	return nil
}

func (f *fakeRBAC) RevokeRole(_ context.Context, userID, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	roles := f.userRoles[userID]
	for i, r := range roles {
		if r == role {
			f.userRoles[userID] = append(roles[:i], roles[i+1:]...)
			return nil
		}
	}
	return nil
}

type familyCell struct {
	userID  string
	gen     int64
	revoked bool
}

// fakeRevocations воспроизводит семантику Lua-скриптов: advance под
// мьютексом, отзыв семейства при несовпадении поколения.
type fakeRevocations struct {
	mu        sync.Mutex
	families  map[string]*familyCell
	denylist  map[string]bool
	published []string
	fail      bool
}

func newFakeRevocations() *fakeRevocations {
	return &fakeRevocations{
		families: make(map[string]*familyCell),
		denylist: make(map[string]bool),
	}
}

func (f *fakeRevocations) CreateFamily(_ context.Context, famID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return autherr.ErrDependencyUnavailable
	}
	f.families[famID] = &familyCell{userID: userID}
	return nil
}

func (f *fakeRevocations) AdvanceGeneration(_ context.Context, famID string, expectedGen int64) (revocation.CASResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return 0, autherr.ErrDependencyUnavailable
	}
	cell, ok := f.families[famID]
	if !ok {
		return revocation.CASMissing, nil
	}
	if cell.revoked {
		return revocation.CASRevoked, nil
	}
	if cell.gen != expectedGen {
		cell.revoked = true
		return revocation.CASStale, nil
	}
	cell.gen++
	return revocation.CASAdvanced, nil
}

func (f *fakeRevocations) RevokeFamily(_ context.Context, famID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return autherr.ErrDependencyUnavailable
	}
	if cell, ok := f.families[famID]; ok {
		cell.revoked = true
	}
	return nil
}

func (f *fakeRevocations) DenylistToken(_ context.Context, jti string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ttl > 0 {
		f.denylist[jti] = true
	}
	return nil
}

func (f *fakeRevocations) PublishInvalidation(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, userID)
	return nil
}

type captureAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (c *captureAudit) Record(_ context.Context, ev audit.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureAudit) kinds() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.Kind
	}
	return out
}

// ---- fixture ----------------------------------------------------------

type fixture struct {
	users  *fakeUsers
	rbac   *fakeRBAC
	revoc  *fakeRevocations
	audit  *captureAudit
	signer interface {
		token.Signer
		token.Verifier
	}
	uc usecase.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := token.NewRS256Signer(key, "observashop-auth", "observashop", 15*time.Minute, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	log, err := logger.New(logger.Config{Level: "error", DevMode: true})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	f := &fixture{
		users:  newFakeUsers(),
		rbac:   newFakeRBAC(),
		revoc:  newFakeRevocations(),
		audit:  &captureAudit{},
		signer: signer,
	}
	f.uc = usecase.NewHandler(
		usecase.NewLoginHandler(f.users, f.rbac, f.revoc, signer, f.audit, log),
		usecase.NewRegisterHandler(f.users, f.rbac, f.revoc, log),
		usecase.NewRefreshTokenHandler(f.rbac, f.revoc, signer, signer, f.audit, log),
		usecase.NewLogoutHandler(f.revoc, signer, f.audit, log),
		usecase.NewRoleAdminHandler(f.rbac, f.revoc, log),
	)
	return f
}

func (f *fixture) addUser(t *testing.T, id, username, password, status string, roles ...string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := f.users.Create(context.Background(), &postgres.User{
		ID: id, Username: username, PasswordHash: string(hash), Status: status,
	}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	for _, r := range roles {
		if err := f.rbac.GrantRole(context.Background(), id, r); err != nil {
			t.Fatalf("seed role: %v", err)
		}
	}
}

// ---- login ------------------------------------------------------------

func TestLogin_Success(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "alice", "secret-pass", postgres.StatusActive, "user")

	pair, err := f.uc.Login.Handle(context.Background(), usecase.Credentials{Username: "alice", Password: "secret-pass"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("empty token pair")
	}
	if pair.ExpiresIn <= 0 {
		t.Errorf("expires_in must be positive, got %d", pair.ExpiresIn)
	}

	claims, err := f.signer.VerifyRefresh(pair.RefreshToken)
	if err != nil {
		t.Fatalf("verify issued refresh: %v", err)
	}
	if claims.Generation != 0 {
		t.Errorf("fresh family must start at generation 0, got %d", claims.Generation)
	}
	if _, ok := f.revoc.families[claims.FamilyID]; !ok {
		t.Error("family not registered in revocation cache")
	}
}

func TestLogin_WrongPasswordAndUnknownUserLookAlike(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "alice", "secret-pass", postgres.StatusActive)

	_, errWrong := f.uc.Login.Handle(context.Background(), usecase.Credentials{Username: "alice", Password: "nope"})
	_, errUnknown := f.uc.Login.Handle(context.Background(), usecase.Credentials{Username: "bob", Password: "nope"})

	if !errors.Is(errWrong, autherr.ErrInvalidCredentials) {
		t.Errorf("wrong password: want ErrInvalidCredentials, got %v", errWrong)
	}
	if !errors.Is(errUnknown, autherr.ErrInvalidCredentials) {
		t.Errorf("unknown user: want ErrInvalidCredentials, got %v", errUnknown)
	}
	if errWrong.Error() != errUnknown.Error() {
		t.Errorf("error text must not reveal user existence: %q vs %q", errWrong, errUnknown)
	}
}

func TestLogin_DisabledAccount(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "alice", "secret-pass", postgres.StatusDisabled)

	_, err := f.uc.Login.Handle(context.Background(), usecase.Credentials{Username: "alice", Password: "secret-pass"})
	if !errors.Is(err, autherr.ErrAccountDisabled) {
		t.Errorf("want ErrAccountDisabled, got %v", err)
	}
}

func TestLogin_StoreDownFailsClosed(t *testing.T) {
	f := newFixture(t)
	f.users.fail = true

	_, err := f.uc.Login.Handle(context.Background(), usecase.Credentials{Username: "alice", Password: "secret-pass"})
	if !errors.Is(err, autherr.ErrDependencyUnavailable) {
		t.Errorf("want ErrDependencyUnavailable, got %v", err)
	}
}

func TestLogin_PasswordCheckTimeoutReadsAsUnavailable(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "alice", "secret-pass", postgres.StatusActive)

	// отменённый ctx срезает бюджет bcrypt-сравнения до нуля
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.uc.Login.Handle(ctx, usecase.Credentials{Username: "alice", Password: "secret-pass"})
	if !errors.Is(err, autherr.ErrDependencyUnavailable) {
		t.Errorf("starved password check: want ErrDependencyUnavailable, got %v", err)
	}
	if errors.Is(err, autherr.ErrInvalidCredentials) {
		t.Error("timeout must not read as a credential failure")
	}
}

func TestLogin_FailureBurstAudited(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "alice", "secret-pass", postgres.StatusActive)

	for i := 0; i < 5; i++ {
		_, _ = f.uc.Login.Handle(context.Background(), usecase.Credentials{Username: "alice", Password: "nope"})
	}

	found := false
	for _, kind := range f.audit.kinds() {
		if kind == audit.EventLoginFailureBurst {
			found = true
		}
	}
	if !found {
		t.Error("expected login failure burst audit event after 5 failures")
	}
}

// ---- refresh ----------------------------------------------------------

func login(t *testing.T, f *fixture) *usecase.TokenPair {
	t.Helper()
	pair, err := f.uc.Login.Handle(context.Background(), usecase.Credentials{Username: "alice", Password: "secret-pass"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return pair
}

func TestRefresh_RotatesGeneration(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "alice", "secret-pass", postgres.StatusActive, "user")
	pair := login(t, f)

	next, err := f.uc.Refresh.Handle(context.Background(), pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}

	claims, err := f.signer.VerifyRefresh(next.RefreshToken)
	if err != nil {
		t.Fatalf("verify rotated refresh: %v", err)
	}
	if claims.Generation != 1 {
		t.Errorf("rotated token must carry generation 1, got %d", claims.Generation)
	}
}

func TestRefresh_RolesSnapshotIsFresh(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "alice", "secret-pass", postgres.StatusActive, "user")
	pair := login(t, f)

	if err := f.rbac.GrantRole(context.Background(), "u1", "admin"); err != nil {
		t.Fatalf("grant: %v", err)
	}

	next, err := f.uc.Refresh.Handle(context.Background(), pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	claims, err := f.signer.VerifyAccess(next.AccessToken)
	if err != nil {
		t.Fatalf("verify access: %v", err)
	}
	if len(claims.Roles) != 2 {
		t.Errorf("access token must carry fresh role snapshot, got %v", claims.Roles)
	}
}

// Повторное предъявление уже ротированного токена — сигнал кражи:
// семейство отзывается целиком, последующие ротации отвергаются.
func TestRefresh_ReuseRevokesFamily(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "alice", "secret-pass", postgres.StatusActive, "user")
	pair := login(t, f)

	rotated, err := f.uc.Refresh.Handle(context.Background(), pair.RefreshToken)
	if err != nil {
		t.Fatalf("first rotation: %v", err)
	}

	if _, err := f.uc.Refresh.Handle(context.Background(), pair.RefreshToken); !errors.Is(err, autherr.ErrTokenReuseDetected) {
		t.Fatalf("replayed token: want ErrTokenReuseDetected, got %v", err)
	}

	if _, err := f.uc.Refresh.Handle(context.Background(), rotated.RefreshToken); !errors.Is(err, autherr.ErrTokenFamilyRevoked) {
		t.Fatalf("live lineage after reuse: want ErrTokenFamilyRevoked, got %v", err)
	}

	found := false
	for _, kind := range f.audit.kinds() {
		if kind == audit.EventTokenReuseDetected {
			found = true
		}
	}
	if !found {
		t.Error("reuse must emit an audit event")
	}
}

// N конкурентных ротаций одного токена: ровно одна успешна.
func TestRefresh_ConcurrentRotationExactlyOneWinner(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "alice", "secret-pass", postgres.StatusActive, "user")
	pair := login(t, f)

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.uc.Refresh.Handle(context.Background(), pair.RefreshToken)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, autherr.ErrTokenReuseDetected) && !errors.Is(err, autherr.ErrTokenFamilyRevoked) {
			t.Errorf("unexpected loser error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("want exactly 1 winner, got %d", wins)
	}
}

func TestRefresh_UnknownFamily(t *testing.T) {
	f := newFixture(t)
	raw, _, err := f.signer.SignRefresh("u1", "never-created", 0)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := f.uc.Refresh.Handle(context.Background(), raw); !errors.Is(err, autherr.ErrTokenInvalid) {
		t.Errorf("want ErrTokenInvalid, got %v", err)
	}
}

func TestRefresh_CacheDownFailsClosed(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "alice", "secret-pass", postgres.StatusActive, "user")
	pair := login(t, f)

	f.revoc.fail = true
	if _, err := f.uc.Refresh.Handle(context.Background(), pair.RefreshToken); !errors.Is(err, autherr.ErrDependencyUnavailable) {
		t.Errorf("want ErrDependencyUnavailable, got %v", err)
	}
}

// ---- logout -----------------------------------------------------------

func TestLogout_RevokesFamilyAndDenylistsAccess(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "alice", "secret-pass", postgres.StatusActive, "user")
	pair := login(t, f)

	if err := f.uc.Logout.Handle(context.Background(), pair.RefreshToken, pair.AccessToken); err != nil {
		t.Fatalf("logout: %v", err)
	}

	if _, err := f.uc.Refresh.Handle(context.Background(), pair.RefreshToken); !errors.Is(err, autherr.ErrTokenFamilyRevoked) {
		t.Errorf("refresh after logout: want ErrTokenFamilyRevoked, got %v", err)
	}

	ac, err := f.signer.VerifyAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("verify access: %v", err)
	}
	if !f.revoc.denylist[ac.JTI()] {
		t.Error("presented access token must be denylisted")
	}
}

func TestLogout_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "alice", "secret-pass", postgres.StatusActive, "user")
	pair := login(t, f)

	if err := f.uc.Logout.Handle(context.Background(), pair.RefreshToken, ""); err != nil {
		t.Fatalf("first logout: %v", err)
	}
	if err := f.uc.Logout.Handle(context.Background(), pair.RefreshToken, ""); err != nil {
		t.Fatalf("repeated logout must succeed: %v", err)
	}
}

func TestLogout_ForgedTokenRejected(t *testing.T) {
	f := newFixture(t)
	if err := f.uc.Logout.Handle(context.Background(), "not-a-token", ""); !errors.Is(err, autherr.ErrTokenInvalid) {
		t.Errorf("want ErrTokenInvalid, got %v", err)
	}
}

// ---- register ---------------------------------------------------------

func TestRegister_CreatesUserWithDefaultRole(t *testing.T) {
	f := newFixture(t)

	id, err := f.uc.Register.Handle(context.Background(), usecase.Credentials{Username: "Alice ", Password: "secret-pass"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	roles, _ := f.rbac.RolesOf(context.Background(), id)
	if len(roles) != 1 || roles[0] != usecase.DefaultRole {
		t.Errorf("want default role %q, got %v", usecase.DefaultRole, roles)
	}

	// username нормализуется
	if _, err := f.users.FindByUsername(context.Background(), "alice"); err != nil {
		t.Errorf("normalized username lookup failed: %v", err)
	}
}

func TestRegister_Duplicate(t *testing.T) {
	f := newFixture(t)
	if _, err := f.uc.Register.Handle(context.Background(), usecase.Credentials{Username: "alice", Password: "secret-pass"}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := f.uc.Register.Handle(context.Background(), usecase.Credentials{Username: "alice", Password: "other-pass"}); !errors.Is(err, autherr.ErrUserExists) {
		t.Errorf("want ErrUserExists, got %v", err)
	}
}

func TestRegister_WeakPasswordRejected(t *testing.T) {
	f := newFixture(t)
	if _, err := f.uc.Register.Handle(context.Background(), usecase.Credentials{Username: "alice", Password: "short"}); !errors.Is(err, autherr.ErrInvalidCredentials) {
		t.Errorf("want ErrInvalidCredentials, got %v", err)
	}
}

// ---- role admin -------------------------------------------------------

func TestRoleAdmin_GrantPublishesInvalidation(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "alice", "secret-pass", postgres.StatusActive)

	if err := f.uc.Roles.GrantRole(context.Background(), "u1", "admin"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if len(f.revoc.published) != 1 || f.revoc.published[0] != "u1" {
		t.Errorf("invalidation must be published for u1, got %v", f.revoc.published)
	}
}

func TestRoleAdmin_SetPermissionsFansOut(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "alice", "secret-pass", postgres.StatusActive, "editor")
	f.addUser(t, "u2", "bob", "secret-pass", postgres.StatusActive, "editor")
	f.revoc.published = nil

	err := f.uc.Roles.SetRolePermissions(context.Background(), "editor", []string{"product:read", "product:write"})
	if err != nil {
		t.Fatalf("set permissions: %v", err)
	}
	if len(f.revoc.published) != 2 {
		t.Errorf("want 2 fan-out invalidations, got %v", f.revoc.published)
	}
}

func TestRoleAdmin_UnknownPermissionRejected(t *testing.T) {
	f := newFixture(t)
	err := f.uc.Roles.SetRolePermissions(context.Background(), "editor", []string{"warp:core"})
	if !errors.Is(err, autherr.ErrUnknownPermission) {
		t.Errorf("want ErrUnknownPermission, got %v", err)
	}
	if len(f.revoc.published) != 0 {
		t.Errorf("no invalidation on rejected update, got %v", f.revoc.published)
	}
}
