package services

import (
	"context"
	"database/sql"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/dbx"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/auth"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/config"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/password"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/repositories/users"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/sessions"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

// --- users repository ---

type fakeUsersRepo struct {
	mu     sync.Mutex
	byID   map[string]*models.User
	nextID int

	// failLookups makes the next n lookups fail as if Postgres were down.
	failLookups int
	lookups     int
}

func newFakeUsersRepo() *fakeUsersRepo {
	return &fakeUsersRepo{byID: map[string]*models.User{}}
}

func (f *fakeUsersRepo) Create(_ context.Context, u *models.User) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.byID {
		if existing.Handle == u.Handle {
			return nil, common.ErrDuplicateHandle
		}
	}
	f.nextID++
	now := time.Now()
	out := *u
	out.ID = "user-" + strconv.Itoa(f.nextID)
	if out.Status == "" {
		out.Status = models.StatusActive
	}
	out.CreatedAt, out.UpdatedAt = now, now
	f.byID[out.ID] = &out
	cp := out
	return &cp, nil
}

func (f *fakeUsersRepo) lookupFailure() error {
	f.lookups++
	if f.failLookups > 0 {
		f.failLookups--
		return common.ErrBackendUnavailable
	}
	return nil
}

func (f *fakeUsersRepo) GetUserByLogin(_ context.Context, handle string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.lookupFailure(); err != nil {
		return nil, err
	}
	for _, u := range f.byID {
		if u.Handle == handle {
			cp := *u
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsersRepo) GetByID(_ context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.lookupFailure(); err != nil {
		return nil, err
	}
	u, ok := f.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsersRepo) LockByID(ctx context.Context, id string) (*models.User, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeUsersRepo) UpdateStatus(_ context.Context, id string, status models.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return common.ErrorNotFound
	}
	u.Status = status
	return nil
}

func (f *fakeUsersRepo) UpdatePassword(_ context.Context, id string, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return common.ErrorNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (f *fakeUsersRepo) hashOf(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[id].PasswordHash
}

type fakeRepoManager struct {
	users *fakeUsersRepo
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Users(dbx.DBTX) users.Repository              { return m.users }

// --- session store wrappers ---

// hookStore wraps a real store and runs afterRegister once a Register has
// been written, passing the 1-based call number. An error from the hook is
// returned as if the write had timed out after landing.
type hookStore struct {
	SessionStore
	mu            sync.Mutex
	calls         int
	afterRegister func(n int) error
}

func (h *hookStore) Register(ctx context.Context, rec *models.SessionRecord, ttl time.Duration) error {
	if err := h.SessionStore.Register(ctx, rec, ttl); err != nil {
		return err
	}
	h.mu.Lock()
	h.calls++
	n := h.calls
	h.mu.Unlock()
	if h.afterRegister != nil {
		return h.afterRegister(n)
	}
	return nil
}

// --- recorder ---

type fakeRecorder struct {
	mu          sync.Mutex
	logins      map[string]int
	refreshes   map[string]int
	auths       map[string]int
	revocations int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{logins: map[string]int{}, refreshes: map[string]int{}, auths: map[string]int{}}
}

func (r *fakeRecorder) RecordLogin(o string) {
	r.mu.Lock()
	r.logins[o]++
	r.mu.Unlock()
}

func (r *fakeRecorder) RecordRefresh(o string) {
	r.mu.Lock()
	r.refreshes[o]++
	r.mu.Unlock()
}

func (r *fakeRecorder) RecordAuthenticate(o string) {
	r.mu.Lock()
	r.auths[o]++
	r.mu.Unlock()
}

func (r *fakeRecorder) RecordRevocations(n int) {
	r.mu.Lock()
	r.revocations += n
	r.mu.Unlock()
}

func (r *fakeRecorder) RecordRPC(string, string, time.Duration) {}

// --- clock ---

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// --- harness ---

type harness struct {
	svc    *AuthService
	repo   *fakeUsersRepo
	store  *sessions.Store
	mr     *miniredis.Miniredis
	clock  *fakeClock
	rec    *fakeRecorder
	cfg    *config.Config
	issuer *auth.Issuer
	hasher *password.Hasher
}

type harnessOption func(h *harness)

// withStore lets a test wrap the real store.
func withStore(wrap func(SessionStore) SessionStore) harnessOption {
	return func(h *harness) {
		h.svc.sessions = wrap(h.svc.sessions)
	}
}

func withDB(db *sql.DB) harnessOption {
	return func(h *harness) { h.svc.db = db }
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.AccessTokenValidityDuration = 15 * time.Minute
	cfg.RefreshTokenValidityDuration = 24 * time.Hour
	cfg.RetryAttempts = 3
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxDelay = 2 * time.Millisecond
	return cfg
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	store := sessions.NewRedisStore(rdb, "test")

	clock := &fakeClock{t: time.Now().Truncate(time.Second)}
	key, err := auth.NewHMACKey("k1", []byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("NewHMACKey: %v", err)
	}
	ring, err := auth.NewKeyRing(key, auth.KeyRingOptions{Grace: time.Hour, Now: clock.Now})
	if err != nil {
		t.Fatalf("NewKeyRing: %v", err)
	}
	issuer, err := auth.NewIssuer(ring, auth.IssuerOptions{Issuer: "sessionkeeper", Now: clock.Now})
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	hasher, err := password.NewHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}

	repo := newFakeUsersRepo()
	rec := newFakeRecorder()
	cfg := testConfig()

	h := &harness{
		repo:   repo,
		store:  store,
		mr:     mr,
		clock:  clock,
		rec:    rec,
		cfg:    cfg,
		issuer: issuer,
		hasher: hasher,
	}
	h.svc = NewAuthService(nil, &fakeRepoManager{users: repo}, store, issuer, hasher, cfg, WithRecorder(rec))
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *harness) mustRegister(t *testing.T, handle, pw string) *models.User {
	t.Helper()
	u, err := h.svc.Register(context.Background(), handle, pw)
	if err != nil {
		t.Fatalf("Register(%q): %v", handle, err)
	}
	return u
}

func (h *harness) mustLogin(t *testing.T, handle, pw string) *TokenPair {
	t.Helper()
	p, err := h.svc.Login(context.Background(), handle, pw)
	if err != nil {
		t.Fatalf("Login(%q): %v", handle, err)
	}
	return p
}
