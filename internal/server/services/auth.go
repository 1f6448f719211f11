// Package services contains the server-side business logic. AuthService
// ties the credential store, password hasher, token issuer and session
// cache together into login, authentication, refresh and logout.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/dbx"
	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/auth"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/config"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/password"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/repositories/repomanager"
)

// maxHandleLength bounds login handles; an email address cannot be longer.
const maxHandleLength = 320

// compensationTimeout bounds the revoke that undoes a half-finished login
// or refresh after the caller went away.
const compensationTimeout = 2 * time.Second

// SessionStore is the session cache as seen by AuthService.
type SessionStore interface {
	Register(ctx context.Context, rec *models.SessionRecord, ttl time.Duration) error
	Lookup(ctx context.Context, jti string) (*models.SessionRecord, error)
	Revoke(ctx context.Context, jti string) error
	RevokeIfActive(ctx context.Context, jti string) (bool, error)
	RevokeAllForUser(ctx context.Context, uid string) (int, error)
	ListForUser(ctx context.Context, uid string) ([]*models.SessionRecord, error)
}

// TokenPair is what a successful login or refresh hands back to the caller.
type TokenPair struct {
	UserID           string
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// ClientToken is a standalone short-lived access token, not paired with a
// refresh token.
type ClientToken struct {
	UserID    string
	Token     string
	ExpiresAt time.Time
}

// AuthService implements the session lifecycle. It holds no per-request
// state and is safe for concurrent use.
type AuthService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	sessions    SessionStore
	issuer      *auth.Issuer
	hasher      *password.Hasher
	log         logging.Logger
	metrics     metrics.Recorder

	accessTTL     time.Duration
	refreshTTL    time.Duration
	clientTTL     time.Duration
	leeway        time.Duration
	minPassword   int
	retryAttempts int
	retryBase     time.Duration
	retryMax      time.Duration
}

// Option customises an AuthService.
type Option func(*AuthService)

// WithLogger sets the logger; the default discards output.
func WithLogger(l logging.Logger) Option {
	return func(s *AuthService) { s.log = l.With("module", "auth") }
}

// WithRecorder sets the metrics sink.
func WithRecorder(r metrics.Recorder) Option {
	return func(s *AuthService) { s.metrics = r }
}

// NewAuthService constructs an AuthService from its collaborators and the
// server config.
func NewAuthService(
	db *sql.DB,
	m repomanager.RepositoryManager,
	sessions SessionStore,
	issuer *auth.Issuer,
	hasher *password.Hasher,
	cfg *config.Config,
	opts ...Option,
) *AuthService {
	s := &AuthService{
		db:            db,
		repomanager:   m,
		sessions:      sessions,
		issuer:        issuer,
		hasher:        hasher,
		log:           logging.NewNop(),
		metrics:       metrics.Nop(),
		accessTTL:     cfg.AccessTokenValidityDuration,
		refreshTTL:    cfg.RefreshTokenValidityDuration,
		clientTTL:     cfg.ClientTokenValidityDuration,
		leeway:        cfg.ClockSkew,
		minPassword:   cfg.MinPasswordLength,
		retryAttempts: max(cfg.RetryAttempts, 1),
		retryBase:     cfg.RetryBaseDelay,
		retryMax:      cfg.RetryMaxDelay,
	}
	if s.leeway == 0 {
		s.leeway = auth.DefaultLeeway
	}
	if s.clientTTL <= 0 {
		s.clientTTL = time.Minute
	}
	if s.retryBase <= 0 {
		s.retryBase = 50 * time.Millisecond
	}
	if s.retryMax < s.retryBase {
		s.retryMax = s.retryBase
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NormalizeHandle trims and lower-cases a login handle.
func NormalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimSpace(handle))
}

// Register creates an active user. Conflicts yield common.ErrDuplicateHandle;
// bad input yields common.ErrValidation.
func (s *AuthService) Register(ctx context.Context, handle, plaintext string) (*models.User, error) {
	handle = NormalizeHandle(handle)
	if handle == "" || len(handle) > maxHandleLength {
		return nil, fmt.Errorf("%w: handle must be 1..%d characters", common.ErrValidation, maxHandleLength)
	}

	hash, err := s.hashNew(plaintext)
	if err != nil {
		return nil, err
	}

	u, err := s.repomanager.Users(s.db).Create(ctx, &models.User{Handle: handle, PasswordHash: hash})
	if err != nil {
		return nil, fmt.Errorf("error creating user: %w", err)
	}
	s.log.Info(ctx, "user registered", "user_id", u.ID)
	return u, nil
}

// Login verifies credentials and starts a new session. Unknown handles and
// wrong passwords are indistinguishable: both yield
// common.ErrInvalidCredentials after the same amount of hashing work.
func (s *AuthService) Login(ctx context.Context, handle, plaintext string) (*TokenPair, error) {
	handle = NormalizeHandle(handle)

	var user *models.User
	err := s.retry(ctx, "lookup user", func(ctx context.Context) error {
		u, err := s.repomanager.Users(s.db).GetUserByLogin(ctx, handle)
		user = u
		return err
	})
	switch {
	case errors.Is(err, common.ErrorNotFound):
		s.hasher.Equalize(plaintext)
		s.metrics.RecordLogin(metrics.OutcomeInvalid)
		return nil, common.ErrInvalidCredentials
	case err != nil:
		s.metrics.RecordLogin(outcomeFor(err))
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	ok, err := s.hasher.Verify(plaintext, user.PasswordHash)
	if err != nil {
		s.log.Error(ctx, "stored password hash is unusable", "user_id", user.ID, "error", err)
	}
	if !ok {
		s.metrics.RecordLogin(metrics.OutcomeInvalid)
		return nil, common.ErrInvalidCredentials
	}
	if !user.Active() {
		s.metrics.RecordLogin(metrics.OutcomeDisabled)
		return nil, common.ErrAccountDisabled
	}

	s.upgradeHash(ctx, user, plaintext)

	pair, err := s.startSession(ctx, user.ID)
	if err != nil {
		s.metrics.RecordLogin(outcomeFor(err))
		return nil, err
	}
	s.metrics.RecordLogin(metrics.OutcomeSuccess)
	s.log.Info(ctx, "login", "user_id", user.ID)
	return pair, nil
}

// Authenticate checks an access token and returns its user id. Every
// rejection is reported as common.ErrUnauthenticated; the reason is logged.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (string, error) {
	claims, err := s.issuer.Verify(accessToken)
	if err != nil {
		return "", s.reject(ctx, s.metrics.RecordAuthenticate, "authenticate", "", err.Error())
	}
	if claims.Type != models.TokenTypeAccess {
		return "", s.reject(ctx, s.metrics.RecordAuthenticate, "authenticate", claims.ID, "not an access token")
	}

	var rec *models.SessionRecord
	err = s.retry(ctx, "lookup session", func(ctx context.Context) error {
		r, err := s.sessions.Lookup(ctx, claims.ID)
		rec = r
		return err
	})
	switch {
	case errors.Is(err, common.ErrSessionNotFound):
		return "", s.reject(ctx, s.metrics.RecordAuthenticate, "authenticate", claims.ID, "no session record")
	case err != nil:
		s.metrics.RecordAuthenticate(outcomeFor(err))
		return "", err
	case rec.Revoked:
		return "", s.reject(ctx, s.metrics.RecordAuthenticate, "authenticate", claims.ID, "session revoked")
	case rec.UserID != claims.Subject:
		return "", s.reject(ctx, s.metrics.RecordAuthenticate, "authenticate", claims.ID, "session belongs to another user")
	}

	s.metrics.RecordAuthenticate(metrics.OutcomeSuccess)
	return claims.Subject, nil
}

// Refresh exchanges a refresh token for a new pair. The old refresh token
// is revoked with an atomic compare-and-revoke, so of several concurrent
// calls with the same token exactly one succeeds. The access token minted
// alongside it is revoked too.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.issuer.Verify(refreshToken)
	if err != nil {
		return nil, s.reject(ctx, s.metrics.RecordRefresh, "refresh", "", err.Error())
	}
	if claims.Type != models.TokenTypeRefresh {
		return nil, s.reject(ctx, s.metrics.RecordRefresh, "refresh", claims.ID, "not a refresh token")
	}

	// Not retried: after an ambiguous failure the retry could observe its
	// own revoke and report the token as reused.
	won, err := s.sessions.RevokeIfActive(ctx, claims.ID)
	if err != nil {
		s.metrics.RecordRefresh(outcomeFor(err))
		return nil, err
	}
	if !won {
		s.log.Warn(ctx, "refresh token presented after rotation or revocation", "jti", claims.ID, "user_id", claims.Subject)
		return nil, s.reject(ctx, s.metrics.RecordRefresh, "refresh", claims.ID, "refresh token already used")
	}
	s.metrics.RecordRevocations(1)

	if claims.PairID != "" {
		s.revokeQuietly(ctx, claims.PairID)
	}

	user, err := s.userByID(ctx, claims.Subject)
	switch {
	case errors.Is(err, common.ErrorNotFound):
		return nil, s.reject(ctx, s.metrics.RecordRefresh, "refresh", claims.ID, "user no longer exists")
	case err != nil:
		s.metrics.RecordRefresh(outcomeFor(err))
		return nil, err
	case !user.Active():
		return nil, s.reject(ctx, s.metrics.RecordRefresh, "refresh", claims.ID, "account disabled")
	}

	pair, err := s.startSession(ctx, user.ID)
	if err != nil {
		s.metrics.RecordRefresh(outcomeFor(err))
		return nil, err
	}
	s.metrics.RecordRefresh(metrics.OutcomeSuccess)
	s.log.Debug(ctx, "refresh token rotated", "old_jti", claims.ID, "user_id", user.ID)
	return pair, nil
}

// Logout revokes the session of token and of its pair. It accepts expired
// tokens and is idempotent; only tokens that do not carry a valid signature
// are rejected.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	claims, err := s.issuer.VerifySignature(token)
	if err != nil {
		return s.reject(ctx, func(string) {}, "logout", "", err.Error())
	}

	ids := []string{claims.ID}
	if claims.PairID != "" {
		ids = append(ids, claims.PairID)
	}

	var errs []error
	for _, id := range ids {
		var won bool
		err := s.retry(ctx, "revoke session", func(ctx context.Context) error {
			var err error
			won, err = s.sessions.RevokeIfActive(ctx, id)
			return err
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("revoke %s: %w", id, err))
			continue
		}
		if won {
			s.metrics.RecordRevocations(1)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.log.Info(ctx, "logout", "jti", claims.ID, "user_id", claims.Subject)
	return nil
}

// IssueClientToken mints a short-lived access token for userID, meant for
// clients such as sockets that cannot refresh. It is registered like any
// other session, so logout, InvalidateAllSessions and DisableUser revoke it.
func (s *AuthService) IssueClientToken(ctx context.Context, userID string) (*ClientToken, error) {
	user, err := s.userByID(ctx, userID)
	switch {
	case errors.Is(err, common.ErrorNotFound):
		return nil, common.ErrUnauthenticated
	case err != nil:
		return nil, err
	case !user.Active():
		return nil, common.ErrAccountDisabled
	}

	tok, err := s.issuer.Issue(user.ID, models.TokenTypeAccess, s.clientTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: issue client token: %v", common.ErrorInternal, err)
	}
	if err := s.register(ctx, tok); err != nil {
		s.compensate(ctx, tok.ID)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		s.compensate(ctx, tok.ID)
		return nil, err
	}

	s.log.Debug(ctx, "client token issued", "jti", tok.ID, "user_id", user.ID)
	return &ClientToken{UserID: user.ID, Token: tok.Raw, ExpiresAt: tok.ExpiresAt}, nil
}

// InvalidateAllSessions revokes every session of userID and returns how
// many were active. Sessions registered concurrently with the call may
// survive it.
func (s *AuthService) InvalidateAllSessions(ctx context.Context, userID string) (int, error) {
	var total int
	err := s.retry(ctx, "revoke all sessions", func(ctx context.Context) error {
		n, err := s.sessions.RevokeAllForUser(ctx, userID)
		total += n
		return err
	})
	s.metrics.RecordRevocations(total)
	if err != nil {
		return total, fmt.Errorf("invalidate sessions: %w", err)
	}
	s.log.Info(ctx, "all sessions invalidated", "user_id", userID, "revoked", total)
	return total, nil
}

// ChangePassword replaces the password of userID after checking the old
// one, then invalidates all sessions.
func (s *AuthService) ChangePassword(ctx context.Context, userID, oldPlaintext, newPlaintext string) error {
	newHash, err := s.hashNew(newPlaintext)
	if err != nil {
		return err
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Users(tx)
		u, err := repo.LockByID(ctx, userID)
		if err != nil {
			return err
		}
		ok, err := s.hasher.Verify(oldPlaintext, u.PasswordHash)
		if err != nil {
			s.log.Error(ctx, "stored password hash is unusable", "user_id", userID, "error", err)
		}
		if !ok {
			return common.ErrInvalidCredentials
		}
		return repo.UpdatePassword(ctx, userID, newHash)
	})
	if err != nil {
		return fmt.Errorf("change password: %w", err)
	}

	s.log.Info(ctx, "password changed", "user_id", userID)
	_, err = s.InvalidateAllSessions(ctx, userID)
	return err
}

// DisableUser marks the account disabled and invalidates all its sessions.
func (s *AuthService) DisableUser(ctx context.Context, userID string) (int, error) {
	if err := s.setStatus(ctx, userID, models.StatusDisabled); err != nil {
		return 0, err
	}
	return s.InvalidateAllSessions(ctx, userID)
}

// EnableUser reactivates a disabled account. Old sessions stay revoked.
func (s *AuthService) EnableUser(ctx context.Context, userID string) error {
	return s.setStatus(ctx, userID, models.StatusActive)
}

// GetUser loads a user by id.
func (s *AuthService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	return s.userByID(ctx, userID)
}

// GetUserByHandle loads a user by login handle.
func (s *AuthService) GetUserByHandle(ctx context.Context, handle string) (*models.User, error) {
	handle = NormalizeHandle(handle)
	var user *models.User
	err := s.retry(ctx, "lookup user", func(ctx context.Context) error {
		u, err := s.repomanager.Users(s.db).GetUserByLogin(ctx, handle)
		user = u
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// ListSessions returns the session records still cached for userID.
func (s *AuthService) ListSessions(ctx context.Context, userID string) ([]*models.SessionRecord, error) {
	var recs []*models.SessionRecord
	err := s.retry(ctx, "list sessions", func(ctx context.Context) error {
		r, err := s.sessions.ListForUser(ctx, userID)
		recs = r
		return err
	})
	return recs, err
}

// --- helpers below ---

func (s *AuthService) hashNew(plaintext string) (string, error) {
	if len(plaintext) < s.minPassword {
		return "", fmt.Errorf("%w: %w", common.ErrValidation, common.ErrPasswordTooShort)
	}
	hash, err := s.hasher.Hash(plaintext)
	if errors.Is(err, common.ErrPasswordTooLong) {
		return "", fmt.Errorf("%w: %w", common.ErrValidation, err)
	}
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

// upgradeHash re-hashes with the configured cost after a successful login.
// Failure only delays the upgrade to the next login.
func (s *AuthService) upgradeHash(ctx context.Context, user *models.User, plaintext string) {
	if !s.hasher.NeedsRehash(user.PasswordHash) {
		return
	}
	hash, err := s.hasher.Hash(plaintext)
	if err != nil {
		s.log.Warn(ctx, "rehash failed", "user_id", user.ID, "error", err)
		return
	}
	if err := s.repomanager.Users(s.db).UpdatePassword(ctx, user.ID, hash); err != nil {
		s.log.Warn(ctx, "storing upgraded hash failed", "user_id", user.ID, "error", err)
		return
	}
	s.log.Info(ctx, "password hash upgraded", "user_id", user.ID, "cost", s.hasher.Cost())
}

func (s *AuthService) userByID(ctx context.Context, id string) (*models.User, error) {
	var user *models.User
	err := s.retry(ctx, "lookup user", func(ctx context.Context) error {
		u, err := s.repomanager.Users(s.db).GetByID(ctx, id)
		user = u
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *AuthService) setStatus(ctx context.Context, userID string, status models.Status) error {
	err := s.retry(ctx, "update status", func(ctx context.Context) error {
		return s.repomanager.Users(s.db).UpdateStatus(ctx, userID, status)
	})
	if err != nil {
		return fmt.Errorf("set status %s: %w", status, err)
	}
	s.log.Info(ctx, "account status changed", "user_id", userID, "status", status)
	return nil
}

// startSession issues a token pair and registers both tokens. If anything
// fails after a record was written, or the caller is gone by the time both
// were written, the records are revoked before returning so no live
// session exists whose tokens the caller never received.
func (s *AuthService) startSession(ctx context.Context, userID string) (*TokenPair, error) {
	access, refresh, err := s.issuer.IssuePair(userID, s.accessTTL, s.refreshTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: issue tokens: %v", common.ErrorInternal, err)
	}

	if err := s.register(ctx, access); err != nil {
		s.compensate(ctx, access.ID)
		return nil, err
	}
	if err := s.register(ctx, refresh); err != nil {
		s.compensate(ctx, access.ID, refresh.ID)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		s.compensate(ctx, access.ID, refresh.ID)
		return nil, err
	}

	return &TokenPair{
		UserID:           userID,
		AccessToken:      access.Raw,
		RefreshToken:     refresh.Raw,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, nil
}

// register is never retried: a timed out write may have landed.
func (s *AuthService) register(ctx context.Context, t *auth.Token) error {
	rec := &models.SessionRecord{
		TokenID:   t.ID,
		UserID:    t.Subject,
		Type:      t.Type,
		PairID:    t.PairID,
		ExpiresAt: t.ExpiresAt,
	}
	// The record outlives the token by the verification leeway, so a token
	// accepted under clock skew still finds its record.
	ttl := t.ExpiresAt.Sub(t.IssuedAt) + s.leeway
	if err := s.sessions.Register(ctx, rec, ttl); err != nil {
		return fmt.Errorf("register session: %w", err)
	}
	return nil
}

func (s *AuthService) compensate(ctx context.Context, ids ...string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()
	for _, id := range ids {
		if err := s.sessions.Revoke(cctx, id); err != nil {
			s.log.Error(ctx, "compensating revoke failed", "jti", id, "error", err)
		}
	}
}

// revokeQuietly revokes id and only logs failures.
func (s *AuthService) revokeQuietly(ctx context.Context, id string) {
	var won bool
	err := s.retry(ctx, "revoke session", func(ctx context.Context) error {
		var err error
		won, err = s.sessions.RevokeIfActive(ctx, id)
		return err
	})
	if err != nil {
		s.log.Warn(ctx, "revoke failed", "jti", id, "error", err)
		return
	}
	if won {
		s.metrics.RecordRevocations(1)
	}
}

// reject logs why a token was refused, records the outcome and returns the
// single error external callers see.
func (s *AuthService) reject(ctx context.Context, record func(string), op, jti, reason string) error {
	record(metrics.OutcomeRejected)
	s.log.Info(ctx, "token rejected", "op", op, "jti", jti, "reason", reason)
	return common.ErrUnauthenticated
}

func outcomeFor(err error) string {
	if errors.Is(err, common.ErrBackendUnavailable) {
		return metrics.OutcomeUnavailable
	}
	return metrics.OutcomeError
}
