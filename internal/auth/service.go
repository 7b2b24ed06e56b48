package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultAccessTTL   = 15 * time.Minute
	defaultRefreshTTL  = 7 * 24 * time.Hour
	defaultMaxAttempts = 5
	defaultLockWindow  = 15 * time.Minute
)

// Store is the credential persistence consumed by the session service.
// *Repository is the Postgres implementation.
type Store interface {
	GetUserByUsername(ctx context.Context, username string) (User, error)
	GetUserByID(ctx context.Context, id int64) (User, error)
	CreateUser(ctx context.Context, username string, email *string, passwordHash, role string) (User, error)
	RegisterFailedAttempt(ctx context.Context, userID int64, maxAttempts int, lockDuration time.Duration, now time.Time) (*time.Time, error)
	ResetLoginState(ctx context.Context, userID int64) error
	CreateRefreshToken(ctx context.Context, userID int64, tokenHash string, expiresAt time.Time) error
	GetRefreshToken(ctx context.Context, tokenHash string) (RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, tokenHash string) error
	RotateRefreshToken(ctx context.Context, oldHash, newHash string, newExpiresAt, now time.Time) (int64, error)
}

var _ Store = (*Repository)(nil)

// Service orchestrates Login, Refresh and Logout across the lockout policy,
// the password hasher, the token issuer and the credential store. It holds no
// persisted state of its own.
type Service struct {
	store         Store
	hasher        *Hasher
	issuer        *TokenIssuer
	refreshTTL    time.Duration
	maxAttempts   int
	lockDuration  time.Duration
	rotateRefresh bool
	now           func() time.Time
}

func NewService(store Store, jwtSecret string) *Service {
	return &Service{
		store:        store,
		hasher:       NewHasher(Argon2Params{}),
		issuer:       NewTokenIssuer(jwtSecret, defaultAccessTTL),
		refreshTTL:   defaultRefreshTTL,
		maxAttempts:  defaultMaxAttempts,
		lockDuration: defaultLockWindow,
		now:          time.Now,
	}
}

func (s *Service) WithSecurityConfig(maxAttempts int, lockDuration, accessTTL, refreshTTL time.Duration) {
	if maxAttempts > 0 {
		s.maxAttempts = maxAttempts
	}
	if lockDuration > 0 {
		s.lockDuration = lockDuration
	}
	if accessTTL > 0 {
		s.issuer.accessTTL = accessTTL
	}
	if refreshTTL > 0 {
		s.refreshTTL = refreshTTL
	}
}

// WithHasher replaces the password hasher, e.g. to tune Argon2 cost.
func (s *Service) WithHasher(h *Hasher) {
	if h != nil {
		s.hasher = h
	}
}

// WithRotation switches Refresh to atomically revoke the presented refresh
// token and issue a replacement. Off by default; the baseline behavior
// re-uses the presented token for its full lifetime.
func (s *Service) WithRotation(enabled bool) {
	s.rotateRefresh = enabled
}

// WithClock overrides the time source for the service and its issuer.
func (s *Service) WithClock(now func() time.Time) {
	if now != nil {
		s.now = now
		s.issuer.WithClock(now)
	}
}

func (s *Service) RefreshTTL() time.Duration {
	return s.refreshTTL
}

// Login authenticates username/password and issues one access token plus one
// refresh token. A lockout check gates the slow hash; a wrong password and an
// unknown username both come back as ErrInvalidCredentials so callers cannot
// enumerate accounts.
func (s *Service) Login(ctx context.Context, username, password string) (Session, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	if username == "" || password == "" {
		return Session{}, ErrInvalidCredentials
	}

	now := s.now().UTC()
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, err
	}
	if !user.IsActive {
		return Session{}, ErrInvalidCredentials
	}

	if user.LockedUntil != nil && now.Before(*user.LockedUntil) {
		return Session{}, ErrAccountLocked{Until: *user.LockedUntil}
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		lockedUntil, regErr := s.store.RegisterFailedAttempt(ctx, user.ID, s.maxAttempts, s.lockDuration, now)
		if regErr != nil {
			return Session{}, regErr
		}
		if lockedUntil != nil {
			return Session{}, ErrAccountLocked{Until: *lockedUntil}
		}
		return Session{}, ErrInvalidCredentials
	}

	if err := s.store.ResetLoginState(ctx, user.ID); err != nil {
		return Session{}, err
	}

	access, expiresIn, err := s.issuer.IssueAccess(user.ID, user.Role)
	if err != nil {
		return Session{}, err
	}

	rawRefresh, err := NewRefreshToken()
	if err != nil {
		return Session{}, err
	}
	refreshExpiry := now.Add(s.refreshTTL)

	// Persist before responding so a stored-but-unreturned token is the worst
	// possible partial state.
	if err := s.store.CreateRefreshToken(ctx, user.ID, HashRefreshToken(rawRefresh), refreshExpiry); err != nil {
		return Session{}, err
	}

	return Session{
		UserID:           user.ID,
		Username:         user.Username,
		Role:             user.Role,
		AccessToken:      access,
		ExpiresIn:        expiresIn,
		RefreshToken:     rawRefresh,
		RefreshExpiresAt: refreshExpiry,
	}, nil
}

// Refresh validates the presented refresh token against the store and mints
// a new access token for the same user.
func (s *Service) Refresh(ctx context.Context, rawRefresh string) (Session, error) {
	rawRefresh = strings.TrimSpace(rawRefresh)
	if rawRefresh == "" {
		return Session{}, ErrInvalidRefreshToken
	}

	now := s.now().UTC()

	var userID int64
	var newRaw string
	var newExpiry time.Time

	if s.rotateRefresh {
		candidate, err := NewRefreshToken()
		if err != nil {
			return Session{}, err
		}
		newExpiry = now.Add(s.refreshTTL)
		userID, err = s.store.RotateRefreshToken(ctx, HashRefreshToken(rawRefresh), HashRefreshToken(candidate), newExpiry, now)
		if err != nil {
			return Session{}, err
		}
		newRaw = candidate
	} else {
		record, err := s.store.GetRefreshToken(ctx, HashRefreshToken(rawRefresh))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return Session{}, ErrInvalidRefreshToken
			}
			return Session{}, err
		}
		if record.Revoked || now.After(record.ExpiresAt) {
			return Session{}, ErrInvalidRefreshToken
		}
		userID = record.UserID
	}

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrInvalidRefreshToken
		}
		return Session{}, err
	}
	if !user.IsActive {
		return Session{}, ErrInvalidRefreshToken
	}

	access, expiresIn, err := s.issuer.IssueAccess(user.ID, user.Role)
	if err != nil {
		return Session{}, err
	}

	return Session{
		UserID:           user.ID,
		Username:         user.Username,
		Role:             user.Role,
		AccessToken:      access,
		ExpiresIn:        expiresIn,
		RefreshToken:     newRaw,
		RefreshExpiresAt: newExpiry,
	}, nil
}

// Logout revokes the presented refresh token. It is idempotent: an unknown,
// expired or already-revoked token is not an error. A store failure is
// returned so the caller can report it, but the HTTP surface still answers
// ok since the client's intent to drop the session stands either way.
func (s *Service) Logout(ctx context.Context, rawRefresh string) error {
	rawRefresh = strings.TrimSpace(rawRefresh)
	if rawRefresh == "" {
		return nil
	}

	return s.store.RevokeRefreshToken(ctx, HashRefreshToken(rawRefresh))
}

// User loads the account behind an authenticated request.
func (s *Service) User(ctx context.Context, id int64) (User, error) {
	return s.store.GetUserByID(ctx, id)
}

// CreateUser registers an account with a freshly hashed password. Used by
// the seed/bootstrap path; account self-service lives outside this service.
func (s *Service) CreateUser(ctx context.Context, username, password, role string, email *string) (User, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	if username == "" || password == "" {
		return User{}, fmt.Errorf("username and password are required")
	}
	if !ValidRole(role) {
		return User{}, fmt.Errorf("unknown role %q", role)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	return s.store.CreateUser(ctx, username, email, hash, role)
}

var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")
	ErrUnauthorized        = errors.New("invalid or expired access token")
)

// ErrAccountLocked is returned while the lockout window is active, including
// on the attempt that triggered it.
type ErrAccountLocked struct {
	Until time.Time
}

func (e ErrAccountLocked) Error() string {
	return "account temporarily locked"
}
