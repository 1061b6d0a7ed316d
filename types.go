package authcore

import (
	"context"
	"time"

	"github.com/authcore-io/authcore/refresh"
)

// UserRecord is the account record returned by [UserProvider]. The engine
// never stores users itself; this is its full view of one.
type UserRecord struct {
	UserID        string
	Identifier    string
	PasswordHash  string
	Role          string
	EmailVerified bool
	// Active is false for deactivated accounts. A deactivated account can
	// neither log in, refresh, nor authenticate with an existing token.
	Active bool
	// PasswordChangedAt is the time of the most recent password change,
	// zero if the password never changed. Access tokens issued before it
	// are rejected.
	PasswordChangedAt time.Time
}

// UserProvider is the interface callers implement to connect the engine to
// their user database.
type UserProvider interface {
	GetUserByIdentifier(ctx context.Context, identifier string) (UserRecord, error)
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
	// UpdatePasswordHash persists a new hash. changedAt becomes the account's
	// PasswordChangedAt; transparent rehashes pass the existing value so
	// outstanding access tokens stay valid.
	UpdatePasswordHash(ctx context.Context, userID, newHash string, changedAt time.Time) error
}

// CredentialStore is the refresh-credential persistence interface.
// [refresh.Store] (Redis) and [refresh.PostgresStore] both satisfy it.
type CredentialStore interface {
	Create(ctx context.Context, userID, id string, secretHash [32]byte, device refresh.DeviceInfo) (*refresh.Record, error)
	Redeem(ctx context.Context, id string, providedHash [32]byte, replacement *refresh.Replacement) (*refresh.Record, error)
	Deactivate(ctx context.Context, id string) error
	DeactivateAll(ctx context.Context, userID string) (int, error)
	Get(ctx context.Context, id string) (*refresh.Record, error)
	ListActive(ctx context.Context, userID string) ([]*refresh.Record, error)
	ActiveCount(ctx context.Context, userID string) (int, error)
	Sweep(ctx context.Context) (int, error)
}

// TokenPair is one issued access + refresh pair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	// AccessExpiresIn is the access token's lifetime at issuance.
	AccessExpiresIn time.Duration
}

// AuthResult is returned by [Engine.Authenticate] for a valid access token.
type AuthResult struct {
	UserID        string
	Role          string
	EmailVerified bool
	IssuedAt      time.Time
}

// SessionInfo describes one active refresh credential, for "your devices"
// style listings. The credential secret is never exposed.
type SessionInfo struct {
	CredentialID string
	Device       refresh.DeviceInfo
	CreatedAt    time.Time
	LastUsedAt   time.Time
	ExpiresAt    time.Time
}
