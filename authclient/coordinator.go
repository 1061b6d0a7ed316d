package authclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/authcore-io/authcore/jwt"
)

// ErrRefreshFailed wraps the underlying error when a refresh call fails. The
// coordinator clears stored credentials on this path, so the caller must
// re-authenticate.
var ErrRefreshFailed = errors.New("authclient: refresh failed")

// DefaultSafetyMargin is how far before the access token's expiry a refresh
// is triggered.
const DefaultSafetyMargin = 5 * time.Minute

// RefreshFunc exchanges a refresh token for a new pair. Typically backed by
// [Client.RefreshTokens] or a direct engine call in-process.
type RefreshFunc func(ctx context.Context, refreshToken string) (Credentials, error)

// Coordinator serializes token refreshes for one client process. When N
// callers concurrently discover an expired access token, exactly one refresh
// call goes out; the rest suspend and share its outcome. Without this,
// concurrent refreshes race against server-side rotation and invalidate each
// other.
type Coordinator struct {
	store   CredentialStore
	refresh RefreshFunc
	margin  time.Duration
	now     func() time.Time

	mu       sync.Mutex
	inflight *refreshCall
}

// refreshCall is one in-flight refresh shared by every waiter that arrived
// while it was outstanding.
type refreshCall struct {
	done  chan struct{}
	creds Credentials
	err   error
}

// Option adjusts coordinator behavior.
type Option func(*Coordinator)

// WithSafetyMargin overrides [DefaultSafetyMargin].
func WithSafetyMargin(margin time.Duration) Option {
	return func(c *Coordinator) {
		if margin >= 0 {
			c.margin = margin
		}
	}
}

// NewCoordinator creates a refresh coordinator over the given store and
// refresh call.
func NewCoordinator(store CredentialStore, refresh RefreshFunc, opts ...Option) (*Coordinator, error) {
	if store == nil {
		return nil, errors.New("authclient: nil credential store")
	}
	if refresh == nil {
		return nil, errors.New("authclient: nil refresh func")
	}

	c := &Coordinator{
		store:   store,
		refresh: refresh,
		margin:  DefaultSafetyMargin,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// EnsureValidToken returns an access token that is good for at least the
// safety margin, refreshing if needed. Callers arriving while a refresh is in
// flight suspend and receive that refresh's result; concurrent callers in the
// same window never observe a mix of old and new tokens.
//
// A failed refresh clears the stored credentials and surfaces
// [ErrRefreshFailed] to every waiter.
func (c *Coordinator) EnsureValidToken(ctx context.Context) (string, error) {
	creds, err := c.store.Load(ctx)
	if err != nil {
		return "", err
	}

	// The unverified expiry is used only to decide when to refresh, never as
	// a trust decision; the server re-verifies everything.
	if exp, err := jwt.DecodeExpiryUnverified(creds.AccessToken); err == nil {
		if exp.Sub(c.now()) > c.margin {
			return creds.AccessToken, nil
		}
	}

	call, initiator := c.join()
	if initiator {
		c.run(ctx, call)
	}

	select {
	case <-call.done:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	if call.err != nil {
		return "", call.err
	}
	return call.creds.AccessToken, nil
}

// join returns the in-flight call, creating one if none exists. The second
// return reports whether this caller must execute the refresh.
func (c *Coordinator) join() (*refreshCall, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inflight != nil {
		return c.inflight, false
	}

	call := &refreshCall{done: make(chan struct{})}
	c.inflight = call
	return call, true
}

func (c *Coordinator) run(ctx context.Context, call *refreshCall) {
	defer func() {
		c.mu.Lock()
		c.inflight = nil
		c.mu.Unlock()
		close(call.done)
	}()

	// Re-read the store under this flight. The caller's pre-join snapshot may
	// predate a refresh that completed in between; dialing with that snapshot's
	// refresh token would race server-side rotation and get rejected.
	creds, err := c.store.Load(ctx)
	if err != nil {
		call.err = err
		return
	}
	if exp, err := jwt.DecodeExpiryUnverified(creds.AccessToken); err == nil {
		if exp.Sub(c.now()) > c.margin {
			call.creds = creds
			return
		}
	}

	fresh, err := c.refresh(ctx, creds.RefreshToken)
	if err != nil {
		// Forced logout: a refresh rejection is terminal, the credential is
		// gone server-side and keeping a local copy only masks that.
		_ = c.store.Clear(ctx)
		call.err = fmt.Errorf("%w: %v", ErrRefreshFailed, err)
		return
	}
	if err := c.store.Store(ctx, fresh); err != nil {
		call.err = fmt.Errorf("%w: %v", ErrRefreshFailed, err)
		return
	}
	call.creds = fresh
}

// StartProactiveRefresh runs EnsureValidToken on a timer so interactive
// callers rarely hit the suspension branch. The returned stop function is
// idempotent and blocks until the background goroutine exits.
func (c *Coordinator) StartProactiveRefresh(interval time.Duration) (stop func()) {
	if interval <= 0 {
		return func() {}
	}

	quit := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				// Errors are surfaced to the next interactive caller via the
				// cleared store; nothing useful to do with them here.
				_, _ = c.EnsureValidToken(context.Background())
			case <-quit:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(quit)
			<-done
		})
	}
}
