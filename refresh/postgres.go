package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the SQL-backed credential store, for deployments that
// already run Postgres and do not want a Redis dependency. Rotation relies
// on conditional UPDATE ... WHERE active for the single-winner guarantee;
// quota eviction locks the user's rows inside one transaction.
type PostgresStore struct {
	pool   *pgxpool.Pool
	config Config
}

// NewPostgresStore creates a [PostgresStore] on an existing connection pool.
// The pool stays owned by the caller; Close it yourself.
func NewPostgresStore(pool *pgxpool.Pool, cfg Config) *PostgresStore {
	return &PostgresStore{pool: pool, config: cfg}
}

// EnsureSchema creates the credentials table and indexes if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS refresh_credentials (
    id           TEXT PRIMARY KEY,
    user_id      TEXT NOT NULL,
    secret_hash  BYTEA NOT NULL,
    user_agent   TEXT NOT NULL DEFAULT '',
    ip           TEXT NOT NULL DEFAULT '',
    device_class TEXT NOT NULL DEFAULT 'unknown',
    active       BOOLEAN NOT NULL DEFAULT TRUE,
    created_at   TIMESTAMPTZ NOT NULL,
    last_used_at TIMESTAMPTZ NOT NULL,
    expires_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS refresh_credentials_user_idx
    ON refresh_credentials (user_id, created_at);
`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Create inserts a new active record, deactivating the user's oldest active
// records beyond the quota inside the same transaction.
func (s *PostgresStore) Create(ctx context.Context, userID, id string, secretHash [32]byte, device DeviceInfo) (*Record, error) {
	now := time.Now()
	expiresAt := now.Add(s.config.TTL)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback(ctx)

	if s.config.MaxActivePerUser > 0 {
		// Lock the user's active rows so concurrent creates serialize on
		// quota enforcement. Newest-first with OFFSET skips the quota-1 most
		// recent credentials and deactivates the older remainder, so the
		// insert below lands within the cap.
		const evict = `
UPDATE refresh_credentials SET active = FALSE
WHERE id IN (
    SELECT id FROM refresh_credentials
    WHERE user_id = $1 AND active AND expires_at > $2
    ORDER BY created_at DESC
    OFFSET $3
    FOR UPDATE
)`
		if _, err := tx.Exec(ctx, evict, userID, now, s.config.MaxActivePerUser-1); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	const insert = `
INSERT INTO refresh_credentials
    (id, user_id, secret_hash, user_agent, ip, device_class, active, created_at, last_used_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7, $7, $8)`
	_, err = tx.Exec(ctx, insert,
		id, userID, secretHash[:], device.UserAgent, device.IP, string(device.Class), now, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return &Record{
		ID:         id,
		UserID:     userID,
		Device:     device,
		Active:     true,
		CreatedAt:  now,
		LastUsedAt: now,
		ExpiresAt:  expiresAt,
	}, nil
}

// Redeem validates and touches the credential, rotating it when replacement
// is non-nil. The deactivating UPDATE is conditional on active = TRUE, so of
// two concurrent rotations exactly one wins and the other sees [ErrInactive].
func (s *PostgresStore) Redeem(ctx context.Context, id string, providedHash [32]byte, replacement *Replacement) (*Record, error) {
	now := time.Now()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback(ctx)

	rec := &Record{ID: id}
	var storedHash []byte
	var class string
	const get = `
SELECT user_id, secret_hash, user_agent, ip, device_class, active, created_at, expires_at
FROM refresh_credentials WHERE id = $1
FOR UPDATE`
	err = tx.QueryRow(ctx, get, id).Scan(
		&rec.UserID, &storedHash, &rec.Device.UserAgent, &rec.Device.IP,
		&class, &rec.Active, &rec.CreatedAt, &rec.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	rec.Device.Class = DeviceClass(class)

	if !rec.ExpiresAt.After(now) {
		if _, err := tx.Exec(ctx, `DELETE FROM refresh_credentials WHERE id = $1`, id); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return nil, ErrExpired
	}
	if !rec.Active {
		return nil, ErrInactive
	}
	if len(storedHash) != len(providedHash) || !hashEqual(storedHash, providedHash) {
		return nil, ErrSecretMismatch
	}

	if replacement == nil {
		if _, err := tx.Exec(ctx, `UPDATE refresh_credentials SET last_used_at = $2 WHERE id = $1`, id, now); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		rec.LastUsedAt = now
		return rec, nil
	}

	// Conditional deactivation is the CAS: a second rotation finds the row
	// already inactive and gets zero rows here.
	tag, err := tx.Exec(ctx,
		`UPDATE refresh_credentials SET active = FALSE, last_used_at = $2 WHERE id = $1 AND active`, id, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrInactive
	}

	const insert = `
INSERT INTO refresh_credentials
    (id, user_id, secret_hash, user_agent, ip, device_class, active, created_at, last_used_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7, $7, $8)`
	_, err = tx.Exec(ctx, insert,
		replacement.ID, rec.UserID, replacement.SecretHash[:],
		rec.Device.UserAgent, rec.Device.IP, string(rec.Device.Class),
		now, now.Add(s.config.TTL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	rec.Active = false
	rec.LastUsedAt = now
	return rec, nil
}

// Deactivate sets active = false for the credential. Idempotent.
func (s *PostgresStore) Deactivate(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE refresh_credentials SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// DeactivateAll deactivates every active credential owned by the user and
// returns how many were active.
func (s *PostgresStore) DeactivateAll(ctx context.Context, userID string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE refresh_credentials SET active = FALSE WHERE user_id = $1 AND active`, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return int(tag.RowsAffected()), nil
}

// Get returns the record for a credential id, regardless of its active flag.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	rec := &Record{ID: id}
	var class string
	const get = `
SELECT user_id, user_agent, ip, device_class, active, created_at, last_used_at, expires_at
FROM refresh_credentials WHERE id = $1`
	err := s.pool.QueryRow(ctx, get, id).Scan(
		&rec.UserID, &rec.Device.UserAgent, &rec.Device.IP, &class,
		&rec.Active, &rec.CreatedAt, &rec.LastUsedAt, &rec.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	rec.Device.Class = DeviceClass(class)
	return rec, nil
}

// ListActive returns the user's currently usable credentials, oldest first.
func (s *PostgresStore) ListActive(ctx context.Context, userID string) ([]*Record, error) {
	const query = `
SELECT id, user_agent, ip, device_class, created_at, last_used_at, expires_at
FROM refresh_credentials
WHERE user_id = $1 AND active AND expires_at > $2
ORDER BY created_at ASC`
	rows, err := s.pool.Query(ctx, query, userID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec := &Record{UserID: userID, Active: true}
		var class string
		if err := rows.Scan(&rec.ID, &rec.Device.UserAgent, &rec.Device.IP, &class,
			&rec.CreatedAt, &rec.LastUsedAt, &rec.ExpiresAt); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		rec.Device.Class = DeviceClass(class)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return out, nil
}

// ActiveCount returns how many usable credentials the user holds.
func (s *PostgresStore) ActiveCount(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM refresh_credentials WHERE user_id = $1 AND active AND expires_at > $2`,
		userID, time.Now()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}

// Sweep deletes expired rows. Unlike Redis there is no key TTL, so this is
// the primary expiry mechanism for the Postgres backend.
func (s *PostgresStore) Sweep(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM refresh_credentials WHERE expires_at <= $1`, time.Now())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return int(tag.RowsAffected()), nil
}

func hashEqual(stored []byte, provided [32]byte) bool {
	var diff byte
	for i := range provided {
		diff |= stored[i] ^ provided[i]
	}
	return diff == 0
}
