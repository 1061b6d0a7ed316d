package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"

	"github.com/google/uuid"
)

const (
	refreshSecretSize   = 32
	refreshTokenRawSize = 16 + refreshSecretSize
)

// ErrTokenMalformed is returned when an opaque refresh token cannot be decoded.
var ErrTokenMalformed = errors.New("malformed refresh token")

// NewCredentialID returns a fresh random credential identifier. The canonical
// UUID string form is used as the store key; the raw 16 bytes are packed into
// the opaque token.
func NewCredentialID() string {
	return uuid.NewString()
}

func NewRefreshSecret() ([refreshSecretSize]byte, error) {
	var secret [refreshSecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

// HashRefreshSecret is the only form of the secret that is ever persisted.
func HashRefreshSecret(secret [refreshSecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

// EncodeRefreshToken packs credential id and secret into one opaque string:
// base64url(id[16] || secret[32]), no padding.
func EncodeRefreshToken(credentialID string, secret [refreshSecretSize]byte) (string, error) {
	id, err := uuid.Parse(credentialID)
	if err != nil {
		return "", err
	}

	var raw [refreshTokenRawSize]byte
	copy(raw[:16], id[:])
	copy(raw[16:], secret[:])

	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// DecodeRefreshToken splits an opaque token back into credential id and secret.
// It never touches the store; a syntactically valid token says nothing about
// whether the credential is still active.
func DecodeRefreshToken(token string) (string, [refreshSecretSize]byte, error) {
	var secret [refreshSecretSize]byte

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", secret, ErrTokenMalformed
	}
	if len(raw) != refreshTokenRawSize {
		return "", secret, ErrTokenMalformed
	}

	var id uuid.UUID
	copy(id[:], raw[:16])
	copy(secret[:], raw[16:])

	return id.String(), secret, nil
}
