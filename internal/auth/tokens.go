// Package auth issues and verifies the bearer credentials accepted by the
// messages service. Tokens take the form "<id>.<secret>"; only a salted
// PBKDF2 hash of the secret half is stored.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"

	"hostelhub/internal/models"
)

const (
	tokenSecretLength   = 32
	tokenSaltLength     = 16
	tokenHashIterations = 120000
	tokenHashKeyLength  = 32
)

// ErrInvalidToken is returned for credentials that are missing, malformed,
// unknown, or fail the hash comparison. Callers surface it uniformly so a
// probe cannot distinguish the cases.
var ErrInvalidToken = errors.New("invalid api token")

// Mint creates a new API token bound to a user. The returned plaintext is the
// only time the full credential is available; the stored record carries just
// the salt and hash.
func Mint(label, userID string) (string, models.APIToken, error) {
	if strings.TrimSpace(userID) == "" {
		return "", models.APIToken{}, fmt.Errorf("user id is required")
	}
	secretBytes := make([]byte, tokenSecretLength)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", models.APIToken{}, fmt.Errorf("generate token secret: %w", err)
	}
	saltBytes := make([]byte, tokenSaltLength)
	if _, err := rand.Read(saltBytes); err != nil {
		return "", models.APIToken{}, fmt.Errorf("generate token salt: %w", err)
	}
	secret := hex.EncodeToString(secretBytes)
	token := models.APIToken{
		ID:         uuid.NewString(),
		Label:      strings.TrimSpace(label),
		UserID:     strings.TrimSpace(userID),
		Salt:       hex.EncodeToString(saltBytes),
		SecretHash: hashSecret(secret, saltBytes),
		CreatedAt:  time.Now().UTC(),
	}
	return token.ID + "." + secret, token, nil
}

// TokenSource resolves stored token records by id.
type TokenSource interface {
	LookupToken(ctx context.Context, id string) (models.APIToken, bool, error)
}

// Verifier checks presented bearer credentials against a TokenSource.
type Verifier struct {
	source TokenSource
}

// NewVerifier wires a verifier to its token source.
func NewVerifier(source TokenSource) *Verifier {
	return &Verifier{source: source}
}

// Verify parses and checks a presented credential, returning the stored token
// record on success.
func (v *Verifier) Verify(ctx context.Context, presented string) (models.APIToken, error) {
	id, secret, ok := splitToken(presented)
	if !ok {
		return models.APIToken{}, ErrInvalidToken
	}
	token, found, err := v.source.LookupToken(ctx, id)
	if err != nil {
		return models.APIToken{}, fmt.Errorf("lookup token: %w", err)
	}
	if !found {
		return models.APIToken{}, ErrInvalidToken
	}
	salt, err := hex.DecodeString(token.Salt)
	if err != nil {
		return models.APIToken{}, ErrInvalidToken
	}
	expected, err := hex.DecodeString(token.SecretHash)
	if err != nil {
		return models.APIToken{}, ErrInvalidToken
	}
	computed := pbkdf2.Key([]byte(secret), salt, tokenHashIterations, tokenHashKeyLength, sha256.New)
	if subtle.ConstantTimeCompare(computed, expected) != 1 {
		return models.APIToken{}, ErrInvalidToken
	}
	return token, nil
}

func splitToken(presented string) (id, secret string, ok bool) {
	trimmed := strings.TrimSpace(presented)
	parts := strings.SplitN(trimmed, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func hashSecret(secret string, salt []byte) string {
	return hex.EncodeToString(pbkdf2.Key([]byte(secret), salt, tokenHashIterations, tokenHashKeyLength, sha256.New))
}
