package authjwt

import (
	"fmt"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "shh-its-a-secret"

func signedJWT(t *testing.T, secret string, payload map[string]any) string {
	t.Helper()
	claims := jwt.MapClaims{"payload": payload}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func lookup(secret string) SecretLookup {
	return func(accountID string) (string, bool) {
		if accountID != "user1" {
			return "", false
		}
		return secret, true
	}
}

func TestVerify_Success(t *testing.T) {
	now := int64(1_700_000_000)
	payload := map[string]any{
		"id": "user1", "device": "dev1", "capability": "@scope/capName",
		"iat": float64(now), "validity": float64(1000),
	}
	password := signedJWT(t, testSecret, payload)
	username := fmt.Sprintf(`{"id":"user1","payload":{"id":"user1","device":"dev1","capability":"@scope/capName","iat":%d,"validity":1000}}`, now)

	err := Verify(username, password, lookup(testSecret), now)
	assert.NoError(t, err)
}

func TestVerify_MissingCredentials(t *testing.T) {
	assert.ErrorIs(t, Verify("", "x", lookup(testSecret), 0), ErrAuthFailed)
	assert.ErrorIs(t, Verify("x", "", lookup(testSecret), 0), ErrAuthFailed)
}

func TestVerify_UnknownAccount(t *testing.T) {
	username := `{"id":"nobody","payload":{"id":"nobody"}}`
	err := Verify(username, "anything", lookup(testSecret), 0)
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestVerify_WrongSigningSecret(t *testing.T) {
	now := int64(1_700_000_000)
	payload := map[string]any{"id": "user1", "iat": float64(now), "validity": float64(1000)}
	password := signedJWT(t, "wrong-secret", payload)
	username := fmt.Sprintf(`{"id":"user1","payload":{"id":"user1","iat":%d,"validity":1000}}`, now)

	err := Verify(username, password, lookup(testSecret), now)
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestVerify_PayloadMismatch(t *testing.T) {
	now := int64(1_700_000_000)
	jwtPayload := map[string]any{"id": "user1", "device": "dev1", "iat": float64(now), "validity": float64(1000)}
	password := signedJWT(t, testSecret, jwtPayload)
	username := fmt.Sprintf(`{"id":"user1","payload":{"id":"user1","device":"dev2","iat":%d,"validity":1000}}`, now)

	err := Verify(username, password, lookup(testSecret), now)
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestVerify_ExpiredToken(t *testing.T) {
	now := int64(1_700_000_000)
	iat := now - 2000
	payload := map[string]any{"id": "user1", "iat": float64(iat), "validity": float64(1000)}
	password := signedJWT(t, testSecret, payload)
	username := fmt.Sprintf(`{"id":"user1","payload":{"id":"user1","iat":%d,"validity":1000}}`, iat)

	err := Verify(username, password, lookup(testSecret), now)
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestVerify_MissingIATOrValidityInUsernamePayload(t *testing.T) {
	now := int64(1_700_000_000)
	payload := map[string]any{"id": "user1"}
	password := signedJWT(t, testSecret, payload)
	username := `{"id":"user1","payload":{"id":"user1"}}`

	err := Verify(username, password, lookup(testSecret), now)
	assert.ErrorIs(t, err, ErrAuthFailed)
}
