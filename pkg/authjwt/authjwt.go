// Package authjwt implements the basic-auth callback: verifying that a
// websocket client's JWT password matches the permission token embedded in
// its username, signed by the claiming account's secret.
package authjwt

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/transitiverobotics/mqtt-aclmeter/pkg/permission"
)

// ErrAuthFailed is returned for every verification failure. The caller
// (the ACL hook's OnConnectAuthenticate) never needs to distinguish one
// failure mode from another — any failure here means the broker rejects the
// connection — so Verify collapses all of them to this one sentinel wrapped
// with context for logging.
var ErrAuthFailed = errors.New("authjwt: authentication failed")

// SecretLookup resolves an account id to its JWT signing secret. It returns
// ok=false if the account is unknown or has no secret configured. Verify
// does not refresh anything itself: the lookup implementation is expected
// to have already attempted a cache refresh and retry before reporting
// ok=false (in production, account.Cache.EnsureSecret, which the ACL hook
// receives as its ResolveSecret function).
type SecretLookup func(accountID string) (secret string, ok bool)

// Verify checks a websocket client's credentials: usernameJSON is the raw
// JSON document carried as the MQTT username, password is the JWT string
// carried as the MQTT password. now is the verifier's clock, taken as a
// parameter so tests don't race real time.
func Verify(usernameJSON, password string, lookup SecretLookup, now int64) error {
	if usernameJSON == "" || password == "" {
		return fmt.Errorf("%w: missing username or password", ErrAuthFailed)
	}

	tok, err := permission.ParseToken(usernameJSON)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}

	secret, ok := lookup(tok.ID)
	if !ok || secret == "" {
		return fmt.Errorf("%w: unknown account or missing secret: %s", ErrAuthFailed, tok.ID)
	}

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(password, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return fmt.Errorf("%w: jwt verify: %v", ErrAuthFailed, err)
	}

	decodedPayload, ok := claims["payload"]
	if !ok {
		return fmt.Errorf("%w: jwt missing payload claim", ErrAuthFailed)
	}
	if !permission.StructurallyEqual(decodedPayload, tok.RawPayload()) {
		return fmt.Errorf("%w: jwt payload does not match username payload", ErrAuthFailed)
	}

	if _, hasIAT := tok.RawPayload()["iat"]; !hasIAT {
		return fmt.Errorf("%w: payload missing iat", ErrAuthFailed)
	}
	if _, hasValidity := tok.RawPayload()["validity"]; !hasValidity {
		return fmt.Errorf("%w: payload missing validity", ErrAuthFailed)
	}
	if tok.Payload.IAT+tok.Payload.Validity <= now {
		return fmt.Errorf("%w: token expired", ErrAuthFailed)
	}

	return nil
}
