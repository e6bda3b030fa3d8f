// Package auth verifies the storefront's session token. Tokens are issued by
// the account service; this API only checks them and resolves the user id.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/common"
)

// ClaimUserID is the private claim carrying the user id. The standard "sub"
// claim is accepted when it is absent.
const ClaimUserID = "userId"

// Verifier validates HS256 tokens signed with a shared secret.
type Verifier struct {
	secret    []byte
	validator TokenValidator
	now       func() time.Time
}

// NewVerifier builds a verifier. The secret must be non-empty.
func NewVerifier(secret string, validator TokenValidator) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: jwt secret is required")
	}
	return &Verifier{secret: []byte(secret), validator: validator, now: time.Now}, nil
}

// WithNow overrides the clock.
func (v *Verifier) WithNow(now func() time.Time) {
	if now != nil {
		v.now = now
	}
}

// Verify checks token and returns the user id it carries.
func (v *Verifier) Verify(token string) (string, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return "", common.Unauthorized("missing token")
	}
	algorithm, err := tokenAlgorithm(trimmed)
	if err != nil {
		return "", invalid(err)
	}
	if algorithm != v.validator.algorithm() {
		return "", invalid(fmt.Errorf("unexpected token algorithm %s", algorithm))
	}
	parsed, err := jwt.ParseString(trimmed, jwt.WithKey(algorithm, v.secret), jwt.WithValidate(false))
	if err != nil {
		return "", invalid(err)
	}
	userID, err := v.validator.Validate(parsed, v.now())
	if err != nil {
		return "", invalid(err)
	}
	return userID, nil
}

// Issue signs a token for userID. Used by tooling and tests; production
// tokens come from the account service.
func (v *Verifier) Issue(userID string, ttl time.Duration) (string, error) {
	now := v.now()
	tok, err := jwt.NewBuilder().
		Subject(userID).
		Claim(ClaimUserID, userID).
		IssuedAt(now).
		Expiration(now.Add(ttl)).
		Build()
	if err != nil {
		return "", err
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(v.validator.algorithm(), v.secret))
	if err != nil {
		return "", err
	}
	return string(signed), nil
}

func invalid(err error) error {
	appErr := common.Unauthorized("invalid token")
	appErr.Err = err
	return appErr
}

func tokenAlgorithm(token string) (jwa.SignatureAlgorithm, error) {
	message, err := jws.ParseString(token)
	if err != nil {
		return "", err
	}
	signatures := message.Signatures()
	if len(signatures) != 1 {
		return "", errors.New("auth: token must carry exactly one signature")
	}
	headers := signatures[0].ProtectedHeaders()
	if headers == nil {
		return "", errors.New("auth: token missing protected headers")
	}
	alg := headers.Algorithm()
	switch alg {
	case "":
		return "", errors.New("auth: token missing algorithm")
	case jwa.NoSignature:
		return "", errors.New("auth: token uses none algorithm")
	}
	return alg, nil
}
