package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// TokenValidator is the claim policy for storefront session tokens. The
// account service signs them without iss or aud, so Issuer and Audience are
// only enforced when configured. Every token must expire.
type TokenValidator struct {
	Issuer    string
	Audience  string
	ClockSkew time.Duration
	// Algorithm is the only accepted signing algorithm; HS256 when empty.
	Algorithm jwa.SignatureAlgorithm
}

// Validate checks the time and optional issuer/audience claims and returns
// the user id: the userId claim, or sub when userId is absent or blank.
func (v TokenValidator) Validate(tok jwt.Token, now time.Time) (string, error) {
	if tok == nil {
		return "", errors.New("auth: token is nil")
	}
	options := []jwt.ValidateOption{
		jwt.WithClock(jwt.ClockFunc(func() time.Time { return now })),
		jwt.WithRequiredClaim(jwt.ExpirationKey),
	}
	if v.ClockSkew > 0 {
		options = append(options, jwt.WithAcceptableSkew(v.ClockSkew))
	}
	if v.Issuer != "" {
		options = append(options, jwt.WithIssuer(v.Issuer))
	}
	if v.Audience != "" {
		options = append(options, jwt.WithAudience(v.Audience))
	}
	if err := jwt.Validate(tok, options...); err != nil {
		return "", err
	}

	if raw, ok := tok.Get(ClaimUserID); ok {
		if s, ok := raw.(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s), nil
		}
	}
	if sub := strings.TrimSpace(tok.Subject()); sub != "" {
		return sub, nil
	}
	return "", errors.New("auth: token carries no user id")
}

func (v TokenValidator) algorithm() jwa.SignatureAlgorithm {
	if v.Algorithm == "" {
		return jwa.HS256
	}
	return v.Algorithm
}
