package api

import (
	"errors"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

// Auth validates incoming JWT tokens. Production deployments verify RS256
// signatures against the identity provider's JWKS; local deployments can
// run with a shared HS256 secret instead.
type Auth struct {
	jwks     *keyfunc.JWKS
	audience string
	issuer   string
	secret   []byte

	parser *jwt.Parser
}

// NewAuth creates an Auth verifying RS256 tokens against jwks.
func NewAuth(jwks *keyfunc.JWKS, audience, issuer string) *Auth {
	return &Auth{
		jwks:     jwks,
		audience: audience,
		issuer:   issuer,
		parser:   jwt.NewParser(jwt.WithValidMethods([]string{"RS256"})),
	}
}

// NewLocalAuth creates an Auth verifying HS256 tokens with a shared secret.
func NewLocalAuth(secret []byte) *Auth {
	if len(secret) == 0 {
		panic("api.NewLocalAuth: secret must not be empty")
	}
	return &Auth{
		secret: secret,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
	}
}

// UserIDFromAuthHeader extracts the user identifier from the Authorization
// header.
func (a *Auth) UserIDFromAuthHeader(h string) (string, error) {
	h = strings.TrimSpace(h)
	if h == "" {
		return "", errMissingAuthorization
	}
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || token == "" {
		return "", errBadAuthorization
	}
	return a.userIDFromToken(token)
}

func (a *Auth) userIDFromToken(tokenStr string) (string, error) {
	var parsed *jwt.Token
	var err error
	if a.secret != nil {
		parsed, err = a.parser.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("invalid signing method")
			}
			return a.secret, nil
		})
	} else {
		parsed, err = a.parser.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			if a.jwks == nil {
				return nil, errors.New("jwks not configured")
			}
			return a.jwks.Keyfunc(t)
		})
	}
	if err != nil {
		return "", err
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}

	// A minute of leeway absorbs clock skew between issuer and verifier.
	now := time.Now().Add(time.Minute).Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return "", errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now, false) {
		return "", errors.New("token not valid yet")
	}
	if a.audience != "" && !claims.VerifyAudience(a.audience, false) {
		return "", errors.New("invalid audience")
	}
	if a.issuer != "" && !claims.VerifyIssuer(a.issuer, false) {
		return "", errors.New("invalid issuer")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errors.New("missing sub")
	}
	return sub, nil
}
