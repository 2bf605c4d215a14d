package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/decisiongraph/core/pkg/dgerr"
)

// Authenticator validates bearer tokens on the RFA path and resolves the
// requester identity from the token subject.
type Authenticator struct {
	secret []byte
	issuer string
}

// NewAuthenticator builds an HMAC authenticator. issuer is optional; when
// set, tokens from other issuers are rejected.
func NewAuthenticator(secret []byte, issuer string) *Authenticator {
	return &Authenticator{secret: secret, issuer: issuer}
}

// Authenticate extracts and verifies the bearer token, returning the
// subject claim.
func (a *Authenticator) Authenticate(r *http.Request) (string, error) {
	raw := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(raw, prefix) {
		return "", dgerr.New(dgerr.KindUnauthorized, "missing bearer token")
	}
	tokenStr := strings.TrimPrefix(raw, prefix)

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	token, err := jwt.Parse(tokenStr, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return "", dgerr.Wrap(dgerr.KindUnauthorized, "token verification failed", err)
	}
	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", dgerr.New(dgerr.KindUnauthorized, "token has no subject")
	}
	return sub, nil
}

// MintToken issues a short-lived token for sub. Exposed for operators
// bootstrapping callers and for tests.
func (a *Authenticator) MintToken(sub string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": sub,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if a.issuer != "" {
		claims["iss"] = a.issuer
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", dgerr.Wrap(dgerr.KindInternal, "token signing failed", err)
	}
	return signed, nil
}
