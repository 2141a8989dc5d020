package auth

import (
	"net/http"
	"strings"
)

// AuthorizationSchemes lists the accepted Authorization header prefixes.
var AuthorizationSchemes = []string{"Bearer", "JWT"}

// BearerToken extracts the token from an Authorization header value of the
// form "<scheme> <token>", matching the scheme case-insensitively.
func BearerToken(header string) (string, error) {
	value := strings.TrimSpace(header)
	if value == "" {
		return "", ErrMissingToken
	}
	scheme, token, found := strings.Cut(value, " ")
	if !found {
		return "", ErrInvalidToken
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.Contains(token, " ") {
		return "", ErrInvalidToken
	}
	for _, accepted := range AuthorizationSchemes {
		if strings.EqualFold(scheme, accepted) {
			return token, nil
		}
	}
	return "", ErrUnsupportedScheme
}

// ValidateRequest extracts the bearer token from r and validates it.
func (i *TokenIssuer) ValidateRequest(r *http.Request) (AccessClaims, error) {
	if r == nil {
		return AccessClaims{}, ErrMissingToken
	}
	token, err := BearerToken(r.Header.Get("Authorization"))
	if err != nil {
		return AccessClaims{}, err
	}
	return i.ValidateToken(token)
}
