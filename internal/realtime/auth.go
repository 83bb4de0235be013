package realtime

import (
	"context"
	"net/http"
	"strings"

	"github.com/lirancohen/workhub/internal/auth"
)

// TokenValidator resolves an access token to the user it was issued for.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*UserInfo, error)
}

// UserInfo identifies the owner of a connection.
type UserInfo struct {
	ID string
}

// JWTValidator validates workhub access tokens.
type JWTValidator struct {
	issuer *auth.Issuer
}

// NewJWTValidator returns a validator backed by issuer.
func NewJWTValidator(issuer *auth.Issuer) *JWTValidator {
	return &JWTValidator{issuer: issuer}
}

// ValidateToken implements TokenValidator.
func (v *JWTValidator) ValidateToken(_ context.Context, token string) (*UserInfo, error) {
	claims, err := v.issuer.Verify(token)
	if err != nil {
		return nil, err
	}
	return &UserInfo{ID: claims.UserID}, nil
}

// TokenFromRequest returns the bearer token from the Authorization header,
// falling back to the token query parameter browsers use for WebSockets.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "bearer") {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}
