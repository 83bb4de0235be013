// Package middleware provides HTTP middleware for the API
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/lirancohen/workhub/internal/auth"
)

// ContextKey type for context values
type ContextKey string

const (
	// UserIDKey is the context key for the authenticated user ID
	UserIDKey ContextKey = "user_id"
)

// JWTAuth creates middleware that validates access tokens
func JWTAuth(issuer *auth.Issuer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization header format")
			}

			claims, err := issuer.Verify(parts[1])
			if err != nil {
				if errors.Is(err, auth.ErrExpiredToken) {
					return echo.NewHTTPError(http.StatusUnauthorized, "token expired")
				}
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			c.Set(string(UserIDKey), claims.UserID)
			return next(c)
		}
	}
}

// AdminChecker reports whether a user holds the instance admin flag.
type AdminChecker interface {
	IsAdmin(ctx context.Context, userID string) (bool, error)
}

// RequireAdmin rejects authenticated users without the admin flag. It must
// run after JWTAuth.
func RequireAdmin(users AdminChecker) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ok, err := users.IsAdmin(c.Request().Context(), GetUserID(c))
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "failed to check admin status")
			}
			if !ok {
				return echo.NewHTTPError(http.StatusForbidden, "admin access required")
			}
			return next(c)
		}
	}
}

// GetUserID retrieves the authenticated user ID from context
func GetUserID(c echo.Context) string {
	if userID, ok := c.Get(string(UserIDKey)).(string); ok {
		return userID
	}
	return ""
}
