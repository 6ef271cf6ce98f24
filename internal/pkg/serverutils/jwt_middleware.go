package serverutils

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// AuthTokenLocal is where the raw bearer token is kept for handlers
const AuthTokenLocal = "auth_token"

// AuthTokenMiddleware reads an optional bearer token. Without a secret the
// token is passed on unchecked; with one, a present but invalid token is rejected.
// Requests without a token always continue.
func AuthTokenMiddleware(secret string) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		authHeader := ctx.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return ctx.Next()
		}
		tokenStr := strings.TrimSpace(authHeader[len("Bearer "):])
		if tokenStr == "" {
			return ctx.Next()
		}

		if secret != "" {
			token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
				return []byte(secret), nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !token.Valid {
				return ctx.Status(fiber.StatusUnauthorized).JSON(ErrorResponse(401, "Invalid or expired token"))
			}
		}

		ctx.Locals(AuthTokenLocal, tokenStr)
		return ctx.Next()
	}
}

// AuthToken returns the token stored by AuthTokenMiddleware, "" when absent
func AuthToken(ctx *fiber.Ctx) string {
	if v, ok := ctx.Locals(AuthTokenLocal).(string); ok {
		return v
	}
	return ""
}
