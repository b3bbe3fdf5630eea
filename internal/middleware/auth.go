// Package middleware contains HTTP middleware functions for the Puckdrop API.
// Middleware sits between the HTTP server and route handlers. It runs on every
// request that passes through it, making it the right place for cross-cutting
// concerns like authentication, logging, metrics and rate limiting.
package middleware

import (
	"errors"
	"strings"

	// fiber is the HTTP framework; fiber.Handler is the function signature for middleware
	"github.com/gofiber/fiber/v2"

	"github.com/trentd187/puckdrop/internal/auth"
)

// Auth returns a Fiber middleware handler that:
//  1. Reads the JWT from the "Authorization: Bearer <token>" header
//  2. Verifies its signature and expiry with the server's signing secret
//  3. Stores the user's UUID and role in the request context (c.Locals)
//     so downstream handlers can read them without re-parsing the token
func Auth(issuer *auth.TokenIssuer) fiber.Handler {
	return authenticate(issuer, headerToken)
}

// SocketAuth is Auth for WebSocket routes. Browsers and the Expo client cannot set
// headers on a WebSocket handshake, so the token may also come as "?token=". Only
// the live routes use it; everywhere else a token in the URL would end up in proxy
// and access logs.
func SocketAuth(issuer *auth.TokenIssuer) fiber.Handler {
	return authenticate(issuer, func(c *fiber.Ctx) string {
		if token := headerToken(c); token != "" {
			return token
		}
		return c.Query("token")
	})
}

func authenticate(issuer *auth.TokenIssuer, tokenFrom func(*fiber.Ctx) string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenStr := tokenFrom(c)
		if tokenStr == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing or invalid authorization header",
			})
		}

		claims, err := issuer.Parse(tokenStr)
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, auth.ErrExpiredToken) {
				// The app uses this exact message to send the user back to the login screen
				msg = "token expired"
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": msg})
		}

		// c.Locals is a key-value store scoped to this single request.
		// Handlers read "userID" (our internal UUID) and "userRole" from here.
		c.Locals("userID", claims.Subject)
		c.Locals("userRole", claims.Role)

		return c.Next()
	}
}

func headerToken(c *fiber.Ctx) string {
	header := c.Get(fiber.HeaderAuthorization)
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}
