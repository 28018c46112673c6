// Package middleware provides HTTP middleware for the ingest API.
package middleware

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"ingest_server/pkg/logger"
)

// AdminAuth guards the trigger and operator endpoints. Tokens are HMAC
// signed with the configured secret and must carry admin=true. With no
// secret configured every request is rejected; the ingest trigger is
// never open by accident.
func AdminAuth(secret string) fiber.Handler {
	log := logger.WithField("middleware", "admin_auth")

	return func(c *fiber.Ctx) error {
		if c.Method() == "OPTIONS" {
			return c.Next()
		}

		if secret == "" {
			return c.Status(503).JSON(fiber.Map{
				"error": "admin access not configured",
			})
		}

		var tokenString string
		authHeader := c.Get("Authorization")
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}
		if tokenString == "" {
			return c.Status(401).JSON(fiber.Map{"error": "missing authorization"})
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unsupported signing method: %v", token.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil {
			log.WithError(err).Warn("admin token rejected")
			return c.Status(401).JSON(fiber.Map{"error": "invalid token"})
		}
		if !token.Valid {
			return c.Status(401).JSON(fiber.Map{"error": "invalid token"})
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return c.Status(401).JSON(fiber.Map{"error": "invalid claims"})
		}

		if exp, ok := claims["exp"].(float64); ok {
			if time.Now().Unix() > int64(exp) {
				return c.Status(401).JSON(fiber.Map{
					"error": "token expired",
					"code":  "TOKEN_EXPIRED",
				})
			}
		}

		if admin, ok := claims["admin"].(bool); !ok || !admin {
			return c.Status(403).JSON(fiber.Map{"error": "admin access required"})
		}

		if sub, ok := claims["sub"].(string); ok {
			c.Locals("admin_subject", sub)
		}
		c.Locals("claims", claims)

		return c.Next()
	}
}
