// Package middleware provides authentication, logging, tracing and rate limiting for the HTTP API.
package middleware

import (
	"errors"
	"strconv"
	"strings"

	"livecommerce/internal/config"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in the "role" claim.
const (
	RoleMember = "MEMBER"
	RoleSeller = "SELLER"
	RoleAdmin  = "ADMIN"
)

var cfg *config.Config

// InitMiddleware initializes authentication middleware with the given config.
func InitMiddleware(c *config.Config) {
	cfg = c
}

type identity struct {
	userID uint
	role   string
}

var (
	errMissingToken = errors.New("Authorization header required")
	errBadHeader    = errors.New("Invalid authorization header format")
	errBadToken     = errors.New("Invalid or expired token")
	errBadSubject   = errors.New("Invalid user ID in token")
)

func bearerToken(c *fiber.Ctx) (string, error) {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		if q := c.Query("token"); q != "" {
			return q, nil
		}
		return "", errMissingToken
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", errBadHeader
	}
	return parts[1], nil
}

func parseIdentity(tokenString string) (identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid signing method")
		}
		return []byte(cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return identity{}, errBadToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return identity{}, errBadToken
	}

	// "sub" is the member id per RFC 7519
	subStr, ok := claims["sub"].(string)
	if !ok {
		return identity{}, errBadSubject
	}
	userIDVal, err := strconv.ParseUint(subStr, 10, 32)
	if err != nil || userIDVal == 0 {
		return identity{}, errBadSubject
	}

	role, _ := claims["role"].(string)
	if role == "" {
		role = RoleMember
	}
	return identity{userID: uint(userIDVal), role: strings.ToUpper(role)}, nil
}

func unauthorized(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": err.Error(),
	})
}

// AuthRequired is a middleware that enforces authentication for protected routes.
func AuthRequired(c *fiber.Ctx) error {
	tokenString, err := bearerToken(c)
	if err != nil {
		return unauthorized(c, err)
	}
	id, err := parseIdentity(tokenString)
	if err != nil {
		return unauthorized(c, err)
	}
	c.Locals("userID", id.userID)
	c.Locals("role", id.role)
	withMember(c, id.userID)
	return c.Next()
}

// OptionalAuth sets the identity when a valid token is present and lets
// anonymous requests through otherwise. A malformed token is still rejected.
func OptionalAuth(c *fiber.Ctx) error {
	tokenString, err := bearerToken(c)
	if errors.Is(err, errMissingToken) {
		return c.Next()
	}
	if err != nil {
		return unauthorized(c, err)
	}
	id, err := parseIdentity(tokenString)
	if err != nil {
		return unauthorized(c, err)
	}
	c.Locals("userID", id.userID)
	c.Locals("role", id.role)
	withMember(c, id.userID)
	return c.Next()
}

// RequireRole allows only the listed roles. It must run after AuthRequired.
func RequireRole(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role, _ := c.Locals("role").(string)
		for _, r := range roles {
			if role == r {
				return c.Next()
			}
		}
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "insufficient role",
		})
	}
}

// UserID returns the authenticated member id, or 0.
func UserID(c *fiber.Ctx) uint {
	id, _ := c.Locals("userID").(uint)
	return id
}

// Role returns the authenticated role, or "".
func Role(c *fiber.Ctx) string {
	role, _ := c.Locals("role").(string)
	return role
}
