package middleware

import (
	"strings"

	"obrolan/server/internal/utils"

	"github.com/gofiber/fiber/v2"
)

// AuthMiddleware validates the JWT from the token cookie or a Bearer header
func AuthMiddleware(c *fiber.Ctx) error {
	tokenString := c.Cookies("token")
	if tokenString == "" {
		if h := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(h, "Bearer ") {
			tokenString = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		}
	}
	if tokenString == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   "Unauthorized - No token provided",
		})
	}

	// Validate token
	claims, err := utils.ValidateToken(tokenString)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   "Unauthorized - Invalid token",
		})
	}

	// Store user info in context
	c.Locals("userID", claims.UserID)
	c.Locals("roles", claims.Roles)

	return c.Next()
}

// GetUserID gets user ID from context
func GetUserID(c *fiber.Ctx) string {
	userID, ok := c.Locals("userID").(string)
	if !ok {
		return ""
	}
	return userID
}

// GetRoles gets the caller's roles from context
func GetRoles(c *fiber.Ctx) []string {
	roles, _ := c.Locals("roles").([]string)
	return roles
}
