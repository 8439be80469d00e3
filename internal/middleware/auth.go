package middleware

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/latticeworks/facet/internal/config"
	"github.com/latticeworks/facet/internal/models"
	"github.com/latticeworks/facet/internal/services"
	"github.com/latticeworks/facet/internal/types"
	"gorm.io/gorm"
)

// SessionCookie is the name of the signed login cookie.
const SessionCookie = "facet_session"

// AuthUser validates the session cookie and loads the account into the
// request context under "user". Disabled accounts are rejected even with a
// valid token.
func AuthUser(cfg *config.Config, db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Cookies(SessionCookie)
		if token == "" {
			return &types.CustomError{
				Code:    fiber.StatusUnauthorized,
				Message: fmt.Sprintf("session cookie %q not found", SessionCookie),
				Type:    "auth",
			}
		}

		claims, err := services.ValidateSession(cfg, token)
		if err != nil {
			return &types.CustomError{
				Code:    fiber.StatusUnauthorized,
				Message: fmt.Sprintf("invalid session: %v", err),
				Type:    "auth",
			}
		}

		userID, err := claims.SessionUserID()
		if err != nil {
			return &types.CustomError{
				Code:    fiber.StatusUnauthorized,
				Message: "invalid session subject",
				Type:    "auth",
			}
		}

		user, err := services.GetUser(db, userID)
		if err != nil {
			return &types.CustomError{
				Code:    fiber.StatusUnauthorized,
				Message: "unknown session user",
				Type:    "auth",
			}
		}
		if !user.Active {
			return &types.CustomError{
				Code:    fiber.StatusForbidden,
				Message: "account is disabled",
				Type:    "auth",
			}
		}

		c.Locals("user", user)
		return c.Next()
	}
}

// RequireRole rejects requests whose authenticated user lacks all bits of
// role. Must run after AuthUser.
func RequireRole(role models.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, ok := c.Locals("user").(*models.User)
		if !ok {
			return &types.CustomError{
				Code:    fiber.StatusUnauthorized,
				Message: "not authenticated",
				Type:    "auth",
			}
		}
		if !user.Roles.Has(role) {
			return &types.CustomError{
				Code:    fiber.StatusForbidden,
				Message: "insufficient role",
				Type:    "auth",
			}
		}
		return c.Next()
	}
}
