package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/latticeworks/facet/internal/config"
	"github.com/latticeworks/facet/internal/middleware"
	"github.com/latticeworks/facet/internal/services"
	"gorm.io/gorm"
)

// AuthHandler handles login and logout
type AuthHandler struct {
	DB  *gorm.DB
	Cfg *config.Config
}

// loginRequest is the login form payload.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login handles POST /api/auth/login
// @Summary Log in
// @Description Verify credentials and set the session cookie
// @Tags Auth
// @Accept json
// @Produce json
// @Param credentials body loginRequest true "Credentials"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} utils.ErrorResponseStruct
// @Failure 403 {object} utils.ErrorResponseStruct
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return serviceError(c, err, "auth.login")
	}

	user, err := services.AuthenticateUser(h.DB, req.Username, req.Password)
	if err != nil {
		return serviceError(c, err, "auth.login")
	}

	token, err := services.IssueSession(h.Cfg, user)
	if err != nil {
		return serviceError(c, err, "auth.login")
	}

	c.Cookie(&fiber.Cookie{
		Name:     middleware.SessionCookie,
		Value:    token,
		Expires:  time.Now().Add(h.Cfg.SessionTTL),
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"ok":       true,
		"username": user.Username,
		"userId":   user.UserID,
	})
}

// Logout handles POST /api/auth/logout
// @Summary Log out
// @Description Clear the session cookie
// @Tags Auth
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	c.Cookie(&fiber.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour),
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

// Me handles GET /api/auth/me
// @Summary Current account
// @Description Return the authenticated account and its group memberships
// @Tags Auth
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} utils.ErrorResponseStruct
// @Router /auth/me [get]
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return serviceError(c, err, "auth.me")
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"userId":    user.UserID,
		"username":  user.Username,
		"email":     user.Email,
		"firstName": user.FirstName,
		"lastName":  user.LastName,
		"roles":     user.Roles,
		"groups":    user.Groups,
	})
}
