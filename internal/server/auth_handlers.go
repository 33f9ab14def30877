package server

import (
	"time"

	"lumen/internal/models"
	"lumen/internal/service"

	"github.com/gofiber/fiber/v2"
)

const (
	accessCookieName  = "access_token"
	refreshCookieName = "refresh_token"
)

// setTokenCookies writes both token cookies. HTTPOnly and SameSite=Lax
// always; Secure except in development/test profiles.
func (s *Server) setTokenCookies(c *fiber.Ctx, pair *service.TokenPair) {
	secure := !s.config.IsLocal()

	c.Cookie(&fiber.Cookie{
		Name:     accessCookieName,
		Value:    pair.AccessToken,
		Path:     "/",
		MaxAge:   int(s.authService.AccessTTL() / time.Second),
		HTTPOnly: true,
		Secure:   secure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	c.Cookie(&fiber.Cookie{
		Name:     refreshCookieName,
		Value:    pair.RefreshToken,
		Path:     "/",
		MaxAge:   int(s.authService.RefreshTTL() / time.Second),
		HTTPOnly: true,
		Secure:   secure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

// clearTokenCookies expires both token cookies.
func (s *Server) clearTokenCookies(c *fiber.Ctx) {
	secure := !s.config.IsLocal()
	for _, name := range []string{accessCookieName, refreshCookieName} {
		c.Cookie(&fiber.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			Expires:  time.Unix(0, 0),
			HTTPOnly: true,
			Secure:   secure,
			SameSite: fiber.CookieSameSiteLaxMode,
		})
	}
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Bio      string `json:"bio"`
}

// Register handles POST /auth/register
func (s *Server) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithAppError(c, models.NewValidationError("invalid request body"))
	}

	user, err := s.authService.Register(c.UserContext(), req.Username, req.Email, req.Password, req.Name, req.Bio)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"user": user.PrivateProfile(),
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login handles POST /auth/login. The username field also accepts an email
// address.
func (s *Server) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithAppError(c, models.NewValidationError("invalid request body"))
	}

	user, pair, err := s.authService.Login(c.UserContext(), req.Username, req.Password)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}

	// The pair is returned in the body as well as the cookies so non-browser
	// clients can use the Bearer header path.
	s.setTokenCookies(c, pair)
	return c.JSON(fiber.Map{
		"user":          user.PrivateProfile(),
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
	})
}

// Refresh handles POST /auth/refresh. The presented refresh token is
// single-use: it is revoked and replaced atomically.
func (s *Server) Refresh(c *fiber.Ctx) error {
	raw := c.Cookies(refreshCookieName)
	if raw == "" {
		return models.RespondWithAppError(c, models.NewUnauthorizedError("refresh token required"))
	}

	pair, err := s.authService.Refresh(c.UserContext(), raw)
	if err != nil {
		s.clearTokenCookies(c)
		return models.RespondWithAppError(c, err)
	}

	s.setTokenCookies(c, pair)
	return c.JSON(pair)
}

// Logout handles POST /auth/logout. Idempotent: cookies are always cleared,
// whatever state the refresh token is in.
func (s *Server) Logout(c *fiber.Ctx) error {
	_ = s.authService.Logout(c.UserContext(), c.Cookies(refreshCookieName))
	s.clearTokenCookies(c)
	return c.JSON(fiber.Map{"message": "logged out"})
}
