package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/anonto42/nano-midea/realtime/internal/models"
	"github.com/anonto42/nano-midea/realtime/internal/repositories"
)

// UserHandler serves the caller's profile
type UserHandler struct {
	userRepository repositories.UserRepository
	media          MediaResolver
}

// NewUserHandler creates a new UserHandler
func NewUserHandler(userRepo repositories.UserRepository, media MediaResolver) *UserHandler {
	return &UserHandler{userRepository: userRepo, media: media}
}

// RegisterProfileRoutes registers profile routes
func (h *UserHandler) RegisterProfileRoutes(g *echo.Group) {
	g.GET("/me", h.GetProfile)
	g.PUT("/me", h.UpdateProfile)
}

func (h *UserHandler) compact(c echo.Context, u models.User) models.UserCompact {
	out := u.ToCompact()
	if h.media != nil {
		out.AvatarURL = h.media.URL(c.Request().Context(), u.AvatarRef)
	}
	return out
}

// GetProfile returns the caller's profile
func (h *UserHandler) GetProfile(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	user, err := h.userRepository.GetUserByUID(c.Request().Context(), uid)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Profile not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return ok(c, h.compact(c, *user))
}

// UpdateProfile sets the display name used in notification copy
func (h *UserHandler) UpdateProfile(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	var req models.UpdateProfileRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	user := &models.User{UID: uid, DisplayName: req.DisplayName, AvatarRef: req.AvatarRef}
	if err := h.userRepository.UpsertUser(c.Request().Context(), user, "display_name", "avatar_ref"); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return ok(c, h.compact(c, *user))
}
