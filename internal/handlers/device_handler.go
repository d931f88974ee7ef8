package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/anonto42/nano-midea/realtime/internal/models"
	"github.com/anonto42/nano-midea/realtime/internal/repositories"
)

// DeviceHandler registers push tokens
type DeviceHandler struct {
	deviceTokenRepository repositories.DeviceTokenRepository
}

// NewDeviceHandler creates a new DeviceHandler
func NewDeviceHandler(repo repositories.DeviceTokenRepository) *DeviceHandler {
	return &DeviceHandler{deviceTokenRepository: repo}
}

// RegisterDeviceRoutes registers device token routes
func (h *DeviceHandler) RegisterDeviceRoutes(g *echo.Group) {
	g.POST("/devices", h.RegisterDevice)
	g.DELETE("/devices/:token", h.UnregisterDevice)
}

// RegisterDevice stores the caller's push token
func (h *DeviceHandler) RegisterDevice(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	var req models.RegisterDeviceTokenRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	token := &models.DeviceToken{UserID: uid, Token: req.Token, Platform: req.Platform}
	if err := h.deviceTokenRepository.Register(c.Request().Context(), token); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, echo.Map{"success": true, "data": echo.Map{"registered": true}})
}

// UnregisterDevice removes one of the caller's push tokens
func (h *DeviceHandler) UnregisterDevice(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	if err := h.deviceTokenRepository.Unregister(c.Request().Context(), uid, c.Param("token")); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return ok(c, echo.Map{"registered": false})
}
