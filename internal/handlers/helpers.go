package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/anonto42/nano-midea/realtime/internal/identity"
	"github.com/anonto42/nano-midea/realtime/internal/resilience"
)

var validate = validator.New()

// MediaResolver turns storage references into displayable URLs.
type MediaResolver interface {
	URL(ctx context.Context, ref string) string
}

// currentUser returns the authenticated caller set by the auth middleware.
func currentUser(c echo.Context) (string, error) {
	uid := identity.FromContext(c.Request().Context())
	if !identity.Valid(uid) {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
	}
	return uid, nil
}

// bind decodes and validates the request body into req.
func bind(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request payload")
	}
	if err := validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// httpError maps a core error onto its HTTP status.
func httpError(err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	switch kind := resilience.KindOf(err); {
	case kind == resilience.KindInvalidArgument:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case kind == resilience.KindNotFound:
		return echo.NewHTTPError(http.StatusNotFound, "Not found")
	case kind.Transient():
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Temporarily unavailable, try again")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func ok(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": data})
}
