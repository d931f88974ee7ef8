package handlers

import (
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"

	"github.com/anonto42/nano-midea/realtime/internal/middleware"
	"github.com/anonto42/nano-midea/realtime/internal/models"
	"github.com/anonto42/nano-midea/realtime/internal/repositories"
)

const tokenTTL = 72 * time.Hour

// AuthHandler exchanges Firebase ID tokens for local JWTs
type AuthHandler struct {
	userRepository repositories.UserRepository
	verifier       middleware.TokenVerifier
	jwtSecret      string
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(userRepo repositories.UserRepository, verifier middleware.TokenVerifier, jwtSecret string) *AuthHandler {
	return &AuthHandler{
		userRepository: userRepo,
		verifier:       verifier,
		jwtSecret:      jwtSecret,
	}
}

// RegisterAuthRoutes registers authentication-related routes
func (h *AuthHandler) RegisterAuthRoutes(g *echo.Group) {
	g.POST("/firebase-login", h.FirebaseLogin)
}

// FirebaseLoginRequest defines the request body for Firebase login
type FirebaseLoginRequest struct {
	IDToken string `json:"idToken" validate:"required"`
}

// FirebaseLogin verifies a Firebase ID token, refreshes the user's profile
// row and issues a local JWT
func (h *AuthHandler) FirebaseLogin(c echo.Context) error {
	var req FirebaseLoginRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	token, err := h.verifier.VerifyIDToken(c.Request().Context(), req.IDToken)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid Firebase ID token")
	}

	user := &models.User{UID: token.UID}
	var columns []string
	if email, ok := token.Claims["email"].(string); ok {
		user.Email = email
		columns = append(columns, "email")
	}
	if name, ok := token.Claims["name"].(string); ok && name != "" {
		user.DisplayName = name
		columns = append(columns, "display_name")
	}
	if err := h.userRepository.UpsertUser(c.Request().Context(), user, columns...); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to save user")
	}

	localJWT, err := h.generateJWT(user)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to generate local JWT")
	}
	return c.JSON(http.StatusOK, echo.Map{"token": localJWT})
}

// generateJWT generates a JWT token for a given user
func (h *AuthHandler) generateJWT(user *models.User) (string, error) {
	now := time.Now()
	return middleware.IssueToken(h.jwtSecret, &models.JwtCustomClaims{
		UserID: user.UID,
		Email:  user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	})
}
