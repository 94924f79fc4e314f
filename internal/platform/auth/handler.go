package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Handler serves the login endpoint.
type Handler struct {
	dir    *Directory
	tokens *TokenIssuer
}

func NewHandler(dir *Directory, tokens *TokenIssuer) *Handler {
	return &Handler{dir: dir, tokens: tokens}
}

// RegisterRoutes mounts POST /auth/login. m typically carries a rate limiter.
func (h *Handler) RegisterRoutes(g *echo.Group, m ...echo.MiddlewareFunc) {
	g.POST("/auth/login", h.Login, m...)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *User     `json:"user"`
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Email == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email and password are required")
	}
	u, err := h.dir.Authenticate(req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid email or password")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "login failed")
	}
	token, exp, err := h.tokens.Issue(u)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "login failed")
	}
	return c.JSON(http.StatusOK, loginResponse{Token: token, ExpiresAt: exp, User: u})
}
