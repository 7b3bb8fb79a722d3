package auth

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"taskhub/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

// Handler manages all HTTP interactions for authentication
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterPublicRoutes(v1 *gin.RouterGroup) {
	authGroup := v1.Group("/auth")
	{
		authGroup.POST("/sign_up", h.SignUp)
		authGroup.POST("/sign_in", h.SignIn)
		authGroup.POST("/refresh", h.Refresh)
		// Sign-out is idempotent and never reveals token validity, so it
		// lives outside the auth middleware.
		authGroup.DELETE("/sign_out", h.SignOut)
	}
}

func (h *Handler) RegisterProtectedRoutes(protected *gin.RouterGroup) {
	userGroup := protected.Group("/users")
	{
		userGroup.GET("/me", h.GetMe)
	}
}

func (h *Handler) SignUp(c *gin.Context) {
	var req SignUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}

	result, err := h.service.SignUp(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, ErrEmailAlreadyExists) {
			response.Error(c, http.StatusConflict, "email_exists", "This email is already registered")
			return
		}
		response.Error(c, http.StatusInternalServerError, "sign_up_failed", "Failed to sign up")
		return
	}

	response.Success(c, http.StatusCreated, authPayload(result))
}

func (h *Handler) SignIn(c *gin.Context) {
	var req SignInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}

	result, err := h.service.SignIn(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			response.Error(c, http.StatusUnauthorized, "invalid_credentials", "Email or password is incorrect")
			return
		}
		response.Error(c, http.StatusInternalServerError, "sign_in_failed", "Failed to sign in")
		return
	}

	response.Success(c, http.StatusOK, authPayload(result))
}

// Refresh rotates a refresh token. The token travels in the body field
// refresh_token or the X-Refresh-Token header; body wins when both are set.
// The query string is never consulted.
func (h *Handler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}

	var raw string
	switch v := req.RefreshToken.(type) {
	case string:
		raw = v
	case nil:
		raw = strings.TrimSpace(c.GetHeader("X-Refresh-Token"))
	default:
		response.Error(c, http.StatusUnauthorized, "token_invalid", "Refresh token must be a string")
		return
	}

	result, err := h.service.Refresh(c.Request.Context(), raw)
	if err != nil {
		switch {
		case errors.Is(err, ErrTokenInvalid):
			response.Error(c, http.StatusUnauthorized, "token_invalid", "Refresh token is invalid")
		case errors.Is(err, ErrTokenExpired):
			response.Error(c, http.StatusUnauthorized, "token_expired", "Refresh token has expired")
		case errors.Is(err, ErrTokenAlreadyRefreshed):
			response.Error(c, http.StatusUnauthorized, "token_already_refreshed", "Refresh token was already used; keep the pair from the earlier response")
		case errors.Is(err, ErrTokenReused):
			response.Error(c, http.StatusUnauthorized, "token_reused", "Refresh token reuse detected; session family revoked")
		default:
			response.Error(c, http.StatusInternalServerError, "refresh_failed", "Failed to refresh session")
		}
		return
	}

	response.Success(c, http.StatusOK, authPayload(result))
}

// SignOut answers 204 no matter what the client presented.
func (h *Handler) SignOut(c *gin.Context) {
	token := bearerToken(c.GetHeader("Authorization"))
	if token != "" {
		if err := h.service.SignOut(c.Request.Context(), token); err != nil {
			response.Error(c, http.StatusInternalServerError, "sign_out_failed", "Failed to sign out")
			return
		}
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) GetMe(c *gin.Context) {
	userID := c.GetInt64("user_id")

	user, err := h.service.GetCurrentUser(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, http.StatusNotFound, "not_found", "User not found")
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"user": UserPublic{ID: user.ID, Email: user.Email, Name: user.Name},
	})
}

func authPayload(result *AuthResult) gin.H {
	return gin.H{
		"token":         result.AccessToken,
		"refresh_token": result.RefreshToken,
		"user": UserPublic{
			ID:    result.User.ID,
			Email: result.User.Email,
			Name:  result.User.Name,
		},
	}
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
