package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/visitra/chaincore/internal/chainerr"
	"github.com/visitra/chaincore/internal/validation"
	"github.com/visitra/chaincore/internal/wallet"
)

// Handler provides HTTP endpoints for authentication and sessions.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler creates a new auth handler.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes sets up the public login routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/auth/login", h.Login)
	r.POST("/auth/wallet-login", h.WalletLogin)
}

// RegisterProtectedRoutes sets up session management routes. The group
// must already require a session.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/sessions", h.ListSessions)
	r.DELETE("/sessions/:id", h.RevokeSession)
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Secret   string `json:"secret" binding:"required"`
}

// Login handles POST /auth/login
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "username and secret are required"})
		return
	}

	result, err := h.svc.LoginWithPassword(c.Request.Context(), req.Username, req.Secret, requestMeta(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type walletLoginRequest struct {
	PrivateKey     string `json:"privateKey" binding:"required"`
	ClaimedAddress string `json:"claimedAddress"`
}

// WalletLogin handles POST /auth/wallet-login
func (h *Handler) WalletLogin(c *gin.Context) {
	var req walletLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "privateKey is required"})
		return
	}
	if req.ClaimedAddress != "" && !validation.IsValidEthAddress(req.ClaimedAddress) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "claimedAddress must be a valid Ethereum address"})
		return
	}

	result, err := h.svc.LoginWithWallet(c.Request.Context(), req.PrivateKey, req.ClaimedAddress, requestMeta(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListSessions handles GET /sessions for the authenticated admin.
func (h *Handler) ListSessions(c *gin.Context) {
	sess, ok := GetSession(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	sessions, err := h.svc.ListSessions(c.Request.Context(), sess.AdminID)
	if err != nil {
		h.logger.Error("list sessions failed", "admin", sess.AdminID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
}

// RevokeSession handles DELETE /sessions/:id. Admins may only revoke
// their own sessions.
func (h *Handler) RevokeSession(c *gin.Context) {
	sess, ok := GetSession(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	id := c.Param("id")
	target, err := h.svc.sessions.Validate(c.Request.Context(), id)
	if err != nil || target.AdminID != sess.AdminID {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "revoked": false})
		return
	}

	revoked := h.svc.RevokeSession(c.Request.Context(), id, requestMeta(c))
	c.JSON(http.StatusOK, gin.H{"revoked": revoked})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		retryAfter := int(rateErr.Result.RetryAfter(time.Now()).Seconds()) + 1
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":       "rate_limit_exceeded",
			"message":     "Too many attempts. Please slow down.",
			"retry_after": retryAfter,
			"reset_at":    rateErr.Result.ResetAt,
		})
		return
	}

	var ce *chainerr.Error
	if errors.As(err, &ce) {
		c.JSON(chainerr.HTTPStatus(ce), gin.H{
			"error":     string(ce.Kind),
			"message":   ce.Message,
			"retryable": ce.Retryable,
		})
		return
	}

	switch {
	case errors.Is(err, ErrBadCredentials), errors.Is(err, ErrPasswordDisabled):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials", "message": "Invalid username or secret."})
	case errors.Is(err, ErrBlocked):
		c.JSON(http.StatusForbidden, gin.H{"error": "blocked", "message": "Request blocked by security policy."})
	case isKeyValidationError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_private_key", "message": err.Error()})
	default:
		h.logger.Error("login failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func isKeyValidationError(err error) bool {
	for _, target := range []error{
		wallet.ErrEmptyKey, wallet.ErrBadLength, wallet.ErrBadEncoding,
		wallet.ErrDegenerateKey, wallet.ErrDerivation,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func requestMeta(c *gin.Context) RequestMeta {
	return RequestMeta{
		SourceIP:  c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}
