package delivery

import (
	"errors"
	"net/http"

	authdto "github.com/elie222/inbox-zero-sub019/internal/auth/dto"
	"github.com/elie222/inbox-zero-sub019/internal/auth/usecase"
	"github.com/elie222/inbox-zero-sub019/pkg/logger"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	auth *usecase.AuthUsecase
}

func NewAuthHandler(auth *usecase.AuthUsecase) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// RegisterPublic mounts the connect endpoints.
func (h *AuthHandler) RegisterPublic(rg gin.IRouter) {
	rg.POST("/auth/google", h.ConnectGoogle)
	rg.POST("/auth/imap", h.ConnectIMAP)
}

// Register mounts endpoints that need an authenticated account.
func (h *AuthHandler) Register(rg gin.IRouter) {
	rg.GET("/auth/me", h.Me)
	rg.POST("/fcm/register", h.RegisterFCMToken)
	rg.DELETE("/fcm/:token", h.UnregisterFCMToken)
}

func (h *AuthHandler) ConnectGoogle(c *gin.Context) {
	var req authdto.GoogleConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp, err := h.auth.ConnectGoogle(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AuthHandler) ConnectIMAP(c *gin.Context) {
	var req authdto.IMAPConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp, err := h.auth.ConnectIMAP(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AuthHandler) Me(c *gin.Context) {
	account, err := h.auth.Me(c.GetString("accountID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (h *AuthHandler) RegisterFCMToken(c *gin.Context) {
	var req authdto.FCMTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.auth.RegisterFCMToken(c.GetString("accountID"), &req); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "token registered"})
}

func (h *AuthHandler) UnregisterFCMToken(c *gin.Context) {
	if err := h.auth.UnregisterFCMToken(c.Param("token")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "token removed"})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, usecase.ErrAccountMissing):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, usecase.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, usecase.ErrNotConfigured):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		logger.Logger.Warn().Err(err).Str("path", c.FullPath()).Msg("[Auth] Request failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to connect account"})
	}
}
