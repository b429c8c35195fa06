package dto

import (
	"time"

	authdomain "github.com/elie222/inbox-zero-sub019/internal/auth/domain"
)

type GoogleConnectRequest struct {
	Code        string `json:"code" binding:"required"`
	RedirectURI string `json:"redirect_uri"`
}

type IMAPConnectRequest struct {
	Email      string `json:"email" binding:"required,email"`
	Name       string `json:"name"`
	Password   string `json:"password" binding:"required"`
	Username   string `json:"username"`
	IMAPServer string `json:"imap_server" binding:"required"`
	IMAPPort   int    `json:"imap_port" binding:"omitempty,min=1,max=65535"`
	SMTPServer string `json:"smtp_server"`
	SMTPPort   int    `json:"smtp_port" binding:"omitempty,min=1,max=65535"`
}

type FCMTokenRequest struct {
	Token      string `json:"token" binding:"required"`
	DeviceInfo string `json:"device_info"`
}

type TokenResponse struct {
	AccessToken string              `json:"access_token"`
	ExpiresAt   time.Time           `json:"expires_at"`
	Account     *authdomain.Account `json:"account"`
}
