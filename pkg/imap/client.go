// Package imap adapts a generic IMAP/SMTP mailbox to the MailProvider
// contract.
package imap

import (
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	emaildomain "github.com/elie222/inbox-zero-sub019/internal/email/domain"

	"github.com/emersion/go-imap/client"
)

const (
	dialTimeout    = 10 * time.Second
	commandTimeout = 2 * time.Minute
)

// Config holds the connection settings of one mailbox. Password is the
// decrypted secret.
type Config struct {
	Email    string
	Name     string
	Host     string
	Port     int
	Username string
	Password string

	SMTPHost string
	SMTPPort int
}

func (c Config) username() string {
	if c.Username != "" {
		return c.Username
	}
	return c.Email
}

// connect dials the IMAP server and logs in. Port 143 uses STARTTLS,
// anything else implicit TLS.
func connect(cfg Config) (*client.Client, error) {
	port := cfg.Port
	if port == 0 {
		port = 993
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	dialer := &net.Dialer{Timeout: dialTimeout}
	tlsConfig := &tls.Config{ServerName: cfg.Host}

	var (
		c   *client.Client
		err error
	)
	if port == 143 {
		c, err = client.DialWithDialer(dialer, addr)
		if err == nil {
			err = c.StartTLS(tlsConfig)
		}
	} else {
		c, err = client.DialWithDialerTLS(dialer, addr, tlsConfig)
	}
	if err != nil {
		if c != nil {
			_ = c.Logout()
		}
		return nil, fmt.Errorf("%w: unable to connect to %s: %v", emaildomain.ErrTransient, addr, err)
	}
	c.Timeout = commandTimeout

	if err := c.Login(cfg.username(), cfg.Password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("imap login failed for %s: %w", cfg.username(), err)
	}
	return c, nil
}

// Verify logs in and out again to check the settings before they are
// stored.
func Verify(cfg Config) error {
	c, err := connect(cfg)
	if err != nil {
		return err
	}
	return c.Logout()
}
