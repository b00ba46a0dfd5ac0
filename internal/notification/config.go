package notification

import (
	"errors"
	"fmt"
	"time"
)

// SMTPConfig holds connection parameters for the SMTP transport.
type SMTPConfig struct {
	Host       string        `json:"host" envconfig:"HOST"`
	Port       int           `json:"port" envconfig:"PORT" default:"587"`
	Username   string        `json:"username" envconfig:"USERNAME"`
	Password   string        `json:"-" envconfig:"PASSWORD"`
	FromAddr   string        `json:"from_address" envconfig:"FROM_ADDRESS"`
	FromName   string        `json:"from_name" envconfig:"FROM_NAME"`
	Encryption string        `json:"encryption" envconfig:"ENCRYPTION" default:"starttls"` // "none", "starttls", "ssl_tls"
	Timeout    time.Duration `json:"timeout" envconfig:"TIMEOUT" default:"30s"`
}

// Validate reports missing or unsupported settings.
func (c SMTPConfig) Validate() error {
	if c.Host == "" {
		return errors.New("smtp: host is required")
	}
	if c.FromAddr == "" {
		return errors.New("smtp: from address is required")
	}
	switch c.Encryption {
	case "", "none", "starttls", "ssl_tls":
	default:
		return fmt.Errorf("smtp: unsupported encryption %q", c.Encryption)
	}
	return nil
}

// GmailConfig holds OAuth client credentials and the refresh token used by
// the Gmail API transport.
type GmailConfig struct {
	ClientID     string `json:"client_id" envconfig:"CLIENT_ID"`
	ClientSecret string `json:"-" envconfig:"CLIENT_SECRET"`
	RefreshToken string `json:"-" envconfig:"REFRESH_TOKEN"`
	FromAddr     string `json:"from_address" envconfig:"FROM_ADDRESS"`
	FromName     string `json:"from_name" envconfig:"FROM_NAME"`
}

// Validate reports missing settings.
func (c GmailConfig) Validate() error {
	switch {
	case c.ClientID == "":
		return errors.New("gmail: client id is required")
	case c.ClientSecret == "":
		return errors.New("gmail: client secret is required")
	case c.RefreshToken == "":
		return errors.New("gmail: refresh token is required")
	case c.FromAddr == "":
		return errors.New("gmail: from address is required")
	}
	return nil
}
