package client

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Config controls a [Session] and its [TokenScheduler].
type Config struct {
	// URL is the websocket endpoint, e.g. ws://host/ws.
	URL         string
	Header      http.Header
	DialTimeout time.Duration

	// RenewalBuffer is how long before expiry a token is renewed.
	RenewalBuffer    time.Duration
	RetryDelay       time.Duration
	MaxRetryAttempts int
	RenewTimeout     time.Duration

	ReconnectBaseDelay   time.Duration
	MaxReconnectAttempts int
	// MaxSystemErrorRetries caps reconnects caused by system_error replies;
	// the counter resets on a successful handshake.
	MaxSystemErrorRetries int

	Logger *zap.Logger
	Clock  clockwork.Clock
}

// DefaultConfig returns the default client configuration for url.
func DefaultConfig(url string) Config {
	return Config{
		URL:                   url,
		DialTimeout:           10 * time.Second,
		RenewalBuffer:         5 * time.Minute,
		RetryDelay:            5 * time.Second,
		MaxRetryAttempts:      3,
		RenewTimeout:          10 * time.Second,
		ReconnectBaseDelay:    time.Second,
		MaxReconnectAttempts:  5,
		MaxSystemErrorRetries: 3,
	}
}

// Validate checks cfg for values the state machine cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return errors.New("URL must not be empty")
	}
	if c.DialTimeout <= 0 {
		return errors.New("DialTimeout must be > 0")
	}
	if err := c.schedulerConfig().Validate(); err != nil {
		return err
	}
	if c.ReconnectBaseDelay <= 0 {
		return errors.New("ReconnectBaseDelay must be > 0")
	}
	if c.MaxReconnectAttempts < 0 {
		return errors.New("MaxReconnectAttempts must be >= 0")
	}
	if c.MaxSystemErrorRetries < 0 {
		return errors.New("MaxSystemErrorRetries must be >= 0")
	}
	return nil
}

func (c *Config) schedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		RenewalBuffer:    c.RenewalBuffer,
		RetryDelay:       c.RetryDelay,
		MaxRetryAttempts: c.MaxRetryAttempts,
		RenewTimeout:     c.RenewTimeout,
		Logger:           c.Logger,
		Clock:            c.Clock,
	}
}
