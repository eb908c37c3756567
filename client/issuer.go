package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/MrEthical07/goRealtime/protocol"
	"github.com/jonboulle/clockwork"
)

// Lease is a realtime token and its absolute expiry.
type Lease struct {
	Token     string
	ExpiresAt time.Time
}

// Issuer obtains fresh realtime tokens, typically from POST /renew.
type Issuer interface {
	Renew(ctx context.Context) (Lease, error)
}

// IssuerFunc adapts a function to [Issuer].
type IssuerFunc func(ctx context.Context) (Lease, error)

// Renew calls f.
func (f IssuerFunc) Renew(ctx context.Context) (Lease, error) {
	return f(ctx)
}

// HTTPIssuer calls the credential issuer endpoint with the browser session
// cookie held by its client's jar.
type HTTPIssuer struct {
	url    string
	client *http.Client
	clock  clockwork.Clock
}

// NewHTTPIssuer returns an issuer posting to renewURL. client must carry
// the session cookie, usually through a jar from [NewSessionClient].
func NewHTTPIssuer(renewURL string, client *http.Client, clock clockwork.Clock) *HTTPIssuer {
	if client == nil {
		client = http.DefaultClient
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &HTTPIssuer{url: renewURL, client: client, clock: clock}
}

// NewSessionClient returns an HTTP client with a cookie jar, suitable for
// a login request followed by renewals.
func NewSessionClient(timeout time.Duration) (*http.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &http.Client{Jar: jar, Timeout: timeout}, nil
}

// Renew implements [Issuer]. The lease expiry is computed from
// expires_in_seconds against the local clock.
func (i *HTTPIssuer) Renew(ctx context.Context) (Lease, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.url, http.NoBody)
	if err != nil {
		return Lease{}, err
	}
	req.Header.Set("Accept", "application/json")

	requested := i.clock.Now()
	resp, err := i.client.Do(req)
	if err != nil {
		return Lease{}, fmt.Errorf("%w: %v", ErrIssuerUnavailable, err)
	}
	defer resp.Body.Close()

	var body protocol.RenewResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		if resp.StatusCode != http.StatusOK {
			return Lease{}, statusError(resp.StatusCode, "")
		}
		return Lease{}, fmt.Errorf("%w: decode response: %v", ErrLeaseInvalid, err)
	}

	if resp.StatusCode != http.StatusOK || !body.Success {
		return Lease{}, statusError(resp.StatusCode, body.Error)
	}
	if strings.TrimSpace(body.WebsocketToken) == "" || body.ExpiresInSeconds <= 0 {
		return Lease{}, ErrLeaseInvalid
	}

	return Lease{
		Token:     body.WebsocketToken,
		ExpiresAt: requested.Add(time.Duration(body.ExpiresInSeconds) * time.Second),
	}, nil
}

func statusError(status int, msg string) error {
	if msg == "" {
		msg = http.StatusText(status)
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrIssuerUnauthorized, msg)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrIssuerThrottled, msg)
	default:
		return fmt.Errorf("%w: %d %s", ErrIssuerUnavailable, status, msg)
	}
}
