// Package smsx talks to the SMS gateway used to deliver verification codes.
//
// The gateway contract is a single form-encoded POST carrying the bot
// credentials and the message; anything other than HTTP 200 counts as a
// delivery failure. There is no retry here: the caller decides what a failed
// dispatch means for the login attempt.
package smsx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds a single dispatch. The gateway is a blocking network
// hop in the middle of a login, so keep this short.
const DefaultTimeout = 10 * time.Second

// ErrSendFailed reports that the gateway did not accept the message.
var ErrSendFailed = errors.New("smsx: send failed")

// Sender is the outbound notification capability. Implementations must be
// safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, to, body string) error
}

// Credentials authenticate the service against the SMS gateway.
type Credentials struct {
	Login    string
	Password string
}

// Client is an HTTP Sender for the form-POST gateway protocol.
type Client struct {
	endpoint string
	creds    Credentials
	http     *http.Client
}

// NewClient builds a Client for the given gateway URL. A zero timeout falls
// back to DefaultTimeout.
func NewClient(endpoint string, creds Credentials, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		endpoint: endpoint,
		creds:    creds,
		http:     &http.Client{Timeout: timeout},
	}
}

// Send posts the message to the gateway. The destination number is normalized
// before it goes on the wire.
func (c *Client) Send(ctx context.Context, to, body string) error {
	form := url.Values{}
	form.Set("username", c.creds.Login)
	form.Set("password", c.creds.Password)
	form.Add("data[to][]", NormalizeNumber(to))
	form.Set("data[body]", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("smsx: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: gateway returned %d", ErrSendFailed, resp.StatusCode)
	}

	return nil
}

// NormalizeNumber strips the leading plus and any whitespace, which is the
// format the gateway expects.
func NormalizeNumber(number string) string {
	var b strings.Builder
	b.Grow(len(number))
	for _, r := range number {
		if r == '+' || r == ' ' || r == '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// MaskNumber hides the middle of a phone number for display, keeping the
// first three and last two digits. Short numbers are masked entirely.
func MaskNumber(number string) string {
	n := NormalizeNumber(number)
	if len(n) < 7 {
		return strings.Repeat("*", len(n))
	}
	return n[:3] + strings.Repeat("*", len(n)-5) + n[len(n)-2:]
}
