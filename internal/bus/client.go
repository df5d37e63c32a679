package bus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harunnryd/warden/internal/clock"
	wardenErrors "github.com/harunnryd/warden/internal/errors"
	"github.com/harunnryd/warden/internal/security/signing"
)

type Client struct {
	baseURL string
	http    *http.Client
	signer  *signing.Service
	clock   clock.Clock
}

type ClientOption func(*Client)

func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

func WithClock(cl clock.Clock) ClientOption {
	return func(c *Client) { c.clock = cl }
}

func NewClient(baseURL string, signer *signing.Service, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		signer:  signer,
		clock:   clock.System(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send signs msg with a fresh nonce and posts it.
func (c *Client) Send(ctx context.Context, msg Message) (SendResult, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return SendResult{}, fmt.Errorf("encode message: %w", err)
	}
	// Sign what the server will decode, so numbers carry the same type on both ends.
	var wire Message
	if err := json.Unmarshal(body, &wire); err != nil {
		return SendResult{}, fmt.Errorf("decode message: %w", err)
	}
	env := c.signer.SignEnvelope(wire.signable(), uuid.NewString(), c.clock.Now())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send", bytes.NewReader(body))
	if err != nil {
		return SendResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, env.Signature)
	req.Header.Set(HeaderNonce, env.Nonce)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(env.Timestamp, 10))

	var out SendResult
	return out, c.do(req, &out)
}

func (c *Client) Inbox(ctx context.Context, recipient string) (Inbox, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/inbox/"+url.PathEscape(recipient), nil)
	if err != nil {
		return Inbox{}, err
	}
	var out Inbox
	return out, c.do(req, &out)
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return Status{}, err
	}
	var out Status
	return out, c.do(req, &out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("bus %s: %v: %w", req.URL.Path, err, wardenErrors.ErrTransient)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("bus %s: %s: %s: %w", req.URL.Path, resp.Status, strings.TrimSpace(string(raw)), statusError(resp.StatusCode))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode bus response: %w", err)
	}
	return nil
}

func statusError(code int) error {
	switch code {
	case http.StatusBadRequest:
		return wardenErrors.ErrInvalidInput
	case http.StatusUnauthorized:
		return wardenErrors.ErrUnauthenticated
	case http.StatusTooManyRequests:
		return wardenErrors.ErrRateLimited
	case http.StatusNotFound:
		return wardenErrors.ErrNotFound
	}
	if code >= 500 {
		return wardenErrors.ErrTransient
	}
	return wardenErrors.ErrInternal
}
