// Package remote is the client of the membership API: it wraps every call in
// the response envelope, attaches the session token and transparently
// refreshes it once when a call comes back 401.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"membership/internal/log"
)

const refreshPath = "/auth/refresh-token"

// maxBodyBytes bounds how much of a response is read.
const maxBodyBytes = 10 << 20

// TokenStore holds the access token sent with every call.
type TokenStore interface {
	Token(ctx context.Context) (string, error)
	SetToken(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}

type Config struct {
	BaseURL string
	Timeout time.Duration
	// AuthScheme prefixes the token in the Authorization header, e.g.
	// "Bearer". Empty sends the raw token.
	AuthScheme string
	HTTPClient *http.Client
	Logger     *log.Logger
}

type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	tokens     TokenStore
	authScheme string
	logger     *log.Logger
	refresh    singleflight.Group
}

func NewClient(cfg Config, tokens TokenStore) (*Client, error) {
	if tokens == nil {
		return nil, errors.New("token store is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	if hc.Jar == nil {
		// The refresh endpoint authenticates with a cookie set at sign-in.
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		hc.Jar = jar
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.Discard()
	}

	return &Client{
		baseURL:    base,
		httpClient: hc,
		tokens:     tokens,
		authScheme: strings.TrimSpace(cfg.AuthScheme),
		logger:     logger.WithComponent(log.ComponentRemote),
	}, nil
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *Client) authorization(token string) string {
	if c.authScheme == "" {
		return token
	}
	return c.authScheme + " " + token
}

type response struct {
	status int
	body   []byte
}

func (c *Client) send(ctx context.Context, method, target string, body []byte, token string) (*response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", c.authorization(token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &response{status: resp.StatusCode, body: data}, nil
}

// do performs one API call and decodes the envelope. On 401 it refreshes the
// token once and retries once; a second 401 ends the session.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, in any) (Envelope, error) {
	op := method + " " + path

	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return Envelope{}, fmt.Errorf("encode %s: %w", op, err)
		}
		body = b
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return Envelope{}, fmt.Errorf("load session token: %w", err)
	}

	target := c.endpoint(path, q)
	resp, err := c.send(ctx, method, target, body, token)
	if err != nil {
		return Envelope{}, &TransportError{Op: op, Err: err}
	}

	if resp.status == http.StatusUnauthorized {
		c.logger.DebugContext(ctx, "Access token rejected, refreshing", log.FieldEndpoint, op)
		fresh, err := c.refreshToken(ctx, token)
		if err != nil {
			return Envelope{}, err
		}
		resp, err = c.send(ctx, method, target, body, fresh)
		if err != nil {
			return Envelope{}, &TransportError{Op: op, Err: err}
		}
		if resp.status == http.StatusUnauthorized {
			c.endSession(ctx)
			return Envelope{}, ErrSessionExpired
		}
	}

	return c.classify(op, resp)
}

func (c *Client) classify(op string, resp *response) (Envelope, error) {
	var env Envelope
	decodeErr := json.Unmarshal(resp.body, &env)

	switch {
	case resp.status == http.StatusUnauthorized:
		return env, ErrUnauthorized
	case resp.status == http.StatusForbidden:
		return env, ErrForbidden
	case resp.status == http.StatusNotFound:
		if env.Message != "" {
			return env, fmt.Errorf("%s: %w", env.Message, ErrNotFound)
		}
		return env, ErrNotFound
	case resp.status >= 500:
		return env, &TransportError{Op: op, Status: resp.status}
	case resp.status >= 400:
		msg := env.Message
		if decodeErr != nil || msg == "" {
			msg = "Request failed."
		}
		return env, &DomainError{Status: resp.status, Message: msg}
	}

	if decodeErr != nil {
		return env, &TransportError{Op: op, Status: resp.status, Err: fmt.Errorf("decode envelope: %w", decodeErr)}
	}
	if !env.Success {
		msg := env.Message
		if msg == "" {
			msg = "Request failed."
		}
		return env, &DomainError{Status: resp.status, Message: msg}
	}
	return env, nil
}

type refreshResult struct {
	AccessToken string `json:"accessToken"`
}

// refreshToken obtains a new access token. Concurrent callers that saw the
// same stale token share one refresh request; a caller whose stale token
// was already replaced reuses the replacement.
func (c *Client) refreshToken(ctx context.Context, stale string) (string, error) {
	if current, err := c.tokens.Token(ctx); err == nil && current != "" && current != stale {
		return current, nil
	}

	v, err, _ := c.refresh.Do("refresh:"+stale, func() (any, error) {
		resp, err := c.send(ctx, http.MethodPost, c.endpoint(refreshPath, nil), nil, "")
		if err != nil {
			return "", &TransportError{Op: "POST " + refreshPath, Err: err}
		}
		if resp.status >= 500 {
			return "", &TransportError{Op: "POST " + refreshPath, Status: resp.status}
		}

		var env Envelope
		var out refreshResult
		if resp.status == http.StatusOK && json.Unmarshal(resp.body, &env) == nil {
			_ = json.Unmarshal(env.Data, &out)
		}
		if out.AccessToken == "" {
			c.endSession(ctx)
			return "", ErrSessionExpired
		}
		if err := c.tokens.SetToken(ctx, out.AccessToken); err != nil {
			return "", fmt.Errorf("store refreshed token: %w", err)
		}
		c.logger.InfoContext(ctx, "Access token refreshed", log.FieldOperation, log.OpRefresh)
		return out.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) endSession(ctx context.Context) {
	if err := c.tokens.Clear(ctx); err != nil {
		c.logger.ErrorContext(ctx, "Failed to clear session", log.FieldError, err)
		return
	}
	c.logger.WarnContext(ctx, "Session expired, token cleared", log.FieldOperation, log.OpRefresh)
}
