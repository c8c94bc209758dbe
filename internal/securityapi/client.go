package securityapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/courier-hub/courier_admin/internal/identity"
	"github.com/courier-hub/courier_admin/internal/logging"
	"github.com/courier-hub/courier_admin/internal/security"
)

const (
	pathLogin            = "/auth/login"
	pathMe               = "/auth/me"
	pathHealth           = "/health"
	pathStatus           = "/security/status"
	pathSetPIN           = "/security/pin"
	pathVerifyPIN        = "/security/pin/verify"
	pathRegisterOptions  = "/security/webauthn/register/options"
	pathRegisterVerify   = "/security/webauthn/register/verify"
	pathAuthOptions      = "/security/webauthn/authenticate/options"
	pathAuthVerify       = "/security/webauthn/authenticate/verify"
	pathSendSMS          = "/security/sms/send"
	pathVerifySMS        = "/security/sms/verify"
	defaultTimeout       = 15 * time.Second
	maxResponseBodyBytes = 1 << 20
)

// ErrMissingToken is returned when a security call is made on a client that
// has no bearer token bound.
var ErrMissingToken = errors.New("no bearer token bound to client")

// Options configures a Client.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks JSON to the REST backend. A Client value is bound to at most
// one bearer token; use WithToken to derive a client for a user.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *slog.Logger
	token      string
}

var (
	_ security.API     = (*Client)(nil)
	_ identity.Backend = (*Client)(nil)
)

// New validates opts and builds an unauthenticated client.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("backend url %q must be absolute http(s)", opts.BaseURL)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Client{baseURL: base, httpClient: httpClient, logger: logger}, nil
}

// WithToken returns a copy of c that authenticates every call with token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, creds identity.Credentials) (string, error) {
	var out loginResponse
	if err := c.do(ctx, http.MethodPost, pathLogin, false, loginRequest{Username: creds.Username, Password: creds.Password}, &out); err != nil {
		return "", err
	}
	if out.Token != "" {
		return out.Token, nil
	}
	return out.AccessToken, nil
}

// Me reads the user the bound token belongs to.
func (c *Client) Me(ctx context.Context) (identity.User, error) {
	var user identity.User
	if err := c.do(ctx, http.MethodGet, pathMe, true, nil, &user); err != nil {
		return identity.User{}, err
	}
	return user, nil
}

// UserForToken is Me with an explicit token.
func (c *Client) UserForToken(ctx context.Context, token string) (identity.User, error) {
	return c.WithToken(token).Me(ctx)
}

// Ping reports whether the backend answers at all. Any non-5xx status counts.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(pathHealth), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", security.ErrTransport, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBodyBytes))
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: status %d", security.ErrTransport, resp.StatusCode)
	}
	return nil
}

func (c *Client) Status(ctx context.Context) (security.Status, error) {
	var st security.Status
	if err := c.do(ctx, http.MethodGet, pathStatus, true, nil, &st); err != nil {
		return security.Status{}, err
	}
	return st, nil
}

type pinRequest struct {
	PIN string `json:"pin"`
}

func (c *Client) SetPIN(ctx context.Context, pin string) error {
	return c.do(ctx, http.MethodPost, pathSetPIN, true, pinRequest{PIN: pin}, nil)
}

func (c *Client) VerifyPIN(ctx context.Context, pin string) error {
	return c.do(ctx, http.MethodPost, pathVerifyPIN, true, pinRequest{PIN: pin}, nil)
}

func (c *Client) RegistrationOptions(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodPost, pathRegisterOptions, true, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) VerifyRegistration(ctx context.Context, attestation json.RawMessage) error {
	return c.do(ctx, http.MethodPost, pathRegisterVerify, true, attestation, nil)
}

func (c *Client) AuthenticationOptions(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodPost, pathAuthOptions, true, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) VerifyAuthentication(ctx context.Context, assertion json.RawMessage) error {
	return c.do(ctx, http.MethodPost, pathAuthVerify, true, assertion, nil)
}

type smsRequest struct {
	PhoneNumber string `json:"phone_number"`
	Code        string `json:"code,omitempty"`
}

func (c *Client) SendSMSCode(ctx context.Context, phone string) error {
	return c.do(ctx, http.MethodPost, pathSendSMS, true, smsRequest{PhoneNumber: phone}, nil)
}

func (c *Client) VerifySMSCode(ctx context.Context, phone, code string) error {
	return c.do(ctx, http.MethodPost, pathVerifySMS, true, smsRequest{PhoneNumber: phone, Code: code}, nil)
}

func (c *Client) endpoint(path string) string {
	return c.baseURL.String() + path
}

// do sends one JSON request. A json.RawMessage body is sent byte-for-byte.
func (c *Client) do(ctx context.Context, method, path string, authed bool, body, out any) error {
	if authed && c.token == "" {
		return ErrMissingToken
	}

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case json.RawMessage:
		reader = bytes.NewReader(b)
	default:
		payload, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), reader)
	if err != nil {
		return fmt.Errorf("create %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// The caller gave up; not a backend failure.
			return ctx.Err()
		}
		c.logger.Warn("backend request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.Any("error", err),
		)
		return fmt.Errorf("%w: %s %s: %w", security.ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: read %s response: %w", security.ErrTransport, path, err)
	}
	c.logger.Debug("backend request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	return decodeResponse(resp.StatusCode, path, authed, raw, out)
}
