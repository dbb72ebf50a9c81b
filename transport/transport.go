// Package transport performs the outbound HTTP requests of the federation
// engine: plain WebFinger lookups, signed GETs of remote documents and
// signed POSTs to remote inboxes.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/cvhariharan/sailboat/apperror"
	"github.com/cvhariharan/sailboat/models"
	"github.com/cvhariharan/sailboat/signature"
)

const (
	DefaultTimeout   = 10 * time.Second
	DefaultUserAgent = "sailboat/0.1"

	jrdAccept = "application/jrd+json, application/json"
)

// StatusError is returned when a remote server answers with a non-2xx status.
type StatusError struct {
	URL  string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s responded %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

type Client struct {
	http *resty.Client
	now  func() time.Time
}

type Option func(*Client)

// WithHTTPClient sends requests through hc, keeping its transport and TLS
// configuration.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = resty.NewWithClient(hc).
			SetHeader("User-Agent", DefaultUserAgent).
			SetTimeout(DefaultTimeout)
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.SetTimeout(d) }
}

func WithUserAgent(ua string) Option {
	return func(c *Client) { c.http.SetHeader("User-Agent", ua) }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func New(opts ...Option) *Client {
	c := &Client{
		http: resty.New().
			SetHeader("User-Agent", DefaultUserAgent).
			SetTimeout(DefaultTimeout),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get fetches uri without a signature and decodes the JSON body into out.
func (c *Client) Get(ctx context.Context, uri string, out any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", jrdAccept).
		Get(uri)
	return decode(uri, resp, err, out)
}

// SignedGet fetches an ActivityPub document as the given profile.
func (c *Client) SignedGet(ctx context.Context, uri string, as *models.CurrentProfile, out any) error {
	req, err := c.signed(ctx, http.MethodGet, uri, as, nil)
	if err != nil {
		return err
	}
	resp, err := req.Get(uri)
	return decode(uri, resp, err, out)
}

// SignedPost delivers body to a remote inbox as the given profile. Transport
// failures and non-2xx responses are returned as BadGateway errors.
func (c *Client) SignedPost(ctx context.Context, uri string, as *models.CurrentProfile, body []byte) error {
	req, err := c.signed(ctx, http.MethodPost, uri, as, body)
	if err != nil {
		return err
	}
	resp, err := req.
		SetHeader("Content-Type", models.ContentType).
		SetBody(body).
		Post(uri)
	if err != nil {
		return apperror.BadGateway(err, "deliver to %s", uri)
	}
	if !resp.IsSuccess() {
		return apperror.BadGateway(statusError(uri, resp), "deliver to %s", uri)
	}
	return nil
}

func (c *Client) signed(ctx context.Context, method, uri string, as *models.CurrentProfile, body []byte) (*resty.Request, error) {
	if as == nil {
		return nil, apperror.Internal(errors.New("no current profile"), "sign %s %s", method, uri)
	}
	u, err := url.Parse(uri)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return nil, apperror.BadGateway(err, "invalid remote URI %q", uri)
	}
	if u.Path == "" {
		u.Path = "/"
	}

	date := c.now()
	var digest string
	if body != nil {
		digest = signature.Digest(body)
	}
	sig, err := signature.Sign(method, u, date, as.PrivateKey, as.KeyID(), digest)
	if err != nil {
		return nil, err
	}

	req := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", models.ContentType).
		SetHeader("Date", signature.FormatDate(date)).
		SetHeader(signature.HeaderName, sig)
	if digest != "" {
		req.SetHeader(signature.DigestHeader, digest)
	}
	return req, nil
}

func decode(uri string, resp *resty.Response, err error, out any) error {
	if err != nil {
		return apperror.BadGateway(err, "fetch %s", uri)
	}
	if !resp.IsSuccess() {
		return apperror.BadGateway(statusError(uri, resp), "fetch %s", uri)
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return apperror.BadGateway(err, "decode %s", uri)
	}
	return nil
}

func statusError(uri string, resp *resty.Response) *StatusError {
	body := resp.String()
	if len(body) > 256 {
		body = body[:256]
	}
	return &StatusError{URL: uri, Code: resp.StatusCode(), Body: body}
}
