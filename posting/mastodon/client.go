// Package mastodon implements posting.Client against the Mastodon REST API.
package mastodon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/GoCodeAlone/mastobot/posting"
)

const (
	verifyPath = "/api/v1/apps/verify_credentials"
	mediaPath  = "/api/v2/media"
	statusPath = "/api/v1/statuses"
)

// ErrInvalidInstanceURL is returned when the instance URL is not an absolute http(s) URL.
var ErrInvalidInstanceURL = errors.New("mastodon: invalid instance url")

// APIError is returned for non-successful API responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mastodon: api returned %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps authorization failures onto posting.ErrAuth.
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return posting.ErrAuth
	}
	return nil
}

// Client creates Mastodon sessions.
type Client struct {
	base    *http.Client
	timeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the client whose transport carries authenticated requests.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.base = c
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.timeout = d
		}
	}
}

// NewClient creates a Mastodon posting client.
func NewClient(opts ...Option) *Client {
	c := &Client{base: http.DefaultClient, timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Authenticate implements posting.Client. It builds a session carrying the
// bearer token; the credentials are checked by Session.Verify.
func (c *Client) Authenticate(ctx context.Context, instanceURL, token string) (posting.Session, error) {
	u, err := url.Parse(strings.TrimRight(instanceURL, "/"))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidInstanceURL, instanceURL)
	}
	if token == "" {
		return nil, fmt.Errorf("%w: empty access token", posting.ErrAuth)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.base)
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))
	httpClient.Timeout = c.timeout

	return &Session{http: httpClient, base: u}, nil
}

// Session is an authenticated Mastodon account.
type Session struct {
	http *http.Client
	base *url.URL
}

type idResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Verify implements posting.Session.
func (s *Session) Verify(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint(verifyPath), nil)
	if err != nil {
		return err
	}
	return s.do(req, nil)
}

// UploadMedia implements posting.Session.
func (s *Session) UploadMedia(ctx context.Context, filename string, r io.Reader) (posting.MediaRef, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", path.Base(filename))
	if err != nil {
		return "", err
	}
	if _, err = io.Copy(part, r); err != nil {
		return "", fmt.Errorf("mastodon: reading media: %w", err)
	}
	if err = mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint(mediaPath), &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp idResponse
	if err = s.do(req, &resp); err != nil {
		return "", err
	}
	return posting.MediaRef(resp.ID), nil
}

// CreatePost implements posting.Session.
func (s *Session) CreatePost(ctx context.Context, post posting.Post) (posting.PostID, error) {
	if err := post.Validate(); err != nil {
		return "", err
	}

	form := url.Values{}
	if post.Text != "" {
		form.Set("status", post.Text)
	}
	for _, m := range post.Media {
		form.Add("media_ids[]", string(m))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint(statusPath), strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp idResponse
	if err = s.do(req, &resp); err != nil {
		return "", err
	}
	return posting.PostID(resp.ID), nil
}

func (s *Session) endpoint(p string) string {
	u := *s.base
	u.Path = strings.TrimRight(u.Path, "/") + p
	return u.String()
}

func (s *Session) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("mastodon: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e errorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("mastodon: decoding %s response: %w", req.URL.Path, err)
	}
	return nil
}
