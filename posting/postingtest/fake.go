// Package postingtest provides in-memory posting backends for tests.
package postingtest

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/GoCodeAlone/mastobot/posting"
)

// Upload records one media upload.
type Upload struct {
	Filename string
	Data     []byte
}

// Client is a fake posting.Client. Tokens listed in Rejected fail to
// authenticate; every other non-empty token succeeds.
type Client struct {
	mu       sync.Mutex
	Rejected map[string]bool
	// VerifyErr, when set, is returned from every session's Verify.
	VerifyErr error
	// PostErr, when set, is returned from CreatePost.
	PostErr  error
	sessions []*Session
}

// NewClient returns a fake client that accepts every token.
func NewClient() *Client {
	return &Client{Rejected: make(map[string]bool)}
}

// Authenticate implements posting.Client.
func (c *Client) Authenticate(_ context.Context, instanceURL, token string) (posting.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if token == "" || c.Rejected[token] {
		return nil, fmt.Errorf("%w: token rejected by %s", posting.ErrAuth, instanceURL)
	}
	s := &Session{client: c, InstanceURL: instanceURL, Token: token}
	c.sessions = append(c.sessions, s)
	return s, nil
}

// Sessions returns every session created so far.
func (c *Client) Sessions() []*Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Session(nil), c.sessions...)
}

// Posts returns the posts created through every session.
func (c *Client) Posts() []posting.Post {
	var posts []posting.Post
	for _, s := range c.Sessions() {
		posts = append(posts, s.Posts()...)
	}
	return posts
}

// Session is a fake posting.Session recording uploads and posts.
type Session struct {
	client      *Client
	InstanceURL string
	Token       string

	mu      sync.Mutex
	uploads []Upload
	posts   []posting.Post
}

// Verify implements posting.Session.
func (s *Session) Verify(context.Context) error {
	s.client.mu.Lock()
	defer s.client.mu.Unlock()
	if s.client.VerifyErr != nil {
		return fmt.Errorf("%w: %w", posting.ErrAuth, s.client.VerifyErr)
	}
	return nil
}

// UploadMedia implements posting.Session.
func (s *Session) UploadMedia(_ context.Context, filename string, r io.Reader) (posting.MediaRef, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads = append(s.uploads, Upload{Filename: filename, Data: data})
	return posting.MediaRef(fmt.Sprintf("media-%d", len(s.uploads))), nil
}

// CreatePost implements posting.Session.
func (s *Session) CreatePost(_ context.Context, post posting.Post) (posting.PostID, error) {
	if err := post.Validate(); err != nil {
		return "", err
	}
	s.client.mu.Lock()
	postErr := s.client.PostErr
	s.client.mu.Unlock()
	if postErr != nil {
		return "", postErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts = append(s.posts, post)
	return posting.PostID(fmt.Sprintf("post-%d", len(s.posts))), nil
}

// Uploads returns the recorded uploads.
func (s *Session) Uploads() []Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Upload(nil), s.uploads...)
}

// Posts returns the recorded posts.
func (s *Session) Posts() []posting.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]posting.Post(nil), s.posts...)
}
