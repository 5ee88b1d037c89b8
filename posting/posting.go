// Package posting defines the boundary to the outbound posting backend.
//
// The runtime only depends on these interfaces; the Mastodon implementation
// lives in the mastodon subpackage and tests use the fakes in postingtest.
package posting

import (
	"context"
	"errors"
	"io"
)

// ErrAuth is returned when the backend rejects the instance URL or token.
var ErrAuth = errors.New("posting: authentication failed")

// ErrEmptyPost is returned when a post has neither text nor media.
var ErrEmptyPost = errors.New("posting: post needs text or media")

// MediaRef identifies an uploaded attachment.
type MediaRef string

// PostID identifies a created post.
type PostID string

// Post is the content of a single outbound post.
type Post struct {
	Text  string
	Media []MediaRef
}

// Validate checks that the post carries something to publish.
func (p Post) Validate() error {
	if p.Text == "" && len(p.Media) == 0 {
		return ErrEmptyPost
	}
	return nil
}

// Client creates authenticated sessions.
type Client interface {
	Authenticate(ctx context.Context, instanceURL, token string) (Session, error)
}

// Session is an authenticated connection to one posting account.
// Sessions are used from concurrent scheduled invocations and must be
// safe for concurrent use.
type Session interface {
	// Verify checks that the credentials are still accepted.
	Verify(ctx context.Context) error

	// UploadMedia uploads one attachment read from r.
	UploadMedia(ctx context.Context, filename string, r io.Reader) (MediaRef, error)

	// CreatePost publishes a post.
	CreatePost(ctx context.Context, post Post) (PostID, error)
}
