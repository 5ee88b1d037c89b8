package mastobot

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/GoCodeAlone/mastobot/posting"
)

// Credentials are the options every module needs to connect.
type Credentials struct {
	InstanceURL string `option:"instance_url" validate:"required,url"`
	AccessToken string `option:"access_token" validate:"required"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate reports missing or malformed credentials as ErrConfiguration.
func (c *Credentials) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: no credentials", ErrConfiguration)
	}
	if err := validate.Struct(c); err != nil {
		var missing []string
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				missing = append(missing, credentialOption(fe.StructField())+" ("+fe.Tag()+")")
			}
			return fmt.Errorf("%w: invalid options: %s", ErrConfiguration, strings.Join(missing, ", "))
		}
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return nil
}

func credentialOption(field string) string {
	switch field {
	case "InstanceURL":
		return "instance_url"
	case "AccessToken":
		return "access_token"
	default:
		return field
	}
}

// BaseModule implements the connection half of Module. Concrete modules
// embed it and implement Start.
//
//	type Poster struct {
//		mastobot.BaseModule
//		config PosterConfig
//	}
//
//	func NewPoster() *Poster {
//		p := &Poster{}
//		p.BaseModule = mastobot.NewBaseModule("poster", &p.config.Credentials)
//		return p
//	}
type BaseModule struct {
	name        string
	credentials *Credentials

	mu      sync.RWMutex
	session posting.Session
}

// NewBaseModule creates a base bound to the credentials living in the
// module's config struct.
func NewBaseModule(name string, credentials *Credentials) BaseModule {
	return BaseModule{name: name, credentials: credentials}
}

// Name implements Unit.
func (b *BaseModule) Name() string {
	return b.name
}

// Connect validates the credentials, authenticates and verifies the
// session. Missing or malformed credentials fail with ErrConfiguration,
// rejected ones with ErrConnection.
func (b *BaseModule) Connect(ctx context.Context, client posting.Client) error {
	if err := b.credentials.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	if client == nil {
		return fmt.Errorf("%w: no posting client", ErrConnection)
	}

	session, err := client.Authenticate(ctx, b.credentials.InstanceURL, b.credentials.AccessToken)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	if err := session.Verify(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}

	b.mu.Lock()
	b.session = session
	b.mu.Unlock()
	return nil
}

// Session returns the authenticated session, or nil before Connect.
func (b *BaseModule) Session() posting.Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.session
}

// PostMedia uploads file as an attachment and publishes a post carrying it
// with the given text. The file is read but not closed.
func (b *BaseModule) PostMedia(ctx context.Context, file LocalFile, text string) (posting.PostID, error) {
	session := b.Session()
	if session == nil {
		return "", ErrNotConnected
	}

	ref, err := session.UploadMedia(ctx, file.Name(), file)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", file.Name(), err)
	}

	id, err := session.CreatePost(ctx, posting.Post{Text: text, Media: []posting.MediaRef{ref}})
	if err != nil {
		return "", fmt.Errorf("create post: %w", err)
	}
	return id, nil
}
