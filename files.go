package mastobot

import (
	"context"
	"io"
)

// FileService is a service listing and fetching files from a backend.
// Implementations must be safe for concurrent use.
type FileService interface {
	Service

	// List returns the entry IDs below path. The result is finite.
	List(ctx context.Context, path string) ([]string, error)

	// Fetch makes an entry available locally. The caller must Close the
	// returned file, which releases any temporary resource behind it.
	Fetch(ctx context.Context, id string) (LocalFile, error)
}

// LocalFile is a scoped local handle on a fetched entry.
type LocalFile interface {
	io.ReadCloser

	// Name returns the base name of the entry, used as upload filename.
	Name() string
}
