package blob

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrNotFound     = errors.New("blob not found")
	ErrInvalidPath  = errors.New("invalid blob path")
	ErrBadSignature = errors.New("signature invalid or expired")
)

// Store is the attachment store seam. The send pipeline uploads before
// the message write and deletes on compensation; Exists lets a retried
// send skip re-uploading a blob that is already stored.
type Store interface {
	Put(ctx context.Context, path string, data []byte) error
	Exists(ctx context.Context, path string) (bool, error)
	Get(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error

	// SignedURL returns an expiring URL the UI can fetch the blob from
	// without credentials.
	SignedURL(path string, ttl time.Duration) (string, error)
}
