// Package blob stores uploaded document files. The S3 backend talks to
// any S3-compatible service through minio-go; the disk backend keeps files
// under a local directory for development and tests.
package blob

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a key has no stored object.
var ErrNotFound = errors.New("blob not found")

// Store is an opaque object store.
type Store interface {
	// Put writes data under key and returns the object's URL.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// PresignGet returns a URL granting temporary read access to key.
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// DocumentKey builds the object key of an uploaded document. The random
// prefix keeps repeated uploads of the same file name apart.
func DocumentKey(shipmentID, fileName string) string {
	return fmt.Sprintf("shipments/%s/documents/%s_%s", shipmentID, uuid.New().String(), fileName)
}
