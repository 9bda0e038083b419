// Package objectstore abstracts the bucket holding raw inputs, computed
// artifacts, and the published catalog.
package objectstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("object not found")

// ErrPreconditionFailed is returned when a conditional Put loses a race:
// either the key already exists (IfAbsent) or its ETag moved (IfMatch).
var ErrPreconditionFailed = errors.New("object precondition failed")

// Object is a fetched object with its version tag.
type Object struct {
	Key  string
	Body []byte
	ETag string
}

// PutOptions carries optional write preconditions. Zero value means
// unconditional overwrite.
type PutOptions struct {
	IfMatch     string // write only if the current ETag matches
	IfAbsent    bool   // write only if the key does not exist
	ContentType string
}

// Store is the object-store collaborator: list/get/put by key prefix, no
// versioning assumed beyond ETags on individual objects.
type Store interface {
	// List returns every key under prefix, transparently following
	// paginated/truncated listings.
	List(ctx context.Context, prefix string) ([]string, error)
	Get(ctx context.Context, key string) (*Object, error)
	Put(ctx context.Context, key string, body []byte, opts PutOptions) (etag string, err error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}
