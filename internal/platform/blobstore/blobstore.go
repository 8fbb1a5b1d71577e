// Package blobstore persists parsed lab reports as objects in a single
// bucket. It defines the Store interface, an in-memory implementation for
// tests and development, and an S3 implementation that hands out presigned
// GET URLs to downstream consumers.
package blobstore

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	ErrNotFound   = errors.New("blobstore: object not found")
	ErrEmptyKey   = errors.New("blobstore: object key is required")
	ErrTooLarge   = errors.New("blobstore: object exceeds maximum allowed size")
	ErrInvalidTTL = errors.New("blobstore: presign ttl must be positive")
)

// MaxObjectSize is the largest report document accepted by Put (25 MB).
const MaxObjectSize = 25 * 1024 * 1024

// ContentTypeJSON is the content type reports are stored with.
const ContentTypeJSON = "application/json"

// ---------------------------------------------------------------------------
// Domain types
// ---------------------------------------------------------------------------

// Object describes a stored object.
type Object struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ---------------------------------------------------------------------------
// Store interface
// ---------------------------------------------------------------------------

// Store is the contract for report storage backends. Keys are opaque,
// slash-separated object names within Bucket.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (*Object, error)
	Get(ctx context.Context, key string) ([]byte, *Object, error)
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
	Bucket() string
}

func validatePut(key string, data []byte) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	if len(data) > MaxObjectSize {
		return ErrTooLarge
	}
	return nil
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

type storedObject struct {
	object Object
	data   []byte
}

// MemoryStore is a thread-safe, in-memory Store for testing/dev.
type MemoryStore struct {
	bucket string
	now    func() time.Time

	mu      sync.RWMutex
	objects map[string]*storedObject
}

// NewMemoryStore returns a ready-to-use MemoryStore for the named bucket.
func NewMemoryStore(bucket string) *MemoryStore {
	if bucket == "" {
		bucket = "memory"
	}
	return &MemoryStore{
		bucket:  bucket,
		now:     func() time.Time { return time.Now().UTC() },
		objects: make(map[string]*storedObject),
	}
}

// Bucket returns the bucket name.
func (s *MemoryStore) Bucket() string { return s.bucket }

// Put stores a copy of data under key, replacing any previous object.
func (s *MemoryStore) Put(_ context.Context, key string, data []byte, contentType string) (*Object, error) {
	if err := validatePut(key, data); err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = ContentTypeJSON
	}

	h := sha256.Sum256(data)
	obj := Object{
		Key:         key,
		ContentType: contentType,
		Size:        int64(len(data)),
		Hash:        fmt.Sprintf("%x", h),
		CreatedAt:   s.now(),
	}

	s.mu.Lock()
	s.objects[key] = &storedObject{object: obj, data: append([]byte(nil), data...)}
	s.mu.Unlock()

	return &obj, nil
}

// Get returns a copy of the object content and its metadata.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, *Object, error) {
	s.mu.RLock()
	stored, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	obj := stored.object
	return append([]byte(nil), stored.data...), &obj, nil
}

// Presign returns a memory:// URL for an existing object. The URL only
// identifies the object; it cannot be fetched over the network.
func (s *MemoryStore) Presign(_ context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", ErrInvalidTTL
	}
	s.mu.RLock()
	_, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	u := url.URL{Scheme: "memory", Host: s.bucket, Path: "/" + key}
	q := url.Values{}
	q.Set("expires", s.now().Add(ttl).Format(time.RFC3339))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Keys lists stored keys with the given prefix in lexical order.
func (s *MemoryStore) Keys(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
