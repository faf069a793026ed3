package staging

import (
	"context"
	"strconv"
	"sync"

	"github.com/pkg/errors"
)

// MemoryStore is an in-memory, versioned BlobStore for testing.
type MemoryStore struct {
	bucket string
	mu     sync.Mutex
	seq    int
	// Objects indexes the live versions of each key.
	Objects map[string]map[string]MemoryObject
	// Puts counts attempted Puts.
	Puts int
	// Reject, if set, is consulted by each Put. A non-nil error fails the Put.
	Reject func(key string) error
}

// MemoryObject is a version of a MemoryStore object.
type MemoryObject struct {
	Body            []byte
	ContentEncoding string
}

var _ BlobStore = &MemoryStore{} // MemoryStore is-a BlobStore.

// NewMemoryStore returns an empty MemoryStore of the bucket.
func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{bucket: bucket, Objects: make(map[string]map[string]MemoryObject)}
}

// Provider implements BlobStore.
func (s *MemoryStore) Provider() string { return "memory" }

// Bucket implements BlobStore.
func (s *MemoryStore) Bucket() string { return s.bucket }

// Put implements BlobStore.
func (s *MemoryStore) Put(_ context.Context, key string, body []byte, contentEncoding string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Puts++
	if s.Reject != nil {
		if err := s.Reject(key); err != nil {
			return "", err
		}
	}
	s.seq++
	var version = strconv.Itoa(s.seq)

	if s.Objects[key] == nil {
		s.Objects[key] = make(map[string]MemoryObject)
	}
	s.Objects[key][version] = MemoryObject{
		Body:            append([]byte(nil), body...),
		ContentEncoding: contentEncoding,
	}
	return version, nil
}

// Get implements BlobStore.
func (s *MemoryStore) Get(_ context.Context, key, version string) ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if version == "" {
		version = s.latest(key)
	}
	var obj, ok = s.Objects[key][version]
	if !ok {
		return nil, "", errors.Errorf("memory://%s/%s version %q not found", s.bucket, key, version)
	}
	return append([]byte(nil), obj.Body...), obj.ContentEncoding, nil
}

// Delete implements BlobStore.
func (s *MemoryStore) Delete(_ context.Context, key, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if version == "" {
		version = s.latest(key)
	}
	delete(s.Objects[key], version)
	if len(s.Objects[key]) == 0 {
		delete(s.Objects, key)
	}
	return nil
}

// Len returns the number of live object versions.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for _, versions := range s.Objects {
		n += len(versions)
	}
	return n
}

func (s *MemoryStore) latest(key string) string {
	var out, max = "", 0
	for v := range s.Objects[key] {
		if n, _ := strconv.Atoi(v); n > max {
			out, max = v, n
		}
	}
	return out
}
