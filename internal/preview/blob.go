package preview

import (
	"sync"

	"github.com/google/uuid"
)

// Blob is one materialized preview document, addressable by token until
// revoked.
type Blob struct {
	ContentType string
	Data        []byte
}

// BlobStore holds transient preview documents in memory. Tokens are
// unguessable; a revoked token is gone for good.
type BlobStore struct {
	mu    sync.RWMutex
	blobs map[string]Blob
}

// NewBlobStore constructs an empty blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: make(map[string]Blob)}
}

// Put stores a blob and returns its token.
func (s *BlobStore) Put(contentType string, data []byte) string {
	token := uuid.NewString()
	s.mu.Lock()
	s.blobs[token] = Blob{ContentType: contentType, Data: data}
	s.mu.Unlock()
	return token
}

// Get fetches a blob by token.
func (s *BlobStore) Get(token string) (Blob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[token]
	return b, ok
}

// Revoke drops a blob. Revoking an unknown token is a no-op.
func (s *BlobStore) Revoke(token string) {
	s.mu.Lock()
	delete(s.blobs, token)
	s.mu.Unlock()
}

// Len reports how many blobs are live.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
