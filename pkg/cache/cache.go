package cache

import (
	"io"
	"time"

	"github.com/pmkol/mosproxy/pkg/request_key"
)

// Backend is a concurrency-safe response body cache with a fixed ttl.
type Backend interface {
	// Get returns the cached body of key if it was inserted less than
	// TTL() ago. Expired entries are reported as missing but are not
	// removed. The returned slice must not be modified.
	Get(key request_key.RequestKey) (body []byte, ok bool)

	// Insert stores a copy of body and sets its expiration to now + TTL(),
	// replacing any previous entry of key.
	Insert(key request_key.RequestKey, body []byte)

	// RemoveExpired removes all entries whose expiration time is not
	// after now and returns how many were removed.
	RemoveExpired() int

	// Len returns the number of stored entries, expired or not.
	Len() int

	TTL() time.Duration

	io.Closer
}
