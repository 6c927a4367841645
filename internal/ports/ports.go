package ports

import "time"

// Clock abstracts time so rate limiting and queue backoff can be tested
// without real delays.
type Clock interface {
	Now() time.Time
}

// RealClock is the Clock used outside tests.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// Cache is a durable key/value store holding one JSON document per fixed key.
// The last full write for a key wins; merging happens in memory before the
// write, never at the storage layer.
type Cache interface {
	Put(key string, value []byte) error
	Get(key string) ([]byte, error)
	Delete(key string) error
}
