// Package storage provides the local durable cache (sqlite-backed key/value
// entries holding whole JSON documents) and the in-memory trade store the
// sync path degrades to when remote persistence is unavailable.
package storage

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// TradesKey is the fixed cache key for the locally cached trade array.
const TradesKey = "trades"

// CacheEntry is one durable key/value row. The value is always a complete
// JSON document; the last full write for a key wins.
type CacheEntry struct {
	Key       string `gorm:"primaryKey"`
	Value     []byte
	UpdatedAt time.Time
}

// SQLiteCache is the gorm-backed durable cache.
type SQLiteCache struct {
	db *gorm.DB
}

// NewSQLiteCache opens (or creates) the cache database and migrates its schema.
func NewSQLiteCache(dsn string) (*SQLiteCache, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	if err := db.AutoMigrate(&CacheEntry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate cache schema: %w", err)
	}
	return &SQLiteCache{db: db}, nil
}

// Put writes the full document for key, replacing any previous value.
func (c *SQLiteCache) Put(key string, value []byte) error {
	entry := CacheEntry{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	err := c.db.Save(&entry).Error
	if err != nil {
		return fmt.Errorf("cache put %q: %w", key, err)
	}
	return nil
}

// Get returns the document for key, or nil when the key has never been written.
func (c *SQLiteCache) Get(key string) ([]byte, error) {
	var entry CacheEntry
	err := c.db.First(&entry, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get %q: %w", key, err)
	}
	return entry.Value, nil
}

// Delete removes the document for key. Deleting an absent key is not an error.
func (c *SQLiteCache) Delete(key string) error {
	err := c.db.Delete(&CacheEntry{}, "key = ?", key).Error
	if err != nil {
		return fmt.Errorf("cache delete %q: %w", key, err)
	}
	return nil
}
