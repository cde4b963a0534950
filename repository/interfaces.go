package repository

import (
	"errors"

	"github.com/camden-git/scamqc/models"
)

var (
	// ErrNotFound is returned by Get for an absent key
	ErrNotFound = errors.New("key not found")
	// ErrQuotaExceeded is returned by Set when the write would exceed the
	// store's byte budget
	ErrQuotaExceeded = errors.New("storage quota exceeded")
)

// KeyValueStore is the durable persistence port used for drafts
type KeyValueStore interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
	// List returns the entries whose key starts with prefix, without values
	List(prefix string) ([]models.KeyValue, error)
}
