package repository

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/camden-git/scamqc/models"
)

// MemoryKeyValueStore keeps entries in process memory, with the same quota
// behaviour as the gorm store. Used by the headless CLI run and tests.
type MemoryKeyValueStore struct {
	mu       sync.RWMutex
	entries  map[string]models.KeyValue
	MaxBytes int64
}

func NewMemoryKeyValueStore(maxBytes int64) *MemoryKeyValueStore {
	return &MemoryKeyValueStore{entries: make(map[string]models.KeyValue), MaxBytes: maxBytes}
}

func (m *MemoryKeyValueStore) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.Value...), nil
}

func (m *MemoryKeyValueStore) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.MaxBytes > 0 {
		var used int64
		for k, e := range m.entries {
			if k != key {
				used += int64(e.Size)
			}
		}
		if used+int64(len(value)) > m.MaxBytes {
			return fmt.Errorf("writing %d bytes under %s (%d of %d used): %w", len(value), key, used, m.MaxBytes, ErrQuotaExceeded)
		}
	}

	now := time.Now().Unix()
	e, ok := m.entries[key]
	if !ok {
		e = models.KeyValue{Key: key, CreatedAt: now}
	}
	e.Value = append([]byte(nil), value...)
	e.Size = len(value)
	e.UpdatedAt = now
	m.entries[key] = e
	return nil
}

func (m *MemoryKeyValueStore) Delete(key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryKeyValueStore) List(prefix string) ([]models.KeyValue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.KeyValue
	for k, e := range m.entries {
		if strings.HasPrefix(k, prefix) {
			e.Value = nil
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
