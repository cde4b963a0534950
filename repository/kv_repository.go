package repository

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/camden-git/scamqc/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormKeyValueRepository stores entries in the kv_entries table. A positive
// MaxBytes caps the summed size of all values.
type GormKeyValueRepository struct {
	db       *gorm.DB
	MaxBytes int64
}

func NewGormKeyValueRepository(db *gorm.DB, maxBytes int64) KeyValueStore {
	return &GormKeyValueRepository{db: db, MaxBytes: maxBytes}
}

func (r *GormKeyValueRepository) Get(key string) ([]byte, error) {
	var entry models.KeyValue
	err := r.db.Where("kv_key = ?", key).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return entry.Value, nil
}

func (r *GormKeyValueRepository) Set(key string, value []byte) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if r.MaxBytes > 0 {
			var used int64
			err := tx.Model(&models.KeyValue{}).
				Where("kv_key <> ?", key).
				Select("COALESCE(SUM(size), 0)").
				Scan(&used).Error
			if err != nil {
				return fmt.Errorf("failed to compute storage usage: %w", err)
			}
			if used+int64(len(value)) > r.MaxBytes {
				return fmt.Errorf("writing %d bytes under %s (%d of %d used): %w", len(value), key, used, r.MaxBytes, ErrQuotaExceeded)
			}
		}

		now := time.Now().Unix()
		entry := models.KeyValue{
			Key:       key,
			Value:     value,
			Size:      len(value),
			CreatedAt: now,
			UpdatedAt: now,
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "kv_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "size", "updated_at"}),
		}).Create(&entry).Error
		if err != nil {
			return fmt.Errorf("failed to set key %s: %w", key, err)
		}
		return nil
	})
}

func (r *GormKeyValueRepository) Delete(key string) error {
	if err := r.db.Where("kv_key = ?", key).Delete(&models.KeyValue{}).Error; err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

func (r *GormKeyValueRepository) List(prefix string) ([]models.KeyValue, error) {
	var entries []models.KeyValue
	err := r.db.Select("kv_key", "size", "created_at", "updated_at").
		Where("kv_key LIKE ? ESCAPE '\\'", escapeLike(prefix)+"%").
		Order("kv_key ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list keys with prefix %s: %w", prefix, err)
	}
	return entries, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
