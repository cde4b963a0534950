package media

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/camden-git/scamqc/database"
	"github.com/camden-git/scamqc/geometry"
	"golang.org/x/sync/singleflight"
)

// ThumbnailFetcher downloads a thumbnail from the detection API
type ThumbnailFetcher interface {
	GetThumbnailBytes(ctx context.Context, thumbnailPath string) ([]byte, error)
}

// ThumbnailCache keeps fetched thumbnails on disk and indexes them in sqlite,
// so a folder only downloads each thumbnail once
type ThumbnailCache struct {
	db        *sql.DB
	store     Store
	processor *Processor
	fetcher   ThumbnailFetcher
	group     singleflight.Group
}

func NewThumbnailCache(db *sql.DB, store Store, fetcher ThumbnailFetcher) *ThumbnailCache {
	return &ThumbnailCache{
		db:        db,
		store:     store,
		processor: NewProcessor(store),
		fetcher:   fetcher,
	}
}

// Original returns the thumbnail bytes as served by the API, fetching them on
// a cache miss. Concurrent misses for the same path share one download.
func (c *ThumbnailCache) Original(ctx context.Context, folder, thumbnailPath string) ([]byte, database.CachedThumbnail, error) {
	row, err := database.GetCachedThumbnail(c.db, thumbnailPath)
	switch {
	case err == nil:
		data, readErr := c.read(row.CacheFile)
		if readErr == nil {
			return data, row, nil
		}
		log.Printf("media.cache: cached file for %s is unreadable, refetching: %v", thumbnailPath, readErr)
	case !errors.Is(err, sql.ErrNoRows):
		return nil, database.CachedThumbnail{}, err
	}

	type fetched struct {
		data []byte
		row  database.CachedThumbnail
	}
	v, err, _ := c.group.Do(thumbnailPath, func() (any, error) {
		data, row, err := c.fetch(ctx, folder, thumbnailPath)
		return fetched{data, row}, err
	})
	if err != nil {
		return nil, database.CachedThumbnail{}, err
	}
	f := v.(fetched)
	return f.data, f.row, nil
}

func (c *ThumbnailCache) fetch(ctx context.Context, folder, thumbnailPath string) ([]byte, database.CachedThumbnail, error) {
	data, err := c.fetcher.GetThumbnailBytes(ctx, thumbnailPath)
	if err != nil {
		return nil, database.CachedThumbnail{}, fmt.Errorf("fetching thumbnail %s: %w", thumbnailPath, err)
	}
	relPath, w, h, err := c.processor.SaveThumbnail(data)
	if err != nil {
		return nil, database.CachedThumbnail{}, fmt.Errorf("caching thumbnail %s: %w", thumbnailPath, err)
	}

	previous, prevErr := database.GetCachedThumbnail(c.db, thumbnailPath)
	row := database.CachedThumbnail{
		ThumbnailPath: thumbnailPath,
		FolderPath:    folder,
		CacheFile:     relPath,
		Width:         w,
		Height:        h,
		FetchedAt:     time.Now().Unix(),
	}
	if err := database.SetCachedThumbnail(c.db, row); err != nil {
		c.store.Delete(relPath)
		return nil, database.CachedThumbnail{}, err
	}
	if prevErr == nil && previous.CacheFile != relPath {
		if err := c.store.Delete(previous.CacheFile); err != nil {
			log.Printf("media.cache: failed to remove stale cache file %s: %v", previous.CacheFile, err)
		}
	}
	log.Printf("media.cache: cached %s (%dx%d) as %s", thumbnailPath, w, h, relPath)
	return data, row, nil
}

func (c *ThumbnailCache) read(relPath string) ([]byte, error) {
	rc, _, err := c.store.Get(relPath)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Rendered returns the thumbnail upright and turned clockwise by rotation
func (c *ThumbnailCache) Rendered(ctx context.Context, folder, thumbnailPath string, rotation int) ([]byte, error) {
	data, _, err := c.Original(ctx, folder, thumbnailPath)
	if err != nil {
		return nil, err
	}
	if geometry.NormalizeRotation(rotation) == 0 && ExifOrientation(data) == 1 {
		return data, nil
	}
	return c.processor.Render(data, rotation)
}

// Purge drops every cached thumbnail of a folder and returns how many were removed
func (c *ThumbnailCache) Purge(folder string) (int, error) {
	files, err := database.DeleteCachedThumbnails(c.db, folder)
	if err != nil {
		return 0, err
	}
	for _, f := range files {
		if err := c.store.Delete(f); err != nil {
			log.Printf("media.cache: failed to remove %s: %v", f, err)
		}
	}
	log.Printf("media.cache: purged %d thumbnail(s) of %s", len(files), folder)
	return len(files), nil
}
