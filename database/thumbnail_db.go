package database

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	sq "github.com/Masterminds/squirrel"
)

// CachedThumbnail is one row of the thumbnail cache index
type CachedThumbnail struct {
	ThumbnailPath string
	FolderPath    string
	CacheFile     string
	Width         int
	Height        int
	FetchedAt     int64
}

// GetCachedThumbnail returns sql.ErrNoRows when the thumbnail was never fetched
func GetCachedThumbnail(db *sql.DB, thumbnailPath string) (CachedThumbnail, error) {
	info := CachedThumbnail{ThumbnailPath: thumbnailPath}
	queryBuilder := psql.Select(
		"folder_path",
		"cache_file",
		"width",
		"height",
		"fetched_at",
	).From("thumbnail_cache").
		Where(sq.Eq{"thumbnail_path": filepath.ToSlash(thumbnailPath)}).
		Limit(1)

	sqlStr, args, err := queryBuilder.ToSql()
	if err != nil {
		return CachedThumbnail{}, fmt.Errorf("failed to build SQL query for GetCachedThumbnail: %w", err)
	}

	err = db.QueryRow(sqlStr, args...).Scan(
		&info.FolderPath,
		&info.CacheFile,
		&info.Width,
		&info.Height,
		&info.FetchedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CachedThumbnail{}, sql.ErrNoRows
		}
		return CachedThumbnail{}, fmt.Errorf("failed to query or scan cached thumbnail %s: %w", thumbnailPath, err)
	}
	return info, nil
}

// SetCachedThumbnail inserts or updates a cache row
func SetCachedThumbnail(db *sql.DB, t CachedThumbnail) error {
	queryBuilder := psql.Insert("thumbnail_cache").
		Columns(
			"thumbnail_path",
			"folder_path",
			"cache_file",
			"width",
			"height",
			"fetched_at",
		).
		Values(
			filepath.ToSlash(t.ThumbnailPath),
			t.FolderPath,
			t.CacheFile,
			t.Width,
			t.Height,
			t.FetchedAt,
		).
		Suffix("ON CONFLICT(thumbnail_path) DO UPDATE SET").
		Suffix("folder_path = excluded.folder_path,").
		Suffix("cache_file = excluded.cache_file,").
		Suffix("width = excluded.width,").
		Suffix("height = excluded.height,").
		Suffix("fetched_at = excluded.fetched_at")

	sqlStr, args, err := queryBuilder.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build SQL query for SetCachedThumbnail: %w", err)
	}
	if _, err = db.Exec(sqlStr, args...); err != nil {
		return fmt.Errorf("failed to execute set cached thumbnail for %s: %w", t.ThumbnailPath, err)
	}
	return nil
}

// ListCachedThumbnails returns every cached thumbnail of a folder
func ListCachedThumbnails(db *sql.DB, folderPath string) ([]CachedThumbnail, error) {
	queryBuilder := psql.Select(
		"thumbnail_path",
		"folder_path",
		"cache_file",
		"width",
		"height",
		"fetched_at",
	).From("thumbnail_cache").
		Where(sq.Eq{"folder_path": folderPath}).
		OrderBy("thumbnail_path ASC")

	sqlStr, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build SQL query for ListCachedThumbnails: %w", err)
	}

	rows, err := db.Query(sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cached thumbnails for %s: %w", folderPath, err)
	}
	defer rows.Close()

	var out []CachedThumbnail
	for rows.Next() {
		var t CachedThumbnail
		if err := rows.Scan(&t.ThumbnailPath, &t.FolderPath, &t.CacheFile, &t.Width, &t.Height, &t.FetchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cached thumbnail row: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cached thumbnails: %w", err)
	}
	return out, nil
}

// DeleteCachedThumbnails drops the index rows of a folder and returns the
// cache files they pointed to
func DeleteCachedThumbnails(db *sql.DB, folderPath string) ([]string, error) {
	cached, err := ListCachedThumbnails(db, folderPath)
	if err != nil {
		return nil, err
	}

	sqlStr, args, err := psql.Delete("thumbnail_cache").Where(sq.Eq{"folder_path": folderPath}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build SQL query for DeleteCachedThumbnails: %w", err)
	}
	if _, err := db.Exec(sqlStr, args...); err != nil {
		return nil, fmt.Errorf("failed to delete cached thumbnails for %s: %w", folderPath, err)
	}

	files := make([]string, 0, len(cached))
	for _, t := range cached {
		files = append(files, t.CacheFile)
	}
	return files, nil
}
