package media

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Store saves and serves cached assets
type Store interface {
	// Save writes data under the directory of assetType. An empty filename
	// gets a random one with the given extension. Returns the relative path.
	Save(assetType AssetType, filename, ext string, data io.Reader) (string, error)
	Get(relativePath string) (io.ReadCloser, os.FileInfo, error)
	Delete(relativePath string) error
	GetFullPath(relativePath string) (string, error)
}

// LocalStorage keeps assets on the local filesystem below basePath
type LocalStorage struct {
	basePath string
	subDirs  map[AssetType]string // relative to basePath
}

func NewLocalStorage(basePath string, subDirs map[AssetType]string) (*LocalStorage, error) {
	absBasePath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("invalid base storage path '%s': %w", basePath, err)
	}
	if err := os.MkdirAll(absBasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base storage directory '%s': %w", absBasePath, err)
	}

	resolved := make(map[AssetType]string, len(subDirs))
	for assetType, subDir := range subDirs {
		if !within(absBasePath, filepath.Join(absBasePath, subDir)) {
			return nil, fmt.Errorf("invalid subdirectory configuration: '%s' resolves outside base path '%s'", subDir, absBasePath)
		}
		resolved[assetType] = filepath.Clean(subDir)
	}

	log.Printf("media.store: Initialized LocalStorage at %s", absBasePath)
	return &LocalStorage{basePath: absBasePath, subDirs: resolved}, nil
}

func within(base, path string) bool {
	clean := filepath.Clean(path)
	return clean == base || strings.HasPrefix(clean, base+string(filepath.Separator))
}

func (ls *LocalStorage) dirFor(assetType AssetType) string {
	if sub, ok := ls.subDirs[assetType]; ok {
		return sub
	}
	return string(assetType)
}

func (ls *LocalStorage) Save(assetType AssetType, filename, ext string, data io.Reader) (string, error) {
	if filename == "" {
		id, err := uuid.NewRandom()
		if err != nil {
			return "", fmt.Errorf("failed to generate asset name: %w", err)
		}
		filename = id.String() + ext
	}
	relPath := filepath.Join(ls.dirFor(assetType), filename)
	fullPath, err := ls.GetFullPath(relPath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return "", fmt.Errorf("failed to ensure directory for '%s': %w", relPath, err)
	}

	// write to a temp file first so a reader never sees a partial asset
	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".partial-*")
	if err != nil {
		return "", fmt.Errorf("failed to create destination file for '%s': %w", relPath, err)
	}
	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write data to '%s': %w", fullPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close '%s': %w", fullPath, err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to move asset into '%s': %w", fullPath, err)
	}

	log.Printf("media.store: Saved asset to %s", fullPath)
	return filepath.ToSlash(relPath), nil
}

func (ls *LocalStorage) Get(relativePath string) (io.ReadCloser, os.FileInfo, error) {
	fullPath, err := ls.GetFullPath(relativePath)
	if err != nil {
		return nil, nil, err
	}
	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("asset not found at '%s': %w", relativePath, err)
		}
		return nil, nil, fmt.Errorf("failed to open asset '%s': %w", relativePath, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, fmt.Errorf("failed to stat asset '%s': %w", relativePath, err)
	}
	return file, info, nil
}

// Delete removes an asset. A missing asset is not an error.
func (ls *LocalStorage) Delete(relativePath string) error {
	fullPath, err := ls.GetFullPath(relativePath)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to delete asset '%s': %w", relativePath, err)
	}
	log.Printf("media.store: Deleted asset %s", fullPath)
	return nil
}

// GetFullPath resolves a relative asset path and refuses anything outside the
// storage root
func (ls *LocalStorage) GetFullPath(relativePath string) (string, error) {
	fullPath, err := filepath.Abs(filepath.Join(ls.basePath, filepath.Clean(relativePath)))
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path for '%s': %w", relativePath, err)
	}
	if !within(ls.basePath, fullPath) || fullPath == ls.basePath {
		return "", fmt.Errorf("invalid path: access denied for '%s'", relativePath)
	}
	return fullPath, nil
}
