package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/adrg/xdg"
)

const (
	DefaultThumbnailsSubDir = "thumbnails"
	DefaultPreviewsSubDir   = "previews"
	DefaultPort             = "8080"
	appDirName              = "scamqc"
)

const (
	defaultSyncLanes              = 6
	defaultDraftMaxBytes          = 5 * 1024 * 1024
	defaultThumbnailQueueSize     = 500
	defaultNumThumbnailPrefetches = 4
)

type Config struct {
	// detection API
	ScamAPIURL      string
	ScamAPIUser     string
	ScamAPIPassword string

	// drafts and the thumbnail cache index share the data directory
	DatabasePath string
	DraftsDBPath string

	// media storage configuration
	MediaStoragePath string // root for cached thumbnails and debug previews
	ThumbnailsPath   string
	PreviewsPath     string

	// engine settings
	SyncLanes     int
	DraftMaxBytes int64

	// prefetch worker settings
	ThumbnailQueueSize     int
	NumThumbnailPrefetches int

	// HTTP
	Port        string
	CORSOrigins []string

	// named detection option sets, see LoadPresets
	PresetsPath string
}

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvIntOrDefault(envVar string, defaultVal int) int {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil || val <= 0 {
		log.Printf("Warning: Invalid %s '%s'. Using default %d. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

// DataDir resolves the default directory for the databases and media cache,
// below the XDG data home
func DataDir() string {
	if explicit := os.Getenv("SCAMQC_DATA_DIR"); explicit != "" {
		return explicit
	}

	xdg.Reload()

	dataHome := xdg.DataHome
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), appDirName)
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, appDirName)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func LoadConfig() (Config, error) {
	dataDir := DataDir()

	apiURL := strings.TrimRight(getEnvOrDefault("SCAM_API_URL", "http://localhost:5000"), "/")

	dbPath := getEnvOrDefault("DATABASE_PATH", filepath.Join(dataDir, "cache.db"))
	draftsPath := getEnvOrDefault("DRAFTS_DATABASE_PATH", filepath.Join(dataDir, "drafts.db"))

	mediaStorage := getEnvOrDefault("MEDIA_STORAGE_PATH", filepath.Join(dataDir, "media_storage"))
	absMediaStorage, err := filepath.Abs(mediaStorage)
	if err != nil {
		return Config{}, fmt.Errorf("failed to get absolute path for media storage '%s': %w", mediaStorage, err)
	}

	thumbSubDir := getEnvOrDefault("THUMBNAILS_SUBDIR", DefaultThumbnailsSubDir)
	previewSubDir := getEnvOrDefault("PREVIEWS_SUBDIR", DefaultPreviewsSubDir)

	cfg := Config{
		ScamAPIURL:             apiURL,
		ScamAPIUser:            os.Getenv("SCAM_API_USER"),
		ScamAPIPassword:        os.Getenv("SCAM_API_PASSWORD"),
		DatabasePath:           dbPath,
		DraftsDBPath:           draftsPath,
		MediaStoragePath:       absMediaStorage,
		ThumbnailsPath:         filepath.Join(absMediaStorage, thumbSubDir),
		PreviewsPath:           filepath.Join(absMediaStorage, previewSubDir),
		SyncLanes:              getEnvIntOrDefault("SYNC_LANES", defaultSyncLanes),
		DraftMaxBytes:          int64(getEnvIntOrDefault("DRAFT_MAX_BYTES", defaultDraftMaxBytes)),
		ThumbnailQueueSize:     getEnvIntOrDefault("THUMBNAIL_QUEUE_SIZE", defaultThumbnailQueueSize),
		NumThumbnailPrefetches: getEnvIntOrDefault("NUM_THUMBNAIL_PREFETCHES", defaultNumThumbnailPrefetches),
		Port:                   getEnvOrDefault("PORT", DefaultPort),
		CORSOrigins:            splitList(getEnvOrDefault("CORS_ORIGINS", "http://localhost:5173")),
		PresetsPath:            os.Getenv("DETECTION_PRESETS_PATH"),
	}

	return cfg, nil
}
