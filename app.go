package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/camden-git/scamqc/config"
	"github.com/camden-git/scamqc/database"
	"github.com/camden-git/scamqc/detector"
	"github.com/camden-git/scamqc/media"
	"github.com/camden-git/scamqc/repository"
	"github.com/camden-git/scamqc/services"
	"github.com/camden-git/scamqc/state"
	"github.com/joho/godotenv"
	"gorm.io/gorm"
)

// app holds what every command needs: configuration, the detection API
// client and the draft store
type app struct {
	cfg     config.Config
	presets config.Presets
	api     *detector.Client
	gormDB  *gorm.DB
	drafts  *services.DraftService
}

func newApp() (*app, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("Info: No .env file found or error loading: %v", err)
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	presets, err := config.LoadPresets(cfg.PresetsPath)
	if err != nil {
		return nil, err
	}

	for _, p := range []string{filepath.Dir(cfg.DatabasePath), filepath.Dir(cfg.DraftsDBPath)} {
		if err := os.MkdirAll(p, 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory %s: %w", p, err)
		}
	}

	gormDB, err := database.InitGormDB(cfg.DraftsDBPath)
	if err != nil {
		return nil, err
	}
	if err := database.AutoMigrateModels(gormDB); err != nil {
		return nil, err
	}
	kv := repository.NewGormKeyValueRepository(gormDB, cfg.DraftMaxBytes)

	return &app{
		cfg:     cfg,
		presets: presets,
		api:     detector.NewClient(cfg.ScamAPIURL, cfg.ScamAPIUser, cfg.ScamAPIPassword),
		gormDB:  gormDB,
		drafts:  services.NewDraftService(kv),
	}, nil
}

func (a *app) Close() {
	if sqlDB, err := a.gormDB.DB(); err == nil {
		sqlDB.Close()
	}
}

// newSession builds a folder session on a fresh record store
func (a *app) newSession(preset string, hooks services.Hooks) (*services.Session, *state.Store, error) {
	opts, err := a.presets.Get(preset)
	if err != nil {
		return nil, nil, err
	}
	store := state.NewStore()
	session := services.NewSession(a.api, store, a.drafts, services.SessionConfig{
		Lanes:   a.cfg.SyncLanes,
		Options: opts,
		Hooks:   hooks,
	})
	return session, store, nil
}

// openCache opens the thumbnail cache index and the media store
func (a *app) openCache() (*sql.DB, *media.LocalStorage, *media.ThumbnailCache, error) {
	db, err := database.InitDB(a.cfg.DatabasePath)
	if err != nil {
		return nil, nil, nil, err
	}
	mediaStore, err := media.NewLocalStorage(a.cfg.MediaStoragePath, map[media.AssetType]string{
		media.AssetTypeThumbnail: filepath.Base(a.cfg.ThumbnailsPath),
		media.AssetTypePreview:   filepath.Base(a.cfg.PreviewsPath),
	})
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	return db, mediaStore, media.NewThumbnailCache(db, mediaStore, a.api), nil
}
