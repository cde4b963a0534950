package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/camden-git/scamqc/handlers"
	"github.com/camden-git/scamqc/realtime"
	"github.com/camden-git/scamqc/services"
	"github.com/camden-git/scamqc/workers"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the QC API and websocket events to the browser client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
	}
}

func runServe(cmd *cobra.Command) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := realtime.NewHub()
	go hub.Run(ctx)

	session, store, err := a.newSession("", services.Hooks{
		OnProgress: func(p workers.Progress) { hub.Publish(realtime.EventProgress, p) },
		OnFlags:    func(f services.Flags) { hub.Publish(realtime.EventFlags, f) },
	})
	if err != nil {
		return err
	}
	defer session.Close()
	hub.BindStore(store)

	cacheDB, mediaStore, cache, err := a.openCache()
	if err != nil {
		return err
	}
	defer cacheDB.Close()

	log.Printf("Initializing thumbnail prefetch pool (Workers: %d, Queue Size: %d)...", cfg.NumThumbnailPrefetches, cfg.ThumbnailQueueSize)
	prefetcher := workers.NewThumbnailPrefetcher(cache, cfg.ThumbnailQueueSize, cfg.NumThumbnailPrefetches)
	defer prefetcher.Stop()

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	})

	previewPrefix := "/api/previews/"
	router := handlers.NewRouter(handlers.Routes{
		Session: &handlers.SessionHandler{
			Session:    session,
			Drafts:     a.drafts,
			Presets:    a.presets,
			Prefetcher: prefetcher,
		},
		Edit:      &handlers.EditHandler{Session: session},
		Thumbnail: &handlers.ThumbnailHandler{Cache: cache, Session: session},
		Preview: &handlers.RegionPreviewHandler{
			Cache:            cache,
			Session:          session,
			Store:            mediaStore,
			PreviewURLPrefix: previewPrefix,
		},
		Previews:    handlers.AssetServer(mediaStore, filepath.Base(cfg.PreviewsPath), previewPrefix),
		WebSocket:   hub.ServeWS,
		Middlewares: []func(http.Handler) http.Handler{corsHandler.Handler},
	})

	log.Printf("Detection API: %s", cfg.ScamAPIURL)
	log.Printf("Using databases: %s, %s", cfg.DatabasePath, cfg.DraftsDBPath)
	log.Printf("Caching thumbnails in: %s", cfg.ThumbnailsPath)
	log.Printf("Sync lanes: %d, draft quota: %d bytes", cfg.SyncLanes, cfg.DraftMaxBytes)

	serverAddr := ":" + cfg.Port
	// no WriteTimeout: it would also cut the hijacked websocket connections
	server := &http.Server{
		Addr:        serverAddr,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("server shutdown: %v", err)
		}
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Server starting on http://localhost:%s\n", cfg.Port)
	log.Printf("Server listening on %s", serverAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
