// Command companion runs the local recording ledger and its sync
// engine. The desktop shell talks to it over REST and WebSocket on
// localhost.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/kimhsiao/scriberr-companion/cmd/companion/handlers"
	"github.com/kimhsiao/scriberr-companion/internal/capture"
	"github.com/kimhsiao/scriberr-companion/internal/config"
	"github.com/kimhsiao/scriberr-companion/internal/db"
	"github.com/kimhsiao/scriberr-companion/internal/logging"
	"github.com/kimhsiao/scriberr-companion/internal/notify"
	"github.com/kimhsiao/scriberr-companion/internal/remote"
	syncpkg "github.com/kimhsiao/scriberr-companion/internal/sync"
	"github.com/kimhsiao/scriberr-companion/internal/sync/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	logging.Init(os.Stderr, cfg.LogLevel)
	log := logging.WithComponent("main")

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		log.WithError(err).Fatal("failed to open database")
	}
	defer database.Close()

	migrator := db.NewMigrator(database.DB)
	if err := migrator.Initialize(); err != nil {
		log.WithError(err).Fatal("failed to initialize migrations")
	}
	if err := migrator.Up(); err != nil {
		log.WithError(err).Fatal("failed to apply migrations")
	}

	repo := db.NewRepository(database.DB)
	defer repo.Close()

	notifier := notify.New()
	client := remote.NewClient(cfg.ScriberrURL, cfg.APIKey, cfg.HTTPTimeout)
	engine := syncpkg.NewEngine(repo, client, notifier, cfg.PinnedDir())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewWSHub()
	unsubscribe := BridgeNotifier(hub, notifier)
	defer unsubscribe()

	watcher, err := capture.NewWatcher(cfg.RecordingsDir, engine)
	if err != nil {
		log.WithError(err).Fatal("failed to create capture watcher")
	}
	if err := watcher.Rescan(ctx); err != nil {
		log.WithError(err).Warn("capture rescan failed")
	}
	go func() {
		if err := watcher.Run(ctx); err != nil && err != context.Canceled {
			log.WithError(err).Error("capture watcher stopped")
		}
	}()

	sched := scheduler.New(engine, cfg.SyncInterval)
	sched.Start(ctx)
	defer sched.Stop()

	router := buildRouter(repo, engine, client, hub)
	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("companion listening")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown failed")
	}
}

func buildRouter(repo *db.Repository, engine *syncpkg.Engine, client *remote.Client, hub *WSHub) *mux.Router {
	recordings := handlers.NewRecordingsHandler(repo, engine)
	syncH := handlers.NewSyncHandler(engine, client)

	router := mux.NewRouter()
	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/recordings", recordings.List).Methods("GET")
	api.HandleFunc("/recordings/{id}", recordings.Get).Methods("GET")
	api.HandleFunc("/recordings/{id}", recordings.Rename).Methods("PATCH")
	api.HandleFunc("/recordings/{id}", recordings.Delete).Methods("DELETE")
	api.HandleFunc("/recordings/{id}/upload", recordings.Upload).Methods("POST")
	api.HandleFunc("/recordings/{id}/pin", recordings.Pin).Methods("POST")
	api.HandleFunc("/recordings/{id}/pin", recordings.Unpin).Methods("DELETE")
	api.HandleFunc("/recordings/{id}/speakers", recordings.SetSpeakers).Methods("PUT")
	api.HandleFunc("/recordings/{id}/tracks", recordings.SetTracks).Methods("PUT")

	api.HandleFunc("/sync/now", syncH.TriggerSync).Methods("POST")
	api.HandleFunc("/sync/status", syncH.GetStatus).Methods("GET")
	api.HandleFunc("/health", syncH.Health).Methods("GET")

	router.HandleFunc("/ws", HandleWebSocket(hub))
	return router
}
