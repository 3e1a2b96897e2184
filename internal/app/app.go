package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/calldeck/internal/common"
	"github.com/ternarybob/calldeck/internal/handlers"
	"github.com/ternarybob/calldeck/internal/interfaces"
	"github.com/ternarybob/calldeck/internal/reprocess"
	"github.com/ternarybob/calldeck/internal/services/events"
	badgerstorage "github.com/ternarybob/calldeck/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Storage
	DB            *badgerstorage.BadgerDB
	HandleStorage interfaces.HandleStorage

	// Services
	EventService     interfaces.EventService
	ReprocessService *reprocess.Service
	Sweeper          *reprocess.Sweeper

	// Handlers
	ReprocessHandler *handlers.ReprocessHandler
	StatusHandler    *handlers.StatusHandler
	WSHandler        *handlers.WebSocketHandler
}

// New wires the application from configuration: storage, the reprocess
// tracking core, the event bus and the HTTP handlers.
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	db, err := badgerstorage.NewBadgerDB(logger, &config.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	handleStorage := badgerstorage.NewHandleStorage(db, logger)
	eventService := events.NewService(logger)

	client := reprocess.NewClient(
		config.Reprocess.BaseURL,
		reprocess.WithAPIKey(config.Reprocess.APIKey),
		reprocess.WithLogger(logger),
		reprocess.WithRateLimit(config.Reprocess.RateLimit),
		reprocess.WithTimeout(config.Reprocess.RequestTimeoutDuration()),
	)

	poller := reprocess.NewPoller(
		client,
		logger,
		config.Reprocess.PollIntervalDuration(),
		config.Reprocess.MaxPollAttempts,
	)

	reprocessService := reprocess.NewService(client, handleStorage, eventService, poller, logger)
	sweeper := reprocess.NewSweeper(reprocessService.Tracker, handleStorage, logger)

	wsHandler := handlers.NewWebSocketHandler(eventService, logger, &config.WebSocket)

	app := &App{
		Config:           config,
		Logger:           logger,
		DB:               db,
		HandleStorage:    handleStorage,
		EventService:     eventService,
		ReprocessService: reprocessService,
		Sweeper:          sweeper,
		ReprocessHandler: handlers.NewReprocessHandler(reprocessService, logger),
		StatusHandler:    handlers.NewStatusHandler(reprocessService.Tracker, handleStorage, wsHandler, logger),
		WSHandler:        wsHandler,
	}

	return app, nil
}

// Start resumes tracking of any jobs left over from a previous run and
// starts the handle reconciliation sweep.
func (a *App) Start(ctx context.Context) error {
	if err := common.ValidateSweepSchedule(a.Config.Reprocess.SweepSchedule); err != nil {
		return err
	}

	if err := a.ReprocessService.ReconcileAll(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("Startup handle reconciliation failed")
	}

	if err := a.Sweeper.Start(a.Config.Reprocess.SweepSchedule); err != nil {
		return fmt.Errorf("failed to start sweeper: %w", err)
	}

	return nil
}

// Shutdown stops pollers and the sweeper and closes storage. Handles
// are kept so the next run resumes tracking.
func (a *App) Shutdown() {
	a.Sweeper.Stop()
	a.ReprocessService.Stop()

	if err := a.DB.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to close storage")
	}

	a.Logger.Info().Msg("Application shutdown complete")
}
