package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"notesync-go/internal/blob"
	"notesync-go/internal/config"
	"notesync-go/internal/encryption"
	"notesync-go/internal/events"
	"notesync-go/internal/notesync"
	"notesync-go/internal/store"
)

// App is the application layer between the CLI and the sync engine.
// It constructs all dependencies from config, exposes high-level operations,
// and manages the store lifecycle on Close.
type App struct {
	cfg       *config.Config
	store     store.Store
	creds     *FileCredentialSource
	encryptor notesync.Encryptor
	engine    *notesync.Engine
	scheduler *notesync.Scheduler
	logger    notesync.Logger
	logCloser io.Closer
}

// NewApp creates a fully wired App from the given config.
// operation identifies the CLI command being run (e.g. "Sync", "Run").
// The caller must call Close when done.
func NewApp(cfg *config.Config, operation string) (*App, error) {
	opID := fmt.Sprintf("%s-%s", operation, time.Now().UTC().Format("20060102T150405Z"))
	slogger, logCloser, err := newLogger(cfg.LogDir, opID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	st, err := store.NewStoreFromConfig(cfg.Store, cfg.DeviceID)
	if err != nil {
		logCloser.Close()
		return nil, fmt.Errorf("creating store: %w", err)
	}

	creds := NewFileCredentialSource(cfg.Credentials.TokenPath)

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		st.Close()
		logCloser.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	blobCh, err := blob.NewChannelFromConfig(context.Background(), cfg.Blob, enc)
	if err != nil {
		st.Close()
		logCloser.Close()
		return nil, fmt.Errorf("creating blob channel: %w", err)
	}

	eventCh, err := events.NewChannelFromConfig(cfg.Events, creds)
	if err != nil {
		st.Close()
		logCloser.Close()
		return nil, fmt.Errorf("creating event channel: %w", err)
	}

	engine := notesync.NewEngine(cfg.Events.CollectionID, st, st, eventCh, blobCh,
		logger, notesync.RealClock{}, notesync.UUIDGenerator{})
	if cfg.Sync.WindowPastDays > 0 || cfg.Sync.WindowFutureDays > 0 {
		past, future := cfg.Sync.WindowPastDays, cfg.Sync.WindowFutureDays
		engine.SetWindow(func(now time.Time) notesync.Window {
			w := notesync.DefaultWindow(now)
			if past > 0 {
				w.Start = now.AddDate(0, 0, -past)
			}
			if future > 0 {
				w.End = now.AddDate(0, 0, future)
			}
			return w
		})
	}

	schedCfg := notesync.SchedulerConfig{
		SyncInterval:   time.Duration(cfg.Sync.IntervalSeconds) * time.Second,
		BackupInterval: time.Duration(cfg.Sync.BackupIntervalSeconds) * time.Second,
		Debounce:       time.Duration(cfg.Sync.DebounceMillis) * time.Millisecond,
		Logger:         logger,
		OnCredentialExpired: func() {
			logger.Error("credential expired, run `notesync login` to re-authenticate")
		},
	}
	scheduler := notesync.NewScheduler(engine, notesync.NewStatusBus(), schedCfg, notesync.RealClock{})

	return &App{
		cfg:       cfg,
		store:     st,
		creds:     creds,
		encryptor: enc,
		engine:    engine,
		scheduler: scheduler,
		logger:    logger,
		logCloser: logCloser,
	}, nil
}

// SyncOnce runs a single full reconciliation pass.
func (a *App) SyncOnce(ctx context.Context) (*notesync.PassResult, error) {
	return a.engine.Run(ctx)
}

// BackupOnce runs a single snapshot-only pass with no event channel traffic.
func (a *App) BackupOnce(ctx context.Context) (*notesync.PassResult, error) {
	return a.engine.RunBackup(ctx)
}

// RunScheduler starts the periodic scheduler, triggers an initial pass, and
// blocks until ctx is cancelled. An in-flight pass completes before return.
func (a *App) RunScheduler(ctx context.Context) {
	a.scheduler.Start()
	a.scheduler.TriggerSync()
	<-ctx.Done()
	a.scheduler.Stop()
}

// Scheduler exposes the scheduler for triggers and connectivity signals.
func (a *App) Scheduler() *notesync.Scheduler { return a.scheduler }

// Status returns the most recent sync status event.
func (a *App) Status() notesync.StatusEvent {
	return a.scheduler.Bus().Current()
}

// SaveToken stores the bearer credential for the event channel.
func (a *App) SaveToken(token string) error {
	return a.creds.Save(token)
}

// Close stops the scheduler if running and releases all resources.
func (a *App) Close() error {
	a.scheduler.Stop()

	var firstErr error
	if err := a.store.Close(); err != nil {
		firstErr = fmt.Errorf("closing store: %w", err)
	}
	if a.logCloser != nil {
		if err := a.logCloser.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing log: %w", err)
		}
	}
	return firstErr
}
