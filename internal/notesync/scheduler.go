package notesync

import (
	"context"
	"errors"
	"sync"
	"time"
)

// PassRunner is the slice of Engine the scheduler drives. Split out so
// scheduler tests can count passes without a real engine.
type PassRunner interface {
	Run(ctx context.Context) (*PassResult, error)
	RunBackup(ctx context.Context) (*PassResult, error)
}

// PassKind selects which pass a trigger requests. A full pass subsumes a
// backup pass, so when both are pending only the full pass runs.
type PassKind int

const (
	PassFull PassKind = iota
	PassBackup
)

// SchedulerConfig holds timing and callback configuration for the Scheduler.
type SchedulerConfig struct {
	// SyncInterval is the fixed-interval timer for full event sync.
	SyncInterval time.Duration

	// BackupInterval is the fixed-interval timer for snapshot-only backup passes.
	BackupInterval time.Duration

	// Debounce is how long after a change notification a pass is requested.
	// Rapid notifications collapse into one pass.
	Debounce time.Duration

	// OnCredentialExpired is invoked when a pass fails with ErrUnauthorized.
	// The scheduler does not retry; re-authentication is the owner's job.
	OnCredentialExpired func()

	Logger Logger
}

// DefaultSchedulerConfig returns the standard timing configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		SyncInterval:   5 * time.Minute,
		BackupInterval: time.Minute,
		Debounce:       time.Second,
	}
}

// Scheduler drives when reconciliation runs: periodic timers, debounced
// change triggers, manual triggers, online/offline gating. At most one pass
// runs at a time; triggers arriving mid-pass or while offline set a pending
// flag that is drained when the pass finishes or connectivity returns.
//
// One Scheduler is constructed per active session and torn down on sign-out;
// there is no ambient singleton.
type Scheduler struct {
	runner PassRunner
	bus    *StatusBus
	cfg    SchedulerConfig
	logger Logger
	clock  Clock

	mu            sync.Mutex
	started       bool
	stopped       bool
	online        bool
	inFlight      bool
	pendingFull   bool
	pendingBackup bool
	debounce      *time.Timer

	tickerCancel context.CancelFunc
	tickerWG     sync.WaitGroup
	passWG       sync.WaitGroup
}

// NewScheduler creates a Scheduler. The scheduler starts Online; call
// SetOnline(false) before Start if connectivity is known to be down.
func NewScheduler(runner PassRunner, bus *StatusBus, cfg SchedulerConfig, clock Clock) *Scheduler {
	def := DefaultSchedulerConfig()
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = def.SyncInterval
	}
	if cfg.BackupInterval <= 0 {
		cfg.BackupInterval = def.BackupInterval
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = def.Debounce
	}
	logger := cfg.Logger
	if logger == nil {
		logger = NewNopLogger()
	}
	if bus == nil {
		bus = NewStatusBus()
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &Scheduler{
		runner: runner,
		bus:    bus,
		cfg:    cfg,
		logger: logger,
		clock:  clock,
		online: true,
	}
}

// Bus returns the status bus the scheduler publishes on.
func (s *Scheduler) Bus() *StatusBus { return s.bus }

// Start launches the interval timers. It is an error to start twice.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true

	ctx, cancel := context.WithCancel(context.Background())
	s.tickerCancel = cancel
	s.tickerWG.Add(1)
	go s.tickLoop(ctx)
	s.logger.Info("scheduler started",
		"sync_interval", s.cfg.SyncInterval, "backup_interval", s.cfg.BackupInterval)
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.tickerWG.Done()

	syncTicker := time.NewTicker(s.cfg.SyncInterval)
	defer syncTicker.Stop()
	backupTicker := time.NewTicker(s.cfg.BackupInterval)
	defer backupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-syncTicker.C:
			s.request(PassFull)
		case <-backupTicker.C:
			s.request(PassBackup)
		}
	}
}

// Stop cancels the timers and clears any pending debounce. An in-flight pass
// is allowed to complete so mappings are never left half-updated; Stop blocks
// until it has.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	cancel := s.tickerCancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.tickerWG.Wait()
	s.passWG.Wait()
	s.logger.Info("scheduler stopped")
}

// NotifyChange signals that local data changed. The pass request is debounced:
// a burst of notifications results in one pass after the debounce window.
func (s *Scheduler) NotifyChange() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = time.AfterFunc(s.cfg.Debounce, func() {
		s.request(PassFull)
	})
}

// TriggerSync requests a full pass immediately, bypassing the debounce.
func (s *Scheduler) TriggerSync() {
	s.request(PassFull)
}

// TriggerBackup requests a snapshot-only pass immediately.
func (s *Scheduler) TriggerBackup() {
	s.request(PassBackup)
}

// SetOnline flips the connectivity flag. Going offline publishes the offline
// status; coming online drains any pending trigger immediately.
func (s *Scheduler) SetOnline(online bool) {
	s.mu.Lock()
	if s.online == online || s.stopped {
		s.mu.Unlock()
		return
	}
	s.online = online
	if !online {
		s.mu.Unlock()
		s.bus.Publish(StatusEvent{Status: StatusOffline, Timestamp: s.clock.Now()})
		return
	}
	s.logger.Info("back online")
	s.startPendingLocked()
	s.mu.Unlock()
}

// request asks for a pass of the given kind, honoring offline gating and
// single-flight. A request that cannot run now is remembered, never dropped.
func (s *Scheduler) request(kind PassKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if !s.online || s.inFlight {
		s.markPendingLocked(kind)
		return
	}
	s.launchLocked(kind)
}

func (s *Scheduler) markPendingLocked(kind PassKind) {
	switch kind {
	case PassFull:
		s.pendingFull = true
	case PassBackup:
		s.pendingBackup = true
	}
}

// startPendingLocked launches the highest-priority pending pass, if any.
func (s *Scheduler) startPendingLocked() {
	if s.inFlight || !s.online || s.stopped {
		return
	}
	switch {
	case s.pendingFull:
		s.pendingFull = false
		s.pendingBackup = false // a full pass includes the backup compare
		s.launchLocked(PassFull)
	case s.pendingBackup:
		s.pendingBackup = false
		s.launchLocked(PassBackup)
	}
}

func (s *Scheduler) launchLocked(kind PassKind) {
	s.inFlight = true
	s.passWG.Add(1)
	go s.execute(kind)
}

func (s *Scheduler) execute(kind PassKind) {
	defer s.passWG.Done()

	s.bus.Publish(StatusEvent{Status: StatusSyncing, Timestamp: s.clock.Now()})

	// The pass runs on a background context: stopping the scheduler must not
	// hard-abort a pass mid-write. Per-call timeouts live in the channels.
	ctx := context.Background()
	var (
		res *PassResult
		err error
	)
	if kind == PassFull {
		res, err = s.runner.Run(ctx)
	} else {
		res, err = s.runner.RunBackup(ctx)
	}

	now := s.clock.Now()
	switch {
	case err != nil:
		s.logger.Error("sync pass failed", "error", err)
		s.bus.Publish(StatusEvent{Status: StatusError, Error: err.Error(), Timestamp: now})
		if errors.Is(err, ErrUnauthorized) && s.cfg.OnCredentialExpired != nil {
			s.cfg.OnCredentialExpired()
		}
	default:
		ev := StatusEvent{
			Status:    StatusSynced,
			Imported:  res.Imported,
			Updated:   res.Updated,
			Exported:  res.Exported,
			Timestamp: now,
		}
		if len(res.Errors) > 0 {
			s.logger.Warn("sync pass completed with item errors", "errors", len(res.Errors))
		}
		s.bus.Publish(ev)
	}

	s.mu.Lock()
	s.inFlight = false
	s.startPendingLocked()
	idle := !s.inFlight
	s.mu.Unlock()

	if idle {
		s.bus.Publish(StatusEvent{Status: StatusIdle, Timestamp: s.clock.Now()})
	}
}
