package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/noah-isme/checkride-sync/internal/models"
	appErrors "github.com/noah-isme/checkride-sync/pkg/errors"
)

type sharedStudentLister interface {
	ListShared(ctx context.Context) ([]models.Student, error)
}

type templateRepairer interface {
	RepairTemplateRelationships(ctx context.Context) (int, error)
}

type shareReconciler interface {
	RetryPending(ctx context.Context, studentID string) error
	Reconcile(ctx context.Context, shareID string) (*models.ReconcileReport, error)
}

type pushQueue interface {
	Start(ctx context.Context)
	Stop()
}

// SyncRunnerConfig configures background reconciliation.
type SyncRunnerConfig struct {
	// Schedule is a cron spec, e.g. "@every 5m".
	Schedule string
}

// SyncRunner drives the push queue, periodic reconciliation and reconcile on
// shared store notifications.
type SyncRunner struct {
	engine    shareReconciler
	transport ShareTransport
	students  sharedStudentLister
	repairer  templateRepairer
	queue     pushQueue
	logger    *zap.Logger
	cfg       SyncRunnerConfig

	mu       sync.Mutex
	cron     *cron.Cron
	ctx      context.Context
	cancel   context.CancelFunc
	watchers map[string]watcher
	nextGen  uint64
	wg       sync.WaitGroup
}

// watcher is one notification subscription. gen tells a replaced watcher
// apart from the one now registered for the same share.
type watcher struct {
	cancel context.CancelFunc
	gen    uint64
}

// NewSyncRunner constructs the runner.
func NewSyncRunner(engine shareReconciler, transport ShareTransport, students sharedStudentLister, repairer templateRepairer, queue pushQueue, logger *zap.Logger, cfg SyncRunnerConfig) *SyncRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 5m"
	}
	return &SyncRunner{
		engine:    engine,
		transport: transport,
		students:  students,
		repairer:  repairer,
		queue:     queue,
		logger:    logger,
		cfg:       cfg,
		watchers:  make(map[string]watcher),
	}
}

// Start launches the queue, the reconcile schedule and an initial pass.
func (r *SyncRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return nil
	}

	r.ctx, r.cancel = context.WithCancel(ctx)
	if r.queue != nil {
		r.queue.Start(r.ctx)
	}

	c := cron.New()
	if _, err := c.AddFunc(r.cfg.Schedule, func() { r.ReconcileAll(r.ctx) }); err != nil {
		r.cancel()
		return fmt.Errorf("invalid reconcile schedule %q: %w", r.cfg.Schedule, err)
	}
	c.Start()
	r.cron = c

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.ReconcileAll(r.ctx)
	}()
	r.logger.Info("sync runner started", zap.String("schedule", r.cfg.Schedule))
	return nil
}

// Stop halts the schedule, the watchers and the queue.
func (r *SyncRunner) Stop() {
	r.mu.Lock()
	c := r.cron
	cancel := r.cancel
	r.cron = nil
	r.mu.Unlock()
	if c == nil {
		return
	}

	<-c.Stop().Done()
	cancel()
	r.wg.Wait()
	if r.queue != nil {
		r.queue.Stop()
	}
	r.logger.Info("sync runner stopped")
}

// ReconcileAll repairs template links, then retries pending pushes and
// reconciles every active share. It returns how many shares reconciled.
func (r *SyncRunner) ReconcileAll(ctx context.Context) int {
	if r.repairer != nil {
		if _, err := r.repairer.RepairTemplateRelationships(ctx); err != nil {
			r.logger.Sugar().Warnw("template repair failed", "error", err)
		}
	}

	shared, err := r.students.ListShared(ctx)
	if err != nil {
		r.logger.Sugar().Warnw("list shared students failed", "error", err)
		return 0
	}

	active := make(map[string]bool, len(shared))
	reconciled := 0
	for _, student := range shared {
		active[student.ID] = true
		if err := r.engine.RetryPending(ctx, student.ID); err != nil {
			r.logger.Sugar().Warnw("retry pending failed", "share_id", student.ID, "error", err)
		}
		if _, err := r.engine.Reconcile(ctx, student.ID); err != nil {
			if !errors.Is(err, appErrors.ErrShareInactive) {
				r.logger.Sugar().Warnw("reconcile failed", "share_id", student.ID, "error", err)
			}
			continue
		}
		reconciled++
		r.watch(ctx, student.ID)
	}
	r.unwatchExcept(active)
	return reconciled
}

// Watching reports whether notifications for shareID are being followed.
func (r *SyncRunner) Watching(shareID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.watchers[shareID]
	return ok
}

func (r *SyncRunner) watch(ctx context.Context, shareID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.watchers[shareID]; ok {
		return
	}

	watchCtx, cancel := context.WithCancel(ctx)
	notifications, err := r.transport.Subscribe(watchCtx, shareID)
	if err != nil {
		cancel()
		r.logger.Sugar().Warnw("subscribe failed", "share_id", shareID, "error", err)
		return
	}
	r.nextGen++
	gen := r.nextGen
	r.watchers[shareID] = watcher{cancel: cancel, gen: gen}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		defer r.forget(shareID, gen)
		for range notifications {
			drain(notifications)
			if _, err := r.engine.Reconcile(watchCtx, shareID); err != nil {
				if errors.Is(err, appErrors.ErrShareInactive) {
					return
				}
				r.logger.Sugar().Warnw("reconcile on notify failed", "share_id", shareID, "error", err)
			}
		}
	}()
}

// forget drops the registration of the watcher gen, leaving a newer watcher
// for the same share in place.
func (r *SyncRunner) forget(shareID string, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.watchers[shareID]; ok && w.gen == gen {
		delete(r.watchers, shareID)
	}
}

func (r *SyncRunner) unwatchExcept(active map[string]bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for shareID, w := range r.watchers {
		if !active[shareID] {
			w.cancel()
			delete(r.watchers, shareID)
		}
	}
}

// drain discards queued notifications; one reconcile covers them all.
func drain(ch <-chan string) {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
