package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/checkride-sync/internal/models"
	appErrors "github.com/noah-isme/checkride-sync/pkg/errors"
)

type stubReconciler struct {
	mu         sync.Mutex
	reconciled map[string]int
	retried    map[string]int
	inactive   map[string]bool
}

func newStubReconciler() *stubReconciler {
	return &stubReconciler{reconciled: map[string]int{}, retried: map[string]int{}, inactive: map[string]bool{}}
}

func (s *stubReconciler) RetryPending(_ context.Context, studentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retried[studentID]++
	return nil
}

func (s *stubReconciler) Reconcile(_ context.Context, shareID string) (*models.ReconcileReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inactive[shareID] {
		return nil, appErrors.Clone(appErrors.ErrShareInactive, "share inactive")
	}
	s.reconciled[shareID]++
	return &models.ReconcileReport{ShareID: shareID}, nil
}

func (s *stubReconciler) count(shareID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconciled[shareID]
}

// gatedReconciler blocks the next Reconcile call until its gate closes.
type gatedReconciler struct {
	*stubReconciler

	gateMu  sync.Mutex
	gate    chan struct{}
	entered chan struct{}
}

func (g *gatedReconciler) arm(gate chan struct{}) {
	g.gateMu.Lock()
	defer g.gateMu.Unlock()
	g.gate = gate
}

func (g *gatedReconciler) Reconcile(ctx context.Context, shareID string) (*models.ReconcileReport, error) {
	g.gateMu.Lock()
	gate := g.gate
	g.gate = nil
	g.gateMu.Unlock()
	if gate != nil {
		g.entered <- struct{}{}
		<-gate
	}
	return g.stubReconciler.Reconcile(ctx, shareID)
}

type stubNotifier struct {
	ShareTransport

	mu       sync.Mutex
	channels map[string]chan string
	fail     error
}

func (n *stubNotifier) Subscribe(ctx context.Context, shareID string) (<-chan string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return nil, n.fail
	}
	ch := make(chan string, 4)
	n.channels[shareID] = ch
	go func() {
		<-ctx.Done()
		n.mu.Lock()
		defer n.mu.Unlock()
		if n.channels[shareID] == ch {
			delete(n.channels, shareID)
		}
		close(ch)
	}()
	return ch, nil
}

func (n *stubNotifier) notify(shareID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch, ok := n.channels[shareID]
	if ok {
		ch <- shareID
	}
	return ok
}

type stubSharedStudents struct {
	mu       sync.Mutex
	students []models.Student
}

func (s *stubSharedStudents) ListShared(context.Context) ([]models.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Student(nil), s.students...), nil
}

func (s *stubSharedStudents) set(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.students = nil
	for _, id := range ids {
		s.students = append(s.students, models.Student{ID: id, ShareActive: true})
	}
}

type stubRepairer struct{ calls int }

func (s *stubRepairer) RepairTemplateRelationships(context.Context) (int, error) {
	s.calls++
	return 0, nil
}

type stubQueue struct {
	started bool
	stopped bool
}

func (q *stubQueue) Start(context.Context) { q.started = true }
func (q *stubQueue) Stop()                 { q.stopped = true }

func TestSyncRunnerReconcileAll(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine := newStubReconciler()
	engine.inactive["stu-2"] = true
	notifier := &stubNotifier{channels: map[string]chan string{}}
	students := &stubSharedStudents{}
	students.set("stu-1", "stu-2")
	repairer := &stubRepairer{}
	runner := NewSyncRunner(engine, notifier, students, repairer, nil, nil, SyncRunnerConfig{})

	assert.Equal(t, 1, runner.ReconcileAll(ctx))
	assert.Equal(t, 1, repairer.calls)
	assert.Equal(t, 1, engine.retried["stu-2"])
	assert.True(t, runner.Watching("stu-1"))
	assert.False(t, runner.Watching("stu-2"))

	// a second pass does not subscribe twice
	assert.Equal(t, 1, runner.ReconcileAll(ctx))
	assert.Equal(t, 2, engine.count("stu-1"))

	require.True(t, notifier.notify("stu-1"))
	require.Eventually(t, func() bool { return engine.count("stu-1") == 3 }, time.Second, 10*time.Millisecond)

	students.set()
	assert.Zero(t, runner.ReconcileAll(ctx))
	assert.False(t, runner.Watching("stu-1"))
}

func TestSyncRunnerStopsWatchingInactiveShare(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine := newStubReconciler()
	notifier := &stubNotifier{channels: map[string]chan string{}}
	students := &stubSharedStudents{}
	students.set("stu-1")
	runner := NewSyncRunner(engine, notifier, students, nil, nil, nil, SyncRunnerConfig{})

	require.Equal(t, 1, runner.ReconcileAll(ctx))
	engine.mu.Lock()
	engine.inactive["stu-1"] = true
	engine.mu.Unlock()

	require.True(t, notifier.notify("stu-1"))
	require.Eventually(t, func() bool { return !runner.Watching("stu-1") }, time.Second, 10*time.Millisecond)
}

func TestSyncRunnerReplacedWatcherKeepsNewSubscription(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine := &gatedReconciler{stubReconciler: newStubReconciler(), entered: make(chan struct{}, 1)}
	notifier := &stubNotifier{channels: map[string]chan string{}}
	students := &stubSharedStudents{}
	students.set("stu-1")
	runner := NewSyncRunner(engine, notifier, students, nil, nil, nil, SyncRunnerConfig{})
	require.Equal(t, 1, runner.ReconcileAll(ctx))

	// park the first watcher inside a reconcile
	gate := make(chan struct{})
	engine.arm(gate)
	require.True(t, notifier.notify("stu-1"))
	<-engine.entered

	// the share drops out and comes back while that reconcile is running
	students.set()
	require.Zero(t, runner.ReconcileAll(ctx))
	students.set("stu-1")
	require.Equal(t, 1, runner.ReconcileAll(ctx))
	require.True(t, runner.Watching("stu-1"))

	close(gate)
	require.Eventually(t, func() bool { return engine.count("stu-1") == 3 }, time.Second, 10*time.Millisecond)
	assert.Never(t, func() bool { return !runner.Watching("stu-1") }, 100*time.Millisecond, 10*time.Millisecond)

	require.True(t, notifier.notify("stu-1"))
	require.Eventually(t, func() bool { return engine.count("stu-1") == 4 }, time.Second, 10*time.Millisecond)
}

func TestSyncRunnerSubscribeFailureIsTolerated(t *testing.T) {
	engine := newStubReconciler()
	notifier := &stubNotifier{channels: map[string]chan string{}, fail: errors.New("redis down")}
	students := &stubSharedStudents{}
	students.set("stu-1")
	runner := NewSyncRunner(engine, notifier, students, nil, nil, nil, SyncRunnerConfig{})

	assert.Equal(t, 1, runner.ReconcileAll(context.Background()))
	assert.False(t, runner.Watching("stu-1"))
}

func TestSyncRunnerStartStop(t *testing.T) {
	engine := newStubReconciler()
	notifier := &stubNotifier{channels: map[string]chan string{}}
	students := &stubSharedStudents{}
	students.set("stu-1")
	queue := &stubQueue{}
	runner := NewSyncRunner(engine, notifier, students, nil, queue, nil, SyncRunnerConfig{Schedule: "@every 1h"})

	require.NoError(t, runner.Start(context.Background()))
	require.NoError(t, runner.Start(context.Background()))
	assert.True(t, queue.started)
	require.Eventually(t, func() bool { return runner.Watching("stu-1") }, time.Second, 10*time.Millisecond)

	runner.Stop()
	assert.True(t, queue.stopped)
	assert.False(t, runner.Watching("stu-1"))
	assert.Equal(t, 1, engine.count("stu-1"))
	runner.Stop()
}

func TestSyncRunnerRejectsBadSchedule(t *testing.T) {
	runner := NewSyncRunner(newStubReconciler(), &stubNotifier{channels: map[string]chan string{}}, &stubSharedStudents{}, nil, &stubQueue{}, nil, SyncRunnerConfig{Schedule: "every now and then"})
	err := runner.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid reconcile schedule")
}
