package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	stdsync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/fieldsync/backend/internal/db"
	apperrors "github.com/kimhsiao/fieldsync/backend/internal/errors"
	"github.com/kimhsiao/fieldsync/backend/internal/models"
	"github.com/kimhsiao/fieldsync/backend/internal/sync/network"
	"github.com/kimhsiao/fieldsync/backend/internal/sync/queue"
	"github.com/kimhsiao/fieldsync/backend/internal/sync/remote"
	"github.com/kimhsiao/fieldsync/backend/internal/sync/retry"
)

// =====================================================
// Test Helpers
// =====================================================

type fakeClock struct {
	mu  stdsync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	t        *testing.T
	dir      string
	database *db.DB
	store    *queue.SQLiteStore
	net      *network.Manual
	registry *remote.Registry
	clock    *fakeClock
	opts     Options
	svc      *Service
}

func newHarness(t *testing.T, online bool, opts Options) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		dir:      t.TempDir(),
		net:      network.NewManual(online),
		registry: remote.NewRegistry(),
		clock:    &fakeClock{now: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)},
	}
	if opts.Now == nil {
		opts.Now = h.clock.Now
	}
	if opts.IDGen == nil {
		var n atomic.Int32
		opts.IDGen = func() string {
			return fmt.Sprintf("gen-%d", n.Add(1))
		}
	}
	h.opts = opts
	h.open()
	t.Cleanup(h.close)
	return h
}

func (h *harness) open() {
	h.t.Helper()
	database, err := db.OpenMigrated(h.dir)
	require.NoError(h.t, err)
	h.database = database
	h.store = queue.NewSQLiteStore(database.DB, queue.WithClock(h.clock.Now))

	svc, err := NewService(h.store, h.net, h.registry, h.opts)
	require.NoError(h.t, err)
	h.svc = svc
}

func (h *harness) close() {
	if h.svc != nil {
		h.svc.Shutdown()
		h.svc = nil
	}
	if h.database != nil {
		h.database.Close()
		h.database = nil
	}
}

// restart simulates a process restart over the same data directory.
func (h *harness) restart() {
	h.t.Helper()
	h.close()
	h.open()
}

func (h *harness) enqueue(op models.Operation, entity string, payload map[string]interface{}) int64 {
	h.t.Helper()
	id, err := h.svc.Enqueue(context.Background(), op, entity, payload, "tenant-1")
	require.NoError(h.t, err)
	return id
}

func (h *harness) status() SyncStatus {
	h.t.Helper()
	st, err := h.svc.Status(context.Background())
	require.NoError(h.t, err)
	return st
}

func (h *harness) item(id int64) *models.QueueItem {
	h.t.Helper()
	item, err := h.store.Get(context.Background(), id)
	require.NoError(h.t, err)
	return item
}

func (h *harness) sweep() *SweepResult {
	h.t.Helper()
	res, err := h.svc.Sweep(context.Background())
	require.NoError(h.t, err)
	return res
}

// countingAdapter records calls and returns err (nil for success).
type countingAdapter struct {
	calls atomic.Int32
	err   atomic.Value
}

func (c *countingAdapter) fail(err error) {
	c.err.Store(&err)
}

func (c *countingAdapter) call(context.Context, remote.Request) error {
	c.calls.Add(1)
	if e, ok := c.err.Load().(*error); ok && e != nil {
		return *e
	}
	return nil
}

func (c *countingAdapter) funcs() remote.AdapterFuncs {
	return remote.AdapterFuncs{CreateFunc: c.call, UpdateFunc: c.call, DeleteFunc: c.call}
}

func land(id string) map[string]interface{} {
	p := map[string]interface{}{"name": "North field", "acres": 4.5}
	if id != "" {
		p["id"] = id
	}
	return p
}

// =====================================================
// Construction
// =====================================================

func TestNewService_Validation(t *testing.T) {
	h := newHarness(t, false, Options{})

	_, err := NewService(nil, h.net, h.registry, Options{})
	assert.True(t, apperrors.Is(err, apperrors.ErrConfig))

	_, err = NewService(h.store, nil, h.registry, Options{})
	assert.True(t, apperrors.Is(err, apperrors.ErrConfig))

	_, err = NewService(h.store, h.net, nil, Options{})
	assert.True(t, apperrors.Is(err, apperrors.ErrSyncNotConfigured))
}

func TestNewService_Defaults(t *testing.T) {
	h := newHarness(t, false, Options{})
	opts := h.svc.Options()

	assert.Equal(t, 10, opts.BatchSize)
	assert.Equal(t, retry.DefaultPolicy(), opts.Policy)
	assert.Equal(t, 5*time.Minute, opts.Interval)
	assert.Equal(t, 24*time.Hour, opts.Retention)
	assert.Equal(t, "id", opts.IDField)
}

// =====================================================
// Enqueue
// =====================================================

func TestEnqueue_Validation(t *testing.T) {
	h := newHarness(t, false, Options{})
	ctx := context.Background()

	_, err := h.svc.Enqueue(ctx, "upsert", "land", land("1"), "")
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))

	_, err = h.svc.Enqueue(ctx, models.OperationCreate, "", land("1"), "")
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))

	_, err = h.svc.Enqueue(ctx, models.OperationUpdate, "land", land(""), "")
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid), "update needs an id")

	_, err = h.svc.Enqueue(ctx, models.OperationDelete, "land", nil, "")
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid), "delete needs an id")

	_, err = h.svc.Enqueue(ctx, models.OperationUpdate, "land", map[string]interface{}{"id": []int{1}}, "")
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))

	_, err = h.svc.Enqueue(ctx, models.OperationCreate, "land", map[string]interface{}{"bad": make(chan int)}, "")
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))

	assert.Equal(t, 0, h.status().PendingCount)
}

func TestEnqueue_GeneratesIDForCreate(t *testing.T) {
	h := newHarness(t, false, Options{})
	payload := land("")

	id := h.enqueue(models.OperationCreate, "land", payload)

	item := h.item(id)
	assert.Equal(t, "gen-1", item.RemoteID)
	assert.Equal(t, models.StatusPending, item.Status)
	assert.Equal(t, 0, item.RetryCount)
	assert.Equal(t, "tenant-1", item.TenantID)

	fields, err := item.PayloadMap()
	require.NoError(t, err)
	assert.Equal(t, "gen-1", fields["id"])
	assert.Equal(t, "North field", fields["name"])

	_, mutated := payload["id"]
	assert.False(t, mutated, "caller payload must not be modified")
}

func TestEnqueue_RemoteIDFromPayload(t *testing.T) {
	h := newHarness(t, false, Options{IDField: "uid"})

	id := h.enqueue(models.OperationUpdate, "land", map[string]interface{}{"uid": float64(42), "acres": 3})
	assert.Equal(t, "42", h.item(id).RemoteID)

	id = h.enqueue(models.OperationDelete, "land", map[string]interface{}{"uid": "abc"})
	assert.Equal(t, "abc", h.item(id).RemoteID)
}

func TestEnqueue_IDsMonotonic(t *testing.T) {
	h := newHarness(t, false, Options{})
	prev := int64(0)
	for i := 0; i < 5; i++ {
		id := h.enqueue(models.OperationCreate, "land", land(""))
		assert.Greater(t, id, prev)
		prev = id
	}
}

// =====================================================
// No loss while offline
// =====================================================

func TestOffline_NoLossAcrossRestart(t *testing.T) {
	h := newHarness(t, false, Options{})
	adapter := &countingAdapter{}
	h.registry.Register("land", adapter.funcs())

	var ids []int64
	ids = append(ids, h.enqueue(models.OperationCreate, "land", land("a")))
	ids = append(ids, h.enqueue(models.OperationUpdate, "land", land("a")))
	ids = append(ids, h.enqueue(models.OperationDelete, "cropHistory", map[string]interface{}{"id": "c"}))

	// Sweeps while offline do nothing.
	res := h.sweep()
	assert.True(t, res.Skipped)
	assert.Equal(t, SkipOffline, res.SkipReason)
	assert.NoError(t, h.svc.ForceSync(context.Background()))
	assert.Equal(t, int32(0), adapter.calls.Load())

	st := h.status()
	assert.Equal(t, 3, st.PendingCount)
	assert.False(t, st.IsOnline)

	h.restart()

	for _, id := range ids {
		assert.Equal(t, models.StatusPending, h.item(id).Status)
	}
	assert.Equal(t, 3, h.status().PendingCount)
}

func TestInitialize_RecoversInFlight(t *testing.T) {
	h := newHarness(t, false, Options{})
	id := h.enqueue(models.OperationCreate, "land", land("a"))

	claimed, err := h.store.Claim(context.Background(), id)
	require.NoError(t, err)
	require.True(t, claimed)

	// The process dies mid-dispatch.
	h.restart()
	assert.Equal(t, models.StatusSyncing, h.item(id).Status)

	require.NoError(t, h.svc.Initialize(context.Background()))
	assert.Equal(t, models.StatusPending, h.item(id).Status)
}

// =====================================================
// Scenario A: offline enqueue, then online
// =====================================================

func TestScenarioA_OnlineTransitionSyncsEverything(t *testing.T) {
	h := newHarness(t, false, Options{})
	adapter := &countingAdapter{}
	h.registry.Register("land", adapter.funcs())

	for i := 0; i < 3; i++ {
		h.enqueue(models.OperationCreate, "land", land(""))
	}

	st := h.status()
	assert.Equal(t, 3, st.PendingCount)
	assert.False(t, st.IsOnline)

	require.NoError(t, h.svc.Initialize(context.Background()))
	assert.Equal(t, int32(0), adapter.calls.Load())

	h.net.Set(true)

	require.Eventually(t, func() bool {
		return h.status().PendingCount == 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(3), adapter.calls.Load())

	items, err := h.store.List(context.Background(), queue.ListFilter{Statuses: []models.Status{models.StatusSynced}})
	require.NoError(t, err)
	assert.Len(t, items, 3)
	for _, item := range items {
		assert.Equal(t, 0, item.RetryCount)
	}
}

func TestEnqueueWhileOnlineSyncsInBackground(t *testing.T) {
	h := newHarness(t, true, Options{})
	adapter := &countingAdapter{}
	h.registry.Register("land", adapter.funcs())
	require.NoError(t, h.svc.Initialize(context.Background()))

	id := h.enqueue(models.OperationCreate, "land", land("x"))

	require.Eventually(t, func() bool {
		return h.item(id).Status == models.StatusSynced
	}, 5*time.Second, 10*time.Millisecond)
}

// =====================================================
// Scenario B: bounded retries
// =====================================================

func TestScenarioB_BoundedRetries(t *testing.T) {
	h := newHarness(t, true, Options{Policy: retry.Policy{MaxRetries: 3}})
	adapter := &countingAdapter{}
	adapter.fail(errors.New("connection refused"))
	h.registry.Register("land", adapter.funcs())

	id := h.enqueue(models.OperationCreate, "land", land("a"))

	for attempt := 1; attempt <= 3; attempt++ {
		res := h.sweep()
		assert.Equal(t, 1, res.Selected)

		item := h.item(id)
		assert.Equal(t, attempt, item.RetryCount)
		assert.Contains(t, item.LastError, "connection refused")
		if attempt < 3 {
			assert.Equal(t, models.StatusError, item.Status)
			assert.Equal(t, 1, res.Retrying)
			assert.Greater(t, res.NextDelay, time.Duration(0))
		} else {
			assert.Equal(t, models.StatusFailed, item.Status)
			assert.Equal(t, 1, res.Failed)
		}
	}

	// No further dispatch attempts once failed.
	res := h.sweep()
	assert.Equal(t, 0, res.Selected)
	assert.Equal(t, int32(3), adapter.calls.Load())
	assert.Equal(t, 1, h.status().ErrorCount)

	n, err := h.svc.ClearFailedItems(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, h.status().ErrorCount)
}

func TestSweep_RecoversAfterTransientFailure(t *testing.T) {
	h := newHarness(t, true, Options{})
	adapter := &countingAdapter{}
	adapter.fail(errors.New("timeout"))
	h.registry.Register("land", adapter.funcs())

	id := h.enqueue(models.OperationCreate, "land", land("a"))
	h.sweep()
	assert.Equal(t, models.StatusError, h.item(id).Status)
	assert.Equal(t, 1, h.status().ErrorCount)

	adapter.fail(nil)
	h.sweep()
	item := h.item(id)
	assert.Equal(t, models.StatusSynced, item.Status)
	assert.Equal(t, 0, item.RetryCount)
	assert.Equal(t, 0, h.status().ErrorCount)
}

// =====================================================
// Scenario C: batching
// =====================================================

func TestScenarioC_BatchOfTen(t *testing.T) {
	h := newHarness(t, true, Options{BatchSize: 10})
	adapter := &countingAdapter{}
	h.registry.Register("land", adapter.funcs())

	for i := 0; i < 15; i++ {
		h.enqueue(models.OperationCreate, "land", land(""))
		h.clock.Advance(time.Millisecond)
	}

	first := h.sweep()
	assert.Equal(t, 10, first.Selected)
	assert.Equal(t, 10, first.Synced)
	assert.Equal(t, 5, first.Remaining)
	assert.Equal(t, 5, h.status().PendingCount)

	second := h.sweep()
	assert.Equal(t, 5, second.Selected)
	assert.Equal(t, 0, second.Remaining)
	assert.Equal(t, 0, h.status().PendingCount)
	assert.Equal(t, int32(15), adapter.calls.Load())
}

func TestScenarioC_FollowUpSweepIsAutomatic(t *testing.T) {
	h := newHarness(t, false, Options{BatchSize: 10})
	adapter := &countingAdapter{}
	h.registry.Register("land", adapter.funcs())

	for i := 0; i < 15; i++ {
		h.enqueue(models.OperationCreate, "land", land(""))
	}
	require.NoError(t, h.svc.Initialize(context.Background()))
	h.net.Set(true)

	require.Eventually(t, func() bool {
		return adapter.calls.Load() == 15 && h.status().PendingCount == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSweep_OldestFirst(t *testing.T) {
	h := newHarness(t, true, Options{BatchSize: 2})
	var mu stdsync.Mutex
	var seen []string
	h.registry.Register("land", remote.AdapterFuncs{
		CreateFunc: func(_ context.Context, req remote.Request) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, req.RemoteID)
			return nil
		},
	})

	for _, id := range []string{"1", "2", "3"} {
		h.enqueue(models.OperationCreate, "land", land(id))
		h.clock.Advance(time.Second)
	}

	h.sweep()
	assert.ElementsMatch(t, []string{"1", "2"}, seen)
}

func TestSweep_DispatchesConcurrently(t *testing.T) {
	h := newHarness(t, true, Options{})
	var active, maxActive atomic.Int32
	h.registry.Register("land", remote.AdapterFuncs{
		CreateFunc: func(context.Context, remote.Request) error {
			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(50 * time.Millisecond)
			active.Add(-1)
			return nil
		},
	})

	for i := 0; i < 3; i++ {
		h.enqueue(models.OperationCreate, "land", land(""))
	}
	res := h.sweep()
	assert.Equal(t, 3, res.Synced)
	assert.Greater(t, maxActive.Load(), int32(1))
}

// =====================================================
// Failure isolation
// =====================================================

func TestSweep_UnregisteredEntityFailsImmediately(t *testing.T) {
	h := newHarness(t, true, Options{})
	adapter := &countingAdapter{}
	h.registry.Register("land", adapter.funcs())

	orphan := h.enqueue(models.OperationCreate, "weather", map[string]interface{}{"id": "w"})
	ok := h.enqueue(models.OperationCreate, "land", land("l"))

	res := h.sweep()
	assert.Equal(t, 1, res.Synced)
	assert.Equal(t, 1, res.Failed)

	item := h.item(orphan)
	assert.Equal(t, models.StatusFailed, item.Status)
	assert.Equal(t, 1, item.RetryCount)
	assert.Contains(t, item.LastError, "weather")
	assert.Contains(t, item.LastError, "no remote adapter registered")

	assert.Equal(t, models.StatusSynced, h.item(ok).Status)
}

func TestSweep_PermanentErrorFailsImmediately(t *testing.T) {
	h := newHarness(t, true, Options{})
	adapter := &countingAdapter{}
	adapter.fail(remote.Permanent(errors.New("422 invalid acres")))
	h.registry.Register("land", adapter.funcs())

	id := h.enqueue(models.OperationCreate, "land", land("a"))
	h.sweep()

	assert.Equal(t, models.StatusFailed, h.item(id).Status)
	assert.Equal(t, int32(1), adapter.calls.Load())
}

func TestSweep_AdapterPanicIsContained(t *testing.T) {
	h := newHarness(t, true, Options{})
	h.registry.Register("land", remote.AdapterFuncs{
		CreateFunc: func(context.Context, remote.Request) error { panic("nil map") },
	})
	good := &countingAdapter{}
	h.registry.Register("crop", good.funcs())

	bad := h.enqueue(models.OperationCreate, "land", land("a"))
	fine := h.enqueue(models.OperationCreate, "crop", map[string]interface{}{"id": "c"})

	res := h.sweep()
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, models.StatusFailed, h.item(bad).Status)
	assert.Contains(t, h.item(bad).LastError, "adapter panic")
	assert.Equal(t, models.StatusSynced, h.item(fine).Status)
}

type brokenStore struct {
	queue.Store
	err error
}

func (b *brokenStore) SelectBatch(context.Context, []models.Status, int, int) ([]*models.QueueItem, error) {
	return nil, b.err
}

func TestSweep_StoreErrorHaltsSweep(t *testing.T) {
	h := newHarness(t, true, Options{})
	diskFull := apperrors.Wrap(apperrors.ErrDatabase, "select batch", errors.New("disk I/O error"))

	svc, err := NewService(&brokenStore{Store: h.store, err: diskFull}, h.net, h.registry, h.opts)
	require.NoError(t, err)

	_, err = svc.Sweep(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrDatabase))
	assert.False(t, svc.syncInProgress.Load(), "flag must clear after a failed sweep")

	assert.Error(t, svc.ForceSync(context.Background()))
}

// flakyStore fails the next failures UpdateStatus calls.
type flakyStore struct {
	queue.Store
	failures atomic.Int32
}

func (f *flakyStore) UpdateStatus(ctx context.Context, id int64, update queue.StatusUpdate) error {
	if f.failures.Add(-1) >= 0 {
		return apperrors.Wrap(apperrors.ErrDatabase, "update queue item", errors.New("disk I/O error"))
	}
	return f.Store.UpdateStatus(ctx, id, update)
}

func TestSweep_StatusWriteFailureReleasesClaim(t *testing.T) {
	h := newHarness(t, true, Options{})
	adapter := &countingAdapter{}
	h.registry.Register("land", adapter.funcs())
	id := h.enqueue(models.OperationCreate, "land", land("l1"))

	store := &flakyStore{Store: h.store}
	store.failures.Store(1)
	svc, err := NewService(store, h.net, h.registry, h.opts)
	require.NoError(t, err)

	_, err = svc.Sweep(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrDatabase))

	item := h.item(id)
	assert.Equal(t, models.StatusPending, item.Status, "claim must be released")
	assert.Equal(t, 0, item.RetryCount)

	res, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Selected)
	assert.Equal(t, 1, res.Synced)
	assert.Equal(t, int32(2), adapter.calls.Load())
	assert.Equal(t, models.StatusSynced, h.item(id).Status)
}

// =====================================================
// Mutual exclusion
// =====================================================

func TestSweep_MutualExclusion(t *testing.T) {
	h := newHarness(t, true, Options{})
	entered := make(chan struct{})
	release := make(chan struct{})
	var once stdsync.Once
	h.registry.Register("land", remote.AdapterFuncs{
		CreateFunc: func(context.Context, remote.Request) error {
			once.Do(func() { close(entered) })
			<-release
			return nil
		},
	})
	h.enqueue(models.OperationCreate, "land", land("a"))

	done := make(chan *SweepResult)
	go func() {
		res, _ := h.svc.Sweep(context.Background())
		done <- res
	}()

	<-entered
	assert.True(t, h.status().SyncInProgress)

	second := h.sweep()
	assert.True(t, second.Skipped)
	assert.Equal(t, SkipInProgress, second.SkipReason)

	close(release)
	first := <-done
	assert.Equal(t, 1, first.Synced)
	assert.False(t, h.status().SyncInProgress)
}

func TestSweep_ConcurrentCallersDispatchOnce(t *testing.T) {
	h := newHarness(t, true, Options{})
	var calls stdsync.Map
	var dupes atomic.Int32
	h.registry.Register("land", remote.AdapterFuncs{
		CreateFunc: func(_ context.Context, req remote.Request) error {
			if _, loaded := calls.LoadOrStore(req.RemoteID, true); loaded {
				dupes.Add(1)
			}
			time.Sleep(5 * time.Millisecond)
			return nil
		},
	})
	for i := 0; i < 20; i++ {
		h.enqueue(models.OperationCreate, "land", land(""))
	}

	var wg stdsync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				_, _ = h.svc.Sweep(context.Background())
			}
		}()
	}
	wg.Wait()

	for i := 0; i < 3 && h.status().PendingCount > 0; i++ {
		h.sweep()
	}

	assert.Equal(t, int32(0), dupes.Load(), "no item dispatched twice")
	assert.Equal(t, 0, h.status().PendingCount)
	items, err := h.store.List(context.Background(), queue.ListFilter{Statuses: []models.Status{models.StatusSynced}})
	require.NoError(t, err)
	assert.Len(t, items, 20)
}

// =====================================================
// Retention
// =====================================================

func TestSweep_RetentionCleanup(t *testing.T) {
	h := newHarness(t, true, Options{})
	ctx := context.Background()

	insertSynced := func(age time.Duration) int64 {
		id, err := h.store.Insert(ctx, &models.QueueItem{
			Operation:  models.OperationCreate,
			EntityType: "land",
			RemoteID:   "r",
			Payload:    json.RawMessage(`{"id":"r"}`),
			EnqueuedAt: h.clock.Now().Add(-age),
			Status:     models.StatusSynced,
		})
		require.NoError(t, err)
		return id
	}
	old := insertSynced(25 * time.Hour)
	young := insertSynced(23 * time.Hour)

	res := h.sweep()
	assert.Equal(t, int64(1), res.Cleaned)

	_, err := h.store.Get(ctx, old)
	assert.True(t, errors.Is(err, queue.ErrItemNotFound))
	assert.Equal(t, models.StatusSynced, h.item(young).Status)

	h.clock.Advance(2 * time.Hour)
	res = h.sweep()
	assert.Equal(t, int64(1), res.Cleaned)
}

func TestInitialize_RunsCleanup(t *testing.T) {
	h := newHarness(t, false, Options{})
	ctx := context.Background()
	_, err := h.store.Insert(ctx, &models.QueueItem{
		Operation:  models.OperationCreate,
		EntityType: "land",
		RemoteID:   "r",
		EnqueuedAt: h.clock.Now().Add(-48 * time.Hour),
		Status:     models.StatusSynced,
	})
	require.NoError(t, err)

	require.NoError(t, h.svc.Initialize(ctx))
	n, err := h.store.CountByStatus(ctx, models.StatusSynced)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

// =====================================================
// Lifecycle and status events
// =====================================================

func TestInitializeShutdown_Idempotent(t *testing.T) {
	h := newHarness(t, true, Options{})
	ctx := context.Background()

	require.NoError(t, h.svc.Initialize(ctx))
	require.NoError(t, h.svc.Initialize(ctx))
	assert.True(t, h.svc.IsInitialized())

	h.svc.Shutdown()
	h.svc.Shutdown()
	assert.False(t, h.svc.IsInitialized())

	require.NoError(t, h.svc.Initialize(ctx))
	assert.True(t, h.svc.IsInitialized())
}

func TestShutdown_StopsReactingToNetwork(t *testing.T) {
	h := newHarness(t, false, Options{})
	adapter := &countingAdapter{}
	h.registry.Register("land", adapter.funcs())
	require.NoError(t, h.svc.Initialize(context.Background()))
	h.svc.Shutdown()

	h.enqueue(models.OperationCreate, "land", land("a"))
	h.net.Set(true)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), adapter.calls.Load())
}

func TestSubscribe_ReceivesSweepEvents(t *testing.T) {
	h := newHarness(t, true, Options{})
	adapter := &countingAdapter{}
	h.registry.Register("land", adapter.funcs())

	events, cancel := h.svc.Subscribe()
	defer cancel()

	h.enqueue(models.OperationCreate, "land", land("a"))
	ev := <-events
	assert.Equal(t, EventStatus, ev.Type)
	assert.Equal(t, 1, ev.Status.PendingCount)

	require.NoError(t, h.svc.ForceSync(context.Background()))
	ev = <-events
	assert.Equal(t, EventCompleted, ev.Type)
	require.NotNil(t, ev.Result)
	assert.Equal(t, 1, ev.Result.Synced)
	assert.Equal(t, 0, ev.Status.PendingCount)
	assert.False(t, ev.Status.SyncInProgress)
}

type plotID int

func (p plotID) String() string { return fmt.Sprintf("plot-%d", int(p)) }

func TestRemoteIDOf(t *testing.T) {
	tests := []struct {
		in   interface{}
		want string
		err  bool
	}{
		{nil, "", false},
		{"abc", "abc", false},
		{float64(12), "12", false},
		{12.5, "12.5", false},
		{7, "7", false},
		{int64(9), "9", false},
		{json.Number("33"), "33", false},
		{int32(-4), "-4", false},
		{uint(5), "5", false},
		{uint8(200), "200", false},
		{uint64(18446744073709551615), "18446744073709551615", false},
		{float32(1.5), "1.5", false},
		{plotID(42), "plot-42", false},
		{true, "", true},
		{map[string]interface{}{}, "", true},
	}
	for _, tt := range tests {
		got, err := remoteIDOf(tt.in)
		if tt.err {
			assert.Error(t, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}
