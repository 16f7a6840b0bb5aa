package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	stdsync "sync"
	"sync/atomic"
	"time"

	apperrors "github.com/kimhsiao/fieldsync/backend/internal/errors"
	"github.com/kimhsiao/fieldsync/backend/internal/logging"
	"github.com/kimhsiao/fieldsync/backend/internal/models"
	"github.com/kimhsiao/fieldsync/backend/internal/sync/network"
	"github.com/kimhsiao/fieldsync/backend/internal/sync/queue"
	"github.com/kimhsiao/fieldsync/backend/internal/sync/retry"
	"github.com/kimhsiao/fieldsync/backend/internal/sync/scheduler"
	"github.com/kimhsiao/fieldsync/backend/internal/telemetry"
	"github.com/kimhsiao/fieldsync/backend/internal/uuid"
)

const (
	DefaultBatchSize = 10
	DefaultInterval  = 5 * time.Minute
	DefaultRetention = 24 * time.Hour
	DefaultIDField   = "id"
)

// Dispatcher performs the remote call for one queue item. *remote.Registry
// implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, item *models.QueueItem) error
}

// Options configures a Service. Zero fields take the defaults.
type Options struct {
	BatchSize int
	Policy    retry.Policy
	// Interval is the safety-net sweep period.
	Interval time.Duration
	// Retention is how long synced items are kept before cleanup.
	Retention time.Duration
	// IDField is the payload key holding the remote identifier.
	IDField string
	Now     func() time.Time
	IDGen   uuid.Generator
	Metrics *telemetry.Metrics
}

// DefaultOptions returns the default service options.
func DefaultOptions() Options {
	return Options{
		BatchSize: DefaultBatchSize,
		Policy:    retry.DefaultPolicy(),
		Interval:  DefaultInterval,
		Retention: DefaultRetention,
		IDField:   DefaultIDField,
		Now:       time.Now,
		IDGen:     uuid.New,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	o.Policy = o.Policy.WithDefaults()
	if o.Interval <= 0 {
		o.Interval = d.Interval
	}
	if o.Retention <= 0 {
		o.Retention = d.Retention
	}
	if o.IDField == "" {
		o.IDField = d.IDField
	}
	if o.Now == nil {
		o.Now = d.Now
	}
	if o.IDGen == nil {
		o.IDGen = d.IDGen
	}
	return o
}

// Service is the sync orchestrator. Construct one per queue; there is no
// package-level instance.
type Service struct {
	store      queue.Store
	observer   network.Observer
	dispatcher Dispatcher
	opts       Options
	scheduler  *scheduler.Scheduler
	reporter   *Reporter
	metrics    *telemetry.Metrics

	syncInProgress atomic.Bool

	mu          stdsync.Mutex
	initialized bool
	unsubscribe func()
	cancel      context.CancelFunc
	wg          stdsync.WaitGroup
}

// NewService creates a Service. Call Initialize to start background syncing.
func NewService(store queue.Store, observer network.Observer, dispatcher Dispatcher, opts Options) (*Service, error) {
	if store == nil {
		return nil, apperrors.New(apperrors.ErrConfig, "queue store is required")
	}
	if observer == nil {
		return nil, apperrors.New(apperrors.ErrConfig, "network observer is required")
	}
	if dispatcher == nil {
		return nil, apperrors.New(apperrors.ErrSyncNotConfigured, "remote dispatcher is required")
	}

	opts = opts.withDefaults()
	s := &Service{
		store:      store,
		observer:   observer,
		dispatcher: dispatcher,
		opts:       opts,
		reporter:   NewReporter(),
		metrics:    opts.Metrics,
	}
	s.scheduler = scheduler.NewScheduler(s.scheduledSweep, &scheduler.SchedulerConfig{
		Interval: opts.Interval,
	})
	return s, nil
}

// Options returns the effective options.
func (s *Service) Options() Options {
	return s.opts
}

// Store returns the queue store.
func (s *Service) Store() queue.Store {
	return s.store
}

// Enqueue validates and durably records a mutation, then wakes the sweep
// loop when online. It blocks only on the local write.
func (s *Service) Enqueue(ctx context.Context, op models.Operation, entityType string, payload map[string]interface{}, tenantID string) (int64, error) {
	if !op.Valid() {
		return 0, apperrors.Newf(apperrors.ErrInvalid, "unknown operation %q", op)
	}
	if entityType == "" {
		return 0, apperrors.New(apperrors.ErrInvalid, "entity type is required")
	}

	record := make(map[string]interface{}, len(payload)+1)
	for k, v := range payload {
		record[k] = v
	}

	remoteID, err := remoteIDOf(record[s.opts.IDField])
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrInvalid, "invalid remote id", err)
	}
	if remoteID == "" {
		if op.NeedsRemoteID() {
			return 0, apperrors.Newf(apperrors.ErrInvalid, "%s of %s requires payload field %q", op, entityType, s.opts.IDField)
		}
		remoteID = s.opts.IDGen()
		record[s.opts.IDField] = remoteID
	}

	data, err := json.Marshal(record)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrInvalid, "payload is not serializable", err)
	}

	item := &models.QueueItem{
		Operation:  op,
		EntityType: entityType,
		RemoteID:   remoteID,
		Payload:    data,
		TenantID:   tenantID,
		EnqueuedAt: s.opts.Now(),
		Status:     models.StatusPending,
	}
	id, err := s.store.Insert(ctx, item)
	if err != nil {
		logging.ErrorWithCode("Failed to enqueue mutation", string(apperrors.CodeOf(err)), err, map[string]interface{}{
			"entity_type": entityType,
			"operation":   string(op),
		})
		return 0, err
	}

	s.metrics.RecordEnqueue(ctx, entityType, string(op))
	logging.Debug("Mutation enqueued", map[string]interface{}{
		"id":          id,
		"entity_type": entityType,
		"operation":   string(op),
	})

	// A wake during a running sweep is coalesced into one follow-up sweep.
	if s.observer.Current().Online {
		s.scheduler.Wake()
	}
	s.publishStatus(ctx)
	return id, nil
}

// remoteIDOf renders a payload id value as a string.
func remoteIDOf(v interface{}) (string, error) {
	switch id := v.(type) {
	case nil:
		return "", nil
	case string:
		return id, nil
	case json.Number:
		return id.String(), nil
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(id), 'f', -1, 32), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", id), nil
	case fmt.Stringer:
		return id.String(), nil
	default:
		return "", fmt.Errorf("unsupported id type %T", v)
	}
}

// Status returns the queue projection for the UI. It never mutates the queue.
func (s *Service) Status(ctx context.Context) (SyncStatus, error) {
	pending, err := s.store.CountByStatus(ctx, models.StatusPending, models.StatusSyncing)
	if err != nil {
		return SyncStatus{}, err
	}
	failing, err := s.store.CountByStatus(ctx, models.StatusError, models.StatusFailed)
	if err != nil {
		return SyncStatus{}, err
	}
	return SyncStatus{
		PendingCount:   pending,
		ErrorCount:     failing,
		IsOnline:       s.observer.Current().Online,
		SyncInProgress: s.syncInProgress.Load(),
	}, nil
}

// ForceSync runs one sweep and waits for it. Offline, it returns immediately.
func (s *Service) ForceSync(ctx context.Context) error {
	if !s.observer.Current().Online {
		logging.Debug("Force sync skipped - offline", nil)
		return nil
	}
	_, err := s.Sweep(ctx)
	return err
}

// ClearFailedItems deletes every failed item.
func (s *Service) ClearFailedItems(ctx context.Context) (int, error) {
	n, err := s.store.DeleteByStatus(ctx, models.StatusFailed)
	if err != nil {
		return 0, err
	}
	logging.Info("Cleared failed queue items", map[string]interface{}{"count": n})
	s.publishStatus(ctx)
	return int(n), nil
}

// Subscribe streams status events.
func (s *Service) Subscribe() (<-chan SyncEvent, func()) {
	return s.reporter.Subscribe()
}

// Initialize recovers items a previous process left in syncing, runs the
// retention cleanup, subscribes to the network observer and starts the
// periodic timer. Calling it again is a no-op.
func (s *Service) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}

	recovered, err := s.store.RecoverInFlight(ctx)
	if err != nil {
		return err
	}
	if recovered > 0 {
		logging.Warn("Recovered items left in syncing by a previous run", map[string]interface{}{
			"count": recovered,
		})
	}
	if _, err := s.cleanup(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	transitions, unsubscribe := s.observer.Subscribe()

	s.wg.Add(1)
	go s.watchNetwork(runCtx, transitions)

	s.scheduler.Start(runCtx)

	s.cancel = cancel
	s.unsubscribe = unsubscribe
	s.initialized = true

	logging.Info("Sync service initialized", map[string]interface{}{
		"batch_size":  s.opts.BatchSize,
		"max_retries": s.opts.Policy.MaxRetries,
		"interval":    s.opts.Interval.String(),
	})
	return nil
}

// watchNetwork wakes the sweep loop on every online observation.
func (s *Service) watchNetwork(ctx context.Context, transitions <-chan network.Status) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-transitions:
			if !ok {
				return
			}
			if st.Online {
				logging.Info("Network online, scheduling sync", nil)
				s.scheduler.Wake()
			} else {
				logging.Info("Network offline, sync paused", nil)
			}
			s.publishStatus(ctx)
		}
	}
}

// Shutdown detaches from the observer, stops timers and waits for an
// in-flight sweep. The queue itself stays open.
func (s *Service) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return
	}
	s.initialized = false

	s.unsubscribe()
	s.cancel()
	s.scheduler.Stop()
	s.wg.Wait()
	s.reporter.Close()

	logging.Info("Sync service stopped", nil)
}

// IsInitialized reports whether background syncing is running.
func (s *Service) IsInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

func (s *Service) publishStatus(ctx context.Context) {
	if s.reporter.Subscribers() == 0 {
		return
	}
	st, err := s.Status(ctx)
	if err != nil {
		logging.Warn("Failed to read sync status", map[string]interface{}{"error": err.Error()})
		return
	}
	s.reporter.Publish(SyncEvent{Type: EventStatus, Status: st, At: s.opts.Now()})
}
