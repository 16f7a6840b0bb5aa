package sync

import (
	"context"
	"fmt"
	stdsync "sync"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/kimhsiao/fieldsync/backend/internal/errors"
	"github.com/kimhsiao/fieldsync/backend/internal/logging"
	"github.com/kimhsiao/fieldsync/backend/internal/models"
	"github.com/kimhsiao/fieldsync/backend/internal/sync/queue"
	"github.com/kimhsiao/fieldsync/backend/internal/sync/remote"
	"github.com/kimhsiao/fieldsync/backend/internal/telemetry"
)

// Reasons a sweep did nothing.
const (
	SkipOffline    = "offline"
	SkipInProgress = "in_progress"
)

// SweepResult summarizes one sweep.
type SweepResult struct {
	Skipped    bool   `json:"skipped" yaml:"skipped"`
	SkipReason string `json:"skip_reason,omitempty" yaml:"skip_reason,omitempty"`

	Selected int `json:"selected" yaml:"selected"`
	Synced   int `json:"synced" yaml:"synced"`
	Retrying int `json:"retrying" yaml:"retrying"`
	Failed   int `json:"failed" yaml:"failed"`
	// Cleaned is the number of synced items removed by retention cleanup.
	Cleaned int64 `json:"cleaned" yaml:"cleaned"`
	// Remaining is the number of due items left after the sweep.
	Remaining int `json:"remaining" yaml:"remaining"`
	// NextDelay is when the follow-up sweep was scheduled, if any.
	NextDelay time.Duration `json:"next_delay" yaml:"next_delay"`

	StartedAt time.Time     `json:"started_at" yaml:"started_at"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
}

// itemOutcome is what happened to one dispatched item.
type itemOutcome int

const (
	outcomeSkipped itemOutcome = iota
	outcomeSynced
	outcomeRetrying
	outcomeFailed
)

func (s *Service) scheduledSweep(ctx context.Context) {
	// Errors are logged and published by Sweep; the next trigger retries.
	_, _ = s.Sweep(ctx)
}

// Sweep runs one pass over the queue: select a batch of due items, dispatch
// them concurrently, record each outcome, clean up, and reschedule. It is a
// no-op while offline or while another sweep runs. Only queue store errors
// are returned; dispatch errors stay on their item.
func (s *Service) Sweep(ctx context.Context) (*SweepResult, error) {
	if !s.observer.Current().Online {
		return &SweepResult{Skipped: true, SkipReason: SkipOffline}, nil
	}
	if !s.syncInProgress.CompareAndSwap(false, true) {
		logging.Debug("Sync already in progress, skipping", nil)
		return &SweepResult{Skipped: true, SkipReason: SkipInProgress}, nil
	}

	result := &SweepResult{StartedAt: s.opts.Now()}
	start := time.Now()

	err := func() error {
		defer s.syncInProgress.Store(false)
		return s.sweep(ctx, result)
	}()

	result.Duration = time.Since(start)
	s.metrics.RecordSweep(ctx, result.Duration, result.Selected, err)

	if err != nil {
		logging.ErrorWithCode("Sweep failed", string(apperrors.CodeOf(err)), err, map[string]interface{}{
			"selected": result.Selected,
		})
		s.publish(ctx, EventFailed, result, err)
		return result, err
	}

	if result.Selected > 0 {
		logging.Info("Sweep completed", map[string]interface{}{
			"selected":  result.Selected,
			"synced":    result.Synced,
			"retrying":  result.Retrying,
			"failed":    result.Failed,
			"remaining": result.Remaining,
			"cleaned":   result.Cleaned,
		})
	}
	s.publish(ctx, EventCompleted, result, nil)
	return result, nil
}

func (s *Service) sweep(ctx context.Context, result *SweepResult) error {
	policy := s.opts.Policy

	batch, err := s.store.SelectBatch(ctx, queue.DueStatuses, policy.MaxRetries, s.opts.BatchSize)
	if err != nil {
		return err
	}
	result.Selected = len(batch)

	if len(batch) > 0 {
		var (
			mu stdsync.Mutex
			g  errgroup.Group
		)
		g.SetLimit(s.opts.BatchSize)

		for _, item := range batch {
			g.Go(func() error {
				outcome, err := s.syncItem(ctx, item)
				if err != nil {
					return err
				}
				mu.Lock()
				defer mu.Unlock()
				switch outcome {
				case outcomeSynced:
					result.Synced++
				case outcomeRetrying:
					result.Retrying++
				case outcomeFailed:
					result.Failed++
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	cleaned, err := s.cleanup(ctx)
	if err != nil {
		return err
	}
	result.Cleaned = cleaned

	remaining, err := s.store.CountDue(ctx, policy.MaxRetries)
	if err != nil {
		return err
	}
	result.Remaining = remaining

	if remaining > 0 {
		if result.Retrying == 0 && result.Failed == 0 {
			s.scheduler.Wake()
		} else {
			failing, err := s.store.CountByStatus(ctx, models.StatusError)
			if err != nil {
				return err
			}
			result.NextDelay = policy.SweepDelay(failing)
			s.scheduler.WakeAfter(result.NextDelay)
		}
	}
	return nil
}

// syncItem claims, dispatches and records one item. The returned error is
// only ever a queue store error.
func (s *Service) syncItem(ctx context.Context, item *models.QueueItem) (itemOutcome, error) {
	claimed, err := s.store.Claim(ctx, item.ID)
	if err != nil {
		return outcomeSkipped, err
	}
	if !claimed {
		return outcomeSkipped, nil
	}

	dispatchErr := s.dispatch(ctx, item)

	update := queue.StatusUpdate{}
	var outcome itemOutcome
	switch {
	case dispatchErr == nil:
		update.Status = models.StatusSynced
		update.RetryCount = 0
		outcome = outcomeSynced
	default:
		update.RetryCount = item.RetryCount + 1
		update.LastError = dispatchErr.Error()
		if remote.IsPermanent(dispatchErr) || s.opts.Policy.ShouldGiveUp(update.RetryCount) {
			update.Status = models.StatusFailed
			outcome = outcomeFailed
		} else {
			update.Status = models.StatusError
			outcome = outcomeRetrying
		}
	}

	if err := s.store.UpdateStatus(ctx, item.ID, update); err != nil {
		s.release(ctx, item)
		return outcomeSkipped, err
	}

	s.metrics.RecordDispatch(ctx, item.EntityType, telemetryOutcome(outcome))
	if dispatchErr != nil {
		fields := map[string]interface{}{
			"id":          item.ID,
			"entity_type": item.EntityType,
			"operation":   string(item.Operation),
			"retry_count": update.RetryCount,
			"status":      string(update.Status),
		}
		if outcome == outcomeFailed {
			logging.ErrorWithCode("Queue item failed", string(failureCode(dispatchErr)), dispatchErr, fields)
		} else {
			logging.Warn("Queue item dispatch failed, will retry", mergeError(fields, dispatchErr))
		}
	}
	return outcome, nil
}

// release puts a claimed item back to the status it was selected in, so a
// store failure after Claim does not strand it in syncing until restart.
func (s *Service) release(ctx context.Context, item *models.QueueItem) {
	err := s.store.UpdateStatus(ctx, item.ID, queue.StatusUpdate{
		Status:     item.Status,
		RetryCount: item.RetryCount,
		LastError:  item.LastError,
	})
	if err != nil {
		logging.Warn("Failed to release claimed queue item", map[string]interface{}{
			"id":    item.ID,
			"error": err.Error(),
		})
	}
}

// dispatch calls the dispatcher, turning a panicking adapter into a
// permanent error on that item.
func (s *Service) dispatch(ctx context.Context, item *models.QueueItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = remote.Permanent(fmt.Errorf("adapter panic: %v", r))
		}
	}()
	return s.dispatcher.Dispatch(ctx, item)
}

// cleanup deletes synced items older than the retention window.
func (s *Service) cleanup(ctx context.Context) (int64, error) {
	cutoff := s.opts.Now().Add(-s.opts.Retention)
	n, err := s.store.DeleteOlderThan(ctx, models.StatusSynced, cutoff)
	if err != nil {
		return 0, err
	}
	s.metrics.RecordCleanup(ctx, n)
	if n > 0 {
		logging.Debug("Removed synced items past retention", map[string]interface{}{"count": n})
	}
	return n, nil
}

func (s *Service) publish(ctx context.Context, typ SyncEventType, result *SweepResult, err error) {
	if s.reporter.Subscribers() == 0 {
		return
	}
	ev := SyncEvent{Type: typ, Result: result, At: s.opts.Now()}
	if err != nil {
		ev.Error = err.Error()
	}
	if st, statusErr := s.Status(ctx); statusErr == nil {
		ev.Status = st
	}
	s.reporter.Publish(ev)
}

func failureCode(err error) apperrors.ErrorCode {
	if apperrors.Is(err, apperrors.ErrAdapterNotRegistered) {
		return apperrors.ErrAdapterNotRegistered
	}
	if remote.IsPermanent(err) {
		return apperrors.ErrSyncRejected
	}
	return apperrors.ErrRetriesExhausted
}

func telemetryOutcome(o itemOutcome) string {
	switch o {
	case outcomeSynced:
		return telemetry.OutcomeSynced
	case outcomeFailed:
		return telemetry.OutcomeFailed
	default:
		return telemetry.OutcomeError
	}
}

func mergeError(fields map[string]interface{}, err error) map[string]interface{} {
	fields["error"] = err.Error()
	return fields
}
