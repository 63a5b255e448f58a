package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"parking-occupancy-service/internal/domain/occupancy"
)

// SyncEngine diffs one cycle's verdicts against persisted status and writes
// only the changes, each followed by a transition event.
type SyncEngine struct {
	store occupancy.StatusStore
	log   zerolog.Logger
	now   func() time.Time
}

func NewSyncEngine(store occupancy.StatusStore, log zerolog.Logger) *SyncEngine {
	return &SyncEngine{
		store: store,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Sync processes verdicts sequentially. Failures are recorded per spot and
// never stop the cycle. The returned error is non-nil only when every spot
// that reached the store failed as unavailable.
func (e *SyncEngine) Sync(ctx context.Context, verdicts []occupancy.Verdict, mapping occupancy.SpotMapping) (occupancy.SyncReport, error) {
	var (
		report      occupancy.SyncReport
		attempted   int
		unreachable int
	)

	for _, verdict := range verdicts {
		code, ok := mapping.Resolve(verdict.SpotID)
		if !ok {
			e.log.Warn().
				Int("spot_id", verdict.SpotID).
				Msg("spot has no space code mapping, skipping")
			report.Skip(verdict.SpotID, "", occupancy.ReasonUnmapped, nil)
			continue
		}
		attempted++

		current, err := e.store.ReadStatus(ctx, code)
		if err != nil {
			if e.skipFailed(&report, verdict.SpotID, code, "read status", err) {
				unreachable++
			}
			continue
		}
		if current == nil {
			e.log.Warn().
				Int("spot_id", verdict.SpotID).
				Str("space_code", code).
				Msg("space code not found in store, skipping")
			report.Skip(verdict.SpotID, code, occupancy.ReasonNotFound, nil)
			continue
		}

		next := occupancy.StatusFor(verdict.Occupied)
		if current.Status == next {
			report.Unchanged++
			continue
		}

		if err := e.store.WriteStatus(ctx, code, next); err != nil {
			if e.skipFailed(&report, verdict.SpotID, code, "write status", err) {
				unreachable++
			}
			continue
		}
		report.Updated++

		event := &occupancy.TransitionEvent{
			SpotCode:       code,
			NewStatus:      next,
			PreviousStatus: current.Status,
			MatchedClass:   verdict.MatchedClass,
			Timestamp:      e.now(),
		}
		if err := e.store.AppendEvent(ctx, event); err != nil {
			e.log.Error().
				Err(err).
				Str("space_code", code).
				Str("status", string(next)).
				Msg("status written but transition event was not recorded")
			report.Inconsistent(code, next, fmt.Errorf("%w: %w", occupancy.ErrPartialWrite, err))
			continue
		}
		report.Transitions = append(report.Transitions, *event)

		e.log.Info().
			Str("space_code", code).
			Str("from", string(current.Status)).
			Str("to", string(next)).
			Str("matched_class", verdict.MatchedClass).
			Msg("space status changed")
	}

	if attempted > 0 && unreachable == attempted {
		return report, fmt.Errorf("%w: %w", occupancy.ErrStoreUnreachable, occupancy.ErrStoreUnavailable)
	}
	return report, nil
}

// skipFailed records a store failure and reports whether it was an availability failure.
func (e *SyncEngine) skipFailed(report *occupancy.SyncReport, spotID int, code, op string, err error) bool {
	reason := occupancy.ReasonStoreError
	switch {
	case errors.Is(err, occupancy.ErrStoreUnavailable):
		reason = occupancy.ReasonStoreUnavailable
	case errors.Is(err, occupancy.ErrNotFound):
		reason = occupancy.ReasonNotFound
	}

	e.log.Warn().
		Err(err).
		Int("spot_id", spotID).
		Str("space_code", code).
		Str("op", op).
		Str("reason", reason).
		Msg("failed to sync space")
	report.Skip(spotID, code, reason, err)
	return reason == occupancy.ReasonStoreUnavailable
}
