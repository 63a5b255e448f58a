package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"parking-occupancy-service/internal/domain/occupancy"
	"parking-occupancy-service/internal/report"
	"parking-occupancy-service/internal/repository"
	"parking-occupancy-service/internal/utils"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = occupancy.ErrNotFound
)

const (
	defaultEventLimit  = 50
	maxEventLimit      = 100
	defaultReportRange = 24 * time.Hour
	maxReportRange     = 31 * 24 * time.Hour
)

type ParkingService struct {
	repo *repository.ParkingRepository
	log  zerolog.Logger
	now  func() time.Time
}

func NewParkingService(repo *repository.ParkingRepository, log zerolog.Logger) *ParkingService {
	return &ParkingService{
		repo: repo,
		log:  log,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

type SpaceState struct {
	SpaceCode string    `json:"space_code"`
	Status    string    `json:"status"`
	Floor     *string   `json:"floor,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type SpaceInfo struct {
	ID        string          `json:"id"`
	SpaceCode string          `json:"space_code"`
	Status    string          `json:"status"`
	Floor     *string         `json:"floor,omitempty"`
	Rect      *occupancy.Rect `json:"rect,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type Summary struct {
	Total    int64 `json:"total"`
	Free     int64 `json:"free"`
	Occupied int64 `json:"occupied"`
	Unknown  int64 `json:"unknown"`
}

type EventInfo struct {
	ID             string    `json:"id"`
	SpaceCode      string    `json:"space_code"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	MatchedClass   string    `json:"matched_class,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func (s *ParkingService) State(ctx context.Context) ([]SpaceState, error) {
	spaces, err := s.repo.ListSpaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list parking spaces: %w", err)
	}

	result := make([]SpaceState, 0, len(spaces))
	for _, sp := range spaces {
		result = append(result, SpaceState{
			SpaceCode: sp.SpaceCode,
			Status:    sp.Status,
			Floor:     sp.Floor,
			UpdatedAt: sp.UpdatedAt,
		})
	}
	return result, nil
}

func (s *ParkingService) Summary(ctx context.Context) (Summary, error) {
	counts, err := s.repo.StatusSummary(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to summarize parking spaces: %w", err)
	}

	summary := Summary{
		Free:     counts[occupancy.StatusFree],
		Occupied: counts[occupancy.StatusOccupied],
		Unknown:  counts[occupancy.StatusUnknown],
	}
	summary.Total = summary.Free + summary.Occupied + summary.Unknown
	return summary, nil
}

func (s *ParkingService) ListSpaces(ctx context.Context) ([]SpaceInfo, error) {
	spaces, err := s.repo.ListSpaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list parking spaces: %w", err)
	}

	result := make([]SpaceInfo, 0, len(spaces))
	for _, sp := range spaces {
		info := SpaceInfo{
			ID:        sp.ID.String(),
			SpaceCode: sp.SpaceCode,
			Status:    sp.Status,
			Floor:     sp.Floor,
			CreatedAt: sp.CreatedAt,
			UpdatedAt: sp.UpdatedAt,
		}
		if sp.HasGeometry() {
			rect := sp.Rect()
			info.Rect = &rect
		}
		result = append(result, info)
	}
	return result, nil
}

// History returns the newest events of one space first.
func (s *ParkingService) History(ctx context.Context, code string, limit int) ([]EventInfo, error) {
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("%w: space code is required", ErrInvalidInput)
	}
	space, err := s.findSpace(ctx, code)
	if err != nil {
		return nil, err
	}

	events, err := s.repo.FindEvents(ctx, repository.EventFilter{
		SpaceCode: &space.SpaceCode,
		Limit:     clampLimit(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return s.toEventInfos(events), nil
}

// findSpace matches the stored code exactly first and falls back to the
// canonical form, so rows imported before normalization stay reachable.
func (s *ParkingService) findSpace(ctx context.Context, code string) (*repository.ParkingSpace, error) {
	trimmed := strings.TrimSpace(code)
	space, err := s.repo.FindSpaceByCode(ctx, trimmed)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return space, err
	}
	if normalized := utils.NormalizeSpaceCode(code); normalized != trimmed {
		return s.repo.FindSpaceByCode(ctx, normalized)
	}
	return nil, err
}

func (s *ParkingService) FindEvents(ctx context.Context, spaceQuery *string, from, to *string, limit, offset int) ([]EventInfo, error) {
	var spaceCode *string
	if spaceQuery != nil && strings.TrimSpace(*spaceQuery) != "" {
		space, err := s.findSpace(ctx, *spaceQuery)
		switch {
		case err == nil:
			spaceCode = &space.SpaceCode
		case errors.Is(err, ErrNotFound):
			normalized := utils.NormalizeSpaceCode(*spaceQuery)
			spaceCode = &normalized
		default:
			return nil, err
		}
	}

	fromTime, err := parseOptionalTime("from", from)
	if err != nil {
		return nil, err
	}
	toTime, err := parseOptionalTime("to", to)
	if err != nil {
		return nil, err
	}
	if fromTime != nil && toTime != nil && toTime.Before(*fromTime) {
		return nil, fmt.Errorf("%w: to must not be before from", ErrInvalidInput)
	}
	if offset < 0 {
		offset = 0
	}

	events, err := s.repo.FindEvents(ctx, repository.EventFilter{
		SpaceCode: spaceCode,
		From:      fromTime,
		To:        toTime,
		Limit:     clampLimit(limit),
		Offset:    offset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find events: %w", err)
	}
	return s.toEventInfos(events), nil
}

// OccupancyReport computes per-space occupancy for [from, to). Empty bounds
// default to the last 24 hours.
func (s *ParkingService) OccupancyReport(ctx context.Context, from, to *string) (report.OccupancyReport, error) {
	fromTime, err := parseOptionalTime("from", from)
	if err != nil {
		return report.OccupancyReport{}, err
	}
	toTime, err := parseOptionalTime("to", to)
	if err != nil {
		return report.OccupancyReport{}, err
	}

	end := s.now()
	if toTime != nil {
		end = toTime.UTC()
	}
	start := end.Add(-defaultReportRange)
	if fromTime != nil {
		start = fromTime.UTC()
	}
	if !start.Before(end) {
		return report.OccupancyReport{}, fmt.Errorf("%w: from must be before to", ErrInvalidInput)
	}
	if end.Sub(start) > maxReportRange {
		return report.OccupancyReport{}, fmt.Errorf("%w: report window exceeds %s", ErrInvalidInput, maxReportRange)
	}

	spaces, err := s.repo.ListSpaces(ctx)
	if err != nil {
		return report.OccupancyReport{}, fmt.Errorf("failed to list parking spaces: %w", err)
	}
	codes := make([]string, 0, len(spaces))
	for _, sp := range spaces {
		codes = append(codes, sp.SpaceCode)
	}

	before, err := s.repo.LastEventsBefore(ctx, start)
	if err != nil {
		return report.OccupancyReport{}, fmt.Errorf("failed to load initial states: %w", err)
	}
	initial := make(map[string]occupancy.Status, len(before))
	for _, e := range before {
		initial[e.SpaceCode] = occupancy.Status(e.Status)
	}

	rows, err := s.repo.EventsBetween(ctx, start, end)
	if err != nil {
		return report.OccupancyReport{}, fmt.Errorf("failed to load events: %w", err)
	}
	events := make([]occupancy.TransitionEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, s.transition(row))
	}

	return report.Compute(start, end, codes, initial, events), nil
}

// CleanupOldEvents deletes events older than the given number of days.
func (s *ParkingService) CleanupOldEvents(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, fmt.Errorf("%w: retention days must be positive", ErrInvalidInput)
	}
	cutoff := s.now().AddDate(0, 0, -days)
	deleted, err := s.repo.DeleteEventsBefore(ctx, cutoff)
	if err != nil {
		s.log.Error().Err(err).Int("days", days).Msg("failed to cleanup old events")
		return 0, err
	}
	if deleted > 0 {
		s.log.Info().Int64("deleted_count", deleted).Int("days", days).Msg("cleaned up old events")
	}
	return deleted, nil
}

func parseOptionalTime(name string, raw *string) (*time.Time, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, *raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid %s time format", ErrInvalidInput, name)
	}
	return &t, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultEventLimit
	}
	if limit > maxEventLimit {
		return maxEventLimit
	}
	return limit
}

func (s *ParkingService) toEventInfos(events []repository.OccupancyEvent) []EventInfo {
	result := make([]EventInfo, 0, len(events))
	for _, e := range events {
		tr := s.transition(e)
		result = append(result, EventInfo{
			ID:             e.ID.String(),
			SpaceCode:      e.SpaceCode,
			Status:         e.Status,
			PreviousStatus: string(tr.PreviousStatus),
			MatchedClass:   tr.MatchedClass,
			OccurredAt:     e.OccurredAt,
		})
	}
	return result
}

func (s *ParkingService) transition(row repository.OccupancyEvent) occupancy.TransitionEvent {
	event, err := row.Transition()
	if err != nil {
		s.log.Warn().
			Err(err).
			Str("event_id", row.ID.String()).
			Str("space_code", row.SpaceCode).
			Msg("occupancy event has malformed details")
	}
	return event
}
