package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"parking-occupancy-service/internal/domain/occupancy"
)

const maxEventPageSize = 500

type ParkingRepository struct {
	db *gorm.DB
}

func NewParkingRepository(db *gorm.DB) *ParkingRepository {
	return &ParkingRepository{db: db}
}

type EventFilter struct {
	SpaceCode *string
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

func (r *ParkingRepository) ListSpaces(ctx context.Context) ([]ParkingSpace, error) {
	var spaces []ParkingSpace
	err := r.db.WithContext(ctx).
		Order("space_code ASC").
		Find(&spaces).Error
	return spaces, err
}

// ListSpacesWithGeometry returns the spaces that carry a full rectangle,
// ordered by space code.
func (r *ParkingRepository) ListSpacesWithGeometry(ctx context.Context) ([]ParkingSpace, error) {
	var spaces []ParkingSpace
	err := r.db.WithContext(ctx).
		Where("x1 IS NOT NULL AND y1 IS NOT NULL AND x2 IS NOT NULL AND y2 IS NOT NULL").
		Order("space_code ASC").
		Find(&spaces).Error
	return spaces, err
}

func (r *ParkingRepository) FindSpaceByCode(ctx context.Context, code string) (*ParkingSpace, error) {
	var space ParkingSpace
	err := r.db.WithContext(ctx).
		Where("space_code = ?", code).
		Take(&space).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: parking space %s", occupancy.ErrNotFound, code)
	}
	if err != nil {
		return nil, err
	}
	return &space, nil
}

type statusCount struct {
	Status string
	Total  int64
}

// StatusSummary counts spaces per status. Statuses with no spaces are
// reported as zero.
func (r *ParkingRepository) StatusSummary(ctx context.Context) (map[occupancy.Status]int64, error) {
	var rows []statusCount
	err := r.db.WithContext(ctx).
		Model(&ParkingSpace{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	summary := map[occupancy.Status]int64{
		occupancy.StatusFree:     0,
		occupancy.StatusOccupied: 0,
		occupancy.StatusUnknown:  0,
	}
	for _, row := range rows {
		status := occupancy.Status(strings.ToLower(row.Status))
		if !status.Valid() {
			status = occupancy.StatusUnknown
		}
		summary[status] += row.Total
	}
	return summary, nil
}

// UpsertSpaces inserts new spaces and refreshes geometry of existing ones,
// keyed by space code. Status is left untouched on conflict.
func (r *ParkingRepository) UpsertSpaces(ctx context.Context, spaces []ParkingSpace) error {
	if len(spaces) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range spaces {
		if spaces[i].ID == uuid.Nil {
			spaces[i].ID = uuid.New()
		}
		if spaces[i].Status == "" {
			spaces[i].Status = string(occupancy.StatusUnknown)
		}
		if spaces[i].CreatedAt.IsZero() {
			spaces[i].CreatedAt = now
		}
		spaces[i].UpdatedAt = now
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "space_code"}},
			DoUpdates: clause.AssignmentColumns([]string{"floor", "x1", "y1", "x2", "y2", "updated_at"}),
		}).
		Create(&spaces).Error
	if err != nil {
		return fmt.Errorf("failed to upsert parking spaces: %w", err)
	}
	return nil
}

func (r *ParkingRepository) FindEvents(ctx context.Context, filter EventFilter) ([]OccupancyEvent, error) {
	query := r.db.WithContext(ctx).Model(&OccupancyEvent{})

	if filter.SpaceCode != nil {
		query = query.Where("space_code = ?", *filter.SpaceCode)
	}
	if filter.From != nil {
		query = query.Where("occurred_at >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		query = query.Where("occurred_at <= ?", filter.To.UTC())
	}

	query = query.Order("occurred_at DESC")

	if filter.Limit > 0 {
		limit := filter.Limit
		if limit > maxEventPageSize {
			limit = maxEventPageSize
		}
		query = query.Limit(limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var events []OccupancyEvent
	err := query.Find(&events).Error
	return events, err
}

// EventsBetween returns every event in [from, to) in chronological order.
func (r *ParkingRepository) EventsBetween(ctx context.Context, from, to time.Time) ([]OccupancyEvent, error) {
	var events []OccupancyEvent
	err := r.db.WithContext(ctx).
		Where("occurred_at >= ? AND occurred_at < ?", from.UTC(), to.UTC()).
		Order("occurred_at ASC").
		Find(&events).Error
	return events, err
}

// LastEventsBefore returns, per space code, the latest event strictly before t.
func (r *ParkingRepository) LastEventsBefore(ctx context.Context, t time.Time) ([]OccupancyEvent, error) {
	latest := r.db.
		Model(&OccupancyEvent{}).
		Select("space_code, MAX(occurred_at) AS occurred_at").
		Where("occurred_at < ?", t.UTC()).
		Group("space_code")

	var events []OccupancyEvent
	err := r.db.WithContext(ctx).
		Table("occupancy_events AS e").
		Select("e.*").
		Joins("JOIN (?) AS latest ON e.space_code = latest.space_code AND e.occurred_at = latest.occurred_at", latest).
		Find(&events).Error
	return events, err
}

func (r *ParkingRepository) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("occurred_at < ?", cutoff.UTC()).
		Delete(&OccupancyEvent{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
