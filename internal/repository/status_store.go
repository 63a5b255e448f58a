package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"parking-occupancy-service/internal/config"
	"parking-occupancy-service/internal/domain/occupancy"
)

// NewStatusStore returns the status store backend for the given driver.
func NewStatusStore(driver string, db *gorm.DB) (occupancy.StatusStore, error) {
	switch driver {
	case config.DriverPostgres:
		return NewPostgresStatusStore(db), nil
	case config.DriverMySQL:
		return NewMySQLStatusStore(db), nil
	default:
		return nil, fmt.Errorf("%w: unsupported status store driver %q", occupancy.ErrConfig, driver)
	}
}

// gormStatusStore holds the reads and appends both SQL backends share.
type gormStatusStore struct {
	db  *gorm.DB
	now func() time.Time
}

func (s *gormStatusStore) ReadStatus(ctx context.Context, spotCode string) (*occupancy.PersistedStatus, error) {
	var space ParkingSpace
	err := s.db.WithContext(ctx).
		Select("space_code", "status", "updated_at").
		Where("space_code = ?", spotCode).
		Take(&space).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("read status", spotCode, err)
	}

	return &occupancy.PersistedStatus{
		SpotCode:  space.SpaceCode,
		Status:    occupancy.Status(strings.ToLower(space.Status)),
		UpdatedAt: space.UpdatedAt,
	}, nil
}

func (s *gormStatusStore) resolveID(ctx context.Context, spotCode string) (uuid.UUID, error) {
	var space ParkingSpace
	err := s.db.WithContext(ctx).
		Select("id").
		Where("space_code = ?", spotCode).
		Take(&space).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return uuid.Nil, fmt.Errorf("%w: parking space %s", occupancy.ErrNotFound, spotCode)
	}
	if err != nil {
		return uuid.Nil, unavailable("resolve space", spotCode, err)
	}
	return space.ID, nil
}

func (s *gormStatusStore) AppendEvent(ctx context.Context, event *occupancy.TransitionEvent) error {
	spaceID, err := s.resolveID(ctx, event.SpotCode)
	if err != nil {
		return err
	}

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}

	details, err := json.Marshal(eventDetails{
		PreviousStatus: string(event.PreviousStatus),
		MatchedClass:   event.MatchedClass,
	})
	if err != nil {
		return fmt.Errorf("marshal event details: %w", err)
	}

	row := OccupancyEvent{
		ID:             event.ID,
		ParkingSpaceID: spaceID,
		SpaceCode:      event.SpotCode,
		Status:         string(event.NewStatus),
		Details:        datatypes.JSON(details),
		OccurredAt:     event.Timestamp.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return unavailable("append event", event.SpotCode, err)
	}
	return nil
}

func (s *gormStatusStore) statusColumns(status occupancy.Status) map[string]any {
	return map[string]any{
		"status":     string(status),
		"updated_at": s.now(),
	}
}

// PostgresStatusStore resolves the space uuid and updates the row by id.
type PostgresStatusStore struct {
	gormStatusStore
}

func NewPostgresStatusStore(db *gorm.DB) *PostgresStatusStore {
	return &PostgresStatusStore{gormStatusStore{db: db, now: utcNow}}
}

func (s *PostgresStatusStore) WriteStatus(ctx context.Context, spotCode string, status occupancy.Status) error {
	id, err := s.resolveID(ctx, spotCode)
	if err != nil {
		return err
	}

	result := s.db.WithContext(ctx).
		Model(&ParkingSpace{}).
		Where("id = ?", id).
		Updates(s.statusColumns(status))
	if result.Error != nil {
		return unavailable("write status", spotCode, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: parking space %s", occupancy.ErrNotFound, spotCode)
	}
	return nil
}

// MySQLStatusStore locks the space row before updating it. MySQL reports
// changed rather than matched rows, so existence is checked by the locking read.
type MySQLStatusStore struct {
	gormStatusStore
}

func NewMySQLStatusStore(db *gorm.DB) *MySQLStatusStore {
	return &MySQLStatusStore{gormStatusStore{db: db, now: utcNow}}
}

func (s *MySQLStatusStore) WriteStatus(ctx context.Context, spotCode string, status occupancy.Status) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var space ParkingSpace
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").
			Where("space_code = ?", spotCode).
			Take(&space).Error; err != nil {
			return err
		}
		return tx.Model(&ParkingSpace{}).
			Where("id = ?", space.ID).
			Updates(s.statusColumns(status)).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: parking space %s", occupancy.ErrNotFound, spotCode)
	}
	if err != nil {
		return unavailable("write status", spotCode, err)
	}
	return nil
}

func unavailable(op, spotCode string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", occupancy.ErrStoreUnavailable, op, spotCode, err)
}

func utcNow() time.Time {
	return time.Now().UTC()
}
