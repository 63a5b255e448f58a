package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"parking-occupancy-service/internal/domain/occupancy"
)

func (ParkingSpace) TableName() string {
	return "parking_spaces"
}

func (OccupancyEvent) TableName() string {
	return "occupancy_events"
}

type ParkingSpace struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	SpaceCode string    `gorm:"not null;uniqueIndex"`
	Status    string    `gorm:"not null;default:'unknown'"`
	Floor     *string
	X1        *int
	Y1        *int
	X2        *int
	Y2        *int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasGeometry reports whether all four corners are set.
func (p ParkingSpace) HasGeometry() bool {
	return p.X1 != nil && p.Y1 != nil && p.X2 != nil && p.Y2 != nil
}

func (p ParkingSpace) Rect() occupancy.Rect {
	if !p.HasGeometry() {
		return occupancy.Rect{}
	}
	return occupancy.Rect{
		X1: float64(*p.X1),
		Y1: float64(*p.Y1),
		X2: float64(*p.X2),
		Y2: float64(*p.Y2),
	}
}

type OccupancyEvent struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey"`
	ParkingSpaceID uuid.UUID      `gorm:"type:uuid;not null;index"`
	SpaceCode      string         `gorm:"not null;index"`
	Status         string         `gorm:"not null"`
	Details        datatypes.JSON `gorm:"type:jsonb"`
	OccurredAt     time.Time      `gorm:"not null;index"`
}

type eventDetails struct {
	PreviousStatus string `json:"previous_status,omitempty"`
	MatchedClass   string `json:"matched_class,omitempty"`
}

// Transition converts the stored row back into a domain event. When details
// cannot be decoded the event is still returned, without previous status and
// matched class, together with the decode error.
func (e OccupancyEvent) Transition() (occupancy.TransitionEvent, error) {
	event := occupancy.TransitionEvent{
		ID:        e.ID,
		SpotCode:  e.SpaceCode,
		NewStatus: occupancy.Status(e.Status),
		Timestamp: e.OccurredAt,
	}
	if len(e.Details) == 0 {
		return event, nil
	}

	var details eventDetails
	if err := json.Unmarshal(e.Details, &details); err != nil {
		return event, fmt.Errorf("decode details of event %s: %w", e.ID, err)
	}
	event.PreviousStatus = occupancy.Status(details.PreviousStatus)
	event.MatchedClass = details.MatchedClass
	return event, nil
}
