package occupancy

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusFree     Status = "free"
	StatusOccupied Status = "occupied"
	StatusUnknown  Status = "unknown"
)

func (s Status) Valid() bool {
	return s == StatusFree || s == StatusOccupied || s == StatusUnknown
}

// StatusFor maps a verdict to the status the engine writes. Unknown is never produced here.
func StatusFor(occupied bool) Status {
	if occupied {
		return StatusOccupied
	}
	return StatusFree
}

// Rect is an axis-aligned rectangle in frame pixel coordinates.
type Rect struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Normalize orders the corners so that X1<=X2 and Y1<=Y2.
func (r Rect) Normalize() Rect {
	return Rect{
		X1: math.Min(r.X1, r.X2),
		Y1: math.Min(r.Y1, r.Y2),
		X2: math.Max(r.X1, r.X2),
		Y2: math.Max(r.Y1, r.Y2),
	}
}

func (r Rect) Width() float64 {
	return r.X2 - r.X1
}

func (r Rect) Height() float64 {
	return r.Y2 - r.Y1
}

// Area is zero for degenerate or inverted rectangles.
func (r Rect) Area() float64 {
	if r.Width() <= 0 || r.Height() <= 0 {
		return 0
	}
	return r.Width() * r.Height()
}

// Intersection returns the overlapping area of r and o.
func (r Rect) Intersection(o Rect) float64 {
	w := math.Max(0, math.Min(r.X2, o.X2)-math.Max(r.X1, o.X1))
	h := math.Max(0, math.Min(r.Y2, o.Y2)-math.Max(r.Y1, o.Y1))
	return w * h
}

type Spot struct {
	ID   int    `json:"id"`
	Code string `json:"code"`
	Rect Rect   `json:"rect"`
}

type Detection struct {
	Rect       Rect    `json:"rect"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

type Verdict struct {
	SpotID       int    `json:"spot_id"`
	Occupied     bool   `json:"occupied"`
	MatchedClass string `json:"matched_class,omitempty"`
}

type PersistedStatus struct {
	SpotCode  string    `json:"spot_code"`
	Status    Status    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

type TransitionEvent struct {
	ID             uuid.UUID `json:"id"`
	SpotCode       string    `json:"spot_code"`
	NewStatus      Status    `json:"new_status"`
	PreviousStatus Status    `json:"previous_status,omitempty"`
	MatchedClass   string    `json:"matched_class,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// SpotMapping relates registry-local spot ids to durable spot codes.
type SpotMapping map[int]string

func (m SpotMapping) Resolve(spotID int) (string, bool) {
	code, ok := m[spotID]
	if !ok || code == "" {
		return "", false
	}
	return code, true
}

// StatusStore is the persistence boundary the sync engine talks to.
// ReadStatus returns nil, nil when the spot code is absent from the store.
type StatusStore interface {
	ReadStatus(ctx context.Context, spotCode string) (*PersistedStatus, error)
	WriteStatus(ctx context.Context, spotCode string, status Status) error
	AppendEvent(ctx context.Context, event *TransitionEvent) error
}
