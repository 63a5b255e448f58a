package registry

import (
	"context"
	"math"

	"parking-occupancy-service/internal/domain/occupancy"
	"parking-occupancy-service/internal/repository"
)

type spaceLister interface {
	ListSpacesWithGeometry(ctx context.Context) ([]repository.ParkingSpace, error)
}

// StoreSource builds the layout from parking_spaces rows that carry geometry.
// Spots are numbered 1..n in space code order.
type StoreSource struct {
	spaces spaceLister
}

func NewStoreSource(spaces spaceLister) *StoreSource {
	return &StoreSource{spaces: spaces}
}

func (s *StoreSource) Name() string {
	return "store"
}

func (s *StoreSource) Load(ctx context.Context) (Layout, error) {
	rows, err := s.spaces.ListSpacesWithGeometry(ctx)
	if err != nil {
		return Layout{}, err
	}

	layout := Layout{
		Spots:   make([]occupancy.Spot, 0, len(rows)),
		Mapping: make(occupancy.SpotMapping, len(rows)),
	}
	for i, row := range rows {
		id := i + 1
		layout.Spots = append(layout.Spots, occupancy.Spot{
			ID:   id,
			Code: row.SpaceCode,
			Rect: row.Rect(),
		})
		layout.Mapping[id] = row.SpaceCode
	}
	return layout, nil
}

// SpacesFromLayout converts a validated layout into parking_spaces rows for
// import. Spots without a mapped code cannot be stored and are returned as
// unmapped instead.
func SpacesFromLayout(layout Layout) ([]repository.ParkingSpace, []int) {
	spaces := make([]repository.ParkingSpace, 0, len(layout.Spots))
	var unmapped []int
	for _, spot := range layout.Spots {
		code, ok := layout.Mapping.Resolve(spot.ID)
		if !ok {
			unmapped = append(unmapped, spot.ID)
			continue
		}
		rect := spot.Rect.Normalize()
		spaces = append(spaces, repository.ParkingSpace{
			SpaceCode: code,
			X1:        pixel(rect.X1),
			Y1:        pixel(rect.Y1),
			X2:        pixel(rect.X2),
			Y2:        pixel(rect.Y2),
		})
	}
	return spaces, unmapped
}

func pixel(v float64) *int {
	p := int(math.Round(v))
	return &p
}
