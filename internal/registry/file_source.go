package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"

	"parking-occupancy-service/internal/domain/occupancy"
	"parking-occupancy-service/internal/utils"
)

// spotRecord is the on-disk shape of parking_spots.json entries.
type spotRecord struct {
	ID     int           `json:"id"`
	Coords [2][2]float64 `json:"coords"`
}

// FileSource reads the layout from parking_spots.json and the optional
// spot_mapping.json.
type FileSource struct {
	SpotsFile   string
	MappingFile string
}

func NewFileSource(spotsFile, mappingFile string) *FileSource {
	return &FileSource{SpotsFile: spotsFile, MappingFile: mappingFile}
}

func (s *FileSource) Name() string {
	return "file:" + s.SpotsFile
}

func (s *FileSource) Load(ctx context.Context) (Layout, error) {
	if err := ctx.Err(); err != nil {
		return Layout{}, err
	}

	spots, err := ReadSpotsFile(s.SpotsFile)
	if err != nil {
		return Layout{}, err
	}

	mapping := occupancy.SpotMapping{}
	if s.MappingFile != "" {
		mapping, err = ReadMappingFile(s.MappingFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Layout{}, err
		}
		if mapping == nil {
			mapping = occupancy.SpotMapping{}
		}
	}

	return Layout{Spots: spots, Mapping: mapping}, nil
}

func ReadSpotsFile(path string) ([]occupancy.Spot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spots file: %w", err)
	}

	var records []spotRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", occupancy.ErrConfig, path, err)
	}

	spots := make([]occupancy.Spot, 0, len(records))
	for _, rec := range records {
		spots = append(spots, occupancy.Spot{
			ID: rec.ID,
			Rect: occupancy.Rect{
				X1: rec.Coords[0][0],
				Y1: rec.Coords[0][1],
				X2: rec.Coords[1][0],
				Y2: rec.Coords[1][1],
			},
		})
	}
	return spots, nil
}

// ReadMappingFile reads spot_mapping.json. Hand-written codes are normalized
// to the canonical form the import tool stores.
func ReadMappingFile(path string) (occupancy.SpotMapping, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping file: %w", err)
	}

	var byKey map[string]string
	if err := json.Unmarshal(raw, &byKey); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", occupancy.ErrConfig, path, err)
	}

	mapping := make(occupancy.SpotMapping, len(byKey))
	for key, code := range byKey {
		id, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("%w: mapping key %q is not a spot id", occupancy.ErrConfig, key)
		}
		if normalized := utils.NormalizeSpaceCode(code); normalized != "" {
			mapping[id] = normalized
		}
	}
	return mapping, nil
}

// WriteSpotsFile writes spots in the parking_spots.json format.
func WriteSpotsFile(path string, spots []occupancy.Spot) error {
	records := make([]spotRecord, 0, len(spots))
	for _, spot := range spots {
		records = append(records, spotRecord{
			ID: spot.ID,
			Coords: [2][2]float64{
				{spot.Rect.X1, spot.Rect.Y1},
				{spot.Rect.X2, spot.Rect.Y2},
			},
		})
	}
	return writeJSON(path, records)
}

// WriteMappingFile writes the mapping in the spot_mapping.json format, keys
// in ascending id order.
func WriteMappingFile(path string, mapping occupancy.SpotMapping) error {
	ids := make([]int, 0, len(mapping))
	for id := range mapping {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	byKey := make(map[string]string, len(mapping))
	for _, id := range ids {
		byKey[strconv.Itoa(id)] = mapping[id]
	}
	return writeJSON(path, byKey)
}

func writeJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(raw, '\n'), 0o644)
}
