package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parking-occupancy-service/internal/domain/occupancy"
	"parking-occupancy-service/internal/repository"
)

type stubSource struct {
	name   string
	layout Layout
	err    error
	calls  int
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Load(context.Context) (Layout, error) {
	s.calls++
	return s.layout, s.err
}

func twoSpotLayout() Layout {
	return Layout{
		Spots: []occupancy.Spot{
			{ID: 1, Rect: occupancy.Rect{X1: 100, Y1: 100, X2: 0, Y2: 0}},
			{ID: 2, Rect: occupancy.Rect{X1: 120, Y1: 0, X2: 220, Y2: 100}},
		},
		Mapping: occupancy.SpotMapping{1: "A-01", 2: "A-02"},
	}
}

func TestRegistryLoadPrimary(t *testing.T) {
	primary := &stubSource{name: "store", layout: twoSpotLayout()}
	fallback := &stubSource{name: "file", layout: twoSpotLayout()}
	reg := New(primary, fallback, zerolog.Nop())

	layout, err := reg.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "store", layout.Source)
	assert.Equal(t, 0, fallback.calls)

	current, ok := reg.Current()
	require.True(t, ok)
	assert.Equal(t, layout, current)
	assert.Equal(t, occupancy.Rect{X1: 0, Y1: 0, X2: 100, Y2: 100}, current.Spots[0].Rect)
	assert.Equal(t, "A-01", current.Spots[0].Code)
	assert.Equal(t, "A-01", current.Mapping[1])
}

func TestRegistryFallback(t *testing.T) {
	tests := []struct {
		name    string
		primary *stubSource
	}{
		{name: "primary error", primary: &stubSource{name: "store", err: errors.New("connection refused")}},
		{name: "primary empty", primary: &stubSource{name: "store", layout: Layout{}}},
		{name: "primary invalid", primary: &stubSource{name: "store", layout: Layout{Spots: []occupancy.Spot{{ID: 0}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fallback := &stubSource{name: "file", layout: twoSpotLayout()}
			reg := New(tt.primary, fallback, zerolog.Nop())

			layout, err := reg.Load(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "file", layout.Source)
			assert.Len(t, layout.Spots, 2)
		})
	}
}

func TestRegistryNoSpotsAvailable(t *testing.T) {
	storeErr := errors.New("connection refused")
	primary := &stubSource{name: "store", err: storeErr}
	fallback := &stubSource{name: "file", err: os.ErrNotExist}
	reg := New(primary, fallback, zerolog.Nop())

	_, err := reg.Load(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, occupancy.ErrNoSpotsAvailable)
	assert.ErrorIs(t, err, storeErr)

	_, ok := reg.Current()
	assert.False(t, ok)
}

func TestRegistryReloadKeepsPreviousOnFailure(t *testing.T) {
	primary := &stubSource{name: "store", layout: twoSpotLayout()}
	reg := New(primary, nil, zerolog.Nop())

	_, err := reg.Load(context.Background())
	require.NoError(t, err)

	primary.err = errors.New("timeout")
	_, err = reg.Reload(context.Background())
	require.Error(t, err)

	current, ok := reg.Current()
	require.True(t, ok)
	assert.Len(t, current.Spots, 2)
}

func TestValidate(t *testing.T) {
	square := occupancy.Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}
	tests := []struct {
		name  string
		spots []occupancy.Spot
	}{
		{name: "duplicate id", spots: []occupancy.Spot{{ID: 1, Rect: square}, {ID: 1, Rect: square}}},
		{name: "zero id", spots: []occupancy.Spot{{ID: 0, Rect: square}}},
		{name: "negative id", spots: []occupancy.Spot{{ID: -3, Rect: square}}},
		{name: "zero area", spots: []occupancy.Spot{{ID: 1, Rect: occupancy.Rect{X1: 5, Y1: 0, X2: 5, Y2: 10}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&Layout{Spots: tt.spots})
			assert.ErrorIs(t, err, occupancy.ErrConfig)
		})
	}
}

func TestValidateKeepsCodesVerbatim(t *testing.T) {
	square := occupancy.Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}
	layout := Layout{
		Spots:   []occupancy.Spot{{ID: 1, Rect: square}, {ID: 2, Rect: square}, {ID: 3, Rect: square}},
		Mapping: occupancy.SpotMapping{1: "a-01", 2: "A 02", 3: " "},
	}
	require.NoError(t, Validate(&layout))

	assert.Equal(t, occupancy.SpotMapping{1: "a-01", 2: "A 02"}, layout.Mapping)
	assert.Equal(t, "a-01", layout.Spots[0].Code)
	assert.Equal(t, "A 02", layout.Spots[1].Code)
	assert.Empty(t, layout.Spots[2].Code)
}

func TestReadMappingFileNormalizesCodes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spot_mapping.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"1":" a-01 ","2":"b 02","3":""}`), 0o644))

	mapping, err := ReadMappingFile(path)
	require.NoError(t, err)
	assert.Equal(t, occupancy.SpotMapping{1: "A-01", 2: "B02"}, mapping)
}

func TestFileSourceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	spotsPath := filepath.Join(dir, "parking_spots.json")
	mappingPath := filepath.Join(dir, "spot_mapping.json")

	spots := []occupancy.Spot{
		{ID: 1, Rect: occupancy.Rect{X1: 12, Y1: 40, X2: 180, Y2: 300}},
		{ID: 2, Rect: occupancy.Rect{X1: 190, Y1: 40, X2: 355.5, Y2: 300}},
	}
	mapping := occupancy.SpotMapping{1: "A-01", 2: "A-02"}
	require.NoError(t, WriteSpotsFile(spotsPath, spots))
	require.NoError(t, WriteMappingFile(mappingPath, mapping))

	layout, err := NewFileSource(spotsPath, mappingPath).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, spots, layout.Spots)
	assert.Equal(t, mapping, layout.Mapping)
}

func TestFileSourceFormat(t *testing.T) {
	dir := t.TempDir()
	spotsPath := filepath.Join(dir, "parking_spots.json")
	require.NoError(t, os.WriteFile(spotsPath, []byte(`[{"id":1,"coords":[[120,80],[20,10]]}]`), 0o644))

	layout, err := NewFileSource(spotsPath, filepath.Join(dir, "missing.json")).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, layout.Spots, 1)
	assert.Equal(t, occupancy.Rect{X1: 120, Y1: 80, X2: 20, Y2: 10}, layout.Spots[0].Rect)
	assert.Empty(t, layout.Mapping)

	require.NoError(t, os.WriteFile(spotsPath, []byte(`{"id":1}`), 0o644))
	_, err = NewFileSource(spotsPath, "").Load(context.Background())
	assert.ErrorIs(t, err, occupancy.ErrConfig)
}

func TestReadMappingFileRejectsBadKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spot_mapping.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"one":"A-01"}`), 0o644))

	_, err := ReadMappingFile(path)
	assert.ErrorIs(t, err, occupancy.ErrConfig)
}

type stubLister struct {
	spaces []repository.ParkingSpace
}

func (s stubLister) ListSpacesWithGeometry(context.Context) ([]repository.ParkingSpace, error) {
	return s.spaces, nil
}

func TestStoreSourceNumbersSpacesInOrder(t *testing.T) {
	v := func(n int) *int { return &n }
	src := NewStoreSource(stubLister{spaces: []repository.ParkingSpace{
		{SpaceCode: "A-01", X1: v(0), Y1: v(0), X2: v(10), Y2: v(10)},
		{SpaceCode: "A-02", X1: v(20), Y1: v(0), X2: v(30), Y2: v(10)},
	}})

	layout, err := src.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, layout.Spots, 2)
	assert.Equal(t, 1, layout.Spots[0].ID)
	assert.Equal(t, 2, layout.Spots[1].ID)
	assert.Equal(t, occupancy.SpotMapping{1: "A-01", 2: "A-02"}, layout.Mapping)
	assert.Equal(t, occupancy.Rect{X1: 20, Y1: 0, X2: 30, Y2: 10}, layout.Spots[1].Rect)
}

func TestSpacesFromLayout(t *testing.T) {
	layout := Layout{
		Spots: []occupancy.Spot{
			{ID: 1, Rect: occupancy.Rect{X1: 100.4, Y1: 100.6, X2: 0, Y2: 0}},
			{ID: 2, Rect: occupancy.Rect{X1: 120, Y1: 0, X2: 220, Y2: 100}},
			{ID: 7, Rect: occupancy.Rect{X1: 300, Y1: 0, X2: 400, Y2: 100}},
		},
		Mapping: occupancy.SpotMapping{1: "A-01", 2: "A-02", 7: "  "},
	}
	require.NoError(t, Validate(&layout))

	spaces, unmapped := SpacesFromLayout(layout)
	assert.Equal(t, []int{7}, unmapped)
	require.Len(t, spaces, 2)
	assert.Equal(t, "A-01", spaces[0].SpaceCode)
	assert.Equal(t, 0, *spaces[0].X1)
	assert.Equal(t, 0, *spaces[0].Y1)
	assert.Equal(t, 100, *spaces[0].X2)
	assert.Equal(t, 101, *spaces[0].Y2)
	assert.Equal(t, occupancy.Rect{X1: 120, Y1: 0, X2: 220, Y2: 100}, spaces[1].Rect())
}
