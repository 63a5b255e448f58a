// Package registry loads the camera spot layout and the id to space code mapping.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"parking-occupancy-service/internal/domain/occupancy"
)

// Source yields a spot layout. Implementations do not need to validate.
type Source interface {
	Load(ctx context.Context) (Layout, error)
	Name() string
}

type Layout struct {
	Spots   []occupancy.Spot      `json:"spots"`
	Mapping occupancy.SpotMapping `json:"mapping"`
	Source  string                `json:"source"`
}

// Registry holds the active layout. The store source is authoritative and the
// file source is the degraded fallback.
type Registry struct {
	primary  Source
	fallback Source
	log      zerolog.Logger
	current  atomic.Pointer[Layout]
}

func New(primary, fallback Source, log zerolog.Logger) *Registry {
	return &Registry{
		primary:  primary,
		fallback: fallback,
		log:      log,
	}
}

// Load reads the layout, validates it and makes it current.
func (r *Registry) Load(ctx context.Context) (Layout, error) {
	var errs []error

	if r.primary != nil {
		layout, err := r.loadFrom(ctx, r.primary)
		if err == nil {
			r.current.Store(&layout)
			return layout, nil
		}
		errs = append(errs, err)
		r.log.Warn().
			Err(err).
			Str("source", r.primary.Name()).
			Msg("spot registry degraded, falling back")
	}

	if r.fallback != nil {
		layout, err := r.loadFrom(ctx, r.fallback)
		if err == nil {
			r.log.Warn().
				Str("source", layout.Source).
				Int("spots", len(layout.Spots)).
				Msg("spot registry running from fallback source")
			r.current.Store(&layout)
			return layout, nil
		}
		errs = append(errs, err)
	}

	return Layout{}, errors.Join(append([]error{occupancy.ErrNoSpotsAvailable}, errs...)...)
}

// Reload replaces the current layout. On failure the previous layout stays active.
func (r *Registry) Reload(ctx context.Context) (Layout, error) {
	return r.Load(ctx)
}

// Current returns the active layout, or false before the first successful load.
func (r *Registry) Current() (Layout, bool) {
	layout := r.current.Load()
	if layout == nil {
		return Layout{}, false
	}
	return *layout, true
}

func (r *Registry) loadFrom(ctx context.Context, src Source) (Layout, error) {
	layout, err := src.Load(ctx)
	if err != nil {
		return Layout{}, fmt.Errorf("%s: %w", src.Name(), err)
	}
	if len(layout.Spots) == 0 {
		return Layout{}, fmt.Errorf("%s: %w", src.Name(), occupancy.ErrNoSpotsAvailable)
	}
	if err := Validate(&layout); err != nil {
		return Layout{}, fmt.Errorf("%s: %w", src.Name(), err)
	}
	layout.Source = src.Name()
	return layout, nil
}

// Validate normalizes rectangles in place and rejects duplicate ids,
// non-positive ids and zero-area spots. Space codes are kept verbatim since
// the store looks them up by exact match; blank codes are dropped.
func Validate(layout *Layout) error {
	seen := make(map[int]struct{}, len(layout.Spots))
	for i := range layout.Spots {
		spot := &layout.Spots[i]
		if spot.ID <= 0 {
			return fmt.Errorf("%w: spot id %d must be positive", occupancy.ErrConfig, spot.ID)
		}
		if _, dup := seen[spot.ID]; dup {
			return fmt.Errorf("%w: duplicate spot id %d", occupancy.ErrConfig, spot.ID)
		}
		seen[spot.ID] = struct{}{}

		spot.Rect = spot.Rect.Normalize()
		if spot.Rect.Area() == 0 {
			return fmt.Errorf("%w: spot %d has zero area", occupancy.ErrConfig, spot.ID)
		}
	}

	mapping := make(occupancy.SpotMapping, len(layout.Mapping))
	for id, code := range layout.Mapping {
		if strings.TrimSpace(code) != "" {
			mapping[id] = code
		}
	}
	layout.Mapping = mapping

	for i := range layout.Spots {
		layout.Spots[i].Code = mapping[layout.Spots[i].ID]
	}
	return nil
}
