// Package classifier turns one cycle's detections into per-spot occupancy verdicts.
package classifier

import (
	"fmt"
	"strings"

	"parking-occupancy-service/internal/domain/occupancy"
)

const (
	DefaultMinConfidence    = 0.3
	DefaultOverlapThreshold = 0.02
)

var DefaultAcceptedClasses = []string{"car", "toy_car", "vehicle", "truck", "bus", "motorcycle"}

type Options struct {
	AcceptedClasses  []string
	MinConfidence    float64
	OverlapThreshold float64
}

func DefaultOptions() Options {
	return Options{
		AcceptedClasses:  append([]string(nil), DefaultAcceptedClasses...),
		MinConfidence:    DefaultMinConfidence,
		OverlapThreshold: DefaultOverlapThreshold,
	}
}

func (o Options) Validate() error {
	if o.MinConfidence < 0 || o.MinConfidence > 1 {
		return fmt.Errorf("min confidence must be within [0,1], got %v", o.MinConfidence)
	}
	if o.OverlapThreshold <= 0 || o.OverlapThreshold > 1 {
		return fmt.Errorf("overlap threshold must be within (0,1], got %v", o.OverlapThreshold)
	}
	if len(o.AcceptedClasses) == 0 {
		return fmt.Errorf("accepted classes must not be empty")
	}
	return nil
}

// Classify returns one verdict per spot, in spot order. It performs no I/O.
//
// A spot is occupied by the first detection (input order) that passes the
// class and confidence filters, has a positive width and height, intersects
// the spot, and covers at least OverlapThreshold of the spot's own area.
func Classify(spots []occupancy.Spot, detections []occupancy.Detection, opts Options) []occupancy.Verdict {
	candidates := filter(detections, opts)

	verdicts := make([]occupancy.Verdict, 0, len(spots))
	for _, spot := range spots {
		verdict := occupancy.Verdict{SpotID: spot.ID}
		rect := spot.Rect.Normalize()
		area := rect.Area()
		if area > 0 {
			for _, det := range candidates {
				ratio := OverlapRatio(rect, det.Rect)
				if ratio > 0 && ratio >= opts.OverlapThreshold {
					verdict.Occupied = true
					verdict.MatchedClass = det.Label
					break
				}
			}
		}
		verdicts = append(verdicts, verdict)
	}
	return verdicts
}

// OverlapRatio is the intersection area divided by the spot's area.
func OverlapRatio(spot, det occupancy.Rect) float64 {
	area := spot.Area()
	if area == 0 {
		return 0
	}
	return spot.Intersection(det) / area
}

func filter(detections []occupancy.Detection, opts Options) []occupancy.Detection {
	accepted := make(map[string]struct{}, len(opts.AcceptedClasses))
	for _, class := range opts.AcceptedClasses {
		accepted[normalizeLabel(class)] = struct{}{}
	}

	out := make([]occupancy.Detection, 0, len(detections))
	for _, det := range detections {
		if _, ok := accepted[normalizeLabel(det.Label)]; !ok {
			continue
		}
		if det.Confidence < opts.MinConfidence {
			continue
		}
		if det.Rect.Width() <= 0 || det.Rect.Height() <= 0 {
			continue
		}
		out = append(out, det)
	}
	return out
}

func normalizeLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}
