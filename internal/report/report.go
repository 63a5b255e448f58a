// Package report computes per-space occupancy over a time window.
package report

import (
	"sort"
	"time"

	"parking-occupancy-service/internal/domain/occupancy"
)

type SpaceOccupancy struct {
	SpaceCode        string           `json:"space_code"`
	InitialStatus    occupancy.Status `json:"initial_status"`
	FinalStatus      occupancy.Status `json:"final_status"`
	Transitions      int              `json:"transitions"`
	OccupiedSeconds  float64          `json:"occupied_seconds"`
	OccupancyRatio   float64          `json:"occupancy_ratio"`
	LastTransitionAt *time.Time       `json:"last_transition_at,omitempty"`
}

type OccupancyReport struct {
	From   time.Time        `json:"from"`
	To     time.Time        `json:"to"`
	Spaces []SpaceOccupancy `json:"spaces"`
}

// Compute walks each space's transitions inside [from, to) starting from its
// status at from. Time spent occupied is summed; the ratio is relative to the
// whole window. Spaces without a known initial status start as unknown.
func Compute(from, to time.Time, codes []string, initial map[string]occupancy.Status, events []occupancy.TransitionEvent) OccupancyReport {
	byCode := make(map[string][]occupancy.TransitionEvent)
	for _, e := range events {
		if e.Timestamp.Before(from) || !e.Timestamp.Before(to) {
			continue
		}
		byCode[e.SpotCode] = append(byCode[e.SpotCode], e)
	}

	seen := make(map[string]struct{}, len(codes))
	all := make([]string, 0, len(codes)+len(byCode))
	for _, code := range append(append([]string(nil), codes...), keys(byCode)...) {
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		all = append(all, code)
	}
	sort.Strings(all)

	window := to.Sub(from)
	out := OccupancyReport{From: from, To: to, Spaces: make([]SpaceOccupancy, 0, len(all))}
	for _, code := range all {
		status, ok := initial[code]
		if !ok || !status.Valid() {
			status = occupancy.StatusUnknown
		}
		row := SpaceOccupancy{SpaceCode: code, InitialStatus: status}

		transitions := byCode[code]
		sort.SliceStable(transitions, func(i, j int) bool {
			return transitions[i].Timestamp.Before(transitions[j].Timestamp)
		})

		var occupied time.Duration
		cursor := from
		for _, e := range transitions {
			if status == occupancy.StatusOccupied {
				occupied += e.Timestamp.Sub(cursor)
			}
			status = e.NewStatus
			cursor = e.Timestamp
			ts := e.Timestamp
			row.LastTransitionAt = &ts
			row.Transitions++
		}
		if status == occupancy.StatusOccupied {
			occupied += to.Sub(cursor)
		}

		row.FinalStatus = status
		row.OccupiedSeconds = occupied.Seconds()
		if window > 0 {
			row.OccupancyRatio = float64(occupied) / float64(window)
		}
		out.Spaces = append(out.Spaces, row)
	}
	return out
}

func keys(m map[string][]occupancy.TransitionEvent) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
