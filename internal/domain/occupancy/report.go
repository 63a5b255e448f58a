package occupancy

import "fmt"

const (
	ReasonUnmapped         = "unmapped"
	ReasonNotFound         = "not_found"
	ReasonStoreUnavailable = "store_unavailable"
	ReasonStoreError       = "store_error"
)

type SkipReason struct {
	SpotID   int    `json:"spot_id"`
	SpotCode string `json:"spot_code,omitempty"`
	Reason   string `json:"reason"`
	Detail   string `json:"detail,omitempty"`
	Err      error  `json:"-"`
}

func (s SkipReason) String() string {
	if s.Err != nil {
		return fmt.Sprintf("spot %d (%s): %s: %v", s.SpotID, s.SpotCode, s.Reason, s.Err)
	}
	return fmt.Sprintf("spot %d (%s): %s", s.SpotID, s.SpotCode, s.Reason)
}

// Inconsistency is a spot whose status was written while its transition event was not.
type Inconsistency struct {
	SpotCode string `json:"spot_code"`
	Status   Status `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Err      error  `json:"-"`
}

type SyncReport struct {
	Updated         int               `json:"updated"`
	Unchanged       int               `json:"unchanged"`
	Skipped         []SkipReason      `json:"skipped"`
	Inconsistencies []Inconsistency   `json:"inconsistencies"`
	Transitions     []TransitionEvent `json:"transitions"`
}

// Skip records a per-spot skip reason.
func (r *SyncReport) Skip(spotID int, code, reason string, err error) {
	skip := SkipReason{SpotID: spotID, SpotCode: code, Reason: reason, Err: err}
	if err != nil {
		skip.Detail = err.Error()
	}
	r.Skipped = append(r.Skipped, skip)
}

func (r *SyncReport) Inconsistent(code string, status Status, err error) {
	inc := Inconsistency{SpotCode: code, Status: status, Err: err}
	if err != nil {
		inc.Detail = err.Error()
	}
	r.Inconsistencies = append(r.Inconsistencies, inc)
}
