package writeback

import "time"

// State is the phase a write-back cycle is in.
type State int

const (
	StateIdle State = iota
	StateMeasuring
	StateCheckingBusy
	StatePreCleaning
	StateMoving
	StatePruning
	StateMeasuringPost
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateMeasuring:
		return "MEASURING"
	case StateCheckingBusy:
		return "CHECKING_BUSY"
	case StatePreCleaning:
		return "PRE_CLEANING"
	case StateMoving:
		return "MOVING"
	case StatePruning:
		return "PRUNING"
	case StateMeasuringPost:
		return "MEASURING_POST"
	default:
		return "UNKNOWN"
	}
}

// Outcome is how a cycle ended.
type Outcome string

const (
	OutcomeUnderCeiling   Outcome = "under_ceiling"
	OutcomeBusy           Outcome = "busy"
	OutcomeProbeFailed    Outcome = "probe_failed"
	OutcomePreCleanFailed Outcome = "preclean_failed"
	OutcomeTransferFailed Outcome = "transfer_failed"
	OutcomeRateLimited    Outcome = "rate_limited"
	OutcomeMoved          Outcome = "moved"
	OutcomeCancelled      Outcome = "cancelled"
	OutcomePanic          Outcome = "panic"
)

// Snapshot is a point-in-time view of the scheduler for the status API.
type Snapshot struct {
	State          string     `json:"state"`
	Interval       string     `json:"interval"`
	CoolingDown    bool       `json:"cooling_down"`
	CeilingGB      int        `json:"ceiling_gb"`
	LastUsageGB    *int       `json:"last_usage_gb,omitempty"`
	RateLimitCount int        `json:"rate_limit_count"`
	Cycles         int        `json:"cycles"`
	LastCycle      *CycleInfo `json:"last_cycle,omitempty"`
}

// CycleInfo summarises the most recent cycle.
type CycleInfo struct {
	Started  time.Time `json:"started"`
	Duration string    `json:"duration"`
	Outcome  Outcome   `json:"outcome"`
	Error    string    `json:"error,omitempty"`
}
