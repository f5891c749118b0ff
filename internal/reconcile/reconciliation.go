package reconcile

import (
	"errors"
	"strings"
	"time"

	"github.com/foxzi/reviewdesk/internal/campaign"
)

var (
	// ErrActionInFlight is returned when a campaign already has an
	// unresolved reconciliation and the conflict policy is reject.
	ErrActionInFlight = errors.New("another action is in flight for this campaign")
	// ErrConvergenceTimeout marks a reconciliation whose write was never
	// observed remotely. It is recorded, not returned.
	ErrConvergenceTimeout = errors.New("remote state did not converge in time")
	// ErrInvalidDraft is returned by Create for drafts without a name
	ErrInvalidDraft = errors.New("invalid campaign draft")
	// ErrInvalidDesigner is returned by AddDesigner for incomplete input
	ErrInvalidDesigner = errors.New("designer name and email are required")
)

// State of a reconciliation
type State string

const (
	StatePending   State = "pending"
	StateConfirmed State = "confirmed"
	StateTimedOut  State = "timed_out"
	StateFailed    State = "failed"
	StateCanceled  State = "canceled"
)

// Done reports whether the state is final
func (s State) Done() bool {
	return s != StatePending
}

// ActionCreate names the reconciliation of a campaign creation
const ActionCreate = "create"

// Reconciliation tracks one optimistic action until the backend confirms it
type Reconciliation struct {
	ID         string    `json:"id"`
	CampaignID string    `json:"campaign_id"`
	TempID     string    `json:"temp_id,omitempty"`
	Action     string    `json:"action"`
	State      State     `json:"state"`
	Attempts   int       `json:"attempts"`
	Err        string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Outcome of a convergence poll
type Outcome int

const (
	OutcomeConverged Outcome = iota
	OutcomeTimedOut
	OutcomeCanceled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConverged:
		return "converged"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

func (o Outcome) state() State {
	switch o {
	case OutcomeConverged:
		return StateConfirmed
	case OutcomeTimedOut:
		return StateTimedOut
	default:
		return StateCanceled
	}
}

// Expectation decides whether a polled remote record reflects a write
type Expectation func(campaign.Campaign) bool

// DesignConverged holds once the backend shows a real design link and a thumbnail
func DesignConverged(c campaign.Campaign) bool {
	return !campaign.IsPlaceholderURL(c.DesignURL) && strings.TrimSpace(campaign.Deref(c.ThumbnailURL)) != ""
}

// ConflictPolicy decides what a second action on a busy campaign does
type ConflictPolicy string

const (
	ConflictReject ConflictPolicy = "reject"
	ConflictWait   ConflictPolicy = "wait"
)
