package registry

import "fmt"

// SubmissionStatus enumerates the lifecycle states of a quest submission.
// The values are stored verbatim in quest_submissions.status.
type SubmissionStatus string

const (
	SubmissionDraft            SubmissionStatus = "draft"
	SubmissionInProgress       SubmissionStatus = "in_progress"
	SubmissionAwaitingApproval SubmissionStatus = "awaiting_approval"
	SubmissionApproved         SubmissionStatus = "approved"
	SubmissionReturned         SubmissionStatus = "returned"
	SubmissionDropped          SubmissionStatus = "dropped"
)

// submissionTransitions encodes the legal state machine:
// draft -> in_progress -> awaiting_approval -> (approved | returned),
// returned -> in_progress, and any non-terminal state -> dropped.
var submissionTransitions = map[SubmissionStatus][]SubmissionStatus{
	SubmissionDraft:            {SubmissionInProgress, SubmissionDropped},
	SubmissionInProgress:       {SubmissionAwaitingApproval, SubmissionDropped},
	SubmissionAwaitingApproval: {SubmissionApproved, SubmissionReturned, SubmissionDropped},
	SubmissionReturned:         {SubmissionInProgress, SubmissionDropped},
	SubmissionApproved:         {SubmissionReturned},
	SubmissionDropped:          {},
}

// Valid reports whether the status is a known lifecycle state.
func (s SubmissionStatus) Valid() bool {
	_, ok := submissionTransitions[s]
	return ok
}

// CanTransition reports whether moving from s to next is a legal transition.
func (s SubmissionStatus) CanTransition(next SubmissionStatus) bool {
	for _, allowed := range submissionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ValidateTransition returns a descriptive error for illegal transitions.
func ValidateTransition(from, to SubmissionStatus) error {
	if !from.Valid() {
		return fmt.Errorf("unknown submission status %q", from)
	}
	if !to.Valid() {
		return fmt.Errorf("unknown submission status %q", to)
	}
	if !from.CanTransition(to) {
		return fmt.Errorf("illegal submission transition %s -> %s", from, to)
	}
	return nil
}

// AffectsAttainment reports whether a transition between the two states
// changes the user's approved count for the quest. Only transitions into and
// out of the approved state matter; these are the ones the write boundary
// must report to the dispatcher.
func AffectsAttainment(from, to SubmissionStatus) bool {
	return (from == SubmissionApproved) != (to == SubmissionApproved)
}
