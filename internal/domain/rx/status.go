package rx

import "errors"

// Status tracks a processing request through the pipeline.
type Status string

const (
	StatusReceived            Status = "received"
	StatusInterpreted         Status = "interpreted"
	StatusAlternativesFound   Status = "alternatives_found"
	StatusInteractionsChecked Status = "interactions_checked"
	StatusCostOptimized       Status = "cost_optimized"
	StatusStored              Status = "anonymized_and_stored"
	StatusCompleted           Status = "completed"
	StatusFailed              Status = "failed"
)

// ErrInvalidTransition is returned when a status change is not allowed
// by the pipeline state machine.
var ErrInvalidTransition = errors.New("invalid status transition")

var transitions = map[Status][]Status{
	StatusReceived:            {StatusInterpreted, StatusFailed},
	StatusInterpreted:         {StatusAlternativesFound, StatusFailed},
	StatusAlternativesFound:   {StatusInteractionsChecked},
	StatusInteractionsChecked: {StatusCostOptimized},
	StatusCostOptimized:       {StatusStored},
	StatusStored:              {StatusCompleted},
}

// CanTransition reports whether moving from one status to another is
// permitted. Failed is terminal and reachable only from Received or
// Interpreted; everything downstream of interpretation degrades
// instead of failing.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates and returns the new status.
func Transition(from, to Status) (Status, error) {
	if !CanTransition(from, to) {
		return from, ErrInvalidTransition
	}
	return to, nil
}
