package appointment

import "fmt"

type Status string

const (
	// StatusNone is the virtual state an appointment is in before it exists.
	StatusNone       Status = ""
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// ParseStatus converts a stored or user supplied value into a Status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusScheduled, StatusInProgress, StatusCompleted, StatusCancelled:
		return st, nil
	}
	return StatusNone, fmt.Errorf("unknown appointment status %q", s)
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Active statuses take part in conflict checks.
func (s Status) Active() bool {
	return s == StatusScheduled || s == StatusInProgress
}

func (s Status) String() string {
	if s == StatusNone {
		return "none"
	}
	return string(s)
}

type Trigger string

const (
	TriggerCreate     Trigger = "create"
	TriggerStart      Trigger = "start"
	TriggerComplete   Trigger = "complete"
	TriggerCancel     Trigger = "cancel"
	TriggerReschedule Trigger = "reschedule"

	// TriggerInvoice is not a status change; it names invoice attachment in errors.
	TriggerInvoice Trigger = "invoice"
)

// NextStatus is the appointment state machine. It only knows about status
// pairs; time and conflict preconditions are checked by the service.
func NextStatus(from Status, t Trigger) (Status, error) {
	if from.Terminal() {
		return from, &TransitionError{From: from, Trigger: t, closed: true}
	}

	switch {
	case from == StatusNone && t == TriggerCreate:
		return StatusScheduled, nil
	case from == StatusScheduled && t == TriggerStart:
		return StatusInProgress, nil
	case from == StatusScheduled && t == TriggerReschedule:
		return StatusScheduled, nil
	case (from == StatusScheduled || from == StatusInProgress) && t == TriggerCancel:
		return StatusCancelled, nil
	case from == StatusInProgress && t == TriggerComplete:
		return StatusCompleted, nil
	}

	return from, &TransitionError{From: from, Trigger: t}
}
