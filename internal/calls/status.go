package calls

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a call request.
//
// The string value is the domain/API representation. Storage uses its own
// lowercase spelling; convert only through StorageValue / StatusFromStorage.
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusAssigned    Status = "ASSIGNED"
	StatusScheduled   Status = "SCHEDULED"
	StatusInProgress  Status = "IN_PROGRESS"
	StatusCompleted   Status = "COMPLETED"
	StatusCancelled   Status = "CANCELLED"
	StatusNoShow      Status = "NO_SHOW"
	StatusRescheduled Status = "RESCHEDULED"
)

// AllStatuses returns every status in declaration order.
func AllStatuses() []Status {
	return []Status{
		StatusPending,
		StatusAssigned,
		StatusScheduled,
		StatusInProgress,
		StatusCompleted,
		StatusCancelled,
		StatusNoShow,
		StatusRescheduled,
	}
}

// transitions is the authoritative workflow graph.
// Terminal states map to an empty slice, not a missing key.
var transitions = map[Status][]Status{
	StatusPending:     {StatusAssigned, StatusCancelled},
	StatusAssigned:    {StatusScheduled, StatusCancelled},
	StatusScheduled:   {StatusInProgress, StatusCancelled, StatusRescheduled, StatusNoShow},
	StatusInProgress:  {StatusCompleted},
	StatusCompleted:   {},
	StatusCancelled:   {},
	StatusNoShow:      {StatusRescheduled},
	StatusRescheduled: {StatusScheduled, StatusCancelled},
}

// storageNames is the single domain <-> storage mapping table.
var storageNames = map[Status]string{
	StatusPending:     "pending",
	StatusAssigned:    "assigned",
	StatusScheduled:   "scheduled",
	StatusInProgress:  "in_progress",
	StatusCompleted:   "completed",
	StatusCancelled:   "cancelled",
	StatusNoShow:      "no_show",
	StatusRescheduled: "rescheduled",
}

var statusesByStorage = func() map[string]Status {
	out := make(map[string]Status, len(storageNames))
	for s, name := range storageNames {
		out[name] = s
	}
	return out
}()

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) String() string { return string(s) }

// StorageValue returns the persisted spelling of s.
func (s Status) StorageValue() string {
	return storageNames[s]
}

// StatusFromStorage maps a persisted value back to the domain enum.
func StatusFromStorage(v string) (Status, error) {
	s, ok := statusesByStorage[v]
	if !ok {
		return "", fmt.Errorf("calls: unknown stored status %q", v)
	}
	return s, nil
}

// ParseStatus accepts the domain spelling, case-insensitively.
func ParseStatus(v string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", &ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", v)}
	}
	return s, nil
}

// IsValidTransition reports whether to is reachable from from in one step.
func IsValidTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextPossible returns the statuses reachable from s. The slice is a copy.
func NextPossible(s Status) []Status {
	next := transitions[s]
	out := make([]Status, len(next))
	copy(out, next)
	return out
}

// IsTerminal is true only for COMPLETED and CANCELLED.
func IsTerminal(s Status) bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanModify reports whether request details and the call link may still be edited.
func CanModify(s Status) bool {
	switch s {
	case StatusPending, StatusAssigned, StatusScheduled, StatusRescheduled:
		return true
	default:
		return false
	}
}

// blocksCalendar reports whether a booking in status s occupies provider time.
func blocksCalendar(s Status) bool {
	return s == StatusScheduled || s == StatusInProgress
}
