package calls

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CallRequest is a subscriber's request for a call with a provider, and the
// aggregate root of the scheduling workflow.
//
// Invariants:
// - SubscriberID is set at creation and never changes.
// - ScheduledAt and ScheduledDuration are both set or both nil.
// - ActualDuration is set only once the call has ended.
// - AssignedProviderID is non-nil before Status can reach SCHEDULED.
// - Status is changed only by the methods in this file.
type CallRequest struct {
	ID            string `json:"id" db:"id"`
	RequestNumber string `json:"request_number" db:"request_number"`

	SubscriberID       string  `json:"subscriber_id" db:"subscriber_id"`
	AssignedProviderID *string `json:"assigned_provider_id,omitempty" db:"assigned_provider_id"`

	Purpose          string     `json:"purpose" db:"purpose"`
	ConsultationType string     `json:"consultation_type" db:"consultation_type"`
	PreferredDate    *time.Time `json:"preferred_date,omitempty" db:"preferred_date"`
	// PreferredTime is a soft HH:MM hint.
	PreferredTime *string `json:"preferred_time,omitempty" db:"preferred_time"`

	Status            Status     `json:"status" db:"status"`
	ScheduledAt       *time.Time `json:"scheduled_at,omitempty" db:"scheduled_at"`
	ScheduledDuration *int       `json:"scheduled_duration,omitempty" db:"scheduled_duration"`
	CallPlatform      *Platform  `json:"call_platform,omitempty" db:"call_platform"`
	CallLink          *string    `json:"call_link,omitempty" db:"call_link"`

	CallStartedAt  *time.Time `json:"call_started_at,omitempty" db:"call_started_at"`
	CallEndedAt    *time.Time `json:"call_ended_at,omitempty" db:"call_ended_at"`
	ActualDuration *int       `json:"actual_duration,omitempty" db:"actual_duration"`
	RecordingURL   *string    `json:"recording_url,omitempty" db:"recording_url"`

	CancellationReason *string `json:"cancellation_reason,omitempty" db:"cancellation_reason"`

	SubmittedAt *time.Time `json:"submitted_at,omitempty" db:"submitted_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt   *time.Time `json:"-" db:"deleted_at"`
}

type CreateParams struct {
	SubscriberID     string
	Purpose          string
	ConsultationType string
	PreferredDate    *time.Time
	PreferredTime    *string
}

type ScheduleParams struct {
	ScheduledAt     time.Time
	DurationMinutes int
	Platform        *Platform
	CallLink        *string
}

type RescheduleParams struct {
	ScheduledAt time.Time
	// DurationMinutes keeps the current duration when nil.
	DurationMinutes *int
	Reason          *string
}

var clockPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// NewCallRequest builds a PENDING call request.
func NewCallRequest(p CreateParams, now time.Time) (*CallRequest, error) {
	if strings.TrimSpace(p.SubscriberID) == "" {
		return nil, invalid("subscriber_id", "is required")
	}
	if strings.TrimSpace(p.Purpose) == "" {
		return nil, invalid("purpose", "is required")
	}
	if strings.TrimSpace(p.ConsultationType) == "" {
		return nil, invalid("consultation_type", "is required")
	}
	if p.PreferredTime != nil && !clockPattern.MatchString(*p.PreferredTime) {
		return nil, invalid("preferred_time", "must be HH:MM")
	}

	now = now.UTC()
	id := uuid.NewString()
	return &CallRequest{
		ID:               id,
		RequestNumber:    newRequestNumber(id, now),
		SubscriberID:     p.SubscriberID,
		Purpose:          strings.TrimSpace(p.Purpose),
		ConsultationType: strings.TrimSpace(p.ConsultationType),
		PreferredDate:    p.PreferredDate,
		PreferredTime:    p.PreferredTime,
		Status:           StatusPending,
		SubmittedAt:      &now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// newRequestNumber renders CALL-YYYYMMDD-XXXXXX using the first six hex digits of the id.
func newRequestNumber(id string, now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	if len(suffix) > 6 {
		suffix = suffix[:6]
	}
	return fmt.Sprintf("CALL-%s-%s", now.Format("20060102"), suffix)
}

// transition moves c to `to` if the table allows it and returns the previous status.
func (c *CallRequest) transition(to Status, now time.Time) (Status, error) {
	if !IsValidTransition(c.Status, to) {
		return c.Status, c.transitionErr(to, "")
	}
	prev := c.Status
	c.Status = to
	c.UpdatedAt = now.UTC()
	return prev, nil
}

func (c *CallRequest) transitionErr(to Status, reason string) error {
	return &TransitionError{CallID: c.ID, From: c.Status, To: to, Reason: reason}
}

// AssignProvider is legal from PENDING, or from ASSIGNED to reassign.
func (c *CallRequest) AssignProvider(providerID string, now time.Time) (Status, error) {
	if strings.TrimSpace(providerID) == "" {
		return c.Status, invalid("provider_id", "is required")
	}
	if c.Status != StatusPending && c.Status != StatusAssigned {
		return c.Status, c.transitionErr(StatusAssigned, "")
	}
	prev := c.Status
	c.AssignedProviderID = &providerID
	c.Status = StatusAssigned
	c.UpdatedAt = now.UTC()
	return prev, nil
}

// Schedule books the call. Provider availability must already have been checked.
func (c *CallRequest) Schedule(p ScheduleParams, now time.Time) (Status, error) {
	if p.ScheduledAt.IsZero() {
		return c.Status, invalid("scheduled_at", "is required")
	}
	if p.DurationMinutes <= 0 {
		return c.Status, invalid("duration_minutes", fmt.Sprintf("must be positive, got %d", p.DurationMinutes))
	}
	if !IsValidTransition(c.Status, StatusScheduled) {
		return c.Status, c.transitionErr(StatusScheduled, "")
	}
	if c.AssignedProviderID == nil {
		return c.Status, c.transitionErr(StatusScheduled, "no provider assigned")
	}

	at := p.ScheduledAt.UTC()
	dur := p.DurationMinutes
	prev, _ := c.transition(StatusScheduled, now)
	c.ScheduledAt = &at
	c.ScheduledDuration = &dur
	if p.Platform != nil {
		c.CallPlatform = p.Platform
	}
	if p.CallLink != nil {
		c.CallLink = p.CallLink
	}
	return prev, nil
}

// Reschedule moves a SCHEDULED or NO_SHOW call to a new time. The call stays
// RESCHEDULED until confirmed by Schedule.
func (c *CallRequest) Reschedule(p RescheduleParams, now time.Time) (Status, error) {
	if p.ScheduledAt.IsZero() {
		return c.Status, invalid("scheduled_at", "is required")
	}
	if p.DurationMinutes != nil && *p.DurationMinutes <= 0 {
		return c.Status, invalid("duration_minutes", fmt.Sprintf("must be positive, got %d", *p.DurationMinutes))
	}
	if !IsValidTransition(c.Status, StatusRescheduled) {
		return c.Status, c.transitionErr(StatusRescheduled, "")
	}

	dur := 0
	switch {
	case p.DurationMinutes != nil:
		dur = *p.DurationMinutes
	case c.ScheduledDuration != nil:
		dur = *c.ScheduledDuration
	default:
		return c.Status, invalid("duration_minutes", "is required when the call has no duration")
	}

	at := p.ScheduledAt.UTC()
	prev, _ := c.transition(StatusRescheduled, now)
	c.ScheduledAt = &at
	c.ScheduledDuration = &dur
	return prev, nil
}

func (c *CallRequest) StartCall(now time.Time) (Status, error) {
	prev, err := c.transition(StatusInProgress, now)
	if err != nil {
		return prev, err
	}
	started := now.UTC()
	c.CallStartedAt = &started
	return prev, nil
}

func (c *CallRequest) EndCall(recordingURL *string, now time.Time) (Status, error) {
	prev, err := c.transition(StatusCompleted, now)
	if err != nil {
		return prev, err
	}
	ended := now.UTC()
	c.CallEndedAt = &ended
	c.CompletedAt = &ended

	actual := 0
	if c.CallStartedAt != nil {
		actual = DurationBetween(*c.CallStartedAt, ended).Minutes()
	}
	c.ActualDuration = &actual
	if recordingURL != nil && strings.TrimSpace(*recordingURL) != "" {
		u := strings.TrimSpace(*recordingURL)
		c.RecordingURL = &u
	}
	return prev, nil
}

func (c *CallRequest) Cancel(reason *string, now time.Time) (Status, error) {
	prev, err := c.transition(StatusCancelled, now)
	if err != nil {
		return prev, err
	}
	if reason != nil && strings.TrimSpace(*reason) != "" {
		r := strings.TrimSpace(*reason)
		c.CancellationReason = &r
	}
	return prev, nil
}

func (c *CallRequest) MarkNoShow(now time.Time) (Status, error) {
	return c.transition(StatusNoShow, now)
}

// UpdateCallLink does not change status. link is expected to be normalized
// already (see NormalizeCallLink).
func (c *CallRequest) UpdateCallLink(link string, platform *Platform, now time.Time) error {
	if !CanModify(c.Status) {
		return &TransitionError{CallID: c.ID, From: c.Status, To: c.Status, Reason: "call can no longer be modified"}
	}
	if strings.TrimSpace(link) == "" {
		return invalid("call_link", "is required")
	}
	c.CallLink = &link
	if platform != nil {
		c.CallPlatform = platform
	}
	c.UpdatedAt = now.UTC()
	return nil
}

type DetailsParams struct {
	Purpose          *string
	ConsultationType *string
	PreferredDate    *time.Time
	PreferredTime    *string
}

// UpdateDetails edits the request content while CanModify holds.
func (c *CallRequest) UpdateDetails(p DetailsParams, now time.Time) error {
	if !CanModify(c.Status) {
		return &TransitionError{CallID: c.ID, From: c.Status, To: c.Status, Reason: "call can no longer be modified"}
	}
	if p.Purpose != nil && strings.TrimSpace(*p.Purpose) == "" {
		return invalid("purpose", "must not be empty")
	}
	if p.ConsultationType != nil && strings.TrimSpace(*p.ConsultationType) == "" {
		return invalid("consultation_type", "must not be empty")
	}
	if p.PreferredTime != nil && !clockPattern.MatchString(*p.PreferredTime) {
		return invalid("preferred_time", "must be HH:MM")
	}

	if p.Purpose != nil {
		c.Purpose = strings.TrimSpace(*p.Purpose)
	}
	if p.ConsultationType != nil {
		c.ConsultationType = strings.TrimSpace(*p.ConsultationType)
	}
	if p.PreferredDate != nil {
		c.PreferredDate = p.PreferredDate
	}
	if p.PreferredTime != nil {
		c.PreferredTime = p.PreferredTime
	}
	c.UpdatedAt = now.UTC()
	return nil
}

// Window returns the booked interval, or false if the call has no confirmed slot.
func (c *CallRequest) Window() (Window, bool) {
	if c.ScheduledAt == nil || c.ScheduledDuration == nil {
		return Window{}, false
	}
	return Window{Start: *c.ScheduledAt, Duration: mustDuration(*c.ScheduledDuration)}, true
}

func (c *CallRequest) IsDeleted() bool { return c.DeletedAt != nil }

// clone returns a deep copy so stored state cannot be mutated through a returned value.
func (c CallRequest) clone() CallRequest {
	out := c
	out.AssignedProviderID = clonePtr(c.AssignedProviderID)
	out.PreferredDate = clonePtr(c.PreferredDate)
	out.PreferredTime = clonePtr(c.PreferredTime)
	out.ScheduledAt = clonePtr(c.ScheduledAt)
	out.ScheduledDuration = clonePtr(c.ScheduledDuration)
	out.CallPlatform = clonePtr(c.CallPlatform)
	out.CallLink = clonePtr(c.CallLink)
	out.CallStartedAt = clonePtr(c.CallStartedAt)
	out.CallEndedAt = clonePtr(c.CallEndedAt)
	out.ActualDuration = clonePtr(c.ActualDuration)
	out.RecordingURL = clonePtr(c.RecordingURL)
	out.CancellationReason = clonePtr(c.CancellationReason)
	out.SubmittedAt = clonePtr(c.SubmittedAt)
	out.CompletedAt = clonePtr(c.CompletedAt)
	out.DeletedAt = clonePtr(c.DeletedAt)
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
