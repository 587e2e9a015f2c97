package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/conciergehq/concierge/internal/budget"
	"github.com/conciergehq/concierge/internal/gateway"
)

const meetingTokenCost = 30

// Booking hours, local to the requested slot.
const (
	meetingOpenHour  = 9
	meetingCloseHour = 17
)

// MeetingInput books a consultation slot. Date is YYYY-MM-DD and time
// is 24h HH:MM.
type MeetingInput struct {
	Name  string `json:"name"  validate:"required,max=200"`
	Email string `json:"email" validate:"required,email"`
	Date  string `json:"date"  validate:"required"`
	Time  string `json:"time"  validate:"required"`
	Topic string `json:"topic" validate:"max=500"`
}

// MeetingOutput confirms a booked slot.
type MeetingOutput struct {
	Confirmed        bool   `json:"confirmed"`
	ConfirmationCode string `json:"confirmationCode"`
	ScheduledAt      string `json:"scheduledAt"`
	Topic            string `json:"topic,omitempty"`
}

// Meeting books consultation slots. There is no real calendar behind
// it; the tool validates the slot and issues a confirmation code.
type Meeting struct {
	budget *budget.Manager
	now    func() time.Time
}

// NewMeeting builds the booking tool.
func NewMeeting(b *budget.Manager) *Meeting {
	return &Meeting{budget: b, now: time.Now}
}

func (t *Meeting) Name() string    { return "meeting" }
func (t *Meeting) Feature() string { return "meeting" }

func (t *Meeting) Run(ctx context.Context, sessionID string, raw json.RawMessage) (any, error) {
	var in MeetingInput
	if err := decodeInput(raw, &in); err != nil {
		return nil, err
	}
	slot, err := t.parseSlot(in.Date, in.Time)
	if err != nil {
		return nil, err
	}
	if err := t.budget.CheckAccess(sessionID, t.Feature()); err != nil {
		return nil, fmt.Errorf("meeting: %w", err)
	}

	out := MeetingOutput{
		Confirmed:        true,
		ConfirmationCode: confirmationCode(),
		ScheduledAt:      slot.Format(time.RFC3339),
		Topic:            in.Topic,
	}
	t.budget.RecordUsage(sessionID, t.Feature(), meetingTokenCost)
	return out, nil
}

func (t *Meeting) parseSlot(date, clock string) (time.Time, error) {
	slot, err := time.Parse("2006-01-02 15:04", date+" "+clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD and time HH:MM", gateway.ErrInvalidInput)
	}
	if !slot.After(t.now().UTC()) {
		return time.Time{}, fmt.Errorf("%w: slot is in the past", gateway.ErrInvalidInput)
	}
	switch slot.Weekday() {
	case time.Saturday, time.Sunday:
		return time.Time{}, fmt.Errorf("%w: slot falls on a weekend", gateway.ErrInvalidInput)
	}
	if h := slot.Hour(); h < meetingOpenHour || h >= meetingCloseHour {
		return time.Time{}, fmt.Errorf("%w: slot outside business hours (%02d:00-%02d:00)",
			gateway.ErrInvalidInput, meetingOpenHour, meetingCloseHour)
	}
	return slot, nil
}

// confirmationCode derives a short human-readable code from a UUID.
func confirmationCode() string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "MTG-" + id[:8]
}
