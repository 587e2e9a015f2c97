package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conciergehq/concierge/internal/gateway"
)

func testMeeting(t *testing.T) *Meeting {
	t.Helper()
	tool := NewMeeting(testBudget(t))
	// Friday 2026-08-28 10:00 UTC.
	tool.now = func() time.Time {
		return time.Date(2026, time.August, 28, 10, 0, 0, 0, time.UTC)
	}
	return tool
}

func TestMeetingBooking(t *testing.T) {
	t.Parallel()

	tool := testMeeting(t)
	input := json.RawMessage(`{"name":"Ada","email":"ada@example.com","date":"2026-08-31","time":"14:00","topic":"process automation"}`)

	got, err := tool.Run(context.Background(), "s1", input)
	require.NoError(t, err)

	out, ok := got.(MeetingOutput)
	require.True(t, ok)
	assert.True(t, out.Confirmed)
	assert.Regexp(t, `^MTG-[0-9A-F]{8}$`, out.ConfirmationCode)
	assert.Equal(t, "2026-08-31T14:00:00Z", out.ScheduledAt)
	assert.Equal(t, "process automation", out.Topic)
}

func TestMeetingSameDayFutureSlot(t *testing.T) {
	t.Parallel()

	tool := testMeeting(t)
	input := json.RawMessage(`{"name":"Ada","email":"ada@example.com","date":"2026-08-28","time":"16:00"}`)

	_, err := tool.Run(context.Background(), "s1", input)
	require.NoError(t, err, "a slot later the same day is bookable")
}

func TestMeetingSlotValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{"bad email", `{"name":"Ada","email":"nope","date":"2026-08-31","time":"14:00"}`},
		{"bad date format", `{"name":"Ada","email":"ada@example.com","date":"31/08/2026","time":"14:00"}`},
		{"bad time format", `{"name":"Ada","email":"ada@example.com","date":"2026-08-31","time":"2pm"}`},
		{"in the past", `{"name":"Ada","email":"ada@example.com","date":"2026-08-27","time":"14:00"}`},
		{"earlier today", `{"name":"Ada","email":"ada@example.com","date":"2026-08-28","time":"09:00"}`},
		{"saturday", `{"name":"Ada","email":"ada@example.com","date":"2026-08-29","time":"14:00"}`},
		{"sunday", `{"name":"Ada","email":"ada@example.com","date":"2026-08-30","time":"14:00"}`},
		{"before opening", `{"name":"Ada","email":"ada@example.com","date":"2026-08-31","time":"08:00"}`},
		{"after closing", `{"name":"Ada","email":"ada@example.com","date":"2026-08-31","time":"17:00"}`},
	}

	tool := testMeeting(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := tool.Run(context.Background(), "s1", json.RawMessage(tt.input))
			assert.ErrorIs(t, err, gateway.ErrInvalidInput)
		})
	}
}
