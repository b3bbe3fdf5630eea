package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trentd187/puckdrop/internal/apperr"
)

func TestParseStartTime(t *testing.T) {
	// A Wednesday afternoon.
	now := time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)

	t.Run("rfc3339", func(t *testing.T) {
		got, err := ParseStartTime("2026-03-06T21:00:00-05:00", "", now)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 3, 7, 2, 0, 0, 0, time.UTC), got)
	})

	t.Run("natural language in utc", func(t *testing.T) {
		got, err := ParseStartTime("tomorrow at 9pm", "", now)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 3, 5, 21, 0, 0, 0, time.UTC), got)
	})

	t.Run("natural language in the organizer's timezone", func(t *testing.T) {
		got, err := ParseStartTime("tomorrow at 9pm", "America/New_York", now)
		require.NoError(t, err)
		// 9pm EST is 02:00 UTC the next day.
		assert.Equal(t, time.Date(2026, 3, 6, 2, 0, 0, 0, time.UTC), got)
	})

	t.Run("squashed clock", func(t *testing.T) {
		got, err := ParseStartTime("tomorrow 930pm", "", now)
		require.NoError(t, err)
		assert.Equal(t, 21, got.Hour())
		assert.Equal(t, 30, got.Minute())
	})

	for name, input := range map[string]string{
		"empty":     "",
		"gibberish": "xyzzy",
		"past":      "2020-01-01T00:00:00Z",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseStartTime(input, "", now)
			assert.ErrorIs(t, err, apperr.ErrInvalidInput)
		})
	}

	t.Run("bad timezone", func(t *testing.T) {
		_, err := ParseStartTime("tomorrow at 9pm", "Mars/Olympus_Mons", now)
		assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	})
}
