package services

import (
	"regexp"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var (
	startParser = newStartParser()
	// "932pm" -> "9:32 pm"; when does not understand the squashed form.
	squashedClock = regexp.MustCompile(`\b(\d{1,2})(\d{2})\s?(am|pm)\b`)
)

func newStartParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// ParseStartTime turns what an organizer typed into a UTC start time. It accepts
// RFC 3339 ("2026-03-06T21:00:00-05:00") or natural language such as
// "next friday at 9pm" or "tomorrow 10:30pm", read in the organizer's timezone
// (an IANA name; empty means UTC). The result must be in the future.
func ParseStartTime(input, timezone string, now time.Time) (time.Time, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return time.Time{}, invalidInput("starts_at is required")
	}
	if t, err := time.Parse(time.RFC3339, input); err == nil {
		return checkFuture(t.UTC(), now)
	}

	loc := time.UTC
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return time.Time{}, invalidInput("unknown timezone %q", timezone)
		}
		loc = l
	}

	text := squashedClock.ReplaceAllString(strings.ToLower(input), "$1:$2 $3")
	r, err := startParser.Parse(text, now.In(loc))
	if err != nil || r == nil {
		return time.Time{}, invalidInput("could not understand start time %q", input)
	}
	return checkFuture(r.Time.In(time.UTC).Truncate(time.Minute), now)
}

func checkFuture(t, now time.Time) (time.Time, error) {
	if !t.After(now) {
		return time.Time{}, invalidInput("start time must be in the future")
	}
	return t, nil
}
