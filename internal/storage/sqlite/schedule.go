package sqlite

import (
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/elemental-run/elemental/internal/errs"
)

// scheduleParser recognizes English natural-language date/time phrases
// ("next monday", "in 3 days", "tomorrow at 9am"). Built once at package
// init since rule registration is not cheap and the parser holds no
// request-specific state.
var scheduleParser = newScheduleParser()

func newScheduleParser() *when.Parser {
	p := when.New(nil)
	p.Add(en.All...)
	p.Add(common.All...)
	return p
}

// ParseScheduledFor resolves free-form scheduling input such as
// "next monday" or "in 3 days" into the absolute timestamp to store on a
// Task's ScheduledFor field, relative to now. A bare ISO-8601 timestamp is
// tried first so callers that already have an exact time never depend on
// the natural-language parser's coverage.
func (s *SQLiteStorage) ParseScheduledFor(input string) (time.Time, error) {
	return ParseScheduledFor(input, time.Now().UTC())
}

// ParseScheduledFor is the base-time-parameterized form, exported so
// callers (and tests) can resolve relative phrases against a fixed instant
// instead of wall-clock now.
func ParseScheduledFor(input string, base time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, input); err == nil {
		return t, nil
	}

	result, err := scheduleParser.Parse(input, base)
	if err != nil {
		return time.Time{}, errs.Validationf("parse scheduledFor %q: %v", input, err)
	}
	if result == nil {
		return time.Time{}, errs.Validationf("scheduledFor %q is not a recognized date or time expression", input)
	}
	return result.Time, nil
}
