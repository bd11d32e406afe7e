package cronexpr

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	ErrInvalidExpr  = errors.New("invalid cron expression")
	ErrNoOccurrence = errors.New("cron expression has no occurrence within search horizon")
)

// SearchHorizonYears bounds Next.
const SearchHorizonYears = 4

// starBit mirrors robfig/cron: set on a field mask when the field was '*' or '?'.
const starBit = 1 << 63

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Schedule is a compiled expression. It is immutable and safe for concurrent use.
type Schedule struct {
	source string
	specs  []*cron.SpecSchedule
	loc    *time.Location
}

// Parse compiles expr in the local time zone.
func Parse(expr string) (*Schedule, error) {
	return ParseInLocation(expr, time.Local)
}

// ParseInLocation compiles expr; candidate times are converted to loc before matching.
//
// Parsing fails fast: a malformed field, an out-of-range value, or an expression
// that never fires (e.g. "0 0 30 2 *") is reported here rather than at run time.
func ParseInLocation(expr string, loc *time.Location) (*Schedule, error) {
	if loc == nil {
		loc = time.Local
	}
	raw := strings.TrimSpace(expr)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidExpr)
	}

	parts := strings.Split(raw, "|")
	s := &Schedule{source: raw, loc: loc, specs: make([]*cron.SpecSchedule, 0, len(parts))}
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if n := len(strings.Fields(part)); n != 5 {
			return nil, fmt.Errorf("%w: %q: expected 5 fields (minute hour day-of-month month day-of-week), got %d", ErrInvalidExpr, part, n)
		}
		sched, err := parser.Parse(part)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidExpr, part, err)
		}
		spec, ok := sched.(*cron.SpecSchedule)
		if !ok {
			return nil, fmt.Errorf("%w: %q: unsupported schedule form", ErrInvalidExpr, part)
		}
		s.specs = append(s.specs, spec)
	}

	if _, err := s.Next(time.Now()); err != nil {
		return nil, err
	}
	return s, nil
}

// MustParse is like Parse but panics on error. Intended for constants and tests.
func MustParse(expr string) *Schedule {
	s, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schedule) String() string { return s.source }

func (s *Schedule) Location() *time.Location { return s.loc }

// Matches reports whether the minute containing t satisfies the schedule.
// Seconds and sub-second parts of t are ignored.
func (s *Schedule) Matches(t time.Time) bool {
	t = t.In(s.loc)
	for _, spec := range s.specs {
		if specMatches(spec, t) {
			return true
		}
	}
	return false
}

// Next returns the first matching minute strictly after t.
func (s *Schedule) Next(t time.Time) (time.Time, error) {
	from := t.In(s.loc)
	var best time.Time
	for _, spec := range s.specs {
		n, ok := specNext(spec, from)
		if !ok {
			continue
		}
		if best.IsZero() || n.Before(best) {
			best = n
		}
	}
	if best.IsZero() {
		return time.Time{}, fmt.Errorf("%w: %q after %s", ErrNoOccurrence, s.source, from.Format(time.RFC3339))
	}
	return best, nil
}

// Matches parses expr and evaluates it at t.
func Matches(expr string, t time.Time) (bool, error) {
	s, err := Parse(expr)
	if err != nil {
		return false, err
	}
	return s.Matches(t), nil
}

// ComputeNext parses expr and returns its next occurrence after t.
func ComputeNext(expr string, t time.Time) (time.Time, error) {
	s, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return s.Next(t)
}

func has(mask uint64, v int) bool { return mask&(1<<uint(v)) != 0 }

func specMatches(spec *cron.SpecSchedule, t time.Time) bool {
	return has(spec.Minute, t.Minute()) &&
		has(spec.Hour, t.Hour()) &&
		has(spec.Month, int(t.Month())) &&
		dayMatches(spec, t)
}

// dayMatches applies the cron day rule: when both day fields are restricted a
// day matches if either does; when one is a wildcard both must match.
func dayMatches(spec *cron.SpecSchedule, t time.Time) bool {
	dom := has(spec.Dom, t.Day())
	dow := has(spec.Dow, int(t.Weekday()))
	if spec.Dom&starBit != 0 || spec.Dow&starBit != 0 {
		return dom && dow
	}
	return dom || dow
}

// specNext walks forward from the minute after from. Whole months, days and
// hours that cannot match are skipped; the remaining steps are one minute.
func specNext(spec *cron.SpecSchedule, from time.Time) (time.Time, bool) {
	loc := from.Location()
	cur := from.Truncate(time.Minute).Add(time.Minute)
	limit := cur.AddDate(SearchHorizonYears, 0, 0)

	for !cur.After(limit) {
		var next time.Time
		switch {
		case !has(spec.Month, int(cur.Month())):
			next = time.Date(cur.Year(), cur.Month()+1, 1, 0, 0, 0, 0, loc)
		case !dayMatches(spec, cur):
			next = time.Date(cur.Year(), cur.Month(), cur.Day()+1, 0, 0, 0, 0, loc)
		case !has(spec.Hour, cur.Hour()):
			next = time.Date(cur.Year(), cur.Month(), cur.Day(), cur.Hour()+1, 0, 0, 0, loc)
		case !has(spec.Minute, cur.Minute()):
			next = cur.Add(time.Minute)
		default:
			return cur, true
		}
		// DST transitions can normalize a wall-clock date backwards.
		if !next.After(cur) {
			next = cur.Add(time.Minute)
		}
		cur = next
	}
	return time.Time{}, false
}
