// Package cron implements 5-field cron matching and the minute-tick
// scheduler that drives declared jobs.
package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// searchLimitMinutes bounds the next-run walk to roughly one year.
const searchLimitMinutes = 525600

// maxRangeSize rejects absurd ranges such as 0-99999 before expansion.
const maxRangeSize = 100

var monthNames = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

var dowNames = map[string]int{
	"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
}

// Schedule is a parsed 5-field cron expression.
type Schedule struct {
	minute fieldSet
	hour   fieldSet
	dom    fieldSet
	month  fieldSet
	dow    fieldSet
}

type fieldSet struct {
	any    bool
	values map[int]bool
}

func (f fieldSet) matches(v int) bool {
	return f.any || f.values[v]
}

// Parse parses "minute hour day-of-month month day-of-week".
func Parse(expr string) (*Schedule, error) {
	fields := strings.Fields(strings.TrimSpace(expr))
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron %q: want 5 fields, got %d", expr, len(fields))
	}
	s := &Schedule{}
	specs := []struct {
		dst   *fieldSet
		raw   string
		min   int
		max   int
		names map[string]int
	}{
		{&s.minute, fields[0], 0, 59, nil},
		{&s.hour, fields[1], 0, 23, nil},
		{&s.dom, fields[2], 1, 31, nil},
		{&s.month, fields[3], 1, 12, monthNames},
		{&s.dow, fields[4], 0, 6, dowNames},
	}
	for _, fs := range specs {
		parsed, err := parseField(fs.raw, fs.min, fs.max, fs.names)
		if err != nil {
			return nil, fmt.Errorf("cron %q: %v", expr, err)
		}
		*fs.dst = parsed
	}
	return s, nil
}

func parseField(raw string, min, max int, names map[string]int) (fieldSet, error) {
	if raw == "*" {
		return fieldSet{any: true}, nil
	}
	out := fieldSet{values: make(map[int]bool)}
	for _, part := range strings.Split(raw, ",") {
		if err := parsePart(part, min, max, names, out.values); err != nil {
			return fieldSet{}, err
		}
	}
	return out, nil
}

func parsePart(part string, min, max int, names map[string]int, into map[int]bool) error {
	step := 1
	if i := strings.IndexByte(part, '/'); i >= 0 {
		n, err := strconv.Atoi(part[i+1:])
		if err != nil || n <= 0 {
			return fmt.Errorf("bad step %q", part)
		}
		step = n
		part = part[:i]
	}

	lo, hi := min, max
	switch {
	case part == "*" || part == "":
		// keep full range
	case strings.Contains(part, "-"):
		bounds := strings.SplitN(part, "-", 2)
		a, err := parseValue(bounds[0], names)
		if err != nil {
			return err
		}
		b, err := parseValue(bounds[1], names)
		if err != nil {
			return err
		}
		lo, hi = a, b
	default:
		v, err := parseValue(part, names)
		if err != nil {
			return err
		}
		if step == 1 {
			if v < min || v > max {
				if !(v == 7 && max == 6) {
					return fmt.Errorf("value %d out of range [%d,%d]", v, min, max)
				}
				v = 0
			}
			into[v] = true
			return nil
		}
		// n/m means start at n, step m to the field maximum.
		lo, hi = v, max
	}

	if hi == 7 && max == 6 {
		hi = 6
		into[0] = true
	}
	if lo < min || hi > max || lo > hi {
		return fmt.Errorf("range %d-%d out of bounds [%d,%d]", lo, hi, min, max)
	}
	if hi-lo+1 > maxRangeSize {
		return fmt.Errorf("range %d-%d too large (%d values)", lo, hi, hi-lo+1)
	}
	for v := lo; v <= hi; v += step {
		into[v] = true
	}
	return nil
}

func parseValue(raw string, names map[string]int) (int, error) {
	raw = strings.TrimSpace(raw)
	if names != nil {
		if v, ok := names[strings.ToLower(raw)]; ok {
			return v, nil
		}
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("bad value %q", raw)
	}
	return v, nil
}

// Matches reports whether the instant matches, minute resolution.
func (s *Schedule) Matches(t time.Time) bool {
	dow := int(t.Weekday())
	return s.minute.matches(t.Minute()) &&
		s.hour.matches(t.Hour()) &&
		s.dom.matches(t.Day()) &&
		s.month.matches(int(t.Month())) &&
		s.dow.matches(dow)
}

// Next walks forward minute by minute from now (exclusive) to find the
// first matching instant in loc. ok is false when nothing matches
// within a year; callers fall back to a fixed delay.
func (s *Schedule) Next(now time.Time, loc *time.Location) (next time.Time, ok bool) {
	if loc == nil {
		loc = time.UTC
	}
	t := now.In(loc).Truncate(time.Minute).Add(time.Minute)
	for i := 0; i < searchLimitMinutes; i++ {
		if s.Matches(t) {
			return t, true
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}, false
}
