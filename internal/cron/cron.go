// Package cron parses 5-field cron expressions. The daemon uses it to
// schedule storage sweeps, so only plain syntax from crontab(5) is
// accepted: *, N, */N, N-M, N,M, N-M/S. Named days and months, L, W, #,
// and @shortcuts are not.
package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule is a parsed cron expression. Each field is a bit set over the
// field's value range.
type Schedule struct {
	minute fieldSet
	hour   fieldSet
	dom    fieldSet
	month  fieldSet
	dow    fieldSet
}

// fieldSet holds one cron field's matching values as bits. The widest
// field (minute, 0-59) fits a uint64.
type fieldSet uint64

func (f fieldSet) has(v int) bool { return f&(1<<uint(v)) != 0 }

type fieldRange struct {
	name string
	min  int
	max  int
}

var fieldRanges = [5]fieldRange{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// Parse parses a 5-field cron expression: minute, hour, day-of-month,
// month, day-of-week (0 = Sunday).
func Parse(expr string) (*Schedule, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return nil, fmt.Errorf("expected 5 fields, got %d", len(parts))
	}

	var sets [5]fieldSet
	for i, part := range parts {
		set, err := parseField(part, fieldRanges[i])
		if err != nil {
			return nil, fmt.Errorf("field %s (%q): %w", fieldRanges[i].name, part, err)
		}
		sets[i] = set
	}

	return &Schedule{
		minute: sets[0],
		hour:   sets[1],
		dom:    sets[2],
		month:  sets[3],
		dow:    sets[4],
	}, nil
}

// Matches reports whether the schedule fires at t. Seconds are ignored;
// a schedule fires at most once per minute.
func (s *Schedule) Matches(t time.Time) bool {
	return s.minute.has(t.Minute()) &&
		s.hour.has(t.Hour()) &&
		s.dom.has(t.Day()) &&
		s.month.has(int(t.Month())) &&
		s.dow.has(int(t.Weekday()))
}

// parseField parses one field, a comma-separated list of terms.
func parseField(field string, fr fieldRange) (fieldSet, error) {
	var set fieldSet
	for _, term := range strings.Split(field, ",") {
		termSet, err := parseTerm(term, fr)
		if err != nil {
			return 0, err
		}
		set |= termSet
	}
	return set, nil
}

// parseTerm parses a single term: *, N, N-M, optionally with a /step
// suffix. A bare N with a step means "from N to the field max", matching
// traditional cron.
func parseTerm(term string, fr fieldRange) (fieldSet, error) {
	step := 1
	if base, stepStr, ok := strings.Cut(term, "/"); ok {
		n, err := strconv.Atoi(stepStr)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid step %q", stepStr)
		}
		step = n
		term = base
	}

	var start, end int
	switch {
	case term == "*":
		start, end = fr.min, fr.max
	case strings.Contains(term, "-"):
		lo, hi, _ := strings.Cut(term, "-")
		var err error
		if start, err = strconv.Atoi(lo); err != nil {
			return 0, fmt.Errorf("invalid range start %q", lo)
		}
		if end, err = strconv.Atoi(hi); err != nil {
			return 0, fmt.Errorf("invalid range end %q", hi)
		}
		if start > end {
			return 0, fmt.Errorf("range start %d > end %d", start, end)
		}
	default:
		n, err := strconv.Atoi(term)
		if err != nil {
			return 0, fmt.Errorf("invalid value %q", term)
		}
		start, end = n, n
		if step > 1 {
			end = fr.max
		}
	}

	if start < fr.min || start > fr.max || end > fr.max {
		return 0, fmt.Errorf("value out of range %d-%d", fr.min, fr.max)
	}

	var set fieldSet
	for v := start; v <= end; v += step {
		set |= 1 << uint(v)
	}
	return set, nil
}
