// Package timeparse turns the feed's Japanese date labels into timestamps.
//
// The reference time is always passed in by the caller; nothing here reads
// the clock.
package timeparse

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"feedarchiver/pkg/errors"
)

type rule struct {
	name     string
	pattern  *regexp.Regexp
	relative bool
	resolve  func(m []int, now time.Time) (time.Time, bool)
}

// rules are tried in order, first match wins. Patterns are anchored at the
// start of the trimmed label so "2025年9月30日..." is not read as "9月30日".
var rules = []rule{
	{
		name:     "minutes ago",
		relative: true,
		pattern:  regexp.MustCompile(`^(\d+)\s*分前`),
		resolve:  func(m []int, now time.Time) (time.Time, bool) {
			return ago(now, m[0], time.Minute)
		},
	},
	{
		name:     "hours ago",
		relative: true,
		pattern:  regexp.MustCompile(`^(\d+)\s*時間前`),
		resolve:  func(m []int, now time.Time) (time.Time, bool) {
			return ago(now, m[0], time.Hour)
		},
	},
	{
		name:     "days ago",
		relative: true,
		pattern:  regexp.MustCompile(`^(\d+)\s*日前`),
		resolve:  func(m []int, now time.Time) (time.Time, bool) {
			if _, ok := ago(now, m[0], 24*time.Hour); !ok {
				return time.Time{}, false
			}
			return now.AddDate(0, 0, -m[0]), true
		},
	},
	{
		name:    "month day",
		pattern: regexp.MustCompile(`^(\d{1,2})\s*月\s*(\d{1,2})\s*日`),
		resolve: func(m []int, now time.Time) (time.Time, bool) {
			return date(now.Year(), m[0], m[1], 23, 59, 59, now.Location())
		},
	},
	{
		name:    "full timestamp",
		pattern: regexp.MustCompile(`^(\d{4})\s*年\s*(\d{1,2})\s*月\s*(\d{1,2})\s*日\s*(\d{1,2})\s*時\s*(\d{1,2})\s*分\s*(\d{1,2})\s*秒`),
		resolve: func(m []int, now time.Time) (time.Time, bool) {
			return date(m[0], m[1], m[2], m[3], m[4], m[5], now.Location())
		},
	},
}

// locator finds the first date-like substring in free text. The full
// timestamp alternative comes first so it wins at the same offset.
var locator = regexp.MustCompile(`\d{4}\s*年\s*\d{1,2}\s*月\s*\d{1,2}\s*日\s*\d{1,2}\s*時\s*\d{1,2}\s*分\s*\d{1,2}\s*秒|\d+\s*(?:分|時間|日)前|\d{1,2}\s*月\s*\d{1,2}\s*日`)

// Parse converts a display label into an absolute time relative to now.
// Month/day labels resolve to 23:59:59 of that day in now's year and
// location; no roll-back to the previous year is applied.
func Parse(label string, now time.Time) (time.Time, error) {
	trimmed := strings.TrimSpace(label)
	if trimmed == "" {
		return time.Time{}, errors.New(errors.ErrorTypeParse, "empty date label")
	}

	for _, r := range rules {
		sub := r.pattern.FindStringSubmatch(trimmed)
		if sub == nil {
			continue
		}
		nums, ok := atoiAll(sub[1:])
		if !ok {
			return time.Time{}, errors.New(errors.ErrorTypeParse, "%s label %q out of range", r.name, trimmed)
		}
		t, ok := r.resolve(nums, now)
		if !ok {
			return time.Time{}, errors.New(errors.ErrorTypeParse, "%s label %q is not a representable date", r.name, trimmed)
		}
		return t, nil
	}

	return time.Time{}, errors.New(errors.ErrorTypeParse, "unrecognized date label %q", trimmed)
}

// IsRelative reports whether label is an "N minutes/hours/days ago" form,
// whose resolved time depends on when it is read.
func IsRelative(label string) bool {
	trimmed := strings.TrimSpace(label)
	for _, r := range rules {
		if r.pattern.MatchString(trimmed) {
			return r.relative
		}
	}
	return false
}

// Locate returns the first date-like substring of text, or "" if none
func Locate(text string) string {
	return locator.FindString(text)
}

// ParseText finds the first date-like substring of text and parses it
func ParseText(text string, now time.Time) (time.Time, error) {
	label := Locate(text)
	if label == "" {
		return time.Time{}, errors.New(errors.ErrorTypeParse, "no date label in text")
	}
	return Parse(label, now)
}

func atoiAll(parts []string) ([]int, bool) {
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, false
		}
		out[i] = n
	}
	return out, true
}

// ago subtracts n units from now, refusing counts whose duration would
// overflow and wrap into the future.
func ago(now time.Time, n int, unit time.Duration) (time.Time, bool) {
	if int64(n) > math.MaxInt64/int64(unit) {
		return time.Time{}, false
	}
	return now.Add(-time.Duration(n) * unit), true
}

// date builds a time and rejects values time.Date would normalize, like 2月30日
func date(year, month, day, hour, min, sec int, loc *time.Location) (time.Time, bool) {
	if month < 1 || month > 12 || hour > 23 || min > 59 || sec > 59 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, hour, min, sec, 0, loc)
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, false
	}
	return t, true
}
