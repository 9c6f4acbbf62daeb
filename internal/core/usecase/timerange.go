package usecase

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/42012606/Memex-Neural/internal/core/domain"
)

var (
	relativeRange = regexp.MustCompile(`^last(\d+)([dh])$`)
	dateToken     = regexp.MustCompile(`^(\d{4})(?:[-./](\d{1,2})(?:[-./](\d{1,2}))?)?$`)

	rangeFloor   = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)
	rangeCeiling = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)
)

// ParseTimeRange understands lastNd, lastNh, start~end and YYYY, YYYY-MM, YYYY-MM-DD tokens.
// Day units count whole calendar days in loc: last1d starts at midnight yesterday.
// A single token covers its whole period. ok is false when expr is empty or unparseable.
func ParseTimeRange(expr string, now time.Time, loc *time.Location) (domain.TimeRange, bool) {
	if loc == nil {
		loc = time.Local
	}
	expr = strings.ToLower(strings.TrimSpace(expr))
	if expr == "" {
		return domain.TimeRange{}, false
	}
	now = now.In(loc)

	if m := relativeRange.FindStringSubmatch(expr); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n > math.MaxInt32 {
			return domain.TimeRange{}, false
		}
		if m[2] == "h" {
			return domain.TimeRange{Start: now.Add(-time.Duration(n) * time.Hour), End: now}, true
		}
		day := now.AddDate(0, 0, -n)
		start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
		return domain.TimeRange{Start: start, End: now}, true
	}

	if from, to, found := strings.Cut(expr, "~"); found {
		start, end := rangeFloor, rangeCeiling
		if strings.TrimSpace(from) != "" {
			period, ok := parsePeriod(from, loc)
			if !ok {
				return domain.TimeRange{}, false
			}
			start = period.Start
		}
		if strings.TrimSpace(to) != "" {
			period, ok := parsePeriod(to, loc)
			if !ok {
				return domain.TimeRange{}, false
			}
			end = period.End
		}
		if start.Equal(rangeFloor) && end.Equal(rangeCeiling) || end.Before(start) {
			return domain.TimeRange{}, false
		}
		return domain.TimeRange{Start: start, End: end}, true
	}

	return parsePeriod(expr, loc)
}

// parsePeriod turns a year, month or day token into the closed interval it covers.
func parsePeriod(token string, loc *time.Location) (domain.TimeRange, bool) {
	m := dateToken.FindStringSubmatch(strings.TrimSpace(token))
	if m == nil {
		return domain.TimeRange{}, false
	}
	year, _ := strconv.Atoi(m[1])
	month, day := 1, 1
	if m[2] != "" {
		month, _ = strconv.Atoi(m[2])
		if month < 1 || month > 12 {
			return domain.TimeRange{}, false
		}
	}
	if m[3] != "" {
		day, _ = strconv.Atoi(m[3])
		if day < 1 || day > daysIn(year, time.Month(month)) {
			return domain.TimeRange{}, false
		}
	}

	start := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	var next time.Time
	switch {
	case m[3] != "":
		next = start.AddDate(0, 0, 1)
	case m[2] != "":
		next = start.AddDate(0, 1, 0)
	default:
		next = start.AddDate(1, 0, 0)
	}
	return domain.TimeRange{Start: start, End: next.Add(-time.Nanosecond)}, true
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// referenceTime places a document on the timeline. Semantic dates carry no zone,
// so they are read as a calendar date in loc.
func referenceTime(doc *domain.Document, loc *time.Location) (time.Time, bool) {
	if doc.SemanticDate != nil && !doc.SemanticDate.IsZero() {
		d := doc.SemanticDate.UTC()
		return time.Date(d.Year(), d.Month(), d.Day(), 12, 0, 0, 0, loc), true
	}
	return doc.ReferenceTime()
}
