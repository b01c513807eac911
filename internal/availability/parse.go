// Package availability extracts the set of (date, time) slots a court's
// calendar page currently offers. The DOM gives two flat ordered lists,
// day labels and time buttons; grouping and label-to-date mapping turn
// them into a snapshot keyed by ISO date.
package availability

import (
	"strconv"
	"strings"
	"time"

	"github.com/pistabot/pistabot/internal/site"
)

// Snapshot maps ISO dates (or raw labels when the label is unknown) to the
// ordered time strings offered for that day.
type Snapshot map[string][]string

const isoDate = "2006-01-02"

// parseClock parses an HH:MM string into minutes since midnight. Malformed
// strings sort as hour 0 so they stay in the output in their raw form.
func parseClock(s string) int {
	s = strings.TrimSpace(s)
	sep := strings.IndexByte(s, ':')
	if sep <= 0 {
		return 0
	}
	h, err := strconv.Atoi(strings.TrimSpace(s[:sep]))
	if err != nil || h < 0 || h > 23 {
		return 0
	}
	m, err := strconv.Atoi(strings.TrimSpace(s[sep+1:]))
	if err != nil || m < 0 || m > 59 {
		m = 0
	}
	return h*60 + m
}

// GroupByDay splits a time-ordered button sequence into per-day buckets.
// Times within a day are monotonically increasing, so a non-increasing
// transition between consecutive buttons marks a day boundary. The
// concatenation of the buckets always equals the input sequence.
func GroupByDay(times []string) [][]string {
	if len(times) == 0 {
		return nil
	}
	var days [][]string
	current := []string{times[0]}
	prev := parseClock(times[0])
	for _, t := range times[1:] {
		clock := parseClock(t)
		if clock <= prev {
			days = append(days, current)
			current = nil
		}
		current = append(current, t)
		prev = clock
	}
	return append(days, current)
}

// MapLabel converts a relative day label to a concrete ISO date using the
// reference date. Unknown labels pass through unchanged.
func MapLabel(catalog *site.Catalog, label string, ref time.Time) string {
	switch catalog.DayKindOf(label) {
	case site.DayToday:
		return ref.Format(isoDate)
	case site.DayTomorrow:
		return ref.AddDate(0, 0, 1).Format(isoDate)
	case site.DayThisWeek:
		return ref.Format(isoDate)
	case site.DayNextWeek:
		return ref.AddDate(0, 0, 7).Format(isoDate)
	default:
		return label
	}
}

// Build assembles a snapshot from the extracted day labels and time
// buttons. Buckets beyond the label list fall back to consecutive dates
// after the reference day. Times already past are dropped from the
// current day.
func Build(catalog *site.Catalog, labels, times []string, now time.Time) Snapshot {
	buckets := GroupByDay(times)
	if len(buckets) == 0 {
		return Snapshot{}
	}

	snapshot := make(Snapshot, len(buckets))
	today := now.Format(isoDate)
	nowClock := now.Hour()*60 + now.Minute()

	for i, bucket := range buckets {
		var key string
		if i < len(labels) {
			key = MapLabel(catalog, labels[i], now)
		} else {
			key = now.AddDate(0, 0, i).Format(isoDate)
		}

		if key == today {
			bucket = dropPast(bucket, nowClock)
		}
		if len(bucket) == 0 {
			continue
		}
		snapshot[key] = append(snapshot[key], bucket...)
	}
	return snapshot
}

// dropPast removes times whose clock value has already passed.
func dropPast(times []string, nowClock int) []string {
	kept := times[:0:0]
	for _, t := range times {
		if parseClock(t) > nowClock {
			kept = append(kept, t)
		}
	}
	return kept
}

// Locate returns the DOM-order index of the button for the given slot,
// resolving day labels against the reference time the same way Build
// does. The index counts across all day buckets, matching the flat
// button list the selectors yield.
func Locate(catalog *site.Catalog, extract *Extract, date, timeStr string, now time.Time) (int, bool) {
	buckets := GroupByDay(extract.Times)
	want := parseClock(timeStr)

	index := 0
	for i, bucket := range buckets {
		var key string
		if i < len(extract.Labels) {
			key = MapLabel(catalog, extract.Labels[i], now)
		} else {
			key = now.AddDate(0, 0, i).Format(isoDate)
		}
		if key != date {
			index += len(bucket)
			continue
		}
		for _, t := range bucket {
			if matchesTime(t, timeStr, want) {
				return index, true
			}
			index++
		}
	}
	return 0, false
}

// matchesTime reports whether a button label offers the requested time.
// The site sometimes trims minutes from on-the-hour labels, so "07" and
// "7:00" both match a request for "07:00".
func matchesTime(button, timeStr string, want int) bool {
	b := strings.TrimSpace(button)
	if b == timeStr {
		return true
	}
	if strings.ContainsRune(b, ':') {
		return parseClock(b) == want
	}
	h, err := strconv.Atoi(b)
	return err == nil && h >= 0 && h <= 23 && h*60 == want
}

// Has reports whether the snapshot offers the given time on the given date.
func (s Snapshot) Has(date, timeStr string) bool {
	want := parseClock(timeStr)
	for _, t := range s[date] {
		if matchesTime(t, timeStr, want) {
			return true
		}
	}
	return false
}
