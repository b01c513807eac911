package availability

import (
	"reflect"
	"testing"
	"time"

	"github.com/pistabot/pistabot/internal/site"
)

func TestParseClock(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"07:00", 7 * 60},
		{"09:30", 9*60 + 30},
		{"23:59", 23*60 + 59},
		{"00:00", 0},
		{" 08:15 ", 8*60 + 15},
		{"garbage", 0},
		{"", 0},
		{"25:00", 0},
		{"07:99", 7 * 60},
	}
	for _, tt := range tests {
		if got := parseClock(tt.in); got != tt.want {
			t.Errorf("parseClock(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestGroupByDay(t *testing.T) {
	tests := []struct {
		name  string
		times []string
		want  [][]string
	}{
		{
			name:  "single day",
			times: []string{"07:00", "08:00", "09:00"},
			want:  [][]string{{"07:00", "08:00", "09:00"}},
		},
		{
			name:  "two days",
			times: []string{"07:00", "08:00", "09:00", "07:00", "08:00"},
			want:  [][]string{{"07:00", "08:00", "09:00"}, {"07:00", "08:00"}},
		},
		{
			name:  "boundary on equal time",
			times: []string{"10:00", "10:00"},
			want:  [][]string{{"10:00"}, {"10:00"}},
		},
		{
			name:  "three days",
			times: []string{"18:00", "19:00", "07:00", "09:00", "08:00"},
			want:  [][]string{{"18:00", "19:00"}, {"07:00", "09:00"}, {"08:00"}},
		},
		{
			name:  "malformed sorts as hour zero",
			times: []string{"09:00", "oops", "10:00"},
			want:  [][]string{{"09:00"}, {"oops", "10:00"}},
		},
		{
			name:  "empty",
			times: nil,
			want:  nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GroupByDay(tt.times)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("GroupByDay(%v) = %v, want %v", tt.times, got, tt.want)
			}
		})
	}
}

// Grouping must partition the input: concatenating the buckets in order
// reproduces the original sequence, and the bucket count is one more than
// the number of non-increasing transitions.
func TestGroupByDayPartitions(t *testing.T) {
	sequences := [][]string{
		{"07:00"},
		{"07:00", "08:00", "07:30", "09:00", "06:00", "10:00", "11:00"},
		{"22:00", "23:00", "00:30", "01:00", "00:15"},
		{"bad", "worse", "08:00"},
	}
	for _, seq := range sequences {
		buckets := GroupByDay(seq)

		transitions := 0
		for i := 1; i < len(seq); i++ {
			if parseClock(seq[i]) <= parseClock(seq[i-1]) {
				transitions++
			}
		}
		if len(buckets) != transitions+1 {
			t.Errorf("GroupByDay(%v): %d buckets, want %d", seq, len(buckets), transitions+1)
		}

		var flat []string
		for _, b := range buckets {
			flat = append(flat, b...)
		}
		if !reflect.DeepEqual(flat, seq) {
			t.Errorf("GroupByDay(%v) concatenation = %v", seq, flat)
		}
	}
}

func TestMapLabel(t *testing.T) {
	catalog := site.Get()
	ref := time.Date(2025, 8, 13, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		label string
		want  string
	}{
		{"hoy", "2025-08-13"},
		{"HOY", "2025-08-13"},
		{"mañana", "2025-08-14"},
		{"esta semana", "2025-08-13"},
		{"próxima semana", "2025-08-20"},
		{"viernes 15", "viernes 15"},
	}
	for _, tt := range tests {
		if got := MapLabel(catalog, tt.label, ref); got != tt.want {
			t.Errorf("MapLabel(%q) = %q, want %q", tt.label, got, tt.want)
		}
	}
}

// Mapping "today" against reference D must round-trip to D, and
// "tomorrow" to D+1, for arbitrary reference dates.
func TestMapLabelRoundTrip(t *testing.T) {
	catalog := site.Get()
	for _, ref := range []time.Time{
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 8, 31, 23, 59, 0, 0, time.UTC),
		time.Date(2024, 2, 28, 12, 0, 0, 0, time.UTC),
	} {
		if got := MapLabel(catalog, "hoy", ref); got != ref.Format("2006-01-02") {
			t.Errorf("today with ref %v = %q", ref, got)
		}
		want := ref.AddDate(0, 0, 1).Format("2006-01-02")
		if got := MapLabel(catalog, "mañana", ref); got != want {
			t.Errorf("tomorrow with ref %v = %q, want %q", ref, got, want)
		}
	}
}

func TestBuild(t *testing.T) {
	catalog := site.Get()
	// Reference: 06:30 so nothing today has passed yet.
	now := time.Date(2025, 8, 13, 6, 30, 0, 0, time.UTC)

	snapshot := Build(catalog,
		[]string{"hoy", "mañana"},
		[]string{"07:00", "08:00", "09:00", "07:00", "08:00"},
		now,
	)

	want := Snapshot{
		"2025-08-13": {"07:00", "08:00", "09:00"},
		"2025-08-14": {"07:00", "08:00"},
	}
	if !reflect.DeepEqual(snapshot, want) {
		t.Errorf("Build = %v, want %v", snapshot, want)
	}

	if !snapshot.Has("2025-08-13", "09:00") {
		t.Error("snapshot should offer 09:00 today")
	}
	if snapshot.Has("2025-08-14", "09:00") {
		t.Error("snapshot should not offer 09:00 tomorrow")
	}
}

func TestBuildFiltersPastTimes(t *testing.T) {
	catalog := site.Get()
	now := time.Date(2025, 8, 13, 8, 15, 0, 0, time.UTC)

	snapshot := Build(catalog,
		[]string{"hoy", "mañana"},
		[]string{"07:00", "08:00", "09:00", "07:00", "08:00"},
		now,
	)

	if got := snapshot["2025-08-13"]; !reflect.DeepEqual(got, []string{"09:00"}) {
		t.Errorf("today's times = %v, want only 09:00", got)
	}
	// The past filter applies to the current day only.
	if got := snapshot["2025-08-14"]; !reflect.DeepEqual(got, []string{"07:00", "08:00"}) {
		t.Errorf("tomorrow's times = %v, want both", got)
	}
}

func TestLocate(t *testing.T) {
	catalog := site.Get()
	now := time.Date(2025, 8, 13, 6, 0, 0, 0, time.UTC)
	extract := &Extract{
		Labels: []string{"hoy", "mañana"},
		Times:  []string{"07:00", "08:00", "09:00", "07:00", "08:00"},
	}

	tests := []struct {
		date, timeStr string
		wantIdx       int
		wantOK        bool
	}{
		{"2025-08-13", "09:00", 2, true},
		{"2025-08-13", "07:00", 0, true},
		{"2025-08-14", "07:00", 3, true},
		{"2025-08-14", "08:00", 4, true},
		{"2025-08-14", "09:00", 0, false},
		{"2025-08-15", "07:00", 0, false},
	}
	for _, tt := range tests {
		idx, ok := Locate(catalog, extract, tt.date, tt.timeStr, now)
		if ok != tt.wantOK || (ok && idx != tt.wantIdx) {
			t.Errorf("Locate(%s %s) = (%d, %v), want (%d, %v)",
				tt.date, tt.timeStr, idx, ok, tt.wantIdx, tt.wantOK)
		}
	}
}

func TestMatchesTimeTrimmedHour(t *testing.T) {
	tests := []struct {
		button string
		want   bool
	}{
		{"07:00", true},
		{"7:00", true},
		{"07", true},
		{"7", true},
		{"08", false},
		{"8:00", false},
		{"oops", false},
	}
	for _, tt := range tests {
		if got := matchesTime(tt.button, "07:00", 7*60); got != tt.want {
			t.Errorf("matchesTime(%q, 07:00) = %v, want %v", tt.button, got, tt.want)
		}
	}
}

func TestBuildEdgeCases(t *testing.T) {
	catalog := site.Get()
	now := time.Date(2025, 8, 13, 6, 0, 0, 0, time.UTC)

	if got := Build(catalog, nil, nil, now); len(got) != 0 {
		t.Errorf("empty input should yield empty snapshot, got %v", got)
	}

	// Unknown label passes through as the snapshot key.
	snapshot := Build(catalog, []string{"viernes 15"}, []string{"10:00", "11:00"}, now)
	if got := snapshot["viernes 15"]; !reflect.DeepEqual(got, []string{"10:00", "11:00"}) {
		t.Errorf("unknown label bucket = %v", got)
	}

	// More buckets than labels: the overflow gets consecutive dates.
	snapshot = Build(catalog, []string{"hoy"}, []string{"09:00", "08:00"}, now)
	if got := snapshot["2025-08-13"]; !reflect.DeepEqual(got, []string{"09:00"}) {
		t.Errorf("labeled bucket = %v", got)
	}
	if got := snapshot["2025-08-14"]; !reflect.DeepEqual(got, []string{"08:00"}) {
		t.Errorf("overflow bucket = %v", got)
	}

	// Malformed time strings are kept in the output raw.
	snapshot = Build(catalog, []string{"mañana"}, []string{"oops", "10:00"}, now)
	if got := snapshot["2025-08-14"]; !reflect.DeepEqual(got, []string{"oops", "10:00"}) {
		t.Errorf("malformed time bucket = %v", got)
	}
}
