package utils

import (
	"testing"
	"time"
)

func TestGetDayStartFrom(t *testing.T) {
	msk := time.FixedZone("MSK", 3*60*60)

	tests := []struct {
		name  string
		input time.Time
		want  time.Time
	}{
		{"middle of day", time.Date(2024, 1, 15, 14, 30, 45, 123, time.UTC), time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"midnight", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"last nanosecond", time.Date(2024, 1, 15, 23, 59, 59, 999999999, time.UTC), time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"leap day", time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC), time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)},
		// 01:30 по Москве - ещё предыдущий день в UTC
		{"local zone", time.Date(2024, 1, 15, 1, 30, 0, 0, msk), time.Date(2024, 1, 14, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GetDayStartFrom(tt.input)
			if !got.Equal(tt.want) || got.Location() != time.UTC {
				t.Errorf("GetDayStartFrom(%v) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestDayRange(t *testing.T) {
	r := DayRange(time.Date(2024, 3, 10, 17, 5, 0, 0, time.UTC))

	if !r.Start.Equal(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Start = %v", r.Start)
	}
	if !r.End.Equal(time.Date(2024, 3, 10, 23, 59, 59, 999999999, time.UTC)) {
		t.Errorf("End = %v", r.End)
	}

	checks := []struct {
		at   time.Time
		want bool
	}{
		{r.Start, true},
		{r.End, true},
		{r.Start.Add(-time.Nanosecond), false},
		{r.End.Add(time.Nanosecond), false},
	}
	for _, c := range checks {
		if got := r.Contains(c.at); got != c.want {
			t.Errorf("Contains(%v) = %v, want %v", c.at, got, c.want)
		}
	}
}

func TestTrailingDays(t *testing.T) {
	now := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)

	days := TrailingDays(now, 3)
	want := []time.Time{
		time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	if len(days) != len(want) {
		t.Fatalf("len = %d, want %d", len(days), len(want))
	}
	for i := range want {
		if !days[i].Equal(want[i]) {
			t.Errorf("days[%d] = %v, want %v", i, days[i], want[i])
		}
	}

	if TrailingDays(now, 0) != nil || TrailingDays(now, -1) != nil {
		t.Error("non-positive window must return nil")
	}
}

func TestFromUnixMillis(t *testing.T) {
	got := FromUnixMillis(1705329045123)
	want := time.Date(2024, 1, 15, 14, 30, 45, 123000000, time.UTC)

	if !got.Equal(want) {
		t.Errorf("FromUnixMillis = %v, want %v", got, want)
	}
	if got.Location() != time.UTC {
		t.Errorf("location = %v, want UTC", got.Location())
	}
}

func BenchmarkGetDayStartFrom(b *testing.B) {
	now := time.Now()
	for i := 0; i < b.N; i++ {
		GetDayStartFrom(now)
	}
}
