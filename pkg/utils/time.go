package utils

import (
	"time"
)

// time.go - календарные дни
//
// Все границы дней считаются в UTC: ключ дедупликации алертов и
// ключ дневного PnL используют один и тот же календарный день.

// GetDayStartFrom возвращает начало дня для указанного времени в UTC
//
//	// t: 2024-01-15 14:30:45 UTC
//	GetDayStartFrom(t) // 2024-01-15 00:00:00 UTC
func GetDayStartFrom(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// TimeRange - диапазон [Start, End] включительно
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Contains проверяет, попадает ли время в диапазон
func (tr TimeRange) Contains(t time.Time) bool {
	return !t.Before(tr.Start) && !t.After(tr.End)
}

// DayRange возвращает календарный день, содержащий t: от 00:00 до последней наносекунды
func DayRange(t time.Time) TimeRange {
	start := GetDayStartFrom(t)
	return TimeRange{Start: start, End: start.Add(24*time.Hour - time.Nanosecond)}
}

// TrailingDays возвращает n завершённых дней перед now, от старого к новому.
// Текущий (незакрытый) день не входит.
//
//	// now: 2024-01-15 10:00 UTC, n=3
//	// [2024-01-12, 2024-01-13, 2024-01-14]
func TrailingDays(now time.Time, n int) []time.Time {
	if n <= 0 {
		return nil
	}
	today := GetDayStartFrom(now)
	days := make([]time.Time, 0, n)
	for i := n; i >= 1; i-- {
		days = append(days, today.AddDate(0, 0, -i))
	}
	return days
}

// FromUnixMillis конвертирует миллисекунды (формат бирж) в time.Time UTC
func FromUnixMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
