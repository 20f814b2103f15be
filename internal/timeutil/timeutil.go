// Package timeutil holds the local calendar math shared by the
// store and the report engine. All day bucketing is done in a
// caller-supplied location so reports reflect the user's wall
// clock, not UTC.
package timeutil

import "time"

// Location resolves an IANA timezone name. An empty name or an
// unknown name falls back to the system location.
func Location(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.Local
	}
	return loc
}

// DayIndex returns the index of the calendar day (days since the
// Unix epoch) containing the timestamp, evaluated in loc. Two
// timestamps on the same local date always map to the same index,
// and consecutive dates map to consecutive indexes regardless of
// DST transitions.
func DayIndex(ts int64, loc *time.Location) int {
	t := time.Unix(ts, 0).In(loc)
	y, m, d := t.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return int(midnight.Unix() / 86400)
}

// DayString formats a day index produced by DayIndex as
// YYYY-MM-DD.
func DayString(day int) string {
	return time.Unix(int64(day)*86400, 0).UTC().Format("2006-01-02")
}

// DayOf returns the local date (YYYY-MM-DD) of the timestamp.
func DayOf(ts int64, loc *time.Location) string {
	return time.Unix(ts, 0).In(loc).Format("2006-01-02")
}

// HourOf returns the local hour of day (0-23) of the timestamp.
func HourOf(ts int64, loc *time.Location) int {
	return time.Unix(ts, 0).In(loc).Hour()
}

// WeekdayISO returns the ISO weekday index of the timestamp in
// loc, with Monday=0 and Sunday=6.
func WeekdayISO(ts int64, loc *time.Location) int {
	t := time.Unix(ts, 0).In(loc)
	return (int(t.Weekday()) + 6) % 7
}

// MonthOf returns the local month (1-12) of the timestamp.
func MonthOf(ts int64, loc *time.Location) int {
	return int(time.Unix(ts, 0).In(loc).Month())
}

// DayWindow returns the inclusive [begin, end] Unix bounds of a
// local date given as YYYY-MM-DD. An unparsable date yields (0, 0).
func DayWindow(date string, loc *time.Location) (int64, int64) {
	t, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return 0, 0
	}
	return t.Unix(), t.AddDate(0, 0, 1).Unix() - 1
}

// YearWindow returns the inclusive [begin, end] Unix bounds of a
// calendar year in loc. A year of 0 means "all time" and returns
// (0, max int64) per the report contract.
func YearWindow(year int, loc *time.Location) (int64, int64) {
	if year == 0 {
		return 0, 1<<63 - 1
	}
	begin := time.Date(year, 1, 1, 0, 0, 0, 0, loc)
	end := time.Date(year+1, 1, 1, 0, 0, 0, 0, loc)
	return begin.Unix(), end.Unix() - 1
}
