package db

import "time"

// timeLayout matches SQLite's datetime() output so stored and computed
// timestamps compare as strings.
const timeLayout = "2006-01-02 15:04:05"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime parses a timestamp column value.
func ParseTime(s string) (time.Time, error) {
	return time.ParseInLocation(timeLayout, s, time.UTC)
}

func nullStr(s string) any {
	if s == "" || s == "null" {
		return nil
	}
	return s
}
