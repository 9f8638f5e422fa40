package util

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DatePattern matches YYYY-MM-DD in filenames.
var DatePattern = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})`)

// ExtractDateFromFilename extracts a date from a filename containing YYYY-MM-DD.
func ExtractDateFromFilename(filename string) (time.Time, bool) {
	matches := DatePattern.FindStringSubmatch(filename)
	if len(matches) < 2 {
		return time.Time{}, false
	}

	date, err := time.Parse(time.DateOnly, matches[1])
	if err != nil {
		return time.Time{}, false
	}

	return date, true
}

// Locales supported by FormatTimeOfDay.
const (
	LocaleKorean  = "ko-KR"
	LocaleEnglish = "en-US"
)

// InvalidTime is rendered for timestamps that cannot be parsed.
const InvalidTime = "Invalid Date"

// localDateTimeLayouts are tried in order by ParseTimestamp. The zoneless
// layouts are interpreted in the caller's location.
var localDateTimeLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses an ISO-8601 timestamp. Timestamps without a zone
// offset are taken to be wall-clock time in loc.
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if loc == nil {
		loc = time.Local
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range localDateTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// FormatTimeOfDay renders the time-of-day part of t the way the dashboard
// locale does: "오전 10:00:00" for ko-KR, "10:00:00 AM" for en-US.
func FormatTimeOfDay(t time.Time, locale string) string {
	hour := t.Hour() % 12
	if hour == 0 {
		hour = 12
	}
	pm := t.Hour() >= 12

	switch locale {
	case LocaleEnglish:
		suffix := "AM"
		if pm {
			suffix = "PM"
		}
		return fmt.Sprintf("%d:%02d:%02d %s", hour, t.Minute(), t.Second(), suffix)
	default:
		prefix := "오전"
		if pm {
			prefix = "오후"
		}
		return fmt.Sprintf("%s %d:%02d:%02d", prefix, hour, t.Minute(), t.Second())
	}
}

// FormatEventTime parses a server timestamp and formats its time of day.
// Unparseable input yields InvalidTime.
func FormatEventTime(s string, loc *time.Location, locale string) string {
	t, err := ParseTimestamp(s, loc)
	if err != nil {
		return InvalidTime
	}
	return FormatTimeOfDay(t, locale)
}

// FormatDuration formats milliseconds as a human-readable duration string.
// Examples: "45s", "2m 34s", "1h 23m"
func FormatDuration(ms int64) string {
	totalSeconds := ms / 1000
	if totalSeconds < 60 {
		return fmt.Sprintf("%ds", totalSeconds)
	}
	minutes := totalSeconds / 60
	seconds := totalSeconds % 60
	if minutes < 60 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	hours := minutes / 60
	minutes %= 60
	return fmt.Sprintf("%dh %dm", hours, minutes)
}
