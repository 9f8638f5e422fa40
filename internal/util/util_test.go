package util

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFormatTimeOfDay(t *testing.T) {
	tests := []struct {
		name   string
		hour   int
		min    int
		sec    int
		locale string
		want   string
	}{
		{"morning korean", 10, 0, 0, LocaleKorean, "오전 10:00:00"},
		{"afternoon korean", 13, 5, 9, LocaleKorean, "오후 1:05:09"},
		{"midnight korean", 0, 0, 1, LocaleKorean, "오전 12:00:01"},
		{"noon korean", 12, 30, 0, LocaleKorean, "오후 12:30:00"},
		{"unknown locale falls back to korean", 9, 1, 2, "", "오전 9:01:02"},
		{"morning english", 10, 0, 0, LocaleEnglish, "10:00:00 AM"},
		{"evening english", 23, 59, 59, LocaleEnglish, "11:59:59 PM"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := time.Date(2024, 1, 1, tt.hour, tt.min, tt.sec, 0, time.UTC)
			if got := FormatTimeOfDay(ts, tt.locale); got != tt.want {
				t.Errorf("FormatTimeOfDay() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatEventTime(t *testing.T) {
	seoul := time.FixedZone("KST", 9*60*60)

	if got := FormatEventTime("2024-01-01T10:00:00", seoul, LocaleKorean); got != "오전 10:00:00" {
		t.Errorf("zoneless timestamp: got %q", got)
	}
	if got := FormatEventTime("2024-01-01T10:00:00.123456", seoul, LocaleKorean); got != "오전 10:00:00" {
		t.Errorf("fractional timestamp: got %q", got)
	}
	// 01:00 UTC is 10:00 in Seoul.
	if got := FormatEventTime("2024-01-01T01:00:00Z", seoul, LocaleKorean); got != "오전 10:00:00" {
		t.Errorf("zoned timestamp: got %q", got)
	}
	if got := FormatEventTime("yesterday", seoul, LocaleKorean); got != InvalidTime {
		t.Errorf("garbage timestamp: got %q, want %q", got, InvalidTime)
	}
}

func TestExtractDateFromFilename(t *testing.T) {
	date, ok := ExtractDateFromFilename("monitor-2024-03-05-101500.wav")
	if !ok {
		t.Fatal("expected a date")
	}
	if date.Year() != 2024 || date.Month() != time.March || date.Day() != 5 {
		t.Errorf("got %v", date)
	}
	if _, ok := ExtractDateFromFilename("monitor.wav"); ok {
		t.Error("expected no date")
	}
}

func TestFormatDuration(t *testing.T) {
	cases := map[int64]string{
		45_000:    "45s",
		154_000:   "2m 34s",
		4_980_000: "1h 23m",
	}
	for ms, want := range cases {
		if got := FormatDuration(ms); got != want {
			t.Errorf("FormatDuration(%d) = %q, want %q", ms, got, want)
		}
	}
}

func TestBackoff(t *testing.T) {
	b := NewBackoff(time.Second, 5*time.Second)
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Fatalf("step %d: got %v, want %v", i, got, w)
		}
	}
	if b.Attempts() != len(want) {
		t.Errorf("attempts = %d, want %d", b.Attempts(), len(want))
	}
	b.Reset()
	if got := b.Next(); got != time.Second {
		t.Errorf("after reset got %v", got)
	}
}

func TestWrapError(t *testing.T) {
	if WrapError("x", nil) != nil {
		t.Error("nil error must stay nil")
	}
	base := errors.New("boom")
	err := WrapError("open device", base)
	if !errors.Is(err, base) {
		t.Error("wrapped error lost its cause")
	}
	if err.Error() != "failed to open device: boom" {
		t.Errorf("got %q", err.Error())
	}
}

func TestValidatePath(t *testing.T) {
	if err := ValidatePath("dir", ""); err == nil {
		t.Error("empty path must fail")
	}
	if err := ValidatePath("dir", "../etc"); err == nil {
		t.Error("traversal must fail")
	}
	if err := ValidatePath("dir", "/var/lib/monitor/../etc"); !errors.Is(err, ErrPathTraversal) {
		t.Errorf("inner traversal error = %v, want ErrPathTraversal", err)
	}
	for _, ok := range []string{"recordings/today", "/var/lib/monitor", "clips..old"} {
		if err := ValidatePath("dir", ok); err != nil {
			t.Errorf("ValidatePath(%q): %v", ok, err)
		}
	}
}

func TestCheckPathWritable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	if err := CheckPathWritable(dir); err != nil {
		t.Fatalf("CheckPathWritable: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("test file left behind: %v", entries)
	}

	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := CheckPathWritable(filepath.Join(blocker, "sub")); err == nil {
		t.Error("directory under a regular file must not be writable")
	}
}
