package sqlite

import (
	"testing"
	"time"
)

func TestParseScheduledFor_RFC3339TakesPrecedence(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	got, err := ParseScheduledFor("2026-07-30T15:04:05Z", base)
	if err != nil {
		t.Fatalf("ParseScheduledFor failed: %v", err)
	}
	want := time.Date(2026, 7, 30, 15, 4, 5, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestParseScheduledFor_NaturalLanguage(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	got, err := ParseScheduledFor("in 3 days", base)
	if err != nil {
		t.Fatalf("ParseScheduledFor failed: %v", err)
	}
	want := base.AddDate(0, 0, 3)
	if got.Year() != want.Year() || got.YearDay() != want.YearDay() {
		t.Errorf("got %v, want day %v", got, want)
	}
}

func TestParseScheduledFor_RejectsGarbage(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if _, err := ParseScheduledFor("not a date at all", base); err == nil {
		t.Error("expected an error for an unrecognized expression")
	}
}
