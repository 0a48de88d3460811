package timeparse

import (
	"testing"
	"time"
)

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func TestParse_NoMatch(t *testing.T) {
	res := Parse("what did I learn about go channels", fixedClock(time.Now()))
	if res.Matched {
		t.Fatal("expected no time expression to match")
	}
	if res.Start != nil || res.End != nil {
		t.Fatal("expected nil window on no match")
	}
}

func TestParse_AgoExpression(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	res := Parse("meeting notes 3 days ago", fixedClock(now))

	if !res.Matched {
		t.Fatal("expected a match")
	}
	want := now.AddDate(0, 0, -3)
	if !res.Start.Equal(want) {
		t.Fatalf("expected start %v, got %v", want, *res.Start)
	}
	if !res.End.Equal(now) {
		t.Fatalf("expected end to be now, got %v", *res.End)
	}
	if res.Cleaned != "meeting notes" {
		t.Fatalf("expected cleaned query %q, got %q", "meeting notes", res.Cleaned)
	}
}

func TestParse_Yesterday(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	res := Parse("yesterday standup", fixedClock(now))

	if !res.Matched {
		t.Fatal("expected a match")
	}
	wantStart := time.Date(2026, 7, 28, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)
	if !res.Start.Equal(wantStart) || !res.End.Equal(wantEnd) {
		t.Fatalf("expected window [%v,%v), got [%v,%v)", wantStart, wantEnd, *res.Start, *res.End)
	}
	if res.Cleaned != "standup" {
		t.Fatalf("expected cleaned query %q, got %q", "standup", res.Cleaned)
	}
}

func TestParse_LastWeek(t *testing.T) {
	// Wednesday 2026-07-29
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	res := Parse("last week's decisions", fixedClock(now))

	if !res.Matched {
		t.Fatal("expected a match")
	}
	if res.End.Sub(*res.Start) != 7*24*time.Hour {
		t.Fatalf("expected a 7-day window, got %v", res.End.Sub(*res.Start))
	}
	if res.Start.Weekday() != time.Monday {
		t.Fatalf("expected window to start on Monday, got %v", res.Start.Weekday())
	}
}

func TestParse_Christmas_RollsBackToPreviousYearIfFuture(t *testing.T) {
	now := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	res := Parse("christmas gift ideas", fixedClock(now))

	if !res.Matched {
		t.Fatal("expected a match")
	}
	if res.Start.Year() != 2025 {
		t.Fatalf("expected christmas to roll back to 2025, got %d", res.Start.Year())
	}
}

func TestParse_CollapsesDoubleSpaces(t *testing.T) {
	now := time.Now()
	res := Parse("notes from  yesterday  about design", fixedClock(now))
	if !res.Matched {
		t.Fatal("expected a match")
	}
	for i := 0; i+1 < len(res.Cleaned); i++ {
		if res.Cleaned[i] == ' ' && res.Cleaned[i+1] == ' ' {
			t.Fatalf("expected no double spaces in cleaned query, got %q", res.Cleaned)
		}
	}
}
