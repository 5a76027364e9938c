package game

import (
	"testing"
	"time"
)

func TestParseDifficulty(t *testing.T) {
	tests := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{"easy", 120, false},
		{"normal", 90, false},
		{"hard", 60, false},
		{"Hard", 0, true},
		{"", 0, true},
		{"nightmare", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			d, err := ParseDifficulty(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDifficulty(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if d.MaxSeconds() != tt.want {
				t.Errorf("MaxSeconds() = %d, want %d", d.MaxSeconds(), tt.want)
			}
		})
	}
}

func TestDifficulties(t *testing.T) {
	got := Difficulties()
	want := []Difficulty{Easy, Normal, Hard}
	if len(got) != len(want) {
		t.Fatalf("Difficulties() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Difficulties()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name     string
		elapsed  int
		max      int
		timedOut bool
		want     Grade
	}{
		{"instant", 0, 60, false, GradeAmazing},
		{"just under half", 29, 60, false, GradeAmazing},
		{"exactly half", 30, 60, false, GradeGood},
		{"just under 80 percent", 71, 90, false, GradeGood},
		{"exactly 80 percent", 96, 120, false, GradeComplete},
		{"last second", 59, 60, false, GradeComplete},
		{"reached the limit", 60, 60, false, GradeTimeout},
		{"reported timeout", 10, 60, true, GradeTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(tt.elapsed, tt.max, tt.timedOut); got != tt.want {
				t.Errorf("Evaluate(%d, %d, %v) = %q, want %q", tt.elapsed, tt.max, tt.timedOut, got, tt.want)
			}
		})
	}
}

func TestElapsedSeconds(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if got := ElapsedSeconds(start, start.Add(42900*time.Millisecond), 90); got != 42 {
		t.Errorf("ElapsedSeconds() = %d, want 42 (floored)", got)
	}
	if got := ElapsedSeconds(start, start.Add(5*time.Minute), 90); got != 90 {
		t.Errorf("ElapsedSeconds() = %d, want cap of 90", got)
	}
	if got := ElapsedSeconds(start, start.Add(-time.Second), 90); got != 0 {
		t.Errorf("ElapsedSeconds() = %d, want 0 for clock skew", got)
	}
}

func TestMessage(t *testing.T) {
	tests := []struct {
		grade Grade
		want  string
	}{
		{GradeTimeout, "Time's up! You used all 60 seconds!"},
		{GradeAmazing, "Amazing speed! Finished in 12s!"},
		{GradeGood, "Good job! Finished in 12s!"},
		{GradeComplete, "Complete! Finished in 12s!"},
	}

	for _, tt := range tests {
		if got := Message(tt.grade, 12, 60); got != tt.want {
			t.Errorf("Message(%q) = %q, want %q", tt.grade, got, tt.want)
		}
	}
}
