// Package game holds the rules of the trash hunt: how long each difficulty
// allows and how a finished round is graded.
package game

import (
	"fmt"
	"sort"
	"time"
)

// Difficulty selects the time limit of a round.
type Difficulty string

const (
	Easy   Difficulty = "easy"
	Normal Difficulty = "normal"
	Hard   Difficulty = "hard"
)

var limits = map[Difficulty]int{
	Easy:   120,
	Normal: 90,
	Hard:   60,
}

// ParseDifficulty validates a difficulty name.
func ParseDifficulty(s string) (Difficulty, error) {
	d := Difficulty(s)
	if _, ok := limits[d]; !ok {
		return "", fmt.Errorf("unknown difficulty %q", s)
	}
	return d, nil
}

// MaxSeconds returns the time limit for d, or 0 for an unknown difficulty.
func (d Difficulty) MaxSeconds() int {
	return limits[d]
}

// Difficulties returns every difficulty, longest limit first.
func Difficulties() []Difficulty {
	all := make([]Difficulty, 0, len(limits))
	for d := range limits {
		all = append(all, d)
	}
	sort.Slice(all, func(i, j int) bool {
		return limits[all[i]] > limits[all[j]]
	})
	return all
}

// Grade is the outcome of a finished round.
type Grade string

const (
	GradeAmazing  Grade = "amazing"
	GradeGood     Grade = "good"
	GradeComplete Grade = "complete"
	GradeTimeout  Grade = "timeout"
)

// Evaluate grades a round that took elapsed seconds out of maxSeconds.
// Under half the limit is amazing, under 80% is good; a round that ran out of
// time is a timeout regardless of how it was reported.
func Evaluate(elapsed, maxSeconds int, timedOut bool) Grade {
	if timedOut || elapsed >= maxSeconds {
		return GradeTimeout
	}

	percentage := float64(elapsed) / float64(maxSeconds) * 100
	switch {
	case percentage < 50:
		return GradeAmazing
	case percentage < 80:
		return GradeGood
	default:
		return GradeComplete
	}
}

// ElapsedSeconds returns whole seconds between start and end, capped at
// maxSeconds and never negative.
func ElapsedSeconds(start, end time.Time, maxSeconds int) int {
	elapsed := int(end.Sub(start) / time.Second)
	if elapsed < 0 {
		return 0
	}
	if elapsed > maxSeconds {
		return maxSeconds
	}
	return elapsed
}

// Message returns the line shown to the player at the end of a round.
func Message(g Grade, elapsed, maxSeconds int) string {
	switch g {
	case GradeTimeout:
		return fmt.Sprintf("Time's up! You used all %d seconds!", maxSeconds)
	case GradeAmazing:
		return fmt.Sprintf("Amazing speed! Finished in %ds!", elapsed)
	case GradeGood:
		return fmt.Sprintf("Good job! Finished in %ds!", elapsed)
	default:
		return fmt.Sprintf("Complete! Finished in %ds!", elapsed)
	}
}
