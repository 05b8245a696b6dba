// Package pattern decides whether a ticket satisfies a winning pattern
// against the numbers called so far.
package pattern

import (
	"fmt"

	"github.com/femildignizant/tambola/internal/tambola"
)

// earlyFiveCount is how many ticket numbers EARLY_FIVE needs.
const earlyFiveCount = 5

// Result is the outcome of Check. Numbers holds the ticket numbers that
// satisfy the pattern when Valid is true.
type Result struct {
	Valid   bool
	Reason  string
	Numbers []int
}

func invalid(format string, args ...any) Result {
	return Result{Reason: fmt.Sprintf(format, args...)}
}

// Check verifies p on grid against called. It never panics on a malformed
// grid; it reports the problem in Reason instead.
func Check(grid tambola.Grid, called []int, p tambola.Pattern) Result {
	if len(called) == 0 {
		return invalid("No numbers called yet")
	}

	calledSet := make(map[int]bool, len(called))
	for _, n := range called {
		calledSet[n] = true
	}

	if p == tambola.EarlyFive {
		var matched []int
		for _, n := range grid.Numbers() {
			if calledSet[n] {
				matched = append(matched, n)
			}
		}
		if len(matched) < earlyFiveCount {
			return invalid("Found only %d/%d numbers", len(matched), earlyFiveCount)
		}
		return Result{Valid: true, Numbers: matched[:earlyFiveCount]}
	}

	targets, ok := Targets(grid, p)
	if !ok {
		return invalid("Unknown pattern %s", p)
	}
	if len(targets) == 0 {
		return invalid("Pattern has no target numbers on this ticket")
	}

	for _, n := range targets {
		if !calledSet[n] {
			return invalid("Missing numbers for %s", p)
		}
	}
	return Result{Valid: true, Numbers: targets}
}

// Targets returns the numbers that must all be called for a positional
// pattern. For EARLY_FIVE it returns every ticket number. The second result
// is false for an unknown pattern.
func Targets(grid tambola.Grid, p tambola.Pattern) ([]int, bool) {
	switch p {
	case tambola.TopRow:
		return grid.Row(0), true
	case tambola.MiddleRow:
		return grid.Row(1), true
	case tambola.BottomRow:
		return grid.Row(2), true
	case tambola.FullHouse, tambola.EarlyFive:
		return grid.Numbers(), true
	case tambola.FourCorners:
		top, bottom := corners(grid.Row(0)), corners(grid.Row(2))
		if top == nil || bottom == nil {
			return nil, true
		}
		return append(top, bottom...), true
	}
	return nil, false
}

// corners is the first and last number actually present in a row, which is
// not necessarily in the grid's edge columns.
func corners(row []int) []int {
	if len(row) == 0 {
		return nil
	}
	return []int{row[0], row[len(row)-1]}
}
