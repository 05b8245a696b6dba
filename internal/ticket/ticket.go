// Package ticket lays out 3x9 Tambola tickets and checks their structure.
package ticket

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/femildignizant/tambola/internal/tambola"
)

const (
	rows       = 3
	cols       = 9
	perRow     = 5
	maxAttempt = 100
)

// columnRange returns the inclusive number range of column c:
// 1-9, 10-19, ..., 70-79, 80-90.
func columnRange(c int) (lo, hi int) {
	switch c {
	case 0:
		return 1, 9
	case cols - 1:
		return 80, 90
	default:
		return c * 10, c*10 + 9
	}
}

var errLayout = errors.New("could not fill layout")

// Generate returns a new random ticket.
func Generate() (tambola.Grid, error) {
	for range maxAttempt {
		g, err := tryGenerate()
		if errors.Is(err, errLayout) {
			continue
		}
		return g, err
	}
	return tambola.Grid{}, fmt.Errorf("generating ticket: %w after %d attempts", errLayout, maxAttempt)
}

func tryGenerate() (tambola.Grid, error) {
	var mask [rows][cols]bool
	var rowCount [rows]int
	var colCount [cols]int

	place := func(r, c int) {
		mask[r][c] = true
		rowCount[r]++
		colCount[c]++
	}

	// Every column gets at least one number.
	for _, c := range rand.Perm(cols) {
		var open []int
		for r := range rows {
			if rowCount[r] < perRow {
				open = append(open, r)
			}
		}
		if len(open) == 0 {
			return tambola.Grid{}, errLayout
		}
		place(open[rand.IntN(len(open))], c)
	}

	// Top rows up to five numbers each.
	for _, cell := range rand.Perm(rows * cols) {
		r, c := cell/cols, cell%cols
		if mask[r][c] || rowCount[r] >= perRow {
			continue
		}
		place(r, c)
	}
	for r := range rows {
		if rowCount[r] != perRow {
			return tambola.Grid{}, errLayout
		}
	}

	var g tambola.Grid
	for c := range cols {
		lo, hi := columnRange(c)
		nums := rand.Perm(hi - lo + 1)[:colCount[c]]
		for i := range nums {
			nums[i] += lo
		}
		slices.Sort(nums)

		i := 0
		for r := range rows {
			if mask[r][c] {
				g[r][c] = nums[i]
				i++
			}
		}
	}
	return g, nil
}

// Validate checks the structural rules of a ticket: five numbers per row,
// every column used, numbers within their column range, columns ascending
// and no duplicates.
func Validate(g tambola.Grid) error {
	seen := make(map[int]bool, rows*perRow)
	for r := range rows {
		n := 0
		for c := range cols {
			v := g[r][c]
			if v == 0 {
				continue
			}
			n++
			lo, hi := columnRange(c)
			if v < lo || v > hi {
				return fmt.Errorf("row %d column %d: %d outside %d-%d", r, c, v, lo, hi)
			}
			if seen[v] {
				return fmt.Errorf("number %d appears twice", v)
			}
			seen[v] = true
		}
		if n != perRow {
			return fmt.Errorf("row %d has %d numbers, want %d", r, n, perRow)
		}
	}

	for c := range cols {
		prev := 0
		for r := range rows {
			v := g[r][c]
			if v == 0 {
				continue
			}
			if v <= prev {
				return fmt.Errorf("column %d is not ascending", c)
			}
			prev = v
		}
		if prev == 0 {
			return fmt.Errorf("column %d is empty", c)
		}
	}
	return nil
}
