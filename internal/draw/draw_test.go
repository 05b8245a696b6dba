package draw

import (
	"errors"
	"slices"
	"testing"
)

func seq(from, to int) []int {
	var out []int
	for n := from; n <= to; n++ {
		out = append(out, n)
	}
	return out
}

func TestNextNeverRepeats(t *testing.T) {
	for size := 0; size < 90; size++ {
		called := seq(1, size)
		for range 20 {
			n, err := Next(called)
			if err != nil {
				t.Fatalf("size %d: unexpected error: %v", size, err)
			}
			if n < 1 || n > 90 {
				t.Fatalf("size %d: %d out of range", size, n)
			}
			if slices.Contains(called, n) {
				t.Fatalf("size %d: %d already called", size, n)
			}
		}
	}
}

func TestNextFullGame(t *testing.T) {
	var called []int
	for len(called) < 90 {
		n, err := Next(called)
		if err != nil {
			t.Fatalf("after %d calls: %v", len(called), err)
		}
		called = append(called, n)
	}

	sorted := slices.Clone(called)
	slices.Sort(sorted)
	if !slices.Equal(sorted, seq(1, 90)) {
		t.Fatalf("expected every number exactly once, got %v", sorted)
	}

	if _, err := Next(called); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
}

func TestNextLastRemaining(t *testing.T) {
	var called []int
	for n := 1; n <= 90; n++ {
		if n != 42 {
			called = append(called, n)
		}
	}
	n, err := Next(called)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 42 {
		t.Errorf("expected 42, got %d", n)
	}
}

func TestNextOverfullInput(t *testing.T) {
	called := append(seq(1, 90), 1)
	if _, err := Next(called); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
}

func TestRemainingAndComplete(t *testing.T) {
	tests := []struct {
		called    []int
		remaining int
		complete  bool
	}{
		{nil, 90, false},
		{[]int{1, 5, 10}, 87, false},
		{seq(1, 89), 1, false},
		{seq(1, 90), 0, true},
		{append(seq(1, 90), 7), 0, true},
	}

	for _, tt := range tests {
		if got := Remaining(tt.called); got != tt.remaining {
			t.Errorf("Remaining(len %d) = %d, want %d", len(tt.called), got, tt.remaining)
		}
		if got := IsComplete(tt.called); got != tt.complete {
			t.Errorf("IsComplete(len %d) = %v, want %v", len(tt.called), got, tt.complete)
		}
	}
}
