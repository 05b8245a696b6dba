// Package draw picks the next number to call.
package draw

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/femildignizant/tambola/internal/tambola"
)

// ErrExhausted is returned by Next once every number in the pool is called.
var ErrExhausted = errors.New("all numbers called")

// Next returns a number in [1, tambola.PoolSize] that is not in called,
// chosen uniformly from the remaining numbers with a cryptographic source.
func Next(called []int) (int, error) {
	if IsComplete(called) {
		return 0, ErrExhausted
	}

	seen := make(map[int]bool, len(called))
	for _, n := range called {
		seen[n] = true
	}
	available := make([]int, 0, tambola.PoolSize-len(seen))
	for n := 1; n <= tambola.PoolSize; n++ {
		if !seen[n] {
			available = append(available, n)
		}
	}
	if len(available) == 0 {
		return 0, ErrExhausted
	}

	idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(available))))
	if err != nil {
		return 0, fmt.Errorf("reading random source: %w", err)
	}
	return available[idx.Int64()], nil
}

// Remaining is the count of numbers still to be called.
func Remaining(called []int) int {
	return max(0, tambola.PoolSize-len(called))
}

// IsComplete reports whether the whole pool has been called.
func IsComplete(called []int) bool {
	return len(called) >= tambola.PoolSize
}
