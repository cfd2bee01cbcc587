package source

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidSelection = errors.New("invalid page selection")

// ParseSelection parses a 1-based selection such as "1,3-5" against total
// items and returns 0-based indices in the order given, without duplicates.
// label names the item kind in out of range errors.
func ParseSelection(selection string, total int, label string) ([]int, error) {
	selection = strings.TrimSpace(selection)
	if selection == "" {
		return nil, ErrInvalidSelection
	}

	var selected []int
	seen := make(map[int]bool)
	for _, part := range strings.Split(selection, ",") {
		token := strings.TrimSpace(part)
		if token == "" {
			return nil, ErrInvalidSelection
		}

		var start, end int
		if lo, hi, ok := strings.Cut(token, "-"); ok {
			a, errA := parseNumber(lo)
			b, errB := parseNumber(hi)
			if errA != nil || errB != nil || a < 1 || b < a {
				return nil, ErrInvalidSelection
			}
			start, end = a, b
		} else {
			n, err := parseNumber(token)
			if err != nil || n < 1 {
				return nil, ErrInvalidSelection
			}
			start, end = n, n
		}

		for n := start; n <= end; n++ {
			if n > total {
				return nil, fmt.Errorf("%s %d is out of range (total: %d)", label, n, total)
			}
			if !seen[n-1] {
				seen[n-1] = true
				selected = append(selected, n-1)
			}
		}
	}
	if len(selected) == 0 {
		return nil, ErrInvalidSelection
	}
	return selected, nil
}

// parseNumber accepts only plain decimal digits.
func parseNumber(s string) (int, error) {
	if s == "" {
		return 0, ErrInvalidSelection
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, ErrInvalidSelection
		}
	}
	return strconv.Atoi(s)
}

// allIndices returns 0..total-1.
func allIndices(total int) []int {
	out := make([]int, total)
	for i := range out {
		out[i] = i
	}
	return out
}
