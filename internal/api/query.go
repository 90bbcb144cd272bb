package api

import (
	"fmt"
	"strconv"
)

// ParseIntParam parses an integer query parameter bounded to [lo, hi].
// Returns defaultVal if value is empty.
func ParseIntParam(value string, lo, hi, defaultVal int) (int, error) {
	if value == "" {
		return defaultVal, nil
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("must be a valid integer")
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("must be between %d and %d", lo, hi)
	}
	return v, nil
}
