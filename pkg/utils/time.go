package utils

import "time"

// IsWithInRange reports whether checked lies in [from, to]. A zero bound is
// treated as open.
func IsWithInRange(checked, from, to time.Time) bool {
	if !from.IsZero() && checked.Before(from) {
		return false
	}
	if !to.IsZero() && checked.After(to) {
		return false
	}
	return true
}
