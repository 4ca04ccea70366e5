// Package ttl holds the expiry arithmetic shared by the session and memory
// stores. Everything here is a pure function so both SQL and in-memory
// backends compare expiry against the same instant.
package ttl

import "time"

// ExpiryFrom computes the expiry instant for a time-to-live. A zero or
// negative ttl means "no expiry" and yields nil.
func ExpiryFrom(now time.Time, ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := now.Add(ttl).UTC()
	return &t
}

// Expired reports whether a record with the given expiry is logically dead
// at the given instant. A nil expiry never expires.
func Expired(expiresAt *time.Time, now time.Time) bool {
	if expiresAt == nil {
		return false
	}
	return now.After(*expiresAt)
}

// Fresh is the complement of Expired.
func Fresh(expiresAt *time.Time, now time.Time) bool {
	return !Expired(expiresAt, now)
}
