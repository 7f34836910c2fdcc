package professional

import "time"

// Profile captures the subset of professional data exposed via the public API layer.
type Profile struct {
	ID              int64
	Name            string
	Specializations []string
	Verified        bool
	CreatedAt       time.Time
}
