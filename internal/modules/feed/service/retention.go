package service

import "time"

// RetentionPolicy decides which stored items are old enough to prune.
type RetentionPolicy interface {
	// Cutoff returns the pruning cutoff for the given time. Items
	// published before the cutoff are deleted. The second return is
	// false when pruning is disabled.
	Cutoff(now time.Time) (time.Time, bool)
}

// AgeRetention prunes items older than a fixed age. A zero or negative
// age disables pruning.
type AgeRetention struct {
	MaxAge time.Duration
}

func (a AgeRetention) Cutoff(now time.Time) (time.Time, bool) {
	if a.MaxAge <= 0 {
		return time.Time{}, false
	}
	return now.Add(-a.MaxAge), true
}
