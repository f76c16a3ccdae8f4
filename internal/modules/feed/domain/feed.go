package domain

import (
	"time"

	"github.com/samber/oops"
)

// FeedType is the detected format of a feed document.
type FeedType string

const (
	FeedTypeUnknown FeedType = "unknown"
	FeedTypeRSS     FeedType = "rss"
	FeedTypeAtom    FeedType = "atom"
	FeedTypeJSON    FeedType = "json"
)

// ParseFeedType parses a stored feed type string.
func ParseFeedType(s string) (FeedType, error) {
	switch FeedType(s) {
	case FeedTypeUnknown, FeedTypeRSS, FeedTypeAtom, FeedTypeJSON:
		return FeedType(s), nil
	}
	return FeedTypeUnknown, oops.Errorf("unknown feed type: %s", s)
}

// Feed is a syndicated source polled on behalf of its subscriptions.
// A feed exists only while at least one subscription references it.
type Feed struct {
	ID    int64    `json:"id"`
	URL   string   `json:"url"`
	Type  FeedType `json:"feed_type"`
	Title string   `json:"title"`
	// LastChecked is the time of the most recent fetch attempt,
	// successful or not. Zero if never checked.
	LastChecked time.Time `json:"last_checked"`
	// LastUpdated is the last time a fetch inserted at least one new item.
	LastUpdated time.Time `json:"last_updated"`
	// ErrorSince is the first failure time of the current error streak.
	// Zero while the feed is healthy. Cleared together with ErrorMessage
	// on the next successful fetch.
	ErrorSince time.Time `json:"error_since"`
	// ErrorMessage is the text of the most recent failed attempt. It is
	// overwritten on every failure, even when ErrorSince predates it.
	ErrorMessage string `json:"error_message"`
}

// Healthy reports whether the feed is outside an error streak.
func (f *Feed) Healthy() bool {
	return f.ErrorSince.IsZero()
}
