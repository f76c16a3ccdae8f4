package domain

import "time"

// FeedItem is a canonical feed entry after normalization. Items are
// immutable once stored; identity for deduplication is
// (feed_id, link, pub_date) — pub_date breaks ties for feeds that
// reuse links.
type FeedItem struct {
	ID     int64  `json:"id"`
	FeedID int64  `json:"feed_id"`
	Title  string `json:"title"`
	Link   string `json:"link"`
	// PubDate is the entry's publication time, falling back to ingestion
	// time when the document carries none.
	PubDate     time.Time `json:"pub_date"`
	Description string    `json:"description,omitempty"`
	Author      string    `json:"author,omitempty"`
	Categories  []string  `json:"categories,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
