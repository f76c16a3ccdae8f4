package domain

import (
	"time"

	"github.com/samber/oops"
)

// Frequency controls how often a subscription's new items are delivered.
type Frequency string

const (
	FrequencyRealtime Frequency = "realtime"
	FrequencyHourly   Frequency = "hourly"
	FrequencyDaily    Frequency = "daily"
)

func ParseFrequency(s string) (Frequency, error) {
	switch Frequency(s) {
	case FrequencyRealtime, FrequencyHourly, FrequencyDaily:
		return Frequency(s), nil
	}
	return FrequencyRealtime, oops.Errorf("unknown frequency: %s", s)
}

// DeliveryMethod selects which channel(s) a subscription delivers to.
// The channel set is closed and small; "both" fans out to email and
// telegram with independent failure handling.
type DeliveryMethod string

const (
	DeliveryEmail    DeliveryMethod = "email"
	DeliveryTelegram DeliveryMethod = "telegram"
	DeliveryBoth     DeliveryMethod = "both"
)

func ParseDeliveryMethod(s string) (DeliveryMethod, error) {
	switch DeliveryMethod(s) {
	case DeliveryEmail, DeliveryTelegram, DeliveryBoth:
		return DeliveryMethod(s), nil
	}
	return DeliveryEmail, oops.Errorf("unknown delivery method: %s", s)
}

// Subscription links one user to one feed with a delivery schedule.
// The user mutates name/frequency/active/max-items/channels; the delivery
// coordinator mutates only LastSentTime.
type Subscription struct {
	ID           int64  `json:"id"`
	UserID       int64  `json:"user_id"`
	FeedID       int64  `json:"feed_id"`
	FriendlyName string `json:"friendly_name"` // defaults to the feed title
	Frequency    Frequency `json:"frequency"`
	// LastSentTime is the delivery watermark: items with a publication
	// date strictly after it are unseen. Zero if never sent.
	LastSentTime time.Time `json:"last_sent_time"`
	// MaxItems caps how many items render in full per delivery; older
	// overflow renders link-only. Zero means no cap.
	MaxItems       int            `json:"max_items"`
	IsActive       bool           `json:"is_active"`
	DeliveryMethod DeliveryMethod `json:"delivery_method"`
}
