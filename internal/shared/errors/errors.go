package errors

import "errors"

var (
	ErrMissingEncryptionKey = errors.New("MAILFEED_ENCRYPTION_KEY (64 hex chars) is required")
	ErrInvalidEncryptionKey = errors.New("encryption key must be 32 bytes (64 hex characters)")
	ErrFeedNotFound         = errors.New("feed not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrUnknownChannel       = errors.New("unknown delivery channel")
	ErrChannelUnavailable   = errors.New("no sender configured for channel")
)
