// Package channel implements the concrete delivery transports. Every
// sender renders the same batch content; only the envelope differs per
// channel.
package channel

import (
	"context"
	"fmt"

	"github.com/mailfeed/mailfeed/internal/modules/delivery/domain"
	userdomain "github.com/mailfeed/mailfeed/internal/modules/user/domain"
)

// Sender delivers one batch over one channel. Send must honor the
// context deadline; a returned error never aborts sibling channels.
type Sender interface {
	Channel() domain.Channel
	Send(ctx context.Context, user *userdomain.User, batch *domain.Batch) error
}

// ErrorKind classifies a send failure. Failed batches are not retried;
// the items are re-batched on the next dispatch tick because the
// watermark did not advance.
type ErrorKind string

const (
	KindAuthFailure        ErrorKind = "auth_failure"
	KindUnreachable        ErrorKind = "unreachable"
	KindRateLimited        ErrorKind = "rate_limited"
	KindInvalidDestination ErrorKind = "invalid_destination"
)

// SendError is a typed send failure for one channel.
type SendError struct {
	Kind    ErrorKind
	Channel domain.Channel
	Err     error
}

func (e *SendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Channel, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Channel, e.Kind)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

func newSendError(kind ErrorKind, ch domain.Channel, err error) *SendError {
	return &SendError{Kind: kind, Channel: ch, Err: err}
}
