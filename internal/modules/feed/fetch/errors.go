package fetch

import "fmt"

// ErrorKind classifies a fetch failure. The kind is recorded on the feed
// and the fetch is retried on the next poll tick; no kind is fatal.
type ErrorKind string

const (
	KindUnreachable       ErrorKind = "unreachable"
	KindTimeout           ErrorKind = "timeout"
	KindMalformedDocument ErrorKind = "malformed_document"
	KindUnsupportedFormat ErrorKind = "unsupported_format"
)

// Error is a typed fetch failure for one feed URL.
type Error struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.URL, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.URL)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, url string, err error) *Error {
	return &Error{Kind: kind, URL: url, Err: err}
}
