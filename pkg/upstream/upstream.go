package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrTransport is matched by every *TransportError.
var ErrTransport = errors.New("upstream transport failure")

// Upstream performs GET requests against an origin.
type Upstream interface {
	// Get sends one GET request to url. It does not retry. A nil error
	// means a status line was received and the whole body was read,
	// whatever the status code is.
	Get(ctx context.Context, url string) (*Response, error)

	io.Closer
}

type Response struct {
	StatusCode int
	Body       []byte
}

// TransportError is returned when no complete response could be obtained
// (dial, dns, tls, timeout, body read or body size failures).
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("get %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// ErrBodyTooLarge is wrapped in a TransportError when the body exceeds
// the configured limit.
var ErrBodyTooLarge = errors.New("response body too large")

// ReadBody reads at most limit bytes from r. limit <= 0 means no limit.
func ReadBody(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrBodyTooLarge, limit)
	}
	return b, nil
}
