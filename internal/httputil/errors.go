package httputil

import (
	"context"
	"errors"
	"net"
)

// IsTimeout reports whether err came from a context deadline or a client
// timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
