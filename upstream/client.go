// Package upstream implements the resolver client side of sinkdns. A single
// configured endpoint is reached over plain UDP, DNS-over-TLS or
// DNS-over-HTTPS; queries and replies cross the package boundary as raw wire
// bytes so transaction id rewriting stays invisible to callers.
package upstream

import (
	"context"
	"errors"
	"time"
)

// Errors surfaced to the query pipeline. All of them turn into SERVFAIL
// replies there.
var (
	ErrTimeout        = errors.New("upstream query timeout")
	ErrConnectionLost = errors.New("upstream connection lost")
	ErrBadResponse    = errors.New("upstream bad response")
)

// Client forwards raw DNS queries to the upstream resolver. The reply carries
// the query's original transaction id regardless of any rewriting done on the
// wire. Implementations are safe for concurrent use.
type Client interface {
	Exchange(ctx context.Context, query []byte) ([]byte, error)
	Close() error
}

// NewClient returns the transport client for the endpoint.
func NewClient(ep Endpoint, timeout time.Duration) (Client, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	switch ep.Proto {
	case ProtoTLS:
		return newDotClient(ep, timeout), nil
	case ProtoH2:
		return newDohClient(ep, timeout), nil
	default:
		return newUDPClient(ep, timeout)
	}
}
