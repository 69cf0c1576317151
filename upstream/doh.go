package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/net/http2"

	"github.com/semihalev/sinkdns/util"
)

const mimeDNSMessage = "application/dns-message"

// dohClient speaks RFC 8484 DNS-over-HTTPS. One HTTP/2 connection is shared
// by all in-flight queries; stream concurrency is bounded by the peer's
// settings and excess queries wait inside the transport. Query ids go out as
// zero and are restored from the saved original on return.
type dohClient struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

func newDohClient(ep Endpoint, timeout time.Duration) *dohClient {
	tlscfg := &tls.Config{
		ServerName: ep.Domain,
		NextProtos: []string{"h2"},
		MinVersion: tls.VersionTLS12,
	}

	// The URL names the domain so the Host header and certificate check line
	// up, the dialer pins the configured socket address.
	transport := &http2.Transport{
		TLSClientConfig: tlscfg,
		DialTLSContext: func(ctx context.Context, network, addr string, cfg *tls.Config) (net.Conn, error) {
			dialer := &tls.Dialer{
				NetDialer: &net.Dialer{Timeout: timeout},
				Config:    cfg,
			}
			return dialer.DialContext(ctx, "tcp", ep.Addr())
		},
	}

	return &dohClient{
		url:     "https://" + ep.Domain + "/dns-query",
		timeout: timeout,
		client:  &http.Client{Transport: transport},
	}
}

// (*dohClient).Exchange posts the query per RFC 8484 §4.1 with the id
// rewritten to zero.
func (c *dohClient) Exchange(ctx context.Context, query []byte) ([]byte, error) {
	origID, ok := util.MsgID(query)
	if !ok {
		return nil, errors.New("query too short")
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	util.SetMsgID(query, 0)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(query))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", mimeDNSMessage)
	req.Header.Set("Accept", mimeDNSMessage)

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, errors.Join(ErrConnectionLost, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %s", ErrBadResponse, resp.Status)
	}

	if ct := resp.Header.Get("Content-Type"); ct != mimeDNSMessage {
		return nil, fmt.Errorf("%w: content-type %q", ErrBadResponse, ct)
	}

	reply, err := io.ReadAll(io.LimitReader(resp.Body, dns.MaxMsgSize))
	if err != nil {
		return nil, errors.Join(ErrConnectionLost, err)
	}

	if len(reply) < 12 {
		return nil, fmt.Errorf("%w: truncated body", ErrBadResponse)
	}

	util.SetMsgID(reply, origID)

	return reply, nil
}

// (*dohClient).Close drops the pooled HTTP/2 connection.
func (c *dohClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
