package forwarder

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semihalev/sinkdns/config"
	"github.com/semihalev/sinkdns/middleware"
	"github.com/semihalev/sinkdns/mock"
	"github.com/semihalev/sinkdns/upstream"
)

type fakeClient struct {
	exchange func(ctx context.Context, query []byte) ([]byte, error)
}

func (f *fakeClient) Exchange(ctx context.Context, query []byte) ([]byte, error) {
	return f.exchange(ctx, query)
}

func (f *fakeClient) Close() error { return nil }

func serve(f *Forwarder, req *dns.Msg) *mock.Writer {
	ch := middleware.NewChain([]middleware.Handler{})

	mw := mock.NewWriter("udp", "127.0.0.1:0")
	ch.Writer = mw
	ch.Request = req

	f.ServeDNS(context.Background(), ch)

	return mw
}

func timeout(d time.Duration) config.Duration {
	return config.Duration{Duration: d}
}

func Test_ForwarderReply(t *testing.T) {
	client := &fakeClient{
		exchange: func(ctx context.Context, query []byte) ([]byte, error) {
			req := new(dns.Msg)
			if err := req.Unpack(query); err != nil {
				return nil, err
			}

			resp := new(dns.Msg)
			resp.SetReply(req)
			resp.Answer = append(resp.Answer, &dns.A{
				Hdr: dns.RR_Header{Name: req.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
				A:   net.IPv4(93, 184, 216, 34),
			})

			return resp.Pack()
		},
	}

	f := &Forwarder{client: client, timeout: timeout(time.Second)}

	req := new(dns.Msg)
	req.SetQuestion("example.org.", dns.TypeA)
	req.Id = 0x7777

	mw := serve(f, req)
	require.True(t, mw.Written())

	msg := mw.Msg()
	assert.Equal(t, uint16(0x7777), msg.Id)
	assert.Equal(t, dns.RcodeSuccess, msg.Rcode)
	require.Len(t, msg.Answer, 1)
}

func Test_ForwarderServfailOnError(t *testing.T) {
	for _, upstreamErr := range []error{upstream.ErrTimeout, upstream.ErrConnectionLost, upstream.ErrBadResponse} {
		client := &fakeClient{
			exchange: func(ctx context.Context, query []byte) ([]byte, error) {
				return nil, upstreamErr
			},
		}

		f := &Forwarder{client: client, timeout: timeout(time.Second)}

		req := new(dns.Msg)
		req.SetQuestion("example.org.", dns.TypeA)
		req.Id = 0x1234

		mw := serve(f, req)
		require.True(t, mw.Written())

		msg := mw.Msg()
		assert.Equal(t, dns.RcodeServerFailure, msg.Rcode)
		assert.Equal(t, uint16(0x1234), msg.Id)
	}
}

func Test_ForwarderDeadline(t *testing.T) {
	client := &fakeClient{
		exchange: func(ctx context.Context, query []byte) ([]byte, error) {
			deadline, ok := ctx.Deadline()
			if !ok {
				return nil, errors.New("no deadline on upstream context")
			}
			if time.Until(deadline) > time.Second {
				return nil, errors.New("deadline too far out")
			}
			return nil, upstream.ErrTimeout
		},
	}

	f := &Forwarder{client: client, timeout: timeout(500 * time.Millisecond)}

	req := new(dns.Msg)
	req.SetQuestion("example.org.", dns.TypeA)

	mw := serve(f, req)
	require.True(t, mw.Written())
	assert.Equal(t, dns.RcodeServerFailure, mw.Msg().Rcode)
}

func Test_ForwarderNoClient(t *testing.T) {
	cfg := new(config.Config)
	cfg.DNSServer = "definitely not an endpoint"
	cfg.QueryTimeout = timeout(time.Second)

	f := New(cfg)
	assert.Equal(t, "forwarder", f.Name())

	req := new(dns.Msg)
	req.SetQuestion("example.org.", dns.TypeA)

	mw := serve(f, req)
	require.True(t, mw.Written())
	assert.Equal(t, dns.RcodeServerFailure, mw.Msg().Rcode)
}

func Test_ForwarderRealEndpoint(t *testing.T) {
	cfg := new(config.Config)
	cfg.DNSServer = "127.0.0.1:1053"
	cfg.QueryTimeout = timeout(time.Second)

	f := New(cfg)
	require.NotNil(t, f.client)
	assert.NoError(t, f.Close())
}
