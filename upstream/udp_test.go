package upstream

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeUDPUpstream answers every A query with 192.0.2.1, echoing the wire id.
func fakeUDPUpstream(t *testing.T) *net.UDPAddr {
	t.Helper()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 4096)
		for {
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}

			req := new(dns.Msg)
			if err := req.Unpack(buf[:n]); err != nil {
				continue
			}

			resp := new(dns.Msg)
			resp.SetReply(req)
			resp.Answer = append(resp.Answer, &dns.A{
				Hdr: dns.RR_Header{Name: req.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
				A:   net.IPv4(192, 0, 2, 1),
			})

			out, err := resp.Pack()
			if err != nil {
				continue
			}

			_, _ = conn.WriteToUDP(out, addr)
		}
	}()

	return conn.LocalAddr().(*net.UDPAddr)
}

func Test_UDPExchange(t *testing.T) {
	addr := fakeUDPUpstream(t)

	c, err := newUDPClient(Endpoint{Proto: ProtoUDP, IP: addr.IP, Port: addr.Port}, 2*time.Second)
	require.NoError(t, err)
	defer c.Close()

	req := new(dns.Msg)
	req.SetQuestion("example.org.", dns.TypeA)
	req.Id = 0xabcd

	query, err := req.Pack()
	require.NoError(t, err)

	reply, err := c.Exchange(context.Background(), query)
	require.NoError(t, err)

	resp := new(dns.Msg)
	require.NoError(t, resp.Unpack(reply))

	assert.Equal(t, uint16(0xabcd), resp.Id)
	require.Len(t, resp.Answer, 1)
	assert.Equal(t, "192.0.2.1", resp.Answer[0].(*dns.A).A.String())

	c.mu.Lock()
	assert.Empty(t, c.inflight)
	c.mu.Unlock()
}

func Test_UDPExchangeConcurrent(t *testing.T) {
	addr := fakeUDPUpstream(t)

	c, err := newUDPClient(Endpoint{Proto: ProtoUDP, IP: addr.IP, Port: addr.Port}, 2*time.Second)
	require.NoError(t, err)
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)

		go func(id uint16) {
			defer wg.Done()

			req := new(dns.Msg)
			req.SetQuestion("example.org.", dns.TypeA)
			req.Id = id

			query, err := req.Pack()
			if !assert.NoError(t, err) {
				return
			}

			reply, err := c.Exchange(context.Background(), query)
			if !assert.NoError(t, err) {
				return
			}

			resp := new(dns.Msg)
			if !assert.NoError(t, resp.Unpack(reply)) {
				return
			}

			assert.Equal(t, id, resp.Id)
		}(uint16(i + 1000))
	}

	wg.Wait()

	c.mu.Lock()
	assert.Empty(t, c.inflight)
	c.mu.Unlock()
}

func Test_UDPExchangeTimeout(t *testing.T) {
	// a black hole, nothing ever answers
	hole, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer hole.Close()

	addr := hole.LocalAddr().(*net.UDPAddr)

	c, err := newUDPClient(Endpoint{Proto: ProtoUDP, IP: addr.IP, Port: addr.Port}, 100*time.Millisecond)
	require.NoError(t, err)
	defer c.Close()

	req := new(dns.Msg)
	req.SetQuestion("example.org.", dns.TypeA)

	query, err := req.Pack()
	require.NoError(t, err)

	_, err = c.Exchange(context.Background(), query)
	assert.ErrorIs(t, err, ErrTimeout)

	// the id must be reclaimed after the waiter gives up
	c.mu.Lock()
	assert.Empty(t, c.inflight)
	c.mu.Unlock()
}
