package upstream

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/semihalev/zlog/v2"

	"github.com/semihalev/sinkdns/util"
)

const maxUDPReply = 4096

// udpClient speaks plain DNS over a single unconnected socket. Concurrent
// queries are multiplexed by transaction id; a lone reader goroutine wakes
// the waiter the id belongs to.
type udpClient struct {
	raddr   *net.UDPAddr
	conn    *net.UDPConn
	timeout time.Duration

	mu       sync.Mutex
	inflight map[uint16]chan []byte

	done chan struct{}
}

func newUDPClient(ep Endpoint, timeout time.Duration) (*udpClient, error) {
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, err
	}

	c := &udpClient{
		raddr:    &net.UDPAddr{IP: ep.IP, Port: ep.Port},
		conn:     conn,
		timeout:  timeout,
		inflight: make(map[uint16]chan []byte),
		done:     make(chan struct{}),
	}

	go c.read()

	return c, nil
}

// (*udpClient).Exchange sends the query with a fresh transaction id and waits
// for the matching reply. The reply is returned with the original id
// restored.
func (c *udpClient) Exchange(ctx context.Context, query []byte) ([]byte, error) {
	origID, ok := util.MsgID(query)
	if !ok {
		return nil, errors.New("query too short")
	}

	waiter := make(chan []byte, 1)

	id, err := c.register(waiter)
	if err != nil {
		return nil, err
	}

	util.SetMsgID(query, id)

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if _, err := c.conn.WriteToUDP(query, c.raddr); err != nil {
		c.unregister(id)
		return nil, errors.Join(ErrConnectionLost, err)
	}

	select {
	case reply := <-waiter:
		util.SetMsgID(reply, origID)
		return reply, nil

	case <-ctx.Done():
		c.unregister(id)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()

	case <-c.done:
		c.unregister(id)
		return nil, ErrConnectionLost
	}
}

// (*udpClient).register parks a waiter under a random unused id.
func (c *udpClient) register(waiter chan []byte) (uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for range 64 {
		id := dns.Id()
		if _, dup := c.inflight[id]; dup {
			continue
		}

		c.inflight[id] = waiter
		return id, nil
	}

	return 0, errors.New("transaction id space exhausted")
}

func (c *udpClient) unregister(id uint16) {
	c.mu.Lock()
	delete(c.inflight, id)
	c.mu.Unlock()
}

// (*udpClient).read demultiplexes incoming datagrams by transaction id.
// Datagrams from unexpected sources or with no parked waiter are dropped.
func (c *udpClient) read() {
	defer close(c.done)

	buf := make([]byte, maxUDPReply)

	for {
		n, addr, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}

			zlog.Debug("Upstream udp read failed", "error", err.Error())
			continue
		}

		if !addr.IP.Equal(c.raddr.IP) || addr.Port != c.raddr.Port {
			zlog.Debug("Upstream udp reply from unexpected source", "addr", addr.String())
			continue
		}

		id, ok := util.MsgID(buf[:n])
		if !ok {
			continue
		}

		c.mu.Lock()
		waiter, ok := c.inflight[id]
		if ok {
			delete(c.inflight, id)
		}
		c.mu.Unlock()

		if !ok {
			zlog.Debug("Upstream udp reply with unknown id", "id", id)
			continue
		}

		reply := make([]byte, n)
		copy(reply, buf[:n])
		waiter <- reply
	}
}

func (c *udpClient) Close() error {
	return c.conn.Close()
}
