package upstream

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/semihalev/zlog/v2"

	"github.com/semihalev/sinkdns/util"
)

const dotIdleTimeout = 30 * time.Second

// dotClient speaks DNS over a single TLS connection carrying length-prefixed
// messages. The connection is built lazily, shared by all in-flight queries
// and torn down on I/O errors or idleness; the next forward redials.
type dotClient struct {
	ep      Endpoint
	timeout time.Duration
	tlscfg  *tls.Config

	mu       sync.Mutex
	conn     *tls.Conn
	inflight map[uint16]chan []byte
	idle     *time.Timer
}

func newDotClient(ep Endpoint, timeout time.Duration) *dotClient {
	return &dotClient{
		ep:      ep,
		timeout: timeout,
		tlscfg: &tls.Config{
			ServerName: ep.Domain,
			MinVersion: tls.VersionTLS12,
		},
		inflight: make(map[uint16]chan []byte),
	}
}

// (*dotClient).Exchange forwards the query over the shared TLS connection,
// multiplexing by transaction id the same way the udp client does. A waiter
// whose channel closes without a reply lost its connection.
func (c *dotClient) Exchange(ctx context.Context, query []byte) ([]byte, error) {
	origID, ok := util.MsgID(query)
	if !ok {
		return nil, errors.New("query too short")
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	waiter := make(chan []byte, 1)

	id, err := c.send(query, waiter)
	if err != nil {
		return nil, errors.Join(ErrConnectionLost, err)
	}

	select {
	case reply, ok := <-waiter:
		if !ok {
			return nil, ErrConnectionLost
		}
		util.SetMsgID(reply, origID)
		return reply, nil

	case <-ctx.Done():
		c.unregister(id)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

// (*dotClient).send registers the waiter and writes the frame while holding
// the connection lock, so rebuilds and writes are serialized.
func (c *dotClient) send(query []byte, waiter chan []byte) (uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.connLocked()
	if err != nil {
		return 0, err
	}

	var id uint16
	for range 64 {
		id = dns.Id()
		if _, dup := c.inflight[id]; !dup {
			break
		}
	}
	if _, dup := c.inflight[id]; dup {
		return 0, errors.New("transaction id space exhausted")
	}

	util.SetMsgID(query, id)
	c.inflight[id] = waiter

	frame := make([]byte, 2+len(query))
	binary.BigEndian.PutUint16(frame, uint16(len(query)))
	copy(frame[2:], query)

	conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if _, err := conn.Write(frame); err != nil {
		delete(c.inflight, id)
		c.teardownLocked(conn)
		return 0, err
	}

	if c.idle != nil {
		c.idle.Reset(dotIdleTimeout)
	}

	return id, nil
}

// (*dotClient).connLocked returns the live connection, dialing when none
// exists. Callers hold c.mu.
func (c *dotClient) connLocked() (*tls.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}

	dialer := &net.Dialer{Timeout: c.timeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", c.ep.Addr(), c.tlscfg)
	if err != nil {
		return nil, err
	}

	zlog.Debug("Upstream tls connection established", "addr", c.ep.Addr(), "server", c.ep.Domain)

	c.conn = conn
	if c.idle == nil {
		c.idle = time.AfterFunc(dotIdleTimeout, c.dropIdle)
	} else {
		c.idle.Reset(dotIdleTimeout)
	}

	go c.read(conn)

	return conn, nil
}

// (*dotClient).read delivers length-prefixed replies to their waiters until
// the connection dies.
func (c *dotClient) read(conn *tls.Conn) {
	header := make([]byte, 2)

	for {
		conn.SetReadDeadline(time.Now().Add(2 * dotIdleTimeout))

		if _, err := io.ReadFull(conn, header); err != nil {
			c.teardown(conn, err)
			return
		}

		length := binary.BigEndian.Uint16(header)
		if length < 12 {
			c.teardown(conn, errors.New("short upstream frame"))
			return
		}

		reply := make([]byte, length)
		if _, err := io.ReadFull(conn, reply); err != nil {
			c.teardown(conn, err)
			return
		}

		id, _ := util.MsgID(reply)

		c.mu.Lock()
		waiter, ok := c.inflight[id]
		if ok {
			delete(c.inflight, id)
		}
		c.mu.Unlock()

		if !ok {
			zlog.Debug("Upstream tls reply with unknown id", "id", id)
			continue
		}

		waiter <- reply
	}
}

// (*dotClient).teardown drops the connection and fails every parked waiter.
func (c *dotClient) teardown(conn *tls.Conn, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == conn {
		zlog.Debug("Upstream tls connection lost", "addr", c.ep.Addr(), "error", err.Error())
	}

	c.teardownLocked(conn)
}

func (c *dotClient) teardownLocked(conn *tls.Conn) {
	conn.Close()

	if c.conn != conn {
		return
	}
	c.conn = nil

	for id, waiter := range c.inflight {
		close(waiter)
		delete(c.inflight, id)
	}
}

func (c *dotClient) unregister(id uint16) {
	c.mu.Lock()
	delete(c.inflight, id)
	c.mu.Unlock()
}

// (*dotClient).dropIdle closes the connection when nothing is in flight.
func (c *dotClient) dropIdle() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && len(c.inflight) == 0 {
		zlog.Debug("Upstream tls connection idle, closing", "addr", c.ep.Addr())
		c.conn.Close()
		c.conn = nil
	}
}

func (c *dotClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.idle != nil {
		c.idle.Stop()
	}

	if c.conn != nil {
		conn := c.conn
		c.teardownLocked(conn)
	}

	return nil
}
