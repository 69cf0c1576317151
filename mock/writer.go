// Package mock provides a dns.ResponseWriter that captures the reply instead
// of writing it to a socket. The DoH front-end uses it to bridge HTTP handlers
// onto the DNS handler, tests use it to drive the middleware chain.
package mock

import (
	"net"

	"github.com/miekg/dns"
)

// Writer type
type Writer struct {
	msg *dns.Msg

	proto string

	localAddr  net.Addr
	remoteAddr net.Addr

	remoteip net.IP
}

// NewWriter returns a writer pretending to serve the given transport.
func NewWriter(proto, addr string) *Writer {
	w := &Writer{}

	switch proto {
	case "tcp", "tcp-tls", "doh":
		w.localAddr = &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 53}
		w.remoteAddr, _ = net.ResolveTCPAddr("tcp", addr)
		w.remoteip = w.remoteAddr.(*net.TCPAddr).IP
		w.proto = proto

	case "udp":
		w.localAddr = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 53}
		w.remoteAddr, _ = net.ResolveUDPAddr("udp", addr)
		w.remoteip = w.remoteAddr.(*net.UDPAddr).IP
		w.proto = "udp"
	}

	return w
}

// Rcode return message response code
func (w *Writer) Rcode() int {
	if w.msg == nil {
		return dns.RcodeServerFailure
	}

	return w.msg.Rcode
}

// Msg return the written dns message
func (w *Writer) Msg() *dns.Msg {
	return w.msg
}

// Write implements dns.ResponseWriter
func (w *Writer) Write(b []byte) (int, error) {
	w.msg = new(dns.Msg)
	if err := w.msg.Unpack(b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// WriteMsg implements dns.ResponseWriter
func (w *Writer) WriteMsg(msg *dns.Msg) error {
	w.msg = msg
	return nil
}

// Written reports whether a reply was captured
func (w *Writer) Written() bool {
	return w.msg != nil
}

// RemoteIP returns the client ip
func (w *Writer) RemoteIP() net.IP { return w.remoteip }

// Proto returns the pretended transport
func (w *Writer) Proto() string { return w.proto }

// Reset implements middleware.ResponseWriter
func (w *Writer) Reset(rw dns.ResponseWriter) {}

// Close implements dns.ResponseWriter
func (w *Writer) Close() error { return nil }

// Hijack implements dns.ResponseWriter
func (w *Writer) Hijack() {}

// LocalAddr implements dns.ResponseWriter
func (w *Writer) LocalAddr() net.Addr { return w.localAddr }

// RemoteAddr implements dns.ResponseWriter
func (w *Writer) RemoteAddr() net.Addr { return w.remoteAddr }

// TsigStatus implements dns.ResponseWriter
func (w *Writer) TsigStatus() error { return nil }

// TsigTimersOnly implements dns.ResponseWriter
func (w *Writer) TsigTimersOnly(ok bool) {}

// Internal reports whether the query originated inside the process
func (w *Writer) Internal() bool { return true }
