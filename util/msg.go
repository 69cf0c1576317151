// Package util provides DNS protocol utilities for sinkdns.
package util

import (
	"encoding/binary"

	"github.com/miekg/dns"
)

// MsgID reads the transaction id from a raw DNS message. The second return
// value is false when the buffer is too short to carry a header id.
func MsgID(buf []byte) (uint16, bool) {
	if len(buf) < 2 {
		return 0, false
	}

	return binary.BigEndian.Uint16(buf[:2]), true
}

// SetMsgID rewrites the transaction id of a raw DNS message in place. Used on
// the upstream send path to multiplex queries over a shared connection and on
// the receive path to restore the client's original id.
func SetMsgID(buf []byte, id uint16) {
	if len(buf) < 2 {
		return
	}

	binary.BigEndian.PutUint16(buf[:2], id)
}

// SetRcode returns a reply for req carrying the given rcode.
func SetRcode(req *dns.Msg, rcode int, do bool) *dns.Msg {
	m := new(dns.Msg)
	m.Extra = req.Extra
	m.SetRcode(req, rcode)
	m.RecursionAvailable = true
	m.RecursionDesired = true

	if opt := m.IsEdns0(); opt != nil {
		opt.SetDo(do)
	}

	return m
}

// Truncate fits resp to the reply size the client negotiated. Replies over
// TCP based transports pass through untouched. On UDP the limit is 512 octets
// unless the request carried an EDNS0 OPT with a larger buffer size; miekg's
// Truncate sets the TC bit when answers are dropped.
func Truncate(proto string, req, resp *dns.Msg) *dns.Msg {
	if proto != "udp" {
		return resp
	}

	size := dns.MinMsgSize
	if opt := req.IsEdns0(); opt != nil {
		if bufsize := int(opt.UDPSize()); bufsize > size {
			size = bufsize
		}
	}

	if resp.Len() > size {
		resp.Truncate(size)
	}

	return resp
}
