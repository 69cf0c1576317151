package util

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_MsgID(t *testing.T) {
	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)
	req.Id = 0xbeef

	buf, err := req.Pack()
	require.NoError(t, err)

	id, ok := MsgID(buf)
	assert.True(t, ok)
	assert.Equal(t, uint16(0xbeef), id)

	SetMsgID(buf, 0x1234)

	id, ok = MsgID(buf)
	assert.True(t, ok)
	assert.Equal(t, uint16(0x1234), id)

	msg := new(dns.Msg)
	require.NoError(t, msg.Unpack(buf))
	assert.Equal(t, uint16(0x1234), msg.Id)

	_, ok = MsgID([]byte{0x01})
	assert.False(t, ok)

	// too short to rewrite, must not panic
	SetMsgID([]byte{0x01}, 42)
}

func Test_SetRcode(t *testing.T) {
	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)

	msg := SetRcode(req, dns.RcodeServerFailure, false)

	assert.Equal(t, req.Id, msg.Id)
	assert.Equal(t, dns.RcodeServerFailure, msg.Rcode)
	assert.True(t, msg.RecursionAvailable)
}

func Test_Truncate(t *testing.T) {
	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeTXT)

	resp := new(dns.Msg)
	resp.SetReply(req)

	for i := 0; i < 64; i++ {
		txt, err := dns.NewRR("example.com. 300 IN TXT \"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa\"")
		require.NoError(t, err)
		resp.Answer = append(resp.Answer, txt)
	}

	out := Truncate("udp", req, resp)
	assert.True(t, out.Len() <= dns.MinMsgSize)
	assert.True(t, out.Truncated)

	// tcp transports carry any size
	resp2 := resp.Copy()
	resp2.Truncated = false
	out = Truncate("tcp", req, resp2)
	assert.False(t, out.Truncated)
}

func Test_TruncateEDNS(t *testing.T) {
	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeTXT)
	req.SetEdns0(4096, false)

	resp := new(dns.Msg)
	resp.SetReply(req)

	txt, err := dns.NewRR("example.com. 300 IN TXT \"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa\"")
	require.NoError(t, err)
	for i := 0; i < 16; i++ {
		resp.Answer = append(resp.Answer, txt)
	}

	// fits the negotiated 4096, no truncation
	out := Truncate("udp", req, resp)
	assert.False(t, out.Truncated)
	assert.Len(t, out.Answer, 16)
}
