package upstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_ParseShortcuts(t *testing.T) {
	tests := []struct {
		in     string
		proto  Proto
		addr   string
		domain string
	}{
		{"cloudflare", ProtoUDP, "1.1.1.1:53", ""},
		{"google", ProtoUDP, "8.8.8.8:53", ""},
		{"cloudflare:tls", ProtoTLS, "1.1.1.1:853", "cloudflare-dns.com"},
		{"google:tls", ProtoTLS, "8.8.8.8:853", "dns.google"},
		{"cloudflare:h2", ProtoH2, "1.1.1.1:443", "cloudflare-dns.com"},
		{"google:h2", ProtoH2, "8.8.8.8:443", "dns.google"},
		{"CloudFlare:H2", ProtoH2, "1.1.1.1:443", "cloudflare-dns.com"},
	}

	for _, tc := range tests {
		ep, err := Parse(tc.in)
		require.NoError(t, err, tc.in)

		assert.Equal(t, tc.proto, ep.Proto, tc.in)
		assert.Equal(t, tc.addr, ep.Addr(), tc.in)
		assert.Equal(t, tc.domain, ep.Domain, tc.in)
	}
}

func Test_ParseCustomUDP(t *testing.T) {
	ep, err := Parse("1.1.1.1")
	require.NoError(t, err)
	assert.Equal(t, ProtoUDP, ep.Proto)
	assert.Equal(t, "1.1.1.1:53", ep.Addr())

	ep, err = Parse("1.1.1.1:1053")
	require.NoError(t, err)
	assert.Equal(t, "1.1.1.1:1053", ep.Addr())

	ep, err = Parse("[2606:4700:4700::1111]")
	require.NoError(t, err)
	assert.Equal(t, ProtoUDP, ep.Proto)
	assert.Equal(t, "[2606:4700:4700::1111]:53", ep.Addr())

	ep, err = Parse("[2606:4700:4700::1111]:1053")
	require.NoError(t, err)
	assert.Equal(t, "[2606:4700:4700::1111]:1053", ep.Addr())
}

func Test_ParseCustomTLS(t *testing.T) {
	ep, err := Parse("1.1.1.1:tls:cloudflare-dns.com")
	require.NoError(t, err)
	assert.Equal(t, ProtoTLS, ep.Proto)
	assert.Equal(t, "1.1.1.1:853", ep.Addr())
	assert.Equal(t, "cloudflare-dns.com", ep.Domain)

	ep, err = Parse("1.1.1.1:1853:tls:cloudflare-dns.com")
	require.NoError(t, err)
	assert.Equal(t, "1.1.1.1:1853", ep.Addr())

	ep, err = Parse("[2606:4700:4700::1111]:tls:cloudflare-dns.com")
	require.NoError(t, err)
	assert.Equal(t, "[2606:4700:4700::1111]:853", ep.Addr())
}

func Test_ParseCustomH2(t *testing.T) {
	ep, err := Parse("8.8.8.8:h2:dns.google")
	require.NoError(t, err)
	assert.Equal(t, ProtoH2, ep.Proto)
	assert.Equal(t, "8.8.8.8:443", ep.Addr())
	assert.Equal(t, "dns.google", ep.Domain)

	ep, err = Parse("8.8.8.8:1443:h2:dns.google")
	require.NoError(t, err)
	assert.Equal(t, "8.8.8.8:1443", ep.Addr())
}

func Test_ParseErrors(t *testing.T) {
	// bare IPv6 without brackets, proto without domain, the impossible
	// addr:port:udp form and unknown protocols must all fail at parse time
	bad := []string{
		"",
		"example.com",
		"example.com:53",
		"256.255.254.253",
		"2606:4700:4700::1111",
		"[2606:4700:4700::1111",
		"1.1.1.1:0",
		"1.1.1.1:-53",
		"1.1.1.1:853:tls",
		"1.1.1.1:udp:example.org",
		"1.1.1.1:53:udp:example.org",
		"1.1.1.1:53:quic:example.org",
		"example.com:853:tls:cloudflare-dns.com",
	}

	for _, in := range bad {
		_, err := Parse(in)
		assert.Error(t, err, in)
	}
}
