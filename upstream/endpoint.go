package upstream

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Proto is the transport used to reach the upstream resolver.
type Proto uint8

// Supported upstream transports.
const (
	ProtoUDP Proto = iota
	ProtoTLS
	ProtoH2
)

func (p Proto) String() string {
	switch p {
	case ProtoTLS:
		return "tls"
	case ProtoH2:
		return "h2"
	default:
		return "udp"
	}
}

// Endpoint describes the single upstream resolver. Domain carries the TLS
// server name for tls/h2 endpoints and is empty for udp.
type Endpoint struct {
	Proto  Proto
	IP     net.IP
	Port   int
	Domain string
}

// Addr returns the dialable socket address.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.IP.String(), strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	if e.Domain == "" {
		return e.Addr()
	}

	return e.Addr() + ":" + e.Proto.String() + ":" + e.Domain
}

// Well known resolver shortcuts.
var shortcuts = map[string]Endpoint{
	"cloudflare":     {Proto: ProtoUDP, IP: net.IPv4(1, 1, 1, 1), Port: 53},
	"google":         {Proto: ProtoUDP, IP: net.IPv4(8, 8, 8, 8), Port: 53},
	"cloudflare:tls": {Proto: ProtoTLS, IP: net.IPv4(1, 1, 1, 1), Port: 853, Domain: "cloudflare-dns.com"},
	"google:tls":     {Proto: ProtoTLS, IP: net.IPv4(8, 8, 8, 8), Port: 853, Domain: "dns.google"},
	"cloudflare:h2":  {Proto: ProtoH2, IP: net.IPv4(1, 1, 1, 1), Port: 443, Domain: "cloudflare-dns.com"},
	"google:h2":      {Proto: ProtoH2, IP: net.IPv4(8, 8, 8, 8), Port: 443, Domain: "dns.google"},
}

// Parse resolves an upstream endpoint string:
//
//	shortcut: cloudflare | google [ ":tls" | ":h2" ]
//	literal:  addr [ ":" port ] [ ":" proto ":" domain ]
//	addr:     IPv4 | "[" IPv6 "]"
//
// Missing ports default to 53, 853 and 443 for udp, tls and h2. The tls and
// h2 forms require a domain for certificate verification, the udp form
// forbids one.
func Parse(s string) (Endpoint, error) {
	s = strings.ToLower(strings.TrimSpace(s))

	if ep, ok := shortcuts[s]; ok {
		return ep, nil
	}

	host, rest, err := splitAddr(s)
	if err != nil {
		return Endpoint{}, err
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return Endpoint{}, fmt.Errorf("invalid upstream address %q", host)
	}

	ep := Endpoint{IP: ip}

	var port int
	var proto, domain string

	if rest != "" {
		parts := strings.SplitN(rest, ":", 3)

		if first, err := strconv.Atoi(parts[0]); err == nil {
			if first < 1 || first > 65535 {
				return Endpoint{}, fmt.Errorf("invalid upstream port %d", first)
			}
			port = first
			parts = parts[1:]
		}

		switch len(parts) {
		case 0:
		case 2:
			proto, domain = parts[0], parts[1]
		default:
			return Endpoint{}, fmt.Errorf("invalid upstream endpoint %q", s)
		}
	}

	switch proto {
	case "":
		ep.Proto = ProtoUDP
		ep.Port = 53
	case "tls":
		ep.Proto = ProtoTLS
		ep.Port = 853
	case "h2":
		ep.Proto = ProtoH2
		ep.Port = 443
	default:
		return Endpoint{}, fmt.Errorf("unsupported upstream protocol %q", proto)
	}

	if proto != "" && domain == "" {
		return Endpoint{}, fmt.Errorf("upstream protocol %s requires a domain", proto)
	}
	ep.Domain = domain

	if port != 0 {
		ep.Port = port
	}

	return ep, nil
}

// splitAddr splits the leading address from an endpoint string, handling the
// bracketed IPv6 form.
func splitAddr(s string) (host, rest string, err error) {
	if strings.HasPrefix(s, "[") {
		end := strings.Index(s, "]")
		if end < 0 {
			return "", "", fmt.Errorf("unterminated IPv6 address in %q", s)
		}

		host, rest = s[1:end], s[end+1:]
		rest = strings.TrimPrefix(rest, ":")
		return host, rest, nil
	}

	if idx := strings.Index(s, ":"); idx >= 0 {
		return s[:idx], s[idx+1:], nil
	}

	return s, "", nil
}
