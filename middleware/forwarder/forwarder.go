// Package forwarder hands every query that reached the end of the chain to
// the upstream client and writes the reply back. Any upstream failure turns
// into SERVFAIL, never into a dropped process.
package forwarder

import (
	"context"

	"github.com/miekg/dns"
	"github.com/semihalev/zlog/v2"

	"github.com/semihalev/sinkdns/config"
	"github.com/semihalev/sinkdns/middleware"
	"github.com/semihalev/sinkdns/upstream"
	"github.com/semihalev/sinkdns/util"
)

// Forwarder type
type Forwarder struct {
	client  upstream.Client
	timeout config.Duration
}

// New return forwarder
func New(cfg *config.Config) *Forwarder {
	f := &Forwarder{timeout: cfg.QueryTimeout}

	ep, err := upstream.Parse(cfg.DNSServer)
	if err != nil {
		zlog.Error("Upstream endpoint is not correct. Check your config.", "server", cfg.DNSServer, "error", err.Error())
		return f
	}

	client, err := upstream.NewClient(ep, cfg.QueryTimeout.Duration)
	if err != nil {
		zlog.Error("Upstream client create failed", "server", ep.String(), "error", err.Error())
		return f
	}

	zlog.Info("Upstream resolver configured", "addr", ep.Addr(), "proto", ep.Proto.String())

	f.client = client

	return f
}

// (*Forwarder).Name return middleware name
func (f *Forwarder) Name() string { return name }

// (*Forwarder).ServeDNS implements the Handler interface.
func (f *Forwarder) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	w, req := ch.Writer, ch.Request

	if len(req.Question) == 0 || f.client == nil {
		ch.CancelWithRcode(dns.RcodeServerFailure, true)
		return
	}

	query, err := req.Pack()
	if err != nil {
		ch.CancelWithRcode(dns.RcodeServerFailure, true)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout.Duration)
	defer cancel()

	reply, err := f.client.Exchange(ctx, query)
	if err != nil {
		zlog.Warn("Forward query failed", "query", formatQuestion(req.Question[0]), "error", err.Error())
		ch.CancelWithRcode(dns.RcodeServerFailure, true)
		return
	}

	resp := new(dns.Msg)
	if err := resp.Unpack(reply); err != nil {
		zlog.Warn("Forward reply unpack failed", "query", formatQuestion(req.Question[0]), "error", err.Error())
		ch.CancelWithRcode(dns.RcodeServerFailure, true)
		return
	}

	_ = w.WriteMsg(util.Truncate(w.Proto(), req, resp))

	ch.Cancel()
}

// (*Forwarder).Close releases the upstream client.
func (f *Forwarder) Close() error {
	if f.client == nil {
		return nil
	}

	return f.client.Close()
}

func formatQuestion(q dns.Question) string {
	return dns.CanonicalName(q.Name) + " " + dns.ClassToString[q.Qclass] + " " + dns.TypeToString[q.Qtype]
}

const name = "forwarder"
