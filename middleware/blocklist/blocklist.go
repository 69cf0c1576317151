// Package blocklist answers blocked names locally instead of forwarding
// them. Two structures are built once at startup and never mutated: an exact
// name set and a zone trie blocking an apex with all of its descendants.
package blocklist

import (
	"context"
	"net"
	"strings"

	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/semihalev/zlog/v2"

	"github.com/semihalev/sinkdns/config"
	"github.com/semihalev/sinkdns/middleware"
	"github.com/semihalev/sinkdns/util"
)

const blockedTTL = 600

// BlockList type
type BlockList struct {
	exact map[string]struct{}
	zones *zoneNode

	sinkhole net.IP

	blocked prometheus.Counter
}

// New builds the engine from the configured files and inline lists.
func New(cfg *config.Config) *BlockList {
	b := &BlockList{
		exact:    make(map[string]struct{}),
		zones:    newZoneNode(),
		sinkhole: cfg.SinkholeIP(),
		blocked:  blockedCounter(),
	}

	for _, entry := range cfg.BlacklistDomains {
		b.add(entry, false)
	}
	for _, entry := range cfg.ZoneBlacklistDomains {
		b.add(entry, true)
	}

	if cfg.Blacklist != "" {
		if err := b.loadFile(cfg.Blacklist, false); err != nil {
			zlog.Error("Blacklist load failed", "path", cfg.Blacklist, "error", err.Error())
		}
	}

	if cfg.ZoneBlacklist != "" {
		if err := b.loadFile(cfg.ZoneBlacklist, true); err != nil {
			zlog.Error("Zone blacklist load failed", "path", cfg.ZoneBlacklist, "error", err.Error())
		}
	}

	zlog.Info("Blacklist engine ready", "exact", len(b.exact), "zones", b.zones.size())

	return b
}

func blockedCounter() prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dns_blocked_total",
		Help: "How many queries were answered from the blacklist",
	})

	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector.(prometheus.Counter)
		}
	}

	return c
}

// (*BlockList).Name return middleware name
func (b *BlockList) Name() string { return name }

// (*BlockList).Match reports whether the name is blocked, by zone suffix or
// exactly. Cost is bounded by the label count of the query name.
func (b *BlockList) Match(qname string) bool {
	name, err := normalize(qname)
	if err != nil {
		return false
	}

	if b.zones.match(name) {
		return true
	}

	_, ok := b.exact[name]

	return ok
}

// (*BlockList).ServeDNS implements the Handler interface. Non-QUERY opcodes
// and non-INET classes bypass the blacklist and forward as-is.
func (b *BlockList) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	w, req := ch.Writer, ch.Request

	if req.Opcode != dns.OpcodeQuery || len(req.Question) == 0 {
		ch.Next(ctx)
		return
	}

	q := req.Question[0]

	if q.Qclass != dns.ClassINET || !b.Match(q.Name) {
		ch.Next(ctx)
		return
	}

	zlog.Debug("Query blocked", "qname", strings.ToLower(q.Name), "qtype", dns.TypeToString[q.Qtype])
	b.blocked.Inc()

	msg := new(dns.Msg)
	msg.SetReply(req)
	msg.RecursionAvailable = true

	// Only A questions get the sinkhole record, AAAA and everything else get
	// an empty NOERROR.
	if b.sinkhole != nil && q.Qtype == dns.TypeA {
		msg.Answer = append(msg.Answer, &dns.A{
			Hdr: dns.RR_Header{
				Name:   q.Name,
				Rrtype: dns.TypeA,
				Class:  dns.ClassINET,
				Ttl:    blockedTTL,
			},
			A: b.sinkhole,
		})
	}

	_ = w.WriteMsg(util.Truncate(w.Proto(), req, msg))

	ch.Cancel()
}

const name = "blocklist"
