// Package metrics counts processed queries by qtype and rcode.
package metrics

import (
	"context"

	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/semihalev/sinkdns/config"
	"github.com/semihalev/sinkdns/middleware"
)

// Metrics type
type Metrics struct {
	queries *prometheus.CounterVec
}

// New return new metrics
func New(cfg *config.Config) *Metrics {
	m := &Metrics{
		queries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dns_queries_total",
				Help: "How many DNS queries processed",
			},
			[]string{"qtype", "rcode"},
		),
	}

	if err := prometheus.Register(m.queries); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			m.queries = are.ExistingCollector.(*prometheus.CounterVec)
		}
	}

	return m
}

// (*Metrics).Name return middleware name
func (m *Metrics) Name() string { return name }

// (*Metrics).ServeDNS implements the Handler interface.
func (m *Metrics) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	ch.Next(ctx)

	if !ch.Writer.Written() || len(ch.Request.Question) == 0 {
		return
	}

	m.queries.With(prometheus.Labels{
		"qtype": dns.TypeToString[ch.Request.Question[0].Qtype],
		"rcode": dns.RcodeToString[ch.Writer.Rcode()],
	}).Inc()
}

const name = "metrics"
