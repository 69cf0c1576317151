// Package accesslist drops queries from clients outside the configured CIDR
// ranges. An empty list allows everyone.
package accesslist

import (
	"context"
	"net"

	"github.com/semihalev/zlog/v2"
	"github.com/yl2chen/cidranger"

	"github.com/semihalev/sinkdns/config"
	"github.com/semihalev/sinkdns/middleware"
)

// AccessList type
type AccessList struct {
	ranger cidranger.Ranger
}

// New return accesslist
func New(cfg *config.Config) *AccessList {
	if len(cfg.AccessList) == 0 {
		return &AccessList{}
	}

	a := &AccessList{ranger: cidranger.NewPCTrieRanger()}

	for _, cidr := range cfg.AccessList {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			zlog.Error("Access list parse cidr failed", "cidr", cidr, "error", err.Error())
			continue
		}

		_ = a.ranger.Insert(cidranger.NewBasicRangerEntry(*ipnet))
	}

	return a
}

// (*AccessList).Name return middleware name
func (a *AccessList) Name() string { return name }

// (*AccessList).ServeDNS implements the Handler interface.
func (a *AccessList) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	if a.ranger == nil {
		ch.Next(ctx)
		return
	}

	allowed, _ := a.ranger.Contains(ch.Writer.RemoteIP())
	if !allowed {
		// no reply to the client
		ch.Cancel()
		return
	}

	ch.Next(ctx)
}

const name = "accesslist"
