// Package recovery keeps a panicking handler from taking the process down.
package recovery

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/miekg/dns"
	"github.com/semihalev/zlog/v2"

	"github.com/semihalev/sinkdns/config"
	"github.com/semihalev/sinkdns/middleware"
)

// Recovery dummy type.
type Recovery struct{}

// New return recovery.
func New(cfg *config.Config) *Recovery {
	return &Recovery{}
}

// (*Recovery).Name return middleware name.
func (r *Recovery) Name() string { return name }

// (*Recovery).ServeDNS implements the Handler interface.
func (r *Recovery) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	defer func() {
		if r := recover(); r != nil {
			ch.CancelWithRcode(dns.RcodeServerFailure, false)

			zlog.Error("Recovered in ServeDNS", "recover", r)

			_, _ = os.Stderr.WriteString(fmt.Sprintf("panic: %v\n\n", r))
			debug.PrintStack()
		}
	}()

	ch.Next(ctx)
}

const name = "recovery"
