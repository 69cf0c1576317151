// Package server binds the transport front-ends and feeds every accepted
// query through the middleware chain.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/semihalev/zlog/v2"
	"golang.org/x/net/http2"
	"golang.org/x/sync/errgroup"

	"github.com/semihalev/sinkdns/config"
	"github.com/semihalev/sinkdns/middleware"
	"github.com/semihalev/sinkdns/mock"
	"github.com/semihalev/sinkdns/server/doh"
)

const shutdownGrace = 5 * time.Second

// Server type
type Server struct {
	addr    string
	tlsAddr string
	dohAddr string
	metrics string

	workers int

	tlsEnabled bool
	h2Enabled  bool

	certManager *CertManager

	chainPool sync.Pool

	udpServers []*dns.Server
	tlsServer  *dns.Server
	dohServer  *http.Server
	metricsSrv *http.Server
}

// New return new server
func New(cfg *config.Config) *Server {
	s := &Server{
		addr:       cfg.UDPAddr(),
		tlsAddr:    cfg.TLSAddr(),
		dohAddr:    cfg.H2Addr(),
		metrics:    cfg.Metrics,
		workers:    cfg.Workers,
		tlsEnabled: cfg.TLS,
		h2Enabled:  cfg.H2,
	}

	if cfg.TLS || cfg.H2 {
		cm, err := NewCertManager(cfg.TLSCertificate, cfg.TLSPrivateKey)
		if err != nil {
			zlog.Error("TLS certificate load failed", "cert", cfg.TLSCertificate, "error", err.Error())
		} else {
			s.certManager = cm
		}
	}

	s.chainPool.New = func() interface{} {
		return middleware.NewChain(middleware.Handlers())
	}

	return s
}

// (*Server).ServeDNS implements the dns.Handler interface.
func (s *Server) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	ch := s.chainPool.Get().(*middleware.Chain)

	ch.Reset(w, r)

	ch.Next(context.Background())

	s.chainPool.Put(ch)
}

// (*Server).ServeHTTP implements the http.Handler interface for the DoH
// front-end.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/dns-query" {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	handle := func(req *dns.Msg) *dns.Msg {
		mw := mock.NewWriter("doh", r.RemoteAddr)
		s.ServeDNS(mw, req)

		if !mw.Written() {
			return nil
		}

		return mw.Msg()
	}

	doh.HandleWireFormat(handle)(w, r)
}

// (*Server).Run starts the configured listeners and blocks until the context
// is canceled or a listener fails. In-flight queries get a grace window on
// the way out.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < s.workers; i++ {
		srv := &dns.Server{
			Addr:          s.addr,
			Net:           "udp",
			Handler:       s,
			UDPSize:       dns.DefaultMsgSize,
			ReusePort:     true,
			MsgAcceptFunc: acceptMsg,
		}
		s.udpServers = append(s.udpServers, srv)

		g.Go(func() error { return srv.ListenAndServe() })
	}

	zlog.Info("DNS server listening...", "net", "udp", "addr", s.addr, "workers", s.workers)

	if s.tlsEnabled {
		if s.certManager == nil {
			return ErrNoCertificate
		}

		s.tlsServer = &dns.Server{
			Addr:          s.tlsAddr,
			Net:           "tcp-tls",
			Handler:       s,
			TLSConfig:     s.certManager.TLSConfig(),
			MaxTCPQueries: 2048,
			IdleTimeout:   func() time.Duration { return 30 * time.Second },
			MsgAcceptFunc: acceptMsg,
		}

		g.Go(func() error { return s.tlsServer.ListenAndServe() })

		zlog.Info("DNS server listening...", "net", "tcp-tls", "addr", s.tlsAddr)
	}

	if s.h2Enabled {
		if s.certManager == nil {
			return ErrNoCertificate
		}

		srv, err := s.buildDoH()
		if err != nil {
			return err
		}

		g.Go(func() error {
			if err := srv.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})

		zlog.Info("DNS server listening...", "net", "https", "addr", s.dohAddr)
	}

	if s.metrics != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())

		s.metricsSrv = &http.Server{Addr: s.metrics, Handler: mux, ReadTimeout: 30 * time.Second}

		g.Go(func() error {
			if err := s.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})

		zlog.Info("Metrics listening...", "addr", s.metrics)
	}

	g.Go(func() error {
		<-gctx.Done()
		s.shutdown()
		return nil
	})

	return g.Wait()
}

// (*Server).buildDoH prepares the DoH server with h2 enabled on its TLS
// config.
func (s *Server) buildDoH() (*http.Server, error) {
	tlscfg := s.certManager.TLSConfig()

	srv := &http.Server{
		Addr:         s.dohAddr,
		Handler:      s,
		TLSConfig:    tlscfg,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	if err := http2.ConfigureServer(srv, &http2.Server{}); err != nil {
		return nil, err
	}

	s.dohServer = srv

	return srv, nil
}

// (*Server).shutdown stops accepting, then drains with a grace window.
func (s *Server) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	for _, srv := range s.udpServers {
		_ = srv.ShutdownContext(ctx)
	}

	if s.tlsServer != nil {
		_ = s.tlsServer.ShutdownContext(ctx)
	}

	if s.dohServer != nil {
		_ = s.dohServer.Shutdown(ctx)
	}

	if s.metricsSrv != nil {
		_ = s.metricsSrv.Shutdown(ctx)
	}

	if s.certManager != nil {
		s.certManager.Stop()
	}

	zlog.Info("DNS server stopped")
}

// acceptMsg loosens the library default: non-QUERY opcodes are accepted and
// forwarded upstream unchanged instead of being answered with NOTIMP.
// Malformed headers still draw a FORMERR from the library.
func acceptMsg(dh dns.Header) dns.MsgAcceptAction {
	if isResponse := dh.Bits&(1<<15) != 0; isResponse {
		return dns.MsgIgnore
	}

	if dh.Qdcount != 1 {
		return dns.MsgReject
	}

	return dns.MsgAccept
}

// ErrNoCertificate is returned when a TLS front-end is requested without a
// loadable certificate.
var ErrNoCertificate = errors.New("tls listener requested without a certificate")
