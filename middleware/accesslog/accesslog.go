// Package accesslog writes one line per answered query in a Common Log
// Format flavor, to the configured file.
package accesslog

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/semihalev/zlog/v2"

	"github.com/semihalev/sinkdns/config"
	"github.com/semihalev/sinkdns/middleware"
)

// AccessLog type
type AccessLog struct {
	logFile *os.File
}

// New returns a new AccessLog
func New(cfg *config.Config) *AccessLog {
	var logFile *os.File
	var err error

	if cfg.AccessLog != "" {
		logFile, err = os.OpenFile(cfg.AccessLog, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
		if err != nil {
			zlog.Error("Access log file open failed", "path", cfg.AccessLog, "error", err.Error())
		}
	}

	return &AccessLog{logFile: logFile}
}

// (*AccessLog).Name return middleware name
func (a *AccessLog) Name() string { return name }

// (*AccessLog).ServeDNS implements the Handler interface.
func (a *AccessLog) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	ch.Next(ctx)

	w := ch.Writer

	if a.logFile == nil || !w.Written() || w.Internal() {
		return
	}

	resp := w.Msg()

	var sb strings.Builder

	sb.WriteString(w.RemoteIP().String())
	sb.WriteString(" - [")
	sb.WriteString(time.Now().Format("02/Jan/2006:15:04:05 -0700"))
	sb.WriteString("] ")

	if len(ch.Request.Question) > 0 {
		q := ch.Request.Question[0]
		sb.WriteString(strings.ToLower(q.Name))
		sb.WriteString(" ")
		sb.WriteString(dns.TypeToString[q.Qtype])
	} else {
		sb.WriteString("- -")
	}

	sb.WriteString(" ")
	sb.WriteString(w.Proto())
	sb.WriteString(" ")
	sb.WriteString(dns.RcodeToString[resp.Rcode])
	sb.WriteString(" ")
	sb.WriteString(strconv.Itoa(resp.Len()))
	sb.WriteString("\n")

	if _, err := a.logFile.WriteString(sb.String()); err != nil {
		zlog.Warn("Access log write failed", "error", err.Error())
	}
}

// (*AccessLog).Close closes the log file.
func (a *AccessLog) Close() error {
	if a.logFile == nil {
		return nil
	}

	return a.logFile.Close()
}

const name = "accesslog"
