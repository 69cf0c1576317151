// Package middleware implements the query pipeline as an ordered chain of
// handlers. Every accepted query walks the chain once; a handler either
// writes the reply and cancels the rest of the chain or passes the query on.
package middleware

import (
	"context"
	"errors"
	"sync"

	"github.com/semihalev/zlog/v2"

	"github.com/semihalev/sinkdns/config"
)

// Handler interface
type Handler interface {
	Name() string
	ServeDNS(context.Context, *Chain)
}

type handler struct {
	name string
	new  func(*config.Config) Handler
}

type registry struct {
	mu sync.RWMutex

	handlers []handler
	chain    []Handler
	done     bool
}

var reg registry

// Register adds a middleware constructor. Registration order is chain order.
func Register(name string, new func(*config.Config) Handler) {
	zlog.Debug("Register middleware", "name", name)

	reg.mu.Lock()
	defer reg.mu.Unlock()

	reg.handlers = append(reg.handlers, handler{name: name, new: new})
}

// Setup constructs every registered middleware with the config.
func Setup(cfg *config.Config) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.done {
		return errors.New("setup already done")
	}

	for _, h := range reg.handlers {
		reg.chain = append(reg.chain, h.new(cfg))
	}

	reg.done = true

	return nil
}

// Handlers returns the constructed chain.
func Handlers() []Handler {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	return reg.chain
}

// Get returns a constructed handler by name, nil when absent.
func Get(name string) Handler {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	for _, h := range reg.chain {
		if h.Name() == name {
			return h
		}
	}

	return nil
}

// Clear drops all registrations. Test helper.
func Clear() {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	reg.handlers = nil
	reg.chain = nil
	reg.done = false
}
