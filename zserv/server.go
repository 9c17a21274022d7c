// SPDX-License-Identifier: http://www.apache.org/licenses/LICENSE-2.0
/*
 *
 * Copyright (C) 2026 , Inc.
 *
 * Authors:
 *
 */

// Package zserv serves the SID registry to protocol daemons over a Unix
// socket. Every registry operation runs on one loop goroutine; connection
// goroutines only decode and encode messages.
package zserv

import (
	"context"
	"net"
	"os"
	"sort"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"srv6d/log"
	"srv6d/metrics"
	"srv6d/sid"
	"srv6d/zapi"
)

// DefaultSocket is where the daemon listens unless configured otherwise.
const DefaultSocket = "/var/run/srv6d/zserv.sock"

// ErrClosed is returned by Do once the server stopped.
var ErrClosed = errors.New("server closed")

const clientQueue = 256

type client struct {
	id    uint64
	conn  net.Conn
	owner sid.Owner
	hello bool
	out   chan zapi.Message
	gone  bool
}

type (
	joined   struct{ c *client }
	left     struct{ c *client }
	received struct {
		c *client
		m zapi.Message
	}
	command struct {
		fn   func(*sid.Registry) error
		errc chan error
	}
)

// Server owns a registry and the clients attached to it.
type Server struct {
	reg     *sid.Registry
	log     *zap.Logger
	metrics *metrics.Metrics

	events chan interface{}
	done   chan struct{}

	clients map[uint64]*client
	nextID  uint64
}

// New returns a server for reg. Once Serve runs, reg must only be mutated
// through Do.
func New(reg *sid.Registry, logger *zap.Logger, m *metrics.Metrics) *Server {
	s := &Server{
		reg:     reg,
		log:     log.OrNop(logger).Named("zserv"),
		metrics: m,
		events:  make(chan interface{}),
		done:    make(chan struct{}),
		clients: make(map[uint64]*client),
	}
	reg.Subscribe(sid.ObserverFunc(s.onRegistryEvent))
	return s
}

// Listen opens the Unix socket at path, removing a stale one.
func Listen(path string) (net.Listener, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "remove stale socket %s", path)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s", path)
	}
	return ln, nil
}

// Serve accepts clients on ln until ctx is cancelled. It closes ln and
// every client connection before returning.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.loop(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})
	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return errors.Wrap(err, "accept")
			}
			c := &client{conn: conn, out: make(chan zapi.Message, clientQueue)}
			if !s.post(ctx, joined{c}) {
				conn.Close()
				return nil
			}
			g.Go(func() error {
				s.write(c)
				return nil
			})
			g.Go(func() error {
				s.read(ctx, c)
				return nil
			})
		}
	})
	err := g.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Do runs fn on the loop goroutine and returns its error. Registry changes
// made by fn are broadcast to clients.
func (s *Server) Do(ctx context.Context, fn func(*sid.Registry) error) error {
	cmd := command{fn: fn, errc: make(chan error, 1)}
	select {
	case s.events <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
	select {
	case err := <-cmd.errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

func (s *Server) post(ctx context.Context, ev interface{}) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Server) loop(ctx context.Context) error {
	defer close(s.done)
	defer func() {
		for _, c := range s.sortedClients() {
			s.drop(c)
		}
	}()
	s.updateGauges()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-s.events:
			s.handle(ev)
		}
	}
}

func (s *Server) handle(ev interface{}) {
	switch ev := ev.(type) {
	case joined:
		s.nextID++
		ev.c.id = s.nextID
		s.clients[ev.c.id] = ev.c
		s.metrics.SetClients(len(s.clients))
		s.log.Debug("client connected", zap.Uint64("client", ev.c.id))
	case left:
		s.drop(ev.c)
	case received:
		if ev.c.gone {
			return
		}
		s.receive(ev.c, ev.m)
	case command:
		err := ev.fn(s.reg)
		s.updateGauges()
		ev.errc <- err
	}
}

func (s *Server) receive(c *client, m zapi.Message) {
	logger := s.log.With(zap.Uint64("client", c.id))
	logger.Debug("received", zap.String("type", zapi.TypeName(m.Type())), zap.Object("msg", m))

	switch m := m.(type) {
	case *zapi.Hello:
		c.owner = m.Owner
		c.hello = true
		logger.Info("client registered", zap.Stringer("owner", c.owner))
		s.replay(c)
	case *zapi.Function:
		if !c.hello {
			logger.Warn("function request before hello")
			return
		}
		if m.Delete {
			s.release(c, m)
		} else {
			s.allocate(c, m)
		}
	default:
		logger.Warn("unexpected message", zap.String("type", zapi.TypeName(m.Type())))
	}
}

func (s *Server) allocate(c *client, m *zapi.Function) {
	fn, err := s.reg.Allocate(m.Locator, m.Prefix, c.owner, m.RequestKey)
	s.metrics.Allocation(m.Locator, result(err))
	if err != nil {
		s.log.Warn("allocation failed",
			zap.Uint64("client", c.id), zap.Object("request", m), zap.Error(err))
		return
	}
	s.log.Info("function allocated",
		zap.String("locator", fn.Locator), zap.Stringer("prefix", fn.Prefix), zap.Stringer("owner", fn.Owner))
	s.updateGauges()
	s.broadcast(zapi.FunctionFrom(fn, false))
}

func (s *Server) release(c *client, m *zapi.Function) {
	fn, err := s.reg.Release(m.Locator, m.Prefix)
	s.metrics.Release(m.Locator, result(err))
	if err != nil {
		s.log.Warn("release failed",
			zap.Uint64("client", c.id), zap.Object("request", m), zap.Error(err))
		return
	}
	s.log.Info("function released",
		zap.String("locator", fn.Locator), zap.Stringer("prefix", fn.Prefix), zap.Stringer("owner", fn.Owner))
	s.updateGauges()
	s.broadcast(zapi.FunctionFrom(fn, true))
}

// replay sends the whole registry to a freshly registered client.
func (s *Server) replay(c *client) {
	for _, loc := range s.reg.Locators() {
		s.send(c, zapi.LocatorFrom(loc, false))
		fns, err := s.reg.Functions(loc.Name)
		if err != nil {
			continue
		}
		for _, fn := range fns {
			s.send(c, zapi.FunctionFrom(fn, false))
		}
	}
}

func (s *Server) onRegistryEvent(ev sid.Event) {
	switch ev.Kind {
	case sid.LocatorAdded, sid.LocatorUpdated:
		s.broadcast(zapi.LocatorFrom(ev.Locator, false))
	case sid.LocatorRemoved:
		s.broadcast(zapi.LocatorFrom(ev.Locator, true))
	case sid.FunctionInvalidated:
		s.broadcast(zapi.FunctionFrom(*ev.Function, true))
	}
}

func (s *Server) broadcast(m zapi.Message) {
	for _, c := range s.sortedClients() {
		if c.hello {
			s.send(c, m)
		}
	}
}

func (s *Server) send(c *client, m zapi.Message) {
	if c.gone {
		return
	}
	select {
	case c.out <- m:
	default:
		s.log.Warn("client queue full, disconnecting", zap.Uint64("client", c.id))
		s.drop(c)
	}
}

func (s *Server) drop(c *client) {
	if c.gone {
		return
	}
	c.gone = true
	delete(s.clients, c.id)
	close(c.out)
	c.conn.Close()
	s.metrics.SetClients(len(s.clients))
	s.log.Debug("client disconnected", zap.Uint64("client", c.id))
}

func (s *Server) sortedClients() []*client {
	out := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (s *Server) updateGauges() {
	if s.metrics == nil {
		return
	}
	locs := s.reg.Locators()
	n := 0
	for _, loc := range locs {
		fns, _ := s.reg.Functions(loc.Name)
		n += len(fns)
	}
	s.metrics.Registry(len(locs), n)
}

func (s *Server) read(ctx context.Context, c *client) {
	defer s.post(ctx, left{c})
	for {
		m, err := zapi.ReadMessage(c.conn)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				s.log.Debug("read", zap.Error(err))
			}
			return
		}
		if !s.post(ctx, received{c: c, m: m}) {
			return
		}
	}
}

func (s *Server) write(c *client) {
	failed := false
	for m := range c.out {
		if failed {
			continue
		}
		if err := zapi.WriteMessage(c.conn, m); err != nil {
			failed = true
			c.conn.Close()
		}
	}
}

func result(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, sid.ErrNotFound):
		return metrics.ResultNotFound
	case errors.Is(err, sid.ErrPrefixMismatch):
		return metrics.ResultMismatch
	case errors.Is(err, sid.ErrDuplicateFunction):
		return metrics.ResultDuplicate
	case errors.Is(err, sid.ErrExhausted):
		return metrics.ResultExhausted
	}
	return metrics.ResultError
}
