// Package zclient is the protocol daemon side of the SID manager
// connection. A Client registers with the server, requests and releases
// functions, and keeps a mirror of the locators and functions the server
// broadcasts.
package zclient

import (
	"context"
	"net"
	"net/netip"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"srv6d/log"
	"srv6d/sid"
	"srv6d/zapi"
)

var ErrClosed = errors.New("client closed")

// Handler is called from the client's read goroutine for every message
// after the mirror was updated.
type Handler func(zapi.Message)

type Option func(*Client)

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

func WithHandler(h Handler) Option {
	return func(c *Client) { c.handler = h }
}

// Client is a connection to the SID manager.
type Client struct {
	conn    net.Conn
	owner   sid.Owner
	log     *zap.Logger
	handler Handler

	wmu sync.Mutex

	mu        sync.Mutex
	locators  map[string]sid.Locator
	functions map[string]map[netip.Prefix]sid.Function
	changed   chan struct{}
	err       error
	done      chan struct{}
}

// Dial connects to the server at path and registers as owner.
func Dial(ctx context.Context, path string, owner sid.Owner, opts ...Option) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", path)
	}
	c := newClient(conn, owner, opts...)
	if err := c.write(&zapi.Hello{Owner: owner}); err != nil {
		conn.Close()
		return nil, err
	}
	go c.read()
	return c, nil
}

func newClient(conn net.Conn, owner sid.Owner, opts ...Option) *Client {
	c := &Client{
		conn:      conn,
		owner:     owner,
		locators:  make(map[string]sid.Locator),
		functions: make(map[string]map[netip.Prefix]sid.Function),
		changed:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.log = log.OrNop(c.log).Named("zclient")
	return c
}

// Owner is the identity the client registered with.
func (c *Client) Owner() sid.Owner {
	return c.owner
}

// RequestFunction asks the server for a function under locator. A zero
// prefix lets the server pick the address. The outcome arrives as a
// broadcast; see Allocate to wait for it.
func (c *Client) RequestFunction(locator string, prefix netip.Prefix, requestKey uint32) error {
	return c.write(&zapi.Function{Locator: locator, Prefix: prefix, Owner: c.owner, RequestKey: requestKey})
}

// ReleaseFunction asks the server to release a function.
func (c *Client) ReleaseFunction(locator string, prefix netip.Prefix, requestKey uint32) error {
	return c.write(&zapi.Function{Delete: true, Locator: locator, Prefix: prefix, Owner: c.owner, RequestKey: requestKey})
}

// Allocate requests a function with a non-zero requestKey and waits for
// the server to report it. The server does not report failures, so ctx
// bounds the wait.
func (c *Client) Allocate(ctx context.Context, locator string, prefix netip.Prefix, requestKey uint32) (sid.Function, error) {
	if requestKey == 0 {
		return sid.Function{}, errors.New("allocate needs a request key")
	}
	if err := c.RequestFunction(locator, prefix, requestKey); err != nil {
		return sid.Function{}, err
	}
	var fn sid.Function
	err := c.wait(ctx, func() bool {
		var ok bool
		fn, ok = c.functionByRequestKey(locator, requestKey)
		return ok
	})
	return fn, err
}

// Release releases a function and waits until the server reports it gone.
func (c *Client) Release(ctx context.Context, locator string, prefix netip.Prefix) error {
	if err := c.ReleaseFunction(locator, prefix, 0); err != nil {
		return err
	}
	return c.wait(ctx, func() bool {
		_, ok := c.functions[locator][prefix]
		return !ok
	})
}

// WaitLocator waits until the server announced locator.
func (c *Client) WaitLocator(ctx context.Context, name string) (sid.Locator, error) {
	var loc sid.Locator
	err := c.wait(ctx, func() bool {
		var ok bool
		loc, ok = c.locators[name]
		return ok
	})
	return loc, err
}

// wait blocks until cond, evaluated under c.mu after every change, holds.
func (c *Client) wait(ctx context.Context, cond func() bool) error {
	for {
		c.mu.Lock()
		ok := cond()
		changed, err := c.changed, c.err
		c.mu.Unlock()
		if ok {
			return nil
		}
		if err != nil {
			return err
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Locator returns an announced locator.
func (c *Client) Locator(name string) (sid.Locator, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	loc, ok := c.locators[name]
	return loc, ok
}

// Locators returns the announced locators ordered by name.
func (c *Client) Locators() []sid.Locator {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]sid.Locator, 0, len(c.locators))
	for _, loc := range c.locators {
		out = append(out, loc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Functions returns the functions of locator ordered by prefix.
func (c *Client) Functions(locator string) []sid.Function {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]sid.Function, 0, len(c.functions[locator]))
	for _, fn := range c.functions[locator] {
		out = append(out, fn)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Prefix.Addr().Less(out[j].Prefix.Addr())
	})
	return out
}

// FunctionByRequestKey finds the function this client requested with key.
func (c *Client) FunctionByRequestKey(locator string, key uint32) (sid.Function, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.functionByRequestKey(locator, key)
}

func (c *Client) functionByRequestKey(locator string, key uint32) (sid.Function, bool) {
	for _, fn := range c.functions[locator] {
		if fn.RequestKey == key && fn.Owner == c.owner {
			return fn, true
		}
	}
	return sid.Function{}, false
}

// Done is closed when the connection ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection ended.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close ends the connection and waits for the read goroutine.
func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.done
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (c *Client) write(m zapi.Message) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := zapi.WriteMessage(c.conn, m); err != nil {
		return errors.Wrapf(err, "send %s", zapi.TypeName(m.Type()))
	}
	return nil
}

func (c *Client) read() {
	defer close(c.done)
	for {
		m, err := zapi.ReadMessage(c.conn)
		if err != nil {
			c.mu.Lock()
			c.err = ErrClosed
			c.notifyLocked()
			c.mu.Unlock()
			c.log.Debug("connection ended", zap.Error(err))
			return
		}
		c.apply(m)
		if c.handler != nil {
			c.handler(m)
		}
	}
}

func (c *Client) apply(m zapi.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch m := m.(type) {
	case *zapi.Locator:
		if m.Delete {
			delete(c.locators, m.Name)
			delete(c.functions, m.Name)
		} else {
			c.locators[m.Name] = m.Locator()
		}
	case *zapi.Function:
		fns := c.functions[m.Locator]
		if m.Delete {
			delete(fns, m.Prefix)
			break
		}
		if fns == nil {
			fns = make(map[netip.Prefix]sid.Function)
			c.functions[m.Locator] = fns
		}
		fns[m.Prefix] = m.Function()
	default:
		c.log.Debug("ignored", zap.String("type", zapi.TypeName(m.Type())))
		return
	}
	c.notifyLocked()
}

func (c *Client) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}
