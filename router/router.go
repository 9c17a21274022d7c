// SPDX-License-Identifier: http://www.apache.org/licenses/LICENSE-2.0
/*
 *
 * Copyright (C) 2026 , Inc.
 *
 * Authors:
 *
 */

// Package router runs the per-area Flex-Algorithm state of an IS-IS
// instance on a single goroutine. Link-state updates, configuration
// commands and locator notifications are all applied there, and every
// change to an area's participating algorithms is reported as a
// Regeneration.
package router

import (
	"context"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"srv6d/affinity"
	"srv6d/log"
	"srv6d/lsdb"
	"srv6d/metrics"
	"srv6d/zapi"
)

// ErrStopped is returned by Do once the loop exited.
var ErrStopped = errors.New("router stopped")

// Regeneration asks the flooding side to re-originate the local LSP of an
// area with a new algorithm list.
type Regeneration struct {
	Area       string
	Algorithms [8]uint8
}

type Options struct {
	SystemID   lsdb.SystemID
	NamePolicy affinity.NamePolicy
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
	// SnapshotDir holds one LSDB snapshot per area. AddArea loads it and
	// Stop writes it back.
	SnapshotDir string
	// Buffer sizes the Updates and Regenerations channels.
	Buffer int
}

type command struct {
	fn   func(*State) error
	errc chan error
}

// Router owns the State and the loop goroutine.
type Router struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger
	dir    string

	Updates       chan lsdb.Update
	Regenerations chan Regeneration

	cmds  chan command
	state *State
	done  chan struct{}
}

// New returns a stopped router.
func New(opts Options) *Router {
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	logger := log.OrNop(opts.Logger).Named("router")
	return &Router{
		log:           logger,
		dir:           opts.SnapshotDir,
		Updates:       make(chan lsdb.Update, opts.Buffer),
		Regenerations: make(chan Regeneration, opts.Buffer),
		cmds:          make(chan command),
		state:         newState(opts, logger),
		done:          make(chan struct{}),
	}
}

// Start launches the loop. It stops when ctx is cancelled or Stop is
// called, and closes Regenerations on its way out.
func (r *Router) Start(ctx context.Context) {
	r.ctx, r.cancel = context.WithCancel(ctx)
	go r.eventLoop()
}

// Do runs fn on the loop goroutine. Areas whose algorithm list fn changed
// are sent on Regenerations right after fn returns, so a caller that does
// not drain Regenerations can block the loop.
func (r *Router) Do(ctx context.Context, fn func(*State) error) error {
	cmd := command{fn: fn, errc: make(chan error, 1)}
	select {
	case r.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return ErrStopped
	}
	select {
	case err := <-cmd.errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return ErrStopped
	}
}

// HandleLocator feeds a SID manager notification into the locator mirror.
// It has the signature of a zclient handler. Notifications arriving
// before Start are dropped.
func (r *Router) HandleLocator(m zapi.Message) {
	loc, ok := m.(*zapi.Locator)
	if !ok || r.ctx == nil {
		return
	}
	l := *loc
	fn := func(s *State) error {
		if l.Delete {
			s.withdraw(l.Name)
		} else {
			s.announce(l.Locator())
		}
		return nil
	}
	if err := r.Do(r.ctx, fn); err != nil {
		r.log.Debug("locator notification dropped", zap.String("locator", l.Name), zap.Error(err))
	}
}

// Stop cancels the loop, waits for it and saves the area snapshots.
func (r *Router) Stop() error {
	if r.cancel == nil {
		return nil
	}
	r.cancel()
	<-r.done
	if r.dir == "" {
		return nil
	}
	var err error
	for _, a := range r.state.Areas() {
		err = multierr.Append(err, lsdb.Save(snapshotFile(r.dir, a.Name), a.DB))
	}
	return err
}

func snapshotFile(dir, area string) string {
	return filepath.Join(dir, area+".json")
}

func (r *Router) eventLoop() {
	defer close(r.done)
	defer close(r.Regenerations)
	defer r.state.close()

	for {
		select {
		case <-r.ctx.Done():
			return
		case u, ok := <-r.Updates:
			if !ok {
				return
			}
			changed, err := r.state.apply(u)
			if err != nil {
				r.log.Warn("update dropped", zap.String("area", u.Area), zap.Error(err))
				continue
			}
			if changed {
				r.log.Debug("participation changed", zap.String("area", u.Area))
			}
		case cmd := <-r.cmds:
			cmd.errc <- cmd.fn(r.state)
		}
		if !r.emit() {
			return
		}
	}
}

func (r *Router) emit() bool {
	for _, regen := range r.state.flush() {
		select {
		case r.Regenerations <- regen:
		case <-r.ctx.Done():
			return false
		}
	}
	return true
}
