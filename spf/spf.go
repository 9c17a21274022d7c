// SPDX-License-Identifier: http://www.apache.org/licenses/LICENSE-2.0
/*
 *
 * Copyright (C) 2026 , Inc.
 *
 * Authors:
 *
 */

// Package spf owns the lifetime of per-algorithm shortest path trees. The
// path computation itself runs elsewhere; a Tree is the handle that
// computation writes into and that the flex-algo arbitrator allocates and
// releases.
package spf

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Level is an IS-IS routing level.
type Level uint8

const (
	Level1 Level = 1
	Level2 Level = 2
)

func (l Level) String() string {
	return fmt.Sprintf("level-%d", uint8(l))
}

// IsType is the set of levels an area runs, as a bitmask of 1<<(level-1).
type IsType uint8

const (
	IsLevel1  IsType = 1
	IsLevel2  IsType = 2
	IsLevel12 IsType = IsLevel1 | IsLevel2
)

var ErrInvalidIsType = errors.New("invalid is-type")

// ParseIsType accepts "level-1", "level-2" and "level-1-2".
func ParseIsType(s string) (IsType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "level-1", "l1":
		return IsLevel1, nil
	case "level-2", "level-2-only", "l2":
		return IsLevel2, nil
	case "level-1-2", "l1-2", "":
		return IsLevel12, nil
	}
	return 0, errors.Wrapf(ErrInvalidIsType, "%q", s)
}

// Has reports whether the area runs level l.
func (t IsType) Has(l Level) bool {
	return l >= Level1 && l <= Level2 && t&(1<<(l-1)) != 0
}

// Levels lists the levels of t in ascending order.
func (t IsType) Levels() []Level {
	var out []Level
	for _, l := range []Level{Level1, Level2} {
		if t.Has(l) {
			out = append(out, l)
		}
	}
	return out
}

func (t IsType) String() string {
	switch t {
	case IsLevel1:
		return "level-1"
	case IsLevel2:
		return "level-2"
	case IsLevel12:
		return "level-1-2"
	}
	return fmt.Sprintf("is-type(%d)", uint8(t))
}

// Tree is a shortest path tree for one algorithm at one level.
type Tree struct {
	ID        uint64
	Algorithm uint8
	Level     Level
	// Runs counts completed computations into the tree.
	Runs uint64
	// Stale is set when the tree needs to be recomputed.
	Stale bool

	released bool
}

// Released reports whether the tree was returned to its pool.
func (t *Tree) Released() bool {
	return t.released
}

func (t *Tree) String() string {
	return fmt.Sprintf("spf-tree[%d] algo %d %s", t.ID, t.Algorithm, t.Level)
}

// Pool hands out trees and tracks the live ones. It is not safe for
// concurrent use.
type Pool struct {
	next uint64
	live map[uint64]*Tree
}

func NewPool() *Pool {
	return &Pool{live: make(map[uint64]*Tree)}
}

// New allocates a stale tree for algorithm at level.
func (p *Pool) New(algorithm uint8, level Level) *Tree {
	p.next++
	t := &Tree{ID: p.next, Algorithm: algorithm, Level: level, Stale: true}
	p.live[t.ID] = t
	return t
}

// Release returns t to the pool. Releasing nil or an already released tree
// does nothing.
func (p *Pool) Release(t *Tree) {
	if t == nil || t.released {
		return
	}
	t.released = true
	delete(p.live, t.ID)
}

// Live is the number of trees not yet released.
func (p *Pool) Live() int {
	return len(p.live)
}

// Trees returns the live trees ordered by algorithm, level and id.
func (p *Pool) Trees() []*Tree {
	out := make([]*Tree, 0, len(p.live))
	for _, t := range p.live {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Algorithm != b.Algorithm {
			return a.Algorithm < b.Algorithm
		}
		if a.Level != b.Level {
			return a.Level < b.Level
		}
		return a.ID < b.ID
	})
	return out
}

// MarkStale flags every live tree for recomputation, as after a link-state
// database change.
func (p *Pool) MarkStale() {
	for _, t := range p.live {
		t.Stale = true
	}
}

// Compute runs fn over every stale live tree in Trees order and clears the
// flag of each tree fn succeeded on.
func (p *Pool) Compute(fn func(*Tree) error) error {
	for _, t := range p.Trees() {
		if !t.Stale {
			continue
		}
		if err := fn(t); err != nil {
			return errors.Wrapf(err, "%s", t)
		}
		t.Runs++
		t.Stale = false
	}
	return nil
}
