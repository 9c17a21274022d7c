// SPDX-License-Identifier: http://www.apache.org/licenses/LICENSE-2.0
/*
 *
 * Copyright (C) 2026 , Inc.
 *
 * Authors:
 *
 */

// Package lsdb holds the decoded view of an area's link-state database
// that the SRv6 components consume: per-router capability records with
// their Flex-Algorithm definitions, and the local links with their
// affinity.
package lsdb

import (
	"slices"
	"sort"
	"sync"

	"srv6d/affinity"
	"srv6d/spf"
)

// FAD is a decoded Flex-Algorithm Definition sub-TLV.
type FAD struct {
	Algorithm  uint8        `json:"algorithm"`
	MetricType uint8        `json:"metricType"`
	CalcType   uint8        `json:"calcType"`
	Priority   uint8        `json:"priority"`
	Exclude    affinity.Set `json:"exclude"`
	IncludeAny affinity.Set `json:"includeAny"`
	IncludeAll affinity.Set `json:"includeAll"`
	// MFlag requests the Flex-Algorithm prefix metric.
	MFlag bool `json:"mFlag"`
}

// Supported reports whether this node can compute paths for the
// definition. Only the IGP metric with SPF is implemented.
func (f FAD) Supported() bool {
	return f.MetricType == 0 && f.CalcType == 0
}

// RouterCap is the decoded Router Capability TLV.
type RouterCap struct {
	SRv6 bool  `json:"srv6"`
	FADs []FAD `json:"fads,omitempty"`
}

func (c *RouterCap) equal(o *RouterCap) bool {
	if c == nil || o == nil {
		return c == o
	}
	return c.SRv6 == o.SRv6 && slices.Equal(c.FADs, o.FADs)
}

// Entry is one router's link-state PDU at one level.
type Entry struct {
	SystemID SystemID   `json:"systemId"`
	Level    spf.Level  `json:"level"`
	Own      bool       `json:"own"`
	Cap      *RouterCap `json:"routerCap,omitempty"`
}

func (e *Entry) key() entryKey {
	return entryKey{level: e.Level, id: e.SystemID}
}

type entryKey struct {
	level spf.Level
	id    SystemID
}

// Link is a local link and the affinity it is configured with.
type Link struct {
	Name     string       `json:"name"`
	Affinity affinity.Set `json:"affinity"`
}

// Op says what an Update does.
type Op uint8

const (
	OpUpsert Op = iota
	OpPurge
	OpLinkSet
	OpLinkDelete
)

// Update is a change to the database, delivered by the flooding side.
type Update struct {
	Area  string `json:"area"`
	Op    Op     `json:"op"`
	Entry *Entry `json:"entry,omitempty"`
	Link  *Link  `json:"link,omitempty"`
}

// DB is an area's link-state database.
type DB struct {
	mu      sync.RWMutex
	entries map[entryKey]*Entry
	links   map[string]*Link
}

func New() *DB {
	return &DB{
		entries: make(map[entryKey]*Entry),
		links:   make(map[string]*Link),
	}
}

// Apply applies u and reports whether the database changed.
func (db *DB) Apply(u Update) bool {
	switch u.Op {
	case OpUpsert:
		if u.Entry == nil {
			return false
		}
		return db.Put(u.Entry)
	case OpPurge:
		if u.Entry == nil {
			return false
		}
		return db.Purge(u.Entry.Level, u.Entry.SystemID)
	case OpLinkSet:
		if u.Link == nil {
			return false
		}
		return db.SetLink(u.Link)
	case OpLinkDelete:
		if u.Link == nil {
			return false
		}
		return db.DeleteLink(u.Link.Name)
	}
	return false
}

// Put stores a copy of e, replacing the entry of the same level and system.
func (db *DB) Put(e *Entry) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	cp := *e
	if e.Cap != nil {
		rc := RouterCap{SRv6: e.Cap.SRv6, FADs: slices.Clone(e.Cap.FADs)}
		cp.Cap = &rc
	}
	cur, ok := db.entries[cp.key()]
	if ok && cur.Own == cp.Own && cur.Cap.equal(cp.Cap) {
		return false
	}
	db.entries[cp.key()] = &cp
	return true
}

// Purge removes the entry of system id at level.
func (db *DB) Purge(level spf.Level, id SystemID) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	k := entryKey{level: level, id: id}
	if _, ok := db.entries[k]; !ok {
		return false
	}
	delete(db.entries, k)
	return true
}

// Get returns the entry of system id at level.
func (db *DB) Get(level spf.Level, id SystemID) (*Entry, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	e, ok := db.entries[entryKey{level: level, id: id}]
	return e, ok
}

// Entries returns every entry, level 1 first, each level ordered by system
// id.
func (db *DB) Entries() []*Entry {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]*Entry, 0, len(db.entries))
	for _, e := range db.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level < out[j].Level
		}
		return out[i].SystemID.Compare(out[j].SystemID) < 0
	})
	return out
}

// ForEachRemote calls fn for every entry not originated by this router and
// carrying an SRv6-capable Router Capability, in Entries order.
func (db *DB) ForEachRemote(fn func(*Entry)) {
	for _, e := range db.Entries() {
		if e.Own || e.Cap == nil || !e.Cap.SRv6 {
			continue
		}
		fn(e)
	}
}

// SetLink stores a copy of l.
func (db *DB) SetLink(l *Link) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	if cur, ok := db.links[l.Name]; ok && *cur == *l {
		return false
	}
	cp := *l
	db.links[l.Name] = &cp
	return true
}

func (db *DB) DeleteLink(name string) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.links[name]; !ok {
		return false
	}
	delete(db.links, name)
	return true
}

func (db *DB) GetLink(name string) (*Link, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	l, ok := db.links[name]
	return l, ok
}

// Links returns the local links ordered by name.
func (db *DB) Links() []*Link {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]*Link, 0, len(db.links))
	for _, l := range db.links {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AffinitySets lists the affinity of every local link.
func (db *DB) AffinitySets() []affinity.Set {
	links := db.Links()
	out := make([]affinity.Set, 0, len(links))
	for _, l := range links {
		out = append(out, l.Affinity)
	}
	return out
}
