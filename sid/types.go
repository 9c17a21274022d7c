// SPDX-License-Identifier: http://www.apache.org/licenses/LICENSE-2.0
/*
 *
 * Copyright (C) 2026 , Inc.
 *
 * Authors:
 *
 */

// Package sid owns the SRv6 SID address space of a node: named locator
// prefixes, the functions carved out of them, and the allocator that picks
// unused function addresses.
package sid

import (
	"fmt"
	"net/netip"

	"go4.org/netipx"
)

const (
	// MaxNameLen bounds locator names.
	MaxNameLen = 255

	MinFunctionBits = 8
	MaxFunctionBits = 64
)

// Proto identifies the protocol client owning a function.
type Proto uint8

const (
	ProtoUnknown Proto = iota
	ProtoStatic
	ProtoISIS
	ProtoBGP
	ProtoOther Proto = 0xff
)

// ProtoFromWire maps a wire value onto the closed set of protocols. Values
// that do not name a known protocol become ProtoOther.
func ProtoFromWire(v uint8) Proto {
	switch p := Proto(v); p {
	case ProtoUnknown, ProtoStatic, ProtoISIS, ProtoBGP:
		return p
	}
	return ProtoOther
}

func (p Proto) String() string {
	switch p {
	case ProtoUnknown:
		return "unknown"
	case ProtoStatic:
		return "static"
	case ProtoISIS:
		return "isis"
	case ProtoBGP:
		return "bgp"
	}
	return "other"
}

// Owner tags a function with the client that requested it.
type Owner struct {
	Proto    Proto  `json:"proto"`
	Instance uint16 `json:"instance"`
}

func (o Owner) String() string {
	return fmt.Sprintf("%s[%d]", o.Proto, o.Instance)
}

// Locator is a named prefix block from which functions are allocated.
type Locator struct {
	Name         string       `json:"name"`
	Prefix       netip.Prefix `json:"prefix"`
	FunctionBits uint8        `json:"functionBits"`
	// Algorithm is the SR algorithm the locator is bound to, 0 for SPF.
	Algorithm uint8 `json:"algorithm"`
	// Cursor is the last function value handed out by the allocator.
	Cursor uint64 `json:"cursor"`
}

// FunctionPrefixLen is the prefix length of every function carved from l.
func (l Locator) FunctionPrefixLen() int {
	return l.Prefix.Bits() + int(l.FunctionBits)
}

// Contains reports whether p is a well-formed function prefix of l, its
// whole address range inside the locator's.
func (l Locator) Contains(p netip.Prefix) bool {
	if !p.IsValid() || !p.Addr().Is6() || p.Bits() != l.FunctionPrefixLen() || p.Masked() != p {
		return false
	}
	outer, fn := netipx.RangeOfPrefix(l.Prefix), netipx.RangeOfPrefix(p)
	return outer.Contains(fn.From()) && outer.Contains(fn.To())
}

// Function is an allocated SID.
type Function struct {
	Locator    string       `json:"locator"`
	Prefix     netip.Prefix `json:"prefix"`
	Owner      Owner        `json:"owner"`
	RequestKey uint32       `json:"requestKey"`
}

// IsZeroPrefix reports whether p is the sentinel asking the allocator to
// pick the function address.
func IsZeroPrefix(p netip.Prefix) bool {
	return !p.IsValid() || p == netip.PrefixFrom(netip.IPv6Unspecified(), 0)
}
