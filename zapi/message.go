// SPDX-License-Identifier: http://www.apache.org/licenses/LICENSE-2.0
/*
 *
 * Copyright (C) 2026 , Inc.
 *
 * Authors:
 *
 */

// Package zapi is the message set spoken between the SID manager and the
// protocol daemons that request SIDs from it. Every message is a TLV: a
// 2-byte type, a 2-byte body length and the body.
package zapi

import (
	"encoding/binary"
	"net/netip"

	"github.com/nttcom/pola/pkg/packet/pcep"
	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"

	"srv6d/sid"
)

const (
	MsgHello          pcep.TLVType = 0x0001
	MsgLocatorAdd     pcep.TLVType = 0x0010
	MsgLocatorDelete  pcep.TLVType = 0x0011
	MsgFunctionAdd    pcep.TLVType = 0x0012
	MsgFunctionDelete pcep.TLVType = 0x0013
)

// PrefixLen is the encoded size of a prefix: its length then 16 address
// bytes.
const PrefixLen = 17

var (
	ErrShortMessage = errors.New("short message")
	ErrUnknownType  = errors.New("unknown message type")
	ErrBadPrefix    = errors.New("bad prefix")
)

// Message is one protocol message.
type Message interface {
	DecodeFromBytes(data []byte) error
	Serialize() []byte
	MarshalLogObject(enc zapcore.ObjectEncoder) error
	Type() pcep.TLVType
	Len() uint16
}

func header(t pcep.TLVType, bodyLen int) []byte {
	buf := make([]byte, pcep.TLVHeaderLength, int(pcep.TLVHeaderLength)+bodyLen)
	binary.BigEndian.PutUint16(buf[0:2], uint16(t))
	binary.BigEndian.PutUint16(buf[2:4], uint16(bodyLen))
	return buf
}

func putName(buf []byte, name string) []byte {
	buf = append(buf, byte(len(name)))
	return append(buf, name...)
}

func getName(data []byte) (string, []byte, error) {
	if len(data) < 1 || len(data) < 1+int(data[0]) {
		return "", nil, errors.Wrap(ErrShortMessage, "name")
	}
	n := int(data[0])
	return string(data[1 : 1+n]), data[1+n:], nil
}

func putPrefix(buf []byte, p netip.Prefix) []byte {
	if sid.IsZeroPrefix(p) {
		return append(buf, make([]byte, PrefixLen)...)
	}
	a := p.Addr().As16()
	buf = append(buf, byte(p.Bits()))
	return append(buf, a[:]...)
}

func getPrefix(data []byte) (netip.Prefix, []byte, error) {
	if len(data) < PrefixLen {
		return netip.Prefix{}, nil, errors.Wrap(ErrShortMessage, "prefix")
	}
	bits := int(data[0])
	if bits > 128 {
		return netip.Prefix{}, nil, errors.Wrapf(ErrBadPrefix, "length %d", bits)
	}
	var a [16]byte
	copy(a[:], data[1:PrefixLen])
	return netip.PrefixFrom(netip.AddrFrom16(a), bits), data[PrefixLen:], nil
}

// Hello registers a client with the server.
type Hello struct {
	Owner sid.Owner
}

func (m *Hello) DecodeFromBytes(data []byte) error {
	if len(data) < 3 {
		return errors.Wrap(ErrShortMessage, "hello")
	}
	m.Owner.Proto = sid.ProtoFromWire(data[0])
	m.Owner.Instance = binary.BigEndian.Uint16(data[1:3])
	return nil
}

func (m *Hello) Serialize() []byte {
	buf := header(m.Type(), 3)
	buf = append(buf, byte(m.Owner.Proto))
	return binary.BigEndian.AppendUint16(buf, m.Owner.Instance)
}

func (m *Hello) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("proto", m.Owner.Proto.String())
	enc.AddUint16("instance", m.Owner.Instance)
	return nil
}

func (m *Hello) Type() pcep.TLVType { return MsgHello }

func (m *Hello) Len() uint16 { return pcep.TLVHeaderLength + 3 }

// Locator announces or withdraws a locator. Its type is MsgLocatorAdd or
// MsgLocatorDelete.
type Locator struct {
	Delete       bool
	Name         string
	Prefix       netip.Prefix
	FunctionBits uint8
	Algorithm    uint8
}

// LocatorFrom builds the announcement of loc.
func LocatorFrom(loc sid.Locator, del bool) *Locator {
	return &Locator{
		Delete:       del,
		Name:         loc.Name,
		Prefix:       loc.Prefix,
		FunctionBits: loc.FunctionBits,
		Algorithm:    loc.Algorithm,
	}
}

// Locator converts m back into a registry locator.
func (m *Locator) Locator() sid.Locator {
	return sid.Locator{
		Name:         m.Name,
		Prefix:       m.Prefix,
		FunctionBits: m.FunctionBits,
		Algorithm:    m.Algorithm,
	}
}

func (m *Locator) body() int {
	return 1 + len(m.Name) + PrefixLen + 2
}

func (m *Locator) DecodeFromBytes(data []byte) error {
	var err error
	if m.Name, data, err = getName(data); err != nil {
		return err
	}
	if m.Prefix, data, err = getPrefix(data); err != nil {
		return err
	}
	if len(data) < 2 {
		return errors.Wrap(ErrShortMessage, "locator")
	}
	m.FunctionBits = data[0]
	m.Algorithm = data[1]
	return nil
}

func (m *Locator) Serialize() []byte {
	buf := header(m.Type(), m.body())
	buf = putName(buf, m.Name)
	buf = putPrefix(buf, m.Prefix)
	return append(buf, m.FunctionBits, m.Algorithm)
}

func (m *Locator) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("name", m.Name)
	enc.AddString("prefix", m.Prefix.String())
	enc.AddUint8("functionBits", m.FunctionBits)
	enc.AddUint8("algorithm", m.Algorithm)
	return nil
}

func (m *Locator) Type() pcep.TLVType {
	if m.Delete {
		return MsgLocatorDelete
	}
	return MsgLocatorAdd
}

func (m *Locator) Len() uint16 { return pcep.TLVHeaderLength + uint16(m.body()) }

// Function requests or reports a function. Clients send MsgFunctionAdd to
// allocate, with a zero prefix to let the server pick the address, and
// MsgFunctionDelete to release. The server broadcasts the same types
// once the registry changed.
type Function struct {
	Delete     bool
	Locator    string
	Prefix     netip.Prefix
	Owner      sid.Owner
	RequestKey uint32
}

// FunctionFrom builds the report of fn.
func FunctionFrom(fn sid.Function, del bool) *Function {
	return &Function{
		Delete:     del,
		Locator:    fn.Locator,
		Prefix:     fn.Prefix,
		Owner:      fn.Owner,
		RequestKey: fn.RequestKey,
	}
}

// Function converts m back into a registry function.
func (m *Function) Function() sid.Function {
	return sid.Function{
		Locator:    m.Locator,
		Prefix:     m.Prefix,
		Owner:      m.Owner,
		RequestKey: m.RequestKey,
	}
}

func (m *Function) body() int {
	return 1 + len(m.Locator) + PrefixLen + 1 + 2 + 4
}

func (m *Function) DecodeFromBytes(data []byte) error {
	var err error
	if m.Locator, data, err = getName(data); err != nil {
		return err
	}
	if m.Prefix, data, err = getPrefix(data); err != nil {
		return err
	}
	if len(data) < 7 {
		return errors.Wrap(ErrShortMessage, "function")
	}
	m.Owner.Proto = sid.ProtoFromWire(data[0])
	m.Owner.Instance = binary.BigEndian.Uint16(data[1:3])
	m.RequestKey = binary.BigEndian.Uint32(data[3:7])
	return nil
}

func (m *Function) Serialize() []byte {
	buf := header(m.Type(), m.body())
	buf = putName(buf, m.Locator)
	buf = putPrefix(buf, m.Prefix)
	buf = append(buf, byte(m.Owner.Proto))
	buf = binary.BigEndian.AppendUint16(buf, m.Owner.Instance)
	return binary.BigEndian.AppendUint32(buf, m.RequestKey)
}

func (m *Function) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("locator", m.Locator)
	enc.AddString("prefix", m.Prefix.String())
	enc.AddString("owner", m.Owner.String())
	enc.AddUint32("requestKey", m.RequestKey)
	return nil
}

func (m *Function) Type() pcep.TLVType {
	if m.Delete {
		return MsgFunctionDelete
	}
	return MsgFunctionAdd
}

func (m *Function) Len() uint16 { return pcep.TLVHeaderLength + uint16(m.body()) }
