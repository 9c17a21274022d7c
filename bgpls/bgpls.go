// SPDX-License-Identifier: http://www.apache.org/licenses/LICENSE-2.0
/*
 *
 * Copyright (C) 2026 , Inc.
 *
 * Authors:
 *
 */

// Package bgpls exports allocated SRv6 functions as BGP-LS link NLRI
// carrying an End.X SID.
package bgpls

import (
	"io"
	"net/netip"
	"sync"

	"github.com/osrg/gobgp/v4/pkg/packet/bgp"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"srv6d/log"
	"srv6d/sid"
	"srv6d/zapi"
)

const (
	DefaultASN = 65000
	// BehaviorEndX is the endpoint behavior advertised for every function.
	BehaviorEndX = 0x11
)

var ErrNotIPv4 = errors.New("router id must be an IPv4 address")

// Speaker describes the local end of the exported links.
type Speaker struct {
	ASN      uint32
	RouterID netip.Addr
}

func (s Speaker) descriptor(rid netip.Addr, typ bgp.LsTLVType) bgp.LsTLVNodeDescriptor {
	return bgp.NewLsTLVNodeDescriptor(&bgp.LsNodeDescriptor{
		Asn:         s.ASN,
		BGPRouterID: rid,
	}, typ)
}

// EndXUpdate builds an UPDATE announcing the link from the speaker to
// remote with the function's address as End.X SID.
func (s Speaker) EndXUpdate(fn sid.Function, remote netip.Addr, algorithm uint8) (*bgp.BGPMessage, error) {
	if !s.RouterID.Is4() {
		return nil, errors.Wrapf(ErrNotIPv4, "local %s", s.RouterID)
	}
	if !remote.Is4() {
		return nil, errors.Wrapf(ErrNotIPv4, "remote %s", remote)
	}
	localTLV := s.descriptor(s.RouterID, bgp.LS_TLV_LOCAL_NODE_DESC)
	remoteTLV := s.descriptor(remote, bgp.LS_TLV_REMOTE_NODE_DESC)
	link := &bgp.LsLinkNLRI{
		LocalNodeDesc:  &localTLV,
		RemoteNodeDesc: &remoteTLV,
		LinkDesc:       []bgp.LsTLVInterface{},
	}
	endX := bgp.NewLsTLVSrv6EndXSID(&bgp.LsSrv6EndXSID{
		EndpointBehavior: BehaviorEndX,
		Algorithm:        algorithm,
		SIDs:             []netip.Addr{fn.Prefix.Addr()},
	})
	if endX != nil {
		link.LinkDesc = append(link.LinkDesc, endX)
	}
	nlri := &bgp.LsAddrPrefix{
		Type: bgp.LS_NLRI_TYPE_LINK,
		NLRI: link,
	}
	attr, err := bgp.NewPathAttributeMpReachNLRI(bgp.RF_LS, []bgp.PathNLRI{{NLRI: nlri}}, s.RouterID)
	if err != nil {
		return nil, errors.Wrap(err, "mp_reach_nlri")
	}
	return bgp.NewBGPUpdateMessage(nil, []bgp.PathAttributeInterface{attr}, nil), nil
}

// Exporter turns function announcements from the SID manager into
// serialized BGP-LS updates written to w.
type Exporter struct {
	speaker Speaker
	remote  netip.Addr
	algo    map[string]uint8
	log     *zap.Logger

	mu   sync.Mutex
	w    io.Writer
	sent int
}

func NewExporter(s Speaker, remote netip.Addr, w io.Writer, logger *zap.Logger) *Exporter {
	return &Exporter{
		speaker: s,
		remote:  remote,
		algo:    make(map[string]uint8),
		w:       w,
		log:     log.OrNop(logger).Named("bgpls"),
	}
}

// Handle has the signature of a zclient handler. Locator announcements
// record the algorithm of their functions; function announcements are
// exported. Withdrawals are only logged.
func (e *Exporter) Handle(m zapi.Message) {
	switch m := m.(type) {
	case *zapi.Locator:
		e.mu.Lock()
		if m.Delete {
			delete(e.algo, m.Name)
		} else {
			e.algo[m.Name] = m.Algorithm
		}
		e.mu.Unlock()
	case *zapi.Function:
		if m.Delete {
			e.log.Debug("function withdrawn, not exported", zap.Object("function", m))
			return
		}
		if err := e.Export(m.Function()); err != nil {
			e.log.Warn("export failed", zap.Object("function", m), zap.Error(err))
		}
	}
}

// Export writes the update for fn.
func (e *Exporter) Export(fn sid.Function) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	msg, err := e.speaker.EndXUpdate(fn, e.remote, e.algo[fn.Locator])
	if err != nil {
		return err
	}
	data, err := msg.Serialize()
	if err != nil {
		return errors.Wrap(err, "serialize")
	}
	if _, err := e.w.Write(data); err != nil {
		return errors.Wrap(err, "write")
	}
	e.sent++
	e.log.Info("function exported",
		zap.String("locator", fn.Locator), zap.Stringer("sid", fn.Prefix.Addr()), zap.Int("bytes", len(data)))
	return nil
}

// Sent counts the updates written so far.
func (e *Exporter) Sent() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sent
}
