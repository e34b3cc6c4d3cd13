/*
 * VC5 load balancer. Copyright (C) 2021-present David Coles
 *
 * This program is free software; you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation; either version 2 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License along
 * with this program; if not, write to the Free Software Foundation, Inc.,
 * 51 Franklin Street, Fifth Floor, Boston, MA 02110-1301 USA.
 */

package session

import (
	"fmt"
	"net/netip"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/routeflow/bgpd/bgp"
	"github.com/routeflow/bgpd/rib"
	"github.com/routeflow/bgpd/sink"
)

// FSM states, named exactly as the teacher's session.go constants.
const (
	IDLE         = "IDLE"
	ACTIVE       = "ACTIVE"
	CONNECT      = "CONNECT"
	OPEN_SENT    = "OPEN_SENT"
	OPEN_CONFIRM = "OPEN_CONFIRM"
	ESTABLISHED  = "ESTABLISHED"
)

// maxBacklog bounds how far the outbound UPDATE pump may get ahead of the
// writer goroutine before it stops pulling more groups from the RIB
// (spec.md §4.4/§6).
const maxBacklog = bgp.MaxBacklog

// Status is the externally observable snapshot of one peer's session,
// refreshed under Peer.mutex exactly like the teacher's Session.Status().
type Status struct {
	State       string        `json:"state"`
	When        time.Time     `json:"when"`
	Duration    time.Duration `json:"duration_s"`
	Attempts    uint64        `json:"connection_attempts"`
	Connections uint64        `json:"successful_connections"`
	Established uint64        `json:"established_sessions"`
	LastError   string        `json:"last_error"`
	HoldTime    uint16        `json:"hold_time"`
	LocalASN    uint32        `json:"local_asn"`
	RemoteASN   uint32        `json:"remote_asn"`
	LocalIP     string        `json:"local_ip"`
}

// Config is the per-neighbor configuration a Peer runs with.
type Config struct {
	LocalAS    uint32
	RouterID   netip.Addr
	PeerAddr   string
	PeerAS     uint32 // 0 = accept any
	HoldTime   uint16
	LocalAddr  netip.Addr
	MD5Key     string
	TTLSecure  int // GTSM: required minimum TTL, 0 disables
	Passive    bool
	Families   []bgp.MPFamily
	AddPath    bool
	RouteRefresh bool
	ExtendedMsg  bool
	Flags        sink.Flags
}

// Peer drives one BGP session goroutine: dial/accept, OPEN/KEEPALIVE
// exchange, Established pump. Grounded directly on the teacher's
// bgp/session.go Session/session()/try(), generalized from the fixed
// host-route advertisement to a pluggable rib.Source and sink.Sink.
type Peer struct {
	cfg    Config
	source rib.Source
	sinkD  sink.Sink
	logger *zap.Logger

	mutex  sync.Mutex
	status Status

	reconfigure chan Config
	closed      chan struct{}
	closeOnce   sync.Once
}

func NewPeer(cfg Config, source rib.Source, s sink.Sink, logger *zap.Logger) *Peer {
	if s == nil {
		s = sink.Nil{}
	}
	p := &Peer{
		cfg:         cfg,
		source:      source,
		sinkD:       s,
		logger:      logger.Named("session"),
		status:      Status{State: IDLE},
		reconfigure: make(chan Config, 1),
		closed:      make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *Peer) Status() Status {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	s := p.status
	if !s.When.IsZero() {
		s.Duration = time.Since(s.When) / time.Second
	}
	return s
}

func (p *Peer) Configure(cfg Config) {
	p.cfg = cfg
	select {
	case p.reconfigure <- cfg:
	default:
	}
}

func (p *Peer) Close() {
	p.closeOnce.Do(func() { close(p.closed) })
}

func (p *Peer) setState(state string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.status.State = state
	p.status.When = time.Now().Round(time.Second)
}

func (p *Peer) setError(msg string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.status.LastError = msg
}

func (p *Peer) established(local, remote uint32, holdTime uint16) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.status.State = ESTABLISHED
	p.status.When = time.Now().Round(time.Second)
	p.status.Established++
	p.status.LastError = ""
	p.status.LocalASN = local
	p.status.RemoteASN = remote
	p.status.HoldTime = holdTime
}

// run is the top-level retry loop: connect, run the FSM to completion,
// log the outcome, wait, retry — mirroring the teacher's session() goroutine.
func (p *Peer) run() {
	const retryTime = 30 * time.Second

	for {
		p.setState(ACTIVE)
		p.mutex.Lock()
		p.status.Attempts++
		p.mutex.Unlock()

		notify, err := p.try()
		if err != nil {
			p.setError(err.Error())
			p.logger.Info("session ended", zap.String("peer", p.cfg.PeerAddr), zap.Error(err))
		} else if notify != nil {
			p.setError(notify.Error())
			p.logger.Info("session ended", zap.String("peer", p.cfg.PeerAddr), zap.Uint8("code", notify.Code), zap.Uint8("sub", notify.Sub))
		}

		p.setState(IDLE)
		if p.cfg.Flags.Changes {
			p.sinkD.Down(p.cfg.PeerAddr, errString(notify, err))
		}

		select {
		case <-p.closed:
			return
		case <-time.After(retryTime):
		case cfg := <-p.reconfigure:
			p.cfg = cfg
		}
	}
}

func errString(n *bgp.Notify, err error) string {
	if err != nil {
		return err.Error()
	}
	if n != nil {
		return n.Error()
	}
	return ""
}

// try runs one connection attempt through to completion, returning either
// a received/sent Notify or a local error (connection failure, local
// shutdown). Grounded directly on the teacher's Session.try().
func (p *Peer) try() (*bgp.Notify, error) {
	conn, err := p.connect()
	if err != nil {
		return nil, fmt.Errorf("session: connect to %s: %w", p.cfg.PeerAddr, err)
	}
	defer conn.close()

	p.mutex.Lock()
	p.status.Connections++
	p.mutex.Unlock()
	p.setState(CONNECT)

	holdTime := p.cfg.HoldTime
	if holdTime != 0 && holdTime < 3 {
		holdTime = 10
	}

	localCaps := p.buildLocalCapabilities()
	open := bgp.Open{
		Version:  4,
		ASN:      wireASN(p.cfg.LocalAS),
		HoldTime: holdTime,
		ID:       p.cfg.RouterID,
		Caps:     localCaps,
	}
	p.send(conn, false, false, bgp.MaxLen, bgp.Message{Type: bgp.M_OPEN, Open: open})
	p.setState(OPEN_SENT)

	holdDur := time.Duration(holdTime) * time.Second
	if holdDur == 0 {
		holdDur = 24 * time.Hour // hold-time 0: keepalive/hold timers disabled, approximate as very long
	}
	holdTimer := time.NewTimer(holdDur)
	defer holdTimer.Stop()

	var negotiated *bgp.Negotiated
	var keepaliveTimer *time.Ticker
	var pumpTimer <-chan time.Time

	for {
		select {
		case <-p.closed:
			p.send(conn, false, false, bgp.MaxLen, bgp.Message{Type: bgp.M_NOTIFICATION, Notification: bgp.NewNotify(bgp.CEASE, bgp.ADMINISTRATIVE_SHUTDOWN, "local shutdown")})
			time.Sleep(100 * time.Millisecond) // best-effort flush before the writer tears the socket down
			return nil, fmt.Errorf("session: local shutdown")

		case in, ok := <-conn.C:
			if !ok {
				return nil, fmt.Errorf("session: connection closed: %s", conn.Error)
			}
			holdTimer.Reset(holdDur)
			msg := in.Msg
			p.receive(msg, in.Raw)

			switch msg.Type {
			case bgp.M_NOTIFICATION:
				n := msg.Notification
				return &n, nil

			case bgp.M_OPEN:
				if p.statusState() != OPEN_SENT {
					n := bgp.NewNotify(bgp.FSM_ERROR, bgp.UNEXPECTED_OPEN, "unexpected OPEN")
					p.send(conn, false, false, bgp.MaxLen, bgp.Message{Type: bgp.M_NOTIFICATION, Notification: n})
					return &n, nil
				}

				if err := bgp.ValidateOpen(msg.Open, p.cfg.LocalAS, p.cfg.RouterID); err != nil {
					n := err.(bgp.Notify)
					p.send(conn, false, false, bgp.MaxLen, bgp.Message{Type: bgp.M_NOTIFICATION, Notification: n})
					return &n, nil
				}

				peerCaps := msg.Open.Caps
				neg := bgp.Negotiate(localCaps, peerCaps)
				negotiated = &neg

				if neg.ExtendedMsg {
					conn.setExtendedMessage()
				}
				conn.setNegotiated(neg.ASN4, len(neg.AddPath) > 0)

				remoteASN := uint32(msg.Open.ASN)
				if neg.ASN4 {
					remoteASN = neg.PeerASN
				}
				if p.cfg.PeerAS != 0 && remoteASN != p.cfg.PeerAS {
					n := bgp.NewNotify(bgp.OPEN_ERROR, bgp.BAD_PEER_AS, "unexpected peer AS %d", remoteASN)
					p.send(conn, false, false, bgp.MaxLen, bgp.Message{Type: bgp.M_NOTIFICATION, Notification: n})
					return &n, nil
				}

				effectiveHold := holdTime
				if msg.Open.HoldTime != 0 && msg.Open.HoldTime < effectiveHold {
					effectiveHold = msg.Open.HoldTime
				}
				holdDur = time.Duration(effectiveHold) * time.Second
				if holdDur == 0 {
					holdDur = 24 * time.Hour
				}
				holdTimer.Reset(holdDur)

				keepaliveDur := holdDur / 3
				if keepaliveTimer != nil {
					keepaliveTimer.Stop()
				}
				keepaliveTimer = time.NewTicker(max(keepaliveDur, time.Second))
				pumpTimer = keepaliveTimer.C

				p.send(conn, neg.ASN4, len(neg.AddPath) > 0, neg.MaxLen, bgp.Message{Type: bgp.M_KEEPALIVE})
				p.established(p.cfg.LocalAS, remoteASN, effectiveHold)
				if p.cfg.Flags.Changes {
					p.sinkD.Connected(p.cfg.PeerAddr, p.cfg.LocalAS, remoteASN)
				}

				p.pumpRIB(conn, negotiated, true)
				p.sendEORs(conn, negotiated)

			case bgp.M_KEEPALIVE:
				if p.statusState() == OPEN_SENT {
					n := bgp.NewNotify(bgp.FSM_ERROR, bgp.UNEXPECTED_KEEPALIVE, "KEEPALIVE before OPEN exchange complete")
					p.send(conn, false, false, bgp.MaxLen, bgp.Message{Type: bgp.M_NOTIFICATION, Notification: n})
					return &n, nil
				}
				if p.statusState() != ESTABLISHED {
					p.setState(OPEN_CONFIRM)
				}

			case bgp.M_UPDATE, bgp.M_ROUTE_REFRESH, bgp.M_OPERATIONAL:
				if p.statusState() != ESTABLISHED {
					n := bgp.NewNotify(bgp.FSM_ERROR, 0, "message before session established")
					p.send(conn, false, false, bgp.MaxLen, bgp.Message{Type: bgp.M_NOTIFICATION, Notification: n})
					return &n, nil
				}
				if msg.Type == bgp.M_ROUTE_REFRESH && negotiated != nil && !negotiated.RouteRefresh {
					n := bgp.NewNotify(bgp.MESSAGE_HEADER_ERROR, bgp.BAD_MESSAGE_TYPE, "ROUTE-REFRESH received without capability negotiated")
					p.send(conn, false, false, bgp.MaxLen, bgp.Message{Type: bgp.M_NOTIFICATION, Notification: n})
					return &n, nil
				}
				// Route contents are not processed further: route selection
				// and the RIB belong to this engine's out-of-scope collaborator.

			default:
				n := bgp.NewNotify(bgp.MESSAGE_HEADER_ERROR, bgp.BAD_MESSAGE_TYPE, "unexpected message type %d", msg.Type)
				p.send(conn, false, false, bgp.MaxLen, bgp.Message{Type: bgp.M_NOTIFICATION, Notification: n})
				return &n, nil
			}

		case <-pumpTimer:
			if p.statusState() == ESTABLISHED {
				p.send(conn, negotiated.ASN4, false, negotiated.MaxLen, bgp.Message{Type: bgp.M_KEEPALIVE})
				p.pumpRIB(conn, negotiated, false)
			}

		case <-holdTimer.C:
			n := bgp.NewNotify(bgp.HOLD_TIMER_EXPIRED, 0, "hold timer expired")
			p.send(conn, false, false, bgp.MaxLen, bgp.Message{Type: bgp.M_NOTIFICATION, Notification: n})
			return &n, nil
		}
	}
}

func (p *Peer) statusState() string {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.status.State
}

// send encodes and enqueues an outbound message, then routes it to the API
// sink per the neighbor's send-direction flags (spec.md §4.4) — the single
// choke point every outbound message passes through, mirroring the teacher's
// connection.queue() call sites generalized to also drive sink.Emit.
func (p *Peer) send(conn *connection, asn4, addPath bool, maxLen int, msg bgp.Message) {
	pdus := bgp.Encode(msg, asn4, addPath, maxLen)
	for _, raw := range pdus {
		conn.queueRaw(raw)
	}
	p.emitOutbound(msg, pdus)
}

func (p *Peer) emitOutbound(msg bgp.Message, pdus [][]byte) {
	dec := p.cfg.Flags.Route("send")
	for _, raw := range pdus {
		sink.Emit(p.sinkD, p.cfg.PeerAddr, "send", msg, raw, dec)
	}
	if msg.Type == bgp.M_NOTIFICATION {
		var raw []byte
		if len(pdus) > 0 {
			raw = pdus[0]
		}
		p.sinkD.Notification(p.cfg.PeerAddr, "send", msg.Notification, raw)
	}
}

// receive routes one inbound message to the API sink per the neighbor's
// receive-direction flags, and separately reports NOTIFICATIONs regardless
// of the packets/parsed flags (spec.md §4.4's "if the event is
// NOTIFICATION, raise it to the FSM" also implies the sink always sees it).
func (p *Peer) receive(msg bgp.Message, raw []byte) {
	dec := p.cfg.Flags.Route("receive")
	sink.Emit(p.sinkD, p.cfg.PeerAddr, "receive", msg, raw, dec)
	if msg.Type == bgp.M_NOTIFICATION {
		p.sinkD.Notification(p.cfg.PeerAddr, "receive", msg.Notification, raw)
	}
	if msg.Type == bgp.M_ROUTE_REFRESH {
		p.sinkD.Refresh(p.cfg.PeerAddr, "receive", msg.Refresh)
	}
}

// pumpRIB drains UpdateGroups from the configured rib.Source into the
// connection's outbound queue, stopping once the backlog bound is reached
// (spec.md §4.4/§6's 15,000-PDU limit) — the rest is picked up on the next
// keepalive tick. Pumped UPDATEs are reported to the sink as raw packets
// only: re-decoding every pumped PDU just to satisfy the "parsed" flag
// would defeat the backlog-bound's purpose of keeping the pump cheap.
func (p *Peer) pumpRIB(conn *connection, negotiated *bgp.Negotiated, groupUpdates bool) {
	if p.source == nil {
		return
	}
	dec := p.cfg.Flags.Route("send")
	it := p.source.Updates(groupUpdates)
	for conn.backlog() < maxBacklog {
		g, ok := it.Next()
		if !ok {
			return
		}
		msgs := g.Messages(negotiated)
		for _, m := range msgs {
			conn.queueRaw(m)
			if dec.EmitPackets && len(m) >= bgp.HeaderLen {
				p.sinkD.Packets(p.cfg.PeerAddr, "send", m[bgp.HeaderLen-1], m[:bgp.HeaderLen], m[bgp.HeaderLen:])
			}
		}
	}
}

// sendEORs emits End-of-RIB markers for every negotiated family once the
// initial RIB pump has drained, falling back to a single bare KEEPALIVE
// when the peer negotiated no Multiprotocol family at all — reproducing
// original_source/protocol.py's new_eors fallback literally.
func (p *Peer) sendEORs(conn *connection, negotiated *bgp.Negotiated) {
	if negotiated == nil || len(negotiated.Families) == 0 {
		p.send(conn, false, false, bgp.MaxLen, bgp.Message{Type: bgp.M_KEEPALIVE})
		return
	}
	for f := range negotiated.Families {
		raw := bgp.EncodeEOR(f)
		conn.queueRaw(raw)
		p.emitOutbound(bgp.Message{Type: bgp.M_UPDATE}, [][]byte{raw})
	}
}

func (p *Peer) buildLocalCapabilities() []bgp.Capability {
	var caps []bgp.Capability
	caps = append(caps, bgp.Capability{Code: bgp.CAP_ASN4, Value: asn4Value(p.cfg.LocalAS)})
	if p.cfg.RouteRefresh {
		caps = append(caps, bgp.Capability{Code: bgp.CAP_ROUTE_REFRESH})
	}
	if p.cfg.ExtendedMsg {
		caps = append(caps, bgp.Capability{Code: bgp.CAP_EXTENDED_MESSAGE})
	}
	for _, f := range p.cfg.Families {
		afi := htonsBytes(f.AFI)
		caps = append(caps, bgp.Capability{Code: bgp.CAP_MULTIPROTOCOL, Value: []byte{afi[0], afi[1], 0, f.SAFI}})
	}
	if p.cfg.AddPath {
		families := p.cfg.Families
		if len(families) == 0 {
			families = []bgp.MPFamily{{AFI: bgp.AFI_IPV4, SAFI: bgp.SAFI_UNICAST}}
		}
		var afs []bgp.AddPathFamily
		for _, f := range families {
			afs = append(afs, bgp.AddPathFamily{AFI: f.AFI, SAFI: f.SAFI, SendRcv: 3})
		}
		caps = append(caps, bgp.EncodeAddPath(afs))
	}
	return caps
}

func asn4Value(asn uint32) []byte {
	return []byte{byte(asn >> 24), byte(asn >> 16), byte(asn >> 8), byte(asn)}
}

func htonsBytes(v uint16) [2]byte {
	return [2]byte{byte(v >> 8), byte(v)}
}

func wireASN(asn uint32) uint16 {
	if asn > 0xffff {
		return uint16(bgp.AS_TRANS)
	}
	return uint16(asn)
}

func (p *Peer) connect() (*connection, error) {
	if p.cfg.LocalAddr.IsValid() {
		return dial(p.cfg.LocalAddr.AsSlice(), p.cfg.PeerAddr, p.cfg.MD5Key, p.cfg.TTLSecure)
	}
	return dial(nil, p.cfg.PeerAddr, p.cfg.MD5Key, p.cfg.TTLSecure)
}

func max(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
