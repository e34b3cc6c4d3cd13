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

// Package pool is the minimal outer reactor this engine owns directly: a
// map of neighbor address to session.Peer, driven by a channel-based
// configure/status protocol.
//
// Grounded directly on the teacher's bgp/pool.go Pool — the
// configure/status/close channel actor shape is kept as-is and retyped onto
// session.Peer; generalized from a single shared RIB push (bgp/pool.go's
// `_RIB`/`RIB` methods) to the per-neighbor rib.Source each Peer already
// carries in its Config, since SPEC_FULL.md's RIB interface is per-peer
// (pull-based), not broadcast.
package pool

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/routeflow/bgpd/rib"
	"github.com/routeflow/bgpd/session"
	"github.com/routeflow/bgpd/sink"
)

// Neighbor is one configured peer: its session parameters plus the RIB
// source it pulls outbound UPDATEs from.
type Neighbor struct {
	Config session.Config
	Source rib.Source
}

type statusReq struct {
	reply chan map[string]session.Status
}

// Pool owns every configured session.Peer, applying whole-map configuration
// diffs the way the teacher's Pool does: new peers are started, removed
// peers are closed, and peers present in both maps are reconfigured
// in-place rather than restarted.
type Pool struct {
	configure chan map[string]Neighbor
	status    chan statusReq
	closed    chan struct{}

	sinkD  sink.Sink
	logger *zap.Logger
}

// New starts the pool's driving goroutine and applies the initial neighbor
// set, mirroring the teacher's NewPool(routerid, peers, rib, log).
func New(initial map[string]Neighbor, s sink.Sink, logger *zap.Logger) *Pool {
	if s == nil {
		s = sink.Nil{}
	}
	p := &Pool{
		configure: make(chan map[string]Neighbor),
		status:    make(chan statusReq),
		closed:    make(chan struct{}),
		sinkD:     s,
		logger:    logger.Named("pool"),
	}
	go p.run()
	p.configure <- initial
	return p
}

func (p *Pool) run() {
	peers := map[string]*session.Peer{}

	defer func() {
		for _, peer := range peers {
			peer.Close()
		}
	}()

	for {
		select {
		case <-p.closed:
			return

		case req := <-p.status:
			s := map[string]session.Status{}
			for addr, peer := range peers {
				s[addr] = peer.Status()
			}
			req.reply <- s

		case next, ok := <-p.configure:
			if !ok {
				return
			}

			for addr, n := range next {
				if peer, exists := peers[addr]; exists {
					peer.Configure(n.Config)
					continue
				}
				p.logger.Info("new peer", zap.String("peer", addr), zap.Uint32("remote_as", n.Config.PeerAS))
				peers[addr] = session.NewPeer(n.Config, n.Source, p.sinkD, p.logger)
			}

			for addr, peer := range peers {
				if _, ok := next[addr]; !ok {
					peer.Close()
					delete(peers, addr)
					p.logger.Info("deleted peer", zap.String("peer", addr))
				}
			}
		}
	}
}

// Configure replaces the whole neighbor set; peers missing from next are
// closed, peers present in both are reconfigured, new ones are started.
func (p *Pool) Configure(next map[string]Neighbor) {
	select {
	case p.configure <- next:
	case <-p.closed:
	}
}

// Status returns a snapshot of every configured peer's session.Status.
func (p *Pool) Status() map[string]session.Status {
	reply := make(chan map[string]session.Status)
	select {
	case p.status <- statusReq{reply: reply}:
	case <-p.closed:
		return nil
	}
	select {
	case s := <-reply:
		return s
	case <-p.closed:
		return nil
	}
}

// Close stops every peer and the pool's driving goroutine. Idempotent.
func (p *Pool) Close() {
	select {
	case <-p.closed:
	default:
		close(p.closed)
	}
}

// Get returns a description of one configured peer's last known state, for
// callers that want a single lookup rather than the whole-pool snapshot.
func (p *Pool) Get(addr string) (session.Status, error) {
	s := p.Status()
	st, ok := s[addr]
	if !ok {
		return session.Status{}, fmt.Errorf("pool: no such peer %q", addr)
	}
	return st, nil
}
