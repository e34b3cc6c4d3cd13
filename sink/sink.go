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

// Package sink is the narrow event-fan-out boundary between a session and
// whatever external API/IPC subsystem wants to observe it — deliberately
// just a Go interface rather than an RPC service (spec.md places the API
// subsystem itself out of scope).
//
// Grounded on original_source/reactor/protocol.py's _to_api direction/
// packets/parsed/consolidate branching, re-expressed as a Flags.Route
// decision function, and on the teacher's KV-logging style in bgp/pool.go
// for the Sink methods' shape.
package sink

import "github.com/routeflow/bgpd/bgp"

// DirFlags mirrors one direction's neighbor.api.{packets,parsed,consolidate}
// trio from the original implementation.
type DirFlags struct {
	Packets     bool
	Parsed      bool
	Consolidate bool
}

// Flags is the per-neighbor configuration of what to report to the sink,
// independently for messages sent and messages received.
type Flags struct {
	Send    DirFlags
	Receive DirFlags
	Changes bool // neighbor-changes: report Connected/Down at all
}

// Decision is the resolved set of sink calls to make for one message,
// computed once per message rather than re-branched at every call site.
type Decision struct {
	EmitPackets bool // call Packets() with the raw header/body
	EmitParsed  bool // call Message() with the decoded message
	RawInParsed bool // when both fire under Consolidate, Message() also gets the raw bytes
}

// Route reproduces _to_api's branching for one direction ("send" or
// "receive"):
//   - consolidated: always emit the parsed message once; include raw bytes
//     in that same call only if packets was also requested.
//   - not consolidated: emit Packets() and Message() independently, each
//     gated by its own flag, with Message() never carrying raw bytes.
func (f Flags) Route(direction string) Decision {
	d := f.Send
	if direction == "receive" {
		d = f.Receive
	}

	if d.Consolidate {
		return Decision{EmitPackets: false, EmitParsed: true, RawInParsed: d.Packets}
	}

	return Decision{EmitPackets: d.Packets, EmitParsed: d.Parsed}
}

// Sink is implemented by whatever external API/IPC layer wants to observe
// session activity. All methods must return promptly; a session driver
// calls them synchronously from its own goroutine and a slow Sink would
// stall that peer's FSM.
type Sink interface {
	// Connected is called once a session reaches ESTABLISHED.
	Connected(peer string, local, remote uint32)
	// Down is called when a session leaves ESTABLISHED or fails to come up,
	// gated by Flags.Changes (the original's neighbor-changes flag).
	Down(peer string, reason string)
	// Notification reports a sent or received NOTIFICATION.
	Notification(peer, direction string, n bgp.Notify, raw []byte)
	// Packets reports the raw header+body of one PDU, when Decision.EmitPackets.
	Packets(peer, direction string, msgType uint8, header, body []byte)
	// Message reports a decoded message, when Decision.EmitParsed. raw is
	// non-nil only when Decision.RawInParsed was set.
	Message(peer, direction string, msg bgp.Message, raw []byte)
	// Refresh reports a ROUTE-REFRESH, sent or received.
	Refresh(peer, direction string, r bgp.RouteRefresh)
}

// Nil is a Sink that discards everything, the default when a neighbor has
// no API flags set — mirroring the teacher's log.Nil fallback pattern in
// bgp/pool.go.
type Nil struct{}

func (Nil) Connected(string, uint32, uint32)                          {}
func (Nil) Down(string, string)                                       {}
func (Nil) Notification(string, string, bgp.Notify, []byte)           {}
func (Nil) Packets(string, string, uint8, []byte, []byte)             {}
func (Nil) Message(string, string, bgp.Message, []byte)               {}
func (Nil) Refresh(string, string, bgp.RouteRefresh)                  {}

// Emit drives a Sink according to a Decision for one message, computing
// the header/body split (raw[:19]/raw[19:]) the way _to_api does.
func Emit(s Sink, peer, direction string, msg bgp.Message, raw []byte, dec Decision) {
	if s == nil {
		return
	}

	var header, body []byte
	var msgType uint8
	if len(raw) >= bgp.HeaderLen {
		header, body = raw[:bgp.HeaderLen], raw[bgp.HeaderLen:]
		msgType = raw[bgp.HeaderLen-1]
	}

	if dec.EmitPackets && header != nil {
		s.Packets(peer, direction, msgType, header, body)
	}

	if dec.EmitParsed {
		var withRaw []byte
		if dec.RawInParsed {
			withRaw = raw
		}
		s.Message(peer, direction, msg, withRaw)
	}
}
