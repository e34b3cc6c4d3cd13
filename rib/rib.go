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

// Package rib is the outbound UPDATE pump's producer interface: it tells
// the session driver which prefixes are reachable without the driver
// needing to know anything about route selection, policy, or storage.
//
// Grounded on the teacher's bgp/rib.go NLRI()/updates() diffing, generalized
// from a host-route (single /32 or /128 per IP) map to an arbitrary
// prefix+attribute shape so it can carry any AFI/SAFI and any path
// attribute set, not just the load-balancer's fixed-next-hop host routes.
package rib

import (
	"fmt"

	"github.com/routeflow/bgpd/bgp"
)

// Route is one entry a producer wants advertised or withdrawn.
type Route struct {
	AFI   uint16
	SAFI  uint8
	Addr  bgp.Prefix
	Attrs *bgp.Attrs
}

func (r Route) key() string {
	return fmt.Sprintf("%d/%d/%s", r.AFI, r.SAFI, r.Addr.String())
}

// UpdateGroup is a set of advertised and withdrawn routes of one AFI/SAFI,
// rendered to wire PDUs once capability negotiation (Add-Path, Extended
// Message) is known.
type UpdateGroup interface {
	Messages(n *bgp.Negotiated) [][]byte
}

// UpdateGroupIter yields UpdateGroups one at a time so the session driver
// can interleave pulling from the RIB with draining its own outbound
// backlog (the 15,000-PDU bound of spec.md §4.4).
type UpdateGroupIter interface {
	Next() (UpdateGroup, bool)
}

// Source is implemented by whatever owns the RIB (out of scope for this
// engine beyond this interface) and consumed by session.Peer's outbound
// pump.
type Source interface {
	Updates(groupUpdates bool) UpdateGroupIter
}

// group is the concrete UpdateGroup produced by Table.
type group struct {
	afi       uint16
	safi      uint8
	advertise []Route
	withdraw  []Route
}

func (g *group) Messages(n *bgp.Negotiated) [][]byte {
	addPath := false
	asn4 := false
	maxLen := bgp.MaxLen
	if n != nil {
		maxLen = n.MaxLen
		asn4 = n.ASN4
		if _, ok := n.AddPath[bgp.MPFamily{AFI: g.afi, SAFI: g.safi}]; ok {
			addPath = true
		}
	}

	var withdrawn, nlri []bgp.Prefix
	for _, r := range g.withdraw {
		withdrawn = append(withdrawn, r.Addr)
	}

	var msgs [][]byte

	// Advertised routes are ordered by attribute set (first-seen order of
	// each set), then each route is encoded as an UPDATE of its own: routes
	// that share attributes are not packed into one PDU. The group's
	// withdrawals ride in the first of those UPDATEs.
	batches := map[string][]Route{}
	var order []string
	for _, r := range g.advertise {
		k := attrKey(r.Attrs)
		if _, ok := batches[k]; !ok {
			order = append(order, k)
		}
		batches[k] = append(batches[k], r)
	}

	if len(withdrawn) > 0 && len(g.advertise) == 0 {
		msgs = append(msgs, encodeGroup(g.afi, g.safi, withdrawn, nil, nil, asn4, addPath, maxLen)...)
		return msgs
	}

	first := true
	for _, k := range order {
		routes := batches[k]
		var wd []bgp.Prefix
		if first {
			wd = withdrawn
			first = false
		}
		for _, r := range routes {
			nlri = append(nlri[:0], r.Addr)
			msgs = append(msgs, encodeGroup(g.afi, g.safi, wd, nlri, r.Attrs, asn4, addPath, maxLen)...)
			wd = nil
		}
	}

	return msgs
}

func attrKey(a *bgp.Attrs) string {
	if a == nil {
		return ""
	}
	return fmt.Sprintf("%v", a)
}

func encodeGroup(afi uint16, safi uint8, withdrawn, nlri []bgp.Prefix, attrs *bgp.Attrs, asn4, addPath bool, maxLen int) [][]byte {
	u := bgp.Update{}

	if afi == bgp.AFI_IPV4 && safi == bgp.SAFI_UNICAST {
		u.Withdrawn = withdrawn
		u.NLRI = nlri
		u.Attrs = attrs
	} else {
		u.Attrs = attrs
		if u.Attrs == nil {
			u.Attrs = &bgp.Attrs{}
		}
		if len(withdrawn) > 0 {
			u.Attrs.MPUnreach = &bgp.MPUnreach{AFI: afi, SAFI: safi, NLRI: withdrawn}
		}
		if len(nlri) > 0 {
			u.Attrs.MPReach = &bgp.MPReach{AFI: afi, SAFI: safi, NLRI: nlri}
		}
	}

	return bgp.Encode(bgp.Message{Type: bgp.M_UPDATE, Update: u}, asn4, addPath, maxLen)
}

type groupIter struct {
	groups []*group
	pos    int
}

func (it *groupIter) Next() (UpdateGroup, bool) {
	if it.pos >= len(it.groups) {
		return nil, false
	}
	g := it.groups[it.pos]
	it.pos++
	return g, true
}

// Table is a simple in-memory RIB producer: the caller Set()s the desired
// route set and Table diffs against what it last reported to compute
// advertise/withdraw, the way the teacher's NLRI() does for host routes.
type Table struct {
	current map[string]Route
	sent    map[string]Route
}

func NewTable() *Table {
	return &Table{current: map[string]Route{}, sent: map[string]Route{}}
}

// Set replaces the desired route set wholesale.
func (t *Table) Set(routes []Route) {
	t.current = map[string]Route{}
	for _, r := range routes {
		t.current[r.key()] = r
	}
}

// Updates computes the diff against the last call's result and returns it
// as an UpdateGroupIter, batched by AFI/SAFI. When groupUpdates is false
// each route gets its own group (used by callers that want one UPDATE PDU
// per route, e.g. during tests).
func (t *Table) Updates(groupUpdates bool) UpdateGroupIter {
	type key struct {
		afi  uint16
		safi uint8
	}
	byFamily := map[key]*group{}

	familyOf := func(r Route) key { return key{r.AFI, r.SAFI} }

	for k, r := range t.current {
		if _, ok := t.sent[k]; !ok {
			fk := familyOf(r)
			g := byFamily[fk]
			if g == nil {
				g = &group{afi: fk.afi, safi: fk.safi}
				byFamily[fk] = g
			}
			g.advertise = append(g.advertise, r)
		}
	}
	for k, r := range t.sent {
		if _, ok := t.current[k]; !ok {
			fk := familyOf(r)
			g := byFamily[fk]
			if g == nil {
				g = &group{afi: fk.afi, safi: fk.safi}
				byFamily[fk] = g
			}
			g.withdraw = append(g.withdraw, r)
		}
	}

	t.sent = map[string]Route{}
	for k, r := range t.current {
		t.sent[k] = r
	}

	var groups []*group
	for _, g := range byFamily {
		if !groupUpdates {
			for _, r := range g.advertise {
				groups = append(groups, &group{afi: g.afi, safi: g.safi, advertise: []Route{r}})
			}
			for _, r := range g.withdraw {
				groups = append(groups, &group{afi: g.afi, safi: g.safi, withdraw: []Route{r}})
			}
			continue
		}
		groups = append(groups, g)
	}

	return &groupIter{groups: groups}
}
