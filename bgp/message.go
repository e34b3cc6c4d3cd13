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

package bgp

// Message is a decoded BGP PDU handed up from the Framer to the session
// driver. Exactly one of the typed fields is meaningful, selected by Type.
type Message struct {
	Type         uint8
	Open         Open
	Update       Update
	Notification Notify
	Refresh      RouteRefresh
}

// RouteRefresh is a decoded ROUTE-REFRESH message (RFC 2918).
type RouteRefresh struct {
	AFI  uint16
	SAFI uint8
}

// Decode dispatches on the PDU's message type and parses its body,
// mirroring the teacher's per-type message/open/update split (bgp/message.go,
// bgp/connection.go) generalized to the full message taxonomy of spec.md §3.
func Decode(pdu RawPDU, asn4 bool, addPath bool) (Message, error) {
	body := pdu.Body()

	switch pdu.Header.Type {
	case M_OPEN:
		o, err := DecodeOpen(body)
		if err != nil {
			return Message{}, err
		}
		return Message{Type: M_OPEN, Open: o}, nil

	case M_UPDATE:
		u, err := DecodeUpdate(body, asn4, addPath)
		if err != nil {
			return Message{}, err
		}
		return Message{Type: M_UPDATE, Update: u}, nil

	case M_KEEPALIVE:
		if len(body) != 0 {
			return Message{}, NewNotify(MESSAGE_HEADER_ERROR, BAD_MESSAGE_LENGTH, "KEEPALIVE body must be empty, got %d bytes", len(body))
		}
		return Message{Type: M_KEEPALIVE}, nil

	case M_NOTIFICATION:
		n, err := DecodeNotification(body)
		if err != nil {
			return Message{}, err
		}
		return Message{Type: M_NOTIFICATION, Notification: n}, nil

	case M_ROUTE_REFRESH:
		if len(body) != 4 {
			return Message{}, NewNotify(MESSAGE_HEADER_ERROR, BAD_MESSAGE_LENGTH, "ROUTE-REFRESH body must be 4 bytes, got %d", len(body))
		}
		return Message{Type: M_ROUTE_REFRESH, Refresh: RouteRefresh{AFI: ntohs(body[0:2]), SAFI: body[3]}}, nil

	case M_OPERATIONAL:
		// Operational messages (draft-ietf-idr-operational-message) are
		// relayed to the sink uninterpreted; the session driver does not
		// need their internal structure to drive the FSM.
		return Message{Type: M_OPERATIONAL}, nil

	default:
		return Message{}, NewNotify(MESSAGE_HEADER_ERROR, BAD_MESSAGE_TYPE, "unrecognised message type %d", pdu.Header.Type)
	}
}

func openMessage(o Open) []byte {
	return Headerise(M_OPEN, EncodeOpen(o))
}

func keepaliveMessage() []byte {
	return Headerise(M_KEEPALIVE, nil)
}

func notificationMessage(n Notify) []byte {
	return Headerise(M_NOTIFICATION, n.Body())
}

func routeRefreshMessage(r RouteRefresh) []byte {
	afi := htons(r.AFI)
	return Headerise(M_ROUTE_REFRESH, []byte{afi[0], afi[1], 0, r.SAFI})
}

// updateMessages renders one or more UPDATE PDUs for u, splitting the NLRI
// set when the encoded message would exceed the negotiated maximum length —
// the same halve-and-recurse strategy as the teacher's update.messages()
// (bgp/message.go), generalized from a host-route map to an arbitrary
// []Prefix/Attrs pair.
func updateMessages(u Update, asn4 bool, addPath bool, maxLen int) [][]byte {
	if len(u.NLRI) == 0 {
		body := EncodeUpdate(u, asn4, addPath)
		return [][]byte{Headerise(M_UPDATE, body)}
	}

	body := EncodeUpdate(u, asn4, addPath)
	if HeaderLen+len(body) <= maxLen {
		return [][]byte{Headerise(M_UPDATE, body)}
	}

	if len(u.NLRI) == 1 {
		// A single prefix still doesn't fit: pathological attribute set
		// (e.g. a huge AS_PATH or community list). Nothing further to split.
		return nil
	}

	mid := len(u.NLRI) / 2
	u1 := u
	u1.NLRI = u.NLRI[:mid]
	u2 := u
	u2.NLRI = u.NLRI[mid:]

	var out [][]byte
	out = append(out, updateMessages(u1, asn4, addPath, maxLen)...)
	out = append(out, updateMessages(u2, asn4, addPath, maxLen)...)
	return out
}

// Encode renders any outbound Message to its full wire PDU (header +
// body), the single entry point the session driver's writer side calls.
func Encode(m Message, asn4 bool, addPath bool, maxLen int) [][]byte {
	switch m.Type {
	case M_OPEN:
		return [][]byte{openMessage(m.Open)}
	case M_UPDATE:
		return updateMessages(m.Update, asn4, addPath, maxLen)
	case M_KEEPALIVE:
		return [][]byte{keepaliveMessage()}
	case M_NOTIFICATION:
		return [][]byte{notificationMessage(m.Notification)}
	case M_ROUTE_REFRESH:
		return [][]byte{routeRefreshMessage(m.Refresh)}
	default:
		return nil
	}
}
