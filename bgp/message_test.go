package bgp

import (
	"net/netip"
	"testing"
)

func TestEncodeDecodeKeepalive(t *testing.T) {
	pdus := Encode(Message{Type: M_KEEPALIVE}, false, false, MaxLen)
	if len(pdus) != 1 {
		t.Fatalf("expected 1 PDU, got %d", len(pdus))
	}

	hdr, err := ParseHeader(pdus[0][:HeaderLen], MaxLen)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msg, err := Decode(RawPDU{Header: hdr, Raw: pdus[0]}, false, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Type != M_KEEPALIVE {
		t.Errorf("type = %d, want %d", msg.Type, M_KEEPALIVE)
	}
}

func TestDecodeKeepaliveRejectsNonEmptyBody(t *testing.T) {
	pdu := Headerise(M_KEEPALIVE, []byte{1})
	hdr, _ := ParseHeader(pdu[:HeaderLen], MaxLen)
	if _, err := Decode(RawPDU{Header: hdr, Raw: pdu}, false, false); err == nil {
		t.Fatal("expected an error for a non-empty KEEPALIVE body")
	}
}

func TestEncodeDecodeNotification(t *testing.T) {
	n := NewNotify(CEASE, ADMINISTRATIVE_SHUTDOWN, "shutting down")
	pdus := Encode(Message{Type: M_NOTIFICATION, Notification: n}, false, false, MaxLen)
	hdr, _ := ParseHeader(pdus[0][:HeaderLen], MaxLen)
	msg, err := Decode(RawPDU{Header: hdr, Raw: pdus[0]}, false, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Notification.Code != CEASE || msg.Notification.Sub != ADMINISTRATIVE_SHUTDOWN {
		t.Errorf("unexpected notification: %#v", msg.Notification)
	}
}

func TestEncodeDecodeRouteRefresh(t *testing.T) {
	r := RouteRefresh{AFI: AFI_IPV6, SAFI: SAFI_UNICAST}
	pdus := Encode(Message{Type: M_ROUTE_REFRESH, Refresh: r}, false, false, MaxLen)
	hdr, _ := ParseHeader(pdus[0][:HeaderLen], MaxLen)
	msg, err := Decode(RawPDU{Header: hdr, Raw: pdus[0]}, false, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Refresh != r {
		t.Errorf("got %#v, want %#v", msg.Refresh, r)
	}
}

func TestDecodeRejectsUnrecognisedMessageType(t *testing.T) {
	pdu := Headerise(99, nil)
	hdr, _ := ParseHeader(pdu[:HeaderLen], MaxLen)
	if _, err := Decode(RawPDU{Header: hdr, Raw: pdu}, false, false); err == nil {
		t.Fatal("expected an error for an unrecognised message type")
	}
}

// TestUpdateMessagesSplitsOversizedNLRI exercises the halve-and-recurse
// strategy: enough prefixes that the single-PDU encoding would exceed
// maxLen must be rendered as more than one UPDATE PDU, each within bounds.
func TestUpdateMessagesSplitsOversizedNLRI(t *testing.T) {
	var nlri []Prefix
	for i := 0; i < 1000; i++ {
		nlri = append(nlri, Prefix{Addr: netip.AddrFrom4([4]byte{10, 0, byte(i >> 8), byte(i)}), Bits: 32})
	}
	u := Update{NLRI: nlri, Attrs: &Attrs{}}

	msgs := updateMessages(u, false, false, MaxLen)
	if len(msgs) < 2 {
		t.Fatalf("expected the NLRI set to be split across multiple PDUs, got %d", len(msgs))
	}
	for _, m := range msgs {
		if len(m) > MaxLen {
			t.Errorf("PDU of length %d exceeds MaxLen %d", len(m), MaxLen)
		}
	}
}

func TestUpdateMessagesSinglePrefixTooLargeDropsSilently(t *testing.T) {
	big := make([]uint32, 3000) // an AS_PATH long enough to blow past MaxLen on its own
	u := Update{
		NLRI:  []Prefix{{Addr: netip.MustParseAddr("10.0.0.0"), Bits: 24}},
		Attrs: &Attrs{ASPath: []ASSegment{{Type: AS_SEQUENCE, ASNs: big}}},
	}
	msgs := updateMessages(u, false, false, MaxLen)
	if msgs != nil {
		t.Fatalf("expected nil for an unsplittable oversized single-prefix UPDATE, got %d PDUs", len(msgs))
	}
}
