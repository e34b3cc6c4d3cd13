package bgp

import (
	"net/netip"
	"testing"
)

func TestEncodeDecodeOpenRoundTrip(t *testing.T) {
	o := Open{
		Version:  4,
		ASN:      65001,
		HoldTime: 180,
		ID:       netip.MustParseAddr("10.0.0.1"),
		Caps: []Capability{
			{Code: CAP_ASN4, Value: []byte{0, 0, 0xfd, 0xe9}},
			{Code: CAP_ROUTE_REFRESH},
		},
	}

	body := EncodeOpen(o)
	got, err := DecodeOpen(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.Version != o.Version || got.ASN != o.ASN || got.HoldTime != o.HoldTime || got.ID != o.ID {
		t.Fatalf("round trip mismatch: got %#v, want %#v", got, o)
	}
	if len(got.Caps) != 2 {
		t.Fatalf("expected 2 capabilities, got %d", len(got.Caps))
	}
}

func TestDecodeOpenTooShort(t *testing.T) {
	if _, err := DecodeOpen(make([]byte, 5)); err == nil {
		t.Fatal("expected an error for a body shorter than 10 bytes")
	}
}

func TestValidateOpenRejectsBadVersion(t *testing.T) {
	o := Open{Version: 3, ID: netip.MustParseAddr("10.0.0.1")}
	err := ValidateOpen(o, 65000, netip.Addr{})
	n, ok := err.(Notify)
	if !ok || n.Code != OPEN_ERROR || n.Sub != UNSUPPORTED_VERSION_NUMBER {
		t.Fatalf("expected UNSUPPORTED_VERSION_NUMBER, got %#v", err)
	}
}

func TestValidateOpenRejectsLowHoldTime(t *testing.T) {
	o := Open{Version: 4, HoldTime: 1, ID: netip.MustParseAddr("10.0.0.1")}
	err := ValidateOpen(o, 65000, netip.Addr{})
	n, ok := err.(Notify)
	if !ok || n.Code != OPEN_ERROR || n.Sub != UNNACEPTABLE_HOLD_TIME {
		t.Fatalf("expected UNNACEPTABLE_HOLD_TIME, got %#v", err)
	}
}

func TestValidateOpenRejectsOwnRouterID(t *testing.T) {
	id := netip.MustParseAddr("10.0.0.1")
	o := Open{Version: 4, HoldTime: 90, ID: id}
	err := ValidateOpen(o, 65000, id)
	n, ok := err.(Notify)
	if !ok || n.Code != OPEN_ERROR || n.Sub != BAD_BGP_ID {
		t.Fatalf("expected BAD_BGP_ID, got %#v", err)
	}
}

func TestValidateOpenAccepts(t *testing.T) {
	o := Open{Version: 4, HoldTime: 90, ID: netip.MustParseAddr("10.0.0.2")}
	if err := ValidateOpen(o, 65000, netip.MustParseAddr("10.0.0.1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
