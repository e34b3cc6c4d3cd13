package bgp

import (
	"net/netip"
	"testing"
)

// scenario1Body builds the literal fixture from spec.md's end-to-end
// scenario 1: an IPv4 UPDATE with ORIGIN=IGP, AS_PATH=[65200,30740,6453,
// 2914,2519] (32-bit ASNs, ASN4 already in effect on the wire), NEXT_HOP
// 127.0.0.1, COMMUNITIES=[(30740,6453),(30740,65003)], followed by announced
// NLRI starting with the prefixes the spec names explicitly.
func scenario1Body() []byte {
	attrs := []byte{
		0x40, 0x01, 0x01, 0x00, // ORIGIN=IGP
		0x50, 0x02, 0x00, 0x16, // AS_PATH, extended length 22
		0x02, 0x05, // AS_SEQUENCE, 5 ASNs
		0x00, 0x00, 0xFE, 0xB0, // 65200
		0x00, 0x00, 0x78, 0x14, // 30740
		0x00, 0x00, 0x19, 0x35, // 6453
		0x00, 0x00, 0x0B, 0x62, // 2914
		0x00, 0x00, 0x09, 0xD7, // 2519
		0x40, 0x03, 0x04, 0x7F, 0x00, 0x00, 0x01, // NEXT_HOP=127.0.0.1
		0xC0, 0x08, 0x08, // COMMUNITIES, len 8
		0x78, 0x14, 0x19, 0x35, // (30740,6453)
		0x78, 0x14, 0xFD, 0xEB, // (30740,65003)
	}

	nlri := []byte{
		24, 1, 0, 25, // 1.0.25.0/24
		16, 222, 230, // 222.230.0.0/16
		17, 222, 229, 128, // 222.229.128.0/17
	}

	var body []byte
	body = append(body, 0, 0) // withdrawn routes length
	alen := htons(uint16(len(attrs)))
	body = append(body, alen[0], alen[1])
	body = append(body, attrs...)
	body = append(body, nlri...)
	return body
}

func assertScenario1Decode(t *testing.T, u Update) {
	t.Helper()

	if u.Attrs == nil || u.Attrs.Origin == nil || *u.Attrs.Origin != OriginIGP {
		t.Fatalf("expected ORIGIN=IGP, got %#v", u.Attrs)
	}

	wantASNs := []uint32{65200, 30740, 6453, 2914, 2519}
	if len(u.Attrs.ASPath) != 1 || len(u.Attrs.ASPath[0].ASNs) != len(wantASNs) {
		t.Fatalf("unexpected AS_PATH: %#v", u.Attrs.ASPath)
	}
	for i, asn := range wantASNs {
		if u.Attrs.ASPath[0].ASNs[i] != asn {
			t.Errorf("AS_PATH[%d] = %d, want %d", i, u.Attrs.ASPath[0].ASNs[i], asn)
		}
	}

	if u.Attrs.NextHop != netip.MustParseAddr("127.0.0.1") {
		t.Errorf("NEXT_HOP = %s, want 127.0.0.1", u.Attrs.NextHop)
	}

	wantCommunities := []uint32{0x78141935, 0x7814FDEB}
	if len(u.Attrs.Communities) != len(wantCommunities) {
		t.Fatalf("unexpected COMMUNITIES: %#v", u.Attrs.Communities)
	}
	for i, c := range wantCommunities {
		if u.Attrs.Communities[i] != c {
			t.Errorf("COMMUNITIES[%d] = %#x, want %#x", i, u.Attrs.Communities[i], c)
		}
	}

	wantPrefixes := []string{"1.0.25.0/24", "222.230.0.0/16", "222.229.128.0/17"}
	if len(u.NLRI) != len(wantPrefixes) {
		t.Fatalf("expected %d announced prefixes, got %d: %#v", len(wantPrefixes), len(u.NLRI), u.NLRI)
	}
	for i, p := range wantPrefixes {
		if u.NLRI[i].String() != p {
			t.Errorf("NLRI[%d] = %s, want %s", i, u.NLRI[i], p)
		}
	}
}

func TestScenario1DecodeIPv4UpdateASN4True(t *testing.T) {
	u, err := DecodeUpdate(scenario1Body(), true, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertScenario1Decode(t, u)
}

func TestUpdateRoundTrip(t *testing.T) {
	body := scenario1Body()
	u, err := DecodeUpdate(body, true, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	re := EncodeUpdate(u, true, false)
	u2, err := DecodeUpdate(re, true, false)
	if err != nil {
		t.Fatalf("unexpected error re-decoding: %v", err)
	}
	assertScenario1Decode(t, u2)
}

// TestDecodeUpdateLegacyASNOverlay exercises a genuine non-ASN4 wire UPDATE:
// AS_PATH carries 2-byte ASNs with AS_TRANS standing in for one that doesn't
// fit, and AS4_PATH carries the real 4-octet path; DecodeUpdate must
// reconstruct the full path when asn4 is false.
func TestDecodeUpdateLegacyASNOverlay(t *testing.T) {
	origin := OriginIGP
	asPath := appendAttr(nil, WTCR, AS_PATH, []byte{AS_SEQUENCE, 2, 0xfd, 0xe9, 0x5b, 0xa0}) // 65001, AS_TRANS
	as4Path := appendAttr(nil, OTCR, AS4_PATH, []byte{AS_SEQUENCE, 2, 0, 0, 0xfd, 0xe9, 0, 1, 0x86, 0xa0})

	var attrs []byte
	attrs = appendAttr(attrs, WTCR, ORIGIN, []byte{origin})
	attrs = append(attrs, asPath...)
	attrs = append(attrs, as4Path...)

	var body []byte
	body = append(body, 0, 0) // no withdrawn
	alen := htons(uint16(len(attrs)))
	body = append(body, alen[0], alen[1])
	body = append(body, attrs...)

	u, err := DecodeUpdate(body, false, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(u.Attrs.ASPath) != 1 || len(u.Attrs.ASPath[0].ASNs) != 2 {
		t.Fatalf("unexpected ASPath: %#v", u.Attrs.ASPath)
	}
	if u.Attrs.ASPath[0].ASNs[0] != 65001 || u.Attrs.ASPath[0].ASNs[1] != 100000 {
		t.Errorf("expected the overlay to reconstruct [65001, 100000], got %#v", u.Attrs.ASPath[0].ASNs)
	}
}

func TestEORClassicIPv4(t *testing.T) {
	u := Update{}
	f, ok := u.EOR()
	if !ok || f != (MPFamily{AFI: AFI_IPV4, SAFI: SAFI_UNICAST}) {
		t.Fatalf("expected an IPv4 unicast EOR, got %#v, %v", f, ok)
	}
}

func TestEORMultiprotocol(t *testing.T) {
	u := Update{Attrs: &Attrs{MPUnreach: &MPUnreach{AFI: AFI_IPV6, SAFI: SAFI_UNICAST}}}
	f, ok := u.EOR()
	if !ok || f != (MPFamily{AFI: AFI_IPV6, SAFI: SAFI_UNICAST}) {
		t.Fatalf("expected an IPv6 unicast EOR, got %#v, %v", f, ok)
	}
}

func TestEORFalseWhenRoutesPresent(t *testing.T) {
	u := Update{NLRI: []Prefix{{Addr: netip.MustParseAddr("10.0.0.0"), Bits: 24}}}
	if _, ok := u.EOR(); ok {
		t.Fatal("expected EOR to be false when NLRI is present")
	}
}

func TestOverlayASN4MergesAS4Path(t *testing.T) {
	a := &Attrs{
		ASPath:  []ASSegment{{Type: AS_SEQUENCE, ASNs: []uint32{uint32(AS_TRANS), 6453}}},
		AS4Path: []ASSegment{{Type: AS_SEQUENCE, ASNs: []uint32{65200, 6453}}},
	}
	overlayASN4(a)
	if len(a.ASPath) != 1 || len(a.ASPath[0].ASNs) != 2 {
		t.Fatalf("unexpected overlay result: %#v", a.ASPath)
	}
	if a.ASPath[0].ASNs[0] != 65200 || a.ASPath[0].ASNs[1] != 6453 {
		t.Errorf("expected AS4_PATH to replace the AS_TRANS slot, got %#v", a.ASPath[0].ASNs)
	}
}

func TestOverlayASN4NoOpWithoutASTrans(t *testing.T) {
	a := &Attrs{
		ASPath:  []ASSegment{{Type: AS_SEQUENCE, ASNs: []uint32{65200, 6453}}},
		AS4Path: []ASSegment{{Type: AS_SEQUENCE, ASNs: []uint32{1}}},
	}
	overlayASN4(a)
	if len(a.ASPath[0].ASNs) != 2 || a.ASPath[0].ASNs[0] != 65200 {
		t.Errorf("expected AS_PATH unchanged without AS_TRANS, got %#v", a.ASPath[0].ASNs)
	}
}

func TestDecodeUpdateWithdrawnLengthExceedsBody(t *testing.T) {
	body := []byte{0, 10, 24, 1, 2, 3} // claims 10 withdrawn bytes but only 4 follow
	if _, err := DecodeUpdate(body, false, false); err == nil {
		t.Fatal("expected an error for withdrawn-length exceeding the body")
	}
}

func TestEncodeEORClassicIsPlainUpdate(t *testing.T) {
	pdu := EncodeEOR(MPFamily{AFI: AFI_IPV4, SAFI: SAFI_UNICAST})
	hdr, err := ParseHeader(pdu[:HeaderLen], MaxLen)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hdr.Type != M_UPDATE {
		t.Fatalf("expected M_UPDATE, got %d", hdr.Type)
	}
	if hdr.Length != HeaderLen+4 { // withdrawn-len(2) + attr-len(2), no NLRI, no attrs
		t.Errorf("expected a minimal empty UPDATE, got length %d", hdr.Length)
	}
}
