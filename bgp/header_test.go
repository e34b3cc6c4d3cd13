package bgp

import "testing"

func TestEncodeDecodeHeaderRoundTrip(t *testing.T) {
	pdu := Headerise(M_KEEPALIVE, nil)
	hdr, err := ParseHeader(pdu[:HeaderLen], MaxLen)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hdr.Length != HeaderLen {
		t.Errorf("length = %d, want %d", hdr.Length, HeaderLen)
	}
	if hdr.Type != M_KEEPALIVE {
		t.Errorf("type = %d, want %d", hdr.Type, M_KEEPALIVE)
	}
}

func TestParseHeaderBadMarker(t *testing.T) {
	pdu := Headerise(M_KEEPALIVE, nil)
	pdu[0] = 0x00
	if _, err := ParseHeader(pdu[:HeaderLen], MaxLen); err == nil {
		t.Fatal("expected an error for a non-all-ones marker")
	} else if n, ok := err.(Notify); !ok || n.Code != MESSAGE_HEADER_ERROR || n.Sub != CONN_NOT_SYNCHRONIZED {
		t.Errorf("unexpected notify: %#v", err)
	}
}

func TestParseHeaderLengthOutOfBounds(t *testing.T) {
	body := make([]byte, HeaderLen)
	for i := 0; i < 16; i++ {
		body[i] = 0xff
	}
	// length field claims 18, below the minimum 19.
	body[16], body[17] = 0, 18
	if _, err := ParseHeader(body, MaxLen); err == nil {
		t.Fatal("expected an error for length below HeaderLen")
	}

	body[16], body[17] = 0xff, 0xff // 65535, above default MaxLen
	if _, err := ParseHeader(body, MaxLen); err == nil {
		t.Fatal("expected an error for length above maxLen")
	}
}

func TestParseHeaderTooShort(t *testing.T) {
	if _, err := ParseHeader(make([]byte, 10), MaxLen); err == nil {
		t.Fatal("expected an error for a header shorter than 19 bytes")
	}
}
