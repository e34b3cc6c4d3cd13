package bgp

import "testing"

func TestNotifyBodyAndDecodeRoundTrip(t *testing.T) {
	n := Notify{Code: CEASE, Sub: ADMINISTRATIVE_SHUTDOWN, Data: []byte("bye")}
	body := n.Body()

	got, err := DecodeNotification(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Code != n.Code || got.Sub != n.Sub || string(got.Data) != string(n.Data) {
		t.Fatalf("round trip mismatch: got %#v, want %#v", got, n)
	}
}

func TestDecodeNotificationTooShort(t *testing.T) {
	if _, err := DecodeNotification([]byte{1}); err == nil {
		t.Fatal("expected an error for a 1-byte notification body")
	}
}

func TestNotifyErrorUsesNoteStringWhenNoMessage(t *testing.T) {
	n := Notify{Code: HOLD_TIMER_EXPIRED}
	if got, want := n.Error(), "bgp: notify(4,0): Hold timer expired"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
