package bgp

import "fmt"

// Notify is the error type raised whenever the codec, the capability
// negotiator, or the session driver needs to report a BGP NOTIFICATION
// condition. It doubles as the wire representation of the NOTIFICATION
// message (code, subcode, data) and as the Go error propagated up to the
// session driver, mirroring the teacher's `notification` type in
// bgp/connection.go together with exabgp's `Notify` exception.
type Notify struct {
	Code    uint8
	Sub     uint8
	Data    []byte
	Message string
}

func (n Notify) Error() string {
	if n.Message != "" {
		return fmt.Sprintf("bgp: notify(%d,%d): %s", n.Code, n.Sub, n.Message)
	}
	return fmt.Sprintf("bgp: notify(%d,%d): %s", n.Code, n.Sub, NoteString(n.Code, n.Sub))
}

// NewNotify builds a Notify with an explanatory message, the way call
// sites throughout the codec raise structural decode failures.
func NewNotify(code, sub uint8, format string, args ...any) Notify {
	return Notify{Code: code, Sub: sub, Message: fmt.Sprintf(format, args...)}
}

// Body renders the NOTIFICATION message body (code, subcode, data).
func (n Notify) Body() []byte {
	b := make([]byte, 2+len(n.Data))
	b[0] = n.Code
	b[1] = n.Sub
	copy(b[2:], n.Data)
	return b
}

// DecodeNotification parses a NOTIFICATION message body.
func DecodeNotification(body []byte) (Notify, error) {
	if len(body) < 2 {
		return Notify{}, NewNotify(MESSAGE_HEADER_ERROR, BAD_MESSAGE_LENGTH, "notification body too short (%d bytes)", len(body))
	}
	return Notify{Code: body[0], Sub: body[1], Data: append([]byte{}, body[2:]...)}, nil
}
