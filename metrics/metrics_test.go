package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterDoesNotPanic(t *testing.T) {
	Register()
}

func TestSessionStateGaugeTracksFSMState(t *testing.T) {
	SessionState.WithLabelValues("192.0.2.2").Set(5)
	if got := testutil.ToFloat64(SessionState.WithLabelValues("192.0.2.2")); got != 5 {
		t.Errorf("SessionState = %v, want 5", got)
	}
}

func TestNotificationsTotalIncrementsPerLabelSet(t *testing.T) {
	NotificationsTotal.WithLabelValues("192.0.2.2", "send", "2", "6").Inc()
	NotificationsTotal.WithLabelValues("192.0.2.2", "send", "2", "6").Inc()
	if got := testutil.ToFloat64(NotificationsTotal.WithLabelValues("192.0.2.2", "send", "2", "6")); got != 2 {
		t.Errorf("NotificationsTotal = %v, want 2", got)
	}
}

func TestBacklogDepthGaugeReflectsQueueLength(t *testing.T) {
	BacklogDepth.WithLabelValues("192.0.2.3").Set(42)
	if got := testutil.ToFloat64(BacklogDepth.WithLabelValues("192.0.2.3")); got != 42 {
		t.Errorf("BacklogDepth = %v, want 42", got)
	}
}
