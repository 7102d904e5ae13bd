package service

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loglens/loglens/internal/domain"
)

func TestHub_BroadcastReachesAllSubscribers(t *testing.T) {
	h := NewHub()
	a := h.Subscribe()
	b := h.Subscribe()
	defer h.Unsubscribe(a)
	defer h.Unsubscribe(b)

	alert := domain.Alert{Type: domain.AlertSlowAPI, Severity: domain.SeverityWarning}
	h.Broadcast(alert)

	require.Equal(t, alert.Type, (<-a.C).Type)
	require.Equal(t, alert.Type, (<-b.C).Type)
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe()
	h.Unsubscribe(sub)

	_, open := <-sub.C
	require.False(t, open)
	require.Zero(t, h.Subscribers())

	// double-unsubscribe is a no-op, not a double close
	h.Unsubscribe(sub)
}

func TestHub_SlowSubscriberIsDropped(t *testing.T) {
	h := NewHub()
	slow := h.Subscribe()
	fast := h.Subscribe()
	defer h.Unsubscribe(fast)

	// fill the slow subscriber's buffer without draining it, while the
	// fast subscriber keeps consuming
	for range cap(slow.C) + 1 {
		h.Broadcast(domain.Alert{Type: domain.AlertErrorRateSpike})
		select {
		case <-fast.C:
		default:
		}
	}

	require.Equal(t, 1, h.Subscribers(), "full-buffer subscriber must be removed")

	// dropped subscriber's channel ends after its buffered alerts
	for range cap(slow.C) {
		<-slow.C
	}
	_, open := <-slow.C
	require.False(t, open)
}
