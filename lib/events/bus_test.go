package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parsec-io/parsec-server/lib/types"
)

func TestBusDeliversOnlyToItsOrganization(t *testing.T) {
	bus := New()
	orgA := types.OrganizationID("org-a")
	orgB := types.OrganizationID("org-b")

	chA, cancelA := bus.Subscribe(orgA)
	defer cancelA()
	chB, cancelB := bus.Subscribe(orgB)
	defer cancelB()

	bus.Publish(orgA, PingedEvent(orgA, types.TimestampFromTime(time.Now())))

	select {
	case evt := <-chA:
		require.Equal(t, KindPinged, evt.Kind)
	case <-time.After(time.Second):
		t.Fatal("subscriber for orgA did not receive the event")
	}

	select {
	case <-chB:
		t.Fatal("subscriber for orgB should not have received orgA's event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusCancelClosesChannel(t *testing.T) {
	bus := New()
	org := types.OrganizationID("org-a")
	ch, cancel := bus.Subscribe(org)
	cancel()

	_, ok := <-ch
	require.False(t, ok)
}

func TestBusSinceEventIDReplaysTail(t *testing.T) {
	bus := New()
	org := types.OrganizationID("org-a")
	now := types.TimestampFromTime(time.Now())

	first := PingedEvent(org, now)
	bus.Publish(org, first)
	second := PingedEvent(org, now)
	bus.Publish(org, second)
	third := PingedEvent(org, now)
	bus.Publish(org, third)

	tail, found := bus.SinceEventID(org, first.ID)
	require.True(t, found)
	require.Len(t, tail, 2)
	require.Equal(t, second.ID, tail[0].ID)
	require.Equal(t, third.ID, tail[1].ID)
}

func TestBusSinceEventIDUnknownCursor(t *testing.T) {
	bus := New()
	org := types.OrganizationID("org-a")
	bus.Publish(org, PingedEvent(org, types.TimestampFromTime(time.Now())))

	_, found := bus.SinceEventID(org, types.NewEventID())
	require.False(t, found)
}
