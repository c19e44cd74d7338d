package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prevant/internal/domain"
)

func TestBroadcaster_CoalescesRapidNotifies(t *testing.T) {
	b := New(30 * time.Millisecond)
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	for i := 0; i < 5; i++ {
		b.Notify(Snapshot{"app": {Status: domain.AppDeployed}})
	}

	select {
	case snap := <-ch:
		assert.Len(t, snap, 1)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected a coalesced snapshot")
	}

	select {
	case <-ch:
		t.Fatal("expected only one coalesced snapshot for a burst of notifies")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcaster_MultipleSubscribersReceiveSameSnapshot(t *testing.T) {
	b := New(10 * time.Millisecond)
	ch1, unsub1 := b.Subscribe()
	defer unsub1()
	ch2, unsub2 := b.Subscribe()
	defer unsub2()

	b.Notify(Snapshot{"app": {Status: domain.AppDeployed}})

	s1 := <-ch1
	s2 := <-ch2
	assert.Equal(t, s1, s2)
}

func TestBroadcaster_UnsubscribeStopsDelivery(t *testing.T) {
	b := New(5 * time.Millisecond)
	ch, unsubscribe := b.Subscribe()
	unsubscribe()

	b.Notify(Snapshot{"app": {Status: domain.AppDeployed}})

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")
}

func TestBroadcaster_CurrentReturnsLatestWithoutSubscribing(t *testing.T) {
	b := New(5 * time.Millisecond)
	assert.Nil(t, b.Current())

	b.Notify(Snapshot{"app": {Status: domain.AppDeployed}})
	time.Sleep(20 * time.Millisecond)

	assert.Len(t, b.Current(), 1)
}

type fakePoller struct {
	snapshots []Snapshot
	calls     int
}

func (f *fakePoller) Poll(ctx context.Context) (Snapshot, error) {
	idx := f.calls
	if idx >= len(f.snapshots) {
		idx = len(f.snapshots) - 1
	}
	f.calls++
	return f.snapshots[idx], nil
}

func TestBroadcaster_StartPollingNotifiesOnlyWhenSnapshotChanges(t *testing.T) {
	unchanged := Snapshot{"app": {Status: domain.AppDeployed}}
	changed := Snapshot{"app": {Status: domain.AppDeployed}, "other": {Status: domain.AppDeployed}}
	poller := &fakePoller{snapshots: []Snapshot{unchanged, unchanged, changed}}

	b := New(5 * time.Millisecond)
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.StartPolling(ctx, poller, 10*time.Millisecond)
	defer b.Stop()

	select {
	case snap := <-ch:
		assert.Len(t, snap, 2, "should only be notified once the snapshot actually changes")
	case <-time.After(time.Second):
		t.Fatal("expected a notification once the poller reports a change")
	}
}

func TestBackendPoller_AssemblesSnapshotFromBackend(t *testing.T) {
	backend := &fakeBackendForPoller{
		apps: map[domain.AppName][]domain.Service{
			"demo": {{Name: "demo", State: domain.StateRunning}},
		},
		owners: []domain.Owner{{Sub: "u1", Iss: "idp"}},
	}
	p := NewBackendPoller(backend)

	snap, err := p.Poll(context.Background())
	require.NoError(t, err)
	require.Contains(t, snap, domain.AppName("demo"))
	assert.Equal(t, domain.AppDeployed, snap["demo"].Status)
	assert.Len(t, snap["demo"].Owners, 1)
}
