package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := NewBroker()
	ch, unsubscribe := b.Subscribe(1, "issue-tracker")
	defer unsubscribe()

	pct := 50
	b.PublishProgress(1, "issue-tracker", &pct, "page 2 of 4")

	select {
	case ev := <-ch:
		assert.Equal(t, EventKindProgress, ev.Kind)
		assert.Equal(t, int64(1), ev.TenantID)
		require.NotNil(t, ev.Percentage)
		assert.Equal(t, 50, *ev.Percentage)
	case <-time.After(time.Second):
		t.Fatal("expected event, got none")
	}
}

func TestPublishDoesNotCrossTenants(t *testing.T) {
	b := NewBroker()
	chTenant1, unsub1 := b.Subscribe(1, "issue-tracker")
	defer unsub1()
	chTenant2, unsub2 := b.Subscribe(2, "issue-tracker")
	defer unsub2()

	b.PublishStatus(1, "issue-tracker", "RUNNING", "")

	select {
	case ev := <-chTenant1:
		assert.Equal(t, int64(1), ev.TenantID)
	case <-time.After(time.Second):
		t.Fatal("tenant 1 subscriber missed its event")
	}

	select {
	case ev := <-chTenant2:
		t.Fatalf("tenant 2 subscriber received cross-tenant event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishDoesNotCrossJobNames(t *testing.T) {
	b := NewBroker()
	ch, unsub := b.Subscribe(1, "source-control")
	defer unsub()

	b.PublishCompletion(1, "issue-tracker", true, "")

	select {
	case ev := <-ch:
		t.Fatalf("subscriber for a different job received an event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroker()
	ch, unsubscribe := b.Subscribe(1, "issue-tracker")
	unsubscribe()

	b.PublishStatus(1, "issue-tracker", "FINISHED", "")

	select {
	case ev := <-ch:
		t.Fatalf("unsubscribed listener received an event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishNonBlockingOnFullMailbox(t *testing.T) {
	b := NewBroker()
	_, unsubscribe := b.Subscribe(1, "issue-tracker")
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.PublishStatus(1, "issue-tracker", "RUNNING", "")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber mailbox")
	}
}

func TestMultipleSubscribersSameKeyBothReceive(t *testing.T) {
	b := NewBroker()
	ch1, unsub1 := b.Subscribe(1, "issue-tracker")
	defer unsub1()
	ch2, unsub2 := b.Subscribe(1, "issue-tracker")
	defer unsub2()

	b.PublishCompletion(1, "issue-tracker", true, "3 work items")

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			assert.Equal(t, EventKindCompletion, ev.Kind)
			assert.True(t, ev.Success)
		case <-time.After(time.Second):
			t.Fatal("expected both subscribers to receive the completion event")
		}
	}
}
