package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment_reconciliation/internal/clock"
	"payment_reconciliation/internal/domain"
	"payment_reconciliation/internal/registry"
)

var t0 = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*registry.Registry, *Publisher, domain.PendingTransaction) {
	t.Helper()
	reg := registry.New(clock.NewManual(t0))
	pub := NewPublisher(reg)
	reg.OnResolved(func(tx domain.PendingTransaction) { pub.Emit(tx.ID, domain.EventFor(tx)) })
	tx, err := reg.Create(context.Background(), "order-1", 150000, domain.ChannelBankTransfer, 0)
	require.NoError(t, err)
	return reg, pub, tx
}

// receive reads one event and checks the channel closes afterwards.
func receive(t *testing.T, s *Subscription) domain.Event {
	t.Helper()
	var ev domain.Event
	select {
	case got, ok := <-s.Events:
		require.True(t, ok, "channel closed without an event")
		ev = got
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
	select {
	case _, ok := <-s.Events:
		assert.False(t, ok, "second event delivered")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after the terminal event")
	}
	return ev
}

func TestSubscribe_ReceivesTerminalEvent(t *testing.T) {
	reg, pub, tx := setup(t)
	ctx := context.Background()

	subs := make([]*Subscription, 3)
	for i := range subs {
		s, err := pub.Subscribe(ctx, tx.ID)
		require.NoError(t, err)
		subs[i] = s
	}
	assert.Equal(t, 3, pub.subscriberCount(tx.ID))

	ok, _, err := reg.Resolve(ctx, tx.ID, domain.StatusConfirmed, domain.ResolvedByAutomatic, "", "")
	require.NoError(t, err)
	require.True(t, ok)

	for _, s := range subs {
		ev := receive(t, s)
		assert.Equal(t, tx.ID, ev.TransactionID)
		assert.Equal(t, domain.StatusConfirmed, ev.Status)
		assert.Equal(t, domain.ResolvedByAutomatic, ev.ResolvedBy)
		assert.Equal(t, t0, ev.Timestamp)
	}
	assert.Equal(t, 0, pub.subscriberCount(tx.ID))
}

func TestSubscribe_LateSubscriberGetsSynthesizedEvent(t *testing.T) {
	reg, pub, tx := setup(t)
	ctx := context.Background()

	_, _, err := reg.Resolve(ctx, tx.ID, domain.StatusRejected, domain.ResolvedByOperator, "alice", "wrong amount")
	require.NoError(t, err)

	s, err := pub.Subscribe(ctx, tx.ID)
	require.NoError(t, err)

	ev := receive(t, s)
	assert.Equal(t, domain.StatusRejected, ev.Status)
	assert.Equal(t, domain.ResolvedByOperator, ev.ResolvedBy)
	assert.Equal(t, 0, pub.subscriberCount(tx.ID))
}

func TestSubscribe_UnknownTransaction(t *testing.T) {
	_, pub, _ := setup(t)

	_, err := pub.Subscribe(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSubscribe_CancelDetachesWithoutResolving(t *testing.T) {
	reg, pub, tx := setup(t)
	ctx, cancel := context.WithCancel(context.Background())

	s, err := pub.Subscribe(ctx, tx.ID)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-s.Events:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed on cancel")
	}
	require.Eventually(t, func() bool { return pub.subscriberCount(tx.ID) == 0 }, time.Second, time.Millisecond)

	got, err := reg.Get(tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOpen, got.Status)
}

func TestEmit_SecondEmitIsIgnored(t *testing.T) {
	_, pub, tx := setup(t)

	s, err := pub.Subscribe(context.Background(), tx.ID)
	require.NoError(t, err)

	pub.Emit(tx.ID, domain.Event{TransactionID: tx.ID, Status: domain.StatusConfirmed})
	pub.Emit(tx.ID, domain.Event{TransactionID: tx.ID, Status: domain.StatusExpired})

	ev := receive(t, s)
	assert.Equal(t, domain.StatusConfirmed, ev.Status)
}

func TestEmit_WithoutSubscribersDoesNotBlock(t *testing.T) {
	_, pub, tx := setup(t)

	done := make(chan struct{})
	go func() {
		pub.Emit(tx.ID, domain.Event{TransactionID: tx.ID, Status: domain.StatusExpired})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked")
	}
}

func TestSubscribe_AlreadyCancelledContext(t *testing.T) {
	_, pub, tx := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := pub.Subscribe(ctx, tx.ID)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, pub.subscriberCount(tx.ID))
}

func TestSubscribe_CancelRacingSubscribeLeavesNoSubscriber(t *testing.T) {
	_, pub, tx := setup(t)

	for i := 0; i < 200; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		go cancel()
		if s, err := pub.Subscribe(ctx, tx.ID); err == nil {
			<-ctx.Done()
			select {
			case _, ok := <-s.Events:
				assert.False(t, ok)
			case <-time.After(time.Second):
				t.Fatal("subscription not closed on cancel")
			}
		}
	}

	require.Eventually(t, func() bool { return pub.subscriberCount(tx.ID) == 0 }, time.Second, time.Millisecond)
}
