package reaper

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-shop-checkout.git/internal/orders"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLedger struct {
	locks []lockRow
	err   error
}

type lockRow struct {
	orderID   string
	productID string
	qty       int
	expiresAt time.Time
}

func (f *fakeLedger) SweepExpired(_ context.Context, now time.Time) ([]orders.SweptLock, error) {
	if f.err != nil {
		return nil, f.err
	}
	var swept []orders.SweptLock
	kept := f.locks[:0]
	for _, lk := range f.locks {
		if lk.expiresAt.Before(now) {
			swept = append(swept, orders.SweptLock{OrderID: lk.orderID, ProductID: lk.productID, QtyLocked: lk.qty})
		} else {
			kept = append(kept, lk)
		}
	}
	f.locks = kept
	return swept, nil
}

type fakeStore struct {
	stale     map[string]time.Time // orderID -> updated_at
	cancelled []string
}

func (f *fakeStore) CancelStaleAwaitingPayment(_ context.Context, olderThan time.Time) ([]string, error) {
	var ids []string
	for id, at := range f.stale {
		if at.Before(olderThan) {
			ids = append(ids, id)
			delete(f.stale, id)
		}
	}
	f.cancelled = append(f.cancelled, ids...)
	return ids, nil
}

type capturedEvent struct {
	topic string
	key   string
	env   orders.Envelope
}

type capturingProducer struct {
	mu     sync.Mutex
	events []capturedEvent
}

func (p *capturingProducer) Publish(topic string, key, value []byte, headers ...kafkago.Header) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var env orders.Envelope
	_ = json.Unmarshal(value, &env)
	p.events = append(p.events, capturedEvent{topic: topic, key: string(key), env: env})
}

func (p *capturingProducer) byTopic(topic string) []capturedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []capturedEvent
	for _, e := range p.events {
		if e.topic == topic {
			out = append(out, e)
		}
	}
	return out
}

func TestRunOnce_SweepsOnlyExpired(t *testing.T) {
	now := time.Now()
	led := &fakeLedger{locks: []lockRow{
		{orderID: "o1", productID: "A", qty: 2, expiresAt: now.Add(-time.Minute)},
		{orderID: "o1", productID: "B", qty: 1, expiresAt: now.Add(-time.Minute)},
		{orderID: "o2", productID: "A", qty: 1, expiresAt: now.Add(10 * time.Minute)},
	}}
	prod := &capturingProducer{}
	r := &Reaper{Ledger: led, Producer: prod, ServiceName: "reaper-test", LockTTL: 15 * time.Minute, Grace: 5 * time.Minute}

	r.RunOnce(context.Background(), now)

	// lock masa depan tidak disentuh
	require.Len(t, led.locks, 1)
	assert.Equal(t, "o2", led.locks[0].orderID)

	// satu event per order, item lock-nya digabung
	evs := prod.byTopic(orders.TopicLockExpired)
	require.Len(t, evs, 1)
	assert.Equal(t, "o1", evs[0].key)
	assert.Equal(t, orders.EventLockExpired, evs[0].env.EventType)

	var payload orders.LockExpiredPayload
	require.NoError(t, json.Unmarshal(evs[0].env.Payload, &payload))
	assert.Equal(t, "o1", payload.OrderID)
	assert.Len(t, payload.Items, 2)
}

func TestRunOnce_CancelsStaleAwaitingOrders(t *testing.T) {
	now := time.Now()
	store := &fakeStore{stale: map[string]time.Time{
		"old":   now.Add(-30 * time.Minute), // > TTL+grace, harus dibatalkan
		"fresh": now.Add(-10 * time.Minute), // masih dalam jendela, biarkan
	}}
	prod := &capturingProducer{}
	r := &Reaper{
		Ledger: &fakeLedger{}, Orders: store, Producer: prod,
		ServiceName: "reaper-test", LockTTL: 15 * time.Minute, Grace: 5 * time.Minute,
	}

	r.RunOnce(context.Background(), now)

	require.Equal(t, []string{"old"}, store.cancelled)
	_, freshKept := store.stale["fresh"]
	assert.True(t, freshKept)

	evs := prod.byTopic(orders.TopicOrderCancelled)
	require.Len(t, evs, 1)
	assert.Equal(t, "old", evs[0].key)

	var payload orders.OrderCancelledPayload
	require.NoError(t, json.Unmarshal(evs[0].env.Payload, &payload))
	assert.Equal(t, "CHECKOUT_EXPIRED", payload.Reason)
}

func TestRunOnce_SweepErrorSkipsCancelPass(t *testing.T) {
	store := &fakeStore{stale: map[string]time.Time{"old": time.Now().Add(-time.Hour)}}
	r := &Reaper{
		Ledger: &fakeLedger{err: errors.New("db down")},
		Orders: store, Producer: &capturingProducer{},
		LockTTL: 15 * time.Minute, Grace: 5 * time.Minute,
	}

	r.RunOnce(context.Background(), time.Now())

	// sweep gagal = putaran dihentikan; jangan cancel order berdasarkan
	// state yang tidak kebaca
	assert.Empty(t, store.cancelled)
}

// Run harus berhenti begitu ctx selesai -- shutdown binary nunggu loop ini
// exit sebelum menutup producer.
func TestRun_StopsOnContextCancel(t *testing.T) {
	r := &Reaper{Ledger: &fakeLedger{}, Interval: 5 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond) // biarkan beberapa tick jalan
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper loop did not stop after cancel")
	}
}

func TestRunOnce_Idempotent(t *testing.T) {
	now := time.Now()
	led := &fakeLedger{locks: []lockRow{
		{orderID: "o1", productID: "A", qty: 1, expiresAt: now.Add(-time.Minute)},
	}}
	prod := &capturingProducer{}
	r := &Reaper{Ledger: led, Producer: prod, ServiceName: "reaper-test", LockTTL: 15 * time.Minute}

	r.RunOnce(context.Background(), now)
	r.RunOnce(context.Background(), now) // putaran kedua: tidak ada yang tersisa

	assert.Len(t, prod.byTopic(orders.TopicLockExpired), 1)
}
