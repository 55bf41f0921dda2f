// Package reaper menyapu lock inventory yang kedaluwarsa supaya checkout
// yang ditinggal balikin stok ke pool, plus membatalkan order
// awaiting_payment yang sudah tidak punya reservasi.
package reaper

import (
	"context"
	"time"

	kafkax "github.com/ariefcatur/go-shop-checkout.git/internal/kafka"
	"github.com/ariefcatur/go-shop-checkout.git/internal/orders"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Ledger interface {
	SweepExpired(ctx context.Context, now time.Time) ([]orders.SweptLock, error)
}

type OrderStore interface {
	CancelStaleAwaitingPayment(ctx context.Context, olderThan time.Time) ([]string, error)
}

type EventPublisher interface {
	Publish(topic string, key, value []byte, headers ...kafkago.Header)
}

type Reaper struct {
	Ledger   Ledger
	Orders   OrderStore
	Producer EventPublisher
	Logger   *zap.Logger

	ServiceName string
	Interval    time.Duration
	// order awaiting_payment dianggap basi setelah LockTTL + Grace
	LockTTL time.Duration
	Grace   time.Duration
}

func (r *Reaper) log() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

// Run: loop interval tetap sampai ctx selesai. Aman jalan di banyak instance:
// sweep = DELETE idempotent, cancel = conditional update.
func (r *Reaper) Run(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			r.RunOnce(ctx, now)
		}
	}
}

// RunOnce: satu putaran sweep + cancel. Dipisah dari Run supaya gampang diuji.
func (r *Reaper) RunOnce(ctx context.Context, now time.Time) {
	swept, err := r.Ledger.SweepExpired(ctx, now)
	if err != nil {
		r.log().Warn("sweep failed", zap.Error(err))
		return
	}
	if len(swept) > 0 {
		r.log().Info("expired locks swept", zap.Int("count", len(swept)))
		r.publishExpired(swept)
	}

	if r.Orders == nil {
		return
	}
	olderThan := now.Add(-(r.LockTTL + r.Grace))
	ids, err := r.Orders.CancelStaleAwaitingPayment(ctx, olderThan)
	if err != nil {
		r.log().Warn("stale order cancel failed", zap.Error(err))
		return
	}
	for _, id := range ids {
		r.log().Info("stale order cancelled", zap.String("order_id", id))
		r.emit(orders.TopicOrderCancelled, orders.EventOrderCancelled, id,
			orders.OrderCancelledPayload{OrderID: id, Reason: "CHECKOUT_EXPIRED"})
	}
}

// publishExpired: satu event per order yang kena sweep.
func (r *Reaper) publishExpired(swept []orders.SweptLock) {
	byOrder := map[string][]orders.ItemQty{}
	for _, s := range swept {
		byOrder[s.OrderID] = append(byOrder[s.OrderID], orders.ItemQty{ProductID: s.ProductID, Qty: s.QtyLocked})
	}
	for orderID, items := range byOrder {
		r.emit(orders.TopicLockExpired, orders.EventLockExpired, orderID,
			orders.LockExpiredPayload{OrderID: orderID, Items: items})
	}
}

func (r *Reaper) emit(topic, eventType, orderID string, payload any) {
	if r.Producer == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      r.ServiceName,
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	r.Producer.Publish(topic, orders.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
