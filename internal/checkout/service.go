package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-shop-checkout.git/internal/gateway"
	kafkax "github.com/ariefcatur/go-shop-checkout.git/internal/kafka"
	"github.com/ariefcatur/go-shop-checkout.git/internal/orders"
	"github.com/ariefcatur/go-shop-checkout.git/internal/policy"
	"github.com/ariefcatur/go-shop-checkout.git/internal/redisx"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ErrCheckoutExpired: konfirmasi datang setelah lock lewat TTL. Stok tidak
// pernah dijamin selama itu, jadi pembayaran TIDAK boleh dianggap settled.
var ErrCheckoutExpired = errors.New("checkout expired")

// ErrGatewayUnavailable: intent gateway gagal/timeout. Order tetap
// awaiting_payment dan lock jalan sampai TTL -- boleh retry.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// Interface kecil2 supaya orchestrator bisa diuji dengan fake in-memory;
// implementasi produksi ada di internal/orders & internal/gateway.

type OrderStore interface {
	CreateOrder(ctx context.Context, o *orders.Order) error
	GetOrder(ctx context.Context, orderID string) (*orders.Order, error)
	FindByExternalID(ctx context.Context, externalID string) (*orders.Order, error)
	SetAwaitingPayment(ctx context.Context, orderID, gatewayOrderID string) error
	CancelOrder(ctx context.Context, orderID string, ps orders.PaymentStatus, from ...orders.Status) error
	DeleteOrder(ctx context.Context, orderID string) error
	ProductsByID(ctx context.Context, ids []string) (map[string]orders.Product, error)
}

type Ledger interface {
	TryLockAll(ctx context.Context, orderID string, items []orders.ItemQty, ttl time.Duration) (bool, []orders.StockRejectedDetail, error)
	ReleaseLocks(ctx context.Context, orderID string) error
	CommitOrder(ctx context.Context, orderID string, ps orders.PaymentStatus) error
}

type RefundStore interface {
	CreateRefund(ctx context.Context, rf *orders.Refund) (bool, error)
}

type PaymentGateway interface {
	CreateOrder(ctx context.Context, amountCents int, currency, receipt string) (string, error)
	VerifyPaymentSignature(gatewayOrderID, paymentID, signature string) bool
}

type EventPublisher interface {
	Publish(topic string, key, value []byte, headers ...kafkago.Header)
}

// EventDedup menandai event consumer yang sudah selesai. Seen dicek di awal,
// Mark dipanggil setelah sukses; implementasi produksi: redisx.Deduper.
type EventDedup interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

// Service: orchestrator checkout. Satu-satunya pemilik transisi order
// selama fase pembayaran.
type Service struct {
	Orders   OrderStore
	Ledger   Ledger
	Refunds  RefundStore
	Gateway  PaymentGateway
	Policy   policy.Engine
	Producer EventPublisher
	Dedup    EventDedup    // optional; nil = tanpa dedup (handler tetap idempotent)
	Redis    *redis.Client // optional; nil = tanpa cache/idempotency fast path
	Logger   *zap.Logger

	ServiceName    string
	Currency       string
	LockTTL        time.Duration
	GatewayTimeout time.Duration
}

type CheckoutRequest struct {
	ExternalID    string
	UserID        string
	Email         string
	Phone         string
	Items         []orders.ItemQty
	ShippingAddr  orders.Address
	PaymentMethod orders.PaymentMethod
	TaxCents      int
	ShippingCents int
	TraceID       string
}

type CheckoutResult struct {
	Order      *orders.Order
	Idempotent bool
}

type ConfirmRequest struct {
	OrderID        string
	GatewayOrderID string
	PaymentID      string
	Signature      string
	TraceID        string
}

func (s *Service) log() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// Initiate: validasi keranjang -> order pending + item snapshot -> lock stok
// semua item (all-or-nothing) -> minta payment intent (atau commit langsung
// utk COD). Gagal lock = order parsial dihapus, tidak ada lock yatim.
func (s *Service) Initiate(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if req.PaymentMethod == "" {
		req.PaymentMethod = orders.MethodPrepaid
	}

	// idempotency per external_id: DB sebagai kebenaran, Redis cuma shortcut
	if req.ExternalID != "" {
		if existing, err := s.Orders.FindByExternalID(ctx, req.ExternalID); err == nil {
			return s.resumeExisting(ctx, existing, req.TraceID)
		} else if !errors.Is(err, orders.ErrOrderNotFound) {
			return nil, err
		}
	}

	// product yang sama di dua baris keranjang digabung -- order_items dan
	// inventory_locks sama-sama unik per (order, product)
	merged := make([]orders.ItemQty, 0, len(req.Items))
	pos := make(map[string]int, len(req.Items))
	for _, it := range req.Items {
		if j, ok := pos[it.ProductID]; ok {
			merged[j].Qty += it.Qty
			continue
		}
		pos[it.ProductID] = len(merged)
		merged = append(merged, it)
	}
	req.Items = merged

	ids := make([]string, 0, len(req.Items))
	for _, it := range req.Items {
		ids = append(ids, it.ProductID)
	}
	products, err := s.Orders.ProductsByID(ctx, ids)
	if err != nil {
		return nil, err
	}

	// snapshot katalog -> order item (edit katalog nanti tidak mengubah order ini)
	items := make([]orders.OrderItem, 0, len(req.Items))
	subtotal := 0
	for _, it := range req.Items {
		p, ok := products[it.ProductID]
		if !ok {
			return nil, &orders.ValidationError{Field: "items", Reason: "unknown product " + it.ProductID}
		}
		items = append(items, orders.OrderItem{
			ProductID:     p.ID,
			ProductName:   p.Name,
			ProductImage:  p.ImageURL,
			Qty:           it.Qty,
			PriceCents:    p.PriceCents,
			SubtotalCents: p.PriceCents * it.Qty,
		})
		subtotal += p.PriceCents * it.Qty
	}

	o := &orders.Order{
		ID:            uuid.NewString(),
		ExternalID:    req.ExternalID,
		UserID:        req.UserID,
		Email:         req.Email,
		Phone:         req.Phone,
		SubtotalCents: subtotal,
		TaxCents:      req.TaxCents,
		ShippingCents: req.ShippingCents,
		TotalCents:    subtotal + req.TaxCents + req.ShippingCents,
		Status:        orders.StatusPending,
		PaymentMethod: req.PaymentMethod,
		PaymentStatus: orders.PaymentPending,
		ShippingAddr:  req.ShippingAddr,
		Items:         items,
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}

	if err := s.Orders.CreateOrder(ctx, o); err != nil {
		return nil, err
	}

	ok, details, err := s.Ledger.TryLockAll(ctx, o.ID, o.ItemQtys(), s.LockTTL)
	if err != nil {
		_ = s.Orders.DeleteOrder(ctx, o.ID)
		return nil, err
	}
	if !ok {
		// seluruh keranjang batal: order parsial dibuang, tidak ada reservasi tersisa
		_ = s.Orders.DeleteOrder(ctx, o.ID)
		return nil, &orders.InsufficientStockError{Details: details}
	}

	s.emit(orders.TopicOrderCreated, orders.EventOrderCreated, o.ID, req.TraceID, orders.OrderCreatedPayload{
		OrderID: o.ID, OrderNumber: o.OrderNumber, UserID: o.UserID,
		PaymentMethod: string(o.PaymentMethod), TotalCents: o.TotalCents,
	})
	s.cacheStatus(ctx, o.ID, orders.StatusPending, orders.PaymentPending)
	if req.ExternalID != "" && s.Redis != nil {
		_ = s.Redis.Set(ctx, fmt.Sprintf(redisx.KeyIdemCheckoutCreate, req.ExternalID), o.ID, redisx.TTLIdempotency).Err()
	}

	if o.PaymentMethod == orders.MethodCOD {
		// tanpa capture online: langsung commit stok, tagihan ditarik kurir
		if err := s.Ledger.CommitOrder(ctx, o.ID, orders.PaymentPendingCollection); err != nil {
			return nil, err
		}
		o.Status = orders.StatusProcessing
		o.PaymentStatus = orders.PaymentPendingCollection
		s.emit(orders.TopicOrderPaid, orders.EventOrderPaid, o.ID, req.TraceID, orders.OrderPaidPayload{
			OrderID: o.ID, OrderNumber: o.OrderNumber, AmountCents: o.TotalCents,
		})
		s.cacheStatus(ctx, o.ID, o.Status, o.PaymentStatus)
		return &CheckoutResult{Order: o}, nil
	}

	if err := s.Orders.SetAwaitingPayment(ctx, o.ID, ""); err != nil {
		return nil, err
	}
	o.Status = orders.StatusAwaitingPayment

	gid, err := s.createIntent(ctx, o)
	if err != nil {
		// order + lock dibiarkan; retry datang lewat external_id yang sama
		s.log().Warn("gateway intent failed",
			zap.String("order_id", o.ID), zap.Error(err))
		return &CheckoutResult{Order: o}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	if err := s.Orders.SetAwaitingPayment(ctx, o.ID, gid); err != nil {
		return nil, err
	}
	o.GatewayOrderID = gid
	s.cacheStatus(ctx, o.ID, o.Status, o.PaymentStatus)
	return &CheckoutResult{Order: o}, nil
}

// resumeExisting: create-order dipanggil ulang dengan external_id sama.
// Kalau order masih awaiting_payment tanpa intent (gateway sempat down),
// coba buatkan intent lagi.
func (s *Service) resumeExisting(ctx context.Context, o *orders.Order, trace string) (*CheckoutResult, error) {
	if o.Status == orders.StatusAwaitingPayment && o.GatewayOrderID == "" &&
		o.PaymentMethod == orders.MethodPrepaid {
		gid, err := s.createIntent(ctx, o)
		if err != nil {
			return &CheckoutResult{Order: o, Idempotent: true}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
		if err := s.Orders.SetAwaitingPayment(ctx, o.ID, gid); err != nil {
			return nil, err
		}
		o.GatewayOrderID = gid
	}
	return &CheckoutResult{Order: o, Idempotent: true}, nil
}

func (s *Service) createIntent(ctx context.Context, o *orders.Order) (string, error) {
	timeout := s.GatewayTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.Gateway.CreateOrder(ctx, o.TotalCents, s.Currency, o.OrderNumber)
}

// Confirm: verifikasi signature konfirmasi klien lalu settle.
// Signature salah -> fail closed, order tetap awaiting_payment (retryable).
func (s *Service) Confirm(ctx context.Context, req ConfirmRequest) error {
	o, err := s.Orders.GetOrder(ctx, req.OrderID)
	if err != nil {
		return err
	}

	// konfirmasi ulang order yang sudah paid = sukses tanpa efek samping
	if o.PaymentStatus == orders.PaymentPaid {
		return nil
	}
	if o.Status == orders.StatusCancelled {
		return fmt.Errorf("order %s already cancelled: %w", o.ID, ErrCheckoutExpired)
	}
	if o.Status != orders.StatusAwaitingPayment {
		return fmt.Errorf("order %s in status %s cannot be confirmed", o.ID, o.Status)
	}
	if o.GatewayOrderID == "" || o.GatewayOrderID != req.GatewayOrderID {
		return gateway.ErrSignatureInvalid
	}
	if !s.Gateway.VerifyPaymentSignature(req.GatewayOrderID, req.PaymentID, req.Signature) {
		return gateway.ErrSignatureInvalid
	}

	return s.settle(ctx, o, req.PaymentID, req.TraceID)
}

// settle: commit stok + tandai paid, atomik di ledger. Lock sudah lenyap ->
// order cancelled + payment_status needs_review (uang mungkin ter-capture,
// JANGAN diam-diam mark paid; rekonsiliasi manual).
func (s *Service) settle(ctx context.Context, o *orders.Order, paymentID, trace string) error {
	err := s.Ledger.CommitOrder(ctx, o.ID, orders.PaymentPaid)
	if errors.Is(err, orders.ErrLockExpired) {
		// from cancelled juga boleh: reaper bisa keburu membatalkan, tapi
		// uangnya ter-capture -> payment_status tetap harus naik ke needs_review
		if cErr := s.Orders.CancelOrder(ctx, o.ID, orders.PaymentNeedsReview,
			orders.StatusAwaitingPayment, orders.StatusCancelled); cErr != nil {
			return cErr
		}
		s.emit(orders.TopicOrderCancelled, orders.EventOrderCancelled, o.ID, trace,
			orders.OrderCancelledPayload{OrderID: o.ID, Reason: "CHECKOUT_EXPIRED"})
		s.cacheStatus(ctx, o.ID, orders.StatusCancelled, orders.PaymentNeedsReview)
		s.log().Warn("settlement after lock expiry, order flagged for reconciliation",
			zap.String("order_id", o.ID), zap.String("payment_id", paymentID))
		return fmt.Errorf("order %s: %w", o.ID, ErrCheckoutExpired)
	}
	if err != nil {
		return err
	}

	s.emit(orders.TopicOrderPaid, orders.EventOrderPaid, o.ID, trace, orders.OrderPaidPayload{
		OrderID: o.ID, OrderNumber: o.OrderNumber, PaymentID: paymentID, AmountCents: o.TotalCents,
	})
	s.cacheStatus(ctx, o.ID, orders.StatusProcessing, orders.PaymentPaid)
	s.log().Info("order settled",
		zap.String("order_id", o.ID), zap.String("payment_id", paymentID))
	return nil
}

// HandlePaymentCaptured: handler consumer utk event webhook gateway
// (signature payload sudah diverifikasi di ingress HTTP). Idempotent:
// konfirmasi ulang order paid = no-op, dedup key baru ditandai SETELAH
// settle selesai -- error transient harus bisa di-retry lewat redelivery.
func (s *Service) HandlePaymentCaptured(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := kafkax.UnwrapEnvelope(m.Value, &env); err != nil {
		s.log().Warn("bad event envelope, skipping", zap.Error(err))
		return nil // poison message: commit offset
	}
	if env.EventType != orders.EventPaymentCaptured {
		return nil
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, "settlement", env.EventID)
	if s.Dedup != nil {
		if seen, err := s.Dedup.Seen(ctx, dkey); err == nil && seen {
			return nil
		}
	}

	p, err := kafkax.UnwrapPayload[orders.PaymentCapturedPayload](env.Payload)
	if err != nil {
		s.log().Warn("bad payment captured payload, skipping", zap.Error(err))
		return nil
	}

	o, err := s.Orders.GetOrder(ctx, p.OrderID)
	if errors.Is(err, orders.ErrOrderNotFound) {
		s.log().Warn("webhook for unknown order", zap.String("order_id", p.OrderID))
		return nil
	}
	if err != nil {
		return err // transient; jangan commit offset, biar di-retry
	}
	if o.PaymentStatus == orders.PaymentPaid {
		s.markProcessed(ctx, dkey)
		return nil
	}
	if o.GatewayOrderID != p.GatewayOrderID {
		s.log().Warn("webhook gateway order mismatch",
			zap.String("order_id", p.OrderID), zap.String("got", p.GatewayOrderID))
		return nil
	}

	if err := s.settle(ctx, o, p.PaymentID, env.TraceID); err != nil {
		if errors.Is(err, ErrCheckoutExpired) {
			s.markProcessed(ctx, dkey)
			return nil // terminal, sudah ditandai needs_review
		}
		return err // transient: key TIDAK ditandai, redelivery diproses ulang
	}
	s.markProcessed(ctx, dkey)
	return nil
}

func (s *Service) markProcessed(ctx context.Context, key string) {
	if s.Dedup == nil {
		return
	}
	if err := s.Dedup.Mark(ctx, key); err != nil {
		// gagal nandain tidak fatal: proses ulang tetap no-op
		s.log().Warn("dedup mark failed", zap.String("key", key), zap.Error(err))
	}
}

// Cancel: pembatalan full order oleh shopper; gating & nominal refund
// diputuskan policy engine.
func (s *Service) Cancel(ctx context.Context, orderID, trace string) (*orders.Refund, error) {
	o, err := s.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	d, err := s.Policy.DecideCancellation(o)
	if err != nil {
		return nil, err
	}

	// conditional update: kalau ada yang keburu nge-ship order ini di antara
	// pembacaan di atas dan titik ini, pembatalan ditolak, bukan menimpa
	if err := s.Orders.CancelOrder(ctx, o.ID, o.PaymentStatus,
		orders.StatusPending, orders.StatusProcessing); err != nil {
		return nil, err
	}
	// lepas reservasi kalau masih ada (idempotent, no-op utk order paid)
	if err := s.Ledger.ReleaseLocks(ctx, o.ID); err != nil {
		return nil, err
	}

	s.emit(orders.TopicOrderCancelled, orders.EventOrderCancelled, o.ID, trace,
		orders.OrderCancelledPayload{OrderID: o.ID, Reason: "SHOPPER_CANCELLED"})
	s.cacheStatus(ctx, o.ID, orders.StatusCancelled, o.PaymentStatus)

	if !d.CreateRefund {
		return nil, nil
	}
	return s.createRefund(ctx, o, d, trace)
}

// CancelItems: batal sebagian item; order & totals aslinya tidak diubah,
// refund prorata dicatat sebagai record terpisah.
func (s *Service) CancelItems(ctx context.Context, orderID string, itemIDs []string, trace string) (*orders.Refund, error) {
	o, err := s.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	d, err := s.Policy.DecidePartialCancellation(o, itemIDs)
	if err != nil {
		return nil, err
	}
	if !d.CreateRefund {
		return nil, nil
	}
	return s.createRefund(ctx, o, d, trace)
}

// RefusedDelivery: paket ditolak di pintu (aksi admin/kurir); refund dipotong
// ongkir retur sesuai kebijakan.
func (s *Service) RefusedDelivery(ctx context.Context, orderID, trace string) (*orders.Refund, error) {
	o, err := s.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	d, err := s.Policy.DecideRefusedDelivery(o)
	if err != nil {
		return nil, err
	}
	if !d.CreateRefund {
		return nil, nil
	}
	return s.createRefund(ctx, o, d, trace)
}

func (s *Service) createRefund(ctx context.Context, o *orders.Order, d policy.Decision, trace string) (*orders.Refund, error) {
	rf := &orders.Refund{
		OrderID:     o.ID,
		AmountCents: d.AmountCents,
		Reason:      d.Reason,
		Status:      orders.RefundRequested,
	}
	created, err := s.Refunds.CreateRefund(ctx, rf)
	if err != nil {
		return nil, err
	}
	if created {
		s.emit(orders.TopicRefundRequested, orders.EventRefundRequested, o.ID, trace,
			orders.RefundRequestedPayload{
				OrderID: o.ID, RefundID: rf.ID, AmountCents: rf.AmountCents, Reason: string(rf.Reason),
			})
	}
	return rf, nil
}

func (s *Service) emit(topic, eventType, orderID, trace string, payload any) {
	if s.Producer == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.ServiceName,
		TraceID:       trace,
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	s.Producer.Publish(topic, orders.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func (s *Service) cacheStatus(ctx context.Context, orderID string, st orders.Status, ps orders.PaymentStatus) {
	if s.Redis == nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	val := fmt.Sprintf(`{"status":%q,"payment_status":%q}`, st, ps)
	_ = s.Redis.Set(ctx, key, val, redisx.TTLStatusCache).Err()
}
