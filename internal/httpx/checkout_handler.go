package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ariefcatur/go-shop-checkout.git/internal/checkout"
	"github.com/ariefcatur/go-shop-checkout.git/internal/gateway"
	kafkax "github.com/ariefcatur/go-shop-checkout.git/internal/kafka"
	"github.com/ariefcatur/go-shop-checkout.git/internal/orders"
	"github.com/ariefcatur/go-shop-checkout.git/internal/policy"
	"github.com/ariefcatur/go-shop-checkout.git/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type ProductLister interface {
	ListProducts(ctx context.Context) ([]orders.Product, error)
}

type WebhookVerifier interface {
	VerifyWebhookSignature(payload []byte, signature string) bool
}

type CheckoutHandler struct {
	Service  *checkout.Service
	Products ProductLister
	Webhook  WebhookVerifier
	Producer checkout.EventPublisher
	Redis    *redis.Client
	Logger   *zap.Logger

	ServiceName string
}

func (h *CheckoutHandler) Register(r *chi.Mux) {
	r.Post("/checkout/orders", h.createOrder)
	r.Post("/checkout/verify", h.verifyPayment)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.Post("/orders/{id}/cancel-items", h.cancelItems)
	r.Post("/orders/{id}/refused-delivery", h.refusedDelivery)
	r.Post("/webhooks/payment", h.paymentWebhook)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/products", h.listProducts)
}

type CreateOrderReq struct {
	ExternalID    string           `json:"external_id,omitempty"`
	UserID        string           `json:"user_id,omitempty"`
	Email         string           `json:"email"`
	Phone         string           `json:"phone"`
	Items         []orders.ItemQty `json:"items"`
	ShippingAddr  orders.Address   `json:"shipping_address"`
	PaymentMethod string           `json:"payment_method"` // prepaid | cod
	TaxCents      int              `json:"tax_cents"`
	ShippingCents int              `json:"shipping_cents"`
}

type CreateOrderResp struct {
	OrderID        string `json:"order_id"`
	OrderNumber    string `json:"order_number"`
	TotalCents     int    `json:"total_cents"`
	Status         string `json:"status"`
	GatewayOrderID string `json:"gateway_order_id,omitempty"`
	Idempotent     bool   `json:"idempotent,omitempty"`
}

type VerifyPaymentReq struct {
	OrderID        string `json:"order_id"`
	GatewayOrderID string `json:"gateway_order_id"`
	PaymentID      string `json:"payment_id"`
	Signature      string `json:"signature"`
}

type CancelItemsReq struct {
	ItemIDs []string `json:"item_ids"`
}

type RefundResp struct {
	RefundID    string `json:"refund_id,omitempty"`
	AmountCents int    `json:"amount_cents,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Refunded    bool   `json:"refunded"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr memetakan error domain ke kode + pesan yang jelas buat shopper.
func writeErr(w http.ResponseWriter, err error) {
	var vErr *orders.ValidationError
	var stockErr *orders.InsufficientStockError
	switch {
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": "VALIDATION_ERROR", "field": vErr.Field, "message": vErr.Error(),
		})
	case errors.As(err, &stockErr):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": "INSUFFICIENT_STOCK", "message": "this item just sold out",
			"details": stockErr.Details,
		})
	case errors.Is(err, orders.ErrInsufficientStock):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": "INSUFFICIENT_STOCK", "message": "this item just sold out",
		})
	case errors.Is(err, gateway.ErrSignatureInvalid):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": "SIGNATURE_INVALID", "message": "payment confirmation could not be verified",
		})
	case errors.Is(err, checkout.ErrCheckoutExpired):
		writeJSON(w, http.StatusGone, map[string]any{
			"error": "CHECKOUT_EXPIRED", "message": "your session expired, please check out again",
		})
	case errors.Is(err, policy.ErrNotCancellable):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": "NOT_CANCELLABLE", "message": "this order can no longer be cancelled",
		})
	case errors.Is(err, orders.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "NOT_FOUND"})
	case errors.Is(err, checkout.ErrGatewayUnavailable):
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error": "GATEWAY_UNAVAILABLE", "message": "payment service unavailable, please retry",
		})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "INTERNAL"})
	}
}

func (h *CheckoutHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	res, err := h.Service.Initiate(ctx, checkout.CheckoutRequest{
		ExternalID:    req.ExternalID,
		UserID:        req.UserID,
		Email:         req.Email,
		Phone:         req.Phone,
		Items:         req.Items,
		ShippingAddr:  req.ShippingAddr,
		PaymentMethod: orders.PaymentMethod(req.PaymentMethod),
		TaxCents:      req.TaxCents,
		ShippingCents: req.ShippingCents,
		TraceID:       middleware.GetReqID(r.Context()),
	})
	if err != nil {
		// gateway down: order & lock sudah jadi, kasih tahu order_id biar bisa retry
		if errors.Is(err, checkout.ErrGatewayUnavailable) && res != nil && res.Order != nil {
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"error": "GATEWAY_UNAVAILABLE", "order_id": res.Order.ID,
				"message": "payment service unavailable, please retry",
			})
			return
		}
		writeErr(w, err)
		return
	}

	o := res.Order
	writeJSON(w, http.StatusAccepted, CreateOrderResp{
		OrderID:        o.ID,
		OrderNumber:    o.OrderNumber,
		TotalCents:     o.TotalCents,
		Status:         string(o.Status),
		GatewayOrderID: o.GatewayOrderID,
		Idempotent:     res.Idempotent,
	})
}

func (h *CheckoutHandler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	var req VerifyPaymentReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.OrderID == "" || req.GatewayOrderID == "" || req.PaymentID == "" || req.Signature == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing fields"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	err := h.Service.Confirm(ctx, checkout.ConfirmRequest{
		OrderID:        req.OrderID,
		GatewayOrderID: req.GatewayOrderID,
		PaymentID:      req.PaymentID,
		Signature:      req.Signature,
		TraceID:        middleware.GetReqID(r.Context()),
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *CheckoutHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	rf, err := h.Service.Cancel(ctx, orderID, middleware.GetReqID(r.Context()))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, refundResp(rf))
}

func (h *CheckoutHandler) cancelItems(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	var req CancelItemsReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	rf, err := h.Service.CancelItems(ctx, orderID, req.ItemIDs, middleware.GetReqID(r.Context()))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, refundResp(rf))
}

func (h *CheckoutHandler) refusedDelivery(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	rf, err := h.Service.RefusedDelivery(ctx, orderID, middleware.GetReqID(r.Context()))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, refundResp(rf))
}

func refundResp(rf *orders.Refund) RefundResp {
	if rf == nil {
		return RefundResp{Refunded: false} // COD: tidak ada yang dikembalikan
	}
	return RefundResp{
		RefundID:    rf.ID,
		AmountCents: rf.AmountCents,
		Reason:      string(rf.Reason),
		Refunded:    true,
	}
}

// webhookEvent: bentuk callback async dari gateway (payload mentah di-HMAC).
type webhookEvent struct {
	Event          string `json:"event"` // e.g. payment.captured
	OrderID        string `json:"order_id"`
	GatewayOrderID string `json:"gateway_order_id"`
	PaymentID      string `json:"payment_id"`
}

// paymentWebhook: verifikasi HMAC atas BODY MENTAH vs header, lalu lempar ke
// Kafka; settlement-nya async & idempotent di consumer (binary reaper).
func (h *CheckoutHandler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad body"})
		return
	}

	sig := r.Header.Get("X-Webhook-Signature")
	if sig == "" || !h.Webhook.VerifyWebhookSignature(payload, sig) {
		if h.Logger != nil {
			h.Logger.Warn("webhook signature verification failed")
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid signature"})
		return
	}

	var ev webhookEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if ev.Event != "payment.captured" || ev.OrderID == "" {
		// bukan urusan kita; tetap 200 supaya gateway tidak retry terus
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	env := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventPaymentCaptured,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      h.ServiceName,
		TraceID:       middleware.GetReqID(r.Context()),
		CorrelationID: ev.OrderID,
		Payload: kafkax.MustMarshal(orders.PaymentCapturedPayload{
			OrderID:        ev.OrderID,
			GatewayOrderID: ev.GatewayOrderID,
			PaymentID:      ev.PaymentID,
		}),
	}
	h.Producer.Publish(orders.TopicPaymentCaptured, orders.PartitionKey(ev.OrderID), kafkax.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventPaymentCaptured)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

func (h *CheckoutHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// 1) coba cache status dulu (murah, cukup utk polling storefront)
	if h.Redis != nil {
		key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
		if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" && r.URL.Query().Get("full") == "" {
			writeJSON(w, http.StatusOK, json.RawMessage(s))
			return
		}
	}

	// 2) fallback DB
	o, err := h.Service.Orders.GetOrder(ctx, orderID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderView(o))
}

func (h *CheckoutHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ps, err := h.Products.ListProducts(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "INTERNAL"})
		return
	}
	out := make([]map[string]any, 0, len(ps))
	for _, p := range ps {
		out = append(out, map[string]any{
			"id": p.ID, "sku": p.SKU, "name": p.Name, "image_url": p.ImageURL,
			"stock": p.Stock, "price_cents": p.PriceCents,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func orderView(o *orders.Order) map[string]any {
	items := make([]map[string]any, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, map[string]any{
			"id": it.ID, "product_id": it.ProductID, "product_name": it.ProductName,
			"product_image": it.ProductImage, "qty": it.Qty,
			"price_cents": it.PriceCents, "subtotal_cents": it.SubtotalCents,
		})
	}
	return map[string]any{
		"order_id":         o.ID,
		"order_number":     o.OrderNumber,
		"status":           o.Status,
		"payment_status":   o.PaymentStatus,
		"payment_method":   o.PaymentMethod,
		"email":            o.Email,
		"phone":            o.Phone,
		"subtotal_cents":   o.SubtotalCents,
		"tax_cents":        o.TaxCents,
		"shipping_cents":   o.ShippingCents,
		"total_cents":      o.TotalCents,
		"shipping_address": o.ShippingAddr,
		"tracking_number":  o.TrackingNumber,
		"items":            items,
		"created_at":       o.CreatedAt,
		"updated_at":       o.UpdatedAt,
	}
}
