// Package policy berisi aturan cancel/refund sebagai fungsi murni atas state
// order -- tidak menyentuh DB/gateway, gampang diuji dan dipakai ulang oleh
// endpoint shopper maupun aksi admin.
package policy

import (
	"fmt"

	"github.com/ariefcatur/go-shop-checkout.git/internal/orders"
)

// ErrNotCancellable: order sudah lewat titik bisa dibatalkan (shipped dst).
// Sentinel yang sama dengan yang dipakai repo di conditional update-nya.
var ErrNotCancellable = orders.ErrNotCancellable

// Engine membawa parameter kebijakan yang configurable.
type Engine struct {
	// Potongan ongkir retur utk paket yang ditolak di pintu (refused delivery).
	ReturnShippingFeeCents int
}

// Decision: hasil evaluasi pembatalan. CreateRefund=false utk COD
// (tidak ada uang yang ter-capture, tidak ada yang dikembalikan).
type Decision struct {
	CreateRefund bool
	AmountCents  int
	Reason       orders.RefundReason
}

// cancellable: status yang sah transisi ke cancelled, minus awaiting_payment
// -- itu bukan jalur shopper melainkan exit internal orchestrator saat timeout.
func cancellable(s orders.Status) bool {
	return s != orders.StatusAwaitingPayment && orders.CanTransition(s, orders.StatusCancelled)
}

// DecideCancellation: pembatalan full order oleh shopper.
func (e Engine) DecideCancellation(o *orders.Order) (Decision, error) {
	if !cancellable(o.Status) {
		return Decision{}, fmt.Errorf("order %s in status %s: %w", o.ID, o.Status, ErrNotCancellable)
	}
	if o.PaymentMethod == orders.MethodCOD {
		return Decision{CreateRefund: false}, nil
	}
	return Decision{
		CreateRefund: true,
		AmountCents:  o.TotalCents,
		Reason:       orders.RefundCancellation,
	}, nil
}

// DecidePartialCancellation: batal sebagian item. Refund = jumlah subtotal
// item yang dibatalkan SAJA (tax/ongkir tidak diprorata). Totals order asli
// tidak diutak-atik; catatan finansial lama harus tetap utuh.
func (e Engine) DecidePartialCancellation(o *orders.Order, itemIDs []string) (Decision, error) {
	if !cancellable(o.Status) {
		return Decision{}, fmt.Errorf("order %s in status %s: %w", o.ID, o.Status, ErrNotCancellable)
	}
	if len(itemIDs) == 0 {
		return Decision{}, fmt.Errorf("no items selected for cancellation")
	}

	byID := make(map[string]orders.OrderItem, len(o.Items))
	for _, it := range o.Items {
		byID[it.ID] = it
	}

	amount := 0
	for _, id := range itemIDs {
		it, ok := byID[id]
		if !ok {
			return Decision{}, fmt.Errorf("item %s does not belong to order %s", id, o.ID)
		}
		amount += it.SubtotalCents
	}

	if o.PaymentMethod == orders.MethodCOD {
		return Decision{CreateRefund: false}, nil
	}
	return Decision{
		CreateRefund: true,
		AmountCents:  amount,
		Reason:       orders.RefundPartialCancellation,
	}, nil
}

// DecideRefusedDelivery: paket ditolak saat diantar -- event terminal dari
// sisi kurir/gateway, BUKAN pembatalan biasa: refund dipotong ongkir retur.
func (e Engine) DecideRefusedDelivery(o *orders.Order) (Decision, error) {
	if o.PaymentMethod == orders.MethodCOD {
		return Decision{CreateRefund: false}, nil
	}
	amount := o.TotalCents - e.ReturnShippingFeeCents
	if amount < 0 {
		amount = 0
	}
	return Decision{
		CreateRefund: true,
		AmountCents:  amount,
		Reason:       orders.RefundRefusedDelivery,
	}, nil
}
