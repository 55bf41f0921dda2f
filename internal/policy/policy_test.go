package policy

import (
	"testing"

	"github.com/ariefcatur/go-shop-checkout.git/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func prepaidOrder(status orders.Status) *orders.Order {
	return &orders.Order{
		ID:            "o1",
		Status:        status,
		PaymentMethod: orders.MethodPrepaid,
		SubtotalCents: 150000,
		ShippingCents: 5000,
		TaxCents:      0,
		TotalCents:    155000,
		Items: []orders.OrderItem{
			{ID: "i1", ProductID: "p1", Qty: 2, PriceCents: 50000, SubtotalCents: 100000},
			{ID: "i2", ProductID: "p2", Qty: 1, PriceCents: 50000, SubtotalCents: 50000},
		},
	}
}

func TestCancellationGating(t *testing.T) {
	e := Engine{ReturnShippingFeeCents: 8000}

	for _, st := range []orders.Status{orders.StatusPending, orders.StatusProcessing} {
		_, err := e.DecideCancellation(prepaidOrder(st))
		assert.NoError(t, err, "status %s should be cancellable", st)
	}
	for _, st := range []orders.Status{
		orders.StatusShipped, orders.StatusDelivered,
		orders.StatusCancelled, orders.StatusAwaitingPayment,
	} {
		_, err := e.DecideCancellation(prepaidOrder(st))
		assert.ErrorIs(t, err, ErrNotCancellable, "status %s must be denied", st)
	}
}

func TestFullCancellation_PrepaidRefundsTotal(t *testing.T) {
	e := Engine{}
	d, err := e.DecideCancellation(prepaidOrder(orders.StatusProcessing))
	require.NoError(t, err)

	assert.True(t, d.CreateRefund)
	assert.Equal(t, 155000, d.AmountCents)
	assert.Equal(t, orders.RefundCancellation, d.Reason)
}

func TestFullCancellation_CODNoRefund(t *testing.T) {
	e := Engine{}
	o := prepaidOrder(orders.StatusProcessing)
	o.PaymentMethod = orders.MethodCOD

	d, err := e.DecideCancellation(o)
	require.NoError(t, err)
	assert.False(t, d.CreateRefund)
}

func TestPartialCancellation_ItemSubtotalOnly(t *testing.T) {
	e := Engine{}
	d, err := e.DecidePartialCancellation(prepaidOrder(orders.StatusProcessing), []string{"i2"})
	require.NoError(t, err)

	assert.True(t, d.CreateRefund)
	// cuma subtotal item i2; ongkir & tax tidak ikut
	assert.Equal(t, 50000, d.AmountCents)
	assert.Equal(t, orders.RefundPartialCancellation, d.Reason)
}

func TestPartialCancellation_UnknownItem(t *testing.T) {
	e := Engine{}
	_, err := e.DecidePartialCancellation(prepaidOrder(orders.StatusPending), []string{"nope"})
	assert.Error(t, err)
}

func TestPartialCancellation_GatedByStatus(t *testing.T) {
	e := Engine{}
	_, err := e.DecidePartialCancellation(prepaidOrder(orders.StatusShipped), []string{"i1"})
	assert.ErrorIs(t, err, ErrNotCancellable)
}

func TestRefusedDelivery_DeductsReturnShipping(t *testing.T) {
	e := Engine{ReturnShippingFeeCents: 8000}
	d, err := e.DecideRefusedDelivery(prepaidOrder(orders.StatusShipped))
	require.NoError(t, err)

	assert.True(t, d.CreateRefund)
	assert.Equal(t, 155000-8000, d.AmountCents)
	assert.Equal(t, orders.RefundRefusedDelivery, d.Reason)
}

func TestRefusedDelivery_ClampsAtZero(t *testing.T) {
	e := Engine{ReturnShippingFeeCents: 8000}
	o := prepaidOrder(orders.StatusShipped)
	o.TotalCents = 5000

	d, err := e.DecideRefusedDelivery(o)
	require.NoError(t, err)
	assert.Equal(t, 0, d.AmountCents)
}
