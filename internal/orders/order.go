package orders

import (
	"crypto/rand"
	"strconv"
)

// Validate memastikan aritmetika total konsisten dan alamat lengkap
// sebelum order disimpan. Field pertama yang salah dilaporkan.
func (o *Order) Validate() error {
	if o.Email == "" {
		return &ValidationError{Field: "email", Reason: "is required"}
	}
	if o.Phone == "" {
		return &ValidationError{Field: "phone", Reason: "is required"}
	}
	if len(o.Items) == 0 {
		return &ValidationError{Field: "items", Reason: "must not be empty"}
	}

	sum := 0
	for i, it := range o.Items {
		if it.ProductID == "" {
			return &ValidationError{Field: itemField(i, "product_id"), Reason: "is required"}
		}
		if it.Qty <= 0 {
			return &ValidationError{Field: itemField(i, "qty"), Reason: "must be positive"}
		}
		if it.PriceCents < 0 {
			return &ValidationError{Field: itemField(i, "price"), Reason: "must not be negative"}
		}
		if it.SubtotalCents != it.PriceCents*it.Qty {
			return &ValidationError{Field: itemField(i, "subtotal"), Reason: "does not match price*qty"}
		}
		sum += it.SubtotalCents
	}
	if o.SubtotalCents != sum {
		return &ValidationError{Field: "subtotal", Reason: "does not match item subtotals"}
	}
	if o.TaxCents < 0 {
		return &ValidationError{Field: "tax", Reason: "must not be negative"}
	}
	if o.ShippingCents < 0 {
		return &ValidationError{Field: "shipping", Reason: "must not be negative"}
	}
	if o.TotalCents != o.SubtotalCents+o.TaxCents+o.ShippingCents {
		return &ValidationError{Field: "total", Reason: "does not match subtotal+tax+shipping"}
	}

	addr := o.ShippingAddr
	switch {
	case addr.FullName == "":
		return &ValidationError{Field: "shipping_address.full_name", Reason: "is required"}
	case addr.Line1 == "":
		return &ValidationError{Field: "shipping_address.line1", Reason: "is required"}
	case addr.City == "":
		return &ValidationError{Field: "shipping_address.city", Reason: "is required"}
	case addr.State == "":
		return &ValidationError{Field: "shipping_address.state", Reason: "is required"}
	case addr.PostalCode == "":
		return &ValidationError{Field: "shipping_address.postal_code", Reason: "is required"}
	case addr.Country == "":
		return &ValidationError{Field: "shipping_address.country", Reason: "is required"}
	}
	return nil
}

func itemField(i int, name string) string {
	return "items[" + strconv.Itoa(i) + "]." + name
}

// Charset tanpa 0/O/1/I biar enak dibaca di invoice & CS.
const numberCharset = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// NewOrderNumber menghasilkan nomor order pendek utk manusia, mis. ORD-7KQ2M9XD.
// Uniqueness dijaga constraint DB; collision di-retry oleh repo dengan nomor baru.
func NewOrderNumber() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	for i := range b {
		b[i] = numberCharset[int(b[i])%len(numberCharset)]
	}
	return "ORD-" + string(b)
}

// ItemQtys mengambil pasangan product/qty utk dipakai ledger.
func (o *Order) ItemQtys() []ItemQty {
	out := make([]ItemQty, 0, len(o.Items))
	for _, it := range o.Items {
		out = append(out, ItemQty{ProductID: it.ProductID, Qty: it.Qty})
	}
	return out
}
