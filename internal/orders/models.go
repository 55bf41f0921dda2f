package orders

import "time"

type Product struct {
	ID         string
	SKU        string
	Name       string
	ImageURL   string
	Stock      int
	PriceCents int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Address: snapshot alamat kirim, disimpan sebagai JSON di kolom orders.shipping_address.
type Address struct {
	FullName   string `json:"full_name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

type Order struct {
	ID             string
	OrderNumber    string
	ExternalID     string
	UserID         string
	Email          string
	Phone          string
	SubtotalCents  int
	TaxCents       int
	ShippingCents  int
	TotalCents     int
	Status         Status
	PaymentMethod  PaymentMethod
	PaymentStatus  PaymentStatus
	GatewayOrderID string
	ShippingAddr   Address
	TrackingNumber string
	Items          []OrderItem
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OrderItem: snapshot katalog saat beli (nama/harga/gambar sengaja didenormalisasi,
// supaya edit katalog belakangan tidak mengubah order lama). Tidak pernah di-update.
type OrderItem struct {
	ID            string
	OrderID       string
	ProductID     string
	ProductName   string
	ProductImage  string
	Qty           int
	PriceCents    int
	SubtotalCents int
}

// InventoryLock: reservasi stok ber-TTL utk satu order. Stok TIDAK dikurangi
// saat lock dibuat; pengurangan terjadi di commit. Hapus lock = stok balik.
type InventoryLock struct {
	ID        string
	ProductID string
	OrderID   string
	QtyLocked int
	ExpiresAt time.Time
	CreatedAt time.Time
}

type Refund struct {
	ID               string
	OrderID          string
	AmountCents      int
	Reason           RefundReason
	Status           RefundStatus
	ExternalRefundID string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type ItemQty struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}
