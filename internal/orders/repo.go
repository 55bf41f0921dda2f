package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

const pgUniqueViolation = "23505"

// CreateOrder: insert order (status pending) + seluruh item dalam satu tx.
// Nomor order dibangkitkan di sini; kalau tabrakan unique, coba lagi dengan
// nomor baru (jangan pernah menimpa order lain).
func (r *Repo) CreateOrder(ctx context.Context, o *Order) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	addr, err := json.Marshal(o.ShippingAddr)
	if err != nil {
		return err
	}

	const maxAttempts = 5
	for attempt := 0; attempt < maxAttempts; attempt++ {
		o.OrderNumber = NewOrderNumber()
		err = r.insertOrderTx(ctx, o, addr)
		if err == nil {
			return nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == "orders_order_number_key" {
			continue // nomor bentrok, ulang dengan nomor baru
		}
		return err
	}
	return fmt.Errorf("create order %s: %w", o.ID, ErrDuplicateOrderNumber)
}

func (r *Repo) insertOrderTx(ctx context.Context, o *Order, addr []byte) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, order_number, external_id, user_id, email, phone,
		                   subtotal_cents, tax_cents, shipping_cents, total_cents,
		                   status, payment_method, payment_status, shipping_address)
		VALUES ($1,$2,NULLIF($3,''),NULLIF($4,''),$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		o.ID, o.OrderNumber, o.ExternalID, o.UserID, o.Email, o.Phone,
		o.SubtotalCents, o.TaxCents, o.ShippingCents, o.TotalCents,
		string(o.Status), string(o.PaymentMethod), string(o.PaymentStatus), addr,
	)
	if err != nil {
		return err
	}

	for i := range o.Items {
		it := &o.Items[i]
		if it.ID == "" {
			it.ID = uuid.NewString()
		}
		it.OrderID = o.ID
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(id, order_id, product_id, product_name, product_image,
			                        qty, price_cents, subtotal_cents)
			VALUES ($1,$2,$3,$4,NULLIF($5,''),$6,$7,$8)`,
			it.ID, it.OrderID, it.ProductID, it.ProductName, it.ProductImage,
			it.Qty, it.PriceCents, it.SubtotalCents,
		); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *Repo) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var (
		o    Order
		addr []byte
	)
	err := r.DB.QueryRow(ctx, `
		SELECT id, order_number, COALESCE(external_id,''), COALESCE(user_id,''), email, phone,
		       subtotal_cents, tax_cents, shipping_cents, total_cents,
		       status, payment_method, payment_status, COALESCE(gateway_order_id,''),
		       shipping_address, COALESCE(tracking_number,''), created_at, updated_at
		FROM orders WHERE id=$1`, orderID).Scan(
		&o.ID, &o.OrderNumber, &o.ExternalID, &o.UserID, &o.Email, &o.Phone,
		&o.SubtotalCents, &o.TaxCents, &o.ShippingCents, &o.TotalCents,
		&o.Status, &o.PaymentMethod, &o.PaymentStatus, &o.GatewayOrderID,
		&addr, &o.TrackingNumber, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(addr) > 0 {
		if err := json.Unmarshal(addr, &o.ShippingAddr); err != nil {
			return nil, err
		}
	}

	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, product_id, product_name, COALESCE(product_image,''),
		       qty, price_cents, subtotal_cents
		FROM order_items WHERE order_id=$1 ORDER BY product_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName,
			&it.ProductImage, &it.Qty, &it.PriceCents, &it.SubtotalCents); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, it)
	}
	return &o, rows.Err()
}

func (r *Repo) FindByExternalID(ctx context.Context, externalID string) (*Order, error) {
	var id string
	err := r.DB.QueryRow(ctx, `SELECT id FROM orders WHERE external_id=$1`, externalID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return r.GetOrder(ctx, id)
}

// SetAwaitingPayment: pending -> awaiting_payment + simpan referensi gateway.
func (r *Repo) SetAwaitingPayment(ctx context.Context, orderID, gatewayOrderID string) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET status=$2, gateway_order_id=NULLIF($3,''), updated_at=now()
		WHERE id=$1 AND status IN ($4,$2)`,
		orderID, string(StatusAwaitingPayment), gatewayOrderID, string(StatusPending))
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("order %s not in pending/awaiting state: %w", orderID, ErrOrderNotFound)
	}
	return nil
}

// CancelOrder: conditional update, hanya dari status yang disebut caller --
// pembacaan status + write di sini bukan satu tx, jadi gate-nya harus ikut
// di WHERE (order yang keburu shipped tidak boleh ketimpa cancelled).
func (r *Repo) CancelOrder(ctx context.Context, orderID string, paymentStatus PaymentStatus, from ...Status) error {
	if len(from) == 0 {
		return fmt.Errorf("cancel order %s: no from-statuses given", orderID)
	}
	allowed := make([]string, 0, len(from))
	for _, st := range from {
		allowed = append(allowed, string(st))
	}
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET status=$2, payment_status=$3, updated_at=now()
		WHERE id=$1 AND status = ANY($4)`,
		orderID, string(StatusCancelled), string(paymentStatus), allowed)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("order %s: %w", orderID, ErrNotCancellable)
	}
	return nil
}

// DeleteOrder: bersih-bersih order pending yang gagal lock (bukan utk order hidup).
func (r *Repo) DeleteOrder(ctx context.Context, orderID string) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if _, err := tx.Exec(ctx, `DELETE FROM order_items WHERE order_id=$1`, orderID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM orders WHERE id=$1 AND status=$2`,
		orderID, string(StatusPending)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CancelStaleAwaitingPayment: order awaiting_payment yang lock-nya sudah
// disapu reaper dan umurnya lewat batas -> cancelled. Aman dijalankan
// paralel di banyak instance (conditional update).
func (r *Repo) CancelStaleAwaitingPayment(ctx context.Context, olderThan time.Time) ([]string, error) {
	rows, err := r.DB.Query(ctx, `
		UPDATE orders SET status=$1, payment_status=$2, updated_at=now()
		WHERE status=$3 AND updated_at < $4
		  AND NOT EXISTS (SELECT 1 FROM inventory_locks l WHERE l.order_id = orders.id)
		RETURNING id`,
		string(StatusCancelled), string(PaymentFailed), string(StatusAwaitingPayment), olderThan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repo) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, sku, name, COALESCE(image_url,''), stock, price_cents, created_at, updated_at
		FROM products ORDER BY sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.ImageURL, &p.Stock,
			&p.PriceCents, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ProductsByID mengambil snapshot katalog utk item-item keranjang.
func (r *Repo) ProductsByID(ctx context.Context, ids []string) (map[string]Product, error) {
	if len(ids) == 0 {
		return map[string]Product{}, nil
	}
	rows, err := r.DB.Query(ctx, `
		SELECT id, sku, name, COALESCE(image_url,''), stock, price_cents, created_at, updated_at
		FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]Product, len(ids))
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.ImageURL, &p.Stock,
			&p.PriceCents, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}
