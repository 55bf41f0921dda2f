package orders

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LedgerRepo: reservasi stok ber-TTL di atas Postgres.
// Prinsip: stok otoritatif (products.stock) TIDAK disentuh saat lock;
// available = stock - sum(lock aktif). Baru di commit stok benar2 dikurangi.
type LedgerRepo struct{ DB *pgxpool.Pool }

// TryLockAll: per product, kunci row-nya (FOR UPDATE), cek available >= qty,
// lalu insert lock ber-expires_at. Kalau SATU item saja kurang, seluruh tx
// rollback (all-or-nothing utk satu keranjang) dan detail penolakan dikembalikan.
// Dua checkout paralel utk unit terakhir tidak mungkin dua-duanya lolos:
// FOR UPDATE menserialisasi pengecekan per product.
func (r *LedgerRepo) TryLockAll(ctx context.Context, orderID string, items []ItemQty, ttl time.Duration) (ok bool, details []StockRejectedDetail, err error) {
	// urutan product stabil -> bebas deadlock antar keranjang
	sorted := make([]ItemQty, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProductID < sorted[j].ProductID })

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	expiresAt := time.Now().UTC().Add(ttl)
	var rejects []StockRejectedDetail

	for _, it := range sorted {
		var stock, locked int
		if err := tx.QueryRow(ctx,
			`SELECT stock FROM products WHERE id=$1 FOR UPDATE`, it.ProductID).Scan(&stock); err != nil {
			if err == pgx.ErrNoRows {
				rejects = append(rejects, StockRejectedDetail{ProductID: it.ProductID, Required: it.Qty, Available: 0})
				continue
			}
			return false, nil, err
		}
		if err := tx.QueryRow(ctx, `
			SELECT COALESCE(SUM(quantity_locked),0) FROM inventory_locks
			WHERE product_id=$1 AND expires_at > now()`, it.ProductID).Scan(&locked); err != nil {
			return false, nil, err
		}

		available := stock - locked
		if available < it.Qty {
			rejects = append(rejects, StockRejectedDetail{
				ProductID: it.ProductID, Required: it.Qty, Available: available,
			})
			continue
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO inventory_locks(id, product_id, order_id, quantity_locked, expires_at)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (order_id, product_id) DO NOTHING`,
			uuid.NewString(), it.ProductID, orderID, it.Qty, expiresAt,
		); err != nil {
			return false, nil, err
		}
	}

	if len(rejects) > 0 {
		return false, rejects, nil // rollback via defer
	}
	if err := tx.Commit(ctx); err != nil {
		return false, nil, err
	}
	return true, nil, nil
}

// ReleaseLocks: lepas seluruh lock milik order. Idempotent; lock yang sudah
// tidak ada bukan error.
func (r *LedgerRepo) ReleaseLocks(ctx context.Context, orderID string) error {
	_, err := r.DB.Exec(ctx, `DELETE FROM inventory_locks WHERE order_id=$1`, orderID)
	return err
}

// CommitOrder: settlement. Dalam SATU tx: kunci lock yang masih hidup,
// pastikan semua item masih ter-cover, kurangi stok, hapus lock, tandai order.
// Lock hilang/expired -> ErrLockExpired tanpa perubahan apa pun (caller harus
// menyuruh shopper checkout ulang, uang tidak boleh dianggap settled).
func (r *LedgerRepo) CommitOrder(ctx context.Context, orderID string, paymentStatus PaymentStatus) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var itemCount int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM order_items WHERE order_id=$1`, orderID).Scan(&itemCount); err != nil {
		return err
	}

	// urut by product_id, konsisten dengan TryLockAll
	rows, err := tx.Query(ctx, `
		SELECT product_id, quantity_locked FROM inventory_locks
		WHERE order_id=$1 AND expires_at > now()
		ORDER BY product_id FOR UPDATE`, orderID)
	if err != nil {
		return err
	}
	type hold struct {
		pid string
		qty int
	}
	var holds []hold
	for rows.Next() {
		var h hold
		if err := rows.Scan(&h.pid, &h.qty); err != nil {
			rows.Close()
			return err
		}
		holds = append(holds, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if itemCount == 0 || len(holds) < itemCount {
		return fmt.Errorf("order %s: %w", orderID, ErrLockExpired)
	}

	for _, h := range holds {
		ct, err := tx.Exec(ctx,
			`UPDATE products SET stock = stock - $2, updated_at=now()
			 WHERE id=$1 AND stock >= $2`, h.pid, h.qty)
		if err != nil {
			return err
		}
		if ct.RowsAffected() != 1 {
			// tidak boleh terjadi selama semua mutasi lewat ledger ini
			return fmt.Errorf("stock underflow on product %s (order %s)", h.pid, orderID)
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM inventory_locks WHERE order_id=$1`, orderID); err != nil {
		return err
	}

	ct, err := tx.Exec(ctx, `
		UPDATE orders SET status=$2, payment_status=$3, updated_at=now()
		WHERE id=$1 AND status IN ($4,$5)`,
		orderID, string(StatusProcessing), string(paymentStatus),
		string(StatusPending), string(StatusAwaitingPayment))
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("order %s not in settleable state: %w", orderID, ErrLockExpired)
	}

	return tx.Commit(ctx)
}

type SweptLock struct {
	OrderID   string
	ProductID string
	QtyLocked int
}

// SweepExpired: hapus semua lock yang sudah lewat masa berlaku. Stok tidak
// perlu dikoreksi (tidak pernah dikurangi saat lock). Idempotent & aman
// dijalankan paralel: DELETE row yang sudah hilang = no-op.
func (r *LedgerRepo) SweepExpired(ctx context.Context, now time.Time) ([]SweptLock, error) {
	rows, err := r.DB.Query(ctx, `
		DELETE FROM inventory_locks WHERE expires_at < $1
		RETURNING order_id, product_id, quantity_locked`, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var swept []SweptLock
	for rows.Next() {
		var s SweptLock
		if err := rows.Scan(&s.OrderID, &s.ProductID, &s.QtyLocked); err != nil {
			return nil, err
		}
		swept = append(swept, s)
	}
	return swept, rows.Err()
}
