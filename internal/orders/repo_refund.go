package orders

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RefundRepo struct{ DB *pgxpool.Pool }

// CreateRefund: simpan refund. Utk reason full-order (cancellation /
// refused_delivery) maksimal satu refund aktif per order -- insert kedua
// jadi no-op (idempotent), dijaga partial unique index di schema.
// created=false artinya refund utk order ini sudah ada.
func (r *RefundRepo) CreateRefund(ctx context.Context, rf *Refund) (created bool, err error) {
	if rf.ID == "" {
		rf.ID = uuid.NewString()
	}
	if rf.Status == "" {
		rf.Status = RefundRequested
	}
	ct, err := r.DB.Exec(ctx, `
		INSERT INTO refunds(id, order_id, amount_cents, reason, status)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (order_id) WHERE reason IN ('cancellation','refused_delivery') DO NOTHING`,
		rf.ID, rf.OrderID, rf.AmountCents, string(rf.Reason), string(rf.Status))
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *RefundRepo) ListByOrder(ctx context.Context, orderID string) ([]Refund, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, amount_cents, reason, status, COALESCE(external_refund_id,''),
		       created_at, updated_at
		FROM refunds WHERE order_id=$1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Refund
	for rows.Next() {
		var rf Refund
		if err := rows.Scan(&rf.ID, &rf.OrderID, &rf.AmountCents, &rf.Reason, &rf.Status,
			&rf.ExternalRefundID, &rf.CreatedAt, &rf.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rf)
	}
	return out, rows.Err()
}
