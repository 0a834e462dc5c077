package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/frahmantamala/qrpay/internal/order"
)

// StatsRepository aggregates dashboard figures with plain SQL.
type StatsRepository struct {
	db *sqlx.DB
}

func NewStatsRepository(db *sqlx.DB) *StatsRepository {
	return &StatsRepository{db: db}
}

const statsQuery = `
SELECT
	COUNT(*) AS total_orders,
	COALESCE(SUM(CASE WHEN state IN (1, 2) THEN 1 ELSE 0 END), 0) AS total_paid,
	COALESCE(SUM(CASE WHEN state IN (1, 2) THEN slot_cents ELSE 0 END), 0) AS total_amount_cents,
	COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0) AS today_orders,
	COALESCE(SUM(CASE WHEN state IN (1, 2) AND paid_at >= ? THEN 1 ELSE 0 END), 0) AS today_paid,
	COALESCE(SUM(CASE WHEN state IN (1, 2) AND paid_at >= ? THEN slot_cents ELSE 0 END), 0) AS today_amount_cents,
	COALESCE(SUM(CASE WHEN state = 0 THEN 1 ELSE 0 END), 0) AS pending,
	COALESCE(SUM(CASE WHEN state = 2 THEN 1 ELSE 0 END), 0) AS notify_failed,
	COALESCE(SUM(CASE WHEN unattributed THEN 1 ELSE 0 END), 0) AS unattributed
FROM pay_orders`

func (r *StatsRepository) Stats(ctx context.Context, since time.Time) (order.Stats, error) {
	var stats order.Stats
	err := r.db.GetContext(ctx, &stats, r.db.Rebind(statsQuery), since, since, since)
	return stats, err
}
