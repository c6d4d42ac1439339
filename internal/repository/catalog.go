package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Shivanand-hulikatti/campus-ticketing/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TierRepository handles persistence for the ticket tier catalogue.
type TierRepository struct {
	db *pgxpool.Pool
}

// NewTierRepository constructs a TierRepository.
func NewTierRepository(db *pgxpool.Pool) *TierRepository {
	return &TierRepository{db: db}
}

// UpsertTier publishes or reprices a tier. Its inventory row is created
// on first publication and the capacity is never changed afterwards.
func (r *TierRepository) UpsertTier(ctx context.Context, tier model.Tier) error {
	return inTx(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO ticket_tiers (event_id, tier_id, name, price, currency, capacity)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (event_id, tier_id) DO UPDATE
			 SET name = EXCLUDED.name, price = EXCLUDED.price, currency = EXCLUDED.currency, updated_at = NOW()`,
			tier.EventID, tier.TierID, tier.Name, tier.Price, tier.Currency, tier.Capacity,
		); err != nil {
			return fmt.Errorf("upsert tier: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO inventory (event_id, tier_id, total_capacity)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (event_id, tier_id) DO NOTHING`,
			tier.EventID, tier.TierID, tier.Capacity,
		); err != nil {
			return fmt.Errorf("create inventory: %w", err)
		}
		return nil
	})
}

// GetTier returns the tier or model.ErrTierNotFound.
func (r *TierRepository) GetTier(ctx context.Context, key model.TierKey) (model.Tier, error) {
	var t model.Tier
	err := r.db.QueryRow(ctx,
		`SELECT event_id, tier_id, name, price, currency, capacity
		 FROM ticket_tiers WHERE event_id = $1 AND tier_id = $2`,
		key.EventID, key.TierID,
	).Scan(&t.EventID, &t.TierID, &t.Name, &t.Price, &t.Currency, &t.Capacity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Tier{}, model.ErrTierNotFound
		}
		return model.Tier{}, fmt.Errorf("get tier: %w", err)
	}
	return t, nil
}
