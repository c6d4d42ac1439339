package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/campus-ticketing/internal/clock"
	"github.com/Shivanand-hulikatti/campus-ticketing/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const holdColumns = `id, event_id, tier_id, quantity, status, expires_at, created_at`

// InventoryRepository is the Postgres inventory ledger.
type InventoryRepository struct {
	db    *pgxpool.Pool
	clock clock.Clock
}

// NewInventoryRepository constructs an InventoryRepository.
func NewInventoryRepository(db *pgxpool.Pool, clk clock.Clock) *InventoryRepository {
	return &InventoryRepository{db: db, clock: clk}
}

// Inventory returns the tier's counters.
func (r *InventoryRepository) Inventory(ctx context.Context, key model.TierKey) (model.Inventory, error) {
	inv, err := scanInventory(r.db.QueryRow(ctx,
		`SELECT event_id, tier_id, total_capacity, sold_count, held_count
		 FROM inventory WHERE event_id = $1 AND tier_id = $2`,
		key.EventID, key.TierID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Inventory{}, model.ErrTierNotFound
		}
		return model.Inventory{}, fmt.Errorf("get inventory: %w", err)
	}
	return inv, nil
}

// TryHold reserves quantity units of the tier for ttl.
//
// The inventory row is locked with SELECT ... FOR UPDATE before the
// capacity check, so two transactions can never both see the same free
// units. A competing TryHold blocks until this one commits and then
// re-reads the updated counters.
func (r *InventoryRepository) TryHold(ctx context.Context, key model.TierKey, quantity int, ttl time.Duration) (model.Hold, error) {
	if quantity <= 0 {
		return model.Hold{}, model.ErrInvalidQuantity
	}

	var hold model.Hold
	err := inTx(ctx, r.db, func(tx pgx.Tx) error {
		inv, err := scanInventory(tx.QueryRow(ctx,
			`SELECT event_id, tier_id, total_capacity, sold_count, held_count
			 FROM inventory
			 WHERE event_id = $1 AND tier_id = $2
			 FOR UPDATE`,
			key.EventID, key.TierID,
		))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return model.ErrTierNotFound
			}
			return fmt.Errorf("lock inventory row: %w", err)
		}
		if !inv.CanHold(quantity) {
			return &model.CapacityError{Key: key, Requested: quantity, Remaining: inv.Remaining()}
		}

		if _, err := tx.Exec(ctx,
			`UPDATE inventory SET held_count = held_count + $3 WHERE event_id = $1 AND tier_id = $2`,
			key.EventID, key.TierID, quantity,
		); err != nil {
			return fmt.Errorf("increment held_count: %w", err)
		}

		now := r.clock.Now()
		hold = model.Hold{
			ID:        uuid.NewString(),
			EventID:   key.EventID,
			TierID:    key.TierID,
			Quantity:  quantity,
			Status:    model.HoldActive,
			ExpiresAt: now.Add(ttl),
			CreatedAt: now,
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO holds (`+holdColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			hold.ID, hold.EventID, hold.TierID, hold.Quantity, hold.Status, hold.ExpiresAt, hold.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert hold: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.Hold{}, err
	}
	return hold, nil
}

// Convert turns an active, unexpired hold into sold units.
func (r *InventoryRepository) Convert(ctx context.Context, holdID string) (model.Hold, bool, error) {
	return r.settle(ctx, holdID, model.HoldConverted)
}

// Release returns an active hold's units. Terminal holds are left as is.
func (r *InventoryRepository) Release(ctx context.Context, holdID string) (model.Hold, bool, error) {
	return r.settle(ctx, holdID, model.HoldReleased)
}

// settle performs the hold's single terminal transition. The hold row is
// locked first so a concurrent convert and release observe each other's
// outcome instead of both moving the counters.
func (r *InventoryRepository) settle(ctx context.Context, holdID string, to model.HoldStatus) (model.Hold, bool, error) {
	var (
		hold    model.Hold
		changed bool
	)
	err := inTx(ctx, r.db, func(tx pgx.Tx) error {
		var err error
		hold, err = scanHold(tx.QueryRow(ctx,
			`SELECT `+holdColumns+` FROM holds WHERE id = $1 FOR UPDATE`, holdID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return model.ErrHoldNotFound
			}
			return fmt.Errorf("lock hold: %w", err)
		}

		now := r.clock.Now()
		switch {
		case hold.Status == to:
			return nil
		case to == model.HoldReleased && hold.Status != model.HoldActive:
			return nil
		case to == model.HoldConverted && hold.Status == model.HoldReleased:
			return model.ErrHoldReleased
		case to == model.HoldConverted && hold.Expired(now):
			return model.ErrHoldExpired
		}

		soldDelta := 0
		if to == model.HoldConverted {
			soldDelta = hold.Quantity
		}
		if _, err := tx.Exec(ctx,
			`UPDATE inventory
			 SET held_count = held_count - $3, sold_count = sold_count + $4
			 WHERE event_id = $1 AND tier_id = $2`,
			hold.EventID, hold.TierID, hold.Quantity, soldDelta,
		); err != nil {
			return fmt.Errorf("move hold counters: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE holds SET status = $2, settled_at = $3 WHERE id = $1`,
			hold.ID, to, now,
		); err != nil {
			return fmt.Errorf("update hold status: %w", err)
		}
		hold.Status = to
		changed = true
		return nil
	})
	if err != nil {
		return hold, false, err
	}
	return hold, changed, nil
}

// GetHold returns the hold or model.ErrHoldNotFound.
func (r *InventoryRepository) GetHold(ctx context.Context, holdID string) (model.Hold, error) {
	hold, err := scanHold(r.db.QueryRow(ctx, `SELECT `+holdColumns+` FROM holds WHERE id = $1`, holdID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Hold{}, model.ErrHoldNotFound
		}
		return model.Hold{}, fmt.Errorf("get hold: %w", err)
	}
	return hold, nil
}

// ExpiredHolds lists active holds whose TTL elapsed at now, oldest first.
func (r *InventoryRepository) ExpiredHolds(ctx context.Context, now time.Time, limit int) ([]model.Hold, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+holdColumns+`
		 FROM holds
		 WHERE status = 'active' AND expires_at <= $1
		 ORDER BY expires_at ASC
		 LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list expired holds: %w", err)
	}
	defer rows.Close()

	var holds []model.Hold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, fmt.Errorf("scan hold: %w", err)
		}
		holds = append(holds, h)
	}
	return holds, rows.Err()
}

func scanInventory(row pgx.Row) (model.Inventory, error) {
	var inv model.Inventory
	err := row.Scan(&inv.EventID, &inv.TierID, &inv.TotalCapacity, &inv.SoldCount, &inv.HeldCount)
	return inv, err
}

func scanHold(row pgx.Row) (model.Hold, error) {
	var h model.Hold
	if err := row.Scan(&h.ID, &h.EventID, &h.TierID, &h.Quantity, &h.Status, &h.ExpiresAt, &h.CreatedAt); err != nil {
		return model.Hold{}, err
	}
	h.ExpiresAt = utc(h.ExpiresAt)
	h.CreatedAt = utc(h.CreatedAt)
	return h, nil
}
