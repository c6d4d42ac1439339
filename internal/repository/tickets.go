package repository

import (
	"context"
	"fmt"

	"github.com/Shivanand-hulikatti/campus-ticketing/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TicketRepository handles persistence for issued tickets.
type TicketRepository struct {
	db *pgxpool.Pool
}

// NewTicketRepository constructs a TicketRepository.
func NewTicketRepository(db *pgxpool.Pool) *TicketRepository {
	return &TicketRepository{db: db}
}

// CreateTickets inserts the lines the order does not have yet and returns
// the order's full ticket set. UNIQUE(order_id, line_no) turns a racing
// second issuance into a no-op, so tokens are minted exactly once.
func (r *TicketRepository) CreateTickets(ctx context.Context, orderID string, tickets []model.TicketRecord) ([]model.TicketRecord, error) {
	var out []model.TicketRecord
	err := inTx(ctx, r.db, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, t := range tickets {
			batch.Queue(
				`INSERT INTO tickets (id, order_id, line_no, event_id, tier_id, redemption_token, issued_at, redeemed)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				 ON CONFLICT DO NOTHING`,
				t.ID, orderID, t.LineNo, t.EventID, t.TierID, t.RedemptionToken, t.IssuedAt, t.Redeemed,
			)
		}
		if batch.Len() > 0 {
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("insert tickets: %w", err)
			}
		}

		var err error
		out, err = listTickets(ctx, tx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListTickets returns the order's tickets in line order.
func (r *TicketRepository) ListTickets(ctx context.Context, orderID string) ([]model.TicketRecord, error) {
	return listTickets(ctx, r.db, orderID)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listTickets(ctx context.Context, q querier, orderID string) ([]model.TicketRecord, error) {
	rows, err := q.Query(ctx,
		`SELECT id, order_id, line_no, event_id, tier_id, redemption_token, issued_at, redeemed
		 FROM tickets
		 WHERE order_id = $1
		 ORDER BY line_no ASC`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	var tickets []model.TicketRecord
	for rows.Next() {
		var t model.TicketRecord
		if err := rows.Scan(&t.ID, &t.OrderID, &t.LineNo, &t.EventID, &t.TierID, &t.RedemptionToken, &t.IssuedAt, &t.Redeemed); err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		t.IssuedAt = utc(t.IssuedAt)
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}
