package service

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"fmt"

	"github.com/Shivanand-hulikatti/campus-ticketing/internal/clock"
	"github.com/Shivanand-hulikatti/campus-ticketing/internal/model"
	"github.com/google/uuid"
)

const tokenBytes = 20

var tokenEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// TicketIssuer mints the redeemable tickets of a paid order.
type TicketIssuer struct {
	tickets TicketStore
	clock   clock.Clock
}

// NewTicketIssuer constructs a TicketIssuer.
func NewTicketIssuer(tickets TicketStore, clk clock.Clock) *TicketIssuer {
	return &TicketIssuer{tickets: tickets, clock: clk}
}

// IssueTickets returns exactly order.Quantity tickets for a paid order.
// It is keyed by order id: once tickets exist they are returned unchanged
// and no new tokens are generated.
func (i *TicketIssuer) IssueTickets(ctx context.Context, order model.Order) ([]model.TicketRecord, error) {
	if order.Status != model.OrderPaid {
		return nil, model.ErrNotPaid
	}

	existing, err := i.tickets.ListTickets(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	if len(existing) >= order.Quantity {
		return existing, nil
	}

	have := make(map[int]bool, len(existing))
	for _, t := range existing {
		have[t.LineNo] = true
	}

	now := i.clock.Now()
	fresh := make([]model.TicketRecord, 0, order.Quantity-len(existing))
	for line := 1; line <= order.Quantity; line++ {
		if have[line] {
			continue
		}
		token, err := newRedemptionToken()
		if err != nil {
			return nil, err
		}
		fresh = append(fresh, model.TicketRecord{
			ID:              uuid.NewString(),
			OrderID:         order.ID,
			LineNo:          line,
			EventID:         order.EventID,
			TierID:          order.TierID,
			RedemptionToken: token,
			IssuedAt:        now,
		})
	}

	issued, err := i.tickets.CreateTickets(ctx, order.ID, fresh)
	if err != nil {
		return nil, fmt.Errorf("create tickets: %w", err)
	}
	if len(issued) != order.Quantity {
		return nil, fmt.Errorf("order %s: issued %d tickets, want %d", order.ID, len(issued), order.Quantity)
	}
	return issued, nil
}

func newRedemptionToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate redemption token: %w", err)
	}
	return tokenEncoding.EncodeToString(b), nil
}
