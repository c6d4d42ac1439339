// Package memstore keeps the catalogue, inventory ledger, orders and
// tickets in process memory. Each tier's counters and holds are guarded
// by that tier's own mutex, so holds on different tiers never contend.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/campus-ticketing/internal/clock"
	"github.com/Shivanand-hulikatti/campus-ticketing/internal/model"
	"github.com/google/uuid"
)

type tierEntry struct {
	mu   sync.Mutex
	tier model.Tier
	inv  model.Inventory
}

// Store is an in-memory implementation of every storage port.
type Store struct {
	clock clock.Clock

	mu     sync.RWMutex // guards the maps below, not the values' fields
	tiers  map[model.TierKey]*tierEntry
	holds  map[string]*model.Hold
	active map[string]*model.Hold // holds still in status active

	ordersMu sync.RWMutex
	orders   map[string]model.Order
	byRef    map[string]string
	byHold   map[string]string

	ticketsMu sync.RWMutex
	tickets   map[string][]model.TicketRecord
	tokens    map[string]struct{}
}

// New returns an empty Store.
func New(clk clock.Clock) *Store {
	return &Store{
		clock:   clk,
		tiers:   make(map[model.TierKey]*tierEntry),
		holds:   make(map[string]*model.Hold),
		active:  make(map[string]*model.Hold),
		orders:  make(map[string]model.Order),
		byRef:   make(map[string]string),
		byHold:  make(map[string]string),
		tickets: make(map[string][]model.TicketRecord),
		tokens:  make(map[string]struct{}),
	}
}

// ─── Catalogue ───────────────────────────────────────────────────────────────

// UpsertTier publishes or reprices a tier. The inventory is created on
// first publication; its capacity never changes afterwards.
func (s *Store) UpsertTier(_ context.Context, tier model.Tier) error {
	key := tier.Key()

	s.mu.Lock()
	e, ok := s.tiers[key]
	if !ok {
		e = &tierEntry{inv: model.Inventory{EventID: key.EventID, TierID: key.TierID, TotalCapacity: tier.Capacity}}
		s.tiers[key] = e
	}
	s.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	tier.Capacity = e.inv.TotalCapacity
	e.tier = tier
	return nil
}

func (s *Store) GetTier(_ context.Context, key model.TierKey) (model.Tier, error) {
	e, ok := s.entry(key)
	if !ok {
		return model.Tier{}, model.ErrTierNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tier, nil
}

func (s *Store) entry(key model.TierKey) (*tierEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.tiers[key]
	return e, ok
}

// ─── Ledger ──────────────────────────────────────────────────────────────────

func (s *Store) Inventory(_ context.Context, key model.TierKey) (model.Inventory, error) {
	e, ok := s.entry(key)
	if !ok {
		return model.Inventory{}, model.ErrTierNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inv, nil
}

func (s *Store) TryHold(ctx context.Context, key model.TierKey, quantity int, ttl time.Duration) (model.Hold, error) {
	if quantity <= 0 {
		return model.Hold{}, model.ErrInvalidQuantity
	}
	e, ok := s.entry(key)
	if !ok {
		return model.Hold{}, model.ErrTierNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return model.Hold{}, err
	}
	if !e.inv.CanHold(quantity) {
		return model.Hold{}, &model.CapacityError{Key: key, Requested: quantity, Remaining: e.inv.Remaining()}
	}

	now := s.clock.Now()
	h := &model.Hold{
		ID:        uuid.NewString(),
		EventID:   key.EventID,
		TierID:    key.TierID,
		Quantity:  quantity,
		Status:    model.HoldActive,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	s.mu.Lock()
	s.holds[h.ID] = h
	s.active[h.ID] = h
	s.mu.Unlock()
	e.inv.HeldCount += quantity
	return *h, nil
}

func (s *Store) Convert(_ context.Context, holdID string) (model.Hold, bool, error) {
	h, e, err := s.lockHold(holdID)
	if err != nil {
		return model.Hold{}, false, err
	}
	defer e.mu.Unlock()

	switch h.Status {
	case model.HoldConverted:
		return *h, false, nil
	case model.HoldReleased:
		return *h, false, model.ErrHoldReleased
	}
	if h.Expired(s.clock.Now()) {
		return *h, false, model.ErrHoldExpired
	}
	h.Status = model.HoldConverted
	e.inv.HeldCount -= h.Quantity
	e.inv.SoldCount += h.Quantity
	s.deactivate(h.ID)
	return *h, true, nil
}

func (s *Store) Release(_ context.Context, holdID string) (model.Hold, bool, error) {
	h, e, err := s.lockHold(holdID)
	if err != nil {
		return model.Hold{}, false, err
	}
	defer e.mu.Unlock()

	if h.Status != model.HoldActive {
		return *h, false, nil
	}
	h.Status = model.HoldReleased
	e.inv.HeldCount -= h.Quantity
	s.deactivate(h.ID)
	return *h, true, nil
}

// deactivate drops a settled hold from the sweep index. Callers hold the
// tier mutex, which is always taken before s.mu.
func (s *Store) deactivate(holdID string) {
	s.mu.Lock()
	delete(s.active, holdID)
	s.mu.Unlock()
}

func (s *Store) GetHold(_ context.Context, holdID string) (model.Hold, error) {
	h, e, err := s.lockHold(holdID)
	if err != nil {
		return model.Hold{}, err
	}
	defer e.mu.Unlock()
	return *h, nil
}

func (s *Store) ExpiredHolds(_ context.Context, now time.Time, limit int) ([]model.Hold, error) {
	s.mu.RLock()
	candidates := make([]*model.Hold, 0, len(s.active))
	for _, h := range s.active {
		candidates = append(candidates, h)
	}
	s.mu.RUnlock()

	var out []model.Hold
	for _, h := range candidates {
		e, ok := s.entry(h.Key())
		if !ok {
			continue
		}
		e.mu.Lock()
		if h.Status == model.HoldActive && h.Expired(now) {
			out = append(out, *h)
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// lockHold returns the hold with its tier locked. The caller unlocks.
func (s *Store) lockHold(holdID string) (*model.Hold, *tierEntry, error) {
	s.mu.RLock()
	h, ok := s.holds[holdID]
	var e *tierEntry
	if ok {
		e = s.tiers[h.Key()]
	}
	s.mu.RUnlock()
	if !ok || e == nil {
		return nil, nil, model.ErrHoldNotFound
	}
	e.mu.Lock()
	return h, e, nil
}

// ─── Orders ──────────────────────────────────────────────────────────────────

func (s *Store) CreateOrder(_ context.Context, order model.Order) error {
	s.ordersMu.Lock()
	defer s.ordersMu.Unlock()
	if _, ok := s.orders[order.ID]; ok {
		return model.ErrDuplicate
	}
	if _, ok := s.byHold[order.HoldID]; ok {
		return model.ErrDuplicate
	}
	s.orders[order.ID] = order
	s.byHold[order.HoldID] = order.ID
	if order.GatewayOrderRef != "" {
		s.byRef[order.GatewayOrderRef] = order.ID
	}
	return nil
}

func (s *Store) GetOrder(_ context.Context, id string) (model.Order, error) {
	s.ordersMu.RLock()
	defer s.ordersMu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return model.Order{}, model.ErrOrderNotFound
	}
	return o, nil
}

func (s *Store) GetOrderByGatewayRef(ctx context.Context, ref string) (model.Order, error) {
	s.ordersMu.RLock()
	id, ok := s.byRef[ref]
	s.ordersMu.RUnlock()
	if !ok {
		return model.Order{}, model.ErrOrderNotFound
	}
	return s.GetOrder(ctx, id)
}

func (s *Store) GetOrderByHoldID(ctx context.Context, holdID string) (model.Order, error) {
	s.ordersMu.RLock()
	id, ok := s.byHold[holdID]
	s.ordersMu.RUnlock()
	if !ok {
		return model.Order{}, model.ErrOrderNotFound
	}
	return s.GetOrder(ctx, id)
}

func (s *Store) TransitionOrder(_ context.Context, id string, t model.Transition) (model.Order, error) {
	s.ordersMu.Lock()
	defer s.ordersMu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return model.Order{}, model.ErrOrderNotFound
	}
	if !statusIn(o.Status, t.From) || !model.CanTransition(o.Status, t.To) {
		return o, model.ErrInvalidTransition
	}
	if t.GatewayOrderRef != "" {
		if other, taken := s.byRef[t.GatewayOrderRef]; taken && other != id {
			return o, model.ErrDuplicate
		}
		o.GatewayOrderRef = t.GatewayOrderRef
		s.byRef[t.GatewayOrderRef] = id
	}
	if t.PaymentRef != "" {
		o.PaymentRef = t.PaymentRef
	}
	if t.FailureReason != "" {
		o.FailureReason = t.FailureReason
	}
	o.Status = t.To
	o.UpdatedAt = t.At
	s.orders[id] = o
	return o, nil
}

func (s *Store) ListStaleOrders(_ context.Context, statuses []model.OrderStatus, updatedBefore time.Time, limit int) ([]model.Order, error) {
	s.ordersMu.RLock()
	var out []model.Order
	for _, o := range s.orders {
		if statusIn(o.Status, statuses) && o.UpdatedAt.Before(updatedBefore) {
			out = append(out, o)
		}
	}
	s.ordersMu.RUnlock()
	return limitOrders(out, limit), nil
}

func (s *Store) ListUnissuedOrders(_ context.Context, limit int) ([]model.Order, error) {
	s.ordersMu.RLock()
	var paid []model.Order
	for _, o := range s.orders {
		if o.Status == model.OrderPaid {
			paid = append(paid, o)
		}
	}
	s.ordersMu.RUnlock()

	s.ticketsMu.RLock()
	var out []model.Order
	for _, o := range paid {
		if len(s.tickets[o.ID]) < o.Quantity {
			out = append(out, o)
		}
	}
	s.ticketsMu.RUnlock()
	return limitOrders(out, limit), nil
}

func statusIn(st model.OrderStatus, set []model.OrderStatus) bool {
	for _, s := range set {
		if s == st {
			return true
		}
	}
	return false
}

func limitOrders(orders []model.Order, limit int) []model.Order {
	sort.Slice(orders, func(i, j int) bool { return orders[i].UpdatedAt.Before(orders[j].UpdatedAt) })
	if limit > 0 && len(orders) > limit {
		return orders[:limit]
	}
	return orders
}

// ─── Tickets ─────────────────────────────────────────────────────────────────

func (s *Store) CreateTickets(_ context.Context, orderID string, tickets []model.TicketRecord) ([]model.TicketRecord, error) {
	s.ticketsMu.Lock()
	defer s.ticketsMu.Unlock()

	existing := s.tickets[orderID]
	have := make(map[int]bool, len(existing))
	for _, t := range existing {
		have[t.LineNo] = true
	}
	for _, t := range tickets {
		if have[t.LineNo] {
			continue
		}
		if _, dup := s.tokens[t.RedemptionToken]; dup {
			continue
		}
		have[t.LineNo] = true
		s.tokens[t.RedemptionToken] = struct{}{}
		existing = append(existing, t)
	}
	sort.Slice(existing, func(i, j int) bool { return existing[i].LineNo < existing[j].LineNo })
	s.tickets[orderID] = existing
	return append([]model.TicketRecord(nil), existing...), nil
}

func (s *Store) ListTickets(_ context.Context, orderID string) ([]model.TicketRecord, error) {
	s.ticketsMu.RLock()
	defer s.ticketsMu.RUnlock()
	return append([]model.TicketRecord(nil), s.tickets[orderID]...), nil
}
