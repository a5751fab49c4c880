package mockbackend

import (
	"sync"

	"github.com/fclebinho/zefood.app.customer/zefood"
)

// State manages the mock backend's in-memory data. All methods are safe for
// concurrent use; tests mutate it while the client under test is running.
type State struct {
	mu        sync.RWMutex
	orders    map[string]*zefood.Order
	summaries []zefood.OrderSummary
	snapshots map[string]*zefood.TrackingSnapshot
	authFail  bool
}

func NewState() *State {
	return &State{
		orders:    make(map[string]*zefood.Order),
		snapshots: make(map[string]*zefood.TrackingSnapshot),
	}
}

// SeedOrder installs an order and its list row. Re-seeding an id replaces
// both.
func (s *State) SeedOrder(order zefood.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := order
	s.orders[order.ID] = &stored

	summary := zefood.OrderSummary{
		ID:        order.ID,
		Status:    order.Status,
		Total:     order.Total,
		ItemCount: len(order.Items),
		CreatedAt: order.CreatedAt,
	}
	if order.Restaurant != nil {
		summary.RestaurantName = order.Restaurant.Name
	}
	for i, existing := range s.summaries {
		if existing.ID == order.ID {
			s.summaries[i] = summary
			return
		}
	}
	s.summaries = append(s.summaries, summary)
}

// SeedSnapshot installs the tracking snapshot served for an order.
func (s *State) SeedSnapshot(snap zefood.TrackingSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := snap
	s.snapshots[snap.OrderID] = &stored
}

// SetOrderStatus updates an order's status in both the detail and the list
// row. Unknown ids are ignored.
func (s *State) SetOrderStatus(orderID string, status zefood.OrderStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if order, ok := s.orders[orderID]; ok {
		order.Status = status
	}
	for i := range s.summaries {
		if s.summaries[i].ID == orderID {
			s.summaries[i].Status = status
		}
	}
}

// SetPaymentStatus updates an order's payment status. Unknown ids are
// ignored.
func (s *State) SetPaymentStatus(orderID string, status zefood.PaymentStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if order, ok := s.orders[orderID]; ok {
		order.PaymentStatus = status
	}
}

// SetAuthFailure makes every REST endpoint answer 401 until cleared.
func (s *State) SetAuthFailure(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authFail = fail
}

func (s *State) authFailing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authFail
}

func (s *State) getOrder(orderID string) (*zefood.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[orderID]
	if !ok {
		return nil, false
	}
	copied := *order
	return &copied, true
}

func (s *State) getSnapshot(orderID string) (*zefood.TrackingSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[orderID]
	if !ok {
		return nil, false
	}
	return snap.Clone(), true
}

func (s *State) listSummaries(page, perPage int) (rows []zefood.OrderSummary, total int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total = len(s.summaries)
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	start := (page - 1) * perPage
	if start >= total {
		return nil, total
	}
	end := start + perPage
	if end > total {
		end = total
	}
	rows = append(rows, s.summaries[start:end]...)
	return rows, total
}
