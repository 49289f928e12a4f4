package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"cb-dca-bot/internal/state"
	"cb-dca-bot/internal/venue"

	"go.uber.org/zap"
)

// mockVenue scripts venue behavior per call. Submit results are consumed
// in order with the last one repeating; order states are consumed per
// order id the same way.
type mockVenue struct {
	mu sync.Mutex

	product    venue.ProductInfo
	productErr error

	limitResults []venue.SubmitResult
	limitErr     error
	limitReqs    []venue.LimitOrderRequest

	marketResults []venue.SubmitResult
	marketErr     error
	marketReqs    []venue.MarketOrderRequest

	states    map[string][]venue.OrderState
	cancelErr error
	cancelled []string

	balances []venue.Balance
}

func (m *mockVenue) GetProduct(ctx context.Context, productID string) (venue.ProductInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.productErr != nil {
		return venue.ProductInfo{}, m.productErr
	}
	return m.product, nil
}

func (m *mockVenue) SubmitLimitOrder(ctx context.Context, req venue.LimitOrderRequest) (venue.SubmitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limitReqs = append(m.limitReqs, req)
	if m.limitErr != nil {
		return venue.SubmitResult{}, m.limitErr
	}
	return m.nextResult(&m.limitResults), nil
}

func (m *mockVenue) SubmitMarketOrder(ctx context.Context, req venue.MarketOrderRequest) (venue.SubmitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marketReqs = append(m.marketReqs, req)
	if m.marketErr != nil {
		return venue.SubmitResult{}, m.marketErr
	}
	return m.nextResult(&m.marketResults), nil
}

func (m *mockVenue) nextResult(queue *[]venue.SubmitResult) venue.SubmitResult {
	if len(*queue) == 0 {
		return venue.SubmitResult{Success: true, OrderID: fmt.Sprintf("auto-%d", len(m.limitReqs)+len(m.marketReqs))}
	}
	res := (*queue)[0]
	if len(*queue) > 1 {
		*queue = (*queue)[1:]
	}
	return res
}

func (m *mockVenue) CancelOrder(ctx context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, orderID)
	return m.cancelErr
}

func (m *mockVenue) GetOrder(ctx context.Context, orderID string) (venue.OrderState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	queue := m.states[orderID]
	if len(queue) == 0 {
		return venue.OrderState{}, fmt.Errorf("unknown order %s", orderID)
	}
	state := queue[0]
	if len(queue) > 1 {
		m.states[orderID] = queue[1:]
	}
	return state, nil
}

func (m *mockVenue) ListBalances(ctx context.Context) ([]venue.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances, nil
}

func (m *mockVenue) limitRequests() []venue.LimitOrderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]venue.LimitOrderRequest(nil), m.limitReqs...)
}

func (m *mockVenue) marketRequests() []venue.MarketOrderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]venue.MarketOrderRequest(nil), m.marketReqs...)
}

func (m *mockVenue) cancelledOrders() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.cancelled...)
}

func testTuning() Tuning {
	return Tuning{
		TerminalPollInterval: time.Millisecond,
		TerminalWaitCap:      50 * time.Millisecond,
		MinFirstRest:         time.Millisecond,
		MaxIterations:        10,
		DustNotional:         dec("0.01"),
	}
}

// newTestEngine wires an engine with deterministic idempotency keys
// (k1, k2, ...) and shrunken wait windows.
func newTestEngine(v venue.Venue) *Engine {
	return newTestEngineWithStore(v, nil)
}

func newTestEngineWithStore(v venue.Venue, st state.Store) *Engine {
	e := New(v, st, nil, nil, zap.NewNop(), testTuning())
	var n int
	e.newKey = func() string {
		n++
		return fmt.Sprintf("k%d", n)
	}
	return e
}

// memStore is an in-memory state.Store for asserting persisted records.
type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]string)}
}

func (s *memStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *memStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *memStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *memStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *memStore) Close() error { return nil }

