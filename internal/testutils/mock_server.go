package testutils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dalfonso89/crypto-conversion-service/internal/models"
)

// DefaultPrices are the last prices served by a fresh MockBudaServer
var DefaultPrices = map[models.MarketID]string{
	"btc-clp": "60000000.0",
	"btc-cop": "250000000.0",
	"btc-pen": "240000.0",
	"eth-clp": "3000000.0",
	"eth-cop": "12500000.0",
	"eth-pen": "12000.0",
	"ltc-clp": "80000.0",
	"ltc-cop": "330000.0",
	"ltc-pen": "320.0",
	"bch-clp": "400000.0",
	"bch-cop": "1700000.0",
	"bch-pen": "1600.0",
}

// MockBudaServer emulates the Buda REST API for ticker and market list requests
type MockBudaServer struct {
	server *httptest.Server

	mutex         sync.RWMutex
	prices        map[models.MarketID]string
	statuses      map[models.MarketID]int
	rawTickers    map[models.MarketID]string
	marketsStatus int
	delay         time.Duration
	requests      map[string]int
}

// NewMockBudaServer starts a mock server serving DefaultPrices
func NewMockBudaServer() *MockBudaServer {
	mock := &MockBudaServer{
		prices:     make(map[models.MarketID]string, len(DefaultPrices)),
		statuses:   make(map[models.MarketID]int),
		rawTickers: make(map[models.MarketID]string),
		requests:   make(map[string]int),
	}
	for marketID, price := range DefaultPrices {
		mock.prices[marketID] = price
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.handler))
	return mock
}

// NewMockBudaServerWithPrices starts a mock server that only knows the given markets
func NewMockBudaServerWithPrices(prices map[models.MarketID]string) *MockBudaServer {
	mock := NewMockBudaServer()
	mock.mutex.Lock()
	mock.prices = make(map[models.MarketID]string, len(prices))
	for marketID, price := range prices {
		mock.prices[marketID] = price
	}
	mock.mutex.Unlock()
	return mock
}

func (m *MockBudaServer) handler(w http.ResponseWriter, r *http.Request) {
	m.mutex.Lock()
	m.requests[r.URL.Path]++
	delay := m.delay
	m.mutex.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case path == "/markets":
		m.serveMarkets(w)
	case strings.HasPrefix(path, "/markets/") && strings.HasSuffix(path, "/ticker"):
		marketID := models.MarketID(strings.TrimSuffix(strings.TrimPrefix(path, "/markets/"), "/ticker"))
		m.serveTicker(w, marketID)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not found", "code": "not_found"})
	}
}

func (m *MockBudaServer) serveMarkets(w http.ResponseWriter) {
	m.mutex.RLock()
	status := m.marketsStatus
	ids := make([]string, 0, len(m.prices))
	for marketID := range m.prices {
		ids = append(ids, strings.ToUpper(marketID.String()))
	}
	m.mutex.RUnlock()

	if status != 0 && status != http.StatusOK {
		writeJSON(w, status, map[string]string{"message": http.StatusText(status)})
		return
	}

	sort.Strings(ids)
	markets := make([]map[string]string, 0, len(ids))
	for _, id := range ids {
		markets = append(markets, map[string]string{"id": id, "name": strings.ToLower(id)})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"markets": markets})
}

func (m *MockBudaServer) serveTicker(w http.ResponseWriter, marketID models.MarketID) {
	m.mutex.RLock()
	status, forced := m.statuses[marketID]
	raw, hasRaw := m.rawTickers[marketID]
	price, found := m.prices[marketID]
	m.mutex.RUnlock()

	switch {
	case forced:
		writeJSON(w, status, map[string]string{"message": http.StatusText(status)})
	case hasRaw:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(raw))
	case !found:
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not found", "code": "not_found"})
	default:
		quote := strings.ToUpper(marketID.String()[strings.Index(marketID.String(), "-")+1:])
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ticker": map[string]interface{}{
				"market_id":  strings.ToUpper(marketID.String()),
				"last_price": []string{price, quote},
				"volume":     []string{"12.5", "BTC"},
			},
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// URL returns the mock server URL
func (m *MockBudaServer) URL() string {
	return m.server.URL
}

// Close closes the mock server
func (m *MockBudaServer) Close() {
	m.server.Close()
}

// SetPrice sets the last price of a market, adding the market when missing
func (m *MockBudaServer) SetPrice(marketID models.MarketID, price string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.prices[marketID] = price
}

// RemoveMarket makes the market answer 404
func (m *MockBudaServer) RemoveMarket(marketID models.MarketID) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.prices, marketID)
}

// SetStatus forces the ticker endpoint of a market to answer with status
func (m *MockBudaServer) SetStatus(marketID models.MarketID, status int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.statuses[marketID] = status
}

// SetRawTicker makes the ticker endpoint of a market answer 200 with body
func (m *MockBudaServer) SetRawTicker(marketID models.MarketID, body string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.rawTickers[marketID] = body
}

// SetMarketsStatus forces the market list endpoint to answer with status
func (m *MockBudaServer) SetMarketsStatus(status int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.marketsStatus = status
}

// SetDelay delays every response
func (m *MockBudaServer) SetDelay(delay time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.delay = delay
}

// RequestCount returns how many requests hit path
func (m *MockBudaServer) RequestCount(path string) int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.requests[path]
}

// TickerRequestCount returns how many ticker requests hit the market
func (m *MockBudaServer) TickerRequestCount(marketID models.MarketID) int {
	return m.RequestCount("/markets/" + marketID.String() + "/ticker")
}

// TotalRequests returns how many requests the server received
func (m *MockBudaServer) TotalRequests() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	total := 0
	for _, count := range m.requests {
		total += count
	}
	return total
}
