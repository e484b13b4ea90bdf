package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ticker is the latest traded price of a market
type Ticker struct {
	MarketID  MarketID        `json:"market_id"`
	LastPrice decimal.Decimal `json:"last_price"`
}

// ConversionQuote is the result of routing an amount through the best intermediary
type ConversionQuote struct {
	FromCurrency         FiatCurrency    `json:"from_currency"`
	ToCurrency           FiatCurrency    `json:"to_currency"`
	OriginalAmount       decimal.Decimal `json:"original_amount"`
	FinalAmount          decimal.Decimal `json:"final_amount"`
	IntermediateCurrency CryptoCurrency  `json:"intermediate_currency"`
	EffectiveRate        decimal.Decimal `json:"effective_rate"`
	Timestamp            time.Time       `json:"timestamp"`
}

// CacheEntry holds a serialized value until ExpiresAt. Entries are replaced, never mutated.
type CacheEntry struct {
	Key       string
	Value     []byte
	ExpiresAt time.Time
}

// Expired reports whether the entry must no longer be served
func (entry CacheEntry) Expired(now time.Time) bool {
	return !now.Before(entry.ExpiresAt)
}

// ConvertQuery is the query string of GET /convert
type ConvertQuery struct {
	FromCurrency string `form:"from_currency" binding:"required"`
	ToCurrency   string `form:"to_currency" binding:"required"`
	// numeric excludes exponent notation, which would make decimal scaling unbounded
	Amount       string `form:"amount" binding:"required,numeric,max=64"`
}

type ConversionResponse struct {
	FinalAmount          decimal.Decimal `json:"final_amount"`
	IntermediateCurrency string          `json:"intermediate_currency"`
	FromCurrency         string          `json:"from_currency"`
	ToCurrency           string          `json:"to_currency"`
	OriginalAmount       decimal.Decimal `json:"original_amount"`
	ConversionRate       decimal.Decimal `json:"conversion_rate"`
	Timestamp            time.Time       `json:"timestamp"`
}

type HealthCheck struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Uptime    string    `json:"uptime,omitempty"`
}

type ReadinessResponse struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
	ChecksPassed int               `json:"checks_passed"`
	ChecksTotal  int               `json:"checks_total"`
	Timestamp    time.Time         `json:"timestamp"`
}

type DetailedStatus struct {
	Application  ApplicationStatus `json:"application"`
	Dependencies map[string]string `json:"dependencies"`
	Checks       ChecksSummary     `json:"checks"`
	CircuitState string            `json:"circuit_state"`
	Timestamp    time.Time         `json:"timestamp"`
}

type ApplicationStatus struct {
	Status string `json:"status"`
	Ready  bool   `json:"ready"`
}

type ChecksSummary struct {
	Passed      int    `json:"passed"`
	Total       int    `json:"total"`
	SuccessRate string `json:"success_rate"`
}

type ErrorResponse struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Path    string                 `json:"path"`
	Code    int                    `json:"code"`
}
