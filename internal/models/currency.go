package models

import (
	"fmt"
	"strings"
)

// FiatCurrency is one of the fiat currencies the service converts between
type FiatCurrency string

const (
	CLP FiatCurrency = "CLP"
	COP FiatCurrency = "COP"
	PEN FiatCurrency = "PEN"
)

// FiatCurrencies lists every supported fiat currency
var FiatCurrencies = []FiatCurrency{CLP, COP, PEN}

// ParseFiatCurrency normalizes a currency code and checks it is supported
func ParseFiatCurrency(code string) (FiatCurrency, error) {
	candidate := FiatCurrency(strings.ToUpper(strings.TrimSpace(code)))
	if !candidate.IsValid() {
		return "", fmt.Errorf("unsupported currency %q, valid currencies: CLP, COP, PEN", code)
	}
	return candidate, nil
}

// IsValid reports whether the currency belongs to the supported set
func (currency FiatCurrency) IsValid() bool {
	for _, supported := range FiatCurrencies {
		if currency == supported {
			return true
		}
	}
	return false
}

func (currency FiatCurrency) String() string {
	return string(currency)
}

// CryptoCurrency is a cryptocurrency used as the bridge asset of a route
type CryptoCurrency string

const (
	BTC CryptoCurrency = "BTC"
	ETH CryptoCurrency = "ETH"
	LTC CryptoCurrency = "LTC"
	BCH CryptoCurrency = "BCH"
)

// CryptoCurrencies is the candidate list in tie-break order.
var CryptoCurrencies = []CryptoCurrency{BTC, ETH, LTC, BCH}

func (currency CryptoCurrency) String() string {
	return string(currency)
}

// MarketID addresses an exchange market, e.g. "btc-clp"
type MarketID string

// NewMarketID builds the lowercase "{crypto}-{fiat}" market identifier
func NewMarketID(crypto CryptoCurrency, fiat FiatCurrency) MarketID {
	return MarketID(strings.ToLower(string(crypto) + "-" + string(fiat)))
}

func (marketID MarketID) String() string {
	return string(marketID)
}
