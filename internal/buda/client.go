// Package buda is the HTTP client of the Buda exchange REST API.
package buda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/dalfonso89/crypto-conversion-service/internal/apperror"
	"github.com/dalfonso89/crypto-conversion-service/internal/config"
	"github.com/dalfonso89/crypto-conversion-service/internal/metrics"
	"github.com/dalfonso89/crypto-conversion-service/internal/models"
)

const (
	EndpointTicker  = "ticker"
	EndpointMarkets = "markets"

	maxResponseBytes = 1 << 20
	errorBodyPreview = 256
)

type tickerPayload struct {
	Ticker struct {
		MarketID  string   `json:"market_id"`
		LastPrice []string `json:"last_price"`
	} `json:"ticker"`
}

type marketsPayload struct {
	Markets []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"markets"`
}

// Client issues single-attempt requests against the exchange API. It holds no
// state besides its connection pool.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	logger     logrus.FieldLogger
	metrics    *metrics.Metrics
}

// NewClient creates a client with a bounded connection pool
func NewClient(configuration config.BudaAPI, logger logrus.FieldLogger, metrics *metrics.Metrics) *Client {
	httpTransport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxConnsPerHost:     configuration.MaxConnections,
		MaxIdleConns:        configuration.MaxKeepaliveConnections,
		MaxIdleConnsPerHost: configuration.MaxKeepaliveConnections,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DisableKeepAlives:   configuration.MaxKeepaliveConnections == 0,
	}

	return &Client{
		baseURL:    strings.TrimSuffix(configuration.BaseURL, "/"),
		timeout:    configuration.Timeout,
		httpClient: &http.Client{Transport: httpTransport},
		logger:     logger,
		metrics:    metrics,
	}
}

// GetTicker returns the last traded price of a market
func (client *Client) GetTicker(ctx context.Context, marketID models.MarketID) (models.Ticker, error) {
	details := map[string]interface{}{"market_id": marketID.String()}
	path := "/markets/" + url.PathEscape(marketID.String()) + "/ticker"

	var payload tickerPayload
	if err := client.getJSON(ctx, EndpointTicker, path, &payload, details); err != nil {
		return models.Ticker{}, err
	}

	if len(payload.Ticker.LastPrice) == 0 {
		return models.Ticker{}, apperror.Upstream("ticker response has no last price", nil, details)
	}
	lastPrice, err := decimal.NewFromString(payload.Ticker.LastPrice[0])
	if err != nil {
		return models.Ticker{}, apperror.Upstream("ticker response has an invalid last price", err, details)
	}

	client.logger.WithFields(logrus.Fields{
		"market_id":  marketID,
		"last_price": lastPrice.String(),
	}).Debug("Fetched ticker")

	return models.Ticker{MarketID: marketID, LastPrice: lastPrice}, nil
}

// GetMarkets returns the identifiers of every market listed by the exchange
func (client *Client) GetMarkets(ctx context.Context) ([]models.MarketID, error) {
	var payload marketsPayload
	if err := client.getJSON(ctx, EndpointMarkets, "/markets", &payload, map[string]interface{}{"endpoint": EndpointMarkets}); err != nil {
		return nil, err
	}

	marketIDs := make([]models.MarketID, 0, len(payload.Markets))
	for _, market := range payload.Markets {
		identifier := market.ID
		if identifier == "" {
			identifier = market.Name
		}
		if identifier == "" {
			continue
		}
		marketIDs = append(marketIDs, models.MarketID(strings.ToLower(identifier)))
	}
	return marketIDs, nil
}

// Close releases idle pooled connections
func (client *Client) Close() {
	client.httpClient.CloseIdleConnections()
}

func (client *Client) getJSON(ctx context.Context, endpoint, path string, target interface{}, details map[string]interface{}) error {
	requestContext, cancel := context.WithTimeout(ctx, client.timeout)
	defer cancel()

	started := time.Now()
	err := client.doGet(ctx, requestContext, path, target, details)
	client.metrics.ObserveUpstream(endpoint, outcome(err), time.Since(started))

	if err != nil {
		client.logger.WithFields(logrus.Fields{
			"endpoint": endpoint,
			"path":     path,
			"kind":     apperror.KindOf(err).String(),
		}).Warnf("Exchange API request failed: %v", err)
	}
	return err
}

func (client *Client) doGet(parent, requestContext context.Context, path string, target interface{}, details map[string]interface{}) error {
	request, err := http.NewRequestWithContext(requestContext, http.MethodGet, client.baseURL+path, nil)
	if err != nil {
		return apperror.Wrap(apperror.KindInternal, "failed to create request", err, details)
	}
	request.Header.Set("Accept", "application/json")

	response, err := client.httpClient.Do(request)
	if err != nil {
		return classifyTransportError(parent, requestContext, err, details)
	}
	// drain so the connection goes back to the pool
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, maxResponseBytes))
		response.Body.Close()
	}()

	if response.StatusCode == http.StatusNotFound {
		return apperror.NotFound("market not found on exchange", withStatus(details, response.StatusCode))
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		preview, _ := io.ReadAll(io.LimitReader(response.Body, errorBodyPreview))
		failureDetails := withStatus(details, response.StatusCode)
		failureDetails["body"] = string(preview)
		return apperror.Upstream(fmt.Sprintf("exchange API returned status %d", response.StatusCode), nil, failureDetails)
	}

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return classifyTransportError(parent, requestContext, err, details)
	}
	if err := json.Unmarshal(body, target); err != nil {
		return apperror.Upstream("invalid response from exchange API", err, details)
	}
	return nil
}

// classifyTransportError separates caller cancellation, deadline expiry and
// connection failures.
func classifyTransportError(parent, requestContext context.Context, err error, details map[string]interface{}) error {
	if parentErr := parent.Err(); parentErr != nil {
		if errors.Is(parentErr, context.DeadlineExceeded) {
			return apperror.Timeout("exchange API request timed out", err, details)
		}
		return apperror.Canceled("request canceled", err, details)
	}
	if errors.Is(requestContext.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return apperror.Timeout("exchange API request timed out", err, details)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperror.Timeout("exchange API request timed out", err, details)
	}
	return apperror.Upstream("failed to reach exchange API", err, details)
}

func withStatus(details map[string]interface{}, status int) map[string]interface{} {
	copied := make(map[string]interface{}, len(details)+1)
	for key, value := range details {
		copied[key] = value
	}
	copied["status"] = status
	return copied
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return apperror.KindOf(err).String()
}
