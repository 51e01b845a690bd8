// Package rates looks up the local-currency-per-USD exchange rate used to
// display balances in both currencies.
package rates

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"balance-service/internal/domain"
)

// FallbackMinorPerUSD is used whenever the upstream lookup fails or returns
// an implausible value. Balance display degrades, the operation never blocks.
var FallbackMinorPerUSD = decimal.NewFromInt(1600)

// minPlausibleRate rejects responses that are clearly not a minor-units rate.
var minPlausibleRate = decimal.NewFromInt(100)

const cacheTTL = time.Minute

// Provider fetches the current rate with a short in-process cache so the
// notification-heavy paths don't hammer the upstream API. It never returns an
// error: any failure degrades to the fallback constant.
type Provider struct {
	client   *http.Client
	url      string
	currency string
	logger   *slog.Logger

	mu        sync.Mutex
	cached    decimal.Decimal
	fetchedAt time.Time
}

// NewProvider creates a provider reading `currency` out of the upstream
// response's rate table.
func NewProvider(url, currency string, logger *slog.Logger) *Provider {
	return &Provider{
		client:   &http.Client{Timeout: 5 * time.Second},
		url:      url,
		currency: currency,
		logger:   logger,
	}
}

type rateResponse struct {
	Rates map[string]float64 `json:"rates"`
}

// MinorPerUSD returns how many local minor units one USD buys.
func (p *Provider) MinorPerUSD(ctx context.Context) decimal.Decimal {
	p.mu.Lock()
	if !p.fetchedAt.IsZero() && time.Since(p.fetchedAt) < cacheTTL {
		cached := p.cached
		p.mu.Unlock()
		return cached
	}
	p.mu.Unlock()

	rate := p.fetch(ctx)

	p.mu.Lock()
	p.cached = rate
	p.fetchedAt = time.Now()
	p.mu.Unlock()
	return rate
}

func (p *Provider) fetch(ctx context.Context) decimal.Decimal {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return FallbackMinorPerUSD
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Warn("Rate lookup failed, using fallback", "error", err)
		return FallbackMinorPerUSD
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		p.logger.Warn("Rate lookup failed, using fallback", "status", resp.StatusCode)
		return FallbackMinorPerUSD
	}

	var parsed rateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		p.logger.Warn("Rate response unparseable, using fallback", "error", err)
		return FallbackMinorPerUSD
	}

	raw, ok := parsed.Rates[p.currency]
	if !ok {
		p.logger.Warn("Rate response missing currency, using fallback", "currency", p.currency)
		return FallbackMinorPerUSD
	}

	rate := decimal.NewFromFloat(raw)
	if rate.LessThanOrEqual(minPlausibleRate) {
		p.logger.Warn("Rate implausible, using fallback", "rate", rate)
		return FallbackMinorPerUSD
	}
	return rate
}

// ToUSD converts a minor-unit amount at the given rate, rounded to cents.
func ToUSD(minor int64, rate decimal.Decimal) decimal.Decimal {
	if rate.IsZero() {
		return decimal.Zero
	}
	return decimal.NewFromInt(minor).Div(rate).Round(2)
}

var _ domain.RateProvider = (*Provider)(nil)
