package quote

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"papertrade/internal/domain"
)

// Compile-time interface check.
var _ Provider = (*AlpacaProvider)(nil)

// AlpacaProvider quotes the latest trade price from the Alpaca market-data
// API and resolves the company name through the trading API's asset lookup.
type AlpacaProvider struct {
	trading *alpaca.Client
	data    *marketdata.Client
	feed    marketdata.Feed
}

// NewAlpacaProvider creates an AlpacaProvider configured with the given
// credentials. Empty URLs select the SDK defaults.
func NewAlpacaProvider(apiKey, apiSecret, baseURL, dataURL, feed string) *AlpacaProvider {
	dataOpts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		dataOpts.BaseURL = dataURL
	}
	return &AlpacaProvider{
		trading: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
		data: marketdata.NewClient(dataOpts),
		feed: marketdata.Feed(feed),
	}
}

// Name returns "alpaca".
func (p *AlpacaProvider) Name() string {
	return "alpaca"
}

// Lookup resolves the asset and its latest trade. The SDK calls do not take
// a context, so cancellation is checked before each request.
func (p *AlpacaProvider) Lookup(ctx context.Context, symbol string) (*domain.Quote, error) {
	symbol = domain.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("alpaca: empty symbol: %w", ErrNotFound)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	asset, err := p.trading.GetAsset(symbol)
	if err != nil {
		var apiErr *alpaca.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("alpaca: asset %s: %w", symbol, ErrNotFound)
		}
		return nil, fmt.Errorf("alpaca: GetAsset %s: %w", symbol, err)
	}
	if asset == nil || asset.Status != alpaca.AssetActive {
		return nil, fmt.Errorf("alpaca: asset %s inactive: %w", symbol, ErrNotFound)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	trade, err := p.data.GetLatestTrade(symbol, marketdata.GetLatestTradeRequest{Feed: p.feed})
	if err != nil {
		return nil, fmt.Errorf("alpaca: GetLatestTrade %s: %w", symbol, err)
	}
	if trade == nil || trade.Price <= 0 {
		return nil, fmt.Errorf("alpaca: no trades for %s: %w", symbol, ErrNotFound)
	}

	return &domain.Quote{
		Symbol: symbol,
		Name:   asset.Name,
		Price:  decimal.NewFromFloat(trade.Price).Round(4),
	}, nil
}
