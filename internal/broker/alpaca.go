package broker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"quantsim/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*AlpacaBroker)(nil)

// AlpacaBroker implements Broker with market orders on the Alpaca trading
// API. Calls are throttled to stay under the account rate limit.
type AlpacaBroker struct {
	client  *alpaca.Client
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewAlpacaBroker creates an AlpacaBroker configured with the given
// credentials and API endpoint.
func NewAlpacaBroker(apiKey, apiSecret, baseURL string) *AlpacaBroker {
	return &AlpacaBroker{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
		limiter: rate.NewLimiter(rate.Limit(3), 5),
		log:     slog.Default().With("component", "alpaca-broker"),
	}
}

// Name returns "alpaca".
func (b *AlpacaBroker) Name() string {
	return "alpaca"
}

// Buy places a day market buy order.
func (b *AlpacaBroker) Buy(ctx context.Context, symbol string, qty int64, price float64) (Fill, error) {
	return b.place(ctx, symbol, alpaca.Buy, domain.SideBuy, qty, price)
}

// Sell places a day market sell order.
func (b *AlpacaBroker) Sell(ctx context.Context, symbol string, qty int64, price float64) (Fill, error) {
	return b.place(ctx, symbol, alpaca.Sell, domain.SideSell, qty, price)
}

func (b *AlpacaBroker) place(ctx context.Context, symbol string, side alpaca.Side, dside domain.Side, qty int64, price float64) (Fill, error) {
	if qty <= 0 {
		return Fill{}, fmt.Errorf("alpaca %s %s: %w", side, symbol, domain.ErrInvalidQuantity)
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return Fill{}, err
	}

	clientID := ClientOrderID(ctx)
	if clientID == "" {
		clientID = uuid.NewString()
	}
	q := decimal.NewFromInt(qty)
	order, err := b.client.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:        symbol,
		Qty:           &q,
		Side:          side,
		Type:          alpaca.Market,
		TimeInForce:   alpaca.Day,
		ClientOrderID: clientID,
	})
	if err != nil {
		// The order may have been accepted with its response lost, or by an
		// earlier attempt with the same id; only a missing order is a failure.
		if werr := b.limiter.Wait(ctx); werr != nil {
			return Fill{}, werr
		}
		placed, lerr := b.client.GetOrderByClientOrderID(clientID)
		if lerr != nil {
			return Fill{}, fmt.Errorf("placing alpaca %s order for %s: %w", side, symbol, err)
		}
		b.log.Warn("order found after failed submit", "symbol", symbol, "clientOrderID", clientID, "err", err)
		order = placed
	}

	f := Fill{OrderID: order.ID, Symbol: symbol, Side: dside, Qty: qty, Price: price}
	if order.FilledAvgPrice != nil && order.FilledAvgPrice.IsPositive() {
		f.Price = order.FilledAvgPrice.InexactFloat64()
	}
	return f, nil
}

// GetPositions returns whole-share positions from the Alpaca account.
func (b *AlpacaBroker) GetPositions(ctx context.Context) ([]domain.Position, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	ps, err := b.client.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("fetching alpaca positions: %w", err)
	}
	out := make([]domain.Position, 0, len(ps))
	for _, p := range ps {
		out = append(out, domain.Position{
			Symbol:   p.Symbol,
			Qty:      p.Qty.IntPart(),
			AvgPrice: p.AvgEntryPrice.InexactFloat64(),
		})
	}
	return out, nil
}

// GetAccount returns the current account balances.
func (b *AlpacaBroker) GetAccount(ctx context.Context) (*domain.AccountInfo, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	acct, err := b.client.GetAccount()
	if err != nil {
		return nil, fmt.Errorf("fetching alpaca account: %w", err)
	}
	return &domain.AccountInfo{
		Equity:      acct.Equity.InexactFloat64(),
		Cash:        acct.Cash.InexactFloat64(),
		BuyingPower: acct.BuyingPower.InexactFloat64(),
	}, nil
}
