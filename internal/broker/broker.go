// Package broker defines the Broker interface the simulation driver routes
// fills through, with a simulator for backtests and an Alpaca implementation
// for the live cycle.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"quantsim/internal/domain"
	"quantsim/internal/util"
)

// Fill is an executed order as reported by the broker.
type Fill struct {
	OrderID string
	Symbol  string
	Side    domain.Side
	Qty     int64
	Price   float64
}

// Broker abstracts order execution and account state.
type Broker interface {
	// Name returns the broker identifier (e.g. "alpaca", "simulator").
	Name() string

	// Buy executes a buy of qty shares. price is the bar close the decision
	// was made on; simulated brokers fill at it.
	Buy(ctx context.Context, symbol string, qty int64, price float64) (Fill, error)

	// Sell executes a sell of qty shares.
	Sell(ctx context.Context, symbol string, qty int64, price float64) (Fill, error)

	// GetPositions returns all current positions held at the brokerage.
	GetPositions(ctx context.Context) ([]domain.Position, error)

	// GetAccount returns a snapshot of the account's financial metrics.
	GetAccount(ctx context.Context) (*domain.AccountInfo, error)
}

type clientOrderIDKey struct{}

// WithClientOrderID tags the order placed with ctx. Brokers that support
// idempotent submission send it so a resent order is not placed twice.
func WithClientOrderID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, clientOrderIDKey{}, id)
}

// ClientOrderID returns the id set by WithClientOrderID, or "".
func ClientOrderID(ctx context.Context) string {
	id, _ := ctx.Value(clientOrderIDKey{}).(string)
	return id
}

// ---------------------------------------------------------------------------
// Retrying
// ---------------------------------------------------------------------------

// Compile-time interface check.
var _ Broker = (*Retrying)(nil)

// Retrying wraps a Broker so every call is attempted a bounded number of
// times with a constant delay. All attempts of one order share a client
// order id.
type Retrying struct {
	next     Broker
	attempts int
	delay    time.Duration
}

// WithRetry wraps b. attempts below 1 are treated as 1.
func WithRetry(b Broker, attempts int, delay time.Duration) *Retrying {
	if attempts < 1 {
		attempts = 1
	}
	return &Retrying{next: b, attempts: attempts, delay: delay}
}

func (r *Retrying) Name() string { return r.next.Name() }

func (r *Retrying) Buy(ctx context.Context, symbol string, qty int64, price float64) (Fill, error) {
	ctx = orderContext(ctx)
	var f Fill
	err := util.RetryConstant(ctx, r.attempts, r.delay, func() error {
		var err error
		f, err = r.next.Buy(ctx, symbol, qty, price)
		return permanent(err)
	})
	if err != nil {
		return Fill{}, fmt.Errorf("%s buy %s after %d attempts: %w", r.next.Name(), symbol, r.attempts, err)
	}
	return f, nil
}

func (r *Retrying) Sell(ctx context.Context, symbol string, qty int64, price float64) (Fill, error) {
	ctx = orderContext(ctx)
	var f Fill
	err := util.RetryConstant(ctx, r.attempts, r.delay, func() error {
		var err error
		f, err = r.next.Sell(ctx, symbol, qty, price)
		return permanent(err)
	})
	if err != nil {
		return Fill{}, fmt.Errorf("%s sell %s after %d attempts: %w", r.next.Name(), symbol, r.attempts, err)
	}
	return f, nil
}

func orderContext(ctx context.Context) context.Context {
	if ClientOrderID(ctx) != "" {
		return ctx
	}
	return WithClientOrderID(ctx, uuid.NewString())
}

// permanent stops retries for order errors a resend cannot fix.
func permanent(err error) error {
	if errors.Is(err, domain.ErrInvalidQuantity) || errors.Is(err, domain.ErrInsufficientFunds) {
		return util.Permanent(err)
	}
	return err
}

func (r *Retrying) GetPositions(ctx context.Context) ([]domain.Position, error) {
	var out []domain.Position
	err := util.RetryConstant(ctx, r.attempts, r.delay, func() error {
		var err error
		out, err = r.next.GetPositions(ctx)
		return err
	})
	return out, err
}

func (r *Retrying) GetAccount(ctx context.Context) (*domain.AccountInfo, error) {
	var out *domain.AccountInfo
	err := util.RetryConstant(ctx, r.attempts, r.delay, func() error {
		var err error
		out, err = r.next.GetAccount(ctx)
		return err
	})
	return out, err
}
