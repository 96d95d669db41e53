// Package domain holds the core value types shared across quantsim: bars,
// exit policies, trade events, and simulation jobs.
package domain

import (
	"math"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// Market identifies the exchange a symbol trades on.
type Market string

const (
	MarketUS Market = "us"
	MarketKR Market = "kr"
)

// Interval is the bar granularity.
type Interval string

const (
	IntervalDay   Interval = "day"
	IntervalWeek  Interval = "week"
	IntervalMonth Interval = "month"
)

// ParseInterval maps user input to an Interval. Empty input means daily.
func ParseInterval(s string) (Interval, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "day", "d", "1d", "daily":
		return IntervalDay, true
	case "week", "w", "1w", "weekly":
		return IntervalWeek, true
	case "month", "m", "1m", "monthly":
		return IntervalMonth, true
	}
	return "", false
}

// Bar is one OHLCV record at a fixed granularity.
type Bar struct {
	Symbol     string    `json:"symbol"`
	Timestamp  time.Time `json:"timestamp"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     int64     `json:"volume"`
	TradeCount int64     `json:"trade_count,omitempty"`
	VWAP       float64   `json:"vwap,omitempty"`
}

// AnnotatedBar is a Bar enriched with named indicator values. Values that are
// still warming up are stored as NaN.
type AnnotatedBar struct {
	Bar
	Indicators map[string]float64 `json:"indicators,omitempty"`
}

// Value returns the named indicator and whether it is usable.
func (b AnnotatedBar) Value(name string) (float64, bool) {
	v, ok := b.Indicators[name]
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// DateKey truncates t to its UTC calendar day.
func DateKey(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ---------------------------------------------------------------------------
// Trading
// ---------------------------------------------------------------------------

// Side is the direction of a trade event.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
	SideNone Side = "NONE"
)

// ExitKind selects how an exit policy measures return.
type ExitKind string

const (
	ExitNone     ExitKind = "NONE"
	ExitFixed    ExitKind = "FIXED"
	ExitTrailing ExitKind = "TRAILING"
)

// ParseExitKind accepts the kind names used by clients. Anything unknown
// disables the exit.
func ParseExitKind(s string) ExitKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fixed", "fixed_ratio":
		return ExitFixed
	case "trailing", "trailing_ratio":
		return ExitTrailing
	}
	return ExitNone
}

// ExitPolicy is a take-profit or stop-loss rule. Ratio is in percent.
type ExitPolicy struct {
	Kind  ExitKind `json:"kind"`
	Ratio float64  `json:"ratio"`
}

// Enabled reports whether the policy can ever fire.
func (p ExitPolicy) Enabled() bool {
	return (p.Kind == ExitFixed || p.Kind == ExitTrailing) && p.Ratio > 0
}

// Normalize maps unrecognized kinds to ExitNone.
func (p ExitPolicy) Normalize() ExitPolicy {
	p.Kind = ParseExitKind(string(p.Kind))
	return p
}

// TradeEvent is the per-(symbol, date) record emitted by the simulation
// driver. Amount is the cost of a BUY or the proceeds of a SELL.
type TradeEvent struct {
	Symbol        string    `json:"symbol"`
	Timestamp     time.Time `json:"timestamp"`
	Side          Side      `json:"side"`
	Quantity      int64     `json:"quantity"`
	Price         float64   `json:"price"`
	Fee           float64   `json:"fee"`
	Tax           float64   `json:"tax"`
	Amount        float64   `json:"amount"`
	RealizedPnL   float64   `json:"realized_pnl"`
	RealizedROI   float64   `json:"realized_roi"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	UnrealizedROI float64   `json:"unrealized_roi"`
	CashAfter     float64   `json:"cash_after"`
	ReasonCodes   []string  `json:"reason_codes,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	TakeProfitHit bool      `json:"take_profit_hit"`
	StopLossHit   bool      `json:"stop_loss_hit"`

	// Holding snapshot after the event.
	PositionQuantity int64   `json:"position_quantity"`
	AveragePrice     float64 `json:"average_price"`
	TotalCost        float64 `json:"total_cost"`
}

// Position is a broker-side holding used to seed a live cycle.
type Position struct {
	Symbol   string  `json:"symbol"`
	Qty      int64   `json:"qty"`
	AvgPrice float64 `json:"avg_price"`
}

// AccountInfo is a broker account snapshot.
type AccountInfo struct {
	Equity      float64 `json:"equity"`
	Cash        float64 `json:"cash"`
	BuyingPower float64 `json:"buying_power"`
}

// ---------------------------------------------------------------------------
// Jobs
// ---------------------------------------------------------------------------

// JobStatus is the lifecycle state of a SimulationJob.
type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
	JobCancelled JobStatus = "CANCELLED"
)

// Terminal reports whether no further transitions can happen.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// JobKind distinguishes single-symbol runs from bulk runs.
type JobKind string

const (
	JobSingle JobKind = "single"
	JobBulk   JobKind = "bulk"
)

// SimulationJob is the pollable status record of a submitted simulation.
type SimulationJob struct {
	ID              string    `json:"job_id"`
	Kind            JobKind   `json:"kind"`
	Trigger         string    `json:"trigger,omitempty"`
	Status          JobStatus `json:"status"`
	TotalSteps      int       `json:"total_steps"`
	CompletedSteps  int       `json:"completed_steps"`
	InitialCapital  float64   `json:"initial_capital"`
	CancelRequested bool      `json:"cancel_requested,omitempty"`
	Error           string    `json:"error,omitempty"`
	ResultKey       string    `json:"result_location,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
