package us

import (
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
)

// sessionSettled is the ET wall-clock time after which a day's bars are final.
const sessionSettled = 20*time.Hour + 5*time.Minute

// Calendar answers trading-day questions from the Alpaca market calendar.
type Calendar struct {
	client *alpaca.Client
	loc    *time.Location
	now    func() time.Time
}

// NewCalendar creates a calendar client against the trading API at baseURL.
func NewCalendar(apiKey, apiSecret, baseURL string) (*Calendar, error) {
	et, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("loading ET timezone: %w", err)
	}
	return &Calendar{
		client: alpaca.NewClient(alpaca.ClientOpts{APIKey: apiKey, APISecret: apiSecret, BaseURL: baseURL}),
		loc:    et,
		now:    time.Now,
	}, nil
}

// LatestFinishedTradingDay returns the most recent trading day whose
// session has settled, as a UTC date.
func (c *Calendar) LatestFinishedTradingDay() (time.Time, error) {
	now := c.now().In(c.loc)
	days, err := c.client.GetCalendar(alpaca.GetCalendarRequest{
		Start: now.AddDate(0, 0, -7),
		End:   now,
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("GetCalendar: %w", err)
	}
	dates := make([]string, len(days))
	for i, d := range days {
		dates[i] = d.Date
	}
	return latestFinished(dates, now)
}

// IsTradingDay reports whether the exchange is open on day.
func (c *Calendar) IsTradingDay(day time.Time) (bool, error) {
	days, err := c.client.GetCalendar(alpaca.GetCalendarRequest{Start: day, End: day})
	if err != nil {
		return false, fmt.Errorf("GetCalendar: %w", err)
	}
	key := day.Format("2006-01-02")
	for _, d := range days {
		if d.Date == key {
			return true, nil
		}
	}
	return false, nil
}

// latestFinished picks the newest calendar date that is before today, or
// today itself once the session has settled. now must be in ET.
func latestFinished(dates []string, now time.Time) (time.Time, error) {
	today := now.Format("2006-01-02")
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	settled := now.Sub(midnight) >= sessionSettled

	for i := len(dates) - 1; i >= 0; i-- {
		if dates[i] > today || (dates[i] == today && !settled) {
			continue
		}
		t, err := time.Parse("2006-01-02", dates[i])
		if err != nil {
			continue
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("no finished trading day in %d calendar entries", len(dates))
}
