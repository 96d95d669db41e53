// Package quantsim is a Go client for the quantsim HTTP API.
package quantsim

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"quantsim/internal/domain"
	"quantsim/internal/httpapi"
	"quantsim/internal/jobs"
	"quantsim/internal/report"
)

// Client provides a Go SDK for interacting with the quantsim server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new quantsim API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("quantsim api: %d %s", e.StatusCode, e.Message)
}

// SubmitBulk queues a bulk simulation and returns its job id.
func (c *Client) SubmitBulk(ctx context.Context, p jobs.Params) (string, error) {
	var resp httpapi.SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/api/simulations/bulk", p, &resp); err != nil {
		return "", err
	}
	return resp.JobID, nil
}

// RunSingle runs a single-symbol simulation synchronously. Single runs can
// take a while, so ctx should carry the deadline rather than the client.
func (c *Client) RunSingle(ctx context.Context, p jobs.Params) (*report.Result, error) {
	var res report.Result
	hc := *c.httpClient
	hc.Timeout = 0
	if err := c.doWith(ctx, &hc, http.MethodPost, "/api/simulations/single", p, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Job returns the status record of a job.
func (c *Client) Job(ctx context.Context, id string) (*domain.SimulationJob, error) {
	var job domain.SimulationJob
	if err := c.do(ctx, http.MethodGet, "/api/simulations/"+url.PathEscape(id), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Jobs lists recent jobs, newest first.
func (c *Client) Jobs(ctx context.Context, limit int) ([]domain.SimulationJob, error) {
	var resp httpapi.JobListResponse
	path := "/api/simulations?limit=" + strconv.Itoa(limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// Cancel requests cancellation of a job.
func (c *Client) Cancel(ctx context.Context, id string) (*domain.SimulationJob, error) {
	var job domain.SimulationJob
	if err := c.do(ctx, http.MethodPost, "/api/simulations/"+url.PathEscape(id)+"/cancel", nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Result downloads the result of a completed job.
func (c *Client) Result(ctx context.Context, id string) (*report.Result, error) {
	var res report.Result
	if err := c.do(ctx, http.MethodGet, "/api/simulations/"+url.PathEscape(id)+"/result", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// CSV downloads the per-bar table of a completed job.
func (c *Client) CSV(ctx context.Context, id string) ([]byte, error) {
	var raw []byte
	if err := c.do(ctx, http.MethodGet, "/api/simulations/"+url.PathEscape(id)+"/csv", nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Strategies lists the registered strategies.
func (c *Client) Strategies(ctx context.Context) (*httpapi.StrategiesResponse, error) {
	var resp httpapi.StrategiesResponse
	if err := c.do(ctx, http.MethodGet, "/api/strategies", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Trades lists live trade events, newest first. An empty symbol lists all.
func (c *Client) Trades(ctx context.Context, symbol string, limit int) ([]domain.TradeEvent, error) {
	q := url.Values{}
	if symbol != "" {
		q.Set("symbol", symbol)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp httpapi.TradesResponse
	if err := c.do(ctx, http.MethodGet, "/api/trades?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// Wait polls a job every interval until it is terminal, calling onUpdate
// with each snapshot.
func (c *Client) Wait(ctx context.Context, id string, interval time.Duration, onUpdate func(*domain.SimulationJob)) (*domain.SimulationJob, error) {
	return jobs.Poll(ctx, interval, func(ctx context.Context) (*domain.SimulationJob, error) {
		return c.Job(ctx, id)
	}, onUpdate)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	return c.doWith(ctx, c.httpClient, method, path, in, out)
}

// doWith sends in as JSON and decodes the response into out. A *[]byte out
// receives the raw body.
func (c *Client) doWith(ctx context.Context, hc *http.Client, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if raw, ok := out.(*[]byte); ok {
		*raw = data
		return nil
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}
