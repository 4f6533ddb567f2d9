// Package remote wraps the downstream HTTP callee: GET {httpbinUrl}/delay/{seconds},
// a two-decimal value in [0.10, 0.25). It uses net/http directly rather than a
// third-party HTTP client.
package remote

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"
)

// Call is the outcome of one GET: the full response body as text, the status code
// verbatim (any code, 2xx or not, is a successful Call), and the elapsed wall-clock
// time in milliseconds.
type Call struct {
	Body       string
	StatusCode int
	DurationMs float64
}

// Client issues the three concurrent delay calls for one WorkItem.
type Client struct {
	httpc   *http.Client
	baseURL string
}

func NewClient(baseURL string) *Client {
	return &Client{httpc: &http.Client{}, baseURL: baseURL}
}

// RandomDelay returns a uniform value in [0.10, 0.25) formatted to two decimal places,
// i.e. one of 0.10, 0.11, ..., 0.24. It picks whole hundredths so that rounding can
// never carry the formatted value up to 0.25.
func RandomDelay() string {
	hundredths := 10 + rand.Intn(15)
	return fmt.Sprintf("%.2f", float64(hundredths)/100)
}

// get issues one GET /delay/<seconds> and measures elapsed time. A non-nil error means
// the call itself failed (network error or body read failure); any received status
// code, including non-2xx, is a successful Call.
func (c *Client) get(ctx context.Context, seconds string) (Call, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/delay/"+seconds, nil)
	if err != nil {
		return Call{}, fmt.Errorf("remote: build request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return Call{}, fmt.Errorf("remote: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Call{}, fmt.Errorf("remote: read body: %w", err)
	}

	return Call{
		Body:       string(body),
		StatusCode: resp.StatusCode,
		DurationMs: float64(time.Since(start)) / float64(time.Millisecond),
	}, nil
}

// FanOut issues three concurrent GETs, one per element of delaysSeconds, and returns
// their results in the same order. It returns a non-nil error (the first one observed)
// if any of the three calls failed; the caller is responsible for the
// all-succeed-or-mark-failed decision.
func (c *Client) FanOut(ctx context.Context, delaysSeconds [3]string) ([3]Call, error) {
	var (
		calls [3]Call
		errs  [3]error
		done  = make(chan int, 3)
	)
	for i, d := range delaysSeconds {
		go func(i int, d string) {
			call, err := c.get(ctx, d)
			calls[i] = call
			errs[i] = err
			done <- i
		}(i, d)
	}
	for range delaysSeconds {
		<-done
	}

	for _, err := range errs {
		if err != nil {
			return calls, err
		}
	}
	return calls, nil
}
