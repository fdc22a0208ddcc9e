package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrUnauthorized is returned for a 401 from the CRM. It is fatal for a run.
	ErrUnauthorized = errors.New("crm: unauthorized")
	// ErrNoContent is returned when the CRM answers 204, e.g. past the last page.
	ErrNoContent = errors.New("crm: no content")
)

// StatusError is any other non-2xx answer.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("crm: non-2xx: %d body=%s", e.Code, e.Body)
}

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

func NewHTTPClient(timeout time.Duration) HTTPClient {
	return &http.Client{Timeout: timeout}
}

// RequestObserver is notified of every CRM request outcome.
type RequestObserver interface {
	ObserveCRMRequest(endpoint, outcome string)
}

type Client struct {
	c       HTTPClient
	baseURL string
	token   string
	obs     RequestObserver
}

func NewClient(c HTTPClient, baseURL, token string, obs RequestObserver) *Client {
	return &Client{c: c, baseURL: strings.TrimRight(baseURL, "/"), token: token, obs: obs}
}

func (cl *Client) getJSON(ctx context.Context, endpoint, path string, q url.Values, v any) (err error) {
	defer func() { cl.observe(endpoint, err) }()

	u := cl.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if cl.token != "" {
		req.Header.Set("Authorization", "Bearer "+cl.token)
	}

	resp, err := cl.c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: %s", ErrUnauthorized, strings.TrimSpace(string(b)))
	case resp.StatusCode == http.StatusNoContent:
		return ErrNoContent
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Code: resp.StatusCode, Body: string(b)}
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (cl *Client) observe(endpoint string, err error) {
	if cl.obs == nil {
		return
	}
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrNoContent):
		outcome = "empty"
	case errors.Is(err, ErrUnauthorized):
		outcome = "unauthorized"
	default:
		outcome = "error"
	}
	cl.obs.ObserveCRMRequest(endpoint, outcome)
}

// StatusFilter selects deals of one status in one pipeline.
type StatusFilter struct {
	PipelineID int64
	StatusID   int64
}

func setStatuses(q url.Values, prefix string, statuses []StatusFilter) {
	for i, s := range statuses {
		q.Set(fmt.Sprintf("%s[%d][pipeline_id]", prefix, i), fmt.Sprint(s.PipelineID))
		q.Set(fmt.Sprintf("%s[%d][status_id]", prefix, i), fmt.Sprint(s.StatusID))
	}
}
