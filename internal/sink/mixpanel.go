package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/AngelCh415/workdays-etl/internal/models"
)

// MaxBatch is the largest number of records sent in one import request.
const MaxBatch = 2000

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to a Mixpanel compatible ingestion API: /engage for profile
// updates (project token) and /import for events (project secret).
type Client struct {
	c       HTTPClient
	baseURL string
	token   string
	secret  string
}

func NewClient(c HTTPClient, baseURL, token, secret string) *Client {
	return &Client{c: c, baseURL: strings.TrimRight(baseURL, "/"), token: token, secret: secret}
}

type profileUpdate struct {
	Token      string         `json:"$token"`
	DistinctID string         `json:"$distinct_id"`
	Set        map[string]any `json:"$set"`
}

// ProfileProperties builds the $set payload for one customer.
func ProfileProperties(c models.Customer) map[string]any {
	fullName := c.FirstName
	if c.LastName != "" && c.LastName != "unknown" {
		fullName = c.FirstName + " " + c.LastName
	}
	props := map[string]any{
		"_id":         c.ID,
		"$first_name": c.FirstName,
		"$last_name":  c.LastName,
		"_full_name":  fullName,
		"_last_date":  c.LastWorkDate,
	}
	if c.Email != "" {
		props["$email"] = c.Email
	}
	if c.Phone != "" {
		props["$phone"] = c.Phone
	}
	if c.Address != "" {
		props["address"] = c.Address
	}
	return props
}

// SetProfile overwrites the profile properties of one customer.
func (s *Client) SetProfile(ctx context.Context, c models.Customer) error {
	body := []profileUpdate{{
		Token:      s.token,
		DistinctID: strconv.FormatInt(c.ID, 10),
		Set:        ProfileProperties(c),
	}}
	var resp struct {
		Status int     `json:"status"`
		Error  *string `json:"error"`
	}
	if err := s.post(ctx, "/engage?verbose=1", false, body, &resp); err != nil {
		return fmt.Errorf("set profile %d: %w", c.ID, err)
	}
	if resp.Status != 1 {
		msg := "rejected"
		if resp.Error != nil {
			msg = *resp.Error
		}
		return fmt.Errorf("set profile %d: %s", c.ID, msg)
	}
	return nil
}

// ImportEvents sends facts in batches of MaxBatch and returns how many the sink
// accepted. It stops at the first failed batch.
func (s *Client) ImportEvents(ctx context.Context, facts []models.Fact) (int, error) {
	imported := 0
	for start := 0; start < len(facts); start += MaxBatch {
		end := start + MaxBatch
		if end > len(facts) {
			end = len(facts)
		}
		var resp struct {
			Code     int    `json:"code"`
			Imported int    `json:"num_records_imported"`
			Status   string `json:"status"`
		}
		if err := s.post(ctx, "/import?strict=1", true, facts[start:end], &resp); err != nil {
			return imported, fmt.Errorf("import batch at %d: %w", start, err)
		}
		imported += resp.Imported
	}
	return imported, nil
}

func (s *Client) post(ctx context.Context, path string, withSecret bool, payload, v any) error {
	if s.baseURL == "" {
		return errors.New("sink not configured")
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if withSecret {
		req.SetBasicAuth(s.secret, "")
	}

	resp, err := s.c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("sink non-2xx: %d body=%s", resp.StatusCode, string(msg))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
