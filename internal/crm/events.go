package crm

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"time"
)

// Direction picks which side of a status change must match the stage rule.
type Direction string

const (
	// Entered matches changes into a tracked status (period starts).
	Entered Direction = "value_after"
	// Left matches changes out of a tracked status (period ends).
	Left Direction = "value_before"
)

type eventsResp struct {
	Embedded struct {
		Events []struct {
			CreatedAt int64 `json:"created_at"`
		} `json:"events"`
	} `json:"_embedded"`
}

// StatusChanges returns the instants at which the deal entered or left one of
// the stage statuses. Order is whatever the CRM returns.
func (cl *Client) StatusChanges(ctx context.Context, dealID int64, dir Direction, stage []StatusFilter) ([]time.Time, error) {
	q := url.Values{}
	q.Set("filter[entity]", "lead")
	q.Set("filter[entity_id]", strconv.FormatInt(dealID, 10))
	q.Set("filter[type]", "lead_status_changed")
	q.Set("limit", "100")
	setStatuses(q, "filter["+string(dir)+"][leads_statuses]", stage)

	var resp eventsResp
	if err := cl.getJSON(ctx, "events", "/api/v4/events", q, &resp); err != nil {
		if errors.Is(err, ErrNoContent) {
			return nil, nil
		}
		return nil, err
	}

	out := make([]time.Time, 0, len(resp.Embedded.Events))
	for _, e := range resp.Embedded.Events {
		out = append(out, time.Unix(e.CreatedAt, 0))
	}
	return out, nil
}
