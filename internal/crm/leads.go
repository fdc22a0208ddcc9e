package crm

import (
	"context"
	"errors"
	"net/url"
	"strconv"

	"github.com/AngelCh415/workdays-etl/internal/models"
)

type leadsResp struct {
	Embedded struct {
		Leads []struct {
			ID         int64 `json:"id"`
			CreatedAt  int64 `json:"created_at"`
			StatusID   int64 `json:"status_id"`
			PipelineID int64 `json:"pipeline_id"`
			Embedded   struct {
				Contacts []struct {
					ID int64 `json:"id"`
				} `json:"contacts"`
			} `json:"_embedded"`
		} `json:"leads"`
	} `json:"_embedded"`
}

// ListDeals fetches one page of deals in the given statuses, with linked contact
// ids. A page past the end returns no deals and no error.
func (cl *Client) ListDeals(ctx context.Context, page, limit int, statuses []StatusFilter) ([]models.Deal, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("with", "contacts")
	setStatuses(q, "filter[statuses]", statuses)

	var resp leadsResp
	if err := cl.getJSON(ctx, "leads", "/api/v4/leads", q, &resp); err != nil {
		if errors.Is(err, ErrNoContent) {
			return nil, nil
		}
		return nil, err
	}

	deals := make([]models.Deal, 0, len(resp.Embedded.Leads))
	for _, l := range resp.Embedded.Leads {
		ids := make([]int64, 0, len(l.Embedded.Contacts))
		for _, c := range l.Embedded.Contacts {
			ids = append(ids, c.ID)
		}
		deals = append(deals, models.Deal{
			ID:          l.ID,
			CreatedAt:   l.CreatedAt * 1000,
			StatusID:    l.StatusID,
			PipelineID:  l.PipelineID,
			CustomerIDs: ids,
		})
	}
	return deals, nil
}
