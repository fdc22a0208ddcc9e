package aggregate

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/AngelCh415/workdays-etl/internal/calendar"
	"github.com/AngelCh415/workdays-etl/internal/models"
)

// Funnels maps a funnel name to the pipeline id it reports on.
type Funnels map[string]int64

// NameFor resolves a pipeline id back to its funnel name. When several names
// share a pipeline the alphabetically first one wins.
func (f Funnels) NameFor(pipelineID int64) (string, bool) {
	names := make([]string, 0, len(f))
	for name, id := range f {
		if id == pipelineID {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "", false
	}
	sort.Strings(names)
	return names[0], true
}

// InsertID is the idempotency key of the fact for one deal and date.
func InsertID(dealID int64, date string) string {
	return fmt.Sprintf("%d-%s", dealID, date)
}

// Splitter projects per-deal work-dates onto one target date.
type Splitter struct {
	Calendar  calendar.Calendar
	EventName string
	Funnels   Funnels
}

// Split emits one fact per deal that worked on date. Facts are stamped 00:01 of
// that date. A key seen twice in the input is emitted once.
func (s Splitter) Split(records []models.Record, date string) ([]models.Fact, error) {
	stamp, err := s.Calendar.At(date, 0, 1)
	if err != nil {
		return nil, fmt.Errorf("split for %q: %w", date, err)
	}

	var facts []models.Fact
	seen := map[string]struct{}{}
	for _, r := range records {
		customerID, ok := r.Deal.PrimaryCustomerID()
		if !ok {
			continue
		}
		for _, d := range r.WorkDates {
			if d != date {
				continue
			}
			key := InsertID(r.Deal.ID, d)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			funnel, _ := s.Funnels.NameFor(r.Deal.PipelineID)
			facts = append(facts, models.Fact{
				Event: s.EventName,
				Properties: models.FactProperties{
					InsertID:   key,
					DistinctID: strconv.FormatInt(customerID, 10),
					Time:       s.Calendar.Timestamp(stamp),
					LeadID:     r.Deal.ID,
					Pipeline:   funnel,
				},
			})
		}
	}
	return facts, nil
}
