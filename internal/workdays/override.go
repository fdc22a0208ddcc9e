package workdays

import (
	"time"

	"github.com/AngelCh415/workdays-etl/internal/models"
)

// Overrides is the curated corner-case list: deal id to an ordered list of
// start/end timestamps that replaces the deal's observed events.
type Overrides map[int64][]time.Time

// Periods returns the override periods for a deal, if it has an override.
func (o Overrides) Periods(dealID int64) ([]models.Period, bool) {
	ts, ok := o[dealID]
	if !ok {
		return nil, false
	}
	return ChunkOverride(ts), true
}

// ChunkOverride splits the list into consecutive [start, end] pairs, keeping the
// given order. A trailing unpaired timestamp becomes an open period; config
// loading rejects such lists, so it only happens for programmatic input.
func ChunkOverride(ts []time.Time) []models.Period {
	periods := make([]models.Period, 0, (len(ts)+1)/2)
	for i := 0; i < len(ts); i += 2 {
		p := models.Period{Start: ts[i]}
		if i+1 < len(ts) {
			end := ts[i+1]
			p.End = &end
		}
		periods = append(periods, p)
	}
	return periods
}
