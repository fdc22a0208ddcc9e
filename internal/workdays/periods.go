package workdays

import (
	"sort"
	"time"

	"github.com/AngelCh415/workdays-etl/internal/models"
)

// BuildPeriods pairs period-start and period-end observations of one deal.
//
// With no end observations only the earliest start survives, as one open period.
// Otherwise the k-th sorted start is paired with the k-th sorted end, where k is
// the position of the first start equal to it. Pairing is by rank, not by nearest
// timestamp, so interleaved starts and ends can pair out of order; callers rely on
// this exact behaviour.
func BuildPeriods(starts, ends []time.Time) []models.Period {
	if len(starts) == 0 {
		return nil
	}
	begin := sortedCopy(starts)
	if len(ends) == 0 {
		return []models.Period{{Start: begin[0]}}
	}
	end := sortedCopy(ends)

	periods := make([]models.Period, 0, len(begin))
	for _, b := range begin {
		rank := sort.Search(len(begin), func(i int) bool { return !begin[i].Before(b) })
		p := models.Period{Start: b}
		if rank < len(end) {
			e := end[rank]
			p.End = &e
		}
		periods = append(periods, p)
	}
	return periods
}

func sortedCopy(in []time.Time) []time.Time {
	out := append([]time.Time(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
