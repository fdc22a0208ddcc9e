package aggregate

import "github.com/AngelCh415/workdays-etl/internal/models"

// Customers folds deal records into one customer per primary contact id, in order
// of first appearance. Profile fields come from the first record seen for an id;
// LastWorkDate is the latest work-date over all of the customer's deals.
func Customers(records []models.Record) []models.Customer {
	out := make([]models.Customer, 0, len(records))
	index := make(map[int64]int, len(records))

	for _, r := range records {
		id, ok := r.Deal.PrimaryCustomerID()
		if !ok {
			continue
		}
		last := LastWorkDate(r.WorkDates)

		if i, seen := index[id]; seen {
			out[i].LastWorkDate = laterDate(out[i].LastWorkDate, last)
			continue
		}

		c := models.Customer{ID: id, LastWorkDate: last}
		if r.Contact != nil {
			c.FirstName = r.Contact.FirstName
			c.LastName = r.Contact.LastName
			c.Email = r.Contact.Email
			c.Phone = r.Contact.Phone
			c.Address = r.Contact.Address
		}
		index[id] = len(out)
		out = append(out, c)
	}
	return out
}

// LastWorkDate is the greatest date in the list, or nil for an empty list.
func LastWorkDate(dates []string) *string {
	var last *string
	for i := range dates {
		if last == nil || dates[i] > *last {
			d := dates[i]
			last = &d
		}
	}
	return last
}

func laterDate(a, b *string) *string {
	if a == nil {
		return b
	}
	if b != nil && *b > *a {
		return b
	}
	return a
}
