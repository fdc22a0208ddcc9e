package models

import "time"

// Deal is one CRM lead as returned by the listing.
type Deal struct {
	ID          int64   `json:"lead_id"`
	CreatedAt   int64   `json:"created_at"` // epoch ms
	StatusID    int64   `json:"status_id"`
	PipelineID  int64   `json:"pipeline_id"`
	CustomerIDs []int64 `json:"customer_ids"`
}

// PrimaryCustomerID is the contact a deal is attributed to.
func (d Deal) PrimaryCustomerID() (int64, bool) {
	if len(d.CustomerIDs) == 0 {
		return 0, false
	}
	return d.CustomerIDs[0], true
}

// Contact holds the profile fields resolved from a CRM contact.
type Contact struct {
	ID        int64  `json:"customer_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Address   string `json:"address,omitempty"`
}

// Period is a production interval. A nil End means the deal is still in production.
type Period struct {
	Start time.Time  `json:"start"`
	End   *time.Time `json:"end,omitempty"`
}

func (p Period) Open() bool { return p.End == nil }

// Record is the per-deal row carried through the phases of a run and dumped
// after each of them.
type Record struct {
	Deal      Deal        `json:"lead"`
	Contact   *Contact    `json:"customer,omitempty"`
	Starts    []time.Time `json:"events_beginning,omitempty"`
	Ends      []time.Time `json:"events_ending,omitempty"`
	Periods   []Period    `json:"prod_periods,omitempty"`
	WorkDates []string    `json:"work_dates,omitempty"`
}

// Customer is one aggregated customer; LastWorkDate is nil until a work-date is known.
type Customer struct {
	ID           int64   `json:"id"`
	FirstName    string  `json:"first_name"`
	LastName     string  `json:"last_name"`
	Email        string  `json:"email,omitempty"`
	Phone        string  `json:"phone,omitempty"`
	Address      string  `json:"address,omitempty"`
	LastWorkDate *string `json:"last_date"`
}

// Fact is one "work happened on date D" event for the analytics sink.
type Fact struct {
	Event      string         `json:"event"`
	Properties FactProperties `json:"properties"`
}

type FactProperties struct {
	InsertID   string `json:"$insert_id"`
	DistinctID string `json:"distinct_id"`
	Time       int64  `json:"time"` // epoch ms
	LeadID     int64  `json:"lead_id"`
	Pipeline   string `json:"pipeline,omitempty"`
}

// RunReport summarizes one updater run.
type RunReport struct {
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	TargetDate string         `json:"target_date"`
	Phases     map[string]int `json:"phases"`
	Customers  int            `json:"customers"`
	Facts      int            `json:"facts"`
	DryRun     bool           `json:"dry_run,omitempty"`
	Err        string         `json:"error,omitempty"`
}
