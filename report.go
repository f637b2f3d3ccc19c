package profz

import "time"

// Report is the finished profile of one transaction.
//
//nolint:govet // Field alignment optimized for JSON serialization order
type Report struct {
	Flat        map[Key]Total `json:"flat"`
	Tree        []Entry       `json:"tree"`
	Start       time.Time     `json:"start"`
	Duration    time.Duration `json:"duration"`
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	ForceClosed int           `json:"force_closed,omitempty"`
}

// Totals returns the report's flat roll-up ordered by time descending.
func (r *Report) Totals() []Total {
	totals := make([]Total, 0, len(r.Flat))
	for _, t := range r.Flat {
		totals = append(totals, t)
	}
	SortTotals(totals)
	return totals
}

// clone returns a deep copy so handlers and collectors cannot share state.
func (r *Report) clone() Report {
	c := *r
	c.Tree = cloneEntries(r.Tree)
	if r.Flat != nil {
		c.Flat = make(map[Key]Total, len(r.Flat))
		for k, v := range r.Flat {
			c.Flat[k] = v
		}
	}
	return c
}
