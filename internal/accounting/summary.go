package accounting

import (
	"time"

	"membership/internal/core"
)

// Summary is a member row enriched with its derived ledger values.
type Summary struct {
	Member           core.Member `json:"member"`
	TotalDue         int64       `json:"totalDue"`
	DueMonths        int         `json:"dueMonths"`
	LastPaymentLabel *string     `json:"lastPaymentLabel"`
	UnpaidMonths     []string    `json:"unpaidMonths"`
	MeatTaken        bool        `json:"meatTaken"`
	Year             int         `json:"year"`
}

// MonthCell is one entry of the twelve month payment grid.
type MonthCell struct {
	Month int    `json:"month"`
	Name  string `json:"name"`
	Status
}

// Summarize enriches m for year as of now.
func Summarize(m core.Member, year int, now time.Time) Summary {
	s := Summary{
		Member:       m,
		TotalDue:     TotalDue(m, now),
		DueMonths:    DueMonths(m, now),
		UnpaidMonths: UnpaidMonths(m, year),
		MeatTaken:    MeatStatus(m, year),
		Year:         year,
	}
	if label, ok := LastPaymentLabel(m); ok {
		s.LastPaymentLabel = &label
	}
	return s
}

// SummarizeAll enriches every member in order.
func SummarizeAll(members []core.Member, year int, now time.Time) []Summary {
	out := make([]Summary, len(members))
	for i, m := range members {
		out[i] = Summarize(m, year, now)
	}
	return out
}

// MonthGrid returns the payment status of each month of year.
func MonthGrid(m core.Member, year int) []MonthCell {
	cells := make([]MonthCell, 12)
	for month := 1; month <= 12; month++ {
		cells[month-1] = MonthCell{
			Month:  month,
			Name:   core.MonthName(month),
			Status: PaymentStatus(m, year, month),
		}
	}
	return cells
}
