// Package accounting derives the ledger views of a member: payment status per
// month, unpaid months, the last payment label, the outstanding balance and
// the yearly meat flag.
//
// Every function is pure over a core.Member value. Functions that depend on
// the current date take it as an argument so callers control the clock.
package accounting

import (
	"time"

	"membership/internal/core"
)

// Status describes whether a single month has been paid.
type Status struct {
	Paid   bool               `json:"paid"`
	PaidAt *time.Time         `json:"paidAt,omitempty"`
	Method core.PaymentMethod `json:"method,omitempty"`
}

// PaymentStatus reports whether the member paid for (year, month). Month is one-based.
func PaymentStatus(m core.Member, year, month int) Status {
	for _, p := range m.Payments {
		if p.Year == year && p.Month == month {
			paidAt := p.PaidAt
			return Status{Paid: true, PaidAt: &paidAt, Method: p.Method}
		}
	}
	return Status{}
}

// PaidMonths returns the one-based months of year that have a payment, ascending.
func PaidMonths(m core.Member, year int) []int {
	var paid [13]bool
	for _, p := range m.Payments {
		if p.Year == year && p.Month >= 1 && p.Month <= 12 {
			paid[p.Month] = true
		}
	}
	out := make([]int, 0, 12)
	for month := 1; month <= 12; month++ {
		if paid[month] {
			out = append(out, month)
		}
	}
	return out
}

// UnpaidMonths lists the English names of the months of year without a
// payment, January first.
func UnpaidMonths(m core.Member, year int) []string {
	paid := PaidMonths(m, year)
	isPaid := make(map[int]bool, len(paid))
	for _, month := range paid {
		isPaid[month] = true
	}
	out := make([]string, 0, 12-len(paid))
	for month := 1; month <= 12; month++ {
		if !isPaid[month] {
			out = append(out, core.MonthName(month))
		}
	}
	return out
}

// LastPayment returns the payment with the greatest (year, month).
func LastPayment(m core.Member) (core.Payment, bool) {
	if len(m.Payments) == 0 {
		return core.Payment{}, false
	}
	last := m.Payments[0]
	for _, p := range m.Payments[1:] {
		if p.Key() > last.Key() {
			last = p
		}
	}
	return last, true
}

// LastPaymentLabel formats the latest paid month as "Mar 2024".
// The boolean is false when the ledger is empty.
func LastPaymentLabel(m core.Member) (string, bool) {
	last, ok := LastPayment(m)
	if !ok {
		return "", false
	}
	return core.MonthShort(last.Month) + " " + core.YearKey(last.Year), true
}

// DueMonths counts the months accrued after the last payment through the
// month of now, inclusive. An empty ledger or a last payment at or after
// now yields 0.
func DueMonths(m core.Member, now time.Time) int {
	last, ok := LastPayment(m)
	if !ok {
		return 0
	}
	n := (now.Year()-last.Year)*12 + (int(now.Month()) - last.Month)
	if n < 0 {
		return 0
	}
	return n
}

// TotalDue is the amount owed as of now: one fee per month since the last
// recorded payment. Members without payments owe nothing, since there is no
// reliable start date to back-compute from.
func TotalDue(m core.Member, now time.Time) int64 {
	if m.Fee <= 0 {
		return 0
	}
	return int64(DueMonths(m, now)) * m.Fee
}

// MeatStatus reports whether the member took their meat in year.
// A missing year counts as not taken.
func MeatStatus(m core.Member, year int) bool {
	if m.MeatTaken == nil {
		return false
	}
	return m.MeatTaken[core.YearKey(year)]
}

// YearWindow returns the years offered by the member detail selector:
// two years either side of the current one.
func YearWindow(now time.Time) []int {
	current := now.Year()
	out := make([]int, 0, 5)
	for y := current - 2; y <= current+2; y++ {
		out = append(out, y)
	}
	return out
}
