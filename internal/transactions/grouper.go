// Package transactions folds the per-month payment log into the transactions
// an admin recognises: the payments one member made together on one day with
// one method for one year.
package transactions

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"membership/internal/core"
)

type groupKey struct {
	memberID string
	date     string
	method   core.PaymentMethod
	year     int
}

type group struct {
	member *core.Member
	paidAt time.Time
	months map[int]struct{}
}

// Group builds transactions from the payments of members, newest first.
// Calendar dates are taken in loc; nil means the process-local zone.
// Ids are ordinal ("TXN-0001") and stable for identical input.
func Group(members []core.Member, loc *time.Location) []core.Transaction {
	groups := make(map[groupKey]*group)
	order := make([]groupKey, 0)

	for i := range members {
		m := &members[i]
		for _, p := range m.Payments {
			k := groupKey{
				memberID: m.MemberID,
				date:     core.CalendarDate(p.PaidAt, loc).Format(time.DateOnly),
				method:   p.Method,
				year:     p.Year,
			}
			g, ok := groups[k]
			if !ok {
				g = &group{member: m, paidAt: p.PaidAt, months: make(map[int]struct{})}
				groups[k] = g
				order = append(order, k)
			}
			if p.PaidAt.After(g.paidAt) {
				g.paidAt = p.PaidAt
			}
			g.months[p.Month] = struct{}{}
		}
	}

	out := make([]core.Transaction, 0, len(order))
	for _, k := range order {
		g := groups[k]
		months := make([]int, 0, len(g.months))
		for month := range g.months {
			months = append(months, month)
		}
		sort.Ints(months)

		names := make([]string, len(months))
		for i, month := range months {
			names[i] = core.MonthName(month)
		}

		tx := core.Transaction{
			MemberID:     k.memberID,
			MemberName:   g.member.Name,
			Year:         k.year,
			Months:       months,
			MonthNames:   names,
			PaidAt:       g.paidAt,
			Method:       k.method,
			Amount:       int64(len(months)) * g.member.Fee,
			IsMultiMonth: len(months) > 1,
			MonthRange:   MonthRange(months),
		}
		tx.Period = Period(tx)
		out = append(out, tx)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.PaidAt.Equal(b.PaidAt) {
			return a.PaidAt.After(b.PaidAt)
		}
		if a.MemberID != b.MemberID {
			return a.MemberID < b.MemberID
		}
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		return a.Method < b.Method
	})

	for i := range out {
		out[i].ID = fmt.Sprintf("TXN-%04d", i+1)
	}
	return out
}

// MonthRange labels a sorted list of one-based months.
// A single month yields "" and callers show the month name instead.
func MonthRange(months []int) string {
	switch n := len(months); {
	case n <= 1:
		return ""
	case n == 2:
		return core.MonthName(months[0]) + " - " + core.MonthName(months[1])
	case consecutive(months):
		return core.MonthName(months[0]) + " - " + core.MonthName(months[n-1])
	default:
		return core.MonthName(months[0]) + ", " + core.MonthName(months[1]) + " +" + strconv.Itoa(n-2) + " more"
	}
}

func consecutive(months []int) bool {
	for i := 1; i < len(months); i++ {
		if months[i] != months[i-1]+1 {
			return false
		}
	}
	return true
}

// Period is what a transaction row shows under "months": the range label,
// or the single month name.
func Period(t core.Transaction) string {
	if t.MonthRange != "" {
		return t.MonthRange
	}
	if len(t.MonthNames) > 0 {
		return t.MonthNames[0]
	}
	return ""
}

// Entry is one (member, year, month) cell of the payment log.
type Entry struct {
	MemberID string
	Year     int
	Month    int
}

// Flatten expands transactions back into one entry per paid month.
func Flatten(txs []core.Transaction) []Entry {
	var out []Entry
	for _, t := range txs {
		for _, month := range t.Months {
			out = append(out, Entry{MemberID: t.MemberID, Year: t.Year, Month: month})
		}
	}
	return out
}
