// Package query holds the filter predicates, local pagination and dashboard
// aggregates applied to member and transaction views.
package query

import (
	"strings"
	"time"

	"membership/internal/core"
)

// MethodAll is the payment method sentinel that disables method filtering.
const MethodAll = "all"

// MemberFilter selects a page of members, optionally for a given year.
type MemberFilter struct {
	SearchTerm string
	Year       int
	Page       int
	Limit      int
}

// TransactionFilter narrows the grouped transaction list. Dates are
// inclusive calendar dates.
type TransactionFilter struct {
	SearchTerm string
	DateFrom   time.Time
	DateTo     time.Time
	Method     string
}

// DefaultTransactionFilter shows today's transactions for every method.
func DefaultTransactionFilter(now time.Time) TransactionFilter {
	today := core.CalendarDate(now, now.Location())
	return TransactionFilter{DateFrom: today, DateTo: today, Method: MethodAll}
}

// Normalize fills page defaults: page 1 and the given default limit.
func (f MemberFilter) Normalize(defaultLimit int) MemberFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = defaultLimit
	}
	f.SearchTerm = strings.TrimSpace(f.SearchTerm)
	return f
}

// MatchesSearch reports whether term is a case-insensitive substring of any
// field. An empty term matches everything.
func MatchesSearch(term string, fields ...string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return true
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), term) {
			return true
		}
	}
	return false
}

// FilterMembers keeps members whose name or member id matches term.
func FilterMembers(members []core.Member, term string) []core.Member {
	out := make([]core.Member, 0, len(members))
	for _, m := range members {
		if MatchesSearch(term, m.Name, m.MemberID) {
			out = append(out, m)
		}
	}
	return out
}

// FilterTransactions applies f to txs; calendar dates are read in loc.
func FilterTransactions(txs []core.Transaction, f TransactionFilter, loc *time.Location) []core.Transaction {
	if loc == nil {
		loc = time.Local
	}
	var from, to time.Time
	if !f.DateFrom.IsZero() {
		from = dateIn(f.DateFrom, loc)
	}
	if !f.DateTo.IsZero() {
		to = dateIn(f.DateTo, loc)
	}

	out := make([]core.Transaction, 0, len(txs))
	for _, t := range txs {
		day := core.CalendarDate(t.PaidAt, loc)
		if !from.IsZero() && day.Before(from) {
			continue
		}
		if !to.IsZero() && day.After(to) {
			continue
		}
		if f.Method != "" && f.Method != MethodAll && string(t.Method) != f.Method {
			continue
		}
		if !MatchesSearch(f.SearchTerm, t.MemberName, t.MemberID, t.ID) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// dateIn reinterprets the calendar date of t (as written) in loc.
func dateIn(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
