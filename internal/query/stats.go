package query

import (
	"membership/internal/accounting"
	"membership/internal/core"
)

type MemberStats struct {
	Total  int `json:"totalMembers"`
	Active int `json:"activeMembers"`
}

type MeatStats struct {
	Year          int `json:"year"`
	Total         int `json:"total"`
	Taken         int `json:"taken"`
	NotTaken      int `json:"notTaken"`
	CompletionPct int `json:"completionPct"`
}

type TransactionStats struct {
	Count             int                        `json:"count"`
	TotalAmount       int64                      `json:"transactionTotal"`
	UniqueMembers     int                        `json:"uniqueMembers"`
	AvgPerTransaction int64                      `json:"avgPerTransaction"`
	MultiMonthCount   int                        `json:"multiMonthCount"`
	MethodCounts      map[core.PaymentMethod]int `json:"methodCounts"`
}

// ComputeMemberStats counts members and active members. Both counts come
// from members, so callers pass the whole result, not one page of it.
func ComputeMemberStats(members []core.Member) MemberStats {
	s := MemberStats{Total: len(members)}
	for _, m := range members {
		if m.Status == core.Active {
			s.Active++
		}
	}
	return s
}

// ComputeMeatStats counts meat taken for year over members.
func ComputeMeatStats(members []core.Member, year int) MeatStats {
	s := MeatStats{Year: year, Total: len(members)}
	for _, m := range members {
		if accounting.MeatStatus(m, year) {
			s.Taken++
		}
	}
	s.NotTaken = s.Total - s.Taken
	s.CompletionPct = Percent(s.Taken, s.Total)
	return s
}

// ComputeTransactionStats aggregates the filtered transaction view.
func ComputeTransactionStats(txs []core.Transaction) TransactionStats {
	s := TransactionStats{
		Count:        len(txs),
		MethodCounts: make(map[core.PaymentMethod]int),
	}
	seen := make(map[string]struct{})
	for _, t := range txs {
		s.TotalAmount += t.Amount
		seen[t.MemberID] = struct{}{}
		if t.IsMultiMonth {
			s.MultiMonthCount++
		}
		s.MethodCounts[t.Method]++
	}
	s.UniqueMembers = len(seen)
	s.AvgPerTransaction = RoundDiv(s.TotalAmount, int64(s.Count))
	return s
}

// Percent returns round(100*part/total) in [0, 100]; a zero total gives 0.
func Percent(part, total int) int {
	if total <= 0 || part <= 0 {
		return 0
	}
	if part >= total {
		return 100
	}
	return int(RoundDiv(int64(100*part), int64(total)))
}

// RoundDiv divides rounding half away from zero; a zero divisor gives 0.
func RoundDiv(n, d int64) int64 {
	if d == 0 {
		return 0
	}
	if d < 0 {
		n, d = -n, -d
	}
	if n < 0 {
		return -((-n*2 + d) / (2 * d))
	}
	return (n*2 + d) / (2 * d)
}
