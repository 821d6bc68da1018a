package sheets

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"membership/internal/core"
)

// Header is the first row of every ledger sheet.
var Header = []string{"Event ID", "Occurred At", "Event", "Member ID", "Member", "Year", "Months", "Method", "Amount", "Actor"}

// Row renders ev in Header order.
func Row(ev core.LedgerEvent) []string {
	months := make([]string, len(ev.Months))
	for i, m := range ev.Months {
		months[i] = core.MonthShort(m)
	}
	year, amount, method := "", "", ""
	if ev.Year > 0 {
		year = strconv.Itoa(ev.Year)
	}
	if ev.Amount > 0 {
		amount = core.FormatAmount(ev.Amount)
	}
	if ev.Method != "" {
		method = ev.Method.Label()
	}
	return []string{
		ev.ID,
		ev.OccurredAt.UTC().Format(time.RFC3339),
		string(ev.Type),
		ev.MemberID,
		ev.MemberName,
		year,
		strings.Join(months, ", "),
		method,
		amount,
		ev.Actor,
	}
}

// SheetName returns "<year> <base>" unless base already starts with a year.
func SheetName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 && base[4] == ' ' {
		if y, err := strconv.Atoi(base[:4]); err == nil && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}
