package accounting

import (
	"reflect"
	"testing"
	"time"

	"membership/internal/core"
)

func paid(year, month int) core.Payment {
	return core.Payment{
		Year:   year,
		Month:  month,
		PaidAt: time.Date(year, time.Month(month), 5, 10, 0, 0, 0, time.UTC),
		Method: core.Cash,
	}
}

func member(fee int64, payments ...core.Payment) core.Member {
	return core.Member{MemberID: "M001", Name: "Ahmed Hassan", Status: core.Active, Fee: fee, Payments: payments}
}

func TestTotalDue(t *testing.T) {
	june15 := time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		m    core.Member
		now  time.Time
		want int64
	}{
		{
			name: "three months behind",
			m:    member(50, paid(2024, 1), paid(2024, 2), paid(2024, 3)),
			now:  june15,
			want: 150,
		},
		{
			name: "empty ledger owes nothing",
			m:    member(100),
			now:  june15,
			want: 0,
		},
		{
			name: "paid through current month",
			m:    member(50, paid(2024, 6)),
			now:  june15,
			want: 0,
		},
		{
			name: "last payment in the future",
			m:    member(50, paid(2024, 9)),
			now:  june15,
			want: 0,
		},
		{
			name: "zero fee",
			m:    member(0, paid(2020, 1)),
			now:  june15,
			want: 0,
		},
		{
			name: "across a year boundary",
			m:    member(30, paid(2023, 11)),
			now:  time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
			want: 90,
		},
		{
			name: "unordered payments use the latest",
			m:    member(10, paid(2024, 4), paid(2023, 12), paid(2024, 2)),
			now:  june15,
			want: 20,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TotalDue(tt.m, tt.now)
			if got != tt.want {
				t.Errorf("TotalDue() = %d, want %d", got, tt.want)
			}
			if got < 0 {
				t.Errorf("TotalDue() must never be negative, got %d", got)
			}
		})
	}
}

func TestLastPaymentLabel(t *testing.T) {
	if _, ok := LastPaymentLabel(member(100)); ok {
		t.Fatal("expected no label for an empty ledger")
	}
	label, ok := LastPaymentLabel(member(50, paid(2024, 1), paid(2024, 3), paid(2024, 2)))
	if !ok || label != "Mar 2024" {
		t.Fatalf("unexpected label %q (ok=%v)", label, ok)
	}
	label, _ = LastPaymentLabel(member(50, paid(2023, 12), paid(2024, 1)))
	if label != "Jan 2024" {
		t.Fatalf("unexpected label %q", label)
	}
}

func TestUnpaidMonths(t *testing.T) {
	m := member(50, paid(2024, 1), paid(2024, 2), paid(2024, 3), paid(2023, 4))
	got := UnpaidMonths(m, 2024)
	want := []string{"April", "May", "June", "July", "August", "September", "October", "November", "December"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("UnpaidMonths() = %v, want %v", got, want)
	}
	if all := UnpaidMonths(member(50), 2024); len(all) != 12 || all[0] != "January" || all[11] != "December" {
		t.Fatalf("unexpected months for empty ledger: %v", all)
	}
}

func TestPaymentStatus(t *testing.T) {
	m := member(50, paid(2024, 3))
	st := PaymentStatus(m, 2024, 3)
	if !st.Paid || st.PaidAt == nil || st.Method != core.Cash {
		t.Fatalf("expected paid status with details, got %+v", st)
	}
	if st := PaymentStatus(m, 2024, 4); st.Paid || st.PaidAt != nil {
		t.Fatalf("expected unpaid status, got %+v", st)
	}
	if st := PaymentStatus(m, 2023, 3); st.Paid {
		t.Fatal("a different year must not count")
	}
}

func TestMeatStatus(t *testing.T) {
	m := member(50)
	if MeatStatus(m, 2024) {
		t.Fatal("nil mapping must read as not taken")
	}
	m.MeatTaken = core.MeatTaken{"2024": true}
	if !MeatStatus(m, 2024) {
		t.Fatal("expected taken for 2024")
	}
	if MeatStatus(m, 2025) {
		t.Fatal("missing year must read as not taken")
	}
}

func TestSummarize(t *testing.T) {
	now := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	s := Summarize(member(50, paid(2024, 1), paid(2024, 2), paid(2024, 3)), 2024, now)
	if s.TotalDue != 150 || s.DueMonths != 3 {
		t.Fatalf("unexpected due: %+v", s)
	}
	if s.LastPaymentLabel == nil || *s.LastPaymentLabel != "Mar 2024" {
		t.Fatalf("unexpected label: %v", s.LastPaymentLabel)
	}
	if len(s.UnpaidMonths) != 9 {
		t.Fatalf("expected 9 unpaid months, got %d", len(s.UnpaidMonths))
	}

	empty := Summarize(member(100), 2024, now)
	if empty.LastPaymentLabel != nil || empty.TotalDue != 0 {
		t.Fatalf("unexpected summary for empty ledger: %+v", empty)
	}
}

func TestMonthGrid(t *testing.T) {
	grid := MonthGrid(member(50, paid(2024, 2)), 2024)
	if len(grid) != 12 {
		t.Fatalf("expected 12 cells, got %d", len(grid))
	}
	if !grid[1].Paid || grid[1].Name != "February" || grid[0].Paid {
		t.Fatalf("unexpected grid: %+v", grid[:2])
	}
}

func TestYearWindow(t *testing.T) {
	got := YearWindow(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	want := []int{2022, 2023, 2024, 2025, 2026}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("YearWindow() = %v, want %v", got, want)
	}
}
