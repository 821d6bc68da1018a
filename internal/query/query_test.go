package query

import (
	"fmt"
	"testing"
	"time"

	"membership/internal/core"
)

func TestFilterMembersSearch(t *testing.T) {
	members := make([]core.Member, 0, 200)
	for i := 0; i < 198; i++ {
		members = append(members, core.Member{
			MemberID: fmt.Sprintf("M%03d", i+1),
			Name:     fmt.Sprintf("Member Number %d", i+1),
		})
	}
	members = append(members,
		core.Member{MemberID: "M199", Name: "Muhammad Ali"},
		core.Member{MemberID: "M200", Name: "Ali Ibn Abi Talib"},
	)

	got := FilterMembers(members, "ali")
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(got))
	}
	if got[0].Name != "Muhammad Ali" || got[1].Name != "Ali Ibn Abi Talib" {
		t.Fatalf("unexpected matches: %+v", got)
	}

	if got := FilterMembers(members, "  ALI "); len(got) != 2 {
		t.Fatalf("search must be case-insensitive, got %d", len(got))
	}
	if got := FilterMembers(members, "m007"); len(got) != 1 || got[0].MemberID != "M007" {
		t.Fatalf("expected member id match, got %+v", got)
	}
	if got := FilterMembers(members, ""); len(got) != 200 {
		t.Fatalf("empty term must keep everything, got %d", len(got))
	}
}

func TestFilterTransactions(t *testing.T) {
	loc := time.UTC
	txs := []core.Transaction{
		{ID: "TXN-0001", MemberID: "M001", MemberName: "Karim", PaidAt: time.Date(2024, 3, 10, 23, 59, 0, 0, loc), Method: core.Cash},
		{ID: "TXN-0002", MemberID: "M002", MemberName: "Rahim", PaidAt: time.Date(2024, 3, 9, 0, 0, 0, 0, loc), Method: core.Online},
		{ID: "TXN-0003", MemberID: "M003", MemberName: "Salma", PaidAt: time.Date(2024, 3, 1, 12, 0, 0, 0, loc), Method: core.Cash},
	}

	tests := []struct {
		name string
		f    TransactionFilter
		want []string
	}{
		{
			name: "inclusive range",
			f:    TransactionFilter{DateFrom: time.Date(2024, 3, 9, 0, 0, 0, 0, loc), DateTo: time.Date(2024, 3, 10, 0, 0, 0, 0, loc), Method: MethodAll},
			want: []string{"TXN-0001", "TXN-0002"},
		},
		{
			name: "method",
			f:    TransactionFilter{Method: string(core.Cash)},
			want: []string{"TXN-0001", "TXN-0003"},
		},
		{
			name: "search by transaction id",
			f:    TransactionFilter{SearchTerm: "txn-0003"},
			want: []string{"TXN-0003"},
		},
		{
			name: "search by name",
			f:    TransactionFilter{SearchTerm: "rah", Method: MethodAll},
			want: []string{"TXN-0002"},
		},
		{
			name: "no match",
			f:    TransactionFilter{DateFrom: time.Date(2024, 4, 1, 0, 0, 0, 0, loc)},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FilterTransactions(txs, tt.f, loc)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d transactions, want %d", len(got), len(tt.want))
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("got[%d] = %s, want %s", i, got[i].ID, id)
				}
			}
		})
	}
}

func TestDefaultTransactionFilter(t *testing.T) {
	now := time.Date(2024, 6, 15, 17, 30, 0, 0, time.UTC)
	f := DefaultTransactionFilter(now)
	today := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	if !f.DateFrom.Equal(today) || !f.DateTo.Equal(today) {
		t.Fatalf("expected today/today, got %v/%v", f.DateFrom, f.DateTo)
	}
	if f.Method != MethodAll {
		t.Fatalf("expected method %q, got %q", MethodAll, f.Method)
	}
}

func TestMemberFilterNormalize(t *testing.T) {
	f := MemberFilter{SearchTerm: " ali "}.Normalize(10)
	if f.Page != 1 || f.Limit != 10 || f.SearchTerm != "ali" {
		t.Fatalf("unexpected normalized filter: %+v", f)
	}
	f = MemberFilter{Page: 3, Limit: 25}.Normalize(10)
	if f.Page != 3 || f.Limit != 25 {
		t.Fatalf("explicit values must be kept: %+v", f)
	}
}
