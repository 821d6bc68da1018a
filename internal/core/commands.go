package core

import (
	"sort"
	"strings"
	"time"
)

// NewMember is the create-member form. LastPaidYear and LastPaidMonth are
// given together or not at all; the month is one-based.
type NewMember struct {
	Name          string       `json:"name"`
	NameInBengali string       `json:"name_in_bengali"`
	Fee           int64        `json:"fee"`
	Phone         string       `json:"phone,omitempty"`
	Address       string       `json:"address,omitempty"`
	JoinedDate    *time.Time   `json:"joinedDate,omitempty"`
	Status        MemberStatus `json:"status"`
	LastPaidYear  *int         `json:"lastPaidYear,omitempty"`
	LastPaidMonth *int         `json:"lastPaidMonth,omitempty"`
}

// Normalize trims text fields and defaults the status to active.
func (n NewMember) Normalize() NewMember {
	n.Name = strings.TrimSpace(n.Name)
	n.NameInBengali = strings.TrimSpace(n.NameInBengali)
	n.Phone = strings.TrimSpace(n.Phone)
	n.Address = strings.TrimSpace(n.Address)
	n.Status = MemberStatus(strings.ToLower(strings.TrimSpace(string(n.Status))))
	if n.Status == "" {
		n.Status = Active
	}
	return n
}

func (n NewMember) Validate(now time.Time) error {
	if strings.TrimSpace(n.Name) == "" {
		return fieldErr("name", ErrEmptyName)
	}
	if err := ValidatePhone(n.Phone); err != nil {
		return fieldErr("phone", err)
	}
	if n.Fee < 0 {
		return fieldErr("fee", ErrNegativeFee)
	}
	if err := n.Status.Validate(); err != nil {
		return fieldErr("status", err)
	}
	if n.JoinedDate != nil && n.JoinedDate.After(now) {
		return fieldErr("joinedDate", ErrFutureDate)
	}
	if (n.LastPaidYear == nil) != (n.LastPaidMonth == nil) {
		return fieldErr("lastPaidMonth", ErrIncompleteMonth)
	}
	if n.LastPaidYear != nil {
		y, m := *n.LastPaidYear, *n.LastPaidMonth
		if err := ValidateYearMonth(y, m); err != nil {
			field := "lastPaidMonth"
			if err == ErrInvalidYear {
				field = "lastPaidYear"
			}
			return fieldErr(field, err)
		}
		if y > now.Year() || (y == now.Year() && m > int(now.Month())) {
			return fieldErr("lastPaidMonth", ErrFutureDate)
		}
	}
	return nil
}

// PaymentRequest records one payment per listed month.
type PaymentRequest struct {
	MemberID string        `json:"memberId"`
	Year     int           `json:"year"`
	Months   []int         `json:"months"`
	Method   PaymentMethod `json:"method"`
}

// Normalize sorts the months and removes duplicates.
func (p PaymentRequest) Normalize() PaymentRequest {
	p.MemberID = strings.TrimSpace(p.MemberID)
	seen := make(map[int]struct{}, len(p.Months))
	months := make([]int, 0, len(p.Months))
	for _, m := range p.Months {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		months = append(months, m)
	}
	sort.Ints(months)
	p.Months = months
	return p
}

func (p PaymentRequest) Validate() error {
	if strings.TrimSpace(p.MemberID) == "" {
		return fieldErr("memberId", ErrEmptyMemberID)
	}
	if p.Year < MinYear {
		return fieldErr("year", ErrInvalidYear)
	}
	if len(p.Months) == 0 {
		return fieldErr("months", ErrNoMonthsChosen)
	}
	seen := make(map[int]struct{}, len(p.Months))
	for _, m := range p.Months {
		if m < 1 || m > 12 {
			return fieldErr("months", ErrInvalidMonth)
		}
		if _, ok := seen[m]; ok {
			return fieldErr("months", ErrDuplicateMonth)
		}
		seen[m] = struct{}{}
	}
	if err := p.Method.Validate(); err != nil {
		return fieldErr("method", err)
	}
	return nil
}

// MeatRequest flips the meat flag of one member for one year.
type MeatRequest struct {
	MemberID string `json:"memberId"`
	Year     int    `json:"year"`
	AdminID  string `json:"adminId"`
}

func (r MeatRequest) Validate() error {
	if strings.TrimSpace(r.MemberID) == "" {
		return fieldErr("memberId", ErrEmptyMemberID)
	}
	if r.Year < MinYear {
		return fieldErr("year", ErrInvalidYear)
	}
	if strings.TrimSpace(r.AdminID) == "" {
		return fieldErr("adminId", ErrEmptyAdminID)
	}
	return nil
}

// MemberPatch carries the fields to change; nil fields are left alone.
type MemberPatch struct {
	Name          *string       `json:"name,omitempty"`
	NameInBengali *string       `json:"name_in_bengali,omitempty"`
	Phone         *string       `json:"phone,omitempty"`
	Address       *string       `json:"address,omitempty"`
	Fee           *int64        `json:"fee,omitempty"`
	Status        *MemberStatus `json:"status,omitempty"`
	JoinedDate    *time.Time    `json:"joinedDate,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p MemberPatch) Empty() bool {
	return p.Name == nil && p.NameInBengali == nil && p.Phone == nil &&
		p.Address == nil && p.Fee == nil && p.Status == nil && p.JoinedDate == nil
}

func (p MemberPatch) Validate(now time.Time) error {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return fieldErr("name", ErrEmptyName)
	}
	if p.Phone != nil {
		if err := ValidatePhone(*p.Phone); err != nil {
			return fieldErr("phone", err)
		}
	}
	if p.Fee != nil && *p.Fee < 0 {
		return fieldErr("fee", ErrNegativeFee)
	}
	if p.Status != nil {
		if err := p.Status.Validate(); err != nil {
			return fieldErr("status", err)
		}
	}
	if p.JoinedDate != nil && p.JoinedDate.After(now) {
		return fieldErr("joinedDate", ErrFutureDate)
	}
	return nil
}

// Apply returns m with the non-nil fields of p.
func (p MemberPatch) Apply(m Member) Member {
	if p.Name != nil {
		m.Name = strings.TrimSpace(*p.Name)
	}
	if p.NameInBengali != nil {
		m.NameInBengali = *p.NameInBengali
	}
	if p.Phone != nil {
		m.Phone = *p.Phone
	}
	if p.Address != nil {
		m.Address = *p.Address
	}
	if p.Fee != nil {
		m.Fee = *p.Fee
	}
	if p.Status != nil {
		m.Status = *p.Status
	}
	if p.JoinedDate != nil {
		jd := *p.JoinedDate
		m.JoinedDate = &jd
	}
	return m
}
