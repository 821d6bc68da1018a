// Package core holds the membership domain: members, their monthly
// payments and meat distribution flags, the commands that change them and
// the validation rules those commands must pass.
package core

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	Cash         PaymentMethod = "cash"
	BankTransfer PaymentMethod = "bank_transfer"
	Check        PaymentMethod = "check"
	Online       PaymentMethod = "online"

	Active   MemberStatus = "active"
	Inactive MemberStatus = "inactive"

	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "superadmin"
	RoleModerator  Role = "moderator"
)

// MinYear is the earliest year a payment may be recorded for.
const MinYear = 1970

type (
	PaymentMethod string
	MemberStatus  string
	Role          string

	// MeatTaken maps a year ("2024") to whether the member received their
	// Qurbani/Udhiya meat that year.
	MeatTaken map[string]bool

	Payment struct {
		Year   int           `json:"year"`
		Month  int           `json:"month"` // 1-12
		PaidAt time.Time     `json:"paidAt"`
		Method PaymentMethod `json:"method,omitempty"`
	}

	Member struct {
		ID            string       `json:"_id,omitempty"`
		MemberID      string       `json:"memberId"`
		Name          string       `json:"name"`
		NameInBengali string       `json:"name_in_bengali"`
		Phone         string       `json:"phone,omitempty"`
		Address       string       `json:"address,omitempty"`
		JoinedDate    *time.Time   `json:"joinedDate,omitempty"`
		Status        MemberStatus `json:"status"`
		Fee           int64        `json:"fee"`
		Payments      []Payment    `json:"payments"`
		MeatTaken     MeatTaken    `json:"meatTaken"`
	}

	// Transaction is derived from the payment log; it has no identity of
	// its own and is rebuilt on every read.
	Transaction struct {
		ID           string        `json:"id"`
		MemberID     string        `json:"memberId"`
		MemberName   string        `json:"memberName"`
		Year         int           `json:"year"`
		Months       []int         `json:"months"`
		MonthNames   []string      `json:"monthNames"`
		PaidAt       time.Time     `json:"paidAt"`
		Method       PaymentMethod `json:"method"`
		Amount       int64         `json:"amount"`
		IsMultiMonth bool          `json:"isMultiMonth"`
		MonthRange   string        `json:"monthRange,omitempty"`
		// Period is MonthRange, or the month name of a single-month payment.
		Period string `json:"period"`
	}

	AdminUser struct {
		Email string `json:"email"`
		Role  Role   `json:"role"`
	}
)

var (
	ErrEmptyName       = errors.New("name is required")
	ErrInvalidPhone    = errors.New("please enter a valid phone number")
	ErrNegativeFee     = errors.New("fee cannot be negative")
	ErrInvalidFee      = errors.New("fee must be a whole number")
	ErrInvalidStatus   = errors.New("invalid member status")
	ErrInvalidYear     = errors.New("invalid year")
	ErrInvalidMonth    = errors.New("invalid month")
	ErrInvalidMethod   = errors.New("invalid payment method")
	ErrFutureDate      = errors.New("date cannot be in the future")
	ErrDuplicateMonth  = errors.New("duplicate payment for the same month")
	ErrEmptyMemberID   = errors.New("member id is required")
	ErrEmptyAdminID    = errors.New("admin id is required")
	ErrNoMonthsChosen  = errors.New("select at least one month")
	ErrIncompleteMonth = errors.New("year and month must be provided together")
)

var phonePattern = regexp.MustCompile(`^\+?[\d\s\-()]+$`)

// FieldError ties a validation failure to the input field that caused it.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Err.Error()
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

func fieldErr(field string, err error) error {
	return &FieldError{Field: field, Err: err}
}

func (m PaymentMethod) Validate() error {
	switch m {
	case Cash, BankTransfer, Check, Online:
		return nil
	default:
		return ErrInvalidMethod
	}
}

// Label returns the human form of the method ("Bank Transfer").
func (m PaymentMethod) Label() string {
	parts := strings.Split(string(m), "_")
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, " ")
}

// PaymentMethods lists the accepted methods in display order.
func PaymentMethods() []PaymentMethod {
	return []PaymentMethod{Cash, BankTransfer, Check, Online}
}

func (s MemberStatus) Validate() error {
	switch s {
	case Active, Inactive:
		return nil
	default:
		return ErrInvalidStatus
	}
}

// ValidatePhone accepts an optional leading "+" followed by digits, spaces,
// dashes and parentheses. An empty phone is valid.
func ValidatePhone(phone string) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil
	}
	if !phonePattern.MatchString(phone) {
		return ErrInvalidPhone
	}
	return nil
}

// ValidateYearMonth checks a one-based (year, month) pair.
func ValidateYearMonth(year, month int) error {
	if year < MinYear {
		return ErrInvalidYear
	}
	if month < 1 || month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

func (p Payment) Validate(now time.Time) error {
	if err := ValidateYearMonth(p.Year, p.Month); err != nil {
		return err
	}
	if p.PaidAt.After(now) {
		return ErrFutureDate
	}
	if p.Method != "" {
		if err := p.Method.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Key returns the ordinal used to compare payments chronologically.
func (p Payment) Key() int {
	return p.Year*12 + (p.Month - 1)
}

func (m Member) Validate(now time.Time) error {
	if strings.TrimSpace(m.Name) == "" {
		return fieldErr("name", ErrEmptyName)
	}
	if err := ValidatePhone(m.Phone); err != nil {
		return fieldErr("phone", err)
	}
	if m.Fee < 0 {
		return fieldErr("fee", ErrNegativeFee)
	}
	if err := m.Status.Validate(); err != nil {
		return fieldErr("status", err)
	}
	if m.JoinedDate != nil && m.JoinedDate.After(now) {
		return fieldErr("joinedDate", ErrFutureDate)
	}
	for i, p := range m.Payments {
		if err := p.Validate(now); err != nil {
			return fieldErr(fmt.Sprintf("payments[%d]", i), err)
		}
	}
	if m.HasPaymentKeyConflict() {
		return fieldErr("payments", ErrDuplicateMonth)
	}
	return nil
}

// HasPaymentKeyConflict reports whether two payments share a (year, month).
func (m Member) HasPaymentKeyConflict() bool {
	seen := make(map[int]struct{}, len(m.Payments))
	for _, p := range m.Payments {
		k := p.Key()
		if _, ok := seen[k]; ok {
			return true
		}
		seen[k] = struct{}{}
	}
	return false
}

// YearKey formats a year the way the meatTaken mapping stores it.
func YearKey(year int) string {
	return fmt.Sprintf("%d", year)
}
