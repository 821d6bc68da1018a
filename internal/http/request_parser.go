package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"membership/internal/core"
	"membership/internal/query"
)

const (
	maxBodyBytes = 1 << 20
	maxPageLimit = 100
)

var (
	errNotANumber = errors.New("must be a whole number")
	errBadDate    = errors.New("must be a date in YYYY-MM-DD format")
	errDateOrder  = errors.New("end date is before start date")
	errBadLimit   = fmt.Errorf("must be between 1 and %d", maxPageLimit)
)

// requestError is a body that could not be decoded at all.
type requestError struct {
	msg string
}

var errEmptyBody = &requestError{msg: "Request body is empty"}

func (e *requestError) Error() string {
	return e.msg
}

// decodeJSON reads a single JSON object from r into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return &requestError{msg: "Request body too large"}
		case errors.Is(err, io.EOF):
			return errEmptyBody
		default:
			return &requestError{msg: "Invalid request body"}
		}
	}
	if dec.More() {
		return &requestError{msg: "Request body must hold a single JSON object"}
	}
	return nil
}

// monthsField reads a list of months where each element is a one-based
// number or a month name ("March", "Mar").
func monthsField(raw []json.RawMessage) ([]int, error) {
	months := make([]int, 0, len(raw))
	for _, v := range raw {
		var n int
		if err := json.Unmarshal(v, &n); err == nil {
			months = append(months, n)
			continue
		}
		var name string
		if err := json.Unmarshal(v, &name); err != nil {
			return nil, &core.FieldError{Field: "months", Err: core.ErrInvalidMonth}
		}
		n, err := core.ParseMonthName(name)
		if err != nil {
			return nil, &core.FieldError{Field: "months", Err: err}
		}
		months = append(months, n)
	}
	return months, nil
}

// feeField reads a fee given as a JSON number or as text such as "1,200".
// An absent fee is zero.
func feeField(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	var fee int64
	if err := json.Unmarshal(raw, &fee); err == nil {
		return fee, nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return 0, &core.FieldError{Field: "fee", Err: core.ErrInvalidFee}
	}
	fee, err := core.ParseFee(text)
	if err != nil {
		return 0, &core.FieldError{Field: "fee", Err: err}
	}
	return fee, nil
}

// intParam returns the integer value of key, or def when it is absent.
func intParam(q url.Values, key string, def int) (int, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &core.FieldError{Field: key, Err: errNotANumber}
	}
	return n, nil
}

// yearParam reads an optional year; zero means the current one.
func yearParam(q url.Values) (int, error) {
	year, err := intParam(q, "year", 0)
	if err != nil {
		return 0, err
	}
	if year != 0 && year < core.MinYear {
		return 0, &core.FieldError{Field: "year", Err: core.ErrInvalidYear}
	}
	return year, nil
}

// ParseMemberFilter reads searchTerm, year, page and limit.
func ParseMemberFilter(q url.Values) (query.MemberFilter, error) {
	year, err := yearParam(q)
	if err != nil {
		return query.MemberFilter{}, err
	}
	page, err := intParam(q, "page", 1)
	if err != nil {
		return query.MemberFilter{}, err
	}
	limit, err := intParam(q, "limit", 0)
	if err != nil {
		return query.MemberFilter{}, err
	}
	if limit < 0 || limit > maxPageLimit {
		return query.MemberFilter{}, &core.FieldError{Field: "limit", Err: errBadLimit}
	}
	return query.MemberFilter{
		SearchTerm: strings.TrimSpace(q.Get("searchTerm")),
		Year:       year,
		Page:       max(page, 1),
		Limit:      limit,
	}, nil
}

// ParseTransactionFilter reads dateFrom, dateTo, method and searchTerm.
// Missing dates default to today in loc.
func ParseTransactionFilter(q url.Values, now time.Time, loc *time.Location) (query.TransactionFilter, error) {
	if loc == nil {
		loc = time.Local
	}
	f := query.DefaultTransactionFilter(now.In(loc))
	f.SearchTerm = strings.TrimSpace(q.Get("searchTerm"))

	for _, p := range []struct {
		key string
		dst *time.Time
	}{
		{"dateFrom", &f.DateFrom},
		{"dateTo", &f.DateTo},
	} {
		v := strings.TrimSpace(q.Get(p.key))
		if v == "" {
			continue
		}
		d, err := time.ParseInLocation(time.DateOnly, v, loc)
		if err != nil {
			return query.TransactionFilter{}, &core.FieldError{Field: p.key, Err: errBadDate}
		}
		*p.dst = d
	}
	if f.DateTo.Before(f.DateFrom) {
		return query.TransactionFilter{}, &core.FieldError{Field: "dateTo", Err: errDateOrder}
	}

	if m := strings.ToLower(strings.TrimSpace(q.Get("method"))); m != "" && m != query.MethodAll {
		if err := core.PaymentMethod(m).Validate(); err != nil {
			return query.TransactionFilter{}, &core.FieldError{Field: "method", Err: err}
		}
		f.Method = m
	}
	return f, nil
}
