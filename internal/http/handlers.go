package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"membership/internal/core"
	"membership/internal/log"
	"membership/internal/members"
	"membership/internal/session"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewResponse().
		Data(map[string]string{
			"status": "ok",
			"uptime": time.Since(s.startedAt).Round(time.Second).String(),
		}).
		Write(w)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.logger.WarnContext(ctx, "Readiness check failed", log.FieldError, err)
			ErrorResponse(http.StatusServiceUnavailable, "not ready").Write(w)
			return
		}
	}
	NewResponse().Data(map[string]string{"status": "ready"}).Write(w)
}

type signInBody struct {
	AccessToken string `json:"accessToken"`
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body signInBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, "sign_in", err)
		return
	}
	claims, sessionID, err := s.gate.SignIn(r.Context(), body.AccessToken)
	switch {
	case errors.Is(err, session.ErrNotAdmin):
		s.logger.WarnContext(r.Context(), "Sign-in refused", log.FieldError, err)
		ErrorResponse(http.StatusForbidden, msgAdminsOnly).Write(w)
		return
	case errors.Is(err, session.ErrNoToken), errors.Is(err, session.ErrMalformed):
		writeError(w, r, "sign_in", &core.FieldError{Field: "accessToken", Err: err})
		return
	case err != nil:
		writeError(w, r, "sign_in", err)
		return
	}
	http.SetCookie(w, sessionCookie(r, sessionID, 0))
	NewResponse().Message("Signed in").Data(claims.User()).Write(w)
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request, _ session.Claims) {
	if err := s.gate.SignOut(r.Context()); err != nil {
		writeError(w, r, "sign_out", err)
		return
	}
	http.SetCookie(w, sessionCookie(r, "", -1))
	NewResponse().Message("Signed out").Header("Location", signInPath).Write(w)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request, _ session.Claims) {
	f, err := ParseMemberFilter(r.URL.Query())
	if err != nil {
		writeError(w, r, "dashboard", err)
		return
	}
	view, err := s.members.Dashboard(r.Context(), f)
	if err != nil {
		writeError(w, r, "dashboard", err)
		return
	}
	NewResponse().Data(view).Write(w)
}

// createMemberBody is the create form; the fee may arrive as text.
type createMemberBody struct {
	core.NewMember
	Fee json.RawMessage `json:"fee"`
}

func (s *Server) handleCreateMember(w http.ResponseWriter, r *http.Request, _ session.Claims) {
	var body createMemberBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, "create_member", err)
		return
	}
	in := body.NewMember
	fee, err := feeField(body.Fee)
	if err != nil {
		writeError(w, r, "create_member", err)
		return
	}
	in.Fee = fee
	res, err := s.members.CreateMember(r.Context(), in)
	if err != nil {
		writeError(w, r, "create_member", err)
		return
	}
	NewResponse().
		Status(http.StatusCreated).
		Message("Member created").
		Data(res).
		Invalidate(res.Invalidated...).
		Write(w)
}

func (s *Server) handleMemberDetail(w http.ResponseWriter, r *http.Request, _ session.Claims) {
	year, err := yearParam(r.URL.Query())
	if err != nil {
		writeError(w, r, "member_detail", err)
		return
	}
	detail, err := s.members.MemberDetail(r.Context(), r.PathValue("id"), year)
	if err != nil {
		writeError(w, r, "member_detail", err)
		return
	}
	NewResponse().Data(detail).Write(w)
}

func (s *Server) handleUpdateMember(w http.ResponseWriter, r *http.Request, _ session.Claims) {
	var patch core.MemberPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, r, "update_member", err)
		return
	}
	res, err := s.members.UpdateMember(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		writeError(w, r, "update_member", err)
		return
	}
	NewResponse().Message("Member updated").Data(res).Invalidate(res.Invalidated...).Write(w)
}

type paymentBody struct {
	Year   int                `json:"year"`
	Months []json.RawMessage  `json:"months"`
	Method core.PaymentMethod `json:"method"`
}

func (s *Server) handleRecordPayment(w http.ResponseWriter, r *http.Request, _ session.Claims) {
	var body paymentBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, "record_payment", err)
		return
	}
	if body.Year == 0 {
		body.Year = s.members.Now().Year()
	}
	months, err := monthsField(body.Months)
	if err != nil {
		writeError(w, r, "record_payment", err)
		return
	}
	req := core.PaymentRequest{
		MemberID: r.PathValue("id"),
		Year:     body.Year,
		Months:   months,
		Method:   core.PaymentMethod(strings.ToLower(string(body.Method))),
	}
	res, err := s.members.RecordPayment(r.Context(), req)
	if err != nil {
		writeError(w, r, "record_payment", err)
		return
	}
	NewResponse().
		Message(fmt.Sprintf("Payment recorded for %d %s", len(req.Months), plural(len(req.Months), "month"))).
		Data(res).
		Invalidate(res.Invalidated...).
		Write(w)
}

// meatBody sets the flag when Taken is given and toggles it otherwise.
type meatBody struct {
	Year  int   `json:"year"`
	Taken *bool `json:"taken"`
}

func (s *Server) handleMeat(w http.ResponseWriter, r *http.Request, claims session.Claims) {
	var body meatBody
	if err := decodeJSON(w, r, &body); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, r, "meat", err)
		return
	}
	if body.Year == 0 {
		body.Year = s.members.Now().Year()
	}

	id := r.PathValue("id")
	var (
		res members.Result
		err error
	)
	switch {
	case body.Taken == nil:
		res, err = s.members.ToggleMeat(r.Context(), id, body.Year, claims.AdminID())
	case *body.Taken:
		res, err = s.members.MarkMeatTaken(r.Context(), core.MeatRequest{MemberID: id, Year: body.Year, AdminID: claims.AdminID()})
	default:
		res, err = s.members.MarkMeatNotTaken(r.Context(), core.MeatRequest{MemberID: id, Year: body.Year, AdminID: claims.AdminID()})
	}
	if err != nil {
		writeError(w, r, "meat", err)
		return
	}

	msg := "Meat status updated"
	if res.MeatTaken != nil {
		msg = "Meat marked as not taken"
		if *res.MeatTaken {
			msg = "Meat marked as taken"
		}
	}
	NewResponse().Message(msg).Data(res).Invalidate(res.Invalidated...).Write(w)
}

func (s *Server) handleMeatDistribution(w http.ResponseWriter, r *http.Request, _ session.Claims) {
	f, err := ParseMemberFilter(r.URL.Query())
	if err != nil {
		writeError(w, r, "meat_distribution", err)
		return
	}
	view, err := s.members.MeatDistribution(r.Context(), f)
	if err != nil {
		writeError(w, r, "meat_distribution", err)
		return
	}
	NewResponse().Data(view).Write(w)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request, _ session.Claims) {
	f, err := ParseTransactionFilter(r.URL.Query(), s.members.Now(), s.members.Location())
	if err != nil {
		writeError(w, r, "transactions", err)
		return
	}
	view, err := s.members.Transactions(r.Context(), f)
	if err != nil {
		writeError(w, r, "transactions", err)
		return
	}
	NewResponse().Data(view).Write(w)
}

// handleMetrics reports the middleware counters.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request, _ session.Claims) {
	tm := s.tracer.GetMetrics()
	rm := s.rateLimiter.GetMetrics()
	NewResponse().Data(map[string]any{
		"uptime_seconds":      int64(time.Since(s.startedAt).Seconds()),
		"requests_total":      tm.TotalRequests,
		"requests_failed":     tm.FailedRequests,
		"avg_response_us":     tm.AverageResponseTime,
		"rate_limit_hits":     rm.TotalHits,
		"rate_limit_clients":  rm.ClientCount,
		"suspicious_requests": s.detector.SuspiciousCount(),
	}).Write(w)
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
