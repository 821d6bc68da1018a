package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"membership/internal/core"
	"membership/internal/members"
	"membership/internal/query"
	"membership/internal/remote"
	"membership/internal/session"
)

var fixedNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

type stubRemote struct {
	mu      sync.Mutex
	members []core.Member
	fail    error
}

func (f *stubRemote) err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fail
}

func (f *stubRemote) find(id string) (int, bool) {
	for i, m := range f.members {
		if m.MemberID == id {
			return i, true
		}
	}
	return 0, false
}

func (f *stubRemote) CreateMember(_ context.Context, in core.NewMember) (core.Member, error) {
	if err := f.err(); err != nil {
		return core.Member{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m := core.Member{MemberID: "M100", Name: in.Name, Fee: in.Fee, Status: in.Status}
	f.members = append(f.members, m)
	return m, nil
}

func (f *stubRemote) ListMembers(_ context.Context, p remote.ListParams) (query.Page[core.Member], error) {
	if err := f.err(); err != nil {
		return query.Page[core.Member]{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return query.Paginate(query.FilterMembers(f.members, p.SearchTerm), p.Page, p.Limit), nil
}

func (f *stubRemote) MeatStatus(ctx context.Context, p remote.ListParams) (query.Page[core.Member], error) {
	return f.ListMembers(ctx, p)
}

func (f *stubRemote) GetMember(_ context.Context, id string) (core.Member, error) {
	if err := f.err(); err != nil {
		return core.Member{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	i, ok := f.find(id)
	if !ok {
		return core.Member{}, remote.ErrNotFound
	}
	return f.members[i], nil
}

func (f *stubRemote) setMeat(in core.MeatRequest, taken bool) error {
	if err := f.err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	i, ok := f.find(in.MemberID)
	if !ok {
		return remote.ErrNotFound
	}
	meat := core.MeatTaken{}
	for k, v := range f.members[i].MeatTaken {
		meat[k] = v
	}
	meat[core.YearKey(in.Year)] = taken
	f.members[i].MeatTaken = meat
	return nil
}

func (f *stubRemote) MarkMeatTaken(_ context.Context, in core.MeatRequest) error {
	return f.setMeat(in, true)
}

func (f *stubRemote) MarkMeatNotTaken(_ context.Context, in core.MeatRequest) error {
	return f.setMeat(in, false)
}

func (f *stubRemote) RecordPayment(_ context.Context, in core.PaymentRequest) error {
	if err := f.err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	i, _ := f.find(in.MemberID)
	var kept []core.Payment
	for _, p := range f.members[i].Payments {
		if p.Year != in.Year || !slices.Contains(in.Months, p.Month) {
			kept = append(kept, p)
		}
	}
	for _, month := range in.Months {
		kept = append(kept, core.Payment{Year: in.Year, Month: month, PaidAt: fixedNow, Method: in.Method})
	}
	f.members[i].Payments = kept
	return nil
}

func (f *stubRemote) UpdateMember(_ context.Context, id string, patch core.MemberPatch) (core.Member, error) {
	if err := f.err(); err != nil {
		return core.Member{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	i, ok := f.find(id)
	if !ok {
		return core.Member{}, remote.ErrNotFound
	}
	f.members[i] = patch.Apply(f.members[i])
	return f.members[i], nil
}

func signToken(t *testing.T, role core.Role) string {
	t.Helper()
	claims := session.Claims{
		UserID: "665f1c2e9b1d",
		Email:  "admin@example.org",
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(fixedNow.Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("api-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

type testEnv struct {
	srv    *Server
	remote *stubRemote
	store  *session.MemoryStore
	// cookie is the session cookie sent by do.
	cookie *http.Cookie
}

func newTestEnv(t *testing.T, rateLimit int) *testEnv {
	t.Helper()
	r := &stubRemote{members: []core.Member{
		{MemberID: "M001", Name: "Rahim Uddin", Fee: 50, Status: core.Active, Payments: []core.Payment{
			{Year: 2024, Month: 1, PaidAt: fixedNow.AddDate(0, -2, 0), Method: core.Cash},
		}},
		{MemberID: "M002", Name: "Karim Ahmed", Fee: 30, Status: core.Active},
	}}
	cfg := members.DefaultConfig()
	cfg.Location = time.UTC
	svc := members.New(r, nil, cfg, nil).WithClock(func() time.Time { return fixedNow })
	store := session.NewMemoryStore()

	srv := NewServer(Options{
		Addr:               ":0",
		Members:            svc,
		Gate:               session.NewGate(store, func() time.Time { return fixedNow }),
		RateLimitPerMinute: rateLimit,
	})
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
		svc.Close()
	})
	return &testEnv{srv: srv, remote: r, store: store}
}

// signIn signs in through the API and keeps the issued session cookie.
func (e *testEnv) signIn(t *testing.T) {
	t.Helper()
	rec := e.do(http.MethodPost, "/sign-in", `{"accessToken":"`+signToken(t, core.RoleAdmin)+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("sign-in status = %d: %s", rec.Code, rec.Body.String())
	}
	e.cookie = findCookie(rec, SessionCookie)
	if e.cookie == nil {
		t.Fatal("sign-in set no session cookie")
	}
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (e *testEnv) do(method, target, body string) *httptest.ResponseRecorder {
	return e.doWith(e.cookie, method, target, body)
}

// doWith sends a request as the client holding cookie; nil sends none.
func (e *testEnv) doWith(cookie *http.Cookie, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
	}
	rec := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return env
}

func TestHealthIsPublic(t *testing.T) {
	env := newTestEnv(t, 0)
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := env.do(http.MethodGet, path, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d", path, rec.Code)
		}
		if !decode(t, rec).Success {
			t.Fatalf("%s not successful", path)
		}
	}
}

func TestReadyReportsFailure(t *testing.T) {
	env := newTestEnv(t, 0)
	env.srv.ready = func(context.Context) error { return errors.New("db closed") }
	if rec := env.do(http.MethodGet, "/readyz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestAdminRoutesRequireSession(t *testing.T) {
	env := newTestEnv(t, 0)
	for _, target := range []string{"/", "/member/M001", "/transactions", "/meat-distribution"} {
		rec := env.do(http.MethodGet, target, "")
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s status = %d, want 401", target, rec.Code)
		}
		if rec.Header().Get("Location") != signInPath {
			t.Errorf("%s Location = %q", target, rec.Header().Get("Location"))
		}
	}
}

func TestOtherClientsStayLockedOut(t *testing.T) {
	env := newTestEnv(t, 0)
	env.signIn(t)

	strangers := []*http.Cookie{nil, {Name: SessionCookie, Value: "guessed"}}
	for _, c := range strangers {
		req := httptest.NewRequest(http.MethodPost, "/member/M001/payments", strings.NewReader(`{"year":2024,"months":[2],"method":"cash"}`))
		req.RemoteAddr = "203.0.113.9:40000"
		if c != nil {
			req.AddCookie(c)
		}
		rec := httptest.NewRecorder()
		env.srv.Handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("cookie %v: status = %d, want 401: %s", c, rec.Code, rec.Body.String())
		}
	}
	if got := len(env.remote.members[0].Payments); got != 1 {
		t.Fatalf("payment recorded for a stranger: %d payments", got)
	}

	// The admin who signed in keeps access.
	if rec := env.do(http.MethodGet, "/", ""); rec.Code != http.StatusOK {
		t.Fatalf("signed-in client status = %d", rec.Code)
	}
}

func TestNonAdminSessionIsCleared(t *testing.T) {
	env := newTestEnv(t, 0)
	env.signIn(t)
	_ = env.store.SetToken(context.Background(), signToken(t, core.RoleModerator))

	if rec := env.do(http.MethodGet, "/", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if tok, _ := env.store.Token(context.Background()); tok != "" {
		t.Fatal("non-admin token should be cleared")
	}
}

func TestSignIn(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantCode  int
		wantField string
	}{
		{"admin", `{"accessToken":"` + signToken(t, core.RoleAdmin) + `"}`, http.StatusOK, ""},
		{"moderator", `{"accessToken":"` + signToken(t, core.RoleModerator) + `"}`, http.StatusForbidden, ""},
		{"garbage token", `{"accessToken":"not-a-jwt"}`, http.StatusUnprocessableEntity, "accessToken"},
		{"missing token", `{}`, http.StatusUnprocessableEntity, "accessToken"},
		{"unknown field", `{"token":"x"}`, http.StatusBadRequest, ""},
		{"not json", `accessToken=x`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, 0)
			rec := env.do(http.MethodPost, "/sign-in", tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantField != "" {
				var data struct{ Field string }
				_ = json.Unmarshal(decode(t, rec).Data, &data)
				if data.Field != tt.wantField {
					t.Errorf("field = %q, want %q", data.Field, tt.wantField)
				}
			}
			tok, _ := env.store.Token(context.Background())
			if (tt.wantCode == http.StatusOK) != (tok != "") {
				t.Errorf("stored token = %q after status %d", tok, rec.Code)
			}
			cookie := findCookie(rec, SessionCookie)
			if (tt.wantCode == http.StatusOK) != (cookie != nil) {
				t.Fatalf("session cookie = %v after status %d", cookie, rec.Code)
			}
			if cookie != nil && (!cookie.HttpOnly || cookie.SameSite != http.SameSiteStrictMode) {
				t.Errorf("session cookie not locked down: %+v", cookie)
			}
		})
	}
}

func TestSignOut(t *testing.T) {
	env := newTestEnv(t, 0)
	env.signIn(t)
	rec := env.do(http.MethodPost, "/sign-out", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if c := findCookie(rec, SessionCookie); c == nil || c.MaxAge >= 0 {
		t.Fatalf("sign-out must expire the session cookie, got %+v", c)
	}
	if rec := env.do(http.MethodGet, "/", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("after sign-out status = %d, want 401", rec.Code)
	}
}

func TestDashboard(t *testing.T) {
	env := newTestEnv(t, 0)
	env.signIn(t)

	rec := env.do(http.MethodGet, "/?searchTerm=rahim", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var view members.DashboardView
	if err := json.Unmarshal(decode(t, rec).Data, &view); err != nil {
		t.Fatal(err)
	}
	if view.Year != 2024 || len(view.Members) != 1 || view.Meta.Total != 1 {
		t.Fatalf("unexpected dashboard %+v", view)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("request id missing")
	}
}

func TestRecordPayment(t *testing.T) {
	tests := []struct {
		name      string
		target    string
		body      string
		wantCode  int
		wantField string
	}{
		{"ok", "/member/M001/payments", `{"year":2024,"months":[2,3],"method":"cash"}`, http.StatusOK, ""},
		{"replaces paid month", "/member/M001/payments", `{"year":2024,"months":[1],"method":"online"}`, http.StatusOK, ""},
		{"month names", "/member/M001/payments", `{"year":2024,"months":["February","Mar",4],"method":"cash"}`, http.StatusOK, ""},
		{"unknown month name", "/member/M001/payments", `{"year":2024,"months":["Smarch"],"method":"cash"}`, http.StatusUnprocessableEntity, "months"},
		{"no months", "/member/M001/payments", `{"year":2024,"months":[],"method":"cash"}`, http.StatusUnprocessableEntity, "months"},
		{"bad method", "/member/M001/payments", `{"year":2024,"months":[2],"method":"barter"}`, http.StatusUnprocessableEntity, "method"},
		{"unknown member", "/member/M999/payments", `{"year":2024,"months":[2],"method":"cash"}`, http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, 0)
			env.signIn(t)
			rec := env.do(http.MethodPost, tt.target, tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantField != "" {
				var data struct{ Field string }
				_ = json.Unmarshal(decode(t, rec).Data, &data)
				if data.Field != tt.wantField {
					t.Errorf("field = %q, want %q", data.Field, tt.wantField)
				}
			}
			if tt.wantCode == http.StatusOK {
				inv := rec.Header().Get(HeaderInvalidate)
				for _, tag := range []string{"member", "members", "transactions"} {
					if !strings.Contains(inv, tag) {
						t.Errorf("%s = %q, missing %q", HeaderInvalidate, inv, tag)
					}
				}
			}
			if tt.wantCode == http.StatusNotFound && decode(t, rec).Message != msgNotFound {
				t.Errorf("message = %q", decode(t, rec).Message)
			}
		})
	}
}

func TestMeatToggleAndSet(t *testing.T) {
	env := newTestEnv(t, 0)
	env.signIn(t)

	rec := env.do(http.MethodPost, "/member/M002/meat", "")
	if rec.Code != http.StatusOK || decode(t, rec).Message != "Meat marked as taken" {
		t.Fatalf("toggle: %d %s", rec.Code, rec.Body.String())
	}
	rec = env.do(http.MethodPost, "/member/M002/meat", `{"year":2024,"taken":false}`)
	if rec.Code != http.StatusOK || decode(t, rec).Message != "Meat marked as not taken" {
		t.Fatalf("set: %d %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get(HeaderInvalidate); !strings.Contains(got, "meatStatus") {
		t.Errorf("%s = %q", HeaderInvalidate, got)
	}
}

func TestCreateAndUpdateMember(t *testing.T) {
	env := newTestEnv(t, 0)
	env.signIn(t)

	rec := env.do(http.MethodPost, "/members", `{"name":"Salma Begum","name_in_bengali":"সালমা বেগম","fee":40}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	rec = env.do(http.MethodPost, "/members", `{"name":" ","fee":40}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("blank name status = %d", rec.Code)
	}

	fees := []struct {
		body      string
		wantCode  int
		wantField string
	}{
		{`{"name":"Nasir Khan","fee":"1,200"}`, http.StatusCreated, ""},
		{`{"name":"Nasir Khan","fee":"12.5"}`, http.StatusUnprocessableEntity, "fee"},
		{`{"name":"Nasir Khan","fee":true}`, http.StatusUnprocessableEntity, "fee"},
		{`{"name":"Nasir Khan","fee":-5}`, http.StatusUnprocessableEntity, "fee"},
	}
	for _, tt := range fees {
		rec = env.do(http.MethodPost, "/members", tt.body)
		if rec.Code != tt.wantCode {
			t.Fatalf("%s: status = %d, want %d: %s", tt.body, rec.Code, tt.wantCode, rec.Body.String())
		}
		if tt.wantField != "" {
			var data struct{ Field string }
			_ = json.Unmarshal(decode(t, rec).Data, &data)
			if data.Field != tt.wantField {
				t.Errorf("%s: field = %q, want %q", tt.body, data.Field, tt.wantField)
			}
		}
	}
	if got := env.remote.members[len(env.remote.members)-1].Fee; got != 1200 {
		t.Fatalf("text fee stored as %d, want 1200", got)
	}

	rec = env.do(http.MethodPatch, "/member/M002", `{"fee":35}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", rec.Code, rec.Body.String())
	}
	rec = env.do(http.MethodPatch, "/member/M002", `{}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("empty patch status = %d", rec.Code)
	}
}

func TestMemberDetail(t *testing.T) {
	env := newTestEnv(t, 0)
	env.signIn(t)

	rec := env.do(http.MethodGet, "/member/M001?year=2024", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var detail members.MemberDetail
	if err := json.Unmarshal(decode(t, rec).Data, &detail); err != nil {
		t.Fatal(err)
	}
	if len(detail.Grid) != 12 || len(detail.Transactions) != 1 {
		t.Fatalf("unexpected detail %+v", detail)
	}

	if rec := env.do(http.MethodGet, "/member/M001?year=abc", ""); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad year status = %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/member/M404", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing member status = %d", rec.Code)
	}
}

func TestTransactionsAndMeatDistribution(t *testing.T) {
	env := newTestEnv(t, 0)
	env.signIn(t)

	rec := env.do(http.MethodGet, "/transactions?dateFrom=2024-01-01&dateTo=2024-03-31&method=all", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var view members.TransactionView
	if err := json.Unmarshal(decode(t, rec).Data, &view); err != nil {
		t.Fatal(err)
	}
	if len(view.Transactions) != 1 || view.Stats.TotalAmount != 50 {
		t.Fatalf("unexpected transactions %+v", view)
	}

	if rec := env.do(http.MethodGet, "/transactions?dateFrom=01/01/2024", ""); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad date status = %d", rec.Code)
	}

	rec = env.do(http.MethodGet, "/meat-distribution?year=2024&limit=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("meat status = %d: %s", rec.Code, rec.Body.String())
	}
	var meat members.MeatView
	if err := json.Unmarshal(decode(t, rec).Data, &meat); err != nil {
		t.Fatal(err)
	}
	if len(meat.Members) != 1 || meat.Stats.Total != 2 {
		t.Fatalf("unexpected meat view %+v", meat)
	}
}

func TestRemoteFailuresMapToStatus(t *testing.T) {
	tests := []struct {
		name        string
		fail        error
		wantCode    int
		wantMessage string
	}{
		{"domain", &remote.DomainError{Status: 400, Message: "Member is inactive"}, http.StatusBadRequest, "Member is inactive"},
		{"transport", &remote.TransportError{Op: "GET /members", Status: 503}, http.StatusBadGateway, remote.GenericMessage},
		{"forbidden", remote.ErrForbidden, http.StatusForbidden, remote.GenericMessage},
		{"expired", remote.ErrSessionExpired, http.StatusUnauthorized, msgSignIn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, 0)
			env.signIn(t)
			env.remote.fail = tt.fail

			rec := env.do(http.MethodGet, "/", "")
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if msg := decode(t, rec).Message; msg != tt.wantMessage {
				t.Errorf("message = %q, want %q", msg, tt.wantMessage)
			}
		})
	}
}

func TestMutationsAreRateLimited(t *testing.T) {
	// Sign-in is a POST too and takes the first slot.
	env := newTestEnv(t, 2)
	env.signIn(t)

	if rec := env.do(http.MethodPost, "/member/M002/meat", ""); rec.Code != http.StatusOK {
		t.Fatalf("first status = %d", rec.Code)
	}
	rec := env.do(http.MethodPost, "/member/M002/meat", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After missing")
	}
	// reads are not limited
	if rec := env.do(http.MethodGet, "/", ""); rec.Code != http.StatusOK {
		t.Fatalf("read status = %d", rec.Code)
	}
}
