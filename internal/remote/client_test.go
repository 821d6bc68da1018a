package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"membership/internal/core"
)

type memTokens struct {
	mu    sync.Mutex
	token string
}

func (m *memTokens) Token(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

func (m *memTokens) SetToken(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}

func (m *memTokens) Clear(context.Context) error {
	return m.SetToken(context.Background(), "")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, h http.Handler, token, scheme string) (*Client, *memTokens) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	tokens := &memTokens{token: token}
	c, err := NewClient(Config{BaseURL: srv.URL + "/api", AuthScheme: scheme, Timeout: 5 * time.Second}, tokens)
	require.NoError(t, err)
	return c, tokens
}

func TestListMembersDecodesPage(t *testing.T) {
	var gotAuth, gotQuery string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/member", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "Members retrieved",
			"data": map[string]any{
				"data": []map[string]any{
					{"_id": "a1", "memberId": "M001", "name": "Muhammad Ali", "fee": 50, "status": "active",
						"payments":  []map[string]any{{"year": 2024, "month": 3, "paidAt": "2024-03-10T10:00:00.000Z"}},
						"meatTaken": map[string]bool{"2024": true}},
				},
				"meta": map[string]any{"total": 21, "page": 2, "limit": 10, "totalPages": 3},
			},
		})
	})

	c, _ := newTestClient(t, mux, "tok-1", "")
	page, err := c.ListMembers(context.Background(), ListParams{SearchTerm: "ali", Page: 2, Limit: 10})
	require.NoError(t, err)

	require.Equal(t, "tok-1", gotAuth)
	require.Equal(t, "limit=10&page=2&searchTerm=ali", gotQuery)
	require.Len(t, page.Data, 1)
	require.Equal(t, "M001", page.Data[0].MemberID)
	require.Equal(t, 3, page.Data[0].Payments[0].Month)
	require.True(t, page.Data[0].MeatTaken["2024"])
	require.Equal(t, 21, page.Meta.Total)
	require.Equal(t, 3, page.Meta.TotalPages)
}

func TestAuthScheme(t *testing.T) {
	var gotAuth string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/member/payment", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req core.PaymentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, []int{1, 2}, req.Months)
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	})

	c, _ := newTestClient(t, mux, "tok-1", "Bearer")
	err := c.RecordPayment(context.Background(), core.PaymentRequest{MemberID: "M001", Year: 2024, Months: []int{1, 2}, Method: core.Cash})
	require.NoError(t, err)
	require.Equal(t, "Bearer tok-1", gotAuth)
}

func TestRefreshThenRetry(t *testing.T) {
	var refreshes, calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)
		c, err := r.Cookie("refreshToken")
		if err != nil || c.Value != "r1" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]string{"accessToken": "fresh"}})
	})
	mux.HandleFunc("GET /api/member/M001", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") != "fresh" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "jwt expired"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"memberId": "M001", "name": "Karim"}})
	})

	c, tokens := newTestClient(t, mux, "stale", "")
	setRefreshCookie(t, c, "r1")

	m, err := c.GetMember(context.Background(), "M001")
	require.NoError(t, err)
	require.Equal(t, "Karim", m.Name)
	require.Equal(t, int32(1), refreshes.Load())
	require.Equal(t, int32(2), calls.Load())

	tok, _ := tokens.Token(context.Background())
	require.Equal(t, "fresh", tok)
}

func TestSecondUnauthorizedEndsSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]string{"accessToken": "fresh"}})
	})
	mux.HandleFunc("GET /api/member", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false})
	})

	c, tokens := newTestClient(t, mux, "stale", "")
	_, err := c.ListMembers(context.Background(), ListParams{})
	require.ErrorIs(t, err, ErrSessionExpired)
	require.ErrorIs(t, err, ErrUnauthorized)

	tok, _ := tokens.Token(context.Background())
	require.Empty(t, tok)
}

func TestFailedRefreshEndsSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "no refresh token"})
	})
	mux.HandleFunc("GET /api/member", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false})
	})

	c, tokens := newTestClient(t, mux, "stale", "")
	_, err := c.ListMembers(context.Background(), ListParams{})
	require.ErrorIs(t, err, ErrSessionExpired)

	tok, _ := tokens.Token(context.Background())
	require.Empty(t, tok)
}

func TestConcurrentUnauthorizedShareRefresh(t *testing.T) {
	const n = 8
	var refreshes atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)
		time.Sleep(50 * time.Millisecond)
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]string{"accessToken": "fresh"}})
	})
	mux.HandleFunc("GET /api/member", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "fresh" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"data": []any{}, "meta": map[string]int{"total": 0}}})
	})

	c, _ := newTestClient(t, mux, "stale", "")

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.ListMembers(context.Background(), ListParams{})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.GreaterOrEqual(t, refreshes.Load(), int32(1))
	require.Less(t, refreshes.Load(), int32(n))
}

func TestErrorTaxonomy(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/member/missing", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "Member not found"})
	})
	mux.HandleFunc("GET /api/member/forbidden", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]any{"success": false})
	})
	mux.HandleFunc("GET /api/member/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	mux.HandleFunc("POST /api/member/meat-taken", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": "Meat already distributed for 2024"})
	})
	mux.HandleFunc("POST /api/member/un-taken-meat", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "Invalid year"})
	})

	c, _ := newTestClient(t, mux, "tok", "")
	ctx := context.Background()

	_, err := c.GetMember(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, "Member Not Found", UserMessage(err))

	_, err = c.GetMember(ctx, "forbidden")
	require.ErrorIs(t, err, ErrForbidden)
	require.Equal(t, GenericMessage, UserMessage(err))

	_, err = c.GetMember(ctx, "broken")
	var te *TransportError
	require.True(t, errors.As(err, &te))
	require.Equal(t, http.StatusBadGateway, te.Status)
	require.Equal(t, GenericMessage, UserMessage(err))

	err = c.MarkMeatTaken(ctx, core.MeatRequest{MemberID: "M1", Year: 2024, AdminID: "a"})
	var de *DomainError
	require.True(t, errors.As(err, &de))
	require.Equal(t, "Meat already distributed for 2024", UserMessage(err))

	err = c.MarkMeatNotTaken(ctx, core.MeatRequest{MemberID: "M1", Year: 2024, AdminID: "a"})
	require.True(t, errors.As(err, &de))
	require.Equal(t, http.StatusBadRequest, de.Status)
	require.Equal(t, "Invalid year", de.Message)
}

func TestNetworkErrorIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, err := NewClient(Config{BaseURL: base, Timeout: time.Second}, &memTokens{token: "t"})
	require.NoError(t, err)

	_, err = c.ListMembers(context.Background(), ListParams{})
	var te *TransportError
	require.True(t, errors.As(err, &te))
}

func TestNewClientRejectsRelativeURL(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "/api"}, &memTokens{})
	require.Error(t, err)
}

func setRefreshCookie(t *testing.T, c *Client, value string) {
	t.Helper()
	u := *c.baseURL
	c.httpClient.Jar.SetCookies(&u, []*http.Cookie{{Name: "refreshToken", Value: value, Path: "/"}})
}
