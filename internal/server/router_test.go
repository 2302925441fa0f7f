package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jules-labs/librarydesk/internal/config"
	"github.com/jules-labs/librarydesk/internal/logging"
	"github.com/jules-labs/librarydesk/internal/storage/memory"
)

const (
	adminEmail    = "admin@library.test"
	adminPassword = "admin-password"
)

type api struct {
	t *testing.T
	h http.Handler
}

func newAPI(t *testing.T) *api {
	t.Helper()
	cfg := &config.Config{
		JWTSecret:          "router-test-secret",
		JWTTTL:             time.Hour,
		DailyFineRate:      decimal.RequireFromString("5.00"),
		RateLimitPerMinute: 1000,
		AdminEmail:         adminEmail,
		AdminPassword:      adminPassword,
	}
	deps, err := NewDeps(context.Background(), cfg, memory.New(), logging.Discard())
	require.NoError(t, err)
	return &api{t: t, h: NewRouter(deps)}
}

func (a *api) do(method, path, token string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	r.Header.Set("Content-Type", "application/json")
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.h.ServeHTTP(rec, r)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type userBody struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	IsAdmin bool   `json:"isAdmin"`
}

func (a *api) login(email, password string) (string, userBody) {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": email, "password": password})
	require.Equal(a.t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[struct {
		Token string   `json:"token"`
		User  userBody `json:"user"`
	}](a.t, rec)
	return out.Token, out.User
}

func (a *api) register(email string) (string, userBody) {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": email, "password": "secret123", "firstName": "Jane", "lastName": "Reader",
	})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	return a.login(email, "secret123")
}

func (a *api) addBook(adminToken, title string) string {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/books", adminToken, map[string]any{"title": title, "author": "Jane Austen", "year": 1813})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[struct {
		ID string `json:"id"`
	}](a.t, rec).ID
}

type loanBody struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Fine   *struct {
		ID     string `json:"id"`
		Amount string `json:"amount"`
		Status string `json:"status"`
	} `json:"fine"`
	Book *struct {
		Available bool `json:"available"`
	} `json:"book"`
}

func Test_LoanLifecycle(t *testing.T) {
	a := newAPI(t)
	admin, _ := a.login(adminEmail, adminPassword)
	member, reader := a.register("jane@library.test")
	bookID := a.addBook(admin, "Pride and Prejudice")

	due := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	rec := a.do(http.MethodPost, "/api/loans", member, map[string]string{
		"userId": reader.ID, "bookId": bookID, "dueDate": due.Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	opened := decode[struct {
		Message string   `json:"message"`
		Loan    loanBody `json:"loan"`
	}](t, rec)
	assert.Equal(t, "loan created", opened.Message)
	assert.Equal(t, "active", opened.Loan.Status)
	require.NotNil(t, opened.Loan.Book)
	assert.False(t, opened.Loan.Book.Available)

	rec = a.do(http.MethodPost, "/api/loans", member, map[string]string{
		"userId": reader.ID, "bookId": bookID, "dueDate": due.Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"message":"book is not available"}`, rec.Body.String())

	returnedAt := due.Add(3 * 24 * time.Hour)
	rec = a.do(http.MethodPatch, "/api/loans/"+opened.Loan.ID+"/return", member, map[string]string{
		"returnDate": returnedAt.Format(time.RFC3339),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	returned := decode[struct {
		Message string   `json:"message"`
		Loan    loanBody `json:"loan"`
	}](t, rec)
	assert.Equal(t, "loan returned late, fine issued", returned.Message)
	assert.Equal(t, "overdue", returned.Loan.Status)
	require.NotNil(t, returned.Loan.Fine)
	assert.Equal(t, "15.00", returned.Loan.Fine.Amount)

	rec = a.do(http.MethodPatch, "/api/loans/"+opened.Loan.ID+"/return", member, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(http.MethodGet, "/api/fines/user/"+reader.ID+"/pending-total", member, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"userId":"`+reader.ID+`","totalPendingFines":"15.00"}`, rec.Body.String())

	rec = a.do(http.MethodDelete, "/api/books/"+bookID, admin, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"message":"book has unpaid fines"}`, rec.Body.String())

	rec = a.do(http.MethodGet, "/api/fines/user/"+reader.ID+"/pending-total", member, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"userId":"`+reader.ID+`","totalPendingFines":"15.00"}`, rec.Body.String())

	fineID := returned.Loan.Fine.ID
	rec = a.do(http.MethodPatch, "/api/fines/"+fineID+"/pay", member, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	paid := decode[struct {
		Message string `json:"message"`
		Fine    struct {
			Status string  `json:"status"`
			PaidAt *string `json:"paidAt"`
		} `json:"fine"`
	}](t, rec)
	assert.Equal(t, "fine paid", paid.Message)
	assert.Equal(t, "paid", paid.Fine.Status)
	assert.NotNil(t, paid.Fine.PaidAt)

	rec = a.do(http.MethodPatch, "/api/fines/"+fineID+"/pay", member, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(http.MethodGet, "/api/fines/stats/summary", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"totalCount":1,"pendingCount":0,"paidCount":1,"totalAmount":"15.00","pendingAmount":"0.00","paidAmount":"15.00"}`, rec.Body.String())

	rec = a.do(http.MethodGet, "/api/loans/"+opened.Loan.ID+"/history", member, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]struct {
		EventType string `json:"eventType"`
	}](t, rec)
	types := make([]string, 0, len(history))
	for _, e := range history {
		types = append(types, e.EventType)
	}
	assert.ElementsMatch(t, []string{"LoanOpened", "LoanReturned", "FineIssued", "FinePaid"}, types)

	rec = a.do(http.MethodGet, "/api/books/"+bookID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[struct {
		Available bool `json:"available"`
	}](t, rec).Available)
}

func Test_OverdueSweepEndpoint(t *testing.T) {
	a := newAPI(t)
	admin, adminUser := a.login(adminEmail, adminPassword)
	member, _ := a.register("jane@library.test")
	bookID := a.addBook(admin, "Emma")

	rec := a.do(http.MethodPost, "/api/loans", admin, map[string]string{
		"userId": adminUser.ID, "bookId": bookID, "dueDate": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = a.do(http.MethodPost, "/api/loans/update-overdue", member, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(http.MethodPost, "/api/loans/update-overdue", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"overdue loans updated","updatedLoans":0}`, rec.Body.String())

	rec = a.do(http.MethodGet, "/api/loans/status/overdue", member, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func Test_AuthErrors(t *testing.T) {
	a := newAPI(t)
	member, _ := a.register("jane@library.test")

	rec := a.do(http.MethodGet, "/api/loans", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(http.MethodPost, "/api/books", member, map[string]any{"title": "Emma", "author": "Jane Austen"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(http.MethodGet, "/api/auth/users", member, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "jane@library.test", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"message":"invalid email or password"}`, rec.Body.String())

	rec = a.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "jane@library.test", "password": "secret123", "firstName": "Jane", "lastName": "Again",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(http.MethodGet, "/api/auth/profile", member, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	profile := decode[map[string]any](t, rec)
	assert.Equal(t, "jane@library.test", profile["email"])
	assert.NotContains(t, profile, "passwordHash")
}

func Test_ValidationAndNotFound(t *testing.T) {
	a := newAPI(t)
	admin, adminUser := a.login(adminEmail, adminPassword)

	rec := a.do(http.MethodGet, "/api/loans/not-a-uuid", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodGet, "/api/loans/6f1c1a57-6d8e-4a49-9a55-0c8f0f3c6b11", admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"message":"loan not found"}`, rec.Body.String())

	rec = a.do(http.MethodPost, "/api/loans", admin, map[string]string{
		"userId": adminUser.ID, "bookId": "6f1c1a57-6d8e-4a49-9a55-0c8f0f3c6b11", "dueDate": time.Now().Add(time.Hour).Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(http.MethodPost, "/api/loans", admin, map[string]string{"userId": adminUser.ID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPost, "/api/books", admin, map[string]any{"author": "Nobody"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"message":"title is required"}`, rec.Body.String())

	rec = a.do(http.MethodGet, "/api/fines/user/6f1c1a57-6d8e-4a49-9a55-0c8f0f3c6b11/pending-total", admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func Test_Catalog(t *testing.T) {
	a := newAPI(t)
	admin, _ := a.login(adminEmail, adminPassword)

	rec := a.do(http.MethodPost, "/api/writers", admin, map[string]any{"firstName": "Jane", "lastName": "Austen", "nationality": "British"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	writerID := decode[struct {
		ID string `json:"id"`
	}](t, rec).ID

	rec = a.do(http.MethodPost, "/api/books", admin, map[string]any{"title": "Emma", "author": "Jane Austen", "writerId": writerID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	bookID := decode[struct {
		ID string `json:"id"`
	}](t, rec).ID
	a.addBook(admin, "Dracula")

	rec = a.do(http.MethodGet, "/api/books?q=emm", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 1)

	rec = a.do(http.MethodPut, "/api/books/"+bookID, admin, map[string]any{"year": 1815})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[map[string]any](t, rec)
	assert.EqualValues(t, 1815, updated["year"])
	assert.Equal(t, "Emma", updated["title"])
	assert.Equal(t, writerID, updated["writerId"])

	rec = a.do(http.MethodPut, "/api/books/"+bookID, admin, map[string]any{"title": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodGet, "/api/writers", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	writers := decode[[]struct {
		Books []map[string]any `json:"books"`
	}](t, rec)
	require.Len(t, writers, 1)
	assert.Len(t, writers[0].Books, 1)

	rec = a.do(http.MethodDelete, "/api/books/"+bookID, admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"book deleted"}`, rec.Body.String())

	rec = a.do(http.MethodGet, "/api/books/"+bookID, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type downStore struct{}

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

func Test_Healthz(t *testing.T) {
	a := newAPI(t)
	rec := a.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	h := NewRouter(Deps{Store: downStore{}, Logger: logging.Discard()})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
