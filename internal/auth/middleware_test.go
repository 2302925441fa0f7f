package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jules-labs/librarydesk/internal/apperror"
	"github.com/jules-labs/librarydesk/internal/logging"
	"github.com/jules-labs/librarydesk/internal/membership"
)

type lookup map[uuid.UUID]*membership.User

func (l lookup) GetUser(_ context.Context, id uuid.UUID) (*membership.User, error) {
	u, ok := l[id]
	if !ok {
		return nil, apperror.NotFound("user")
	}
	return u, nil
}

func whoami(w http.ResponseWriter, r *http.Request) {
	u, ok := membership.UserFromContext(r.Context())
	if !ok {
		w.WriteHeader(http.StatusTeapot)
		return
	}
	_, _ = w.Write([]byte(u.Email))
}

func serve(h http.Handler, token string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func Test_Authenticate(t *testing.T) {
	issuer := NewIssuer("test-secret", time.Hour)
	member := testUser(false)
	m := NewMiddleware(issuer, lookup{member.ID: member}, logging.Discard())
	h := m.Authenticate(http.HandlerFunc(whoami))

	token, err := issuer.Issue(member)
	require.NoError(t, err)

	rec := serve(h, token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, member.Email, rec.Body.String())

	rec = serve(h, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"message":"authentication required"}`, rec.Body.String())

	rec = serve(h, "garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func Test_Authenticate_DeletedUser(t *testing.T) {
	issuer := NewIssuer("test-secret", time.Hour)
	ghost := testUser(false)
	h := NewMiddleware(issuer, lookup{}, logging.Discard()).Authenticate(http.HandlerFunc(whoami))

	token, err := issuer.Issue(ghost)
	require.NoError(t, err)

	rec := serve(h, token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func Test_RequireAdmin(t *testing.T) {
	issuer := NewIssuer("test-secret", time.Hour)
	admin, member := testUser(true), testUser(false)
	member.Email = "bob@library.test"
	m := NewMiddleware(issuer, lookup{admin.ID: admin, member.ID: member}, logging.Discard())
	h := m.Authenticate(m.RequireAdmin(http.HandlerFunc(whoami)))

	adminToken, err := issuer.Issue(admin)
	require.NoError(t, err)
	memberToken, err := issuer.Issue(member)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, serve(h, adminToken).Code)

	rec := serve(h, memberToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"message":"admin access required"}`, rec.Body.String())
}

func Test_RequireAdmin_FollowsStoredRole(t *testing.T) {
	issuer := NewIssuer("test-secret", time.Hour)
	demoted := testUser(true)
	m := NewMiddleware(issuer, lookup{demoted.ID: demoted}, logging.Discard())
	h := m.Authenticate(m.RequireAdmin(http.HandlerFunc(whoami)))

	token, err := issuer.Issue(demoted)
	require.NoError(t, err)
	demoted.IsAdmin = false

	assert.Equal(t, http.StatusForbidden, serve(h, token).Code)
}
